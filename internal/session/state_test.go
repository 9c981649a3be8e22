package session_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lucid-softworks/akari/internal/errors"
	"github.com/lucid-softworks/akari/internal/interfaces"
	"github.com/lucid-softworks/akari/internal/logging"
	"github.com/lucid-softworks/akari/internal/session"
)

func testSession(access, refresh string) interfaces.Session {
	return interfaces.Session{
		Handle:       "alice.test",
		DID:          "did:plc:alice",
		AccessToken:  access,
		RefreshToken: refresh,
		Active:       true,
	}
}

func TestState_RequireSession(t *testing.T) {
	t.Parallel()

	state := session.NewState(logging.Discard())

	_, err := state.RequireSession()
	require.ErrorIs(t, err, apperrors.ErrNoSession)

	_, ok := state.Session()
	assert.False(t, ok)

	state.UseSession(testSession("a1", "r1"))
	got, err := state.RequireSession()
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AccessToken)

	state.Clear()
	_, err = state.RequireSession()
	assert.ErrorIs(t, err, apperrors.ErrNoSession)
}

func TestState_ValueSemantics(t *testing.T) {
	t.Parallel()

	state := session.NewState(logging.Discard())
	original := testSession("a1", "r1")
	state.UseSession(original)

	original.AccessToken = "mutated"
	got, _ := state.Session()
	assert.Equal(t, "a1", got.AccessToken)

	got.AccessToken = "mutated-again"
	again, _ := state.Session()
	assert.Equal(t, "a1", again.AccessToken)
}

func TestState_ListenersFireOnReplaceOnly(t *testing.T) {
	t.Parallel()

	state := session.NewState(logging.Discard())

	var seen []string
	state.OnSessionChange(func(s interfaces.Session) { seen = append(seen, "first:"+s.AccessToken) })
	state.OnSessionChange(func(s interfaces.Session) { seen = append(seen, "second:"+s.AccessToken) })

	state.UseSession(testSession("direct", "r0"))
	assert.Empty(t, seen)

	state.Replace(testSession("refreshed", "r1"))
	assert.Equal(t, []string{"first:refreshed", "second:refreshed"}, seen)
}

func TestState_Unsubscribe(t *testing.T) {
	t.Parallel()

	state := session.NewState(logging.Discard())

	calls := 0
	unsubscribe := state.OnSessionChange(func(interfaces.Session) { calls++ })

	state.Replace(testSession("a1", "r1"))
	unsubscribe()
	unsubscribe()
	state.Replace(testSession("a2", "r2"))

	assert.Equal(t, 1, calls)
}

func TestState_PanickingListenerDoesNotBreakReplace(t *testing.T) {
	t.Parallel()

	state := session.NewState(logging.Discard())

	var got string
	state.OnSessionChange(func(interfaces.Session) { panic("disk full") })
	state.OnSessionChange(func(s interfaces.Session) { got = s.AccessToken })

	require.NotPanics(t, func() { state.Replace(testSession("a2", "r2")) })
	assert.Equal(t, "a2", got)

	current, ok := state.Session()
	require.True(t, ok)
	assert.Equal(t, "a2", current.AccessToken)
}

func TestState_ReplaceIfDropsResultAfterClear(t *testing.T) {
	t.Parallel()

	state := session.NewState(logging.Discard())
	state.UseSession(testSession("a1", "r1"))

	var notified int
	state.OnSessionChange(func(interfaces.Session) { notified++ })

	gen := state.Generation()
	assert.True(t, state.ReplaceIf(gen, testSession("a2", "r2")))
	assert.Equal(t, 1, notified)

	state.Clear()
	assert.NotEqual(t, gen, state.Generation())
	assert.False(t, state.ReplaceIf(gen, testSession("a3", "r3")))
	assert.Equal(t, 1, notified)

	_, ok := state.Session()
	assert.False(t, ok)
}

func TestState_CompareAndReplace(t *testing.T) {
	t.Parallel()

	state := session.NewState(logging.Discard())

	var seen []string
	state.OnSessionChange(func(s interfaces.Session) { seen = append(seen, s.AccessToken) })

	assert.False(t, state.CompareAndReplace("a1", testSession("a1", "r1")), "no session yet")

	state.UseSession(testSession("a1", "r1"))
	state.Replace(testSession("a2", "r2"))

	// A stale writer still holding a1 must not undo the renewal.
	assert.False(t, state.CompareAndReplace("a1", testSession("a1", "r1")))
	assert.True(t, state.CompareAndReplace("a2", testSession("a2", "r2")))
	assert.Equal(t, []string{"a2", "a2"}, seen)

	current, _ := state.Session()
	assert.Equal(t, "r2", current.RefreshToken)
}

func TestState_BaseURL(t *testing.T) {
	t.Parallel()

	state := session.NewState(logging.Discard())

	_, ok := state.BaseURL()
	assert.False(t, ok)

	require.NoError(t, state.SetBaseURL("https://pds.example.com/"))
	got, ok := state.BaseURL()
	require.True(t, ok)
	assert.Equal(t, "https://pds.example.com", got)

	state.ClearBaseURL()
	_, ok = state.BaseURL()
	assert.False(t, ok)
}

func TestNormalizeBaseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"plain", "https://bsky.social", "https://bsky.social", false},
		{"trailing slash", "https://bsky.social///", "https://bsky.social", false},
		{"path prefix", "http://localhost:2583/pds/", "http://localhost:2583/pds", false},
		{"query dropped", "https://pds.test/?x=1#frag", "https://pds.test", false},
		{"whitespace", "  https://pds.test  ", "https://pds.test", false},
		{"empty", "", "", true},
		{"no scheme", "bsky.social", "", true},
		{"ftp", "ftp://pds.test", "", true},
		{"no host", "https://", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := session.NormalizeBaseURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrNoBaseURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestState_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	state := session.NewState(logging.Discard())
	state.UseSession(testSession("a0", "r0"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			state.Replace(testSession("a1", "r1"))
		}()
		go func() {
			defer wg.Done()
			s, err := state.RequireSession()
			assert.NoError(t, err)
			assert.Contains(t, []string{"a0", "a1"}, s.AccessToken)
		}()
	}
	wg.Wait()
}
