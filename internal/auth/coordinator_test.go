package auth_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-softworks/akari/internal/auth"
	apperrors "github.com/lucid-softworks/akari/internal/errors"
	"github.com/lucid-softworks/akari/internal/interfaces"
	"github.com/lucid-softworks/akari/internal/logging"
	"github.com/lucid-softworks/akari/internal/metrics"
	"github.com/lucid-softworks/akari/internal/session"
)

// gatedRefresher blocks every call until release is closed.
type gatedRefresher struct {
	release chan struct{}
	calls   atomic.Int32
	tokens  chan string
	result  interfaces.Session
	err     error
}

func newGatedRefresher(result interfaces.Session, err error) *gatedRefresher {
	return &gatedRefresher{
		release: make(chan struct{}),
		tokens:  make(chan string, 64),
		result:  result,
		err:     err,
	}
}

func (g *gatedRefresher) RefreshSession(_ context.Context, refreshToken string) (interfaces.Session, error) {
	g.calls.Add(1)
	g.tokens <- refreshToken
	<-g.release
	return g.result, g.err
}

func renewed() interfaces.Session {
	return interfaces.Session{
		Handle:       "alice.test",
		DID:          "did:plc:alice",
		AccessToken:  "new",
		RefreshToken: "r2",
		Active:       true,
	}
}

func TestCoordinator_SingleFlight(t *testing.T) {
	t.Parallel()

	state := session.NewState(logging.Discard())
	collector := metrics.New()
	refresher := newGatedRefresher(renewed(), nil)
	coord := auth.NewCoordinator(refresher, state, logging.Discard(), collector)

	var notified atomic.Int32
	state.OnSessionChange(func(interfaces.Session) { notified.Add(1) })

	const callers = 20
	results := make([]interfaces.Session, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = coord.Refresh(context.Background(), "r1")
		}(i)
	}

	require.Eventually(t, func() bool {
		return collector.RefreshesStarted() == 1 && collector.RefreshesJoined() == callers-1
	}, 2*time.Second, time.Millisecond)
	assert.True(t, coord.InFlight())

	close(refresher.release)
	wg.Wait()

	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, "r1", <-refresher.tokens)
	assert.Equal(t, int32(1), notified.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "new", results[i].AccessToken)
	}

	current, ok := state.Session()
	require.True(t, ok)
	assert.Equal(t, "r2", current.RefreshToken)
	assert.False(t, coord.InFlight())
}

func TestCoordinator_FailurePropagatesToAllWaiters(t *testing.T) {
	t.Parallel()

	state := session.NewState(logging.Discard())
	state.UseSession(interfaces.Session{AccessToken: "expired", RefreshToken: "r1"})
	collector := metrics.New()
	cause := &apperrors.RequestError{Status: 400, Code: apperrors.CodeExpiredToken, Message: "Token has expired"}
	refresher := newGatedRefresher(interfaces.Session{}, cause)
	coord := auth.NewCoordinator(refresher, state, logging.Discard(), collector)

	var notified atomic.Int32
	state.OnSessionChange(func(interfaces.Session) { notified.Add(1) })

	const callers = 5
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coord.Refresh(context.Background(), "r1")
		}(i)
	}

	require.Eventually(t, func() bool {
		return collector.RefreshesJoined() == callers-1
	}, 2*time.Second, time.Millisecond)
	close(refresher.release)
	wg.Wait()

	for _, err := range errs {
		var refreshErr *apperrors.RefreshError
		require.ErrorAs(t, err, &refreshErr)
		assert.Same(t, errs[0], err)
		assert.ErrorIs(t, err, cause)
		assert.True(t, refreshErr.RequiresLogin())
	}
	assert.Zero(t, notified.Load())
	assert.False(t, coord.InFlight())
	assert.Equal(t, int64(1), collector.RefreshFailures())

	current, _ := state.Session()
	assert.Equal(t, "expired", current.AccessToken)
}

func TestCoordinator_NextCallStartsFreshIncident(t *testing.T) {
	t.Parallel()

	state := session.NewState(logging.Discard())
	var calls atomic.Int32
	refresher := interfaces.RefresherFunc(func(_ context.Context, token string) (interfaces.Session, error) {
		if calls.Add(1) == 1 {
			return interfaces.Session{}, errors.New("connection reset")
		}
		return renewed(), nil
	})
	coord := auth.NewCoordinator(refresher, state, logging.Discard(), nil)

	_, err := coord.Refresh(context.Background(), "r1")
	require.Error(t, err)

	got, err := coord.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCoordinator_CancelledWaiterDoesNotAbortRefresh(t *testing.T) {
	t.Parallel()

	state := session.NewState(logging.Discard())
	refresher := newGatedRefresher(renewed(), nil)
	coord := auth.NewCoordinator(refresher, state, logging.Discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := coord.Refresh(ctx, "r1")
		done <- err
	}()

	require.Eventually(t, coord.InFlight, 2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(refresher.release)
	require.Eventually(t, func() bool { return !coord.InFlight() }, 2*time.Second, time.Millisecond)

	current, ok := state.Session()
	require.True(t, ok)
	assert.Equal(t, "new", current.AccessToken)
}

func TestCoordinator_RefresherPanicFailsIncident(t *testing.T) {
	t.Parallel()

	state := session.NewState(logging.Discard())
	refresher := interfaces.RefresherFunc(func(context.Context, string) (interfaces.Session, error) {
		panic("boom")
	})
	coord := auth.NewCoordinator(refresher, state, logging.Discard(), nil)

	_, err := coord.Refresh(context.Background(), "r1")
	var refreshErr *apperrors.RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, refreshErr.RequiresLogin())
	assert.False(t, coord.InFlight())
}

func TestCoordinator_ClearedStateDropsRefreshResult(t *testing.T) {
	t.Parallel()

	state := session.NewState(logging.Discard())
	state.UseSession(interfaces.Session{AccessToken: "expired", RefreshToken: "r1"})
	collector := metrics.New()
	refresher := newGatedRefresher(renewed(), nil)
	coord := auth.NewCoordinator(refresher, state, logging.Discard(), collector)

	var notified atomic.Int32
	state.OnSessionChange(func(interfaces.Session) { notified.Add(1) })

	done := make(chan error, 1)
	go func() {
		_, err := coord.Refresh(context.Background(), "r1")
		done <- err
	}()

	require.Eventually(t, coord.InFlight, 2*time.Second, time.Millisecond)
	state.Clear()
	close(refresher.release)

	err := <-done
	var refreshErr *apperrors.RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.ErrorIs(t, err, apperrors.ErrNoSession)
	assert.False(t, refreshErr.RequiresLogin())

	_, ok := state.Session()
	assert.False(t, ok)
	assert.Zero(t, notified.Load())
	assert.Equal(t, int64(1), collector.RefreshFailures())
	assert.False(t, coord.InFlight())

	// The next incident runs against the new generation and installs normally.
	refresher2 := interfaces.RefresherFunc(func(context.Context, string) (interfaces.Session, error) {
		return renewed(), nil
	})
	coord = auth.NewCoordinator(refresher2, state, logging.Discard(), nil)
	_, err = coord.Refresh(context.Background(), "r9")
	require.NoError(t, err)
	current, ok := state.Session()
	require.True(t, ok)
	assert.Equal(t, "new", current.AccessToken)
}

func TestCoordinator_LogsCredentialFingerprint(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := logging.NewLogger(logging.Config{Level: logging.DebugLevel, Format: "text", Writer: &buf})
	require.NoError(t, err)

	state := session.NewState(logging.Discard())
	refresher := interfaces.RefresherFunc(func(context.Context, string) (interfaces.Session, error) {
		return renewed(), nil
	})
	coord := auth.NewCoordinator(refresher, state, logger, nil)

	const credential = "refresh-credential-value"
	_, err = coord.Refresh(context.Background(), credential)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(credential))
	out := buf.String()
	assert.Contains(t, out, "refresh_fp="+hex.EncodeToString(sum[:6]))
	assert.NotContains(t, out, credential)
}
