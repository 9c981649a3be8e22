package app

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-softworks/akari/internal/config"
	apperrors "github.com/lucid-softworks/akari/internal/errors"
	"github.com/lucid-softworks/akari/internal/interfaces"
	"github.com/lucid-softworks/akari/internal/logging"
	"github.com/lucid-softworks/akari/internal/mockpds"
)

// These tests share the global logger through App.initialize and therefore
// do not run in parallel.

type harness struct {
	t       *testing.T
	pds     *mockpds.Server
	url     string
	dir     string
	environ map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pds := mockpds.New([]mockpds.Account{
		{Handle: "alice.test", DID: "did:plc:alice", Password: "hunter2", Email: "alice@example.com"},
		{Handle: "bob.test", DID: "did:plc:bob", Password: "swordfish"},
	}, mockpds.WithLogger(logging.Discard()))
	server := httptest.NewServer(pds)
	t.Cleanup(server.Close)

	return &harness{
		t:       t,
		pds:     pds,
		url:     server.URL,
		dir:     t.TempDir(),
		environ: map[string]string{"AKARI_LOG_LEVEL": "error"},
	}
}

func (h *harness) run(stdin string, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	a := New(strings.NewReader(stdin), &stdout, &stderr)
	a.environ = h.environ
	a.configDir = h.dir
	err := a.Run(context.Background(), args)
	return stdout.String(), stderr.String(), err
}

func (h *harness) mustRun(stdin string, args ...string) string {
	h.t.Helper()
	out, stderr, err := h.run(stdin, args...)
	require.NoError(h.t, err, "stderr: %s", stderr)
	return out
}

func (h *harness) login() {
	h.t.Helper()
	h.mustRun("hunter2\n", "--service", h.url, "login", "--handle", "alice.test", "--password-stdin")
}

func (h *harness) storedProfile() *interfaces.Profile {
	h.t.Helper()
	sec, err := config.NewSecurityManager(filepath.Join(h.dir, "master.key"))
	require.NoError(h.t, err)
	m, err := config.NewManagerAt(filepath.Join(h.dir, "profiles.yaml"), sec)
	require.NoError(h.t, err)
	p, err := m.LoadProfile(config.DefaultProfile)
	require.NoError(h.t, err)
	return p
}

func TestApp_SessionLifecycle(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("hunter2\n", "--service", h.url, "login", "--handle", "alice.test", "--password-stdin")
	assert.Contains(t, out, "Signed in as alice.test (did:plc:alice)")

	p := h.storedProfile()
	assert.Equal(t, h.url, p.Service)
	assert.Equal(t, "alice.test", p.Handle)
	require.NotNil(t, p.Session)
	assert.True(t, p.Session.HasTokens())

	out = h.mustRun("", "call", "app.bsky.actor.getProfile", "actor=alice.test")
	assert.Contains(t, out, `"handle": "alice.test"`)

	out = h.mustRun("", "whoami")
	assert.Contains(t, out, "did:plc:alice")
	assert.Contains(t, out, "alice@example.com")
	assert.Contains(t, out, "expires in")

	out = h.mustRun("", "profiles")
	assert.Contains(t, out, "*default")
	assert.Contains(t, out, h.url)
	assert.Contains(t, out, "signed in")

	out = h.mustRun("", "logout")
	assert.Contains(t, out, "Signed out of default")
	assert.Nil(t, h.storedProfile().Session)

	_, _, err := h.run("", "call", "app.bsky.actor.getProfile", "actor=alice.test")
	assert.ErrorIs(t, err, apperrors.ErrNoSession)

	out = h.mustRun("", "logout")
	assert.Contains(t, out, "Not signed in")
}

func TestApp_CallRefreshesAndPersistsSession(t *testing.T) {
	h := newHarness(t)
	h.login()
	before := *h.storedProfile().Session

	h.pds.ExpireAccessTokens()
	out := h.mustRun("", "call", "app.bsky.actor.getProfile", "actor=alice.test")
	assert.Contains(t, out, "did:plc:alice")
	assert.Equal(t, 1, h.pds.RefreshCalls())

	after := *h.storedProfile().Session
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.NotEqual(t, before.RefreshToken, after.RefreshToken)

	// The rotated pair is usable by the next invocation without a refresh.
	h.mustRun("", "call", "app.bsky.actor.getProfile", "actor=alice.test")
	assert.Equal(t, 1, h.pds.RefreshCalls())
}

func TestApp_RevokedSessionRequiresLogin(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.pds.ExpireAccessTokens()
	h.pds.RevokeRefreshTokens()

	_, _, err := h.run("", "call", "app.bsky.actor.getProfile", "actor=alice.test")
	var refreshErr *apperrors.RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.True(t, refreshErr.RequiresLogin())
	assert.Contains(t, apperrors.Describe(err).Hint, "pdsctl login")
}

func TestApp_BatchSharesOneRefresh(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.pds.ExpireAccessTokens()

	var input strings.Builder
	input.WriteString("# profiles\n\n")
	for i := 0; i < 6; i++ {
		input.WriteString("app.bsky.actor.getProfile actor=alice.test\n")
	}
	input.WriteString("app.bsky.actor.getProfile actor=bob.test\n")

	out := h.mustRun(input.String(), "batch", "--concurrency", "7", "-")
	assert.Equal(t, 1, h.pds.RefreshCalls())
	assert.Equal(t, 7, strings.Count(out, "# "))
	assert.Contains(t, out, "# 3 app.bsky.actor.getProfile")
	assert.Contains(t, out, "did:plc:bob")
}

func TestApp_BatchReportsFailures(t *testing.T) {
	h := newHarness(t)
	h.login()

	batchFile := filepath.Join(t.TempDir(), "calls.txt")
	require.NoError(t, os.WriteFile(batchFile, []byte(
		"app.bsky.actor.getProfile actor=alice.test\napp.bsky.actor.getProfile actor=nobody.test\n"), 0600))

	out, _, err := h.run("", "batch", batchFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 calls failed")
	assert.Contains(t, out, "Profile not found")
	assert.Contains(t, out, "did:plc:alice")
}

func TestApp_CallProcedure(t *testing.T) {
	h := newHarness(t)
	h.login()

	out := h.mustRun("", "call", "com.atproto.repo.createRecord",
		"--data", `{"repo":"did:plc:alice","collection":"app.bsky.feed.post","record":{"text":"hello"}}`)
	assert.Contains(t, out, "at://did:plc:alice/app.bsky.feed.post/1")

	record := filepath.Join(t.TempDir(), "post.json")
	require.NoError(t, os.WriteFile(record, []byte(`{"repo":"alice.test","collection":"app.bsky.feed.post","record":{"text":"again"}}`), 0600))
	h.mustRun("", "call", "com.atproto.repo.createRecord", "--data", "@"+record)

	out = h.mustRun("", "call", "--raw", "com.atproto.repo.listRecords", "collection=app.bsky.feed.post")
	assert.Contains(t, out, `"text":"hello"`)
	assert.Contains(t, out, `"text":"again"`)

	_, _, err := h.run("", "call", "com.atproto.repo.createRecord", "--data", "{not json")
	assert.Error(t, err)
}

func TestApp_CallPublic(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("", "--service", h.url, "call", "--public", "com.atproto.server.describeServer")
	assert.Contains(t, out, "availableUserDomains")

	_, _, err := h.run("", "--service", h.url, "call", "--public", "com.atproto.server.getSession")
	var reqErr *apperrors.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
}

func TestApp_Status(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("", "--service", h.url, "status")
	assert.Contains(t, out, "did:web:localhost")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "overall")
	assert.NotContains(t, out, "alice.test")

	h.login()
	h.pds.ExpireAccessTokens()
	out = h.mustRun("", "status")
	assert.Contains(t, out, "alice.test")
	assert.NotContains(t, out, "degraded")
	assert.Equal(t, 1, h.pds.RefreshCalls())

	h.pds.ExpireAccessTokens()
	h.pds.RevokeRefreshTokens()
	out = h.mustRun("", "status")
	assert.Contains(t, out, "degraded")
	assert.Contains(t, out, "login_required")

	out = h.mustRun("", "status", "--no-session")
	assert.NotContains(t, out, "degraded")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closed := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	out, _, err = h.run("", "--service", closed, "status", "--dial-timeout", "1s")
	assert.ErrorContains(t, err, "is offline")
	assert.Contains(t, out, "connection_refused")
}

func TestApp_LoginVariants(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run("wrong\n", "--service", h.url, "login", "alice.test", "--password-stdin")
	var reqErr *apperrors.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.Status)

	_, _, err = h.run("", "--service", h.url, "login", "alice.test")
	assert.ErrorIs(t, err, errNoPassword)

	_, _, err = h.run("hunter2\n", "--service", h.url, "login", "--password-stdin")
	assert.Error(t, err, "no handle anywhere")

	h.environ = map[string]string{
		"AKARI_LOG_LEVEL": "error",
		"AKARI_HANDLE":    "bob.test",
		"AKARI_PASSWORD":  "swordfish",
		"AKARI_PROFILE":   "bob",
	}
	out := h.mustRun("", "--service", h.url, "login")
	assert.Contains(t, out, "Signed in as bob.test")

	out = h.mustRun("", "profiles")
	assert.Contains(t, out, "*bob")
	assert.Contains(t, out, "default")
}

func TestApp_Usage(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("", "--version")
	assert.Equal(t, fmt.Sprintf("%s %s\n", ProgramName, Version), out)

	_, stderr, err := h.run("")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Commands:")
	assert.Contains(t, stderr, "batch")

	_, _, err = h.run("", "frobnicate")
	assert.ErrorContains(t, err, `unknown command "frobnicate"`)

	_, _, err = h.run("", "call")
	assert.ErrorContains(t, err, "missing method NSID")

	_, _, err = h.run("", "call", "not-an-nsid")
	assert.ErrorContains(t, err, "invalid method NSID")

	_, _, err = h.run("", "--timeout", "0s", "profiles")
	assert.Error(t, err)

	_, _, err = h.run("", "whoami")
	assert.ErrorIs(t, err, apperrors.ErrNoSession)

	_, _, err = h.run("", "--bogus")
	assert.Error(t, err)

	_, stderr, err = h.run("", "call", "--help")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Usage: pdsctl call")
}
