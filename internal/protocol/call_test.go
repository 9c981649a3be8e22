package protocol_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-softworks/akari/internal/interfaces"
	"github.com/lucid-softworks/akari/internal/protocol"
)

type profileView struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

type createRecordInput struct {
	Repo       string         `json:"repo"`
	Collection string         `json:"collection"`
	Record     map[string]any `json:"record"`
}

type createRecordOutput struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

func newXRPCServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/app.bsky.actor.getProfile", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		writeJSON(w, http.StatusOK, profileView{DID: "did:plc:alice", Handle: r.URL.Query().Get("actor")})
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer good", r.Header.Get("Authorization"))
		var in createRecordInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, createRecordOutput{URI: "at://" + in.Repo + "/" + in.Collection + "/3k", CID: "bafy"})
	})
	mux.HandleFunc("/xrpc/com.atproto.server.deleteSession", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestQuery_Public(t *testing.T) {
	t.Parallel()

	server := newXRPCServer(t)
	h := newHarness(t, server.URL, staticRefresh)

	out, err := protocol.Query[profileView](context.Background(), h.executor.Public(), "app.bsky.actor.getProfile",
		protocol.Params{"actor": "alice.test"})
	require.NoError(t, err)
	assert.Equal(t, profileView{DID: "did:plc:alice", Handle: "alice.test"}, out)
}

func TestProcedure_Authenticated(t *testing.T) {
	t.Parallel()

	server := newXRPCServer(t)
	h := newHarness(t, server.URL, staticRefresh)
	h.state.UseSession(interfaces.Session{DID: "did:plc:alice", AccessToken: "good", RefreshToken: "r1"})

	out, err := protocol.Procedure[createRecordInput, createRecordOutput](context.Background(), h.executor.Authenticated(),
		"com.atproto.repo.createRecord", createRecordInput{
			Repo:       "did:plc:alice",
			Collection: "app.bsky.feed.post",
			Record:     map[string]any{"text": "hi"},
		})
	require.NoError(t, err)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3k", out.URI)
}

func TestProcedure_EmptyOutputDecodesToZeroValue(t *testing.T) {
	t.Parallel()

	server := newXRPCServer(t)
	h := newHarness(t, server.URL, staticRefresh)

	out, err := protocol.Procedure[*struct{}, map[string]any](context.Background(), h.executor.Public(),
		"com.atproto.server.deleteSession", nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestQuery_RejectsInvalidMethodID(t *testing.T) {
	t.Parallel()

	called := false
	caller := protocol.CallerFunc(func(context.Context, string, string, protocol.RequestOptions) (*protocol.Response, error) {
		called = true
		return nil, nil
	})

	_, err := protocol.Query[map[string]any](context.Background(), caller, "not-an-nsid", nil)
	require.Error(t, err)
	assert.False(t, called)
}
