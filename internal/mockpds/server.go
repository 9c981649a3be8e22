// Package mockpds is an in-memory Personal Data Server covering the session
// endpoints and a couple of authenticated methods. It backs cmd/mockpds and
// the end-to-end tests of the client.
package mockpds

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lucid-softworks/akari/internal/logging"
)

// Account is a login the server accepts.
type Account struct {
	Handle   string
	DID      string
	Password string
	Email    string
}

type grant struct {
	did       string
	expiresAt time.Time
}

// Server is an http.Handler emulating a PDS.
type Server struct {
	mu        sync.Mutex
	accounts  map[string]Account // by handle and by DID
	access    map[string]grant
	refresh   map[string]grant
	records   map[string][]json.RawMessage
	accessTTL time.Duration
	now       func() time.Time
	logger    *logging.Logger
	mux       *http.ServeMux

	refreshCalls atomic.Int32
	requests     atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithAccessTTL sets how long access tokens stay valid.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) { s.accessTTL = ttl }
}

// WithLogger sets the request logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a server that knows the given accounts.
func New(accounts []Account, opts ...Option) *Server {
	s := &Server{
		accounts:  make(map[string]Account),
		access:    make(map[string]grant),
		refresh:   make(map[string]grant),
		records:   make(map[string][]json.RawMessage),
		accessTTL: 2 * time.Hour,
		now:       time.Now,
		logger:    logging.GetGlobalLogger().WithComponent("mockpds"),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, a := range accounts {
		s.accounts[a.Handle] = a
		s.accounts[a.DID] = a
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /xrpc/com.atproto.server.describeServer", s.describeServer)
	s.mux.HandleFunc("POST /xrpc/com.atproto.server.createSession", s.createSession)
	s.mux.HandleFunc("POST /xrpc/com.atproto.server.refreshSession", s.refreshSession)
	s.mux.HandleFunc("GET /xrpc/com.atproto.server.getSession", s.getSession)
	s.mux.HandleFunc("POST /xrpc/com.atproto.server.deleteSession", s.deleteSession)
	s.mux.HandleFunc("GET /xrpc/app.bsky.actor.getProfile", s.getProfile)
	s.mux.HandleFunc("POST /xrpc/com.atproto.repo.createRecord", s.createRecord)
	s.mux.HandleFunc("GET /xrpc/com.atproto.repo.listRecords", s.listRecords)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	s.requests.Add(1)
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Debug("Handled request",
		"method", r.Method, "path", r.URL.Path, "status", rec.status,
		"request_id", r.Header.Get("X-Request-Id"), "duration", time.Since(start))
}

// RefreshCalls returns how many refreshSession requests were served.
func (s *Server) RefreshCalls() int {
	return int(s.refreshCalls.Load())
}

// Requests returns the total number of requests served.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// ExpireAccessTokens makes every issued access token expired.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	past := s.now().Add(-time.Second)
	for tok, g := range s.access {
		g.expiresAt = past
		s.access[tok] = g
	}
}

// RevokeRefreshTokens invalidates every refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = make(map[string]grant)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ── Handlers ──────────────────────────────────────────────────────────

func (s *Server) describeServer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"did":                  "did:web:localhost",
		"availableUserDomains": []string{".test"},
		"inviteCodeRequired":   false,
	})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[in.Identifier]
	s.mu.Unlock()
	if !ok || acct.Password != in.Password {
		writeError(w, http.StatusUnauthorized, "AuthenticationRequired", "Invalid identifier or password")
		return
	}

	writeJSON(w, http.StatusOK, s.issue(acct))
}

func (s *Server) refreshSession(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	token := bearer(r)

	s.mu.Lock()
	g, ok := s.refresh[token]
	if ok {
		delete(s.refresh, token)
	}
	acct := s.accounts[g.did]
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusBadRequest, "ExpiredToken", "Token has been revoked")
		return
	}
	writeJSON(w, http.StatusOK, s.issue(acct))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.authorize(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"handle":         acct.Handle,
		"did":            acct.DID,
		"email":          acct.Email,
		"emailConfirmed": acct.Email != "",
		"active":         true,
	})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	token := bearer(r)

	s.mu.Lock()
	g, ok := s.refresh[token]
	if ok {
		delete(s.refresh, token)
		for tok, ag := range s.access {
			if ag.did == g.did {
				delete(s.access, tok)
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusBadRequest, "ExpiredToken", "Token has been revoked")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r); !ok {
		return
	}
	actor := r.URL.Query().Get("actor")

	s.mu.Lock()
	acct, ok := s.accounts[actor]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "Profile not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"did":         acct.DID,
		"handle":      acct.Handle,
		"displayName": strings.TrimSuffix(acct.Handle, ".test"),
	})
}

func (s *Server) createRecord(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.authorize(w, r)
	if !ok {
		return
	}
	var in struct {
		Repo       string          `json:"repo"`
		Collection string          `json:"collection"`
		Record     json.RawMessage `json:"record"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&in); err != nil || in.Collection == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "Input must have collection and record")
		return
	}
	if in.Repo != acct.DID && in.Repo != acct.Handle {
		writeError(w, http.StatusUnauthorized, "InvalidToken", "Cannot write to another repo")
		return
	}

	s.mu.Lock()
	key := acct.DID + "/" + in.Collection
	s.records[key] = append(s.records[key], in.Record)
	n := len(s.records[key])
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"uri": fmt.Sprintf("at://%s/%s/%d", acct.DID, in.Collection, n),
		"cid": "bafyrei" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20],
	})
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.authorize(w, r)
	if !ok {
		return
	}
	collection := r.URL.Query().Get("collection")

	s.mu.Lock()
	stored := append([]json.RawMessage(nil), s.records[acct.DID+"/"+collection]...)
	s.mu.Unlock()

	out := make([]map[string]any, 0, len(stored))
	for i, rec := range stored {
		out = append(out, map[string]any{
			"uri":   fmt.Sprintf("at://%s/%s/%d", acct.DID, collection, i+1),
			"value": rec,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": out})
}

// ── Helpers ───────────────────────────────────────────────────────────

// authorize checks the bearer access token and writes the error response
// itself when it is not acceptable.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (Account, bool) {
	token := bearer(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "AuthMissing", "Authentication Required")
		return Account{}, false
	}

	s.mu.Lock()
	g, ok := s.access[token]
	acct := s.accounts[g.did]
	s.mu.Unlock()

	switch {
	case !ok:
		writeError(w, http.StatusBadRequest, "InvalidToken", "Token could not be verified")
		return Account{}, false
	case !s.now().Before(g.expiresAt):
		writeError(w, http.StatusBadRequest, "ExpiredToken", "Token has expired")
		return Account{}, false
	}
	return acct, true
}

func (s *Server) issue(acct Account) map[string]any {
	now := s.now()
	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(90 * 24 * time.Hour)
	access := makeToken(acct.DID, "com.atproto.access", now, accessExp)
	refresh := makeToken(acct.DID, "com.atproto.refresh", now, refreshExp)

	s.mu.Lock()
	s.access[access] = grant{did: acct.DID, expiresAt: accessExp}
	s.refresh[refresh] = grant{did: acct.DID, expiresAt: refreshExp}
	s.mu.Unlock()

	out := map[string]any{
		"accessJwt":  access,
		"refreshJwt": refresh,
		"handle":     acct.Handle,
		"did":        acct.DID,
		"active":     true,
	}
	if acct.Email != "" {
		out["email"] = acct.Email
		out["emailConfirmed"] = true
	}
	return out
}

// makeToken builds an unsigned JWT-shaped token carrying standard claims.
func makeToken(sub, scope string, iat, exp time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	claims, _ := json.Marshal(map[string]any{
		"scope": scope,
		"sub":   sub,
		"aud":   "did:web:localhost",
		"jti":   uuid.NewString(),
		"iat":   iat.Unix(),
		"exp":   exp.Unix(),
	})
	return header + "." + base64.RawURLEncoding.EncodeToString(claims) + "."
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
