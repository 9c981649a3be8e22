package protocol

import (
	"context"
	"net/http"

	apperrors "github.com/lucid-softworks/akari/internal/errors"
	"github.com/lucid-softworks/akari/internal/interfaces"
	"github.com/lucid-softworks/akari/internal/logging"
	"github.com/lucid-softworks/akari/internal/metrics"
)

// SessionSource is the read side of the session state.
type SessionSource interface {
	Session() (interfaces.Session, bool)
	RequireSession() (interfaces.Session, error)
}

// SessionRefresher renews the session, sharing one refresh among concurrent
// callers.
type SessionRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (interfaces.Session, error)
}

// Executor runs authenticated calls. A call rejected for its credential is
// retried exactly once, either with a session some other caller already
// renewed or with one obtained from the refresher.
type Executor struct {
	transport *Transport
	sessions  SessionSource
	refresher SessionRefresher
	logger    *logging.Logger
	metrics   *metrics.Collector
}

// NewExecutor wires an executor over transport.
func NewExecutor(transport *Transport, sessions SessionSource, refresher SessionRefresher, logger *logging.Logger, collector *metrics.Collector) *Executor {
	if logger == nil {
		logger = logging.GetProtocolLogger()
	}
	return &Executor{
		transport: transport,
		sessions:  sessions,
		refresher: refresher,
		logger:    logger,
		metrics:   collector,
	}
}

// Execute performs an unauthenticated call through the same transport.
func (e *Executor) Execute(ctx context.Context, method, path string, opts RequestOptions) (*Response, error) {
	return e.transport.Execute(ctx, method, path, opts)
}

// ExecuteAuthenticated performs a call with the current access token. On an
// authentication failure it reuses a session that changed in the meantime or
// refreshes, then retries once; the retry's outcome is final.
func (e *Executor) ExecuteAuthenticated(ctx context.Context, method, path string, opts RequestOptions) (*Response, error) {
	session, err := e.sessions.RequireSession()
	if err != nil {
		return nil, err
	}

	// The body may be sent twice, so render it once up front.
	body, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}
	opts.Body = body

	resp, err := e.attempt(ctx, method, path, opts, session.AccessToken)
	if err == nil || !apperrors.IsAuthenticationFailure(err) {
		return resp, err
	}

	e.metrics.AuthFailure()
	e.logger.Debug("Authentication failed, renewing session", "method", method, "path", path, "error", err.Error())

	accessToken, err := e.renewedAccessToken(ctx, session)
	if err != nil {
		return nil, err
	}

	e.metrics.Retry()
	return e.attempt(ctx, method, path, opts, accessToken)
}

// renewedAccessToken returns the token for the retry. A session that no
// longer carries the rejected token was renewed elsewhere and is used as is.
func (e *Executor) renewedAccessToken(ctx context.Context, used interfaces.Session) (string, error) {
	current, ok := e.sessions.Session()
	if ok && current.AccessToken != used.AccessToken {
		e.metrics.SessionReused()
		e.logger.Debug("Reusing session renewed by another call", "did", current.DID)
		return current.AccessToken, nil
	}

	refreshToken := used.RefreshToken
	if ok {
		refreshToken = current.RefreshToken
	}

	renewed, err := e.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	return renewed.AccessToken, nil
}

func (e *Executor) attempt(ctx context.Context, method, path string, opts RequestOptions, accessToken string) (*Response, error) {
	return e.transport.Execute(ctx, method, path, opts.withHeader(HeaderAuthorization, "Bearer "+accessToken))
}

// Get is shorthand for an authenticated GET with query parameters.
func (e *Executor) Get(ctx context.Context, path string, query Params) (*Response, error) {
	return e.ExecuteAuthenticated(ctx, http.MethodGet, path, RequestOptions{Query: query})
}
