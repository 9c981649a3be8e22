// Package client wires the session state, transport, refresh coordinator and
// authenticated executor for one PDS account.
package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lucid-softworks/akari/internal/account"
	"github.com/lucid-softworks/akari/internal/auth"
	"github.com/lucid-softworks/akari/internal/interfaces"
	"github.com/lucid-softworks/akari/internal/logging"
	"github.com/lucid-softworks/akari/internal/metrics"
	"github.com/lucid-softworks/akari/internal/protocol"
	"github.com/lucid-softworks/akari/internal/session"
)

// Client is the per-account entry point. All methods are safe for
// concurrent use.
type Client struct {
	state       *session.State
	transport   *protocol.Transport
	executor    *protocol.Executor
	coordinator *auth.Coordinator
	accounts    *account.Service
	logger      *logging.Logger
	metrics     *metrics.Collector
}

type options struct {
	serviceURL string
	httpClient *http.Client
	logger     *logging.Logger
	metrics    *metrics.Collector
	userAgent  string
	refresher  interfaces.Refresher
}

// Option configures a Client.
type Option func(*options)

// WithServiceURL sets the PDS base URL.
func WithServiceURL(raw string) Option {
	return func(o *options) { o.serviceURL = raw }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger all components derive from.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithRefresher replaces the refresh operation. The default calls
// com.atproto.server.refreshSession on the same service.
func WithRefresher(r interfaces.Refresher) Option {
	return func(o *options) { o.refresher = r }
}

// New builds a Client. A service URL is optional at construction time but
// required before any request.
func New(opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.GetGlobalLogger()
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	state := session.NewState(o.logger.WithComponent("session"))
	if o.serviceURL != "" {
		if err := state.SetBaseURL(o.serviceURL); err != nil {
			return nil, err
		}
	}

	transport := protocol.NewTransport(state,
		protocol.WithHTTPClient(o.httpClient),
		protocol.WithUserAgent(o.userAgent),
		protocol.WithLogger(o.logger.WithComponent("protocol")),
		protocol.WithMetrics(o.metrics))

	accounts := account.NewService(transport, o.logger.WithComponent("account"))

	refresher := o.refresher
	if refresher == nil {
		refresher = accounts
	}
	coordinator := auth.NewCoordinator(refresher, state, o.logger.WithComponent("auth"), o.metrics)
	executor := protocol.NewExecutor(transport, state, coordinator, o.logger.WithComponent("executor"), o.metrics)

	return &Client{
		state:       state,
		transport:   transport,
		executor:    executor,
		coordinator: coordinator,
		accounts:    accounts,
		logger:      o.logger.WithComponent("client"),
		metrics:     o.metrics,
	}, nil
}

// Login creates a session with identifier and password and installs it.
// Listeners are notified.
func (c *Client) Login(ctx context.Context, identifier, password, authFactorToken string) (interfaces.Session, error) {
	s, err := c.accounts.CreateSession(ctx, account.CreateSessionInput{
		Identifier:      identifier,
		Password:        password,
		AuthFactorToken: authFactorToken,
	})
	if err != nil {
		return interfaces.Session{}, err
	}
	c.state.Replace(s)
	return s, nil
}

// ResumeSession installs a persisted session and verifies it with
// getSession, refreshing it if it has expired. Listeners are notified with
// the resulting session.
func (c *Client) ResumeSession(ctx context.Context, s interfaces.Session) (account.SessionInfo, error) {
	if !s.HasTokens() {
		return account.SessionInfo{}, fmt.Errorf("session for %s has no tokens", s.Handle)
	}
	c.state.UseSession(s)

	info, err := c.accounts.GetSession(ctx, c.executor.Authenticated())
	if err != nil {
		return account.SessionInfo{}, err
	}

	// A refresh during getSession has already installed and announced a
	// newer pair; only the unrefreshed session is completed here.
	resumed := s
	resumed.Handle = info.Handle
	resumed.DID = info.DID
	resumed.Email = info.Email
	resumed.EmailConfirmed = info.EmailConfirmed
	resumed.Active = info.IsActive()
	resumed.Status = info.Status
	c.state.CompareAndReplace(s.AccessToken, resumed)
	return info, nil
}

// UseSession installs s without notifying listeners.
func (c *Client) UseSession(s interfaces.Session) {
	c.state.UseSession(s)
}

// Session returns the current session, if any.
func (c *Client) Session() (interfaces.Session, bool) {
	return c.state.Session()
}

// OnSessionChange registers a listener for session replacements.
func (c *Client) OnSessionChange(l interfaces.SessionListener) func() {
	return c.state.OnSessionChange(l)
}

// SetServiceURL changes the PDS base URL.
func (c *Client) SetServiceURL(raw string) error {
	return c.state.SetBaseURL(raw)
}

// ClearServiceURL removes the PDS base URL.
func (c *Client) ClearServiceURL() {
	c.state.ClearBaseURL()
}

// ServiceURL returns the PDS base URL, if set.
func (c *Client) ServiceURL() (string, bool) {
	return c.state.BaseURL()
}

// Call performs an authenticated request.
func (c *Client) Call(ctx context.Context, method, path string, opts protocol.RequestOptions) (*protocol.Response, error) {
	return c.executor.ExecuteAuthenticated(ctx, method, path, opts)
}

// CallPublic performs an unauthenticated request.
func (c *Client) CallPublic(ctx context.Context, method, path string, opts protocol.RequestOptions) (*protocol.Response, error) {
	return c.executor.Execute(ctx, method, path, opts)
}

// Authenticated returns a Caller for the typed helpers in package protocol.
func (c *Client) Authenticated() protocol.Caller {
	return c.executor.Authenticated()
}

// Public returns an unauthenticated Caller.
func (c *Client) Public() protocol.Caller {
	return c.executor.Public()
}

// Accounts exposes the session endpoints.
func (c *Client) Accounts() *account.Service {
	return c.accounts
}

// Logout revokes the session on the server and clears it locally. The local
// session is cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	s, ok := c.state.Session()
	if !ok {
		return nil
	}
	defer c.state.Clear()

	if err := c.accounts.DeleteSession(ctx, s.RefreshToken); err != nil {
		c.logger.Warn("Server rejected logout", "did", s.DID, "error", err.Error())
		return err
	}
	return nil
}

// Metrics returns the collector shared by every component of the client.
func (c *Client) Metrics() *metrics.Collector {
	return c.metrics
}

// RefreshInFlight reports whether a session refresh is running.
func (c *Client) RefreshInFlight() bool {
	return c.coordinator.InFlight()
}
