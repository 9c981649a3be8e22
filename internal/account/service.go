// Package account implements the com.atproto.server session methods: login,
// refresh, inspection and logout. Service.RefreshSession is the refresh
// operation injected into the refresh coordinator.
package account

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/lucid-softworks/akari/internal/auth"
	"github.com/lucid-softworks/akari/internal/interfaces"
	"github.com/lucid-softworks/akari/internal/logging"
	"github.com/lucid-softworks/akari/internal/protocol"
)

// Method ids used by the service.
const (
	NSIDCreateSession  = "com.atproto.server.createSession"
	NSIDRefreshSession = "com.atproto.server.refreshSession"
	NSIDGetSession     = "com.atproto.server.getSession"
	NSIDDeleteSession  = "com.atproto.server.deleteSession"
	NSIDDescribeServer = "com.atproto.server.describeServer"
)

// Doer performs one unauthenticated request. *protocol.Transport satisfies it.
type Doer interface {
	Execute(ctx context.Context, method, path string, opts protocol.RequestOptions) (*protocol.Response, error)
}

// Service talks to the session endpoints of one PDS.
type Service struct {
	transport Doer
	logger    *logging.Logger
}

// NewService creates a Service on top of transport.
func NewService(transport Doer, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.GetAuthLogger()
	}
	return &Service{transport: transport, logger: logger}
}

// CreateSessionInput are the login credentials.
type CreateSessionInput struct {
	Identifier      string `json:"identifier"`
	Password        string `json:"password"`
	AuthFactorToken string `json:"authFactorToken,omitempty"`
}

// Validate checks the credentials before any request is made.
func (in CreateSessionInput) Validate() error {
	if strings.TrimSpace(in.Identifier) == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if in.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	return nil
}

// sessionOutput is the shared output of createSession and refreshSession.
type sessionOutput struct {
	AccessJwt      string `json:"accessJwt"`
	RefreshJwt     string `json:"refreshJwt"`
	Handle         string `json:"handle"`
	DID            string `json:"did"`
	Active         *bool  `json:"active,omitempty"`
	Status         string `json:"status,omitempty"`
	Email          string `json:"email,omitempty"`
	EmailConfirmed bool   `json:"emailConfirmed,omitempty"`
}

func (o sessionOutput) session() (interfaces.Session, error) {
	if err := auth.ValidateToken(o.AccessJwt); err != nil {
		return interfaces.Session{}, fmt.Errorf("server returned an unusable access token: %w", err)
	}
	if err := auth.ValidateToken(o.RefreshJwt); err != nil {
		return interfaces.Session{}, fmt.Errorf("server returned an unusable refresh token: %w", err)
	}

	active := true
	if o.Active != nil {
		active = *o.Active
	}
	return interfaces.Session{
		Handle:         o.Handle,
		DID:            o.DID,
		AccessToken:    o.AccessJwt,
		RefreshToken:   o.RefreshJwt,
		Active:         active,
		Status:         o.Status,
		Email:          o.Email,
		EmailConfirmed: o.EmailConfirmed,
	}, nil
}

// CreateSession logs in and returns a fresh session.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (interfaces.Session, error) {
	if err := in.Validate(); err != nil {
		return interfaces.Session{}, err
	}

	resp, err := s.transport.Execute(ctx, http.MethodPost, protocol.MethodPath(NSIDCreateSession), protocol.RequestOptions{Body: in})
	if err != nil {
		return interfaces.Session{}, err
	}

	var out sessionOutput
	if err := resp.Decode(&out); err != nil {
		return interfaces.Session{}, err
	}
	session, err := out.session()
	if err != nil {
		return interfaces.Session{}, err
	}

	s.logger.Info("Session created", "did", session.DID, "handle", session.Handle)
	return session, nil
}

// RefreshSession exchanges refreshToken for a new session. The refresh token
// is sent as the bearer credential.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (interfaces.Session, error) {
	if err := auth.ValidateToken(refreshToken); err != nil {
		return interfaces.Session{}, fmt.Errorf("invalid refresh token: %w", err)
	}

	resp, err := s.transport.Execute(ctx, http.MethodPost, protocol.MethodPath(NSIDRefreshSession), protocol.RequestOptions{
		Headers: map[string]string{protocol.HeaderAuthorization: "Bearer " + refreshToken},
	})
	if err != nil {
		return interfaces.Session{}, err
	}

	var out sessionOutput
	if err := resp.Decode(&out); err != nil {
		return interfaces.Session{}, err
	}
	return out.session()
}

// SessionInfo is the getSession output.
type SessionInfo struct {
	Handle          string `json:"handle"`
	DID             string `json:"did"`
	Email           string `json:"email,omitempty"`
	EmailConfirmed  bool   `json:"emailConfirmed,omitempty"`
	EmailAuthFactor bool   `json:"emailAuthFactor,omitempty"`
	Active          *bool  `json:"active,omitempty"`
	Status          string `json:"status,omitempty"`
}

// IsActive reports the account state; absent means active.
func (i SessionInfo) IsActive() bool {
	return i.Active == nil || *i.Active
}

// GetSession describes the account behind the session used by caller.
func (s *Service) GetSession(ctx context.Context, caller protocol.Caller) (SessionInfo, error) {
	return protocol.Query[SessionInfo](ctx, caller, NSIDGetSession, nil)
}

// DeleteSession revokes the session identified by refreshToken.
func (s *Service) DeleteSession(ctx context.Context, refreshToken string) error {
	_, err := s.transport.Execute(ctx, http.MethodPost, protocol.MethodPath(NSIDDeleteSession), protocol.RequestOptions{
		Headers: map[string]string{protocol.HeaderAuthorization: "Bearer " + refreshToken},
	})
	if err != nil {
		return err
	}
	s.logger.Info("Session deleted")
	return nil
}

// ServerDescription is the describeServer output.
type ServerDescription struct {
	DID                  string   `json:"did"`
	AvailableUserDomains []string `json:"availableUserDomains"`
	InviteCodeRequired   bool     `json:"inviteCodeRequired,omitempty"`
	PhoneVerification    bool     `json:"phoneVerificationRequired,omitempty"`
	Links                struct {
		PrivacyPolicy  string `json:"privacyPolicy,omitempty"`
		TermsOfService string `json:"termsOfService,omitempty"`
	} `json:"links,omitempty"`
}

// DescribeServer fetches the server's public description.
func (s *Service) DescribeServer(ctx context.Context) (ServerDescription, error) {
	resp, err := s.transport.Execute(ctx, http.MethodGet, protocol.MethodPath(NSIDDescribeServer), protocol.RequestOptions{})
	if err != nil {
		return ServerDescription{}, err
	}
	var out ServerDescription
	if err := resp.Decode(&out); err != nil {
		return ServerDescription{}, err
	}
	return out, nil
}
