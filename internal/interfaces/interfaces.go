// Package interfaces defines the shared value types and the dependency-injection
// seams between the PDS networking core and its collaborators.
package interfaces

import (
	"context"
	"strings"
)

// Session is the credential pair plus account identity used to authenticate
// requests against a Personal Data Server. It is a value object: holders
// replace it wholesale and never mutate a shared copy.
type Session struct {
	Handle         string `json:"handle" yaml:"handle"`
	DID            string `json:"did" yaml:"did"`
	AccessToken    string `json:"accessJwt" yaml:"accessJwt"`
	RefreshToken   string `json:"refreshJwt" yaml:"refreshJwt"`
	Active         bool   `json:"active" yaml:"active"`
	Status         string `json:"status,omitempty" yaml:"status,omitempty"`
	Email          string `json:"email,omitempty" yaml:"email,omitempty"`
	EmailConfirmed bool   `json:"emailConfirmed,omitempty" yaml:"emailConfirmed,omitempty"`
}

// HasTokens reports whether both credentials are present.
func (s Session) HasTokens() bool {
	return strings.TrimSpace(s.AccessToken) != "" && strings.TrimSpace(s.RefreshToken) != ""
}

// SessionListener is invoked with the new session whenever the current
// session is replaced by the refresh path.
type SessionListener func(Session)

// Refresher exchanges a refresh credential for a new Session. It is the
// injected refresh operation used by the refresh coordinator.
type Refresher interface {
	RefreshSession(ctx context.Context, refreshToken string) (Session, error)
}

// RefresherFunc adapts an ordinary function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (Session, error)

// RefreshSession calls f(ctx, refreshToken).
func (f RefresherFunc) RefreshSession(ctx context.Context, refreshToken string) (Session, error) {
	return f(ctx, refreshToken)
}

// Profile represents a named account configuration persisted by the CLI
type Profile struct {
	Name     string            `yaml:"name"`
	Service  string            `yaml:"service"`
	Handle   string            `yaml:"handle,omitempty"`
	Session  *Session          `yaml:"session,omitempty"`
	Metadata map[string]string `yaml:"metadata,omitempty"`
}

// ConfigManager handles profile and persisted session management
type ConfigManager interface {
	// LoadProfile retrieves a profile by name from the configuration file
	LoadProfile(name string) (*Profile, error)

	// SaveProfile persists a profile to the configuration file
	SaveProfile(profile *Profile) error

	// ListProfiles returns all available profile names
	ListProfiles() ([]string, error)

	// DeleteProfile removes a profile from the configuration file
	DeleteProfile(name string) error

	// SaveSession replaces the persisted session of a profile
	SaveSession(profileName string, session Session) error

	// ValidateProfile ensures profile has all required fields
	ValidateProfile(profile *Profile) error

	// GetConfigPath returns the path to the configuration file
	GetConfigPath() string
}
