// Package session holds the authoritative in-memory session of one client
// instance together with the service URL it talks to.
package session

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	apperrors "github.com/lucid-softworks/akari/internal/errors"
	"github.com/lucid-softworks/akari/internal/interfaces"
	"github.com/lucid-softworks/akari/internal/logging"
)

// State owns the current session (if any) and the configured service URL.
// Sessions are stored by value and replaced wholesale.
type State struct {
	mu        sync.RWMutex
	current   *interfaces.Session
	gen       uint64
	baseURL   string
	listeners map[int]interfaces.SessionListener
	nextID    int
	order     []int
	logger    *logging.Logger
}

// NewState creates an empty state. A nil logger falls back to the global one.
func NewState(logger *logging.Logger) *State {
	if logger == nil {
		logger = logging.GetSessionLogger()
	}
	return &State{
		listeners: make(map[int]interfaces.SessionListener),
		logger:    logger,
	}
}

// UseSession replaces the current session without notifying listeners;
// the caller already knows about the change.
func (s *State) UseSession(session interfaces.Session) {
	s.mu.Lock()
	s.current = &session
	s.mu.Unlock()
}

// Replace installs a new session and notifies every listener.
func (s *State) Replace(session interfaces.Session) {
	s.replaceWhen(session, func() bool { return true })
}

// ReplaceIf behaves like Replace while the state is still at generation gen.
// A session cleared since gen was read stays cleared and listeners are not
// notified.
func (s *State) ReplaceIf(gen uint64, session interfaces.Session) bool {
	return s.replaceWhen(session, func() bool { return s.gen == gen })
}

// CompareAndReplace behaves like Replace only when the current session still
// carries accessToken.
func (s *State) CompareAndReplace(accessToken string, session interfaces.Session) bool {
	return s.replaceWhen(session, func() bool {
		return s.current != nil && s.current.AccessToken == accessToken
	})
}

// replaceWhen installs session if cond, evaluated under the lock, holds.
func (s *State) replaceWhen(session interfaces.Session, cond func() bool) bool {
	s.mu.Lock()
	if !cond() {
		s.mu.Unlock()
		return false
	}
	s.current = &session
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, listener := range listeners {
		s.notify(listener, session)
	}
	return true
}

// Clear drops the current session and starts a new generation.
func (s *State) Clear() {
	s.mu.Lock()
	s.current = nil
	s.gen++
	s.mu.Unlock()
}

// Generation changes every time the session is cleared.
func (s *State) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Session returns the current session, if any.
func (s *State) Session() (interfaces.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return interfaces.Session{}, false
	}
	return *s.current, true
}

// RequireSession returns the current session or ErrNoSession.
func (s *State) RequireSession() (interfaces.Session, error) {
	session, ok := s.Session()
	if !ok {
		return interfaces.Session{}, apperrors.ErrNoSession
	}
	return session, nil
}

// OnSessionChange registers listener and returns a func that removes it.
func (s *State) OnSessionChange(listener interfaces.SessionListener) func() {
	if listener == nil {
		return func() {}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// snapshotListeners must be called with s.mu held.
func (s *State) snapshotListeners() []interfaces.SessionListener {
	out := make([]interfaces.SessionListener, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.listeners[id])
	}
	return out
}

func (s *State) notify(listener interfaces.SessionListener, session interfaces.Session) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Session listener panicked", "did", session.DID, "panic", fmt.Sprint(r))
		}
	}()
	listener(session)
}

// SetBaseURL normalizes and stores the service URL. Only absolute http(s)
// URLs are accepted; a trailing slash is dropped.
func (s *State) SetBaseURL(raw string) error {
	normalized, err := NormalizeBaseURL(raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.baseURL = normalized
	s.mu.Unlock()
	return nil
}

// ClearBaseURL removes the service URL; subsequent requests fail with a
// configuration error.
func (s *State) ClearBaseURL() {
	s.mu.Lock()
	s.baseURL = ""
	s.mu.Unlock()
}

// BaseURL returns the service URL, if configured.
func (s *State) BaseURL() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL, s.baseURL != ""
}

// NormalizeBaseURL validates raw and strips query, fragment and trailing slashes.
func NormalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &apperrors.ConfigurationError{Reason: "service URL cannot be empty"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", &apperrors.ConfigurationError{Reason: fmt.Sprintf("invalid service URL %q: %v", raw, err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &apperrors.ConfigurationError{Reason: fmt.Sprintf("service URL %q must use http or https", raw)}
	}
	if u.Host == "" {
		return "", &apperrors.ConfigurationError{Reason: fmt.Sprintf("service URL %q has no host", raw)}
	}

	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}
