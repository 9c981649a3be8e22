// Package auth coordinates session renewal for one client instance. At most
// one refresh incident is in flight at a time; every caller that hits an
// expired session while it runs shares its outcome.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/lucid-softworks/akari/internal/errors"
	"github.com/lucid-softworks/akari/internal/interfaces"
	"github.com/lucid-softworks/akari/internal/logging"
	"github.com/lucid-softworks/akari/internal/metrics"
)

// SessionStore is the part of the session state the coordinator writes to.
// ReplaceIf must refuse the session once the store has moved past gen.
type SessionStore interface {
	Generation() uint64
	ReplaceIf(gen uint64, session interfaces.Session) bool
}

// incident is one shared refresh attempt, started with refreshToken while
// the store was at gen. done is closed once session/err are final.
type incident struct {
	refreshToken string
	gen          uint64
	done         chan struct{}
	session      interfaces.Session
	err          error
	waiters      int
}

// Coordinator runs refreshes single-flight.
type Coordinator struct {
	refresher interfaces.Refresher
	store     SessionStore
	logger    *logging.Logger
	metrics   *metrics.Collector

	mu      sync.Mutex
	current *incident
}

// NewCoordinator creates a coordinator that renews sessions through refresher
// and installs the result in store.
func NewCoordinator(refresher interfaces.Refresher, store SessionStore, logger *logging.Logger, collector *metrics.Collector) *Coordinator {
	if logger == nil {
		logger = logging.GetAuthLogger()
	}
	return &Coordinator{
		refresher: refresher,
		store:     store,
		logger:    logger,
		metrics:   collector,
	}
}

// InFlight reports whether a refresh incident is currently running.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Refresh renews the session with refreshToken, or joins the incident already
// in flight. The refresh itself is not cancelled when ctx is; ctx only bounds
// how long this caller waits for it.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken string) (interfaces.Session, error) {
	c.mu.Lock()
	inc := c.current
	owner := inc == nil
	if owner {
		inc = &incident{
			refreshToken: refreshToken,
			gen:          c.store.Generation(),
			done:         make(chan struct{}),
		}
		c.current = inc
	} else {
		inc.waiters++
	}
	c.mu.Unlock()

	if owner {
		c.metrics.RefreshStarted()
		go c.run(context.WithoutCancel(ctx), inc)
	} else {
		c.metrics.RefreshJoined()
		c.logger.Debug("Joining refresh already in flight", "refresh_fp", fingerprint(inc.refreshToken))
	}

	select {
	case <-inc.done:
		return inc.session, inc.err
	case <-ctx.Done():
		return interfaces.Session{}, ctx.Err()
	}
}

func (c *Coordinator) run(ctx context.Context, inc *incident) {
	start := time.Now()

	session, err := c.callRefresher(ctx, inc.refreshToken)
	if err == nil && !c.store.ReplaceIf(inc.gen, session) {
		// Cleared (logged out) while the refresh ran; the result is dropped.
		c.logger.Warn("Discarding refreshed session, state was cleared", "did", session.DID)
		err = apperrors.ErrNoSession
	}
	if err == nil {
		inc.session = session
	} else {
		inc.err = &apperrors.RefreshError{Cause: err}
		c.metrics.RefreshFailed(err.Error())
	}

	c.mu.Lock()
	c.current = nil
	waiters := inc.waiters
	c.mu.Unlock()

	c.logger.LogRefresh(session.DID, fingerprint(inc.refreshToken), waiters, time.Since(start), err)
	if err == nil {
		if claims, ok := DecodeClaims(session.AccessToken); ok && !claims.ExpiresAt.IsZero() {
			c.logger.Debug("Access token renewed", "expires_in", time.Until(claims.ExpiresAt).Truncate(time.Second))
		}
	}

	close(inc.done)
}

// fingerprint identifies a credential in logs without revealing it.
func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}

// callRefresher turns a refresher panic into an ordinary failure so waiters
// are never left blocked.
func (c *Coordinator) callRefresher(ctx context.Context, refreshToken string) (session interfaces.Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return c.refresher.RefreshSession(ctx, refreshToken)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("refresher panicked: %v", e.value)
}
