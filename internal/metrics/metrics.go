// Package metrics provides lightweight, lock-free counters for the request
// and refresh paths of a PDS client.
//
// All methods are safe for concurrent use. A nil *Collector is a valid
// no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one client instance.
type Collector struct {
	requestsTotal    atomic.Int64
	requestErrors    atomic.Int64
	transportErrors  atomic.Int64
	authFailures     atomic.Int64
	retries          atomic.Int64
	sessionReuses    atomic.Int64
	refreshesStarted atomic.Int64
	refreshesJoined  atomic.Int64
	refreshFailures  atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastRefresh  time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Request metrics ──────────────────────────────────────────────────

// RequestSent records one HTTP call issued by the transport.
func (c *Collector) RequestSent() {
	if c == nil {
		return
	}
	c.requestsTotal.Add(1)
}

// RequestFailed records a non-success HTTP response.
func (c *Collector) RequestFailed(msg string) {
	if c == nil {
		return
	}
	c.requestErrors.Add(1)
	c.recordError(msg)
}

// TransportFailed records a connectivity-level failure.
func (c *Collector) TransportFailed(msg string) {
	if c == nil {
		return
	}
	c.transportErrors.Add(1)
	c.recordError(msg)
}

// TotalRequests returns the lifetime request count.
func (c *Collector) TotalRequests() int64 {
	if c == nil {
		return 0
	}
	return c.requestsTotal.Load()
}

// ── Authentication metrics ───────────────────────────────────────────

// AuthFailure records a first attempt rejected for its credential.
func (c *Collector) AuthFailure() {
	if c == nil {
		return
	}
	c.authFailures.Add(1)
}

// Retry records a retried call after an authentication failure.
func (c *Collector) Retry() {
	if c == nil {
		return
	}
	c.retries.Add(1)
}

// SessionReused records a retry that used a session already renewed elsewhere.
func (c *Collector) SessionReused() {
	if c == nil {
		return
	}
	c.sessionReuses.Add(1)
}

// AuthFailures returns the number of first attempts rejected for their credential.
func (c *Collector) AuthFailures() int64 {
	if c == nil {
		return 0
	}
	return c.authFailures.Load()
}

// Retries returns the number of authentication-triggered retries.
func (c *Collector) Retries() int64 {
	if c == nil {
		return 0
	}
	return c.retries.Load()
}

// SessionReuses returns how many retries skipped the refresh coordinator.
func (c *Collector) SessionReuses() int64 {
	if c == nil {
		return 0
	}
	return c.sessionReuses.Load()
}

// ── Refresh metrics ──────────────────────────────────────────────────

// RefreshStarted records a new refresh incident.
func (c *Collector) RefreshStarted() {
	if c == nil {
		return
	}
	c.refreshesStarted.Add(1)
	c.mu.Lock()
	c.lastRefresh = time.Now()
	c.mu.Unlock()
}

// RefreshJoined records a caller that rode an incident already in flight.
func (c *Collector) RefreshJoined() {
	if c == nil {
		return
	}
	c.refreshesJoined.Add(1)
}

// RefreshFailed records a failed refresh incident.
func (c *Collector) RefreshFailed(msg string) {
	if c == nil {
		return
	}
	c.refreshFailures.Add(1)
	c.recordError(msg)
}

// RefreshesStarted returns the number of refresh incidents started.
func (c *Collector) RefreshesStarted() int64 {
	if c == nil {
		return 0
	}
	return c.refreshesStarted.Load()
}

// RefreshesJoined returns the number of callers that joined an existing incident.
func (c *Collector) RefreshesJoined() int64 {
	if c == nil {
		return 0
	}
	return c.refreshesJoined.Load()
}

// RefreshFailures returns the number of failed refresh incidents.
func (c *Collector) RefreshFailures() int64 {
	if c == nil {
		return 0
	}
	return c.refreshFailures.Load()
}

func (c *Collector) recordError(msg string) {
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	RequestsTotal    int64  `json:"requests_total"`
	RequestErrors    int64  `json:"request_errors"`
	TransportErrors  int64  `json:"transport_errors"`
	AuthFailures     int64  `json:"auth_failures"`
	Retries          int64  `json:"retries"`
	SessionReuses    int64  `json:"session_reuses"`
	RefreshesStarted int64  `json:"refreshes_started"`
	RefreshesJoined  int64  `json:"refreshes_joined"`
	RefreshFailures  int64  `json:"refresh_failures"`
	LastRefresh      string `json:"last_refresh,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:           time.Since(c.startTime).Truncate(time.Second).String(),
		RequestsTotal:    c.requestsTotal.Load(),
		RequestErrors:    c.requestErrors.Load(),
		TransportErrors:  c.transportErrors.Load(),
		AuthFailures:     c.authFailures.Load(),
		Retries:          c.retries.Load(),
		SessionReuses:    c.sessionReuses.Load(),
		RefreshesStarted: c.refreshesStarted.Load(),
		RefreshesJoined:  c.refreshesJoined.Load(),
		RefreshFailures:  c.refreshFailures.Load(),
	}
	if !c.lastRefresh.IsZero() {
		s.LastRefresh = c.lastRefresh.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
