// Package health probes a PDS in three stages: a TCP connectivity check, a
// describeServer handshake and, when a session is available, an
// authenticated getSession call. Each stage reports its own CheckResult and
// a failed stage skips the ones after it.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"time"

	"github.com/lucid-softworks/akari/internal/account"
	apperrors "github.com/lucid-softworks/akari/internal/errors"
	"github.com/lucid-softworks/akari/internal/logging"
	"github.com/lucid-softworks/akari/internal/session"
)

// CheckType names one stage of a probe.
type CheckType string

const (
	CheckConnectivity CheckType = "connectivity"
	CheckServer       CheckType = "server"
	CheckSession      CheckType = "session"
)

// Check and overall statuses.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusOffline  = "offline"
	StatusError    = "error"
	StatusSkipped  = "skipped"
)

const defaultDialTimeout = 5 * time.Second

// CheckResult is the outcome of a single stage.
type CheckResult struct {
	Check        CheckType
	Status       string
	ResponseTime time.Duration
	Error        string
	ErrorType    string
	Details      map[string]string
}

// Report is the outcome of a full probe.
type Report struct {
	Service      string
	Overall      string
	ResponseTime time.Duration
	Error        string
	Checks       []CheckResult
	Server       *account.ServerDescription
	Account      *account.SessionInfo
}

// Ready reports whether the service answered every check that ran.
func (r *Report) Ready() bool {
	return r.Overall == StatusReady
}

// ServerDescriber fetches the public server description.
type ServerDescriber interface {
	DescribeServer(ctx context.Context) (account.ServerDescription, error)
}

// SessionDescriber fetches the account behind the current session.
type SessionDescriber func(ctx context.Context) (account.SessionInfo, error)

// Monitor runs probes.
type Monitor struct {
	dialTimeout time.Duration
	logger      *logging.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDialTimeout bounds the connectivity check.
func WithDialTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.dialTimeout = d
		}
	}
}

// NewMonitor creates a Monitor. A nil logger discards output.
func NewMonitor(logger *logging.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = logging.Discard()
	}
	m := &Monitor{dialTimeout: defaultDialTimeout, logger: logger.WithComponent("health")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check probes service. describer is required; sessionFn may be nil, in
// which case the session stage is reported as skipped.
func (m *Monitor) Check(ctx context.Context, service string, describer ServerDescriber, sessionFn SessionDescriber) *Report {
	report := &Report{Service: service}

	connectivity := m.checkConnectivity(ctx, service)
	report.Checks = append(report.Checks, connectivity)
	if connectivity.Status != StatusReady {
		report.Checks = append(report.Checks, skipped(CheckServer), skipped(CheckSession))
		report.finish(StatusOffline, connectivity)
		return report
	}

	server, desc := m.checkServer(ctx, describer)
	report.Checks = append(report.Checks, server)
	if server.Status != StatusReady {
		report.Checks = append(report.Checks, skipped(CheckSession))
		report.finish(StatusError, server)
		return report
	}
	report.Server = &desc

	if sessionFn == nil {
		report.Checks = append(report.Checks, skipped(CheckSession))
		report.finish(StatusReady, CheckResult{})
		return report
	}

	sess, info := m.checkSession(ctx, sessionFn)
	report.Checks = append(report.Checks, sess)
	if sess.Status != StatusReady {
		report.finish(StatusDegraded, sess)
		return report
	}
	report.Account = &info
	report.finish(StatusReady, CheckResult{})
	return report
}

func (r *Report) finish(overall string, failed CheckResult) {
	r.Overall = overall
	r.Error = failed.Error
	for _, c := range r.Checks {
		r.ResponseTime = max(r.ResponseTime, c.ResponseTime)
	}
}

func skipped(check CheckType) CheckResult {
	return CheckResult{Check: check, Status: StatusSkipped}
}

// checkConnectivity dials the service host.
func (m *Monitor) checkConnectivity(ctx context.Context, service string) CheckResult {
	result := CheckResult{Check: CheckConnectivity}

	addr, err := dialAddress(service)
	if err != nil {
		result.Status = StatusError
		result.Error = err.Error()
		result.ErrorType = "invalid_service"
		return result
	}
	result.Details = map[string]string{"address": addr}

	start := time.Now()
	dialer := &net.Dialer{Timeout: m.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	result.ResponseTime = time.Since(start)
	if err != nil {
		result.Status = StatusOffline
		result.Error = fmt.Sprintf("connection failed: %v", err)
		result.ErrorType = classifyNetworkError(err)
		m.logger.Debug("Connectivity check failed", "address", addr, "error_type", result.ErrorType)
		return result
	}
	conn.Close()

	result.Status = StatusReady
	m.logger.Debug("Connectivity check passed", "address", addr, "duration", result.ResponseTime)
	return result
}

// checkServer performs the describeServer handshake.
func (m *Monitor) checkServer(ctx context.Context, describer ServerDescriber) (CheckResult, account.ServerDescription) {
	result := CheckResult{Check: CheckServer}

	start := time.Now()
	desc, err := describer.DescribeServer(ctx)
	result.ResponseTime = time.Since(start)
	if err != nil {
		result.Status = StatusError
		result.Error = err.Error()
		result.ErrorType = classifyRequestError(err)
		m.logger.Debug("Server check failed", "error_type", result.ErrorType)
		return result, desc
	}

	result.Status = StatusReady
	result.Details = map[string]string{"did": desc.DID}
	if desc.InviteCodeRequired {
		result.Details["invites"] = "required"
	}
	return result, desc
}

// checkSession verifies the stored credential against the server.
func (m *Monitor) checkSession(ctx context.Context, fn SessionDescriber) (CheckResult, account.SessionInfo) {
	result := CheckResult{Check: CheckSession}

	start := time.Now()
	info, err := fn(ctx)
	result.ResponseTime = time.Since(start)
	if err != nil {
		result.Status = StatusError
		result.Error = err.Error()
		result.ErrorType = classifyRequestError(err)
		m.logger.Debug("Session check failed", "error_type", result.ErrorType)
		return result, info
	}

	result.Status = StatusReady
	result.Details = map[string]string{"handle": info.Handle}
	if !info.IsActive() {
		result.Status = StatusDegraded
		result.Error = "account is not active"
		if info.Status != "" {
			result.Error += ": " + info.Status
		}
	}
	return result, info
}

// dialAddress turns a service URL into host:port, defaulting the port from
// the scheme.
func dialAddress(service string) (string, error) {
	normalized, err := session.NormalizeBaseURL(service)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", err
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// classifyNetworkError categorizes dial failures for diagnostics.
func classifyNetworkError(err error) string {
	var dnsErr *net.DNSError
	var netErr net.Error

	switch {
	case errors.As(err, &dnsErr):
		return "dns_failure"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection_refused"
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return "network_unreachable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "unknown_network_error"
	}
}

// classifyRequestError categorizes XRPC call failures for diagnostics.
func classifyRequestError(err error) string {
	var refreshErr *apperrors.RefreshError
	var reqErr *apperrors.RequestError
	var transportErr *apperrors.TransportError

	switch {
	case errors.As(err, &refreshErr):
		if refreshErr.RequiresLogin() {
			return "login_required"
		}
		return "refresh_failed"
	case errors.Is(err, apperrors.ErrNoSession):
		return "no_session"
	case errors.As(err, &reqErr):
		if reqErr.IsAuthenticationFailure() {
			return "authentication_error"
		}
		if reqErr.Code != "" {
			return reqErr.Code
		}
		return fmt.Sprintf("http_%d", reqErr.Status)
	case errors.As(err, &transportErr):
		return classifyNetworkError(transportErr.Err)
	default:
		return "unknown_protocol_error"
	}
}
