// Package errors provides the typed error taxonomy of the PDS networking core.
// Every failure surfaced by the transport, the refresh coordinator and the
// authenticated executor is one of the types below, so callers can branch on
// errors.As instead of matching strings.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType categorizes different types of errors for appropriate handling
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeNoSession     ErrorType = "no_session"
	ErrorTypeRequest       ErrorType = "request"
	ErrorTypeRefresh       ErrorType = "refresh"
	ErrorTypeTransport     ErrorType = "transport"
	ErrorTypeUnknown       ErrorType = "unknown"
)

// Server error codes that mark an expired or rejected access credential.
const (
	CodeExpiredToken = "ExpiredToken"
	CodeInvalidToken = "InvalidToken"
	CodeAuthRequired = "AuthRequired"
)

var (
	// ErrNoBaseURL is returned when a request is attempted without a service URL.
	ErrNoBaseURL = &ConfigurationError{Reason: "no service URL configured"}

	// ErrNoSession is returned when an authenticated call has no active session.
	ErrNoSession = &NoSessionError{}
)

// ConfigurationError reports a client that cannot issue requests because it
// is not configured to. It is raised before any network I/O.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Is makes every ConfigurationError match ErrNoBaseURL and its siblings.
func (e *ConfigurationError) Is(target error) bool {
	_, ok := target.(*ConfigurationError)
	return ok
}

// NoSessionError reports an authenticated call attempted without a session.
type NoSessionError struct{}

func (e *NoSessionError) Error() string {
	return "no active session"
}

func (e *NoSessionError) Is(target error) bool {
	_, ok := target.(*NoSessionError)
	return ok
}

// RequestError is a non-success HTTP response. Code and Message come from the
// server's {error, message} payload when it could be parsed.
type RequestError struct {
	Status  int
	Code    string
	Message string
	Method  string
	Path    string
}

func (e *RequestError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("Request failed with status %d", e.Status)
}

// IsAuthenticationFailure reports whether the server rejected the access
// credential: any 401, or a 400 carrying an expired/invalid token code.
func (e *RequestError) IsAuthenticationFailure() bool {
	switch e.Status {
	case http.StatusUnauthorized:
		return true
	case http.StatusBadRequest:
		return e.Code == CodeExpiredToken || e.Code == CodeInvalidToken
	default:
		return false
	}
}

// RefreshError wraps the failure of the injected refresh operation. It is
// fatal for the call that triggered the refresh.
type RefreshError struct {
	Cause error
}

func (e *RefreshError) Error() string {
	if e.Cause == nil {
		return "session refresh failed"
	}
	return fmt.Sprintf("session refresh failed: %v", e.Cause)
}

func (e *RefreshError) Unwrap() error {
	return e.Cause
}

// RequiresLogin reports whether the refresh credential itself was rejected,
// as opposed to the refresh call failing in transit. The distinction is
// informational: both outcomes fail the incident the same way.
func (e *RefreshError) RequiresLogin() bool {
	var reqErr *RequestError
	if !stderrors.As(e.Cause, &reqErr) {
		return false
	}
	if reqErr.Status == http.StatusUnauthorized {
		return true
	}
	switch reqErr.Code {
	case CodeExpiredToken, CodeInvalidToken, CodeAuthRequired:
		return true
	}
	return false
}

// TransportError wraps a connectivity-level failure. The original error is
// reachable through errors.Is and errors.As.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsAuthenticationFailure reports whether err carries a RequestError that
// rejected the access credential.
func IsAuthenticationFailure(err error) bool {
	var reqErr *RequestError
	return stderrors.As(err, &reqErr) && reqErr.IsAuthenticationFailure()
}

// Kind classifies err into the taxonomy. Refresh failures win over the
// request error they may wrap.
func Kind(err error) ErrorType {
	var (
		cfgErr       *ConfigurationError
		noSessionErr *NoSessionError
		refreshErr   *RefreshError
		reqErr       *RequestError
		transportErr *TransportError
	)

	switch {
	case err == nil:
		return ""
	case stderrors.As(err, &refreshErr):
		return ErrorTypeRefresh
	case stderrors.As(err, &cfgErr):
		return ErrorTypeConfiguration
	case stderrors.As(err, &noSessionErr):
		return ErrorTypeNoSession
	case stderrors.As(err, &reqErr):
		return ErrorTypeRequest
	case stderrors.As(err, &transportErr):
		return ErrorTypeTransport
	default:
		return ErrorTypeUnknown
	}
}
