package errors

import (
	stderrors "errors"
)

// Described is an error that has been prepared for display.
// It decouples the typed error from the CLI's representation.
type Described struct {
	Kind    ErrorType
	Message string
	Code    string
	Status  int
	Hint    string
}

// Describe transforms any error returned by the client into a Described
// value carrying a human-readable message and a recovery hint.
func Describe(err error) *Described {
	if err == nil {
		return nil
	}

	d := &Described{
		Kind:    Kind(err),
		Message: err.Error(),
	}

	var reqErr *RequestError
	if stderrors.As(err, &reqErr) {
		d.Code = reqErr.Code
		d.Status = reqErr.Status
		if reqErr.Message != "" {
			d.Message = reqErr.Message
		}
	}

	d.Hint = hintFor(d.Kind, err)
	return d
}

// hintFor generates a default recovery hint based on error type
func hintFor(kind ErrorType, err error) string {
	switch kind {
	case ErrorTypeConfiguration:
		return "Set a service URL with --service or AKARI_SERVICE"
	case ErrorTypeNoSession:
		return "Sign in with 'pdsctl login'"
	case ErrorTypeRefresh:
		var refreshErr *RefreshError
		if stderrors.As(err, &refreshErr) && refreshErr.RequiresLogin() {
			return "The session can no longer be renewed; sign in again with 'pdsctl login'"
		}
		return "The session could not be renewed; check connectivity and retry"
	case ErrorTypeTransport:
		return "Check network connectivity and the service URL"
	case ErrorTypeRequest:
		return "The server rejected the request"
	default:
		return ""
	}
}
