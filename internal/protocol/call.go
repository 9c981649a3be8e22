package protocol

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
)

// Caller performs one logical XRPC call. Executor.Authenticated and
// Executor.Public return the two flavours.
type Caller interface {
	Do(ctx context.Context, method, path string, opts RequestOptions) (*Response, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, method, path string, opts RequestOptions) (*Response, error)

// Do calls f.
func (f CallerFunc) Do(ctx context.Context, method, path string, opts RequestOptions) (*Response, error) {
	return f(ctx, method, path, opts)
}

// Authenticated returns a Caller that attaches the session credential.
func (e *Executor) Authenticated() Caller {
	return CallerFunc(e.ExecuteAuthenticated)
}

// Public returns a Caller that sends no credential.
func (e *Executor) Public() Caller {
	return CallerFunc(e.Execute)
}

// Query calls an XRPC query (GET) and decodes the JSON output.
func Query[Out any](ctx context.Context, caller Caller, nsid string, params Params) (Out, error) {
	var out Out
	if !ValidNSID(nsid) {
		return out, fmt.Errorf("invalid method id %q", nsid)
	}

	resp, err := caller.Do(ctx, http.MethodGet, MethodPath(nsid), RequestOptions{Query: params})
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, fmt.Errorf("%s: %w", nsid, err)
	}
	return out, nil
}

// Procedure calls an XRPC procedure (POST) with input as the body and decodes
// the JSON output. Procedures without output use struct{} or any for Out.
func Procedure[In, Out any](ctx context.Context, caller Caller, nsid string, input In) (Out, error) {
	var out Out
	if !ValidNSID(nsid) {
		return out, fmt.Errorf("invalid method id %q", nsid)
	}

	var body any = input
	if isNilInput(body) {
		body = nil
	}

	resp, err := caller.Do(ctx, http.MethodPost, MethodPath(nsid), RequestOptions{Body: body})
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, fmt.Errorf("%s: %w", nsid, err)
	}
	return out, nil
}

func isNilInput(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
