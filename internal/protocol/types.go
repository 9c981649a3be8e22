// Package protocol defines the XRPC wire conventions and the request path used
// to talk to a Personal Data Server: a single-call transport and an
// authenticated executor that renews the session once on expiry.
package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// XRPCPrefix is the path under which every method is served.
const XRPCPrefix = "/xrpc/"

// Timeout constants for request execution
const (
	DefaultRequestTimeout = 30 * time.Second
	MaxErrorBodySize      = 4 << 20
)

// Content types used on the wire.
const (
	ContentTypeJSON   = "application/json"
	ContentTypeBinary = "application/octet-stream"
)

// Standard header names.
const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderRequestID     = "X-Request-Id"
)

// RequestOptions are the optional parts of a call.
type RequestOptions struct {
	Headers map[string]string
	Body    any
	Query   Params
}

// withHeader returns a copy of o with key set; the caller's map is not touched.
func (o RequestOptions) withHeader(key, value string) RequestOptions {
	headers := make(map[string]string, len(o.Headers)+1)
	for k, v := range o.Headers {
		headers[k] = v
	}
	headers[key] = value
	o.Headers = headers
	return o
}

// Response is a successful (2xx) HTTP response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Decode unmarshals the JSON body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// Blob is a raw binary body with an explicit content type.
type Blob struct {
	ContentType string
	Data        io.Reader
}

// Multipart is a multipart/form-data body.
type Multipart struct {
	Fields map[string]string
	Files  []MultipartFile
}

// MultipartFile is one file part of a Multipart body.
type MultipartFile struct {
	Field       string
	FileName    string
	ContentType string
	Data        io.Reader
}

// errorPayload is the XRPC error body.
type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var nsidPattern = regexp.MustCompile(`^[a-zA-Z]([a-zA-Z0-9-]{0,62})?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,62})?)+$`)

// ValidNSID reports whether nsid looks like a namespaced method id such as
// com.atproto.server.getSession.
func ValidNSID(nsid string) bool {
	return len(nsid) <= 317 && strings.Count(nsid, ".") >= 2 && nsidPattern.MatchString(nsid)
}

// MethodPath returns the request path for an XRPC method.
func MethodPath(nsid string) string {
	return XRPCPrefix + nsid
}
