package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/lucid-softworks/akari/internal/errors"
	"github.com/lucid-softworks/akari/internal/logging"
	"github.com/lucid-softworks/akari/internal/metrics"
)

// DefaultUserAgent identifies the client when none is configured.
const DefaultUserAgent = "akari/1.0 (+https://github.com/lucid-softworks/akari)"

// BaseURLSource supplies the service URL at call time.
type BaseURLSource interface {
	BaseURL() (string, bool)
}

// Transport issues exactly one HTTP request per call against the configured
// service. It never retries.
type Transport struct {
	httpClient *http.Client
	baseURL    BaseURLSource
	userAgent  string
	logger     *logging.Logger
	metrics    *metrics.Collector
}

// TransportOption customizes a Transport.
type TransportOption func(*Transport)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *Transport) {
		if client != nil {
			t.httpClient = client
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) TransportOption {
	return func(t *Transport) {
		if strings.TrimSpace(userAgent) != "" {
			t.userAgent = userAgent
		}
	}
}

// WithLogger sets the transport logger.
func WithLogger(logger *logging.Logger) TransportOption {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector *metrics.Collector) TransportOption {
	return func(t *Transport) {
		t.metrics = collector
	}
}

// NewTransport creates a transport that reads the service URL from source on
// every call.
func NewTransport(source BaseURLSource, opts ...TransportOption) *Transport {
	t := &Transport{
		httpClient: &http.Client{
			Timeout: DefaultRequestTimeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		},
		baseURL:   source,
		userAgent: DefaultUserAgent,
		logger:    logging.GetProtocolLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Execute performs one request. Non-2xx responses become a RequestError and
// connectivity failures a TransportError.
func (t *Transport) Execute(ctx context.Context, method, path string, opts RequestOptions) (*Response, error) {
	base, ok := t.baseURL.BaseURL()
	if !ok {
		return nil, apperrors.ErrNoBaseURL
	}

	body, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}

	target := base + ensureLeadingSlash(path)
	if encoded := opts.Query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body.reader())
	if err != nil {
		return nil, &apperrors.TransportError{Method: method, Path: path, Err: err}
	}

	requestID := uuid.NewString()
	t.setStandardHeaders(req, requestID)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && (body.fixedType || req.Header.Get(HeaderContentType) == "") {
		req.Header.Set(HeaderContentType, body.contentType)
	}

	t.metrics.RequestSent()
	start := time.Now()
	resp, err := t.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		t.metrics.TransportFailed(err.Error())
		t.logger.Debug("HTTP request failed",
			"method", method, "path", path, "request_id", requestID, "error", err.Error())
		return nil, &apperrors.TransportError{Method: method, Path: path, Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	t.logger.LogHTTPRequest(method, path, resp.StatusCode, duration, requestID)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := t.handleHTTPError(method, path, resp)
		t.metrics.RequestFailed(reqErr.Error())
		return nil, reqErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.metrics.TransportFailed(err.Error())
		return nil, &apperrors.TransportError{Method: method, Path: path, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Duration:   duration,
	}, nil
}

// setStandardHeaders sets common headers for all requests
func (t *Transport) setStandardHeaders(req *http.Request, requestID string) {
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", ContentTypeJSON)
	req.Header.Set(HeaderRequestID, requestID)
}

// handleHTTPError builds a RequestError from an error response. The body is
// read up to MaxErrorBodySize.
func (t *Transport) handleHTTPError(method, path string, resp *http.Response) *apperrors.RequestError {
	reqErr := &apperrors.RequestError{
		Status: resp.StatusCode,
		Method: method,
		Path:   path,
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
	if err != nil {
		return reqErr
	}

	var payload errorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return reqErr
	}
	reqErr.Code = payload.Error
	reqErr.Message = payload.Message
	return reqErr
}

// unwrapURLError strips the *url.Error layer added by http.Client.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}

func ensureLeadingSlash(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
