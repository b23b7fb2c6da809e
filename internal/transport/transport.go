// Package transport provides the bounded HTTP(S) client every registry
// interaction in this module is built on: a single request/head surface
// with deliberate redirect handling and no implicit retries.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// UserAgent is sent on every outbound request (spec §6).
const UserAgent = "devcontainer"

// Response is the materialized result of a Request call: status, headers,
// and the full body buffered in memory. Streaming to a caller-provided sink
// is supported via RequestToSink for blob downloads.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport is a bounded HTTP(S) client. GET/HEAD follow redirects using the
// standard library's default policy; all other methods (notably PUT) do not
// follow redirects, so a 3xx response and its Location header reach the
// caller unchanged — this is required for blob-upload session redirects.
type Transport struct {
	client *http.Client
	logger zerolog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger attaches a logger used for request tracing.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithHTTPClient overrides the underlying *http.Client, primarily for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) { t.client = client }
}

// New creates a Transport with the given request timeout.
func New(timeout time.Duration, opts ...Option) *Transport {
	t := &Transport{
		logger: zerolog.Nop(),
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if req.Method == http.MethodGet || req.Method == http.MethodHead {
					return nil
				}
				return http.ErrUseLastResponse
			},
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Request issues method to url with the given headers and optional body,
// returning the buffered response. ctx governs cancellation; the
// Transport's configured timeout bounds the call independently.
func (t *Transport) Request(ctx context.Context, method, url string, headers http.Header, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", UserAgent)

	t.logger.Debug().Str("method", method).Str("url", url).Msg("http request")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: buf}, nil
}

// RequestToSink behaves like Request but streams the body directly into
// sink instead of buffering it, for large blob downloads.
func (t *Transport) RequestToSink(ctx context.Context, method, url string, headers http.Header, body io.Reader, sink io.Writer) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(sink, resp.Body); err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: nil}, nil
}

// Head issues a HEAD request and returns only the resulting status code.
func (t *Transport) Head(ctx context.Context, url string, headers http.Header) (int, error) {
	resp, err := t.Request(ctx, http.MethodHead, url, headers, nil)
	if err != nil {
		return 0, err
	}
	return resp.Status, nil
}

// NewReader is a small helper so callers needn't import bytes for simple
// in-memory request bodies.
func NewReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
