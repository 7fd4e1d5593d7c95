// Package httptransport sends client requests over net/http.
package httptransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/LavishGent/freshline/internal/types"
)

// DefaultMaxResponseBytes bounds how much of a response body is read.
const DefaultMaxResponseBytes = 32 << 20

// ErrResponseTooLarge is returned when a body exceeds the configured limit.
var ErrResponseTooLarge = errors.New("httptransport: response body too large")

// Transport implements types.Transport on an *http.Client. Request paths are
// resolved against the base URL.
type Transport struct {
	client   *http.Client
	baseURL  *url.URL
	maxBytes int64
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithMaxResponseBytes limits response bodies; non-positive disables the limit.
func WithMaxResponseBytes(n int64) Option {
	return func(t *Transport) {
		t.maxBytes = n
	}
}

// New creates a transport for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) (*Transport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httptransport: parse base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("httptransport: base URL %q must be absolute", baseURL)
	}

	t := &Transport{
		client:   &http.Client{},
		baseURL:  u,
		maxBytes: DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Send performs the request. Timeouts come from ctx; the client sets a
// per-attempt deadline.
func (t *Transport) Send(ctx context.Context, req *types.Request) (*types.Response, error) {
	target, err := t.resolve(req.Path)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("httptransport: build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := t.readBody(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &types.Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       data,
	}, nil
}

func (t *Transport) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("httptransport: parse path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}

	base := *t.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	base.RawQuery = ref.RawQuery
	return base.String(), nil
}

func (t *Transport) readBody(r io.Reader) ([]byte, error) {
	if t.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, t.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > t.maxBytes {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

var _ types.Transport = (*Transport)(nil)
