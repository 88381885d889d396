// Package client is the consumer side of the persistence endpoints: a sync
// session that keeps a local snapshot fresh through push events or polling,
// and thin request helpers for the key/value and collection routes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"simplepersist/internal/observability"
)

// DefaultPollInterval is the polling period used when none is configured.
const DefaultPollInterval = 10 * time.Second

// TransportError reports a request that failed or answered with a non-2xx status.
type TransportError struct {
	Op      string
	Status  int
	Message string
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s failed: status %d: %s", e.Op, e.Status, e.Message)
}

type options struct {
	httpClient   *http.Client
	pollInterval time.Duration
	logger       observability.Logger
	header       http.Header
}

// Option configures a session or a thin client.
type Option func(*options)

// WithHTTPClient sets the HTTP client. Sessions keep their event stream open
// indefinitely, so the client should not carry an overall Timeout.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithPollInterval sets the polling period of a session.
func WithPollInterval(d time.Duration) Option { return func(o *options) { o.pollInterval = d } }

// WithLogger sets the logger.
func WithLogger(l observability.Logger) Option { return func(o *options) { o.logger = l } }

// WithHeader adds a header sent with every request, e.g. a session cookie.
func WithHeader(key, value string) Option {
	return func(o *options) { o.header.Add(key, value) }
}

func buildOptions(opts []Option) options {
	o := options{pollInterval: DefaultPollInterval, header: http.Header{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.httpClient == nil {
		o.httpClient = http.DefaultClient
	}
	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}
	o.logger = observability.LoggerOrNoop(o.logger)
	return o
}

func trimEndpoint(endpoint string) string { return strings.TrimRight(endpoint, "/") }

// transport issues JSON requests against one endpoint.
type transport struct {
	endpoint string
	opts     options
}

func (t transport) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.endpoint+path, rd)
	if err != nil {
		return nil, err
	}
	for k, vs := range t.opts.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends the request and decodes a 2xx JSON answer into out when non-nil.
func (t transport) do(ctx context.Context, op, method, path string, body, out any) error {
	req, err := t.newRequest(ctx, method, path, body)
	if err != nil {
		return &TransportError{Op: op, Message: err.Error()}
	}
	resp, err := t.opts.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: op, Status: resp.StatusCode, Message: errorMessage(resp)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Status: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}

// errorMessage extracts the server's {"error": ...} message, falling back to
// the status text.
func errorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return http.StatusText(resp.StatusCode)
}

// writeResult is the answer of every mutating route.
type writeResult struct {
	OK      bool  `json:"ok"`
	Version int64 `json:"version"`
}
