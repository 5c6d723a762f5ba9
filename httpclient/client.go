package httpclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"github.com/kbukum/streamkit/errors"
	"github.com/kbukum/streamkit/httpclient/sse"
	"github.com/kbukum/streamkit/logger"
	"github.com/kbukum/streamkit/observability"
	"github.com/kbukum/streamkit/resilience"
)

// maxErrorBody bounds how much of a failed stream response is read for the
// error message.
const maxErrorBody = 64 << 10

// Client is an HTTP client that routes every call through an optional
// dispatch gate and retry policy.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	config       Config
	gate         *resilience.Gate
	retrier      *resilience.Retrier
	observer     resilience.RetryObserver
	base         *logger.Logger
	log          *logger.Logger
	metrics      *observability.RuntimeMetrics
}

type clientOptions struct {
	log       *logger.Logger
	metrics   *observability.RuntimeMetrics
	observer  resilience.RetryObserver
	gateOpts  []resilience.GateOption
	retryOpts []resilience.RetrierOption
}

// Option configures a Client.
type Option func(*clientOptions)

// WithLogger sets the logger used by the client, its gate, retrier and streams.
func WithLogger(log *logger.Logger) Option {
	return func(o *clientOptions) { o.log = log }
}

// WithMetrics records request, retry, gate and stream instruments.
func WithMetrics(m *observability.RuntimeMetrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithRetryObserver is called before every backoff wait.
func WithRetryObserver(fn resilience.RetryObserver) Option {
	return func(o *clientOptions) { o.observer = fn }
}

// WithGateOptions passes extra options to the dispatch gate, e.g. a shared
// quota window.
func WithGateOptions(opts ...resilience.GateOption) Option {
	return func(o *clientOptions) { o.gateOpts = append(o.gateOpts, opts...) }
}

// WithRetrierOptions passes extra options to the retrier.
func WithRetrierOptions(opts ...resilience.RetrierOption) Option {
	return func(o *clientOptions) { o.retryOpts = append(o.retryOpts, opts...) }
}

// New creates a new HTTP client with the given configuration.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	base := logger.OrNop(o.log)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout
	if cfg.HTTP2.Enabled {
		t2, err := http2.ConfigureTransports(transport)
		if err != nil {
			return nil, errors.Internal(fmt.Errorf("configure http2: %w", err))
		}
		t2.ReadIdleTimeout = cfg.HTTP2.ReadIdleTimeout
		t2.PingTimeout = cfg.HTTP2.PingTimeout
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		// Streams outlive any fixed timeout; the caller's context ends them.
		streamClient: &http.Client{Transport: transport},
		config:       cfg,
		observer:     o.observer,
		base:         base,
		log:          base.WithComponent("httpclient"),
		metrics:      o.metrics,
	}

	if cfg.Gate != nil {
		gateOpts := append([]resilience.GateOption{
			resilience.WithGateLogger(base),
			resilience.WithGateMetrics(o.metrics),
		}, o.gateOpts...)
		c.gate = resilience.NewGate(*cfg.Gate, gateOpts...)
	}
	if cfg.Retry != nil {
		retryOpts := append([]resilience.RetrierOption{
			resilience.WithRetryLogger(base),
			resilience.WithRetryMetrics(o.metrics),
		}, o.retryOpts...)
		c.retrier = resilience.NewRetrier(*cfg.Retry, retryOpts...)
	}

	return c, nil
}

// Do executes an HTTP request and returns the complete response. Non-2xx
// statuses are returned as classified errors together with the response.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, errors.Validation(fmt.Sprintf("httpclient: encode body: %v", err)).WithCause(err)
	}
	ctx, requestID := c.requestContext(ctx, req)

	var last *Response
	err = c.dispatch(ctx, func(ctx context.Context) error {
		resp, err := c.executeRequest(ctx, req, body, requestID)
		last = resp
		return err
	})
	return last, err
}

// DoJSON executes req and decodes the JSON response body into T.
func DoJSON[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T
	req.Headers = withDefault(req.Headers, "Accept", "application/json")

	resp, err := c.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if len(resp.Body) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, errors.Decode(truncateBody(resp.Body), err)
	}
	return out, nil
}

// Stream opens a server-sent event stream and decodes its messages into T.
//
// The gate and retry policy cover connecting and the status check only: the
// returned stream is read outside the gate, and a stream that fails midway is
// not reopened. The caller must Close the stream; cancelling ctx ends it.
func Stream[T any](ctx context.Context, c *Client, req Request) (*sse.Stream[T], error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, errors.Validation(fmt.Sprintf("httpclient: encode body: %v", err)).WithCause(err)
	}
	req.Headers = withDefault(req.Headers, "Accept", "text/event-stream")
	ctx, requestID := c.requestContext(ctx, req)

	var resp *http.Response
	err = c.dispatch(ctx, func(ctx context.Context) error {
		r, err := c.connect(ctx, req, body, requestID)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sse.NewStream[T](resp.Body, c.streamOptions()...), nil
}

// Gate returns the dispatch gate, or nil when none is configured.
func (c *Client) Gate() *resilience.Gate { return c.gate }

// Unwrap returns the underlying *http.Client for advanced use cases.
func (c *Client) Unwrap() *http.Client {
	return c.httpClient
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// dispatch layers the gate around the retrier: a retried call holds one
// slot and counts once against the quota.
func (c *Client) dispatch(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := op
	if c.retrier != nil {
		attempts = func(ctx context.Context) error {
			return c.retrier.Execute(ctx, op, c.observer)
		}
	}
	if c.gate != nil {
		return c.gate.Submit(ctx, attempts)
	}
	return attempts(ctx)
}

// executeRequest sends one attempt and reads the whole response.
func (c *Client) executeRequest(ctx context.Context, req Request, body *payload, requestID string) (*Response, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanHTTPRequest)
	defer span.End()

	httpReq, err := c.buildRequest(ctx, req, body, requestID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = transportError(ctx, err)
		c.finish(ctx, httpReq, 0, start, err)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		err = transportError(ctx, fmt.Errorf("read response body: %w", err))
		c.finish(ctx, httpReq, resp.StatusCode, start, err)
		return nil, err
	}

	result := &Response{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       data,
		RequestID:  requestID,
	}
	if classErr := errors.ClassifyStatus(resp.StatusCode, data); classErr != nil {
		c.finish(ctx, httpReq, resp.StatusCode, start, classErr)
		return result, classErr
	}
	c.finish(ctx, httpReq, resp.StatusCode, start, nil)
	return result, nil
}

// connect opens a streaming response and checks its status.
func (c *Client) connect(ctx context.Context, req Request, body *payload, requestID string) (*http.Response, error) {
	spanCtx, span := observability.StartSpan(ctx, observability.SpanHTTPStream)
	defer span.End()

	// The request keeps ctx rather than the span context so the body
	// outlives the connect span.
	httpReq, err := c.buildRequest(ctx, req, body, requestID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		err = transportError(ctx, err)
		c.finish(spanCtx, httpReq, 0, start, err)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		classErr := errors.ClassifyStatus(resp.StatusCode, data)
		c.finish(spanCtx, httpReq, resp.StatusCode, start, classErr)
		return nil, classErr
	}
	c.finish(spanCtx, httpReq, resp.StatusCode, start, nil)
	return resp, nil
}

// buildRequest constructs an *http.Request from the client config and request.
func (c *Client) buildRequest(ctx context.Context, req Request, body *payload, requestID string) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, resolveURL(c.config.BaseURL, req.Path), body.reader())
	if err != nil {
		return nil, errors.Validation(fmt.Sprintf("httpclient: create request: %v", err)).WithCause(err)
	}

	if len(req.Query) > 0 {
		q := httpReq.URL.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}

	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	// request-specific headers override defaults
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}
	httpReq.Header.Set(HeaderRequestID, requestID)
	if body != nil && body.contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", body.contentType)
	}

	return httpReq, nil
}

// requestContext picks the request ID for a call: the one set on the request,
// then one already carried by ctx, else a fresh one. All attempts share it.
func (c *Client) requestContext(ctx context.Context, req Request) (context.Context, string) {
	id := ""
	for k, v := range req.Headers {
		if http.CanonicalHeaderKey(k) == HeaderRequestID {
			id = v
		}
	}
	if id == "" {
		id = logger.RequestIDFromContext(ctx)
	}
	if id == "" {
		id = uuid.NewString()
	}
	return logger.ContextWithRequestID(ctx, id), id
}

// finish records the outcome of one attempt on the span, metrics and log.
func (c *Client) finish(ctx context.Context, req *http.Request, status int, start time.Time, err error) {
	elapsed := time.Since(start)

	observability.SetSpanAttribute(ctx, observability.AttrHTTPMethod, req.Method)
	observability.SetSpanAttribute(ctx, observability.AttrHTTPURL, req.URL.String())
	observability.SetSpanAttribute(ctx, observability.AttrRequestID, logger.RequestIDFromContext(ctx))

	statusLabel := "error"
	if status > 0 {
		statusLabel = strconv.Itoa(status)
		observability.SetSpanAttribute(ctx, observability.AttrHTTPStatus, status)
	}
	c.metrics.RecordRequest(ctx, req.Method, statusLabel, elapsed)

	log := c.log.WithContext(ctx)
	fields := logger.Fields(
		logger.FieldMethod, req.Method,
		logger.FieldURL, req.URL.String(),
		logger.FieldStatus, status,
		logger.FieldDuration, elapsed.Milliseconds(),
	)
	if rc, ok := resilience.RetryContextFrom(ctx); ok {
		fields[logger.FieldAttempt] = rc.Attempt
	}
	if err != nil {
		observability.SetSpanError(ctx, err)
		observability.SetSpanAttribute(ctx, observability.AttrErrorCode, string(errors.CodeOf(err)))
		log.Warn("request failed", logger.MergeWithError(fields, err))
		return
	}
	log.Debug("request completed", fields)
}

func (c *Client) streamOptions() []sse.Option {
	return []sse.Option{
		sse.WithLogger(c.base.WithComponent("sse")),
		sse.WithMetrics(c.metrics),
		sse.WithMaxLineSize(c.config.MaxLineSize),
	}
}

// transportError maps a failed round trip onto the error taxonomy.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if stderrors.Is(ctxErr, context.DeadlineExceeded) {
			return errors.Timeout("http request", err)
		}
		return errors.Aborted(ctxErr)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Timeout("http request", err)
	}
	return errors.Network(err)
}

// withDefault returns headers with key set to value unless already present.
// The caller's map is never modified.
func withDefault(headers map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == key {
			return headers
		}
		out[k] = v
	}
	out[key] = value
	return out
}

// flattenHeaders converts multi-value headers to single-value.
func flattenHeaders(h http.Header) map[string]string {
	result := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			result[k] = v[0]
		}
	}
	return result
}

func truncateBody(b []byte) string {
	const limit = 256
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
