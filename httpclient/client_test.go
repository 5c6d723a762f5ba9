package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/sync/errgroup"

	"github.com/kbukum/streamkit/errors"
	"github.com/kbukum/streamkit/logger"
	"github.com/kbukum/streamkit/observability"
	"github.com/kbukum/streamkit/resilience"
)

func fastRetry(maxRetries int) *resilience.RetryPolicy {
	p := resilience.DefaultRetryPolicy().
		WithMaxRetries(maxRetries).
		WithInitialDelay(time.Millisecond).
		WithMaxDelay(5 * time.Millisecond).
		WithJitter(false)
	return &p
}

func newClient(t *testing.T, cfg Config, opts ...Option) *Client {
	t.Helper()
	c, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_Do_GET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/models/abc" {
			t.Errorf("expected /models/abc, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "abc"})
	}))
	defer srv.Close()

	c := newClient(t, Config{BaseURL: srv.URL})
	resp, err := c.Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/models/abc",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if !resp.IsSuccess() || resp.IsError() {
		t.Error("expected IsSuccess=true")
	}
	if !strings.Contains(string(resp.Body), "abc") {
		t.Errorf("response body should contain abc, got %s", string(resp.Body))
	}
	if resp.Headers["Content-Type"] != "application/json" {
		t.Errorf("expected flattened content type, got %v", resp.Headers)
	}
}

func TestClient_Do_POST_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(201)
		json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	c := newClient(t, Config{BaseURL: srv.URL})
	resp, err := c.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/messages",
		Body:   map[string]string{"prompt": "hi"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 201 {
		t.Errorf("expected 201, got %d", resp.StatusCode)
	}
}

func TestClient_Do_Headers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Custom"); got != "override" {
			t.Errorf("expected request header to win, got %q", got)
		}
		if got := r.Header.Get("X-Default"); got != "value" {
			t.Errorf("expected X-Default=value, got %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "test-agent/1.0" {
			t.Errorf("expected configured user agent, got %q", got)
		}
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("expected page=2, got %q", got)
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	c := newClient(t, Config{
		BaseURL:   srv.URL,
		UserAgent: "test-agent/1.0",
		Headers:   map[string]string{"X-Default": "value", "X-Custom": "default"},
	})
	_, err := c.Do(context.Background(), Request{
		Method:  http.MethodGet,
		Path:    "/items",
		Headers: map[string]string{"X-Custom": "override"},
		Query:   map[string]string{"page": "2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClient_Do_RequestID(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get(HeaderRequestID))
		w.WriteHeader(200)
	}))
	defer srv.Close()
	c := newClient(t, Config{BaseURL: srv.URL})

	t.Run("generated", func(t *testing.T) {
		resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
		if err != nil {
			t.Fatal(err)
		}
		id := seen.Load().(string)
		if _, err := uuid.Parse(id); err != nil {
			t.Errorf("expected a uuid request ID, got %q", id)
		}
		if resp.RequestID != id {
			t.Errorf("response request ID %q, sent %q", resp.RequestID, id)
		}
	})

	t.Run("from request", func(t *testing.T) {
		_, err := c.Do(context.Background(), Request{
			Method:  http.MethodGet,
			Path:    "/",
			Headers: map[string]string{"x-request-id": "caller-id"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if got := seen.Load().(string); got != "caller-id" {
			t.Errorf("expected caller-id, got %q", got)
		}
	})

	t.Run("from context", func(t *testing.T) {
		ctx := logger.ContextWithRequestID(context.Background(), "ctx-id")
		if _, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/"}); err != nil {
			t.Fatal(err)
		}
		if got := seen.Load().(string); got != "ctx-id" {
			t.Errorf("expected ctx-id, got %q", got)
		}
	})
}

func TestClient_Do_ErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		code   errors.ErrorCode
	}{
		{400, errors.ErrCodeInvalidRequest},
		{401, errors.ErrCodeUnauthorized},
		{403, errors.ErrCodeForbidden},
		{404, errors.ErrCodeNotFound},
		{408, errors.ErrCodeTimeout},
		{429, errors.ErrCodeRateLimited},
		{500, errors.ErrCodeServer},
		{503, errors.ErrCodeOverloaded},
		{529, errors.ErrCodeOverloaded},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("HTTP_%d", tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"upstream says no"}}`))
			}))
			defer srv.Close()

			c := newClient(t, Config{BaseURL: srv.URL})
			resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.CodeOf(err) != tt.code {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
			if errors.StatusOf(err) != tt.status {
				t.Errorf("expected status %d on error, got %d", tt.status, errors.StatusOf(err))
			}
			if resp == nil || resp.StatusCode != tt.status {
				t.Fatalf("expected response with status %d even on error, got %+v", tt.status, resp)
			}
			appErr, _ := errors.AsAppError(err)
			if appErr.Message != "upstream says no" {
				t.Errorf("expected body message, got %q", appErr.Message)
			}
		})
	}
}

func TestClient_Do_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newClient(t, Config{BaseURL: url})
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
	if !errors.IsNetwork(err) {
		t.Fatalf("expected NETWORK_ERROR, got %v", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("network errors should be retryable")
	}
}

func TestClient_Do_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newClient(t, Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
	if !errors.IsTimeout(err) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
}

func TestClient_Do_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newClient(t, Config{BaseURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/"})
	if !errors.IsAborted(err) {
		t.Fatalf("expected ABORTED for a cancelled context, got %v", err)
	}
}

func TestClient_Do_FullURL_IgnoresBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer srv.Close()

	c := newClient(t, Config{BaseURL: "http://should-not-be-used.invalid"})
	resp, err := c.Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   srv.URL + "/direct",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestClient_Do_Retry(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("attempt %d got body %q", atomic.LoadInt32(&attempts)+1, body)
		}
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(503)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var observed []int
	c := newClient(t, Config{BaseURL: srv.URL, Retry: fastRetry(3)},
		WithRetryObserver(func(attempt int, _ time.Duration, err error) {
			if !errors.IsOverloaded(err) {
				t.Errorf("observer got %v", err)
			}
			observed = append(observed, attempt)
		}))

	resp, err := c.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/",
		Body:   strings.NewReader("payload"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if len(observed) != 2 || observed[0] != 1 || observed[1] != 2 {
		t.Errorf("observer saw attempts %v, want [1 2]", observed)
	}
}

func TestClient_Do_RetryExhausted(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(500)
	}))
	defer srv.Close()

	c := newClient(t, Config{BaseURL: srv.URL, Retry: fastRetry(2)})
	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
	if errors.CodeOf(err) != errors.ErrCodeServer {
		t.Fatalf("expected the last SERVER_ERROR, got %v", err)
	}
	if resp == nil || resp.StatusCode != 500 {
		t.Error("expected the last response alongside the error")
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestClient_Do_NonRetryableNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(401)
	}))
	defer srv.Close()

	c := newClient(t, Config{BaseURL: srv.URL, Retry: fastRetry(3)})
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
	if !errors.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestClient_Gate_ConcurrencyCeiling(t *testing.T) {
	var inFlight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}))
	defer srv.Close()

	gate := resilience.DefaultGateConfig("api")
	gate.MaxConcurrent = 2
	c := newClient(t, Config{BaseURL: srv.URL, Gate: &gate})

	var g errgroup.Group
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Errorf("server saw %d concurrent requests, ceiling is 2", p)
	}
	if stats := c.Gate().Stats(); stats.InFlight != 0 || stats.Queued != 0 {
		t.Errorf("gate not drained: %+v", stats)
	}
}

func TestClient_Gate_QuotaNeverTouchesNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := newClient(t, Config{BaseURL: srv.URL, Gate: &resilience.GateConfig{
		Name: "api", MaxConcurrent: 4, RequestsPerMinute: 2,
	}})

	for i := 0; i < 2; i++ {
		if _, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"}); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
	if !errors.IsQuotaExceeded(err) {
		t.Fatalf("expected QUOTA_EXCEEDED, got %v", err)
	}
	if resp != nil {
		t.Error("a rejected call has no response")
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
}

func TestClient_RetriedCallCountsOnceAgainstQuota(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(429)
		}
	}))
	defer srv.Close()

	c := newClient(t, Config{
		BaseURL: srv.URL,
		Retry:   fastRetry(3),
		Gate:    &resilience.GateConfig{Name: "api", MaxConcurrent: 1, RequestsPerMinute: 1},
	})
	if _, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"}); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
	if n := c.Gate().Stats().WindowCount; n != 1 {
		t.Errorf("window count = %d, want 1", n)
	}
}

type model struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
}

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected JSON accept header, got %q", r.Header.Get("Accept"))
		}
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"id":"m1","owner":"lab"}`))
		case "/broken":
			w.Write([]byte(`{"id":`))
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()
	c := newClient(t, Config{BaseURL: srv.URL})
	ctx := context.Background()

	m, err := DoJSON[model](ctx, c, Request{Method: http.MethodGet, Path: "/ok"})
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != "m1" || m.Owner != "lab" {
		t.Errorf("decoded %+v", m)
	}

	if _, err := DoJSON[model](ctx, c, Request{Method: http.MethodGet, Path: "/broken"}); !errors.IsDecode(err) {
		t.Errorf("expected DECODE_ERROR, got %v", err)
	}
	if _, err := DoJSON[model](ctx, c, Request{Method: http.MethodGet, Path: "/missing"}); !errors.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestWithDefault_DoesNotMutate(t *testing.T) {
	headers := map[string]string{"X-A": "1"}
	out := withDefault(headers, "Accept", "text/event-stream")
	if _, ok := headers["Accept"]; ok {
		t.Error("caller headers were modified")
	}
	if out["Accept"] != "text/event-stream" || out["X-A"] != "1" {
		t.Errorf("unexpected headers %v", out)
	}
	custom := map[string]string{"accept": "application/x-ndjson"}
	if got := withDefault(custom, "Accept", "text/event-stream"); got["accept"] != "application/x-ndjson" {
		t.Errorf("existing header should win, got %v", got)
	}
}

func TestClient_Do_RecordsSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	defer otel.SetTracerProvider(prev)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(202)
	}))
	defer srv.Close()

	c := newClient(t, Config{BaseURL: srv.URL})
	if _, err := c.Do(context.Background(), Request{Method: http.MethodPut, Path: "/"}); err != nil {
		t.Fatal(err)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != observability.SpanHTTPRequest {
		t.Errorf("span name = %q", spans[0].Name())
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs[observability.AttrHTTPMethod].AsString() != http.MethodPut {
		t.Errorf("method attribute = %v", attrs[observability.AttrHTTPMethod])
	}
	if attrs[observability.AttrHTTPStatus].AsInt64() != 202 {
		t.Errorf("status attribute = %v", attrs[observability.AttrHTTPStatus])
	}
}

func TestClient_HTTP2(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%d", r.ProtoMajor)
	}))
	srv.EnableHTTP2 = true
	srv.StartTLS()
	defer srv.Close()

	c := newClient(t, Config{BaseURL: srv.URL, HTTP2: HTTP2Config{Enabled: true}})
	tr := c.Unwrap().Transport.(*http.Transport)
	tr.TLSClientConfig.RootCAs = srv.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs

	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "2" {
		t.Errorf("expected an HTTP/2 request, server saw HTTP/%s", resp.Body)
	}
}
