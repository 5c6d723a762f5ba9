// Package httpclient is the client facade of the runtime: an HTTP client
// whose calls pass through a dispatch gate and a retry policy, with
// server-sent event streams decoded by the sse subpackage.
//
// A non-streaming call is admitted by the gate once and retried inside its
// slot, so retries never count twice against the quota. A streaming call is
// gated and retried only until the response headers arrive; the stream
// itself is read outside the gate.
//
// # Basic Usage
//
//	retry := resilience.DefaultRetryPolicy()
//	gate := resilience.GateConfig{Name: "api", MaxConcurrent: 4, RequestsPerMinute: 50}
//	client, err := httpclient.New(httpclient.Config{
//	    BaseURL: "https://api.example.com",
//	    Retry:   &retry,
//	    Gate:    &gate,
//	})
//
//	resp, err := client.Do(ctx, httpclient.Request{
//	    Method: http.MethodGet,
//	    Path:   "/v1/models",
//	})
//
// # Streaming
//
//	stream, err := httpclient.Stream[map[string]any](ctx, client, httpclient.Request{
//	    Method: http.MethodPost,
//	    Path:   "/v1/chat/completions",
//	    Body:   body,
//	})
//	defer stream.Close()
//	for {
//	    msg, ok, err := stream.Next(ctx)
//	    ...
//	}
package httpclient
