// Package resilience provides the retry engine and the dispatch gate used to
// call a remote, rate-limited API.
//
// This package includes:
//   - Retrier: retries failed operations with capped exponential backoff and jitter
//   - Gate: limits concurrent operations and enforces a rolling request quota
//   - QuotaWindow: the admission log behind a gate's quota
//
// A gate admits a call once and the retrier retries inside that admission,
// so a retried call occupies one slot and one unit of quota:
//
//	gate := resilience.NewGate(resilience.GateConfig{Name: "api", MaxConcurrent: 4, RequestsPerMinute: 50})
//	retrier := resilience.NewRetrier(resilience.DefaultRetryPolicy())
//
//	err := gate.Submit(ctx, func(ctx context.Context) error {
//	    return retrier.Execute(ctx, callAPI, nil)
//	})
package resilience
