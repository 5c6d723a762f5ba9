package resilience

import (
	"context"
	stderrors "errors"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/streamkit/errors"
)

// fixedRand always yields the same value.
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

// recordSleeps returns a sleeper that records waits without blocking.
func recordSleeps(delays *[]time.Duration) Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func testPolicy() RetryPolicy {
	return DefaultRetryPolicy().
		WithInitialDelay(100 * time.Millisecond).
		WithMaxDelay(10 * time.Second).
		WithJitter(false)
}

func TestRetrier_SucceedsOnFirstAttempt(t *testing.T) {
	var sleeps []time.Duration
	r := NewRetrier(testPolicy(), WithSleeper(recordSleeps(&sleeps)))
	callCount := 0

	result, err := Do(context.Background(), r, func(ctx context.Context) (string, error) {
		callCount++
		return "success", nil
	}, nil)

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got %s", result)
	}
	if callCount != 1 || len(sleeps) != 0 {
		t.Errorf("expected 1 call and no sleeps, got %d calls, %d sleeps", callCount, len(sleeps))
	}
}

func TestRetrier_SucceedsAfterRetry(t *testing.T) {
	var sleeps []time.Duration
	r := NewRetrier(testPolicy(), WithSleeper(recordSleeps(&sleeps)))
	callCount := 0

	result, err := Do(context.Background(), r, func(ctx context.Context) (int, error) {
		callCount++
		if callCount < 3 {
			return 0, errors.Server(502, "bad gateway")
		}
		return 42, nil
	}, nil)

	if err != nil || result != 42 {
		t.Errorf("expected 42, got %d (%v)", result, err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetrier_ExhaustionReturnsLastErrorUnchanged(t *testing.T) {
	var sleeps []time.Duration
	r := NewRetrier(testPolicy().WithMaxRetries(3), WithSleeper(recordSleeps(&sleeps)))

	var attempts int32
	var last error
	var observed []int
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		n := atomic.AddInt32(&attempts, 1)
		last = errors.Overloaded(503, "busy").WithDetail("attempt", n)
		return last
	}, func(attempt int, delay time.Duration, err error) {
		observed = append(observed, attempt)
	})

	if attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", attempts)
	}
	if err != last {
		t.Errorf("expected the last error itself, got %v", err)
	}
	if len(observed) != 3 || observed[0] != 1 || observed[2] != 3 {
		t.Errorf("expected observer for attempts [1 2 3], got %v", observed)
	}
}

func TestRetrier_NonRetryableShortCircuits(t *testing.T) {
	var sleeps []time.Duration
	r := NewRetrier(testPolicy(), WithSleeper(recordSleeps(&sleeps)))
	observerCalls := 0

	badRequest := errors.InvalidRequest(400, "bad field")
	callCount := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		return badRequest
	}, func(int, time.Duration, error) { observerCalls++ })

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if err != badRequest {
		t.Errorf("expected original error, got %v", err)
	}
	if observerCalls != 0 || len(sleeps) != 0 {
		t.Error("expected no observer call and no sleep")
	}
}

func TestRetrier_MaxRetriesZero(t *testing.T) {
	r := NewRetrier(testPolicy().WithMaxRetries(0), WithSleeper(recordSleeps(new([]time.Duration))))
	callCount := 0
	_ = r.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		return errors.Network(nil)
	}, nil)
	if callCount != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", callCount)
	}
}

func TestRetrier_BackoffSequence(t *testing.T) {
	var sleeps []time.Duration
	r := NewRetrier(testPolicy().WithMaxRetries(5), WithSleeper(recordSleeps(&sleeps)))

	_ = r.Execute(context.Background(), func(ctx context.Context) error {
		return errors.Network(nil)
	}, nil)

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
	}
	if len(sleeps) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i+1, sleeps[i], want[i])
		}
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 3 * time.Second, BackoffMultiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 3 * time.Second},
		{50, 3 * time.Second},
		{5000, 3 * time.Second},
	}
	for _, tc := range tests {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRetrier_JitterBounds(t *testing.T) {
	p := testPolicy().WithJitter(true)

	low := NewRetrier(p, WithRand(fixedRand(0)))
	if got := low.DelayFor(1); got != 75*time.Millisecond {
		t.Errorf("u=0: got %v, want 75ms", got)
	}
	mid := NewRetrier(p, WithRand(fixedRand(0.5)))
	if got := mid.DelayFor(1); got != 100*time.Millisecond {
		t.Errorf("u=0.5: got %v, want 100ms", got)
	}

	r := NewRetrier(p, WithRand(rand.New(rand.NewPCG(1, 2))))
	for attempt := 1; attempt <= 8; attempt++ {
		base := p.Delay(attempt)
		for i := 0; i < 200; i++ {
			d := r.DelayFor(attempt)
			if d < base*3/4 || d > base*5/4 {
				t.Fatalf("attempt %d: jittered delay %v outside [%v, %v]", attempt, d, base*3/4, base*5/4)
			}
		}
	}
}

func TestRetrier_JitterAppliedAfterCap(t *testing.T) {
	p := testPolicy().WithJitter(true).WithMaxDelay(time.Second)
	r := NewRetrier(p, WithRand(fixedRand(0.99)))
	if got := r.DelayFor(20); got <= time.Second {
		t.Errorf("expected jitter to push a capped delay above MaxDelay, got %v", got)
	}
}

func TestRetrier_InterruptedBackoff(t *testing.T) {
	r := NewRetrier(testPolicy().WithInitialDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	callCount := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Execute(ctx, func(ctx context.Context) error {
			callCount++
			return errors.Network(nil)
		}, func(int, time.Duration, error) { cancel() })
	}()

	select {
	case err := <-done:
		if !errors.IsAborted(err) {
			t.Errorf("expected aborted error, got %v", err)
		}
		if !stderrors.Is(err, context.Canceled) {
			t.Errorf("expected cause context.Canceled, got %v", err)
		}
		if callCount != 1 {
			t.Errorf("expected 1 attempt, got %d", callCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backoff was not interrupted")
	}
}

func TestRetrier_CancelledDuringAttempt(t *testing.T) {
	r := NewRetrier(testPolicy(), WithSleeper(recordSleeps(new([]time.Duration))))
	ctx, cancel := context.WithCancel(context.Background())

	opErr := errors.Network(context.Canceled)
	callCount := 0
	err := r.Execute(ctx, func(ctx context.Context) error {
		callCount++
		cancel()
		return opErr
	}, nil)

	if err != opErr || callCount != 1 {
		t.Errorf("expected the attempt's error after 1 call, got %v after %d", err, callCount)
	}
}

func TestRetrier_RetryContext(t *testing.T) {
	r := NewRetrier(testPolicy(), WithSleeper(recordSleeps(new([]time.Duration))))

	var seen []RetryContext
	_ = r.Execute(context.Background(), func(ctx context.Context) error {
		rc, ok := RetryContextFrom(ctx)
		if !ok {
			t.Fatal("expected retry context")
		}
		seen = append(seen, rc)
		return errors.Timeout("call", nil)
	}, nil)

	if len(seen) != 4 {
		t.Fatalf("expected 4 attempts, got %d", len(seen))
	}
	if seen[0].Attempt != 1 || seen[0].LastErr != nil || seen[0].TotalDelay != 0 {
		t.Errorf("unexpected first context: %+v", seen[0])
	}
	if seen[3].Attempt != 4 || seen[3].LastErr == nil || seen[3].TotalDelay != 700*time.Millisecond {
		t.Errorf("unexpected last context: %+v", seen[3])
	}
	if _, ok := RetryContextFrom(context.Background()); ok {
		t.Error("expected no retry context outside Execute")
	}
}

func TestRetryPolicy_IsRetryable(t *testing.T) {
	p := DefaultRetryPolicy()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", stderrors.New("boom"), false},
		{"context canceled", context.Canceled, false},
		{"aborted", errors.Aborted(context.Canceled), false},
		{"network", errors.Network(stderrors.New("reset")), true},
		{"timeout", errors.Timeout("read", nil), true},
		{"408", errors.ClassifyStatus(408, nil), true},
		{"409 conflict", errors.ClassifyStatus(409, nil), true},
		{"429", errors.ClassifyStatus(429, nil), true},
		{"529", errors.ClassifyStatus(529, nil), true},
		{"400", errors.ClassifyStatus(400, nil), false},
		{"401", errors.ClassifyStatus(401, nil), false},
		{"501", errors.ClassifyStatus(501, nil), true},
		{"decode", errors.Decode("x", nil), false},
		{"quota", errors.QuotaExceeded("api", 1), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRetryPolicy_NarrowedLists(t *testing.T) {
	p := DefaultRetryPolicy().WithRetryableStatusCodes(503).WithRetryableCodes()

	// Validation errors carry no retryable flag, so only the list can admit them.
	if p.IsRetryable(errors.ClassifyStatus(422, nil)) {
		t.Error("422 should not be retried when only 503 is listed")
	}
	if !p.WithRetryableStatusCodes(422).IsRetryable(errors.ClassifyStatus(422, nil)) {
		t.Error("a listed 422 should be retried")
	}
	if !p.IsRetryable(errors.Overloaded(503, "")) {
		t.Error("503 should be retried")
	}
	if !p.IsRetryable(errors.Server(500, "")) {
		t.Error("an error flagged retryable qualifies even when its status is not listed")
	}

	listed := RetryPolicy{MaxRetries: 1, RetryableCodes: []errors.ErrorCode{errors.ErrCodeDecode}}
	if !listed.IsRetryable(errors.Decode("x", nil)) {
		t.Error("a listed code should be retried")
	}
}

func TestRetrier_RetriesFlaggedErrorOutsideLists(t *testing.T) {
	var sleeps []time.Duration
	r := NewRetrier(DefaultRetryPolicy().WithJitter(false), WithSleeper(recordSleeps(&sleeps)))
	busy := &errors.AppError{Code: "UPSTREAM_BUSY", Message: "busy", Retryable: true}

	attempts := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return busy
	}, nil)

	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
	if err != busy {
		t.Errorf("expected the last error unchanged, got %v", err)
	}
	if len(sleeps) != 3 || sleeps[0] != time.Second {
		t.Errorf("sleeps = %v", sleeps)
	}
}

func TestRetryPolicy_CopiesAreIndependent(t *testing.T) {
	base := DefaultRetryPolicy()
	derived := base.WithMaxRetries(7).WithRetryableStatusCodes(500)
	derived.RetryableStatusCodes[0] = 999

	if base.MaxRetries != 3 {
		t.Errorf("base MaxRetries changed to %d", base.MaxRetries)
	}
	if len(base.RetryableStatusCodes) != 8 || base.RetryableStatusCodes[0] != 408 {
		t.Errorf("base status codes changed: %v", base.RetryableStatusCodes)
	}

	r := NewRetrier(base)
	base.RetryableCodes[0] = errors.ErrCodeDecode
	if r.Policy().RetryableCodes[0] == errors.ErrCodeDecode {
		t.Error("retrier must not share slices with the caller's policy")
	}
}

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{"default", DefaultRetryPolicy(), false},
		{"negative retries", DefaultRetryPolicy().WithMaxRetries(-1), true},
		{"negative delay", DefaultRetryPolicy().WithInitialDelay(-time.Second), true},
		{"shrinking backoff", DefaultRetryPolicy().WithBackoffMultiplier(0.5), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.policy.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestSleepContext(t *testing.T) {
	if err := SleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); !stderrors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
