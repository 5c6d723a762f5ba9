package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/kbukum/streamkit/errors"
	"github.com/kbukum/streamkit/logger"
	"github.com/kbukum/streamkit/observability"
)

// jitterSpread is the maximum relative deviation applied to a jittered delay.
const jitterSpread = 0.25

// RetryPolicy describes when and how long to wait before retrying a failed
// operation. It is a plain value: the With methods return modified copies and
// never touch the receiver, so one policy can be shared freely.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero means the operation is attempted exactly once.
	MaxRetries int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the computed wait. Zero disables the cap.
	MaxDelay time.Duration
	// BackoffMultiplier grows the wait after each retry.
	BackoffMultiplier float64
	// Jitter perturbs each wait by up to ±25%.
	Jitter bool
	// RetryableStatusCodes lists HTTP statuses that are worth retrying.
	RetryableStatusCodes []int
	// RetryableCodes lists error codes that are worth retrying.
	RetryableCodes []errors.ErrorCode
}

// DefaultRetryableStatusCodes are the statuses retried by DefaultRetryPolicy.
func DefaultRetryableStatusCodes() []int {
	return []int{408, 409, 429, 500, 502, 503, 504, errors.StatusSiteOverloaded}
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:           3,
		InitialDelay:         time.Second,
		MaxDelay:             60 * time.Second,
		BackoffMultiplier:    2.0,
		Jitter:               true,
		RetryableStatusCodes: DefaultRetryableStatusCodes(),
		RetryableCodes:       errors.TransientCodes(),
	}
}

// WithMaxRetries returns a copy with MaxRetries set.
func (p RetryPolicy) WithMaxRetries(n int) RetryPolicy {
	p.MaxRetries = n
	return p.clone()
}

// WithInitialDelay returns a copy with InitialDelay set.
func (p RetryPolicy) WithInitialDelay(d time.Duration) RetryPolicy {
	p.InitialDelay = d
	return p.clone()
}

// WithMaxDelay returns a copy with MaxDelay set.
func (p RetryPolicy) WithMaxDelay(d time.Duration) RetryPolicy {
	p.MaxDelay = d
	return p.clone()
}

// WithBackoffMultiplier returns a copy with BackoffMultiplier set.
func (p RetryPolicy) WithBackoffMultiplier(m float64) RetryPolicy {
	p.BackoffMultiplier = m
	return p.clone()
}

// WithJitter returns a copy with Jitter set.
func (p RetryPolicy) WithJitter(on bool) RetryPolicy {
	p.Jitter = on
	return p.clone()
}

// WithRetryableStatusCodes returns a copy that retries the given statuses in
// addition to errors flagged retryable.
func (p RetryPolicy) WithRetryableStatusCodes(codes ...int) RetryPolicy {
	p.RetryableStatusCodes = slices.Clone(codes)
	return p.clone()
}

// WithRetryableCodes returns a copy that retries the given error codes in
// addition to errors flagged retryable.
func (p RetryPolicy) WithRetryableCodes(codes ...errors.ErrorCode) RetryPolicy {
	p.RetryableCodes = slices.Clone(codes)
	return p.clone()
}

// clone detaches the slices so the copy shares nothing with the original.
func (p RetryPolicy) clone() RetryPolicy {
	p.RetryableStatusCodes = slices.Clone(p.RetryableStatusCodes)
	p.RetryableCodes = slices.Clone(p.RetryableCodes)
	return p
}

// Validate reports an invalid policy.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return errors.Validation("retry: max retries must not be negative")
	case p.InitialDelay < 0 || p.MaxDelay < 0:
		return errors.Validation("retry: delays must not be negative")
	case p.BackoffMultiplier < 1:
		return errors.Validation("retry: backoff multiplier must be at least 1")
	}
	return nil
}

// Delay returns the un-jittered wait after failed attempt n (1-indexed):
// min(MaxDelay, InitialDelay * BackoffMultiplier^(n-1)).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && (d > float64(p.MaxDelay) || math.IsInf(d, 1)) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// IsRetryable reports whether err qualifies for another attempt. An error
// qualifies when it carries a listed status, a listed code, or its own
// Retryable flag. Context cancellation never qualifies.
func (p RetryPolicy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	appErr, ok := errors.AsAppError(err)
	if !ok {
		return false
	}
	if appErr.Code == errors.ErrCodeAborted {
		return false
	}
	if appErr.Retryable {
		return true
	}
	if appErr.HasStatus() && slices.Contains(p.RetryableStatusCodes, appErr.StatusCode) {
		return true
	}
	return slices.Contains(p.RetryableCodes, appErr.Code)
}

// RetryObserver is notified before each backoff wait with the failed attempt
// number, the wait that follows and the error that caused it.
type RetryObserver func(attempt int, delay time.Duration, err error)

// RetryContext describes the attempt an operation is running as.
type RetryContext struct {
	// Attempt is the 1-indexed attempt number.
	Attempt int
	// LastErr is the error of the previous attempt, nil on the first.
	LastErr error
	// TotalDelay is the time spent in backoff so far.
	TotalDelay time.Duration
}

type retryContextKey struct{}

// RetryContextFrom returns the RetryContext of the attempt running under ctx.
func RetryContextFrom(ctx context.Context) (RetryContext, bool) {
	rc, ok := ctx.Value(retryContextKey{}).(RetryContext)
	return rc, ok
}

// RandSource yields uniform values in [0, 1).
type RandSource interface {
	Float64() float64
}

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retrier executes operations under a RetryPolicy. It is safe for concurrent use.
type Retrier struct {
	policy  RetryPolicy
	sleep   Sleeper
	log     *logger.Logger
	metrics *observability.RuntimeMetrics

	mu  sync.Mutex
	rnd RandSource
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithRand sets the jitter source.
func WithRand(src RandSource) RetrierOption {
	return func(r *Retrier) { r.rnd = src }
}

// WithSleeper replaces the backoff wait.
func WithSleeper(s Sleeper) RetrierOption {
	return func(r *Retrier) { r.sleep = s }
}

// WithRetryLogger sets the logger for retry decisions.
func WithRetryLogger(log *logger.Logger) RetrierOption {
	return func(r *Retrier) { r.log = log.WithComponent("retry") }
}

// WithRetryMetrics records retries and exhaustion.
func WithRetryMetrics(m *observability.RuntimeMetrics) RetrierOption {
	return func(r *Retrier) { r.metrics = m }
}

// NewRetrier creates a Retrier for policy.
func NewRetrier(policy RetryPolicy, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		policy: policy.clone(),
		sleep:  SleepContext,
		log:    logger.Nop(),
		rnd:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns a copy of the retrier's policy.
func (r *Retrier) Policy() RetryPolicy { return r.policy.clone() }

// DelayFor returns the wait after failed attempt n, jittered when the policy
// asks for it. Jitter is applied after the cap, so a jittered wait may exceed
// MaxDelay by up to 25%.
func (r *Retrier) DelayFor(attempt int) time.Duration {
	d := r.policy.Delay(attempt)
	if !r.policy.Jitter || d <= 0 {
		return d
	}
	r.mu.Lock()
	u := r.rnd.Float64()
	r.mu.Unlock()
	return time.Duration(float64(d) * (1 + (2*u-1)*jitterSpread))
}

// Execute runs op until it succeeds, fails with an error the policy does not
// retry, or runs out of attempts. The error of the last attempt is returned
// as is. If ctx ends during a backoff wait, an Aborted error wrapping the
// context error is returned instead.
func (r *Retrier) Execute(ctx context.Context, op func(ctx context.Context) error, observer RetryObserver) error {
	rc := RetryContext{}
	for attempt := 1; ; attempt++ {
		rc.Attempt = attempt
		err := op(context.WithValue(ctx, retryContextKey{}, rc))
		if err == nil {
			return nil
		}

		if ctx.Err() != nil || !r.policy.IsRetryable(err) {
			return err
		}
		if attempt > r.policy.MaxRetries {
			r.metrics.RecordRetryExhausted(ctx, string(errors.CodeOf(err)))
			r.log.Warn("retries exhausted", logger.Fields(
				logger.FieldAttempt, attempt,
				logger.FieldError, err.Error(),
			))
			return err
		}

		delay := r.DelayFor(attempt)
		if observer != nil {
			observer(attempt, delay, err)
		}
		r.metrics.RecordRetry(ctx, attempt, string(errors.CodeOf(err)))
		r.log.Debug("retrying after failure", logger.Fields(
			logger.FieldAttempt, attempt,
			logger.FieldDelay, delay.Milliseconds(),
			logger.FieldError, err.Error(),
		))

		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return errors.Aborted(sleepErr)
		}
		rc.LastErr = err
		rc.TotalDelay += delay
	}
}

// Do is the value-returning form of Execute.
func Do[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error), observer RetryObserver) (T, error) {
	var result T
	err := r.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, observer)
	return result, err
}
