package resilience

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/kbukum/streamkit/errors"
	"github.com/kbukum/streamkit/logger"
	"github.com/kbukum/streamkit/observability"
)

// DefaultAdmitTimeout bounds one quota window admission. The gate lock is held
// for its duration.
const DefaultAdmitTimeout = 5 * time.Second

// GateConfig configures a dispatch gate.
type GateConfig struct {
	// Name identifies this gate for metrics/logging.
	Name string
	// MaxConcurrent is the maximum number of operations running at once.
	MaxConcurrent int
	// RequestsPerMinute caps admissions in any trailing window. Zero disables the quota.
	RequestsPerMinute int
}

// DefaultGateConfig returns sensible defaults.
func DefaultGateConfig(name string) GateConfig {
	return GateConfig{
		Name:              name,
		MaxConcurrent:     10,
		RequestsPerMinute: 0,
	}
}

// GateStats is a snapshot of a gate's state.
type GateStats struct {
	InFlight    int
	Queued      int
	WindowCount int
}

// Gate admits operations under a concurrency ceiling and a rolling quota.
// Submissions that find no free slot wait in FIFO order; a submission that
// would exceed the quota at admission time fails with a QUOTA_EXCEEDED error
// instead of waiting.
type Gate struct {
	config       GateConfig
	window       QuotaWindow
	length       time.Duration
	admitTimeout time.Duration
	now          func() time.Time
	log          *logger.Logger
	metrics      *observability.RuntimeMetrics

	mu       sync.Mutex
	inFlight int
	waiters  list.List
}

type waiter struct {
	ctx   context.Context
	ready chan error
	elem  *list.Element
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock replaces the time source used for quota accounting.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithWindow sets the quota window length of the in-memory window.
func WithWindow(d time.Duration) GateOption {
	return func(g *Gate) { g.length = d }
}

// WithQuotaWindow replaces the in-memory admission log, e.g. with one shared
// between processes.
func WithQuotaWindow(w QuotaWindow) GateOption {
	return func(g *Gate) { g.window = w }
}

// WithAdmitTimeout bounds each quota window admission; a window that does not
// answer in time fails the submission.
func WithAdmitTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.admitTimeout = d }
}

// WithGateLogger sets the logger for admission decisions.
func WithGateLogger(log *logger.Logger) GateOption {
	return func(g *Gate) { g.log = log.WithComponent("gate") }
}

// WithGateMetrics records admissions, rejections and queue depth.
func WithGateMetrics(m *observability.RuntimeMetrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// NewGate creates a dispatch gate.
func NewGate(config GateConfig, opts ...GateOption) *Gate {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	g := &Gate{
		config:       config,
		length:       DefaultQuotaWindow,
		admitTimeout: DefaultAdmitTimeout,
		now:          time.Now,
		log:          logger.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.window == nil && config.RequestsPerMinute > 0 {
		g.window = NewMemoryWindow(config.RequestsPerMinute, g.length)
	}
	return g
}

// Name returns the gate name.
func (g *Gate) Name() string { return g.config.Name }

// MaxConcurrent returns the concurrency ceiling.
func (g *Gate) MaxConcurrent() int { return g.config.MaxConcurrent }

// Submit runs op once it is admitted. The slot is released when op returns,
// whether it succeeded or not.
func (g *Gate) Submit(ctx context.Context, op func(ctx context.Context) error) error {
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release(ctx)
	return op(ctx)
}

// Submit is the value-returning form of Gate.Submit.
func Submit[T any](ctx context.Context, g *Gate, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := g.Submit(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

// Acquire waits for admission without running anything. The caller must
// call the returned release function exactly once.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { g.release(ctx) }) }, nil
}

// Stats returns a snapshot of the gate.
func (g *Gate) Stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := GateStats{InFlight: g.inFlight, Queued: g.waiters.Len()}
	if g.window != nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.admitTimeout)
		if n, err := g.window.Count(ctx, g.now()); err == nil {
			stats.WindowCount = n
		}
		cancel()
	}
	return stats
}

func (g *Gate) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Aborted(err)
	}

	g.mu.Lock()
	if g.inFlight < g.config.MaxConcurrent && g.waiters.Len() == 0 {
		err := g.admitLocked(ctx)
		g.mu.Unlock()
		return err
	}

	w := &waiter{ctx: ctx, ready: make(chan error, 1)}
	w.elem = g.waiters.PushBack(w)
	g.metrics.RecordGateQueued(ctx, g.config.Name, 1)
	g.log.Debug("submission queued", logger.Fields(
		logger.FieldGate, g.config.Name,
		logger.FieldInFlight, g.inFlight,
		logger.FieldQueued, g.waiters.Len(),
	))
	g.mu.Unlock()

	select {
	case err := <-w.ready:
		return err
	case <-ctx.Done():
	}

	g.mu.Lock()
	select {
	case err := <-w.ready:
		// decided while we were giving up
		g.mu.Unlock()
		if err != nil {
			return err
		}
		g.release(ctx)
	default:
		g.waiters.Remove(w.elem)
		g.metrics.RecordGateQueued(ctx, g.config.Name, -1)
		g.metrics.RecordGateRejected(ctx, g.config.Name, "aborted")
		g.mu.Unlock()
	}
	return errors.Aborted(ctx.Err())
}

// admitLocked applies the quota and takes a slot. g.mu must be held.
func (g *Gate) admitLocked(ctx context.Context) error {
	if g.window != nil {
		admitCtx, cancel := context.WithTimeout(ctx, g.admitTimeout)
		ok, err := g.window.Admit(admitCtx, g.now())
		cancel()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				g.metrics.RecordGateRejected(ctx, g.config.Name, "aborted")
				return errors.Aborted(ctxErr)
			}
			g.metrics.RecordGateRejected(ctx, g.config.Name, "window_error")
			return err
		}
		if !ok {
			g.metrics.RecordGateRejected(ctx, g.config.Name, "quota")
			g.log.Warn("request quota exhausted", logger.Fields(
				logger.FieldGate, g.config.Name,
				"limit", g.window.Limit(),
			))
			return errors.QuotaExceeded(g.config.Name, g.window.Limit())
		}
	}
	g.inFlight++
	g.metrics.RecordGateAdmitted(ctx, g.config.Name)
	return nil
}

func (g *Gate) release(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.inFlight--
	g.metrics.RecordGateReleased(ctx, g.config.Name)
	g.dispatchLocked()
}

// dispatchLocked admits queued waiters in order while slots are free. A waiter
// rejected by the quota, or cancelled before its turn, is failed without
// taking a slot and the next one is evaluated.
func (g *Gate) dispatchLocked() {
	for g.inFlight < g.config.MaxConcurrent && g.waiters.Len() > 0 {
		w := g.waiters.Remove(g.waiters.Front()).(*waiter)
		g.metrics.RecordGateQueued(w.ctx, g.config.Name, -1)
		if err := w.ctx.Err(); err != nil {
			g.metrics.RecordGateRejected(w.ctx, g.config.Name, "aborted")
			w.ready <- errors.Aborted(err)
			continue
		}
		w.ready <- g.admitLocked(w.ctx)
	}
}
