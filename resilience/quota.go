package resilience

import (
	"context"
	"sync"
	"time"
)

// DefaultQuotaWindow is the span over which RequestsPerMinute is counted.
const DefaultQuotaWindow = time.Minute

// QuotaWindow records admissions and decides whether another one fits in the
// trailing window ending at now.
type QuotaWindow interface {
	// Admit records an admission at now if fewer than Limit admissions
	// happened in the trailing window, and reports whether it did.
	Admit(ctx context.Context, now time.Time) (bool, error)
	// Count returns the admissions within the trailing window ending at now.
	Count(ctx context.Context, now time.Time) (int, error)
	// Limit returns the maximum admissions per window.
	Limit() int
}

// MemoryWindow is an in-process QuotaWindow keeping admission timestamps
// in arrival order.
type MemoryWindow struct {
	limit  int
	length time.Duration

	mu     sync.Mutex
	stamps []time.Time
}

// NewMemoryWindow creates a window admitting at most limit entries per length.
func NewMemoryWindow(limit int, length time.Duration) *MemoryWindow {
	if length <= 0 {
		length = DefaultQuotaWindow
	}
	return &MemoryWindow{limit: limit, length: length, stamps: make([]time.Time, 0, limit)}
}

// Admit implements QuotaWindow.
func (w *MemoryWindow) Admit(_ context.Context, now time.Time) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now)
	if len(w.stamps) >= w.limit {
		return false, nil
	}
	w.stamps = append(w.stamps, now)
	return true, nil
}

// Count implements QuotaWindow.
func (w *MemoryWindow) Count(_ context.Context, now time.Time) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now)
	return len(w.stamps), nil
}

// Limit implements QuotaWindow.
func (w *MemoryWindow) Limit() int { return w.limit }

// Length returns the window span.
func (w *MemoryWindow) Length() time.Duration { return w.length }

// evict drops admissions that are a full window or more in the past.
func (w *MemoryWindow) evict(now time.Time) {
	cutoff := now.Add(-w.length)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		n := copy(w.stamps, w.stamps[i:])
		w.stamps = w.stamps[:n]
	}
}
