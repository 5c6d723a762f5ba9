package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/streamkit/errors"
	"github.com/kbukum/streamkit/logger"
	"github.com/kbukum/streamkit/observability"
	"github.com/kbukum/streamkit/resilience"
)

// admitScript trims expired admissions, then records a new one if the
// window still has room. Returns 1 when admitted.
//
// KEYS[1] window key; ARGV: now (ms), window length (ms), limit, member.
var admitScript = goredis.NewScript(`
local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', cutoff)
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// QuotaWindow is a rolling admission log kept in a Redis sorted set, so
// several processes can share one quota. Each admission is atomic.
type QuotaWindow struct {
	client *Client
	key    string
	limit  int
	length time.Duration
	log    *logger.Logger
}

var _ resilience.QuotaWindow = (*QuotaWindow)(nil)

// NewQuotaWindow creates a window admitting at most limit entries per length.
// An empty key uses the client's configured key; a non-positive length uses
// resilience.DefaultQuotaWindow.
func NewQuotaWindow(client *Client, key string, limit int, length time.Duration) *QuotaWindow {
	if key == "" {
		key = client.cfg.Key
	}
	if length <= 0 {
		length = resilience.DefaultQuotaWindow
	}
	return &QuotaWindow{
		client: client,
		key:    key,
		limit:  limit,
		length: length,
		log:    client.log,
	}
}

// Admit records an admission at now if fewer than limit admissions fall in
// the trailing window.
func (w *QuotaWindow) Admit(ctx context.Context, now time.Time) (bool, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanRedisAdmit)
	defer span.End()

	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()
	res, err := admitScript.Run(ctx, w.client.rdb, []string{w.key},
		nowMs, w.length.Milliseconds(), w.limit, member).Int()
	if err != nil {
		observability.SetSpanError(ctx, err)
		w.log.Error("quota admission failed", logger.Fields(
			"key", w.key,
			logger.FieldError, err.Error(),
		))
		return false, errors.Internal(fmt.Errorf("redis quota admit: %w", err))
	}
	admitted := res == 1
	observability.SetSpanAttribute(ctx, "quota.admitted", admitted)
	return admitted, nil
}

// Count returns the number of admissions in the trailing window at now.
func (w *QuotaWindow) Count(ctx context.Context, now time.Time) (int, error) {
	minScore := "(" + strconv.FormatInt(now.Add(-w.length).UnixMilli(), 10)
	n, err := w.client.rdb.ZCount(ctx, w.key, minScore, "+inf").Result()
	if err != nil {
		return 0, errors.Internal(fmt.Errorf("redis quota count: %w", err))
	}
	return int(n), nil
}

// Limit returns the maximum admissions per window.
func (w *QuotaWindow) Limit() int { return w.limit }

// Length returns the window length.
func (w *QuotaWindow) Length() time.Duration { return w.length }

// Reset forgets all admissions.
func (w *QuotaWindow) Reset(ctx context.Context) error {
	if err := w.client.rdb.Del(ctx, w.key).Err(); err != nil {
		return errors.Internal(fmt.Errorf("redis quota reset: %w", err))
	}
	return nil
}
