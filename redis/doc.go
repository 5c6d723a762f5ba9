// Package redis wraps go-redis with streamkit logging and health checks, and
// provides a QuotaWindow that lets several processes share one request
// quota.
//
// # Shared quota
//
//	client, err := redis.Open(ctx, redis.Config{Enabled: true, Addr: "localhost:6379"}, log)
//	window := redis.NewQuotaWindow(client, "", 50, time.Minute)
//	gate := resilience.NewGate(resilience.GateConfig{Name: "api", MaxConcurrent: 4},
//	    resilience.WithQuotaWindow(window))
//
// Admissions are stored in a sorted set scored by admission time in
// milliseconds. A Lua script trims expired entries and adds the new one only
// while the window has room, so concurrent processes never overshoot the limit.
package redis
