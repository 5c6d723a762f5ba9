// Package observability provides OpenTelemetry tracing and metrics for the
// streaming runtime.
//
// Tracing:
//
//	tp, err := observability.InitTracer(ctx, &cfg)
//	defer tp.Shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, observability.SpanHTTPRequest)
//	defer span.End()
//
// Metrics:
//
//	mp, err := observability.InitMeter(ctx, &meterCfg)
//	defer mp.Shutdown(ctx)
//
//	metrics, err := observability.NewRuntimeMetrics(observability.Meter("streamkit"))
//	gate := resilience.NewGate(cfg, resilience.WithGateMetrics(metrics))
//
// Health checks:
//
//	health := observability.NewServiceHealth("my-service", "1.0.0")
//	health.AddComponent(redisClient.CheckHealth(ctx))
package observability
