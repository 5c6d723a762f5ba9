package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kbukum/streamkit/config"
	"github.com/kbukum/streamkit/httpclient"
	"github.com/kbukum/streamkit/logger"
	"github.com/kbukum/streamkit/observability"
	"github.com/kbukum/streamkit/redis"
	"github.com/kbukum/streamkit/resilience"
)

// App wires a streaming client from a typed config: logger, telemetry,
// optional Redis quota backend and the HTTP client with its gate and
// retrier. The type parameter C is the config type.
//
// Example:
//
//	app, err := bootstrap.NewApp(&cfg)
//	err = app.RunTask(ctx, func(ctx context.Context) error {
//	    stream, err := httpclient.Stream[Chunk](ctx, app.Client, req)
//	    ...
//	})
type App[C Config] struct {
	Name    string
	Version string
	Cfg     C
	Logger  *logger.Logger
	Metrics *observability.RuntimeMetrics
	Client  *httpclient.Client
	// Redis is nil unless the redis section is enabled.
	Redis   *redis.Client
	Summary *Summary

	opts            *appOptions
	gracefulTimeout time.Duration
	started         bool
	closers         []closer

	onStart []Hook
	onReady []Hook
	onStop  []Hook
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// NewApp creates a new application instance from a typed config.
// It applies defaults, validates the config, and initializes the logger.
func NewApp[C Config](cfg C, opts ...Option) (*App[C], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rc := cfg.GetRuntimeConfig()
	o := resolveOptions(opts)

	app := &App[C]{
		Name:            rc.Name,
		Version:         rc.Version,
		Cfg:             cfg,
		Summary:         NewSummary(rc.Name, rc.Version),
		opts:            o,
		gracefulTimeout: 15 * time.Second,
	}
	if o.gracefulTimeout != nil {
		app.gracefulTimeout = *o.gracefulTimeout
	}
	if o.summaryOut != nil {
		app.Summary.SetOutput(o.summaryOut)
	}

	if o.logger != nil {
		app.Logger = o.logger
	} else {
		app.Logger = logger.New(&rc.Logging, rc.Name)
	}
	return app, nil
}

// Start builds the runtime and runs the OnStart and OnReady hooks.
// An unhealthy ready check is logged, not returned.
func (a *App[C]) Start(ctx context.Context) error {
	if a.started {
		return nil
	}
	start := time.Now()
	rc := a.Cfg.GetRuntimeConfig()

	a.Logger.Info("Starting application", map[string]interface{}{
		"name":    a.Name,
		"version": a.Version,
	})

	if err := a.initTelemetry(ctx, rc); err != nil {
		a.closeAll()
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := a.initClient(ctx, rc); err != nil {
		a.closeAll()
		return fmt.Errorf("client: %w", err)
	}
	a.started = true

	if err := runHooks(ctx, a.onStart); err != nil {
		return fmt.Errorf("onStart hook failed: %w", err)
	}

	health := a.ReadyCheck(ctx)
	if health.Status != observability.HealthStatusUp {
		a.Logger.Warn("Ready check reported issues", map[string]interface{}{
			"status": string(health.Status),
		})
	}

	if err := runHooks(ctx, a.onReady); err != nil {
		return fmt.Errorf("onReady hook failed: %w", err)
	}

	a.Summary.SetStartupDuration(time.Since(start))
	a.Summary.Display(health)
	return nil
}

func (a *App[C]) initTelemetry(ctx context.Context, rc *config.RuntimeConfig) error {
	if rc.Observability.Enabled {
		tc := rc.Tracer()
		tp, err := observability.InitTracer(ctx, &tc)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, closer{"tracer", tp.Shutdown})

		mc := rc.Meter()
		mp, err := observability.InitMeter(ctx, &mc)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, closer{"meter", mp.Shutdown})
		a.Summary.TrackInfrastructure("telemetry", "otlp", "active", tc.Endpoint, true)
	}

	metrics, err := observability.NewRuntimeMetrics(observability.Meter(a.Name))
	if err != nil {
		return err
	}
	a.Metrics = metrics
	return nil
}

func (a *App[C]) initClient(ctx context.Context, rc *config.RuntimeConfig) error {
	var gateOpts []resilience.GateOption
	if rc.Redis.Enabled {
		rdb, err := redis.Open(ctx, rc.Redis, a.Logger)
		if err != nil {
			return err
		}
		a.Redis = rdb
		a.closers = append(a.closers, closer{"redis", func(context.Context) error { return rdb.Close() }})

		window := redis.NewQuotaWindow(rdb, "", rc.Gate.RequestsPerMinute, resilience.DefaultQuotaWindow)
		gateOpts = append(gateOpts, resilience.WithQuotaWindow(window))
		a.Summary.TrackInfrastructure("redis", "quota", "connected", rc.Redis.Addr, true)
	}

	opts := []httpclient.Option{
		httpclient.WithLogger(a.Logger),
		httpclient.WithMetrics(a.Metrics),
		httpclient.WithGateOptions(gateOpts...),
	}
	client, err := httpclient.New(rc.HTTPClientConfig(), append(opts, a.opts.clientOpts...)...)
	if err != nil {
		return err
	}
	a.Client = client
	a.closers = append(a.closers, closer{"httpclient", func(context.Context) error { return client.Close() }})

	a.Summary.TrackClient("httpclient", rc.Client.BaseURL, "ready", clientDetails(rc))
	return nil
}

func clientDetails(rc *config.RuntimeConfig) string {
	details := "http/1.1"
	if rc.Client.HTTP2.Enabled {
		details = "h2"
	}
	if p := rc.Retry.Policy(); p != nil {
		details += ", retries=" + strconv.Itoa(p.MaxRetries)
	}
	if g := rc.Gate.Gate(); g != nil {
		details += ", concurrency=" + strconv.Itoa(g.MaxConcurrent)
		if g.RequestsPerMinute > 0 {
			details += ", rpm=" + strconv.Itoa(g.RequestsPerMinute)
		}
	}
	return details
}

// ReadyCheck reports the health of the gate, the Redis backend and any
// checkers passed with WithHealthChecker.
func (a *App[C]) ReadyCheck(ctx context.Context) *observability.ServiceHealth {
	var checkers []observability.HealthChecker
	if a.Client != nil {
		if g := a.Client.Gate(); g != nil {
			checkers = append(checkers, observability.HealthCheckerFunc(func(context.Context) observability.Health {
				return gateHealth(g)
			}))
		}
	}
	if a.Redis != nil {
		checkers = append(checkers, a.Redis)
	}
	checkers = append(checkers, a.opts.checkers...)
	return observability.Check(ctx, a.Name, a.Version, checkers...)
}

// gateHealth is degraded while calls are queued behind the ceiling.
func gateHealth(g *resilience.Gate) observability.Health {
	stats := g.Stats()
	h := observability.Health{
		Name:   "gate:" + g.Name(),
		Status: observability.HealthStatusUp,
		Details: map[string]string{
			"in_flight":    strconv.Itoa(stats.InFlight),
			"queued":       strconv.Itoa(stats.Queued),
			"window_count": strconv.Itoa(stats.WindowCount),
		},
	}
	if stats.Queued > 0 {
		h.Status = observability.HealthStatusDegraded
		h.Message = "calls waiting for a slot"
	}
	return h
}

// Run starts the application and blocks until a shutdown signal or context
// cancellation, then shuts down gracefully.
func (a *App[C]) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	a.Logger.Info("Application ready, waiting for shutdown signal")
	a.WaitForSignal(ctx)

	return a.Shutdown(context.Background())
}

// RunTask starts the application, runs task, and shuts down when the task
// returns. SIGINT and SIGTERM cancel the task's context.
func (a *App[C]) RunTask(ctx context.Context, task func(ctx context.Context) error) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			a.Logger.Info("Received signal, canceling task", map[string]interface{}{
				"signal": sig.String(),
			})
			cancel()
		case <-taskCtx.Done():
		}
	}()

	taskErr := task(taskCtx)

	if stopErr := a.Shutdown(context.Background()); stopErr != nil && taskErr == nil {
		return stopErr
	}
	return taskErr
}

// WaitForSignal blocks until an OS interrupt/term signal or context cancellation.
func (a *App[C]) WaitForSignal(ctx context.Context) os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.Logger.Info("Received shutdown signal", map[string]interface{}{
			"signal": sig.String(),
		})
		return sig
	case <-ctx.Done():
		a.Logger.Info("Context canceled, shutting down")
		return nil
	}
}

// Shutdown runs the OnStop hooks and closes the client, Redis and the
// telemetry providers in reverse order of creation. It returns the first
// error encountered.
func (a *App[C]) Shutdown(ctx context.Context) error {
	if !a.started {
		return nil
	}
	a.started = false

	a.Logger.Info("Shutting down application", map[string]interface{}{
		"timeout": a.gracefulTimeout.String(),
	})

	ctx, cancel := context.WithTimeout(ctx, a.gracefulTimeout)
	defer cancel()

	var shutdownErr error
	if err := runHooks(ctx, a.onStop); err != nil {
		a.Logger.Error("OnStop hook error", map[string]interface{}{
			"error": err.Error(),
		})
		shutdownErr = err
	}
	if err := a.closeAllContext(ctx); err != nil && shutdownErr == nil {
		shutdownErr = err
	}

	a.Logger.Info("Application shutdown complete")
	return shutdownErr
}

func (a *App[C]) closeAll() {
	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()
	_ = a.closeAllContext(ctx)
}

func (a *App[C]) closeAllContext(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.Logger.Error("Close failed", map[string]interface{}{
				"component": c.name,
				"error":     err.Error(),
			})
			if first == nil {
				first = fmt.Errorf("%s: %w", c.name, err)
			}
		}
	}
	a.closers = nil
	return first
}
