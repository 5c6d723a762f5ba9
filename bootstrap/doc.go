// Package bootstrap builds a streaming client process from its config.
//
// NewApp validates a config embedding config.RuntimeConfig. Start then
// initializes OTLP telemetry when enabled, connects the Redis quota backend
// when enabled, and builds the HTTP client with its dispatch gate and
// retrier. Shutdown closes everything in reverse order.
//
// # Quick Start
//
//	cfg, err := config.Load("summarizer")
//	app, err := bootstrap.NewApp(cfg)
//	err = app.RunTask(ctx, func(ctx context.Context) error {
//	    stream, err := httpclient.Stream[Chunk](ctx, app.Client, req)
//	    if err != nil {
//	        return err
//	    }
//	    text, err := pipeline.CollectText(ctx, pipeline.From[Chunk](stream), opts)
//	    ...
//	})
package bootstrap
