// Package logger provides structured logging for the streaming runtime,
// built on zerolog.
//
// Components take a *Logger and tag it with WithComponent ("sse", "retry",
// "gate", "httpclient", "redis"). Output goes to stdout, stderr or a rotating
// file (lumberjack) depending on Config.Output.
//
//	log := logger.New(&logger.Config{Level: "debug", Format: "json"}, "streamkit")
//	log.WithComponent("gate").Info("admitted", logger.Fields("in_flight", 2))
package logger
