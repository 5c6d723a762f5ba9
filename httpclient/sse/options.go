package sse

import (
	"github.com/kbukum/streamkit/logger"
	"github.com/kbukum/streamkit/observability"
)

const (
	// DefaultMaxLineSize bounds a single buffered line.
	DefaultMaxLineSize = 1 << 20
	// DefaultReadSize is the chunk size Stream reads from the body.
	DefaultReadSize = 4 << 10
)

// DiagnosticSink receives lines that were dropped because they could not be
// decoded, together with the decode error.
type DiagnosticSink func(line string, err error)

type options struct {
	sink        DiagnosticSink
	log         *logger.Logger
	metrics     *observability.RuntimeMetrics
	maxLineSize int
	readSize    int
}

// Option configures a Decoder or Stream.
type Option func(*options)

// WithDiagnosticSink sets the callback for undecodable lines.
func WithDiagnosticSink(sink DiagnosticSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithLogger logs undecodable lines as warnings.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics records frame and decode-error counts.
func WithMetrics(m *observability.RuntimeMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMaxLineSize limits how large a single line may grow before it is
// discarded.
func WithMaxLineSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLineSize = n
		}
	}
}

// WithReadSize sets how many bytes Stream reads from the body at a time.
func WithReadSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readSize = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		maxLineSize: DefaultMaxLineSize,
		readSize:    DefaultReadSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
