package sse

import (
	"context"
	"io"

	"github.com/kbukum/streamkit/errors"
)

// Stream reads a server-sent event body and yields decoded messages in
// arrival order. It satisfies pipeline.Iterator[T].
//
// A read blocked in Next is interrupted when the ctx passed to Next ends: the
// body is closed and the stream cannot be resumed.
type Stream[T any] struct {
	body    io.ReadCloser
	dec     *Decoder[T]
	chunk   []byte
	pending []T
	ended   bool
	closed  bool
}

// NewStream creates a stream that owns body and closes it once the stream
// ends or Close is called.
func NewStream[T any](body io.ReadCloser, opts ...Option) *Stream[T] {
	dec := NewDecoder[T](opts...)
	return &Stream[T]{
		body:  body,
		dec:   dec,
		chunk: make([]byte, dec.opts.readSize),
	}
}

// Next returns the next message. It returns ok=false once the terminal frame
// or the end of the body has been reached.
func (s *Stream[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	for {
		if len(s.pending) > 0 {
			msg := s.pending[0]
			s.pending = s.pending[1:]
			return msg, true, nil
		}
		if s.ended {
			return zero, false, nil
		}
		if err := ctx.Err(); err != nil {
			return zero, false, errors.Aborted(err)
		}

		n, err := s.read(ctx)
		if n > 0 {
			s.enqueue(s.dec.ProcessChunk(s.chunk[:n]))
		}
		if err == io.EOF {
			s.enqueue(s.dec.Flush())
			s.end()
			continue
		}
		if err != nil {
			s.end()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, false, errors.Aborted(ctxErr)
			}
			return zero, false, errors.Network(err)
		}
	}
}

// read reads one chunk, closing the body if ctx ends before the read returns.
func (s *Stream[T]) read(ctx context.Context) (int, error) {
	body := s.body
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	n, err := body.Read(s.chunk)
	if !stop() {
		s.closed = true
		if err == nil || err == io.EOF {
			err = ctx.Err()
		}
	}
	return n, err
}

// Close releases the body. It is safe to call more than once.
func (s *Stream[T]) Close() error {
	s.ended = true
	s.pending = nil
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

func (s *Stream[T]) enqueue(frames []Frame[T]) {
	for _, f := range frames {
		if f.Terminal {
			s.end()
			return
		}
		s.pending = append(s.pending, f.Message)
	}
}

// end stops reading; messages already decoded are still delivered.
func (s *Stream[T]) end() {
	if s.ended {
		return
	}
	s.ended = true
	if !s.closed {
		s.closed = true
		_ = s.body.Close()
	}
}
