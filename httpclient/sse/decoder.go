package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kbukum/streamkit/errors"
	"github.com/kbukum/streamkit/logger"
)

const (
	dataField = "data:"
	// DoneSentinel is the payload that terminates a stream.
	DoneSentinel = "[DONE]"
)

// Frame is one decoded unit of a stream. A Terminal frame carries no message
// and marks the end of the stream.
type Frame[T any] struct {
	Terminal bool
	Message  T
}

// Decoder converts raw chunks into frames. After a terminal frame has been
// produced, all further input is ignored.
//
// A Decoder belongs to a single stream and is not safe for concurrent use.
type Decoder[T any] struct {
	buf      []byte
	done     bool
	skipping bool
	opts     options
}

// NewDecoder creates a decoder for messages of type T.
func NewDecoder[T any](opts ...Option) *Decoder[T] {
	return &Decoder[T]{opts: buildOptions(opts)}
}

// Done reports whether the terminal frame has been seen.
func (d *Decoder[T]) Done() bool { return d.done }

// Buffered returns the number of bytes held for an incomplete line.
func (d *Decoder[T]) Buffered() int { return len(d.buf) }

// ProcessChunk consumes a chunk and returns the frames completed by it, in
// order. Bytes after the last newline are kept until the next chunk or Flush.
func (d *Decoder[T]) ProcessChunk(chunk []byte) []Frame[T] {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var frames []Frame[T]
	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], '\n')
		if i < 0 {
			break
		}
		line := d.buf[start : start+i]
		start += i + 1

		if d.skipping {
			d.skipping = false
			continue
		}
		if f, ok := d.decodeLine(line); ok {
			frames = append(frames, f)
			if f.Terminal {
				d.finish()
				d.recordFrames(frames)
				return frames
			}
		}
	}

	n := copy(d.buf, d.buf[start:])
	d.buf = d.buf[:n]

	switch {
	case d.skipping:
		// still inside an oversized line
		d.buf = d.buf[:0]
	case len(d.buf) > d.opts.maxLineSize:
		head := truncateLine(string(d.buf))
		d.report(head, errors.Decode(head, fmt.Errorf("line exceeds %d bytes", d.opts.maxLineSize)))
		d.buf = d.buf[:0]
		d.skipping = true
	}

	d.recordFrames(frames)
	return frames
}

// Flush decodes whatever remains in the buffer as a final line and clears it.
func (d *Decoder[T]) Flush() []Frame[T] {
	if d.done {
		return nil
	}
	line := d.buf
	d.buf = d.buf[:0]
	if d.skipping {
		d.skipping = false
		return nil
	}

	f, ok := d.decodeLine(line)
	if !ok {
		return nil
	}
	if f.Terminal {
		d.finish()
	}
	frames := []Frame[T]{f}
	d.recordFrames(frames)
	return frames
}

// decodeLine parses one complete line. ok is false for lines that produce no frame.
func (d *Decoder[T]) decodeLine(raw []byte) (frame Frame[T], ok bool) {
	line := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(line, dataField) {
		return frame, false
	}
	payload := strings.TrimLeft(line[len(dataField):], " \t")
	if payload == "" {
		return frame, false
	}
	if payload == DoneSentinel {
		return Frame[T]{Terminal: true}, true
	}

	if err := json.Unmarshal([]byte(payload), &frame.Message); err != nil {
		d.report(line, errors.Decode(line, err))
		return frame, false
	}
	return frame, true
}

func (d *Decoder[T]) finish() {
	d.done = true
	d.buf = nil
	d.skipping = false
}

func (d *Decoder[T]) report(line string, err error) {
	d.opts.metrics.RecordDecodeError(context.Background())
	if d.opts.log != nil {
		d.opts.log.Warn("dropping undecodable stream line", logger.Fields(
			"line", line,
			logger.FieldError, err.Error(),
		))
	}
	if d.opts.sink != nil {
		d.opts.sink(line, err)
	}
}

func (d *Decoder[T]) recordFrames(frames []Frame[T]) {
	d.opts.metrics.RecordFrames(context.Background(), len(frames))
}

func truncateLine(s string) string {
	const limit = 256
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
