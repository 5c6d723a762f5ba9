package pipeline

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/kbukum/streamkit/errors"
)

// TextOptions configures CollectText.
type TextOptions[T any] struct {
	// Extract returns the text carried by an element. Elements for which it
	// reports false are skipped.
	Extract func(T) (string, bool)
	// OnChunk, if set, is called with each non-empty piece of text as it arrives.
	OnChunk func(string)
	// Timeout bounds the whole collection, measured from the first pull.
	// Zero means no limit.
	Timeout time.Duration
}

// CollectText pulls every element of p and concatenates the extracted text.
//
// Cancelling ctx stops collection with an ABORTED error; exceeding Timeout
// stops it with a STREAM_TIMEOUT error. In both cases the text gathered so far
// is returned alongside the error and also stored in its "partial" detail.
// Upstream iterators receive a context that ends at abort or timeout, and
// must honor it to stop promptly. Any other error is returned unchanged,
// again with the partial text.
func CollectText[T any](ctx context.Context, p *Pipeline[T], opts TextOptions[T]) (string, error) {
	if opts.Extract == nil {
		return "", errors.Validation("pipeline: CollectText requires an Extract function")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sb strings.Builder
	stopped := func() error {
		if runCtx.Err() == nil {
			return nil
		}
		var appErr *errors.AppError
		if ctx.Err() != nil {
			appErr = errors.Aborted(ctx.Err())
		} else {
			appErr = errors.StreamTimeout(opts.Timeout)
		}
		return appErr.WithDetail("partial", sb.String())
	}

	iter := p.create(runCtx)
	defer iter.Close()

	// runCtx ending while ctx is live means the timer fired.
	if opts.Timeout > 0 {
		timer := time.AfterFunc(opts.Timeout, cancel)
		defer timer.Stop()
	}

	for {
		if err := stopped(); err != nil {
			return sb.String(), err
		}
		val, ok, err := iter.Next(runCtx)
		if err != nil {
			if stopErr := stopped(); stopErr != nil {
				return sb.String(), stopErr
			}
			return sb.String(), err
		}
		if !ok {
			return sb.String(), nil
		}
		text, found := opts.Extract(val)
		if !found || text == "" {
			continue
		}
		sb.WriteString(text)
		if opts.OnChunk != nil {
			opts.OnChunk(text)
		}
	}
}

// TextField returns an extractor that walks path through decoded JSON
// objects. Numeric segments index into arrays, so
//
//	pipeline.TextField("choices", "0", "delta", "content")
//
// reads the content of the first choice of a chat completion chunk. The
// extractor reports false when any step is missing or the leaf is not a string.
func TextField(path ...string) func(map[string]any) (string, bool) {
	return func(m map[string]any) (string, bool) {
		var cur any = m
		for _, seg := range path {
			switch node := cur.(type) {
			case map[string]any:
				next, ok := node[seg]
				if !ok {
					return "", false
				}
				cur = next
			case []any:
				i, err := strconv.Atoi(seg)
				if err != nil || i < 0 || i >= len(node) {
					return "", false
				}
				cur = node[i]
			default:
				return "", false
			}
		}
		s, ok := cur.(string)
		return s, ok
	}
}
