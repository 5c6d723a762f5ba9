// Package pipeline provides composable, pull-based operators over message
// sequences.
//
// Pipelines are lazy: no work happens until values are pulled via Collect,
// Count, Drain, ForEach or CollectText. Each stage pulls from the previous
// stage on demand, providing natural backpressure without explicit flow
// control, and no stage materializes the whole sequence.
//
// The Iterator interface matches sse.Stream[T], so decoded streams plug
// directly into pipelines.
//
// # Operators
//
//   - Map: transform each value (fn may block)
//   - FlatMap: transform each value into multiple values
//   - Filter: keep values matching a predicate
//   - Take: stop after n values
//   - Tap: side-effect without altering the value (logging, metrics)
//   - Batch: group values into fixed-size slices
//   - Reduce: accumulate all values into one result
//   - Concat: join pipelines sequentially
//
// # Terminals
//
//   - Collect, Count, ForEach, Drain
//   - CollectText: concatenate the text of chat-style chunks, with abort,
//     timeout and a per-chunk callback
//
// # Usage
//
//	src := pipeline.FromSlice([]int{1, 2, 3, 4, 5})
//	doubled := pipeline.Map(src, func(_ context.Context, n int) (int, error) {
//	    return n * 2, nil
//	})
//	firstTwo := pipeline.Take(doubled, 2)
//	results, _ := pipeline.Collect(ctx, firstTwo)
//
// With a server-sent event stream:
//
//	stream, _ := httpclient.Stream[map[string]any](ctx, client, req)
//	text, err := pipeline.CollectText(ctx, pipeline.From[map[string]any](stream),
//	    pipeline.TextOptions[map[string]any]{
//	        Extract: pipeline.TextField("choices", "0", "delta", "content"),
//	        OnChunk: func(s string) { fmt.Print(s) },
//	        Timeout: 2 * time.Minute,
//	    })
package pipeline
