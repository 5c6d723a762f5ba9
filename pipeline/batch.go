package pipeline

import "context"

// Batch groups values into slices of size in arrival order. The final batch
// may be shorter. A size below 1 is treated as 1.
//
// Named Batch (not Buffer) because nothing is decoupled: a batch is filled by
// pulling upstream only when the consumer asks for it.
func Batch[T any](p *Pipeline[T], size int) *Pipeline[[]T] {
	if size < 1 {
		size = 1
	}
	return &Pipeline[[]T]{
		create: func(ctx context.Context) Iterator[[]T] {
			return &batchIter[T]{
				source: p.create(ctx),
				size:   size,
			}
		},
	}
}

type batchIter[T any] struct {
	source  Iterator[T]
	size    int
	done    bool
	pending error
}

func (it *batchIter[T]) Next(ctx context.Context) (result []T, ok bool, err error) {
	if it.pending != nil {
		err, it.pending = it.pending, nil
		it.done = true
		return nil, false, err
	}
	if it.done {
		return nil, false, nil
	}

	batch := make([]T, 0, it.size)
	for len(batch) < it.size {
		val, ok, err := it.source.Next(ctx)
		if err != nil {
			if len(batch) > 0 {
				// Return partial batch; the error surfaces on the next call
				it.pending = err
				return batch, true, nil
			}
			it.done = true
			return nil, false, err
		}
		if !ok {
			it.done = true
			if len(batch) > 0 {
				return batch, true, nil
			}
			return nil, false, nil
		}
		batch = append(batch, val)
	}
	return batch, true, nil
}

func (it *batchIter[T]) Close() error { return it.source.Close() }
