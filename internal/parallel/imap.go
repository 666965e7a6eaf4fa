package parallel

import (
	"context"
	"iter"
	"sync"
)

// indexed is one completed task tagged with the position of its input.
type indexed[R any] struct {
	index int
	value R
}

// Iterator yields the results of IMap in input order. It must be drained by a
// single goroutine.
//
// Cancellation is cooperative. Cancelling the context passed to IMap, or
// calling Close, stops submission of inputs that have not reached a worker
// yet. Tasks already running finish normally and their results are dropped;
// their sends never block because they also select on the cancelled context.
type Iterator[R any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	quit   <-chan struct{}

	results chan indexed[R]
	// window holds one token per submitted result not yet returned by Next,
	// so at most Workers results are ever outstanding or pending.
	window chan struct{}
	// pending holds results that arrived before their turn, keyed by index.
	pending map[int]R
	next    int
	total   int

	err       error
	closed    bool
	closeOnce sync.Once
}

// IMap applies fn to every input on the workers of p and returns an iterator
// over the results in the order of inputs, regardless of completion order.
// fn must not depend on other inputs and must be safe to call concurrently.
func IMap[T, R any](ctx context.Context, p *Pool, inputs []T, fn func(T) R) *Iterator[R] {
	ctx, cancel := context.WithCancel(ctx)
	it := &Iterator[R]{
		ctx:     ctx,
		cancel:  cancel,
		quit:    p.quit,
		results: make(chan indexed[R]),
		window:  make(chan struct{}, p.workers),
		pending: make(map[int]R),
		total:   len(inputs),
	}
	if len(inputs) == 0 {
		cancel()
		return it
	}

	go func() {
		for i, in := range inputs {
			select {
			case it.window <- struct{}{}:
			case <-ctx.Done():
				return
			case <-p.quit:
				return
			}
			task := func() {
				if ctx.Err() != nil {
					return
				}
				v := fn(in)
				// The consumer may be gone; never block on it.
				select {
				case it.results <- indexed[R]{index: i, value: v}:
				case <-ctx.Done():
				case <-p.quit:
				}
			}
			if !p.submit(task, ctx.Done()) {
				return
			}
		}
	}()
	return it
}

// Len returns the number of inputs the iterator was created with.
func (it *Iterator[R]) Len() int { return it.total }

// Next blocks until the result for the next input in order is available.
// It returns false once every result was delivered or the iterator stopped
// early; Err distinguishes the two.
func (it *Iterator[R]) Next() (R, bool) {
	var zero R
	for it.next < it.total {
		if v, ok := it.pending[it.next]; ok {
			delete(it.pending, it.next)
			it.next++
			<-it.window
			return v, true
		}

		select {
		case r := <-it.results:
			it.pending[r.index] = r.value
		case <-it.ctx.Done():
			it.stop(it.ctx.Err())
			return zero, false
		case <-it.quit:
			it.stop(ErrPoolClosed)
			return zero, false
		}
	}
	it.cancel()
	return zero, false
}

// All returns a range-over-func sequence of the remaining results. Breaking
// out of the loop closes the iterator.
func (it *Iterator[R]) All() iter.Seq[R] {
	return func(yield func(R) bool) {
		defer it.Close()
		for {
			v, ok := it.Next()
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// Err returns why the iterator stopped before delivering every result: the
// context error or ErrPoolClosed. It is nil after a complete drain or an
// explicit Close.
func (it *Iterator[R]) Err() error { return it.err }

// Close abandons the remaining results. It is safe to call more than once and
// after the iterator is exhausted.
func (it *Iterator[R]) Close() {
	it.closeOnce.Do(func() {
		it.closed = true
		it.cancel()
		it.next = it.total
		it.pending = nil
	})
}

func (it *Iterator[R]) stop(err error) {
	if !it.closed {
		it.err = err
	}
	it.cancel()
	it.next = it.total
	it.pending = nil
}

// Map is IMap collected into a slice. It returns the context error if ctx is
// cancelled before every result is in.
func Map[T, R any](ctx context.Context, p *Pool, inputs []T, fn func(T) R) ([]R, error) {
	it := IMap(ctx, p, inputs, fn)
	defer it.Close()
	out := make([]R, 0, it.Len())
	for v, ok := it.Next(); ok; v, ok = it.Next() {
		out = append(out, v)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
