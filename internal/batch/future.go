package batch

import "context"

// Future is an at-most-once-completing async result: either a successful
// payload (found or not) or an error, per spec.md §9's "operation returns
// an awaitable result" contract.
type Future struct {
	done    chan struct{}
	payload []byte
	found   bool
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func completedFuture(payload []byte, found bool, err error) *Future {
	f := newFuture()
	f.complete(payload, found, err)
	return f
}

func (f *Future) complete(payload []byte, found bool, err error) {
	f.payload, f.found, f.err = payload, found, err
	close(f.done)
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (payload []byte, found bool, err error) {
	select {
	case <-f.done:
		return f.payload, f.found, f.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Done reports whether the future has already resolved, without blocking.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
