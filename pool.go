package hsm

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool runs asynchronous actions on a bounded number of goroutines. One pool
// is usually shared by many machines.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

var DefaultPool = sync.OnceValue(func() *Pool {
	return NewPool(runtime.GOMAXPROCS(0) * 4)
})

func (p *Pool) Size() int {
	return int(p.size)
}

// Handle joins one asynchronous action.
type Handle struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	timeout time.Duration
}

// Go waits for a free slot and runs fn. A non-negative timeout bounds fn from
// the moment it is submitted.
func (p *Pool) Go(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) (*Handle, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	h := &Handle{done: make(chan struct{}), timeout: timeout}
	if timeout >= 0 {
		h.ctx, h.cancel = context.WithTimeout(ctx, timeout)
	} else {
		h.ctx, h.cancel = context.WithCancel(ctx)
	}
	go func() {
		defer p.sem.Release(1)
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("async action panicked: %v\n%s", r, debug.Stack())
			}
		}()
		h.err = fn(h.ctx)
	}()
	return h, nil
}

// Cancel cancels the context the action runs with.
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until the action returns, its timeout elapses or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	defer h.cancel()
	select {
	case <-h.done:
		return h.err
	default:
	}
	select {
	case <-h.done:
		return h.err
	case <-h.ctx.Done():
		select {
		case <-h.done:
			return h.err
		default:
		}
		if h.ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("timed out after %s: %w", h.timeout, context.DeadlineExceeded)
		}
		return h.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
