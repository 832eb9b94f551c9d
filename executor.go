package hsm

import (
	"context"
	"time"
)

// Executor defers the actions collected while a transition is resolved and
// runs them once the decision is final. Buckets are drained in the order they
// were opened; inside a bucket actions run in insertion order. An Executor
// is owned by a single draining goroutine at a time and is not locked.
type Executor struct {
	pool    *Pool
	timeout time.Duration
	notify  func(Notification)
	owner   *Machine
	buckets [][]*ActionContext
	dummy   bool
}

// NewExecutor creates an executor running async actions on pool. timeout is
// used for actions that declare a zero timeout; zero or negative waits
// indefinitely.
func NewExecutor(pool *Pool, timeout time.Duration, notify func(Notification)) *Executor {
	if pool == nil {
		pool = DefaultPool()
	}
	if timeout == 0 {
		timeout = -1
	}
	return &Executor{pool: pool, timeout: timeout, notify: notify}
}

// Begin opens a new bucket.
func (e *Executor) Begin() {
	e.buckets = append(e.buckets, nil)
}

// Defer appends action to the most recently opened bucket.
func (e *Executor) Defer(action Action, from, to string, event Event, data any) {
	if action == nil {
		return
	}
	if len(e.buckets) == 0 {
		e.Begin()
	}
	last := len(e.buckets) - 1
	e.buckets[last] = append(e.buckets[last], &ActionContext{
		Action:  action,
		From:    from,
		To:      to,
		Event:   event,
		Data:    data,
		Machine: e.owner,
	})
}

// Pending returns the number of deferred actions not yet run.
func (e *Executor) Pending() int {
	n := 0
	for _, bucket := range e.buckets {
		n += len(bucket)
	}
	return n
}

// Reset discards every bucket without running it.
func (e *Executor) Reset() {
	e.buckets = nil
}

// SetDummyExecution turns every later Execute into a pass-through that only
// emits notifications.
func (e *Executor) SetDummyExecution(dummy bool) {
	e.dummy = dummy
}

func (e *Executor) Dummy() bool {
	return e.dummy
}

// Execute drains all buckets. The first failure is returned as a
// *TransitionError and the remaining buckets are dropped.
func (e *Executor) Execute(ctx context.Context) error {
	for len(e.buckets) > 0 {
		bucket := e.buckets[0]
		e.buckets = e.buckets[1:]
		if err := e.run(ctx, bucket); err != nil {
			e.buckets = nil
			return err
		}
	}
	return nil
}

type pending struct {
	ac      *ActionContext
	handle  *Handle
	started time.Time
}

func (e *Executor) run(ctx context.Context, bucket []*ActionContext) error {
	var joins []pending
	for i, ac := range bucket {
		ac.Position = i + 1
		ac.Total = len(bucket)
		e.emit(SignalBeforeAction, ac, nil, 0, false)
		if e.dummy || ac.Action.Weight() == WeightIgnore {
			e.emit(SignalAfterAction, ac, nil, 0, true)
			continue
		}
		started := time.Now()
		if ac.Action.Async() {
			handle, err := e.pool.Go(ctx, e.timeoutOf(ac.Action), func(ctx context.Context) error {
				return ac.Action.Execute(ctx, ac)
			})
			if err != nil {
				e.emit(SignalAfterAction, ac, err, time.Since(started), false)
				e.abandon(joins)
				return e.fail(ac, err)
			}
			joins = append(joins, pending{ac: ac, handle: handle, started: started})
			continue
		}
		err := invoke(ctx, ac)
		e.emit(SignalAfterAction, ac, err, time.Since(started), false)
		if err != nil {
			e.abandon(joins)
			return e.fail(ac, err)
		}
	}
	for i, join := range joins {
		err := join.handle.Wait(ctx)
		e.emit(SignalAfterAction, join.ac, err, time.Since(join.started), false)
		if err != nil {
			e.abandon(joins[i+1:])
			return e.fail(join.ac, err)
		}
	}
	return nil
}

// abandon cancels async actions still in flight after a failure and reports
// each of them as finished. A cancelled action keeps its pool slot until it
// returns.
func (e *Executor) abandon(joins []pending) {
	for _, join := range joins {
		join.handle.Cancel()
		err := join.handle.Wait(context.Background())
		e.emit(SignalAfterAction, join.ac, err, time.Since(join.started), false)
	}
}

func (e *Executor) timeoutOf(action Action) time.Duration {
	if timeout := action.Timeout(); timeout != 0 {
		return timeout
	}
	return e.timeout
}

func (e *Executor) fail(ac *ActionContext, cause error) error {
	err := newTransitionError(ac, cause)
	e.emit(SignalActionException, ac, err, 0, false)
	return err
}

func (e *Executor) emit(signal Signal, ac *ActionContext, err error, duration time.Duration, skipped bool) {
	if e.notify == nil {
		return
	}
	e.notify(Notification{
		Signal:   signal,
		Machine:  ac.Machine,
		From:     ac.From,
		To:       ac.To,
		Event:    ac.Event,
		Data:     ac.Data,
		Action:   actionName(ac.Action),
		Position: ac.Position,
		Total:    ac.Total,
		Duration: duration,
		Skipped:  skipped,
		Err:      err,
	})
}
