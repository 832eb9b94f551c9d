package hsm_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hsm "github.com/stateforward/hsm-engine"
	"github.com/stateforward/hsm-engine/pkg/tests"
)

type notifications struct {
	mu   sync.Mutex
	list []hsm.Notification
}

func (n *notifications) add(notification hsm.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, notification)
}

func (n *notifications) of(signal hsm.Signal) []hsm.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []hsm.Notification
	for _, notification := range n.list {
		if notification.Signal == signal {
			out = append(out, notification)
		}
	}
	return out
}

func TestExecutorRunsBucketsInOrder(t *testing.T) {
	rec := tests.NewRecorder()
	seen := &notifications{}
	e := hsm.NewExecutor(nil, 0, seen.add)
	e.Begin()
	e.Defer(rec.Action("a1"), "A", "B", "go", nil)
	e.Defer(rec.Action("a2"), "A", "B", "go", nil)
	e.Begin()
	e.Defer(rec.Action("b1"), "B", "C", "next", nil)
	assert.Equal(t, 3, e.Pending())

	require.NoError(t, e.Execute(context.Background()))
	assert.Equal(t, []string{"a1", "a2", "b1"}, rec.Steps())
	assert.Equal(t, 0, e.Pending())

	before := seen.of(hsm.SignalBeforeAction)
	require.Len(t, before, 3)
	assert.Equal(t, "a2", before[1].Action)
	assert.Equal(t, 2, before[1].Position)
	assert.Equal(t, 2, before[1].Total)
	assert.Equal(t, 1, before[2].Position)
	assert.Equal(t, 1, before[2].Total)
	assert.Len(t, seen.of(hsm.SignalAfterAction), 3)
}

func TestExecutorStopsAtFirstFailure(t *testing.T) {
	rec := tests.NewRecorder()
	seen := &notifications{}
	e := hsm.NewExecutor(nil, 0, seen.add)
	boom := errors.New("boom")
	e.Begin()
	e.Defer(rec.Action("a1"), "A", "B", "go", nil)
	e.Defer(hsm.NewAction("fail", func(ctx context.Context, ac *hsm.ActionContext) error {
		return boom
	}), "A", "B", "go", 42)
	e.Defer(rec.Action("a3"), "A", "B", "go", nil)
	e.Begin()
	e.Defer(rec.Action("b1"), "B", "C", "next", nil)

	err := e.Execute(context.Background())
	require.Error(t, err)
	var te *hsm.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "fail", te.Action)
	assert.Equal(t, 42, te.Data)
	assert.Equal(t, []string{"a1"}, rec.Steps())
	assert.Equal(t, 0, e.Pending())
	require.Len(t, seen.of(hsm.SignalActionException), 1)
}

func TestExecutorRecoversPanics(t *testing.T) {
	e := hsm.NewExecutor(nil, 0, nil)
	e.Begin()
	e.Defer(hsm.NewAction("panic", func(ctx context.Context, ac *hsm.ActionContext) error {
		panic("oops")
	}), "A", "B", "go", nil)
	err := e.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, hsm.IsActionFailure(err))
	assert.Contains(t, err.Error(), "oops")
}

func TestExecutorDummyAndIgnore(t *testing.T) {
	rec := tests.NewRecorder()
	seen := &notifications{}
	e := hsm.NewExecutor(nil, 0, seen.add)
	e.Begin()
	e.Defer(rec.Action("ignored", hsm.WithWeight(hsm.WeightIgnore)), "A", "B", "go", nil)
	e.Defer(rec.Action("runs"), "A", "B", "go", nil)
	require.NoError(t, e.Execute(context.Background()))
	assert.Equal(t, []string{"runs"}, rec.Steps())

	e.SetDummyExecution(true)
	assert.True(t, e.Dummy())
	e.Begin()
	e.Defer(rec.Action("dummy"), "A", "B", "go", nil)
	require.NoError(t, e.Execute(context.Background()))
	assert.Equal(t, []string{"runs"}, rec.Steps())

	after := seen.of(hsm.SignalAfterAction)
	require.Len(t, after, 3)
	assert.True(t, after[0].Skipped)
	assert.False(t, after[1].Skipped)
	assert.True(t, after[2].Skipped)
	assert.Len(t, seen.of(hsm.SignalBeforeAction), 3)
}

func TestExecutorReset(t *testing.T) {
	rec := tests.NewRecorder()
	e := hsm.NewExecutor(nil, 0, nil)
	e.Begin()
	e.Defer(rec.Action("dropped"), "A", "B", "go", nil)
	e.Reset()
	require.NoError(t, e.Execute(context.Background()))
	assert.Empty(t, rec.Steps())
}

func TestExecutorJoinsAsyncActions(t *testing.T) {
	rec := tests.NewRecorder()
	e := hsm.NewExecutor(hsm.NewPool(4), 0, nil)
	release := make(chan struct{})
	e.Begin()
	e.Defer(hsm.NewAction("async", func(ctx context.Context, ac *hsm.ActionContext) error {
		<-release
		rec.Record("async")
		return nil
	}, hsm.Async()), "A", "B", "go", nil)
	e.Defer(hsm.NewAction("sync", func(ctx context.Context, ac *hsm.ActionContext) error {
		rec.Record("sync")
		close(release)
		return nil
	}), "A", "B", "go", nil)
	e.Begin()
	e.Defer(rec.Action("next bucket"), "B", "C", "next", nil)
	require.NoError(t, e.Execute(context.Background()))
	assert.Equal(t, []string{"sync", "async", "next bucket"}, rec.Steps())
}

func TestExecutorCancelsAsyncActionsOnFailure(t *testing.T) {
	seen := &notifications{}
	e := hsm.NewExecutor(hsm.NewPool(2), 0, seen.add)
	cancelled := make(chan struct{})
	e.Begin()
	e.Defer(hsm.NewAction("waiting", func(ctx context.Context, ac *hsm.ActionContext) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}, hsm.Async()), "A", "B", "go", nil)
	e.Defer(hsm.NewAction("broken", func(ctx context.Context, ac *hsm.ActionContext) error {
		return errors.New("broken")
	}), "A", "B", "go", nil)

	err := e.Execute(context.Background())
	require.Error(t, err)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("async action was not cancelled")
	}

	after := seen.of(hsm.SignalAfterAction)
	require.Len(t, after, 2)
	assert.Equal(t, "broken", after[0].Action)
	assert.Equal(t, "waiting", after[1].Action)
	assert.ErrorIs(t, after[1].Err, context.Canceled)
	exceptions := seen.of(hsm.SignalActionException)
	require.Len(t, exceptions, 1)
	assert.Equal(t, "broken", exceptions[0].Action)
}

func TestExecutorDefaultTimeout(t *testing.T) {
	e := hsm.NewExecutor(nil, 30*time.Millisecond, nil)
	e.Begin()
	e.Defer(hsm.NewAction("slow", func(ctx context.Context, ac *hsm.ActionContext) error {
		time.Sleep(300 * time.Millisecond)
		return nil
	}, hsm.Async()), "A", "B", "go", nil)
	started := time.Now()
	err := e.Execute(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(started), 200*time.Millisecond)
	assert.Contains(t, err.Error(), "timed out")
}

func TestExecutorAsyncWithoutTimeoutWaits(t *testing.T) {
	e := hsm.NewExecutor(nil, 0, nil)
	e.Begin()
	e.Defer(hsm.NewAction("patient", func(ctx context.Context, ac *hsm.ActionContext) error {
		time.Sleep(40 * time.Millisecond)
		return ctx.Err()
	}, hsm.Async(), hsm.WithTimeout(-1)), "A", "B", "go", nil)
	require.NoError(t, e.Execute(context.Background()))
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := hsm.NewPool(1)
	assert.Equal(t, 1, pool.Size())
	var mu sync.Mutex
	running, peak := 0, 0
	work := func(ctx context.Context) error {
		mu.Lock()
		running++
		peak = max(peak, running)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	}
	ctx := context.Background()
	var handles []*hsm.Handle
	for range 3 {
		h, err := pool.Go(ctx, -1, work)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		require.NoError(t, h.Wait(ctx))
	}
	assert.Equal(t, 1, peak)
}

func TestPoolAcquireHonorsContext(t *testing.T) {
	pool := hsm.NewPool(1)
	block := make(chan struct{})
	h, err := pool.Go(context.Background(), -1, func(ctx context.Context) error {
		<-block
		return nil
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pool.Go(ctx, -1, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(block)
	require.NoError(t, h.Wait(context.Background()))
}
