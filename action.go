package hsm

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"time"
)

const (
	WeightMax    = math.MaxInt32
	WeightBefore = 100
	WeightNormal = 0
	WeightAfter  = -100
	WeightMin    = math.MinInt32
	// WeightIgnore marks an action that is reported to observers but never run.
	WeightIgnore = math.MinInt32 + 1
)

// ActionContext is the deferred invocation of one action. Position and Total
// locate the action inside the bucket it was deferred into.
type ActionContext struct {
	Action   Action
	From     string
	To       string
	Event    Event
	Data     any
	Machine  *Machine
	Position int
	Total    int
}

// Action is a side effect attached to a state entry, state exit or transition.
type Action interface {
	Name() string
	Weight() int
	Async() bool
	// Timeout bounds an asynchronous action. Zero selects the executor
	// default, a negative value waits indefinitely.
	Timeout() time.Duration
	Execute(ctx context.Context, ac *ActionContext) error
}

// Condition gates a transition.
type Condition interface {
	Name() string
	IsSatisfied(data any) bool
}

type ActionFunc func(ctx context.Context, ac *ActionContext) error

func (fn ActionFunc) Name() string                                         { return "" }
func (fn ActionFunc) Weight() int                                          { return WeightNormal }
func (fn ActionFunc) Async() bool                                          { return false }
func (fn ActionFunc) Timeout() time.Duration                               { return 0 }
func (fn ActionFunc) Execute(ctx context.Context, ac *ActionContext) error { return fn(ctx, ac) }

type ConditionFunc func(data any) bool

func (fn ConditionFunc) Name() string              { return "" }
func (fn ConditionFunc) IsSatisfied(data any) bool { return fn(data) }

type action struct {
	name    string
	weight  int
	async   bool
	timeout time.Duration
	fn      func(ctx context.Context, ac *ActionContext) error
}

func (a *action) Name() string           { return a.name }
func (a *action) Weight() int            { return a.weight }
func (a *action) Async() bool            { return a.async }
func (a *action) Timeout() time.Duration { return a.timeout }

func (a *action) Execute(ctx context.Context, ac *ActionContext) error {
	if a.fn == nil {
		return nil
	}
	return a.fn(ctx, ac)
}

type ActionOption func(*action)

func WithWeight(weight int) ActionOption {
	return func(a *action) { a.weight = weight }
}

// Async runs the action on the worker pool.
func Async() ActionOption {
	return func(a *action) { a.async = true }
}

func WithTimeout(timeout time.Duration) ActionOption {
	return func(a *action) { a.timeout = timeout }
}

// NewAction wraps fn with the metadata the executor reads.
//
// Example:
//
//	notify := hsm.NewAction("notify", func(ctx context.Context, ac *hsm.ActionContext) error {
//	    return client.Send(ctx, ac.To)
//	}, hsm.Async(), hsm.WithTimeout(time.Second))
func NewAction(name string, fn func(ctx context.Context, ac *ActionContext) error, opts ...ActionOption) Action {
	a := &action{name: name, fn: fn}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type condition struct {
	name string
	fn   func(data any) bool
}

func (c *condition) Name() string { return c.name }

func (c *condition) IsSatisfied(data any) bool {
	if c.fn == nil {
		return true
	}
	return c.fn(data)
}

func NewCondition(name string, fn func(data any) bool) Condition {
	return &condition{name: name, fn: fn}
}

func actionName(a Action) string {
	if a == nil {
		return ""
	}
	if name := a.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("%T", a)
}

func conditionName(c Condition) string {
	if c == nil {
		return ""
	}
	if name := c.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("%T", c)
}

// invoke runs ac and turns a panic into an error.
func invoke(ctx context.Context, ac *ActionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %q panicked: %v\n%s", actionName(ac.Action), r, debug.Stack())
		}
	}()
	return ac.Action.Execute(ctx, ac)
}
