// Package tests holds helpers shared by machine tests: a recorder whose
// actions append to a trace, and a table runner for event sequences.
package tests

import (
	"context"
	"slices"
	"sync"
	"testing"

	hsm "github.com/stateforward/hsm-engine"
)

// Recorder collects the names of actions in the order they ran.
type Recorder struct {
	mu    sync.Mutex
	steps []string
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Action returns an action that records name when it runs.
func (r *Recorder) Action(name string, opts ...hsm.ActionOption) hsm.Action {
	return hsm.NewAction(name, func(ctx context.Context, ac *hsm.ActionContext) error {
		r.Record(name)
		return nil
	}, opts...)
}

func (r *Recorder) Record(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *Recorder) Steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.steps)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = nil
}

// Test is one step of a table: fire Event with Data and expect the machine
// to end up in State.
type Test struct {
	Name  string
	Event hsm.Event
	Data  any
	State string
}

// Run fires every step in order and fails t at the first unexpected
// state or error.
func Run(t *testing.T, sm *hsm.Machine, steps ...Test) {
	t.Helper()
	for _, step := range steps {
		if err := sm.Fire(context.Background(), step.Event, step.Data); err != nil {
			t.Fatalf("%s: fire %q: %v", step.Name, step.Event, err)
		}
		if got := sm.CurrentState(); got != step.State {
			t.Fatalf("%s: fire %q: expected state %q, got %q", step.Name, step.Event, step.State, got)
		}
	}
}
