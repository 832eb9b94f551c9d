package hsm

import (
	"context"
	"errors"
)

type entryMode int

const (
	ownHistory entryMode = iota
	forceNone
	forceDeep
)

// run is the traversal of one event, or of the initial entry, against a
// working copy of the snapshot. Actions are only deferred here; the caller
// executes them and commits the snapshot when they succeed.
type run struct {
	m           *Machine
	g           *Graph
	snap        *Snapshot
	exec        *Executor
	event       Event
	data        any
	from        string
	to          string
	speculative bool
	finished    bool
	boundary    string
	internal    bool
}

func (m *Machine) newRun(snap *Snapshot, event Event, data any, speculative bool) *run {
	return &run{
		m:           m,
		g:           m.graph,
		snap:        snap,
		exec:        m.executor,
		event:       event,
		data:        data,
		from:        snap.Current,
		speculative: speculative,
	}
}

// dispatch offers the event to the active configuration below head and
// then to head and its ancestors up to, but excluding, stop.
func (r *run) dispatch(ctx context.Context, head, stop string) (bool, error) {
	st := r.g.states[head]
	if st.IsLinked() {
		accepted, err := r.forward(ctx, st)
		if err != nil || accepted {
			return accepted, err
		}
	}
	if st.IsParallel() {
		accepted := false
		for _, region := range append([]string(nil), r.snap.ActiveSubstates[head]...) {
			r.boundary, r.internal = "", true
			ok, err := r.dispatch(ctx, region, head)
			if err != nil {
				return false, err
			}
			if !ok {
				continue
			}
			accepted = true
			if !r.internal && !r.g.IsAncestor(head, r.boundary) {
				return true, nil
			}
		}
		if accepted {
			r.snap.refresh(r.g)
			return true, nil
		}
	}
	return r.search(head, stop), nil
}

// search walks up from id. The first state declaring transitions for the
// event decides: its highest priority satisfied transition fires, or the
// event is declined when none is satisfied.
func (r *run) search(id, stop string) bool {
	for ; id != stop && id != root; id = r.g.parentOf(id) {
		candidates := r.g.states[id].candidates(r.event)
		if len(candidates) == 0 {
			continue
		}
		for _, t := range candidates {
			if r.satisfied(t) {
				r.perform(t)
				return true
			}
		}
		return false
	}
	return false
}

func (r *run) satisfied(t *TransitionDefinition) (ok bool) {
	if t.condition == nil {
		return true
	}
	defer func() {
		if p := recover(); p != nil {
			r.m.logger.Error("condition panicked", "condition", conditionName(t.condition), "transition", t.ID(), "panic", p)
			ok = false
		}
	}()
	return t.condition.IsSatisfied(r.data)
}

func (r *run) perform(t *TransitionDefinition) {
	r.exec.Begin()
	if t.typ == Internal {
		r.to = t.source
		r.internal = true
		r.deferAll(t.actions)
		return
	}
	r.to = t.target
	r.internal = false
	r.boundary = r.boundaryOf(t)
	if child, ok := r.snap.LastActiveChild[r.boundary]; ok {
		r.exitSubtree(child)
	}
	r.deferAll(t.actions)
	if r.boundary == t.target {
		r.enterChildren(r.g.states[t.target], ownHistory)
	} else {
		r.enterPath(r.g.path(r.boundary, t.target))
	}
	r.snap.refresh(r.g)
}

// boundaryOf returns the deepest state that stays active across t. A
// boundary inside a parallel state moves above it, so a transition between
// regions leaves and re-enters the whole parallel state.
func (r *run) boundaryOf(t *TransitionDefinition) string {
	g := r.g
	source, target := t.source, t.target
	var b string
	switch {
	case source == target:
		b = g.parentOf(source)
	case g.IsAncestor(source, target):
		b = g.parentOf(source)
		if t.typ == Local {
			b = source
		}
	case g.IsAncestor(target, source):
		b = g.parentOf(target)
		if t.typ == Local {
			b = target
		}
	default:
		b = g.LCA(source, target)
	}
	for b != root && g.states[b].IsParallel() {
		b = g.parentOf(b)
	}
	return b
}

// exitSubtree exits id and every active state below it, deepest first.
func (r *run) exitSubtree(id string) {
	st := r.g.states[id]
	switch {
	case st.IsParallel():
		for _, region := range st.children {
			r.exitSubtree(region)
		}
		delete(r.snap.ActiveSubstates, id)
	case !st.isLeaf():
		if child, ok := r.snap.LastActiveChild[id]; ok {
			r.exitSubtree(child)
		}
	}
	r.exit(st)
}

// enterPath enters path[0] through the last element, then the last
// element's children by history. Regions of a parallel state on the path
// that are not on it are entered by their own history.
func (r *run) enterPath(path []string) {
	if len(path) == 0 {
		return
	}
	st := r.g.states[path[0]]
	r.enter(st)
	if len(path) == 1 {
		r.enterChildren(st, ownHistory)
		return
	}
	if !st.IsParallel() {
		r.enterPath(path[1:])
		return
	}
	for _, region := range st.children {
		if region == path[1] {
			r.enterPath(path[1:])
		} else {
			r.enterState(r.g.states[region], ownHistory)
		}
	}
}

func (r *run) enterState(st *StateDefinition, mode entryMode) {
	r.enter(st)
	r.enterChildren(st, mode)
}

func (r *run) enterChildren(st *StateDefinition, mode entryMode) {
	if st.isLeaf() {
		return
	}
	if st.IsParallel() {
		for _, region := range st.children {
			r.enterState(r.g.states[region], mode)
		}
		return
	}
	history := st.history
	switch mode {
	case forceNone:
		history = HistoryNone
	case forceDeep:
		history = HistoryDeep
	}
	child, next := st.initial, forceNone
	switch history {
	case HistoryShallow, HistoryDeep:
		if last, ok := r.snap.LastActiveChild[st.id]; ok {
			child = last
		}
		if history == HistoryDeep {
			next = forceDeep
		}
	}
	r.enterState(r.g.states[child], next)
}

func (r *run) enter(st *StateDefinition) {
	if parent, ok := r.g.states[st.parent]; !ok || !parent.IsParallel() {
		r.snap.LastActiveChild[st.parent] = st.id
	}
	r.deferAll(st.entry)
	if st.timer != nil {
		r.deferBuiltin(builtinArmTimer, func(ctx context.Context, ac *ActionContext) error {
			r.m.armTimer(st)
			return nil
		})
	}
	if st.link != nil {
		r.deferBuiltin(builtinStartLinked, func(ctx context.Context, ac *ActionContext) error {
			nested, err := st.link.acquire(r.m, st.id)
			if err != nil {
				return err
			}
			return nested.Start(ctx)
		})
	}
	if st.final && !r.insideParallel(st) {
		r.finished = true
	}
}

// insideParallel reports whether a region of some parallel state holds st.
// Completing such a region does not finish the machine.
func (r *run) insideParallel(st *StateDefinition) bool {
	for id := st.parent; id != root; id = r.g.parentOf(id) {
		if r.g.states[id].IsParallel() {
			return true
		}
	}
	return false
}

func (r *run) exit(st *StateDefinition) {
	if st.timer != nil {
		r.deferBuiltin(builtinDisarmTimer, func(ctx context.Context, ac *ActionContext) error {
			r.m.disarmTimer(st.id)
			return nil
		})
	}
	if st.link != nil {
		r.deferBuiltin(builtinStopLinked, func(ctx context.Context, ac *ActionContext) error {
			return st.link.release(ctx, r.m)
		})
	}
	r.deferAll(st.exit)
}

func (r *run) deferAll(actions []Action) {
	for _, a := range actions {
		r.exec.Defer(a, r.from, r.to, r.event, r.data)
	}
}

const (
	builtinArmTimer    = "hsm.timer.arm"
	builtinDisarmTimer = "hsm.timer.disarm"
	builtinStartLinked = "hsm.link.start"
	builtinStopLinked  = "hsm.link.stop"
)

func (r *run) deferBuiltin(name string, fn func(ctx context.Context, ac *ActionContext) error) {
	r.exec.Defer(NewAction(name, fn), r.from, r.to, r.event, r.data)
}

// forward offers the event to the nested machine of a linked state. A
// nested machine that is gone, busy, terminated, not started or in error
// status declines.
func (r *run) forward(ctx context.Context, st *StateDefinition) (bool, error) {
	nested := st.link.lookup(r.m)
	if nested == nil || nested.Status() == StatusTerminated {
		return false, nil
	}
	if r.speculative {
		_, accepted, _ := nested.speculate(ctx, r.event, r.data)
		return accepted, nil
	}
	accepted, err := nested.offer(ctx, r.event, r.data)
	if errors.Is(err, ErrTerminated) || errors.Is(err, ErrMachineError) || errors.Is(err, ErrNotStarted) {
		return false, nil
	}
	return accepted, err
}
