package hsm

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Element is one declarative piece of a graph. Elements are applied in
// order against the builder; stack holds the enclosing states and
// transitions, innermost last.
type Element func(b *Builder, stack []any)

// Builder assembles a Graph from elements. It is frozen by Build.
type Builder struct {
	mu          sync.Mutex
	name        string
	initial     string
	states      map[string]*StateDefinition
	order       []*StateDefinition
	roots       []string
	transitions []*TransitionDefinition
	problems    []string
	graph       *Graph
}

func NewBuilder(maybeName ...string) *Builder {
	b := &Builder{states: map[string]*StateDefinition{}}
	if len(maybeName) > 0 {
		b.name = maybeName[0]
	}
	return b
}

// Add applies elements to the graph under construction.
func (b *Builder) Add(elements ...Element) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.graph != nil {
		return ErrFrozen
	}
	apply(b, nil, elements...)
	return nil
}

// Build verifies the graph and freezes the builder. Calling Build again
// returns the same graph.
func (b *Builder) Build() (*Graph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.graph != nil {
		return b.graph, nil
	}
	g := &Graph{
		name:        b.name,
		initial:     b.initial,
		states:      b.states,
		order:       b.order,
		roots:       b.roots,
		transitions: b.transitions,
	}
	if g.initial == "" && len(g.roots) > 0 {
		g.initial = g.roots[0]
	}
	for _, s := range g.order {
		if s.initial == "" && len(s.children) > 0 && !s.IsParallel() {
			s.initial = s.children[0]
		}
		s.level = level(g, s)
		s.transitions = nil
		sortByWeight(s.entry)
		sortByWeight(s.exit)
	}
	for _, t := range g.transitions {
		sortByWeight(t.actions)
		if t.target == "" {
			t.target = t.source
		}
		if src, ok := g.states[t.source]; ok {
			src.transitions = append(src.transitions, t)
		}
	}
	for _, s := range g.order {
		slices.SortStableFunc(s.transitions, func(a, b *TransitionDefinition) int {
			return b.priority - a.priority
		})
	}
	problems := append(slices.Clone(b.problems), verify(g)...)
	if len(problems) > 0 {
		return nil, invalidGraph(problems)
	}
	b.graph = g
	return g, nil
}

// Define builds a graph from elements in one step.
//
// Example:
//
//	graph, err := hsm.Define("door",
//	    hsm.State("closed", hsm.Transition(hsm.On("open"), hsm.Target("opened"))),
//	    hsm.State("opened", hsm.Transition(hsm.On("close"), hsm.Target("closed"))),
//	)
func Define(name string, elements ...Element) (*Graph, error) {
	b := NewBuilder(name)
	if err := b.Add(elements...); err != nil {
		return nil, err
	}
	return b.Build()
}

func apply(b *Builder, stack []any, elements ...Element) {
	for _, element := range elements {
		if element != nil {
			element(b, stack)
		}
	}
}

func find[T any](stack []any) (T, bool) {
	for i := len(stack) - 1; i >= 0; i-- {
		if v, ok := stack[i].(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func (b *Builder) problem(format string, args ...any) {
	b.problems = append(b.problems, fmt.Sprintf(format, args...))
}

func (b *Builder) state(id string, composite CompositeType, final bool, stack []any, elements []Element) {
	if _, ok := find[*TransitionDefinition](stack); ok {
		b.problem("state %q declared inside a transition", id)
		return
	}
	if id == "" {
		b.problem("state with empty id")
		return
	}
	if _, ok := b.states[id]; ok {
		b.problem("duplicate state %q", id)
		return
	}
	s := &StateDefinition{id: id, composite: composite, final: final}
	if owner, ok := find[*StateDefinition](stack); ok {
		s.parent = owner.id
		owner.children = append(owner.children, id)
	} else {
		b.roots = append(b.roots, id)
	}
	b.states[id] = s
	b.order = append(b.order, s)
	apply(b, append(stack, s), elements...)
}

func (b *Builder) owner(stack []any, element string) *StateDefinition {
	if _, ok := find[*TransitionDefinition](stack); ok {
		b.problem("%s must be declared on a state, not a transition", element)
		return nil
	}
	s, ok := find[*StateDefinition](stack)
	if !ok {
		b.problem("%s must be declared inside a state", element)
		return nil
	}
	return s
}

func (b *Builder) transition(stack []any, element string) *TransitionDefinition {
	t, ok := find[*TransitionDefinition](stack)
	if !ok {
		b.problem("%s must be declared inside a transition", element)
		return nil
	}
	return t
}

// State declares a sequential state. It is composite when it has children.
func State(id string, elements ...Element) Element {
	return func(b *Builder, stack []any) {
		b.state(id, Sequential, false, stack, elements)
	}
}

// Parallel declares a state whose children are regions that are all active
// together.
func Parallel(id string, elements ...Element) Element {
	return func(b *Builder, stack []any) {
		b.state(id, ParallelRegions, false, stack, elements)
	}
}

// Final declares a final state. Entering it requests termination.
func Final(id string, elements ...Element) Element {
	return func(b *Builder, stack []any) {
		b.state(id, Sequential, true, stack, elements)
	}
}

// Initial selects the initial child of the enclosing state, or the initial
// state of the graph when used at the top level.
func Initial(id string) Element {
	return func(b *Builder, stack []any) {
		if _, ok := find[*TransitionDefinition](stack); ok {
			b.problem("initial %q declared inside a transition", id)
			return
		}
		if s, ok := find[*StateDefinition](stack); ok {
			s.initial = id
			return
		}
		b.initial = id
	}
}

func History(history HistoryType) Element {
	return func(b *Builder, stack []any) {
		if s := b.owner(stack, "history"); s != nil {
			s.history = history
		}
	}
}

func Entry(actions ...Action) Element {
	return func(b *Builder, stack []any) {
		if s := b.owner(stack, "entry"); s != nil {
			s.entry = append(s.entry, compact(actions)...)
		}
	}
}

func Exit(actions ...Action) Element {
	return func(b *Builder, stack []any) {
		if s := b.owner(stack, "exit"); s != nil {
			s.exit = append(s.exit, compact(actions)...)
		}
	}
}

// Transition declares a transition. Inside a state the state is the
// default source; a transition without a target is internal.
func Transition(elements ...Element) Element {
	return func(b *Builder, stack []any) {
		if _, ok := find[*TransitionDefinition](stack); ok {
			b.problem("nested transition")
			return
		}
		t := &TransitionDefinition{}
		if s, ok := find[*StateDefinition](stack); ok {
			t.source = s.id
		}
		apply(b, append(stack, t), elements...)
		if t.target == "" {
			t.typ = Internal
		}
		b.transitions = append(b.transitions, t)
	}
}

func On(event Event) Element {
	return func(b *Builder, stack []any) {
		if t := b.transition(stack, "event"); t != nil {
			t.event = event
		}
	}
}

func Source(id string) Element {
	return func(b *Builder, stack []any) {
		if t := b.transition(stack, "source"); t != nil {
			t.source = id
		}
	}
}

func Target(id string) Element {
	return func(b *Builder, stack []any) {
		if t := b.transition(stack, "target"); t != nil {
			t.target = id
		}
	}
}

func Guard(condition Condition) Element {
	return func(b *Builder, stack []any) {
		if t := b.transition(stack, "guard"); t != nil {
			t.condition = condition
		}
	}
}

func Effect(actions ...Action) Element {
	return func(b *Builder, stack []any) {
		if t := b.transition(stack, "effect"); t != nil {
			t.actions = append(t.actions, compact(actions)...)
		}
	}
}

func Priority(priority int) Element {
	return func(b *Builder, stack []any) {
		if t := b.transition(stack, "priority"); t != nil {
			t.priority = priority
		}
	}
}

func Type(typ TransitionType) Element {
	return func(b *Builder, stack []any) {
		if t := b.transition(stack, "type"); t != nil {
			t.typ = typ
		}
	}
}

// Link makes the enclosing state run a nested machine built from graph
// while it is active.
func Link(graph *Graph, maybeConfig ...Config) Element {
	return func(b *Builder, stack []any) {
		if s := b.owner(stack, "link"); s != nil {
			if graph == nil {
				b.problem("state %q links a nil graph", s.id)
				return
			}
			s.link = newLink(graph, maybeConfig...)
		}
	}
}

// Timer fires event on the owning machine delay after the enclosing state
// is entered, then every interval while it stays active when interval is
// positive.
func Timer(event Event, delay, interval time.Duration, maybeData ...any) Element {
	return func(b *Builder, stack []any) {
		if s := b.owner(stack, "timer"); s != nil {
			s.timer = &timerSpec{event: event, delay: delay, interval: interval, data: first(maybeData)}
		}
	}
}

// TimedCron fires event on every activation of a standard cron expression
// while the enclosing state is active.
func TimedCron(event Event, expr string, maybeData ...any) Element {
	return func(b *Builder, stack []any) {
		s := b.owner(stack, "timer")
		if s == nil {
			return
		}
		schedule, err := cron.ParseStandard(expr)
		if err != nil {
			b.problem("state %q: invalid cron expression %q: %v", s.id, expr, err)
			return
		}
		s.timer = &timerSpec{event: event, schedule: schedule, data: first(maybeData)}
	}
}

func compact(actions []Action) []Action {
	return slices.DeleteFunc(slices.Clone(actions), func(a Action) bool { return a == nil })
}

func first(values []any) any {
	if len(values) > 0 {
		return values[0]
	}
	return nil
}

func sortByWeight(actions []Action) {
	slices.SortStableFunc(actions, func(a, b Action) int {
		switch wa, wb := a.Weight(), b.Weight(); {
		case wa > wb:
			return -1
		case wa < wb:
			return 1
		}
		return 0
	})
}

func level(g *Graph, s *StateDefinition) int {
	n := 0
	for p := s.parent; p != root; p = g.parentOf(p) {
		n++
	}
	return n
}
