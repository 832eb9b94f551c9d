package hsm

import (
	"fmt"
	"slices"

	"github.com/stateforward/hsm-engine/elements"
	"github.com/stateforward/hsm-engine/kinds"
)

type Event string

type (
	CompositeType  = elements.CompositeType
	HistoryType    = elements.HistoryType
	TransitionType = elements.TransitionType
)

const (
	Sequential      = elements.Sequential
	ParallelRegions = elements.Parallel

	HistoryNone    = elements.HistoryNone
	HistoryShallow = elements.HistoryShallow
	HistoryDeep    = elements.HistoryDeep

	External = elements.External
	Local    = elements.Local
	Internal = elements.Internal
)

// root is the key of the virtual parent of every top-level state.
const root = ""

// StateDefinition is one node of a frozen graph. Parent, children and
// initial child are plain id references into the owning Graph.
type StateDefinition struct {
	id          string
	parent      string
	children    []string
	composite   CompositeType
	history     HistoryType
	initial     string
	entry       []Action
	exit        []Action
	final       bool
	level       int
	transitions []*TransitionDefinition
	link        *link
	timer       *timerSpec
}

func (s *StateDefinition) ID() string               { return s.id }
func (s *StateDefinition) Parent() string           { return s.parent }
func (s *StateDefinition) Children() []string       { return slices.Clone(s.children) }
func (s *StateDefinition) InitialChild() string     { return s.initial }
func (s *StateDefinition) Level() int               { return s.level }
func (s *StateDefinition) Composite() CompositeType { return s.composite }
func (s *StateDefinition) History() HistoryType     { return s.history }
func (s *StateDefinition) Final() bool              { return s.final }
func (s *StateDefinition) Entry() []Action          { return slices.Clone(s.entry) }
func (s *StateDefinition) Exit() []Action           { return slices.Clone(s.exit) }
func (s *StateDefinition) EntryNames() []string     { return actionNames(s.entry) }
func (s *StateDefinition) ExitNames() []string      { return actionNames(s.exit) }
func (s *StateDefinition) IsParallel() bool         { return s.composite == elements.Parallel }
func (s *StateDefinition) IsLinked() bool           { return s.link != nil }
func (s *StateDefinition) IsTimed() bool            { return s.timer != nil }
func (s *StateDefinition) isLeaf() bool             { return len(s.children) == 0 }
func (s *StateDefinition) hasChild(id string) bool  { return slices.Contains(s.children, id) }
func (s *StateDefinition) Transitions() []*TransitionDefinition {
	return slices.Clone(s.transitions)
}

func (s *StateDefinition) Kind() uint64 {
	switch {
	case s.final:
		return kinds.Final
	case s.IsParallel():
		return kinds.Parallel
	case len(s.children) > 0:
		return kinds.Composite
	case s.link != nil:
		return kinds.Linked
	case s.timer != nil:
		return kinds.Timed
	default:
		return kinds.State
	}
}

// candidates returns the transitions triggered by event, highest priority
// first and declaration order among equal priorities.
func (s *StateDefinition) candidates(event Event) []*TransitionDefinition {
	var out []*TransitionDefinition
	for _, t := range s.transitions {
		if t.event == event {
			out = append(out, t)
		}
	}
	return out
}

type TransitionDefinition struct {
	source    string
	target    string
	event     Event
	condition Condition
	actions   []Action
	typ       TransitionType
	priority  int
}

func (t *TransitionDefinition) ID() string {
	return fmt.Sprintf("%s-[%s]->%s", t.source, t.event, t.target)
}

func (t *TransitionDefinition) Kind() uint64 {
	switch t.typ {
	case elements.Internal:
		return kinds.Internal
	case elements.Local:
		return kinds.Local
	default:
		return kinds.External
	}
}

func (t *TransitionDefinition) Source() string        { return t.source }
func (t *TransitionDefinition) Target() string        { return t.target }
func (t *TransitionDefinition) Event() Event          { return t.event }
func (t *TransitionDefinition) EventName() string     { return string(t.event) }
func (t *TransitionDefinition) Condition() Condition  { return t.condition }
func (t *TransitionDefinition) GuardName() string     { return conditionName(t.condition) }
func (t *TransitionDefinition) Type() TransitionType  { return t.typ }
func (t *TransitionDefinition) Priority() int         { return t.priority }
func (t *TransitionDefinition) Actions() []Action     { return slices.Clone(t.actions) }
func (t *TransitionDefinition) ActionNames() []string { return actionNames(t.actions) }

// Graph is the immutable state tree and transition list shared by every
// machine built from it.
type Graph struct {
	name        string
	initial     string
	states      map[string]*StateDefinition
	order       []*StateDefinition
	roots       []string
	transitions []*TransitionDefinition
}

func (g *Graph) Name() string    { return g.name }
func (g *Graph) Initial() string { return g.initial }

func (g *Graph) State(id string) (*StateDefinition, bool) {
	s, ok := g.states[id]
	return s, ok
}

func (g *Graph) States() []*StateDefinition {
	return slices.Clone(g.order)
}

func (g *Graph) Roots() []string {
	return slices.Clone(g.roots)
}

func (g *Graph) Transitions() []*TransitionDefinition {
	return slices.Clone(g.transitions)
}

func (g *Graph) Vertices() []elements.State {
	out := make([]elements.State, 0, len(g.order))
	for _, s := range g.order {
		out = append(out, s)
	}
	return out
}

func (g *Graph) Edges() []elements.Transition {
	out := make([]elements.Transition, 0, len(g.transitions))
	for _, t := range g.transitions {
		out = append(out, t)
	}
	return out
}

func (g *Graph) parentOf(id string) string {
	if s, ok := g.states[id]; ok {
		return s.parent
	}
	return root
}

func (g *Graph) children(id string) []string {
	if id == root {
		return g.roots
	}
	return g.states[id].children
}

// IsAncestor reports whether ancestor is a proper ancestor of id.
func (g *Graph) IsAncestor(ancestor, id string) bool {
	if ancestor == id {
		return false
	}
	if ancestor == root {
		_, ok := g.states[id]
		return ok
	}
	for p := g.parentOf(id); p != root; p = g.parentOf(p) {
		if p == ancestor {
			return true
		}
	}
	return false
}

// LCA returns the lowest common proper ancestor of a and b, or "" when they
// only share the virtual root.
//
// For example, with A containing A1 and A2, and A1 containing A11:
// - LCA("A1", "A2") returns "A"
// - LCA("A11", "A2") returns "A"
// - LCA("A1", "A1") returns "A"
func (g *Graph) LCA(a, b string) string {
	for p := g.parentOf(a); p != root; p = g.parentOf(p) {
		if g.IsAncestor(p, b) {
			return p
		}
	}
	return root
}

// path returns the states strictly below from down to and including to.
func (g *Graph) path(from, to string) []string {
	var out []string
	for id := to; id != from && id != root; id = g.parentOf(id) {
		out = append(out, id)
	}
	slices.Reverse(out)
	return out
}

func actionNames(actions []Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, actionName(a))
	}
	return out
}
