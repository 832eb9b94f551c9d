// Package elements holds the read-only vocabulary shared between the engine
// and the collaborators that import or export a state graph.
package elements

type CompositeType int

const (
	Sequential CompositeType = iota
	Parallel
)

func (t CompositeType) String() string {
	if t == Parallel {
		return "parallel"
	}
	return "sequential"
}

type HistoryType int

const (
	HistoryNone HistoryType = iota
	HistoryShallow
	HistoryDeep
)

func (t HistoryType) String() string {
	switch t {
	case HistoryShallow:
		return "shallow"
	case HistoryDeep:
		return "deep"
	default:
		return "none"
	}
}

type TransitionType int

const (
	External TransitionType = iota
	Local
	Internal
)

func (t TransitionType) String() string {
	switch t {
	case Local:
		return "local"
	case Internal:
		return "internal"
	default:
		return "external"
	}
}

type Element interface {
	Kind() uint64
	ID() string
}

type State interface {
	Element
	Parent() string
	Children() []string
	InitialChild() string
	Level() int
	Composite() CompositeType
	History() HistoryType
	Final() bool
	EntryNames() []string
	ExitNames() []string
}

type Transition interface {
	Element
	Source() string
	Target() string
	EventName() string
	GuardName() string
	Type() TransitionType
	Priority() int
	ActionNames() []string
}

// Model is the view of a frozen graph. Vertices and Edges are returned in
// declaration order.
type Model interface {
	Name() string
	Initial() string
	Vertices() []State
	Edges() []Transition
}
