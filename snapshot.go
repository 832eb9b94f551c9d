package hsm

import (
	"context"
	"maps"
	"slices"

	"github.com/stateforward/hsm-engine/pkg/set"
)

// Snapshot is the mutable runtime position of one machine. LastActiveChild
// maps a parent id to the child most recently entered under it and serves
// both as the active configuration and as history; the key "" holds the
// active top-level state. ActiveSubstates maps a parallel state to the
// current state of each of its regions.
type Snapshot struct {
	ID              string               `json:"id" yaml:"id"`
	Current         string               `json:"current" yaml:"current"`
	Last            string               `json:"last,omitempty" yaml:"last,omitempty"`
	Initial         string               `json:"initial" yaml:"initial"`
	LastActiveChild map[string]string    `json:"last_active_child,omitempty" yaml:"last_active_child,omitempty"`
	ActiveSubstates map[string][]string  `json:"active_substates,omitempty" yaml:"active_substates,omitempty"`
	Nested          map[string]*Snapshot `json:"nested,omitempty" yaml:"nested,omitempty"`
}

func newSnapshot(id, initial string) *Snapshot {
	return &Snapshot{
		ID:              id,
		Initial:         initial,
		LastActiveChild: map[string]string{},
		ActiveSubstates: map[string][]string{},
	}
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := &Snapshot{
		ID:              s.ID,
		Current:         s.Current,
		Last:            s.Last,
		Initial:         s.Initial,
		LastActiveChild: maps.Clone(s.LastActiveChild),
		ActiveSubstates: make(map[string][]string, len(s.ActiveSubstates)),
	}
	if c.LastActiveChild == nil {
		c.LastActiveChild = map[string]string{}
	}
	for k, v := range s.ActiveSubstates {
		c.ActiveSubstates[k] = slices.Clone(v)
	}
	if len(s.Nested) > 0 {
		c.Nested = make(map[string]*Snapshot, len(s.Nested))
		for k, v := range s.Nested {
			c.Nested[k] = v.Clone()
		}
	}
	return c
}

// head descends from id through the recorded active children until it
// reaches a leaf or a parallel state.
func (s *Snapshot) head(g *Graph, id string) string {
	for {
		if id != root {
			st := g.states[id]
			if st.isLeaf() || st.IsParallel() {
				return id
			}
		}
		child, ok := s.LastActiveChild[id]
		if !ok {
			return id
		}
		id = child
	}
}

// refresh recomputes Current and ActiveSubstates from LastActiveChild.
func (s *Snapshot) refresh(g *Graph) {
	clear(s.ActiveSubstates)
	if _, ok := s.LastActiveChild[root]; !ok {
		s.Current = ""
		return
	}
	s.Current = s.head(g, root)
	s.fill(g, s.Current)
}

func (s *Snapshot) fill(g *Graph, id string) {
	st, ok := g.states[id]
	if !ok || !st.IsParallel() {
		return
	}
	heads := make([]string, 0, len(st.children))
	for _, region := range st.children {
		h := s.head(g, region)
		heads = append(heads, h)
		s.fill(g, h)
	}
	s.ActiveSubstates[id] = heads
}

// activeStates lists every active state, parents before children.
func (s *Snapshot) activeStates(g *Graph) []string {
	active := set.New[string]()
	var walk func(id string)
	walk = func(id string) {
		active.Add(g.path(root, id)...)
		for _, h := range s.ActiveSubstates[id] {
			walk(h)
		}
	}
	if s.Current != "" {
		walk(s.Current)
	}
	return active.Slice()
}

// Dump captures the machine's snapshot, including the snapshots of nested
// machines of active linked states.
func (m *Machine) Dump() *Snapshot {
	snap := m.clone()
	for _, id := range snap.activeStates(m.graph) {
		if nested := m.Nested(id); nested != nil {
			if snap.Nested == nil {
				snap.Nested = map[string]*Snapshot{}
			}
			snap.Nested[id] = nested.Dump()
		}
	}
	return snap
}

// Restore reinstalls snap and leaves the machine idle. Nested machines of
// active linked states are restored from snap.Nested or started fresh, and
// timers of active timed states are re-armed.
func (m *Machine) Restore(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return unknownState("")
	}
	if err := m.validate(snap); err != nil {
		return err
	}
	m.mu.Lock()
	if m.status == StatusBusy {
		m.mu.Unlock()
		return ErrBusy
	}
	m.status = StatusBusy
	m.mu.Unlock()

	m.stopTimers()
	restored := snap.Clone()
	restored.ID = m.id
	nested := restored.Nested
	restored.Nested = nil
	if len(restored.LastActiveChild) == 0 {
		parent := root
		for _, id := range m.graph.path(root, restored.Current) {
			restored.LastActiveChild[parent] = id
			parent = id
		}
	}
	restored.refresh(m.graph)
	m.commit(restored)

	var err error
	for _, st := range m.graph.order {
		if st.link != nil {
			if e := st.link.release(ctx, m); e != nil {
				m.logger.Warn("releasing nested machine failed", "state", st.id, "error", e)
			}
		}
	}
	for _, id := range restored.activeStates(m.graph) {
		st := m.graph.states[id]
		if st.timer != nil {
			m.armTimer(st)
		}
		if st.link == nil || err != nil {
			continue
		}
		var child *Machine
		if child, err = st.link.acquire(m, id); err != nil {
			continue
		}
		if s, ok := nested[id]; ok {
			err = child.Restore(ctx, s)
		} else {
			err = child.Start(ctx)
		}
	}

	m.mu.Lock()
	m.status = StatusIdle
	m.mu.Unlock()
	return err
}

func (m *Machine) validate(snap *Snapshot) error {
	known := func(id string) bool {
		_, ok := m.graph.states[id]
		return ok
	}
	if !known(snap.Current) {
		return unknownState(snap.Current)
	}
	for _, id := range []string{snap.Initial, snap.Last} {
		if id != "" && !known(id) {
			return unknownState(id)
		}
	}
	for parent, child := range snap.LastActiveChild {
		if parent != root && !known(parent) {
			return unknownState(parent)
		}
		if !known(child) {
			return unknownState(child)
		}
		if m.graph.parentOf(child) != parent {
			return invalidSnapshot("%q is not a child of %q", child, parent)
		}
	}
	if len(snap.LastActiveChild) > 0 {
		if _, ok := snap.LastActiveChild[root]; !ok {
			return invalidSnapshot("no active top-level state")
		}
		chain := &Snapshot{LastActiveChild: snap.LastActiveChild, ActiveSubstates: map[string][]string{}}
		chain.refresh(m.graph)
		if chain.Current != snap.Current {
			return invalidSnapshot("current state %q does not match recorded history leading to %q", snap.Current, chain.Current)
		}
	}
	for parent, children := range snap.ActiveSubstates {
		if !known(parent) {
			return unknownState(parent)
		}
		for _, child := range children {
			if !known(child) {
				return unknownState(child)
			}
		}
	}
	return nil
}
