package hsm

import (
	"context"
	"sync"
)

// link holds the nested machines of one linked state, one per owning
// machine, so that several owners can share a graph.
type link struct {
	graph     *Graph
	config    Config
	mu        sync.Mutex
	instances map[*Machine]*Machine
}

func newLink(graph *Graph, maybeConfig ...Config) *link {
	l := &link{graph: graph, instances: map[*Machine]*Machine{}}
	if len(maybeConfig) > 0 {
		l.config = maybeConfig[0]
	}
	return l
}

// acquire returns the nested machine of owner, creating it on first use.
// The nested machine inherits the owner's logger, pool and clock unless its
// own config sets them.
func (l *link) acquire(owner *Machine, stateID string) (*Machine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if nested, ok := l.instances[owner]; ok {
		return nested, nil
	}
	cfg := l.config
	if cfg.ID == "" {
		cfg.ID = owner.id + "/" + stateID
	}
	if cfg.Logger == nil {
		cfg.Logger = owner.logger
	}
	if cfg.Pool == nil && cfg.PoolSize == 0 {
		cfg.Pool = owner.pool
	}
	if cfg.Clock == nil {
		cfg.Clock = owner.clock
	}
	if cfg.ActionTimeout == 0 {
		cfg.ActionTimeout = owner.config.ActionTimeout
	}
	nested, err := New(l.graph, cfg)
	if err != nil {
		return nil, err
	}
	l.instances[owner] = nested
	return nested, nil
}

func (l *link) lookup(owner *Machine) *Machine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.instances[owner]
}

// release terminates and forgets the nested machine of owner.
func (l *link) release(ctx context.Context, owner *Machine) error {
	l.mu.Lock()
	nested, ok := l.instances[owner]
	delete(l.instances, owner)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return nested.Terminate(ctx)
}

// Nested returns the nested machine running in the linked state id, or nil
// when the state is not linked or not active.
func (m *Machine) Nested(id string) *Machine {
	st, ok := m.graph.states[id]
	if !ok || st.link == nil {
		return nil
	}
	return st.link.lookup(m)
}
