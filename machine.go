package hsm

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/stateforward/hsm-engine/clock"
	"github.com/stateforward/hsm-engine/pkg/set"
	"github.com/stateforward/hsm-engine/queue"
)

type Status int32

const (
	StatusInitialized Status = iota
	StatusIdle
	StatusBusy
	StatusTerminated
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusTerminated:
		return "terminated"
	case StatusError:
		return "error"
	}
	return "unknown"
}

type item struct {
	event     Event
	data      any
	terminate bool
}

// Machine is one running instance of a Graph. Events are queued and drained
// by a single goroutine at a time; an action that fires on its own machine
// only enqueues.
type Machine struct {
	id        string
	name      string
	initial   string
	graph     *Graph
	config    Config
	logger    *slog.Logger
	clock     clock.Clock
	pool      *Pool
	observers observers
	executor  *Executor

	mu     sync.Mutex
	status Status
	queue  *queue.Queue[item]

	snapshotMu sync.RWMutex
	snapshot   *Snapshot

	timersMu sync.Mutex
	timers   map[string]*stateTimer
}

// New creates a machine for graph. The machine is started by Start or by
// the first Fire unless auto start is disabled.
func New(graph *Graph, maybeConfig ...Config) (*Machine, error) {
	if graph == nil {
		return nil, invalidGraph([]string{"nil graph"})
	}
	cfg := Config{}
	if len(maybeConfig) > 0 {
		cfg = maybeConfig[0]
	}
	m := &Machine{
		id:      cfg.ID,
		name:    cfg.Name,
		initial: cfg.Initial,
		graph:   graph,
		config:  cfg,
		clock:   cfg.Clock,
		pool:    cfg.Pool,
		queue:   queue.New[item](),
		timers:  map[string]*stateTimer{},
	}
	if m.id == "" {
		m.id = uuid.Must(uuid.NewV7()).String()
	}
	if m.name == "" {
		m.name = graph.Name()
	}
	if m.initial == "" {
		m.initial = graph.Initial()
	}
	if _, ok := graph.states[m.initial]; !ok {
		return nil, unknownState(m.initial)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m.logger = logger.With("machine", m.id)
	if m.clock == nil {
		m.clock = clock.Make()
	}
	if m.pool == nil {
		if cfg.PoolSize > 0 {
			m.pool = NewPool(cfg.PoolSize)
		} else {
			m.pool = DefaultPool()
		}
	}
	m.executor = NewExecutor(m.pool, cfg.ActionTimeout, m.notify)
	m.executor.owner = m
	for _, observer := range cfg.Observers {
		m.observers.add(observer)
	}
	m.snapshot = newSnapshot(m.id, m.initial)
	m.snapshot.Current = m.initial
	return m, nil
}

func (m *Machine) ID() string           { return m.id }
func (m *Machine) Name() string         { return m.name }
func (m *Machine) Graph() *Graph        { return m.graph }
func (m *Machine) Logger() *slog.Logger { return m.logger }

func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Observe subscribes observer to signals, or to every signal when none are
// given. The returned function unsubscribes.
func (m *Machine) Observe(observer Observer, signals ...Signal) func() {
	return m.observers.add(observer, signals...)
}

func (m *Machine) notify(n Notification) {
	n.Machine = m
	m.observers.notify(n)
}

// Start enters the initial configuration and drains events queued so far.
// It is a no-op once the machine has started.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status != StatusInitialized {
		m.mu.Unlock()
		return nil
	}
	m.status = StatusBusy
	m.mu.Unlock()
	if err := m.enterInitial(ctx); err != nil {
		return err
	}
	return m.drain(ctx)
}

// Fire queues event and, unless another goroutine is already draining,
// drains the queue before returning.
func (m *Machine) Fire(ctx context.Context, event Event, data any) error {
	return m.fire(ctx, item{event: event, data: data}, false)
}

// FireImmediate queues event ahead of every normally queued event.
func (m *Machine) FireImmediate(ctx context.Context, event Event, data any) error {
	return m.fire(ctx, item{event: event, data: data}, true)
}

func (m *Machine) fire(ctx context.Context, it item, immediate bool) error {
	m.mu.Lock()
	switch m.status {
	case StatusTerminated:
		m.mu.Unlock()
		return ErrTerminated
	case StatusError:
		m.mu.Unlock()
		return ErrMachineError
	case StatusInitialized:
		if m.config.DisableAutoStart {
			m.mu.Unlock()
			return ErrNotStarted
		}
	}
	if immediate {
		m.queue.PushImmediate(it)
	} else {
		m.queue.Push(it)
	}
	if m.status == StatusBusy {
		m.mu.Unlock()
		return nil
	}
	starting := m.status == StatusInitialized
	m.status = StatusBusy
	m.mu.Unlock()
	if starting {
		if err := m.startFor(ctx); err != nil {
			return err
		}
	}
	return m.drain(ctx)
}

// startFor enters the initial configuration on behalf of a fired event. A
// final initial state terminates the machine before the event is seen.
func (m *Machine) startFor(ctx context.Context) error {
	if err := m.enterInitial(ctx); err != nil {
		return err
	}
	if m.Status() == StatusTerminated {
		return ErrTerminated
	}
	return nil
}

// offer resolves event right away on behalf of an owning machine and
// reports whether it was accepted. A machine that is busy with other events
// declines, since its outcome could not be awaited.
func (m *Machine) offer(ctx context.Context, event Event, data any) (bool, error) {
	m.mu.Lock()
	switch m.status {
	case StatusTerminated:
		m.mu.Unlock()
		return false, ErrTerminated
	case StatusError:
		m.mu.Unlock()
		return false, ErrMachineError
	case StatusBusy:
		m.mu.Unlock()
		return false, nil
	case StatusInitialized:
		if m.config.DisableAutoStart {
			m.mu.Unlock()
			return false, ErrNotStarted
		}
	}
	starting := m.status == StatusInitialized
	m.status = StatusBusy
	m.mu.Unlock()
	if starting {
		if err := m.startFor(ctx); err != nil {
			return false, err
		}
	}
	accepted, err := m.process(ctx, item{event: event, data: data})
	if err != nil {
		return false, err
	}
	return accepted, m.drain(ctx)
}

// drain processes queued items until the queue is empty. It is only ever
// run by the goroutine that moved the status to busy.
func (m *Machine) drain(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.status != StatusBusy {
			m.queue.Clear()
			m.mu.Unlock()
			return nil
		}
		if err := ctx.Err(); err != nil {
			dropped := m.queue.Clear()
			m.status = StatusIdle
			m.mu.Unlock()
			m.logger.Warn("event processing cancelled", "dropped", dropped, "error", err)
			return err
		}
		it, ok := m.queue.Pop()
		if !ok {
			m.status = StatusIdle
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		if it.terminate {
			if err := m.terminate(ctx); err != nil {
				return err
			}
			continue
		}
		if _, err := m.process(ctx, it); err != nil {
			return err
		}
	}
}

func (m *Machine) enterInitial(ctx context.Context) error {
	snap := m.clone()
	r := m.newRun(snap, "", nil, false)
	r.to = m.initial
	m.executor.Reset()
	m.executor.Begin()
	r.enterPath(m.graph.path(root, m.initial))
	snap.refresh(m.graph)
	if err := m.executor.Execute(ctx); err != nil {
		m.fail(err)
		m.settle(ctx, nil)
		return err
	}
	m.commit(snap)
	m.logger.Debug("started", "state", snap.Current)
	m.notify(Notification{Signal: SignalStart, To: snap.Current})
	if r.finished && !m.config.DisableAutoTerminate {
		return m.terminate(ctx)
	}
	return nil
}

// process resolves one event and runs its actions. The snapshot is only
// replaced once every action succeeded.
func (m *Machine) process(ctx context.Context, it item) (bool, error) {
	snap := m.clone()
	r := m.newRun(snap, it.event, it.data, false)
	m.executor.Reset()
	m.notify(Notification{Signal: SignalTransitionBegin, From: r.from, Event: it.event, Data: it.data})
	accepted, err := r.dispatch(ctx, snap.Current, root)
	if err == nil && !accepted {
		m.executor.Reset()
		m.logger.Debug("event declined", "event", it.event, "state", r.from)
		m.notify(Notification{Signal: SignalTransitionDeclined, From: r.from, Event: it.event, Data: it.data})
		m.notify(Notification{Signal: SignalTransitionEnd, From: r.from, Event: it.event, Data: it.data})
		return false, nil
	}
	if err == nil {
		err = m.executor.Execute(ctx)
	}
	if err != nil {
		m.executor.Reset()
		m.notify(Notification{Signal: SignalTransitionException, From: r.from, To: r.to, Event: it.event, Data: it.data, Err: err})
		m.notify(Notification{Signal: SignalTransitionEnd, From: r.from, To: r.to, Event: it.event, Data: it.data, Err: err})
		m.fail(err)
		m.settle(ctx, m.clone().activeStates(m.graph))
		return false, err
	}
	snap.Last = r.from
	m.commit(snap)
	to := r.to
	if to == "" {
		to = snap.Current
	}
	m.logger.Debug("transition", "event", it.event, "from", r.from, "to", to)
	m.notify(Notification{Signal: SignalTransitionComplete, From: r.from, To: to, Event: it.event, Data: it.data})
	m.notify(Notification{Signal: SignalTransitionEnd, From: r.from, To: to, Event: it.event, Data: it.data})
	if r.finished && !m.config.DisableAutoTerminate {
		return true, m.terminate(ctx)
	}
	return true, nil
}

func (m *Machine) fail(err error) {
	m.mu.Lock()
	m.status = StatusError
	dropped := m.queue.Clear()
	m.mu.Unlock()
	m.logger.Error("action failed", "error", err, "dropped", dropped)
}

// settle realigns timers and nested machines with the active states after
// a run whose actions failed part way through.
func (m *Machine) settle(ctx context.Context, active []string) {
	on := set.New(active...)
	for _, st := range m.graph.order {
		if st.timer != nil {
			switch {
			case !on.Contains(st.id):
				m.disarmTimer(st.id)
			case !m.armed(st.id):
				m.armTimer(st)
			}
		}
		if st.link != nil && !on.Contains(st.id) {
			if err := st.link.release(ctx, m); err != nil {
				m.logger.Warn("releasing nested machine failed", "state", st.id, "error", err)
			}
		}
	}
}

// Recover moves a machine in error status back to idle. It reports whether
// the status changed.
func (m *Machine) Recover() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusError {
		return false
	}
	m.status = StatusIdle
	return true
}

// Terminate exits every active state and rejects further events. While
// another goroutine drains, termination is queued behind pending events.
func (m *Machine) Terminate(ctx context.Context) error {
	m.mu.Lock()
	switch m.status {
	case StatusTerminated:
		m.mu.Unlock()
		return nil
	case StatusInitialized:
		m.status = StatusTerminated
		m.mu.Unlock()
		m.notify(Notification{Signal: SignalTerminate, From: m.CurrentState()})
		return nil
	case StatusBusy:
		m.queue.Push(item{terminate: true})
		m.mu.Unlock()
		return nil
	}
	m.status = StatusBusy
	m.mu.Unlock()
	return m.terminate(ctx)
}

func (m *Machine) terminate(ctx context.Context) error {
	snap := m.clone()
	r := m.newRun(snap, "", nil, false)
	m.executor.Reset()
	m.executor.Begin()
	if top, ok := snap.LastActiveChild[root]; ok {
		r.exitSubtree(top)
	}
	err := m.executor.Execute(ctx)
	if err != nil {
		m.executor.Reset()
		m.logger.Error("exit failed during termination", "error", err)
	}
	m.commit(snap)
	m.stopTimers()
	m.mu.Lock()
	m.status = StatusTerminated
	dropped := m.queue.Clear()
	m.mu.Unlock()
	m.logger.Debug("terminated", "state", snap.Current, "dropped", dropped)
	m.notify(Notification{Signal: SignalTerminate, From: snap.Current})
	return err
}

// Test reports the state the machine would be in after event without
// changing its recorded state and without running actions. ok is false when
// the machine cannot take the event right now.
func (m *Machine) Test(ctx context.Context, event Event, data any) (state string, ok bool) {
	state, _, ok = m.speculate(ctx, event, data)
	return state, ok
}

func (m *Machine) speculate(ctx context.Context, event Event, data any) (string, bool, bool) {
	m.mu.Lock()
	previous := m.status
	switch {
	case previous == StatusBusy, previous == StatusTerminated, previous == StatusError:
		m.mu.Unlock()
		return "", false, false
	case previous == StatusInitialized && m.config.DisableAutoStart:
		m.mu.Unlock()
		return "", false, false
	}
	m.status = StatusBusy
	m.mu.Unlock()

	dummy := m.executor.Dummy()
	m.executor.SetDummyExecution(true)
	state, accepted, err := m.trial(ctx, previous, event, data)
	m.executor.Reset()
	m.executor.SetDummyExecution(dummy)

	m.mu.Lock()
	m.status = previous
	resume := previous == StatusIdle && m.queue.Len() > 0
	if resume {
		m.status = StatusBusy
	}
	m.mu.Unlock()
	if resume {
		if err := m.drain(ctx); err != nil {
			m.logger.Warn("draining events queued during test failed", "error", err)
		}
	}
	if err != nil {
		return "", false, false
	}
	return state, accepted, true
}

func (m *Machine) trial(ctx context.Context, previous Status, event Event, data any) (string, bool, error) {
	snap := m.clone()
	if previous == StatusInitialized {
		r := m.newRun(snap, "", nil, true)
		m.executor.Begin()
		r.enterPath(m.graph.path(root, m.initial))
		snap.refresh(m.graph)
		if err := m.executor.Execute(ctx); err != nil {
			return "", false, err
		}
	}
	r := m.newRun(snap, event, data, true)
	accepted, err := r.dispatch(ctx, snap.Current, root)
	if err != nil {
		return "", false, err
	}
	if accepted {
		if err := m.executor.Execute(ctx); err != nil {
			return "", false, err
		}
	}
	return snap.Current, accepted, nil
}

// CanAccept reports whether some active state declares a transition for
// event, without evaluating conditions.
func (m *Machine) CanAccept(event Event) bool {
	m.snapshotMu.RLock()
	active := m.snapshot.activeStates(m.graph)
	m.snapshotMu.RUnlock()
	for _, id := range active {
		st := m.graph.states[id]
		if len(st.candidates(event)) > 0 {
			return true
		}
		if st.link != nil {
			if nested := st.link.lookup(m); nested != nil && nested.CanAccept(event) {
				return true
			}
		}
	}
	return false
}

func (m *Machine) clone() *Snapshot {
	m.snapshotMu.RLock()
	defer m.snapshotMu.RUnlock()
	return m.snapshot.Clone()
}

func (m *Machine) commit(snap *Snapshot) {
	m.snapshotMu.Lock()
	m.snapshot = snap
	m.snapshotMu.Unlock()
}

func (m *Machine) CurrentState() string {
	m.snapshotMu.RLock()
	defer m.snapshotMu.RUnlock()
	return m.snapshot.Current
}

func (m *Machine) LastState() string {
	m.snapshotMu.RLock()
	defer m.snapshotMu.RUnlock()
	return m.snapshot.Last
}

func (m *Machine) InitialState() string {
	return m.initial
}

// ActiveSubstates returns the current state of each region of every active
// parallel state.
func (m *Machine) ActiveSubstates() map[string][]string {
	m.snapshotMu.RLock()
	defer m.snapshotMu.RUnlock()
	out := make(map[string][]string, len(m.snapshot.ActiveSubstates))
	for k, v := range m.snapshot.ActiveSubstates {
		out[k] = slices.Clone(v)
	}
	return out
}

func (m *Machine) LastActiveChild() map[string]string {
	m.snapshotMu.RLock()
	defer m.snapshotMu.RUnlock()
	return maps.Clone(m.snapshot.LastActiveChild)
}

// ActiveStates lists every active state, parents before children. Nothing
// is active before start or after termination.
func (m *Machine) ActiveStates() []string {
	switch m.Status() {
	case StatusInitialized, StatusTerminated:
		return nil
	}
	m.snapshotMu.RLock()
	defer m.snapshotMu.RUnlock()
	return m.snapshot.activeStates(m.graph)
}

func (m *Machine) IsActive(id string) bool {
	return slices.Contains(m.ActiveStates(), id)
}
