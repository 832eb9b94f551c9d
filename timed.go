package hsm

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stateforward/hsm-engine/clock"
)

// timerSpec is the auto-fire declaration of a timed state: either a delay
// followed by an optional repeat interval, or a cron schedule.
type timerSpec struct {
	event    Event
	data     any
	delay    time.Duration
	interval time.Duration
	schedule cron.Schedule
}

func (t *timerSpec) next(now time.Time, first bool) (time.Duration, bool) {
	switch {
	case t.schedule != nil:
		return t.schedule.Next(now).Sub(now), true
	case first:
		return t.delay, true
	case t.interval > 0:
		return t.interval, true
	}
	return 0, false
}

type stateTimer struct {
	state string
	spec  *timerSpec
	timer clock.Timer
}

func (m *Machine) armTimer(st *StateDefinition) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if old, ok := m.timers[st.id]; ok && old.timer != nil {
		old.timer.Stop()
	}
	t := &stateTimer{state: st.id, spec: st.timer}
	m.timers[st.id] = t
	m.schedule(t, true)
}

// schedule must be called with timersMu held.
func (m *Machine) schedule(t *stateTimer, first bool) {
	d, ok := t.spec.next(m.clock.Now(), first)
	if !ok {
		t.timer = nil
		return
	}
	t.timer = m.clock.AfterFunc(d, func() { m.expire(t) })
}

func (m *Machine) expire(t *stateTimer) {
	m.timersMu.Lock()
	if m.timers[t.state] != t {
		m.timersMu.Unlock()
		return
	}
	m.schedule(t, false)
	m.timersMu.Unlock()
	if err := m.Fire(context.Background(), t.spec.event, t.spec.data); err != nil {
		m.logger.Warn("timed event failed", "state", t.state, "event", t.spec.event, "error", err)
	}
}

func (m *Machine) armed(id string) bool {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	_, ok := m.timers[id]
	return ok
}

func (m *Machine) disarmTimer(id string) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if t, ok := m.timers[id]; ok {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(m.timers, id)
	}
}

func (m *Machine) stopTimers() {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	for id, t := range m.timers {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(m.timers, id)
	}
}
