package hsm

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Signal int

const (
	SignalStart Signal = iota
	SignalTerminate
	SignalTransitionBegin
	SignalTransitionComplete
	SignalTransitionDeclined
	SignalTransitionException
	SignalTransitionEnd
	SignalBeforeAction
	SignalAfterAction
	SignalActionException
)

var signalNames = [...]string{
	SignalStart:               "start",
	SignalTerminate:           "terminate",
	SignalTransitionBegin:     "transition.begin",
	SignalTransitionComplete:  "transition.complete",
	SignalTransitionDeclined:  "transition.declined",
	SignalTransitionException: "transition.exception",
	SignalTransitionEnd:       "transition.end",
	SignalBeforeAction:        "action.before",
	SignalAfterAction:         "action.after",
	SignalActionException:     "action.exception",
}

func (s Signal) String() string {
	if s < 0 || int(s) >= len(signalNames) {
		return "unknown"
	}
	return signalNames[s]
}

// Notification is emitted for every lifecycle step. Action, Position and
// Total are set for action signals only; Duration only for SignalAfterAction.
type Notification struct {
	Signal   Signal
	Machine  *Machine
	From     string
	To       string
	Event    Event
	Data     any
	Action   string
	Position int
	Total    int
	Duration time.Duration
	Skipped  bool
	Err      error
}

type Observer interface {
	Notify(n Notification)
}

type ObserverFunc func(n Notification)

func (fn ObserverFunc) Notify(n Notification) {
	fn(n)
}

type subscription struct {
	id       uint64
	observer Observer
	mask     uint64
}

type observers struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

func (o *observers) add(observer Observer, signals ...Signal) func() {
	var mask uint64
	for _, s := range signals {
		mask |= 1 << uint(s)
	}
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	o.subs = append(o.subs, subscription{id: id, observer: observer, mask: mask})
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, sub := range o.subs {
			if sub.id == id {
				o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
				return
			}
		}
	}
}

func (o *observers) notify(n Notification) {
	o.mu.RLock()
	subs := o.subs
	o.mu.RUnlock()
	for _, sub := range subs {
		if sub.mask != 0 && sub.mask&(1<<uint(n.Signal)) == 0 {
			continue
		}
		sub.observer.Notify(n)
	}
}

// NewLogObserver logs every notification on logger.
func NewLogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return ObserverFunc(func(n Notification) {
		level := slog.LevelDebug
		attrs := []slog.Attr{
			slog.String("signal", n.Signal.String()),
			slog.String("from", n.From),
			slog.String("to", n.To),
			slog.String("event", string(n.Event)),
		}
		if n.Machine != nil {
			attrs = append(attrs, slog.String("machine", n.Machine.ID()))
		}
		switch n.Signal {
		case SignalBeforeAction, SignalAfterAction, SignalActionException:
			attrs = append(attrs,
				slog.String("action", n.Action),
				slog.Int("position", n.Position),
				slog.Int("total", n.Total),
			)
			if n.Signal == SignalAfterAction {
				attrs = append(attrs, slog.Duration("duration", n.Duration), slog.Bool("skipped", n.Skipped))
			}
		case SignalStart, SignalTerminate, SignalTransitionComplete:
			level = slog.LevelInfo
		}
		if n.Err != nil {
			level = slog.LevelError
			attrs = append(attrs, slog.Any("error", n.Err))
		}
		logger.LogAttrs(context.Background(), level, "hsm", attrs...)
	})
}
