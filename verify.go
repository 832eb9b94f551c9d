package hsm

import (
	"fmt"

	"github.com/stateforward/hsm-engine/pkg/set"
)

// verify returns every structural problem of g.
func verify(g *Graph) []string {
	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	if len(g.roots) == 0 {
		report("graph has no states")
	} else if _, ok := g.states[g.initial]; !ok {
		report("unknown initial state %q", g.initial)
	}
	for _, s := range g.order {
		if s.initial != "" && !s.hasChild(s.initial) {
			report("state %q: initial %q is not a child", s.id, s.initial)
		}
		if s.IsParallel() {
			if s.history != HistoryNone {
				report("parallel state %q uses %s history", s.id, s.history)
			}
			if len(s.children) == 0 {
				report("parallel state %q has no regions", s.id)
			}
		}
		if s.final {
			if len(s.children) > 0 {
				report("final state %q has children", s.id)
			}
			if len(s.exit) > 0 {
				report("final state %q has exit actions", s.id)
			}
			if len(s.transitions) > 0 {
				report("final state %q has outgoing transitions", s.id)
			}
		}
		if s.link != nil && len(s.children) > 0 {
			report("linked state %q has children", s.id)
		}
	}
	type key struct {
		source   string
		event    Event
		priority int
		target   string
	}
	seen := set.New[key]()
	for _, t := range g.transitions {
		if t.source == "" {
			report("transition on %q has no source", t.event)
			continue
		}
		if _, ok := g.states[t.source]; !ok {
			report("transition on %q: unknown source %q", t.event, t.source)
			continue
		}
		if _, ok := g.states[t.target]; !ok {
			report("transition %s: unknown target %q", t.ID(), t.target)
			continue
		}
		if t.event == "" {
			report("transition %s has no event", t.ID())
		}
		if t.typ == Internal && t.target != t.source {
			report("internal transition %s must target its source", t.ID())
		}
		if t.condition == nil {
			k := key{t.source, t.event, t.priority, t.target}
			if seen.Contains(k) {
				report("conflicting duplicate transition %s", t.ID())
			}
			seen.Add(k)
		}
	}
	return problems
}
