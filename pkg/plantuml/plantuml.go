// Package plantuml renders a state graph as a PlantUML state diagram. It
// only reads the elements view, so any elements.Model can be rendered.
package plantuml

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/stateforward/hsm-engine/elements"
	"github.com/stateforward/hsm-engine/kinds"
)

const activeColor = "#palegreen"

func id(name string) string {
	return strings.NewReplacer("-", "_", "/", "_", " ", "_", ".", "_").Replace(name)
}

type generator struct {
	builder  strings.Builder
	model    elements.Model
	children map[string][]elements.State
	active   map[string]bool
}

func (g *generator) state(depth int, state elements.State) {
	indent := strings.Repeat("  ", depth)
	name := id(state.ID())
	var tags []string
	switch {
	case kinds.IsKind(state.Kind(), kinds.Final):
		tags = append(tags, "<<end>>")
	case kinds.IsKind(state.Kind(), kinds.Linked):
		tags = append(tags, "<<linked>>")
	case kinds.IsKind(state.Kind(), kinds.Timed):
		tags = append(tags, "<<timed>>")
	}
	if g.active[state.ID()] {
		tags = append(tags, activeColor)
	}
	tag := ""
	if len(tags) > 0 {
		tag = " " + strings.Join(tags, " ")
	}
	children := g.children[state.ID()]
	if len(children) == 0 {
		fmt.Fprintf(&g.builder, "%sstate %s%s\n", indent, name, tag)
	} else {
		fmt.Fprintf(&g.builder, "%sstate %s%s {\n", indent, name, tag)
		parallel := state.Composite() == elements.Parallel
		for i, child := range children {
			if parallel && i > 0 {
				fmt.Fprintf(&g.builder, "%s  --\n", indent)
			}
			g.state(depth+1, child)
		}
		if !parallel && state.InitialChild() != "" {
			history := ""
			switch state.History() {
			case elements.HistoryShallow:
				history = "[H]"
			case elements.HistoryDeep:
				history = "[H*]"
			}
			fmt.Fprintf(&g.builder, "%s  [*] --> %s\n", indent, id(state.InitialChild()))
			if history != "" {
				fmt.Fprintf(&g.builder, "%s  %s --> %s\n", indent, history, id(state.InitialChild()))
			}
		}
		fmt.Fprintf(&g.builder, "%s}\n", indent)
	}
	for _, entry := range state.EntryNames() {
		fmt.Fprintf(&g.builder, "%sstate %s : entry / %s\n", indent, name, entry)
	}
	for _, exit := range state.ExitNames() {
		fmt.Fprintf(&g.builder, "%sstate %s : exit / %s\n", indent, name, exit)
	}
}

func (g *generator) transition(transition elements.Transition) {
	label := transition.EventName()
	if guard := transition.GuardName(); guard != "" {
		label = fmt.Sprintf("%s [%s]", label, guard)
	}
	if actions := transition.ActionNames(); len(actions) > 0 {
		label = fmt.Sprintf("%s / %s", label, strings.Join(actions, ", "))
	}
	if priority := transition.Priority(); priority != 0 {
		label = fmt.Sprintf("%s (%d)", label, priority)
	}
	if kinds.IsKind(transition.Kind(), kinds.Internal) {
		fmt.Fprintf(&g.builder, "state %s : %s\n", id(transition.Source()), label)
		return
	}
	arrow := "-->"
	if kinds.IsKind(transition.Kind(), kinds.Local) {
		arrow = "..>"
	}
	fmt.Fprintf(&g.builder, "%s %s %s : %s\n", id(transition.Source()), arrow, id(transition.Target()), label)
}

// Generate writes the diagram of model to writer. States listed in active
// are highlighted.
func Generate(writer io.Writer, model elements.Model, active ...string) error {
	g := &generator{
		model:    model,
		children: map[string][]elements.State{},
		active:   map[string]bool{},
	}
	for _, a := range active {
		g.active[a] = true
	}
	var roots []elements.State
	for _, state := range model.Vertices() {
		if state.Parent() == "" {
			roots = append(roots, state)
			continue
		}
		g.children[state.Parent()] = append(g.children[state.Parent()], state)
	}
	for parent, children := range g.children {
		order := g.lookup(parent).Children()
		slices.SortStableFunc(children, func(a, b elements.State) int {
			return slices.Index(order, a.ID()) - slices.Index(order, b.ID())
		})
	}
	fmt.Fprintf(&g.builder, "@startuml %s\n", id(model.Name()))
	for _, root := range roots {
		g.state(0, root)
	}
	if initial := model.Initial(); initial != "" {
		fmt.Fprintf(&g.builder, "[*] --> %s\n", id(initial))
	}
	for _, transition := range model.Edges() {
		g.transition(transition)
	}
	fmt.Fprintln(&g.builder, "@enduml")
	_, err := io.WriteString(writer, g.builder.String())
	return err
}

func (g *generator) lookup(stateID string) elements.State {
	for _, state := range g.model.Vertices() {
		if state.ID() == stateID {
			return state
		}
	}
	return nil
}
