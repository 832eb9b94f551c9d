package hsm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hsm "github.com/stateforward/hsm-engine"
	"github.com/stateforward/hsm-engine/kinds"
	"github.com/stateforward/hsm-engine/pkg/tests"
)

func TestBuilderDefaults(t *testing.T) {
	graph, err := hsm.Define("defaults",
		hsm.State("A",
			hsm.State("A1"),
			hsm.State("A2", hsm.State("A2a")),
			hsm.Transition(hsm.On("self")),
		),
		hsm.State("B"),
	)
	require.NoError(t, err)
	assert.Equal(t, "defaults", graph.Name())
	assert.Equal(t, "A", graph.Initial())
	assert.Equal(t, []string{"A", "B"}, graph.Roots())

	a, ok := graph.State("A")
	require.True(t, ok)
	assert.Equal(t, "A1", a.InitialChild())
	assert.Equal(t, []string{"A1", "A2"}, a.Children())
	assert.Equal(t, 0, a.Level())
	assert.True(t, kinds.IsKind(a.Kind(), kinds.Composite))

	a2a, _ := graph.State("A2a")
	assert.Equal(t, 2, a2a.Level())
	assert.Equal(t, "A2", a2a.Parent())

	require.Len(t, a.Transitions(), 1)
	self := a.Transitions()[0]
	assert.Equal(t, hsm.Internal, self.Type())
	assert.Equal(t, "A", self.Target())
	assert.True(t, kinds.IsKind(self.Kind(), kinds.Internal))
	assert.Len(t, graph.Vertices(), 5)
	assert.Len(t, graph.Edges(), 1)
}

func TestBuilderGraphHelpers(t *testing.T) {
	graph, err := hsm.Define("helpers",
		hsm.State("A",
			hsm.State("A1", hsm.State("A11")),
			hsm.State("A2"),
		),
		hsm.State("B"),
	)
	require.NoError(t, err)
	assert.Equal(t, "A", graph.LCA("A1", "A2"))
	assert.Equal(t, "A", graph.LCA("A11", "A2"))
	assert.Equal(t, "A", graph.LCA("A1", "A1"))
	assert.Equal(t, "", graph.LCA("A11", "B"))
	assert.True(t, graph.IsAncestor("A", "A11"))
	assert.False(t, graph.IsAncestor("A11", "A"))
	assert.False(t, graph.IsAncestor("A", "A"))
}

func TestActionsSortedByWeight(t *testing.T) {
	rec := tests.NewRecorder()
	graph, err := hsm.Define("weights",
		hsm.State("A", hsm.Entry(
			rec.Action("normal"),
			rec.Action("after", hsm.WithWeight(hsm.WeightAfter)),
			rec.Action("before", hsm.WithWeight(hsm.WeightBefore)),
			rec.Action("normal2"),
			rec.Action("ignored", hsm.WithWeight(hsm.WeightIgnore)),
		)),
	)
	require.NoError(t, err)
	a, _ := graph.State("A")
	assert.Equal(t, []string{"before", "normal", "normal2", "after", "ignored"}, a.EntryNames())

	sm, err := hsm.New(graph)
	require.NoError(t, err)
	require.NoError(t, sm.Start(context.Background()))
	assert.Equal(t, []string{"before", "normal", "normal2", "after"}, rec.Steps())
}

func TestVerification(t *testing.T) {
	noop := hsm.NewAction("noop", nil)
	for _, tc := range []struct {
		name     string
		elements []hsm.Element
		problem  string
	}{
		{"duplicate", []hsm.Element{hsm.State("A"), hsm.State("A")}, `duplicate state "A"`},
		{"empty id", []hsm.Element{hsm.State("")}, "empty id"},
		{"no states", nil, "graph has no states"},
		{"unknown initial", []hsm.Element{hsm.Initial("X"), hsm.State("A")}, `unknown initial state "X"`},
		{"unknown child initial", []hsm.Element{hsm.State("A", hsm.Initial("B"), hsm.State("A1")), hsm.State("B")}, `initial "B" is not a child`},
		{"unknown target", []hsm.Element{hsm.State("A", hsm.Transition(hsm.On("go"), hsm.Target("X")))}, `unknown target "X"`},
		{"unknown source", []hsm.Element{hsm.State("A"), hsm.Transition(hsm.On("go"), hsm.Source("X"), hsm.Target("A"))}, `unknown source "X"`},
		{"no source", []hsm.Element{hsm.State("A"), hsm.Transition(hsm.On("go"), hsm.Target("A"))}, "has no source"},
		{"no event", []hsm.Element{hsm.State("A", hsm.Transition(hsm.Target("A")))}, "has no event"},
		{"internal mismatch", []hsm.Element{hsm.State("A", hsm.Transition(hsm.On("go"), hsm.Target("B"), hsm.Type(hsm.Internal))), hsm.State("B")}, "must target its source"},
		{"conflicting duplicate", []hsm.Element{
			hsm.State("A",
				hsm.Transition(hsm.On("go"), hsm.Target("B")),
				hsm.Transition(hsm.On("go"), hsm.Target("B")),
			),
			hsm.State("B"),
		}, "conflicting duplicate"},
		{"final with exit", []hsm.Element{hsm.Final("F", hsm.Exit(noop))}, "has exit actions"},
		{"final with children", []hsm.Element{hsm.Final("F", hsm.State("F1"))}, "has children"},
		{"final with transitions", []hsm.Element{hsm.Final("F", hsm.Transition(hsm.On("go"), hsm.Target("F")))}, "outgoing transitions"},
		{"parallel history", []hsm.Element{hsm.Parallel("P", hsm.History(hsm.HistoryDeep), hsm.State("R"))}, "uses deep history"},
		{"parallel without regions", []hsm.Element{hsm.Parallel("P")}, "has no regions"},
		{"linked with children", []hsm.Element{hsm.State("L", hsm.Link(mustGraph(t)), hsm.State("L1"))}, "linked state"},
		{"linked nil graph", []hsm.Element{hsm.State("L", hsm.Link(nil))}, "nil graph"},
		{"entry outside state", []hsm.Element{hsm.Entry(noop), hsm.State("A")}, "must be declared inside a state"},
		{"target outside transition", []hsm.Element{hsm.State("A", hsm.Target("A"))}, "must be declared inside a transition"},
		{"invalid cron", []hsm.Element{hsm.State("A", hsm.TimedCron("tick", "not a cron"))}, "invalid cron expression"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := hsm.Define(tc.name, tc.elements...)
			require.Error(t, err)
			assert.Equal(t, hsm.ErrCodeInvalidGraph, hsm.ErrorCode(err))
			assert.Contains(t, err.Error(), tc.problem)
		})
	}
}

func TestVerificationReportsEveryProblem(t *testing.T) {
	_, err := hsm.Define("many",
		hsm.State("A", hsm.Transition(hsm.On("go"), hsm.Target("X"))),
		hsm.State("A"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate state "A"`)
	assert.Contains(t, err.Error(), `unknown target "X"`)
}

func TestBuilderFreezes(t *testing.T) {
	b := hsm.NewBuilder("frozen")
	require.NoError(t, b.Add(hsm.State("A")))
	graph, err := b.Build()
	require.NoError(t, err)
	assert.ErrorIs(t, b.Add(hsm.State("B")), hsm.ErrFrozen)
	again, err := b.Build()
	require.NoError(t, err)
	assert.Same(t, graph, again)
}

func TestBuilderTimedAndLinkedKinds(t *testing.T) {
	graph, err := hsm.Define("kinds",
		hsm.State("T", hsm.Timer("tick", time.Second, 0)),
		hsm.State("C", hsm.TimedCron("tick", "*/5 * * * *")),
		hsm.State("L", hsm.Link(mustGraph(t))),
	)
	require.NoError(t, err)
	timed, _ := graph.State("T")
	assert.True(t, timed.IsTimed())
	assert.True(t, kinds.IsKind(timed.Kind(), kinds.Timed))
	cron, _ := graph.State("C")
	assert.True(t, cron.IsTimed())
	linked, _ := graph.State("L")
	assert.True(t, linked.IsLinked())
	assert.True(t, kinds.IsKind(linked.Kind(), kinds.Linked, kinds.State))
}

func mustGraph(t *testing.T) *hsm.Graph {
	t.Helper()
	graph, err := hsm.Define("nested",
		hsm.State("N1", hsm.Transition(hsm.On("n"), hsm.Target("N2"))),
		hsm.State("N2"),
	)
	require.NoError(t, err)
	return graph
}
