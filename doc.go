// Package hsm is an embeddable hierarchical state machine engine.
//
// A Graph describes nested, parallel and final states with their entry and
// exit actions and the transitions between them. It is assembled with
// Define or a Builder and verified once. Machines created from a Graph with
// New queue fired events and resolve them one at a time: the highest
// priority transition whose condition holds is chosen, active states are
// exited deepest first, and target states are entered following their
// history type. Actions are deferred while a transition is resolved and run
// only once it is final; the snapshot is replaced only when they succeed.
//
//	graph, err := hsm.Define("light",
//	    hsm.State("off", hsm.Transition(hsm.On("toggle"), hsm.Target("on"))),
//	    hsm.State("on", hsm.Transition(hsm.On("toggle"), hsm.Target("off"))),
//	)
//	if err != nil {
//	    return err
//	}
//	sm, err := hsm.New(graph)
//	if err != nil {
//	    return err
//	}
//	err = sm.Fire(ctx, "toggle", nil) // sm.CurrentState() == "on"
package hsm
