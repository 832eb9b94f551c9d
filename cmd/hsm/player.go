package main

import (
	"context"
	"fmt"
	"io"
	"time"

	hsm "github.com/stateforward/hsm-engine"
)

// player builds the demo graph. Entry actions print the entered state to w.
func player(w io.Writer) (*hsm.Graph, error) {
	announce := func(state string) hsm.Action {
		return hsm.NewAction("announce."+state, func(ctx context.Context, ac *hsm.ActionContext) error {
			_, err := fmt.Fprintf(w, "  enter %s (%s)\n", state, ac.Event)
			return err
		})
	}
	return hsm.Define("player",
		hsm.Initial("stopped"),
		hsm.State("stopped",
			hsm.Entry(announce("stopped")),
			hsm.Transition(hsm.On("play"), hsm.Target("active")),
		),
		hsm.State("active",
			hsm.History(hsm.HistoryDeep),
			hsm.Entry(announce("active")),
			hsm.State("playing",
				hsm.Entry(announce("playing")),
				hsm.Transition(hsm.On("pause"), hsm.Target("paused")),
			),
			hsm.State("paused",
				hsm.Entry(announce("paused")),
				hsm.Timer("stop", 10*time.Minute, 0),
				hsm.Transition(hsm.On("play"), hsm.Target("playing")),
			),
			hsm.Transition(hsm.On("stop"), hsm.Target("stopped")),
		),
		hsm.Final("ejected", hsm.Entry(announce("ejected"))),
		hsm.Transition(hsm.On("eject"), hsm.Source("stopped"), hsm.Target("ejected")),
		hsm.Transition(hsm.On("eject"), hsm.Source("active"), hsm.Target("ejected")),
	)
}
