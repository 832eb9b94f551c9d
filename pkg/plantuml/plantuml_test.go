package plantuml_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hsm "github.com/stateforward/hsm-engine"
	"github.com/stateforward/hsm-engine/pkg/plantuml"
)

func TestGenerate(t *testing.T) {
	owner := hsm.NewCondition("isOwner", func(data any) bool { return data == "owner" })
	graph, err := hsm.Define("door-lock",
		hsm.State("closed",
			hsm.History(hsm.HistoryDeep),
			hsm.Entry(hsm.NewAction("light", nil)),
			hsm.State("locked", hsm.Transition(hsm.On("unlock"), hsm.Target("unlocked"), hsm.Guard(owner), hsm.Priority(2))),
			hsm.State("unlocked",
				hsm.Timer("relock", time.Minute, 0),
				hsm.Transition(hsm.On("relock"), hsm.Target("locked"), hsm.Effect(hsm.NewAction("click", nil))),
			),
			hsm.Transition(hsm.On("reset"), hsm.Target("locked"), hsm.Type(hsm.Local)),
			hsm.Transition(hsm.On("ping")),
		),
		hsm.Parallel("opened",
			hsm.State("hinge", hsm.State("swinging")),
			hsm.State("alarm", hsm.State("quiet")),
		),
		hsm.Final("removed"),
		hsm.Transition(hsm.Source("closed"), hsm.On("open"), hsm.Target("opened")),
		hsm.Transition(hsm.Source("opened"), hsm.On("rip"), hsm.Target("removed")),
	)
	require.NoError(t, err)

	var out strings.Builder
	require.NoError(t, plantuml.Generate(&out, graph, "closed", "locked"))
	diagram := out.String()

	for _, line := range []string{
		"@startuml door_lock",
		"state closed #palegreen {",
		"  state locked #palegreen",
		"  state unlocked <<timed>>",
		"  [*] --> locked",
		"  [H*] --> locked",
		"state closed : entry / light",
		"state opened {",
		"  --",
		"state removed <<end>>",
		"[*] --> closed",
		"locked --> unlocked : unlock [isOwner] (2)",
		"unlocked --> locked : relock / click",
		"closed ..> locked : reset",
		"state closed : ping",
		"closed --> opened : open",
		"opened --> removed : rip",
		"@enduml",
	} {
		assert.Contains(t, diagram, line+"\n")
	}
}
