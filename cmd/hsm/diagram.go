package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/stateforward/hsm-engine/pkg/plantuml"
)

var diagramCmd = &cobra.Command{
	Use:   "diagram",
	Short: "Print the player graph as a PlantUML state diagram",
	RunE: func(cmd *cobra.Command, args []string) error {
		graph, err := player(io.Discard)
		if err != nil {
			return err
		}
		return plantuml.Generate(cmd.OutOrStdout(), graph)
	},
}

func init() {
	rootCmd.AddCommand(diagramCmd)
}
