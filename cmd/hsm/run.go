package main

import (
	"fmt"

	"github.com/spf13/cobra"

	hsm "github.com/stateforward/hsm-engine"
	"github.com/stateforward/hsm-engine/pkg/store"
	"github.com/stateforward/hsm-engine/pkg/store/redis"
	"github.com/stateforward/hsm-engine/pkg/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run [events...]",
	Short: "Fire events at the player machine",
	Long:  `Fires each argument as an event and prints the resulting state. With --store or --redis the snapshot is resumed before and saved after the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.ID == "" {
			cfg.ID = "player"
		}
		cfg.Observers = append(cfg.Observers, telemetry.NewObserver(telemetry.Global()))
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			cfg.Observers = append(cfg.Observers, hsm.NewLogObserver(cfg.Logger))
		}
		graph, err := player(out)
		if err != nil {
			return err
		}
		sm, err := hsm.New(graph, cfg)
		if err != nil {
			return err
		}
		snapshots, err := openStore(cmd)
		if err != nil {
			return err
		}
		if snapshots != nil {
			if err := store.Resume(ctx, snapshots, sm); err != nil && !store.IsNotFound(err) {
				return err
			}
		}
		if err := sm.Start(ctx); err != nil {
			return err
		}
		dry, _ := cmd.Flags().GetBool("dry-run")
		for _, arg := range args {
			event := hsm.Event(arg)
			if dry {
				state, ok := sm.Test(ctx, event, nil)
				fmt.Fprintf(out, "%s -> %s (ok=%t)\n", event, state, ok)
				continue
			}
			if err := sm.Fire(ctx, event, nil); err != nil {
				return fmt.Errorf("fire %q: %w", event, err)
			}
			fmt.Fprintf(out, "%s -> %s [%s]\n", event, sm.CurrentState(), sm.Status())
		}
		if snapshots != nil && !dry {
			return store.Save(ctx, snapshots, sm)
		}
		return nil
	},
}

func openStore(cmd *cobra.Command) (store.Store, error) {
	if addr, _ := cmd.Flags().GetString("redis"); addr != "" {
		return redis.New(addr, "", 0), nil
	}
	if dir, _ := cmd.Flags().GetString("store"); dir != "" {
		var codec store.Codec = store.JSON{}
		if format, _ := cmd.Flags().GetString("format"); format == "yaml" {
			codec = store.YAML{}
		}
		return store.NewFile(dir, codec)
	}
	return nil, nil
}

func init() {
	runCmd.Flags().String("store", "", "Directory for snapshot files")
	runCmd.Flags().String("format", "json", "Snapshot file format: json or yaml")
	runCmd.Flags().String("redis", "", "Redis address for snapshots, overrides --store")
	runCmd.Flags().Bool("dry-run", false, "Test each event without changing the machine")
	rootCmd.AddCommand(runCmd)
}
