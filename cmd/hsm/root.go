package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	hsm "github.com/stateforward/hsm-engine"
)

var rootCmd = &cobra.Command{
	Use:   "hsm",
	Short: "Run and inspect hierarchical state machines",
	Long:  `hsm drives the bundled media player machine with events, persists its snapshot and renders its diagram.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML machine config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log every lifecycle notification")
}

func loadConfig(cmd *cobra.Command) (hsm.Config, error) {
	cfg := hsm.Config{}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = hsm.LoadConfigYAML(data); err != nil {
			return cfg, err
		}
	}
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	cfg.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return cfg, nil
}
