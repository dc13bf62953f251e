package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/basalt/internal/config"
	"github.com/example/basalt/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:   "basaltctl",
		Short: "Basalt control utility",
		Long: `basaltctl drives the in-memory Basalt engine.

Examples:
  basaltctl demo                      # Run the departments/employees tutorial
  basaltctl demo --concurrency 8      # Also load staff from 8 concurrent sessions
  basaltctl meta --json               # Print the tutorial catalog as JSON`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFlag != "" {
				loaded, err := config.Load(configFlag)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if err := logging.Init(cfg.LoggerConfig()); err != nil {
				return err
			}
			cmd.SetContext(withConfig(cmd.Context(), cfg))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to a YAML config file")

	rootCmd.AddCommand(newDemoCmd(), newMetaCmd())
	return rootCmd
}

type configKey struct{}

func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) *config.Config {
	if ctx != nil {
		if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok {
			return cfg
		}
	}
	return config.DefaultConfig()
}
