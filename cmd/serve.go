package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/extendspider-console/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reference plugin backend",
		Long: `Serves the plugin API (toggle_spider, reset_config, reset_all_config,
add_tag, remove_tag, status, history and config) under /api/v1/plugin/{plugin}
together with /healthz, /readyz and /metrics. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}
			backendApp, err := server.Build(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize backend: %w", err)
			}
			if err := backendApp.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run backend: %w", err)
			}
			return nil
		},
	}
}
