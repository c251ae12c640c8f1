package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/nmkr-support-router/internal/server"
)

func newRunCmd(use, short string, api, workers bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), e.cfg,
				server.Roles{API: api, Workers: workers},
				e.logger, server.Overrides{})
			if err != nil {
				return fmt.Errorf("build %s: %w", use, err)
			}
			return app.Run(cmd.Context())
		},
	}
}
