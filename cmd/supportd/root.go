package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/nmkr-support-router/internal/config"
	"github.com/JakeFAU/nmkr-support-router/internal/logging"
)

type envKey struct{}

// env is what every subcommand receives once config and logging are ready.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "supportd",
		Short: "NMKR support request router",
		Long: `supportd accepts support requests over HTTP and signed webhooks, queues them,
and answers them with a routing, structuring, specialist and summary pipeline
backed by a language model and documentation crawling.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, &env{cfg: cfg, logger: logger}))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(
		newRunCmd("serve", "Run the HTTP API and the worker pool in one process", true, true),
		newRunCmd("api", "Run only the HTTP API", true, false),
		newRunCmd("worker", "Run only the worker pool and lease reaper", false, true),
		newDescribeCmd(),
	)
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not initialized")
	}
	return e, nil
}
