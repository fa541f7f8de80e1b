package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"admission-gateway/config"
)

func newRootCmd() *cobra.Command {
	var envFile, policiesFile string

	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Reverse proxy with admission control (rate limit, slow down, IP reputation)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile, policiesFile)
			if err != nil {
				cmd.PrintErrln("config error:", err)
				return err
			}

			log, err := newLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				cmd.PrintErrln("logger error:", err)
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := run(ctx, cfg, log); err != nil {
				log.Error("gateway stopped with error", zap.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "path to a .env file (default: ./.env when present)")
	cmd.Flags().StringVar(&policiesFile, "policies", "", "path to a YAML policies file (overrides POLICIES_FILE)")
	cmd.SetContext(context.Background())
	return cmd
}

func newLogger(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
