// Command todosyncd serves the todo API and the realtime change stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fluxorio/todosync/pkg/config"
	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/observability/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "todosyncd:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "todosyncd",
		Short:   "Todo sync backend",
		Long:    "Serves the todo JSON API and streams row changes to connected clients over websocket.",
		Version: version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadApp(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("TODOSYNC_CONFIG"), "YAML or JSON config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadApp(configPath)
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.Auth.Secret = "********"
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(&redacted)
		},
	})
	return cmd
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	logCfg := cfg.Log
	if logCfg.Prefix == "" {
		logCfg.Prefix = "todosyncd"
	}
	logger := core.NewLogger(logCfg)
	logger.Info("starting", "version", version)

	d, err := build(ctx, cfg, logger, prometheus.GetMetrics())
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	if err := d.run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		return err
	}
	logger.Info("stopped")
	return nil
}
