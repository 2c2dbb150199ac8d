package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/nudge/internal/batch"
	"github.com/zulandar/nudge/internal/config"
	"github.com/zulandar/nudge/internal/dashboard"
)

func newDashboardCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Start the web dashboard API",
		Long:  "Serves run history, student results, ledgers and live run events over HTTP, and lets an operator trigger a batch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "nudge.yaml", "path to nudge config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config, 8080)")
	return cmd
}

func runDashboard(cmd *cobra.Command, configPath string, port int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port <= 0 {
		port = cfg.Dashboard.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	sys, err := batch.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sys.Close()

	runner, err := batch.NewRunner(sys)
	if err != nil {
		return err
	}
	srv, err := dashboard.NewSystemServer(sys, runner)
	if err != nil {
		return err
	}
	return srv.Start(ctx, dashboard.StartOpts{
		Port: port,
		Out:  cmd.OutOrStdout(),
	})
}
