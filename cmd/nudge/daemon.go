package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/nudge/internal/batch"
	"github.com/zulandar/nudge/internal/config"
	"github.com/zulandar/nudge/internal/daemon"
	"github.com/zulandar/nudge/internal/dashboard"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type daemonOpts struct {
	configPath string
	schedule   string
	live       bool
	port       int
}

func newDaemonCmd() *cobra.Command {
	var o daemonOpts

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run batches on a cron schedule",
		Long: "Fires one notification batch per schedule tick until interrupted. A tick that\n" +
			"lands while a batch is still running is skipped. With --port the dashboard\n" +
			"API is served alongside and shares the same batch runner.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, o)
		},
	}

	cmd.Flags().StringVarP(&o.configPath, "config", "c", "nudge.yaml", "path to nudge config file")
	cmd.Flags().StringVar(&o.schedule, "schedule", "", "5-field cron expression (overrides config)")
	cmd.Flags().BoolVar(&o.live, "send", false, "deliver real messages on every tick (overrides config)")
	cmd.Flags().IntVarP(&o.port, "port", "p", 0, "also serve the dashboard on this port")
	return cmd
}

// daemonMode resolves the batch mode for scheduled runs and checks that a
// live daemon can actually deliver.
func daemonMode(cfg *config.Config, flagLive bool) (batch.Mode, error) {
	if !flagLive && !cfg.Daemon.Live {
		return batch.ModeSimulate, nil
	}
	if err := cfg.RequireLiveDelivery(); err != nil {
		return "", err
	}
	return batch.ModeLive, nil
}

func runDaemon(cmd *cobra.Command, o daemonOpts) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.schedule != "" {
		cfg.Daemon.Schedule = o.schedule
	}
	mode, err := daemonMode(cfg, o.live)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, err := batch.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sys.Close()

	runner, err := batch.NewRunner(sys)
	if err != nil {
		return err
	}
	d, err := daemon.New(daemon.Opts{
		Expr:   cfg.Daemon.Schedule,
		Runner: runner,
		Mode:   mode,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Daemon started (%s, mode %s). Next run: %s\n",
		cfg.Daemon.Schedule, mode, d.Next(time.Now()).Local().Format(time.DateTime))

	var srv *dashboard.Server
	if o.port > 0 {
		if srv, err = dashboard.NewSystemServer(sys, runner); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(gctx) })
	if srv != nil {
		g.Go(func() error {
			return srv.Start(gctx, dashboard.StartOpts{Port: o.port, Out: out})
		})
	}

	err = g.Wait()
	fired, skipped := d.Counts()
	logger.Info("daemon stopped", zap.Int("fired", fired), zap.Int("skipped", skipped))
	fmt.Fprintf(out, "Daemon stopped after %d batch(es), %d skipped tick(s).\n", fired, skipped)
	return err
}
