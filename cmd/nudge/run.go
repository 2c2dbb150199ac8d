package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/nudge/internal/agent"
	"github.com/zulandar/nudge/internal/batch"
	"github.com/zulandar/nudge/internal/config"
	"go.uber.org/zap"
	"golang.org/x/term"
)

type runOpts struct {
	configPath string
	send       bool
	dryRun     bool
	source     string
	file       string
	yes        bool
	maxTurns   int
	quiet      bool
}

func newRunCmd() *cobra.Command {
	var o runOpts

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one notification batch",
		Long: "Loads the student sheet and lets the decision oracle contact, defer or skip each\n" +
			"student with an incomplete profile. Runs are simulated unless --send is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, o)
		},
	}

	cmd.Flags().StringVarP(&o.configPath, "config", "c", "nudge.yaml", "path to nudge config file")
	cmd.Flags().BoolVar(&o.send, "send", false, "deliver real messages (live mode)")
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "simulate deliveries (the default)")
	cmd.Flags().StringVar(&o.source, "source", "", "record source: csv or sheets (overrides config)")
	cmd.Flags().StringVarP(&o.file, "file", "f", "", "CSV file to read (implies --source csv)")
	cmd.Flags().BoolVarP(&o.yes, "yes", "y", false, "skip the live-mode confirmation prompt")
	cmd.Flags().IntVar(&o.maxTurns, "max-turns", 0, "cap on oracle calls (overrides config)")
	cmd.Flags().BoolVarP(&o.quiet, "quiet", "q", false, "print only the final summary")
	return cmd
}

// applyRunOverrides folds command-line flags into cfg.
func applyRunOverrides(cfg *config.Config, o runOpts) error {
	if o.send && o.dryRun {
		return errors.New("--send and --dry-run are mutually exclusive")
	}
	switch o.source {
	case "", "csv", "sheets":
	default:
		return fmt.Errorf("unknown --source %q (want csv or sheets)", o.source)
	}
	if o.file != "" {
		if o.source == "sheets" {
			return errors.New("--file cannot be combined with --source sheets")
		}
		cfg.Source.Kind = "csv"
		cfg.Source.Path = o.file
	} else if o.source != "" {
		cfg.Source.Kind = o.source
	}
	if cfg.Source.Kind == "sheets" && cfg.Source.SheetID == "" {
		return errors.New("sheets source needs GOOGLE_SHEET_ID or source.sheet_id")
	}
	if o.maxTurns < 0 {
		return errors.New("--max-turns must not be negative")
	}
	if o.maxTurns > 0 {
		cfg.Oracle.MaxTurns = o.maxTurns
	}
	return nil
}

func runBatch(cmd *cobra.Command, o runOpts) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyRunOverrides(cfg, o); err != nil {
		return err
	}

	mode := batch.ModeSimulate
	if o.send {
		mode = batch.ModeLive
		if err := cfg.RequireLiveDelivery(); err != nil {
			return err
		}
		if err := confirmLive(cmd.InOrStdin(), out, isTerminal(cmd.InOrStdin()), o.yes); err != nil {
			return err
		}
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
	if !o.quiet {
		runner.SetObserver(func(ev agent.Event) { printEvent(out, ev) })
	}

	if mode == batch.ModeLive {
		red.Fprintln(out, "LIVE MODE: messages will be delivered.")
	} else {
		yellow.Fprintln(out, "Simulation: no messages will be delivered.")
	}
	fmt.Fprintf(out, "Oracle: %s, providers: %s\n", sys.Oracle.Name(), joinOrNone(sys.Dispatcher.Configured()))

	sum, err := runner.Run(ctx, mode)
	if sum != nil {
		printSummary(out, sum)
	}
	if err != nil {
		logger.Error("run failed", zap.Error(err))
		return err
	}
	return nil
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// confirmLive asks the operator to type "yes" before a live run. Without a
// terminal, --yes is the only way to confirm.
func confirmLive(in io.Reader, out io.Writer, interactive, yes bool) error {
	if yes {
		return nil
	}
	if !interactive {
		return errors.New("live mode needs confirmation: re-run with --yes")
	}
	red.Fprintln(out, "WARNING: LIVE MODE sends real messages to students.")
	fmt.Fprint(out, "Type 'yes' to continue: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != "yes" {
		return errors.New("live run not confirmed")
	}
	return nil
}
