package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/nudge/internal/batch"
	"github.com/zulandar/nudge/internal/config"
)

// buildFromConfig loads the config and wires the batch components.
func buildFromConfig(ctx context.Context, configPath string) (*batch.System, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return batch.Build(ctx, cfg, logger)
}

func newHistoryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "history <student-id>",
		Short: "Show a student's contact history",
		Long:  "Prints the communication ledger, pending follow-ups and tool calls recorded for one student.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "nudge.yaml", "path to nudge config file")
	return cmd
}

func runHistory(cmd *cobra.Command, configPath, studentID string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sys, err := buildFromConfig(ctx, configPath)
	if err != nil {
		return err
	}
	defer sys.Close()
	out := cmd.OutOrStdout()

	events, err := sys.Comm.History(ctx, studentID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Contacts for %s: %d\n", studentID, len(events))
	for _, ev := range events {
		fmt.Fprintf(out, "  #%d %s ", ev.Seq, ev.Timestamp.Local().Format(time.DateTime))
		statusColor(ev.Status).Fprintf(out, "%-9s", ev.Status)
		fmt.Fprintf(out, " %s", ev.Subject)
		if ev.Provider != "" {
			faint.Fprintf(out, " via %s", ev.Provider)
		}
		fmt.Fprintln(out)
	}

	entries, err := sys.Schedule.ForRecipient(ctx, studentID)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		fmt.Fprintln(out, "Scheduled follow-ups:")
		for _, e := range entries {
			fmt.Fprintf(out, "  due %s (%d days) %s\n", e.DueAt.Local().Format(time.DateOnly), e.DaysToWait, e.Reason)
		}
	}

	calls, err := sys.Recorder.ToolCallsFor(ctx, studentID)
	if err != nil {
		return err
	}
	if len(calls) > 0 {
		fmt.Fprintln(out, "Tool calls:")
		for _, c := range calls {
			fmt.Fprintf(out, "  %s turn %d %s", truncate(c.RunID, 8), c.Turn, c.Tool)
			if c.ErrorKind != "" {
				red.Fprintf(out, " error=%s", c.ErrorKind)
			}
			fmt.Fprintln(out)
		}
	}
	return nil
}
