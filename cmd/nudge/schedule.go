package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/nudge/internal/models"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect deferred contacts",
	}
	cmd.AddCommand(newScheduleListCmd())
	return cmd
}

func newScheduleListCmd() *cobra.Command {
	var (
		configPath string
		dueOnly    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedule ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleList(cmd, configPath, dueOnly)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "nudge.yaml", "path to nudge config file")
	cmd.Flags().BoolVar(&dueOnly, "due", false, "only entries that are due now")
	return cmd
}

func runScheduleList(cmd *cobra.Command, configPath string, dueOnly bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sys, err := buildFromConfig(ctx, configPath)
	if err != nil {
		return err
	}
	defer sys.Close()

	var entries []models.ScheduleEntry
	now := sys.Now()
	if dueOnly {
		entries, err = sys.Schedule.Due(ctx, now)
	} else {
		entries, err = sys.Schedule.All(ctx)
	}
	if err != nil {
		return err
	}
	printSchedule(cmd.OutOrStdout(), entries, now)
	return nil
}

func printSchedule(out io.Writer, entries []models.ScheduleEntry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No scheduled follow-ups.")
		return
	}
	fmt.Fprintf(out, "%-14s %-10s %-5s %s\n", "STUDENT", "DUE", "DAYS", "REASON")
	for _, e := range entries {
		due := e.DueAt.Local().Format(time.DateOnly)
		fmt.Fprintf(out, "%-14s ", e.RecipientID)
		if !e.DueAt.After(now) {
			yellow.Fprintf(out, "%-10s", due)
		} else {
			fmt.Fprintf(out, "%-10s", due)
		}
		fmt.Fprintf(out, " %-5d %s\n", e.DaysToWait, truncate(e.Reason, 60))
	}
}
