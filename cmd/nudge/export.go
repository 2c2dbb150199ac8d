package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/nudge/internal/batch"
	"github.com/zulandar/nudge/internal/config"
	"github.com/zulandar/nudge/internal/student"
	"go.uber.org/zap"
)

func newExportCmd() *cobra.Command {
	var (
		configPath string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Snapshot the student roster to a CSV file",
		Long: "Reads the configured source (CSV or Google Sheet) and writes the roster as CSV.\n" +
			"The snapshot can be used as a csv source for offline runs. Use -o - for stdout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, configPath, output)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "nudge.yaml", "path to nudge config file")
	cmd.Flags().StringVarP(&output, "output", "o", "students.csv", "output file path")
	return cmd
}

func runExport(cmd *cobra.Command, configPath, output string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	src, err := batch.Source(cfg.Source)
	if err != nil {
		return err
	}
	records, err := src.Records(ctx)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}

	if output == "-" {
		return student.WriteCSV(cmd.OutOrStdout(), records)
	}
	if err := writeSnapshot(output, records); err != nil {
		return err
	}
	logger.Info("roster exported", zap.String("path", output), zap.Int("students", len(records)))
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d students (%d incomplete) to %s\n",
		len(records), len(student.Incomplete(records)), output)
	return nil
}

func writeSnapshot(path string, records []student.Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return student.WriteCSV(f, records)
}
