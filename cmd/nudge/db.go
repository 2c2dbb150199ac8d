package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/nudge/internal/config"
	"github.com/zulandar/nudge/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the nudge database and migrate all tables",
		Long:  "For MySQL, creates the configured database if needed. Then migrates the ledger and run log tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "nudge.yaml", "path to nudge config file")
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate tables in an existing database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "nudge.yaml", "path to nudge config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dc := cfg.Database

	if dc.Driver == "mysql" {
		adminDB, err := db.ConnectAdmin(dc)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Connected to MySQL at %s:%d\n", dc.Host, dc.Port)
		if err := db.CreateDatabase(adminDB, dc.Name); err != nil {
			return err
		}
		if sqlDB, err := adminDB.DB(); err == nil {
			sqlDB.Close()
		}
		fmt.Fprintf(out, "Database %s ready\n", dc.Name)
	}

	if err := migrate(cmd, cfg); err != nil {
		return err
	}
	fmt.Fprintln(out, "\nnudge database initialized successfully.")
	return nil
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return migrate(cmd, cfg)
}

func migrate(cmd *cobra.Command, cfg *config.Config) error {
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables (%s)\n", len(db.AllModels()), describeDatabase(cfg.Database))
	return nil
}

func describeDatabase(dc config.DatabaseConfig) string {
	if dc.Driver == "mysql" {
		return fmt.Sprintf("mysql %s:%d/%s", dc.Host, dc.Port, dc.Name)
	}
	return "sqlite " + dc.Path
}
