package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/zulandar/nudge/internal/batch"
	"github.com/zulandar/nudge/internal/config"
	"github.com/zulandar/nudge/internal/daemon"
	"github.com/zulandar/nudge/internal/db"
	"github.com/zulandar/nudge/internal/student"
)

func newDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and dependencies",
		Long:  "Runs diagnostic checks on nudge prerequisites: config, credentials, database, schema, ledger backend, record source and delivery providers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "nudge.yaml", "path to nudge config file")
	return cmd
}

type checkResult struct {
	name   string
	status string // "PASS", "FAIL", "WARN"
	detail string
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "nudge doctor")
	fmt.Fprintln(out, "============")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var results []checkResult

	cfg, cfgResult := checkConfig(configPath)
	results = append(results, cfgResult)
	if cfg == nil {
		for _, name := range []string{"Credentials", "Database", "Schema", "Ledger", "Record source", "Providers", "Daemon schedule"} {
			results = append(results, checkResult{name, "FAIL", "skipped (no config)"})
		}
	} else {
		results = append(results, checkCredentials(cfg)...)
		results = append(results, checkDatabase(cfg)...)
		results = append(results, checkLedger(ctx, cfg))
		results = append(results, checkSource(ctx, cfg))
		results = append(results, checkProviders(cfg))
		results = append(results, checkSchedule(cfg))
	}

	passed, failed, warned := 0, 0, 0
	for _, r := range results {
		printCheckResult(out, r)
		switch r.status {
		case "PASS":
			passed++
		case "FAIL":
			failed++
		case "WARN":
			warned++
		}
	}

	fmt.Fprintf(out, "\n%d passed, %d failed, %d warning\n", passed, failed, warned)

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func printCheckResult(out io.Writer, r checkResult) {
	statusColor(r.status).Fprintf(out, "[%s]", r.status)
	fmt.Fprintf(out, " %s: %s\n", r.name, r.detail)
}

func checkConfig(path string) (*config.Config, checkResult) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, checkResult{"Config file", "FAIL", fmt.Sprintf("%s: %v", path, err)}
	}
	return cfg, checkResult{"Config file", "PASS", path}
}

// checkCredentials reports required settings as failures only for live
// delivery; simulated runs work without them.
func checkCredentials(cfg *config.Config) []checkResult {
	st := cfg.Status()
	results := make([]checkResult, 0, len(st.Configured)+len(st.Missing))
	for _, name := range st.Configured {
		results = append(results, checkResult{name, "PASS", "set"})
	}
	for _, name := range st.Missing {
		results = append(results, checkResult{name, "WARN", "missing (live runs will be refused)"})
	}
	return results
}

func checkDatabase(cfg *config.Config) []checkResult {
	label := describeDatabase(cfg.Database)
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return []checkResult{
			{"Database", "FAIL", fmt.Sprintf("%s: %v", label, err)},
			{"Schema", "FAIL", "skipped (no database)"},
		}
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return []checkResult{
			{"Database", "FAIL", fmt.Sprintf("get sql.DB: %v", err)},
			{"Schema", "FAIL", "skipped (no database)"},
		}
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(); err != nil {
		return []checkResult{
			{"Database", "FAIL", fmt.Sprintf("%s ping failed: %v", label, err)},
			{"Schema", "FAIL", "skipped (no database)"},
		}
	}

	all := db.AllModels()
	migrated := 0
	for _, m := range all {
		if gormDB.Migrator().HasTable(m) {
			migrated++
		}
	}
	schema := checkResult{"Schema", "PASS", fmt.Sprintf("%d/%d tables migrated", migrated, len(all))}
	if migrated < len(all) {
		schema = checkResult{"Schema", "WARN", fmt.Sprintf("%d/%d tables migrated (run `nudge db migrate`)", migrated, len(all))}
	}
	return []checkResult{{"Database", "PASS", label + " reachable"}, schema}
}

func checkLedger(ctx context.Context, cfg *config.Config) checkResult {
	if cfg.Ledger.Backend != "redis" {
		return checkResult{"Ledger", "PASS", "sql backend (shares the database)"}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return checkResult{"Ledger", "FAIL", fmt.Sprintf("redis %s unreachable: %v", cfg.Redis.Addr, err)}
	}
	return checkResult{"Ledger", "PASS", fmt.Sprintf("redis %s reachable (prefix %q)", cfg.Redis.Addr, cfg.Redis.Prefix)}
}

func checkSource(ctx context.Context, cfg *config.Config) checkResult {
	src, err := batch.Source(cfg.Source)
	if err != nil {
		return checkResult{"Record source", "FAIL", err.Error()}
	}
	records, err := src.Records(ctx)
	if err != nil {
		return checkResult{"Record source", "FAIL", err.Error()}
	}
	pending := student.Incomplete(records)
	return checkResult{"Record source", "PASS", fmt.Sprintf("%s: %d students, %d incomplete", cfg.Source.Kind, len(records), len(pending))}
}

func checkProviders(cfg *config.Config) checkResult {
	if _, err := batch.Providers(cfg); err != nil {
		return checkResult{"Providers", "FAIL", err.Error()}
	}
	var ready []string
	for _, p := range cfg.Notify.Providers {
		if cfg.ProviderConfigured(p) {
			ready = append(ready, p)
		}
	}
	if len(ready) == 0 {
		return checkResult{"Providers", "WARN", "none configured (simulation only)"}
	}
	return checkResult{"Providers", "PASS", strings.Join(ready, ", ")}
}

func checkSchedule(cfg *config.Config) checkResult {
	sched, err := daemon.Parse(cfg.Daemon.Schedule)
	if err != nil {
		return checkResult{"Daemon schedule", "FAIL", err.Error()}
	}
	next := sched.Next(time.Now())
	return checkResult{"Daemon schedule", "PASS", fmt.Sprintf("%q, next %s", cfg.Daemon.Schedule, next.Local().Format(time.DateTime))}
}
