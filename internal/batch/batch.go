// Package batch wires configuration into a runnable notification batch:
// ledgers, delivery providers, the record source, the decision oracle and
// the run log.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zulandar/nudge/internal/config"
	"github.com/zulandar/nudge/internal/db"
	"github.com/zulandar/nudge/internal/ledger"
	"github.com/zulandar/nudge/internal/notify"
	"github.com/zulandar/nudge/internal/notify/discord"
	"github.com/zulandar/nudge/internal/notify/sendgrid"
	"github.com/zulandar/nudge/internal/notify/slack"
	"github.com/zulandar/nudge/internal/notify/smtp"
	"github.com/zulandar/nudge/internal/oracle"
	"github.com/zulandar/nudge/internal/runlog"
	"github.com/zulandar/nudge/internal/student"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// System holds every long-lived component a batch run needs. Fields are
// exported so callers (and tests) can swap a component after Build.
type System struct {
	Config     *config.Config
	DB         *gorm.DB
	Store      ledger.Store
	Comm       *ledger.Communication
	Schedule   *ledger.Schedule
	Dispatcher *notify.Dispatcher
	Source     student.Source
	Oracle     oracle.Oracle
	Recorder   *runlog.GormRecorder
	Now        func() time.Time
	Logger     *zap.Logger

	closers []func() error
}

// Build connects the SQL database, the ledger backend and the providers
// named in cfg. The SQL database is always opened because the run log
// lives there even when the ledgers are on redis.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*System, error) {
	if cfg == nil {
		return nil, fmt.Errorf("batch: config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sys := &System{Config: cfg, Now: time.Now, Logger: logger}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	sys.DB = gormDB
	sys.closers = append(sys.closers, func() error {
		sqlDB, err := gormDB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if err := db.AutoMigrate(gormDB); err != nil {
		sys.Close()
		return nil, fmt.Errorf("batch: %w", err)
	}

	if err := sys.buildLedgers(ctx); err != nil {
		sys.Close()
		return nil, err
	}

	providers, err := Providers(cfg)
	if err != nil {
		sys.Close()
		return nil, err
	}
	sys.Dispatcher, err = notify.NewDispatcher(notify.DispatcherOpts{
		Providers:     providers,
		Ledger:        sys.Comm,
		Timeout:       cfg.Notify.Timeout,
		RatePerMinute: cfg.Notify.RatePerMinute,
		FromAddress:   cfg.Notify.FromEmail,
		FromName:      cfg.Notify.FromName,
		Logger:        logger,
	})
	if err != nil {
		sys.Close()
		return nil, fmt.Errorf("batch: %w", err)
	}

	sys.Source, err = Source(cfg.Source)
	if err != nil {
		sys.Close()
		return nil, err
	}

	sys.Oracle, err = oracle.New(ctx, cfg.Oracle, logger)
	if err != nil {
		sys.Close()
		return nil, fmt.Errorf("batch: %w", err)
	}

	sys.Recorder, err = runlog.NewGormRecorder(gormDB)
	if err != nil {
		sys.Close()
		return nil, fmt.Errorf("batch: %w", err)
	}

	logger.Info("batch components ready",
		zap.String("ledger_backend", cfg.Ledger.Backend),
		zap.String("source", cfg.Source.Kind),
		zap.String("oracle", sys.Oracle.Name()),
		zap.Strings("providers", sys.Dispatcher.Configured()),
	)
	return sys, nil
}

func (s *System) buildLedgers(ctx context.Context) error {
	cfg := s.Config
	switch cfg.Ledger.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return fmt.Errorf("batch: redis %s: %w", cfg.Redis.Addr, err)
		}
		store, err := ledger.NewRedisStore(rdb, cfg.Redis.Prefix)
		if err != nil {
			rdb.Close()
			return fmt.Errorf("batch: %w", err)
		}
		s.Store = store
		s.closers = append(s.closers, store.Close)
	default:
		// The gorm store shares the run log's pool; the pool closer above
		// owns it.
		store, err := ledger.NewGormStore(s.DB)
		if err != nil {
			return fmt.Errorf("batch: %w", err)
		}
		s.Store = store
	}

	var err error
	s.Comm, err = ledger.NewCommunication(ledger.CommunicationOpts{
		Store:  s.Store,
		Now:    s.now,
		Logger: s.Logger,
	})
	if err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	s.Schedule, err = ledger.NewSchedule(ledger.ScheduleOpts{
		Store:  s.Store,
		Now:    s.now,
		Logger: s.Logger,
	})
	if err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	return nil
}

// now defers to s.Now so tests can pin the clock after Build.
func (s *System) now() time.Time { return s.Now() }

// Close releases every connection Build opened, in reverse order.
func (s *System) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Providers builds the delivery providers named in cfg.Notify.Providers,
// in preference order. Providers without credentials are still returned;
// the dispatcher skips them.
func Providers(cfg *config.Config) ([]notify.Provider, error) {
	n := cfg.Notify
	var out []notify.Provider
	for _, name := range n.Providers {
		switch name {
		case "sendgrid":
			out = append(out, sendgrid.New(n.SendGrid.APIKey))
		case "smtp":
			out = append(out, smtp.New(smtp.Opts{
				Host:     n.SMTP.Host,
				Port:     n.SMTP.Port,
				Username: n.SMTP.Username,
				Password: n.SMTP.Password,
			}))
		case "slack":
			out = append(out, slack.New(n.Slack.BotToken))
		case "discord":
			p, err := discord.New(n.Discord.BotToken, n.Discord.ChannelID)
			if err != nil {
				return nil, fmt.Errorf("batch: %w", err)
			}
			out = append(out, p)
		default:
			return nil, fmt.Errorf("batch: unknown provider %q", name)
		}
	}
	return out, nil
}

// Source builds the record source selected by cfg.Kind.
func Source(cfg config.SourceConfig) (student.Source, error) {
	switch cfg.Kind {
	case "csv", "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("batch: csv source: path is required")
		}
		return student.CSVSource{Path: cfg.Path}, nil
	case "sheets":
		return student.SheetsSource{
			SheetID:         cfg.SheetID,
			Range:           cfg.Range,
			CredentialsFile: cfg.CredentialsFile,
		}, nil
	default:
		return nil, fmt.Errorf("batch: unknown source kind %q", cfg.Kind)
	}
}
