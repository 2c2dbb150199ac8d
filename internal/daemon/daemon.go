// Package daemon re-invokes the notification batch on a cron schedule.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/zulandar/nudge/internal/agent"
	"github.com/zulandar/nudge/internal/batch"
	"go.uber.org/zap"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var firesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nudge_daemon_fires_total",
		Help: "Scheduled batch fires by result (started, skipped, failed).",
	},
	[]string{"result"},
)

// Parse parses a 5-field cron expression.
func Parse(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("daemon: parse schedule %q: %w", expr, err)
	}
	return sched, nil
}

// BatchRunner runs one batch. *batch.Runner satisfies it.
type BatchRunner interface {
	Run(ctx context.Context, mode batch.Mode) (*agent.Summary, error)
}

// Daemon fires one batch per schedule tick. A tick that lands while the
// previous batch is still running is skipped.
type Daemon struct {
	sched  cron.Schedule
	runner BatchRunner
	mode   batch.Mode
	now    func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	busy    bool
	fired   int
	skipped int
}

// Opts holds parameters for creating a Daemon.
type Opts struct {
	// Expr is a 5-field cron expression. Ignored when Schedule is set.
	Expr     string
	Schedule cron.Schedule
	Runner   BatchRunner // required
	Mode     batch.Mode  // defaults to simulate
	Now      func() time.Time
	Logger   *zap.Logger
}

// New creates a Daemon.
func New(opts Opts) (*Daemon, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("daemon: runner is required")
	}
	sched := opts.Schedule
	if sched == nil {
		var err error
		if sched, err = Parse(opts.Expr); err != nil {
			return nil, err
		}
	}
	mode := opts.Mode
	if mode == "" {
		mode = batch.ModeSimulate
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{
		sched:  sched,
		runner: opts.Runner,
		mode:   mode,
		now:    now,
		logger: logger.Named("daemon"),
	}, nil
}

// Next returns the first fire time after t.
func (d *Daemon) Next(t time.Time) time.Time { return d.sched.Next(t) }

// Counts reports how many ticks started a batch and how many were skipped.
func (d *Daemon) Counts() (fired, skipped int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired, d.skipped
}

// Run blocks until ctx is cancelled, firing batches on schedule. It waits
// for an in-flight batch to stop (batches see the same ctx) before
// returning.
func (d *Daemon) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	next := d.sched.Next(d.now())
	if next.IsZero() {
		return fmt.Errorf("daemon: schedule never fires")
	}
	d.logger.Info("daemon started", zap.Time("next", next), zap.String("mode", string(d.mode)))

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping")
			return nil
		case <-timer.C:
			d.fire(ctx, &wg)
			next = d.sched.Next(d.now())
			if next.IsZero() {
				return nil
			}
			timer.Reset(time.Until(next))
			d.logger.Debug("next fire", zap.Time("at", next))
		}
	}
}

func (d *Daemon) fire(ctx context.Context, wg *sync.WaitGroup) {
	d.mu.Lock()
	if d.busy {
		d.skipped++
		d.mu.Unlock()
		firesTotal.WithLabelValues("skipped").Inc()
		d.logger.Warn("previous batch still running; skipping tick")
		return
	}
	d.busy = true
	d.fired++
	d.mu.Unlock()
	firesTotal.WithLabelValues("started").Inc()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			d.mu.Lock()
			d.busy = false
			d.mu.Unlock()
		}()

		sum, err := d.runner.Run(ctx, d.mode)
		switch {
		case errors.Is(err, batch.ErrRunInProgress):
			// Started from elsewhere (the dashboard) in this process.
			d.mu.Lock()
			d.fired--
			d.skipped++
			d.mu.Unlock()
			firesTotal.WithLabelValues("skipped").Inc()
			d.logger.Warn("batch already running; tick skipped")
		case err != nil:
			firesTotal.WithLabelValues("failed").Inc()
			d.logger.Error("scheduled batch failed", zap.Error(err))
		default:
			d.logger.Info("scheduled batch finished",
				zap.String("run_id", sum.RunID),
				zap.String("stop_reason", sum.StopReason),
				zap.Int("processed", sum.Progress.Processed),
				zap.Int("deferred", sum.Progress.Deferred),
			)
		}
	}()
}
