package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/nudge/internal/agent"
	"github.com/zulandar/nudge/internal/analyzer"
	"github.com/zulandar/nudge/internal/compose"
	"github.com/zulandar/nudge/internal/oracle"
	"github.com/zulandar/nudge/internal/tools"
	"go.uber.org/zap"
)

// Mode selects whether deliveries are real.
type Mode string

const (
	ModeSimulate Mode = "simulate"
	ModeLive     Mode = "live"
)

// ParseMode parses "simulate" (or "dry-run") and "live" (or "send").
func ParseMode(s string) (Mode, error) {
	switch s {
	case "simulate", "dry-run", "":
		return ModeSimulate, nil
	case "live", "send":
		return ModeLive, nil
	}
	return "", fmt.Errorf("batch: unknown mode %q", s)
}

// ErrRunInProgress is returned when a run is requested while another one
// is still executing in this process.
var ErrRunInProgress = errors.New("batch: a run is already in progress")

// maxEvents bounds the event buffer kept for the current run.
const maxEvents = 500

// Runner executes batch runs one at a time.
type Runner struct {
	sys *System

	mu      sync.Mutex
	running bool
	current string
	last    *agent.Summary
	events  []agent.Event
	// seen counts every event observed in the current run, including any
	// dropped from the front of events.
	seen     int
	observer func(agent.Event)
}

// NewRunner creates a Runner over sys.
func NewRunner(sys *System) (*Runner, error) {
	if sys == nil {
		return nil, fmt.Errorf("batch: system is required")
	}
	return &Runner{sys: sys}, nil
}

// Status reports the running run's ID, if any.
func (r *Runner) Status() (runID string, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.running
}

// Last returns the summary of the most recently finished run, or nil.
func (r *Runner) Last() *agent.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Events returns a copy of the events emitted by the current (or last) run.
func (r *Runner) Events() []agent.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agent.Event(nil), r.events...)
}

// EventsSince returns the buffered events after the first n of the current
// run and the cursor to pass next time. Events already dropped from the
// buffer are skipped.
func (r *Runner) EventsSince(n int) ([]agent.Event, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.seen {
		// A new run reset the buffer.
		n = 0
	}
	first := r.seen - len(r.events)
	if n < first {
		n = first
	}
	return append([]agent.Event(nil), r.events[n-first:]...), r.seen
}

// SetObserver registers fn to receive every loop event as it happens. fn
// runs on the loop goroutine and must not block.
func (r *Runner) SetObserver(fn func(agent.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

func (r *Runner) observe(ev agent.Event) {
	r.mu.Lock()
	if len(r.events) == maxEvents {
		r.events = append(r.events[:0], r.events[1:]...)
	}
	r.events = append(r.events, ev)
	r.seen++
	fn := r.observer
	r.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (r *Runner) acquire(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	r.current = runID
	r.events = nil
	r.seen = 0
	return true
}

func (r *Runner) release(sum *agent.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.current = ""
	if sum != nil {
		r.last = sum
	}
}

// Run loads the batch and drives one loop over it, blocking until the loop
// stops. Live mode requires at least one provider with complete
// credentials.
func (r *Runner) Run(ctx context.Context, mode Mode) (*agent.Summary, error) {
	runID, err := r.begin(mode)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, runID, mode)
}

// Start begins a run in the background once the run slot is held and
// returns its ID. done, if non-nil, receives the outcome.
func (r *Runner) Start(ctx context.Context, mode Mode, done func(*agent.Summary, error)) (string, error) {
	runID, err := r.begin(mode)
	if err != nil {
		return "", err
	}
	go func() {
		sum, err := r.execute(ctx, runID, mode)
		if err != nil {
			r.sys.Logger.Error("background run failed", zap.String("run_id", runID), zap.Error(err))
		}
		if done != nil {
			done(sum, err)
		}
	}()
	return runID, nil
}

func (r *Runner) begin(mode Mode) (string, error) {
	if mode != ModeSimulate && mode != ModeLive {
		return "", fmt.Errorf("batch: unknown mode %q", mode)
	}
	if mode == ModeLive {
		if err := r.sys.Config.RequireLiveDelivery(); err != nil {
			return "", err
		}
	}
	runID := uuid.NewString()
	if !r.acquire(runID) {
		return "", ErrRunInProgress
	}
	return runID, nil
}

func (r *Runner) execute(ctx context.Context, runID string, mode Mode) (*agent.Summary, error) {
	cfg := r.sys.Config
	var sum *agent.Summary
	defer func() { r.release(sum) }()

	logger := r.sys.Logger.With(zap.String("run_id", runID), zap.String("mode", string(mode)))

	records, err := r.sys.Source.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch: load records: %w", err)
	}

	deadline := analyzer.ParseDeadline(cfg.Deadline)
	if !deadline.Valid {
		logger.Warn("deadline is not YYYY-MM-DD; using the default horizon", zap.String("deadline", cfg.Deadline))
	}
	simulate := mode == ModeSimulate

	registry, err := tools.NewRegistry(tools.RegistryOpts{
		Records:    records,
		Comm:       r.sys.Comm,
		Schedule:   r.sys.Schedule,
		Dispatcher: r.sys.Dispatcher,
		Composer: compose.Composer{
			Deadline:     cfg.Deadline,
			FormURL:      cfg.FormURL,
			SupportEmail: cfg.SupportEmail,
			Institute:    cfg.Institute,
		},
		Deadline:        deadline,
		Simulate:        simulate,
		MinInterval:     time.Duration(cfg.Ledger.MinIntervalHours) * time.Hour,
		GuardSends:      cfg.GuardSendsEnabled(),
		RecordSimulated: cfg.Ledger.RecordSimulated,
		RunID:           runID,
		Now:             r.sys.Now,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}

	system, err := oracle.SystemPrompt(oracle.PromptData{
		Deadline:         cfg.Deadline,
		FormURL:          cfg.FormURL,
		Institute:        cfg.Institute,
		MinIntervalHours: cfg.Ledger.MinIntervalHours,
		Providers:        r.sys.Dispatcher.Configured(),
		Simulate:         simulate,
	})
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}

	loop, err := agent.NewLoop(agent.LoopOpts{
		Oracle:   r.sys.Oracle,
		Registry: registry,
		MaxTurns: cfg.Oracle.MaxTurns,
		System:   system,
		Recorder: r.sys.Recorder,
		Observer: r.observe,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}

	logger.Info("starting batch",
		zap.Int("records", len(records)),
		zap.Int("pending", len(registry.Pending())),
	)
	sum, err = loop.Run(ctx, agent.RunOpts{
		RunID: runID,
		Task:  oracle.TaskPrompt(len(registry.Pending()), simulate),
		Mode:  string(mode),
	})
	return sum, err
}
