// Package agent runs the orchestration loop: the oracle reasons, the
// registry executes the tools it asked for, and the results go back to the
// oracle until it stops asking or the turn cap is reached.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/nudge/internal/models"
	"github.com/zulandar/nudge/internal/oracle"
	"github.com/zulandar/nudge/internal/runlog"
	"github.com/zulandar/nudge/internal/tools"
	"go.uber.org/zap"
)

// DefaultMaxTurns caps the number of oracle calls in one run.
const DefaultMaxTurns = 40

// State is a loop state.
type State string

const (
	StateReasoning State = "reasoning"
	StateExecuting State = "executing"
	StateDone      State = "done"
)

// Stop reasons.
const (
	StopOracleDone   = "oracle_done"
	StopIterationCap = "iteration_cap"
	StopAborted      = "aborted"
	StopOracleError  = "oracle_error"
)

// Registry executes tool invocations and tracks per-student outcomes.
type Registry interface {
	Execute(ctx context.Context, inv tools.Invocation) tools.Result
	Progress() tools.Progress
}

// Event is emitted to the optional observer as the run progresses.
type Event struct {
	RunID     string `json:"run_id"`
	Turn      int    `json:"turn"`
	State     State  `json:"state"`
	Text      string `json:"text,omitempty"`
	Tool      string `json:"tool,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// Loop drives one batch run at a time.
type Loop struct {
	oracle   oracle.Oracle
	registry Registry
	maxTurns int
	system   string
	specs    []tools.Spec
	recorder runlog.Recorder
	observer func(Event)
	logger   *zap.Logger
}

// LoopOpts holds parameters for creating a Loop.
type LoopOpts struct {
	Oracle   oracle.Oracle // required
	Registry Registry      // required
	MaxTurns int
	System   string
	Recorder runlog.Recorder
	Observer func(Event)
	Logger   *zap.Logger
}

// NewLoop creates a Loop.
func NewLoop(opts LoopOpts) (*Loop, error) {
	if opts.Oracle == nil {
		return nil, fmt.Errorf("agent: oracle is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("agent: registry is required")
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = runlog.NopRecorder{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		oracle:   opts.Oracle,
		registry: opts.Registry,
		maxTurns: maxTurns,
		system:   opts.System,
		specs:    tools.Specs(),
		recorder: recorder,
		observer: opts.Observer,
		logger:   logger.Named("loop"),
	}, nil
}

// RunOpts parameterises a single run.
type RunOpts struct {
	RunID string // generated when empty
	Task  string // opening user turn
	Mode  string // "simulate" or "live", recorded only
}

// Summary reports what a run did.
type Summary struct {
	RunID          string         `json:"run_id"`
	Mode           string         `json:"mode"`
	StopReason     string         `json:"stop_reason"`
	ReasoningSteps int            `json:"reasoning_steps"`
	ExecutingSteps int            `json:"executing_steps"`
	FinalText      string         `json:"final_text"`
	Invocations    map[string]int `json:"invocations"`
	Progress       tools.Progress `json:"progress"`
	Error          string         `json:"error,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// Run executes the loop until the oracle stops requesting tools, the turn
// cap is hit, ctx is cancelled or the oracle fails. The summary is always
// returned. The error is non-nil for oracle failures (wrapping
// *oracle.Error) and for cancellation (wrapping ctx.Err()).
func (l *Loop) Run(ctx context.Context, opts RunOpts) (*Summary, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	sum := &Summary{
		RunID:       runID,
		Mode:        opts.Mode,
		Invocations: make(map[string]int),
		StartedAt:   time.Now().UTC(),
	}
	log := l.logger.With(zap.String("run", runID))

	// Recording must survive cancellation of the caller's context.
	recCtx := context.WithoutCancel(ctx)
	l.record(log, "start run", l.recorder.StartRun(recCtx, models.Run{
		ID:        runID,
		Mode:      opts.Mode,
		Oracle:    l.oracle.Name(),
		Status:    models.RunRunning,
		StartedAt: sum.StartedAt,
	}))

	conv := &oracle.Conversation{}
	conv.AddTask(opts.Task)

	var runErr error
	state := StateReasoning
	for state != StateDone {
		switch state {
		case StateReasoning:
			if ctx.Err() != nil {
				sum.StopReason = StopAborted
				runErr = fmt.Errorf("agent: run aborted: %w", ctx.Err())
				state = StateDone
				continue
			}
			if sum.ReasoningSteps >= l.maxTurns {
				log.Warn("iteration cap reached", zap.Int("max_turns", l.maxTurns))
				sum.StopReason = StopIterationCap
				state = StateDone
				continue
			}

			sum.ReasoningSteps++
			turn := sum.ReasoningSteps
			l.emit(Event{RunID: runID, Turn: turn, State: StateReasoning})
			dec, err := l.oracle.Decide(ctx, oracle.Request{System: l.system, Tools: l.specs, Conversation: conv})
			if err != nil {
				if ctx.Err() != nil {
					sum.StopReason = StopAborted
					runErr = fmt.Errorf("agent: run aborted: %w", ctx.Err())
				} else {
					sum.StopReason = StopOracleError
					runErr = fmt.Errorf("agent: turn %d: %w", turn, err)
					log.Error("oracle failed", zap.Int("turn", turn), zap.Error(err))
				}
				state = StateDone
				continue
			}

			conv.AddDecision(dec)
			if dec.Text != "" {
				sum.FinalText = dec.Text
				l.record(log, "reasoning", l.recorder.RecordReasoning(recCtx, runID, turn, dec.Text))
				l.emit(Event{RunID: runID, Turn: turn, State: StateReasoning, Text: dec.Text})
			}
			if len(dec.Requests) == 0 {
				sum.StopReason = StopOracleDone
				state = StateDone
				continue
			}
			state = StateExecuting

		case StateExecuting:
			sum.ExecutingSteps++
			turn := sum.ReasoningSteps
			requests := conv.Turns[len(conv.Turns)-1].Requests
			results := make([]tools.Result, 0, len(requests))
			for _, inv := range requests {
				if ctx.Err() != nil {
					results = append(results, tools.Aborted(inv))
					continue
				}
				// A started invocation runs to completion even if the
				// caller aborts meanwhile.
				start := time.Now()
				res := l.registry.Execute(context.WithoutCancel(ctx), inv)
				latency := time.Since(start)
				results = append(results, res)
				sum.Invocations[inv.Name]++

				kind := ""
				if res.Error != nil {
					kind = res.Error.Kind
				}
				l.record(log, "tool call", l.recorder.RecordToolCall(recCtx, models.ToolCall{
					RunID:        runID,
					Turn:         turn,
					InvocationID: inv.ID,
					Tool:         inv.Name,
					RecipientID:  recipientOf(inv.Args),
					Args:         string(inv.Args),
					Output:       res.Content(),
					ErrorKind:    kind,
					LatencyMs:    int(latency.Milliseconds()),
				}))
				l.emit(Event{RunID: runID, Turn: turn, State: StateExecuting, Tool: inv.Name, ErrorKind: kind})
				log.Debug("tool executed",
					zap.Int("turn", turn),
					zap.String("tool", inv.Name),
					zap.String("error_kind", kind),
					zap.Duration("latency", latency))
			}
			conv.AddResults(results)
			state = StateReasoning
		}
	}

	sum.Progress = l.registry.Progress()
	sum.FinishedAt = time.Now().UTC()
	status := models.RunDone
	if runErr != nil {
		sum.Error = runErr.Error()
		if sum.StopReason == StopOracleError {
			status = models.RunFailed
		}
	}
	finished := sum.FinishedAt
	l.record(log, "finish run", l.recorder.FinishRun(recCtx, models.Run{
		ID:             runID,
		Status:         status,
		StopReason:     sum.StopReason,
		ReasoningSteps: sum.ReasoningSteps,
		ExecutingSteps: sum.ExecutingSteps,
		Total:          sum.Progress.Total,
		Processed:      sum.Progress.Processed,
		Deferred:       sum.Progress.Deferred,
		Untouched:      sum.Progress.Untouched,
		FinalText:      sum.FinalText,
		Error:          sum.Error,
		FinishedAt:     &finished,
	}))
	l.emit(Event{RunID: runID, Turn: sum.ReasoningSteps, State: StateDone, Text: sum.StopReason})

	log.Info("run finished",
		zap.String("stop_reason", sum.StopReason),
		zap.Int("reasoning_steps", sum.ReasoningSteps),
		zap.Int("executing_steps", sum.ExecutingSteps),
		zap.Int("processed", sum.Progress.Processed),
		zap.Int("deferred", sum.Progress.Deferred),
		zap.Int("untouched", sum.Progress.Untouched))
	return sum, runErr
}

func (l *Loop) emit(ev Event) {
	if l.observer != nil {
		l.observer(ev)
	}
}

func (l *Loop) record(log *zap.Logger, what string, err error) {
	if err != nil {
		log.Warn("run log write failed", zap.String("op", what), zap.Error(err))
	}
}

// recipientOf extracts student_id from invocation arguments, if present.
func recipientOf(args json.RawMessage) string {
	var v struct {
		StudentID string `json:"student_id"`
	}
	if len(args) == 0 || json.Unmarshal(args, &v) != nil {
		return ""
	}
	return v.StudentID
}
