// Package runlog persists orchestration runs, their tool calls and the
// oracle's reasoning text.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/nudge/internal/models"
	"gorm.io/gorm"
)

// ErrRunNotFound is returned by Run for an unknown ID.
var ErrRunNotFound = errors.New("runlog: run not found")

// Recorder receives run events from the orchestration loop. Recorder
// failures are logged by the caller and never stop a run.
type Recorder interface {
	StartRun(ctx context.Context, run models.Run) error
	RecordToolCall(ctx context.Context, call models.ToolCall) error
	RecordReasoning(ctx context.Context, runID string, turn int, text string) error
	FinishRun(ctx context.Context, run models.Run) error
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) StartRun(context.Context, models.Run) error                 { return nil }
func (NopRecorder) RecordToolCall(context.Context, models.ToolCall) error      { return nil }
func (NopRecorder) RecordReasoning(context.Context, string, int, string) error { return nil }
func (NopRecorder) FinishRun(context.Context, models.Run) error                { return nil }

// GormRecorder stores runs in the SQL database.
type GormRecorder struct {
	db *gorm.DB
}

// NewGormRecorder creates a GormRecorder.
func NewGormRecorder(db *gorm.DB) (*GormRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("runlog: db is required")
	}
	return &GormRecorder{db: db}, nil
}

// StartRun inserts the run row.
func (r *GormRecorder) StartRun(ctx context.Context, run models.Run) error {
	if run.ID == "" {
		return fmt.Errorf("runlog: run ID is required")
	}
	if run.Status == "" {
		run.Status = models.RunRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("runlog: start run %s: %w", run.ID, err)
	}
	return nil
}

// RecordToolCall appends one tool call.
func (r *GormRecorder) RecordToolCall(ctx context.Context, call models.ToolCall) error {
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(&call).Error; err != nil {
		return fmt.Errorf("runlog: record tool call: %w", err)
	}
	return nil
}

// RecordReasoning appends oracle text for a turn. Empty text is ignored.
func (r *GormRecorder) RecordReasoning(ctx context.Context, runID string, turn int, text string) error {
	if text == "" {
		return nil
	}
	row := models.Reasoning{RunID: runID, Turn: turn, Content: text, CreatedAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("runlog: record reasoning: %w", err)
	}
	return nil
}

// FinishRun stores the final state of the run.
func (r *GormRecorder) FinishRun(ctx context.Context, run models.Run) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	result := r.db.WithContext(ctx).Model(&models.Run{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
		"status":          run.Status,
		"stop_reason":     run.StopReason,
		"reasoning_steps": run.ReasoningSteps,
		"executing_steps": run.ExecutingSteps,
		"total":           run.Total,
		"processed":       run.Processed,
		"deferred":        run.Deferred,
		"untouched":       run.Untouched,
		"final_text":      run.FinalText,
		"error":           run.Error,
		"finished_at":     run.FinishedAt,
	})
	if result.Error != nil {
		return fmt.Errorf("runlog: finish run %s: %w", run.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("runlog: finish run %s: %w", run.ID, ErrRunNotFound)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (r *GormRecorder) Runs(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.Run
	if err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("runlog: list runs: %w", err)
	}
	return runs, nil
}

// Detail is a run with its tool calls and reasoning in turn order.
type Detail struct {
	Run       models.Run         `json:"run"`
	ToolCalls []models.ToolCall  `json:"tool_calls"`
	Reasoning []models.Reasoning `json:"reasoning"`
}

// Run loads one run with its tool calls and reasoning.
func (r *GormRecorder) Run(ctx context.Context, id string) (*Detail, error) {
	db := r.db.WithContext(ctx)
	var d Detail
	if err := db.Where("id = ?", id).First(&d.Run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("runlog: %q: %w", id, ErrRunNotFound)
		}
		return nil, fmt.Errorf("runlog: get run %s: %w", id, err)
	}
	if err := db.Where("run_id = ?", id).Order("turn, id").Find(&d.ToolCalls).Error; err != nil {
		return nil, fmt.Errorf("runlog: tool calls for %s: %w", id, err)
	}
	if err := db.Where("run_id = ?", id).Order("turn, id").Find(&d.Reasoning).Error; err != nil {
		return nil, fmt.Errorf("runlog: reasoning for %s: %w", id, err)
	}
	return &d, nil
}

// ToolCallsFor returns every tool call that referenced a student, oldest
// first.
func (r *GormRecorder) ToolCallsFor(ctx context.Context, recipientID string) ([]models.ToolCall, error) {
	var calls []models.ToolCall
	if err := r.db.WithContext(ctx).Where("recipient_id = ?", recipientID).Order("id").Find(&calls).Error; err != nil {
		return nil, fmt.Errorf("runlog: tool calls for %s: %w", recipientID, err)
	}
	return calls, nil
}
