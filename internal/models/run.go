package models

import "time"

// Run summarises one orchestration loop execution.
type Run struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	Mode           string     `gorm:"size:16;not null" json:"mode"` // "simulate" or "live"
	Oracle         string     `gorm:"size:32" json:"oracle"`
	Status         string     `gorm:"size:16;not null;index" json:"status"` // running, done, failed
	StopReason     string     `gorm:"size:32" json:"stop_reason"`
	ReasoningSteps int        `json:"reasoning_steps"`
	ExecutingSteps int        `json:"executing_steps"`
	Total          int        `json:"total"`
	Processed      int        `json:"processed"`
	Deferred       int        `json:"deferred"`
	Untouched      int        `json:"untouched"`
	FinalText      string     `gorm:"type:text" json:"final_text"`
	Error          string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt      time.Time  `gorm:"index" json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Run statuses.
const (
	RunRunning = "running"
	RunDone    = "done"
	RunFailed  = "failed"
)

// ToolCall captures a single tool invocation and its result for a run.
type ToolCall struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID        string    `gorm:"size:36;not null;index:idx_run_turn" json:"run_id"`
	Turn         int       `gorm:"not null;index:idx_run_turn" json:"turn"`
	InvocationID string    `gorm:"size:64" json:"invocation_id"`
	Tool         string    `gorm:"size:48;not null;index" json:"tool"`
	RecipientID  string    `gorm:"size:64;index" json:"recipient_id,omitempty"`
	Args         string    `gorm:"type:text" json:"args"`
	Output       string    `gorm:"type:mediumtext" json:"output"`
	ErrorKind    string    `gorm:"size:32" json:"error_kind,omitempty"`
	LatencyMs    int       `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Reasoning stores free text the oracle produced during a run.
type Reasoning struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID     string    `gorm:"size:36;not null;index" json:"run_id"`
	Turn      int       `gorm:"not null" json:"turn"`
	Content   string    `gorm:"type:mediumtext" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
