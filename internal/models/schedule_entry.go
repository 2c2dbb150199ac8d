package models

import "time"

// ScheduleEntry records a decision to contact a recipient later. Entries are
// advisory: nothing wakes up on DueAt, a later batch run consults them.
type ScheduleEntry struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	RecipientID string    `gorm:"size:64;not null;index" json:"recipient_id"`
	DueAt       time.Time `gorm:"not null;index" json:"due_at"`
	DaysToWait  int       `json:"days_to_wait"`
	Reason      string    `gorm:"type:text" json:"reason"`
	RunID       string    `gorm:"size:36" json:"run_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
