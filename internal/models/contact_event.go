package models

import "time"

// Contact statuses recorded in the communication ledger.
const (
	StatusSent      = "sent"
	StatusSimulated = "simulated"
	StatusFailed    = "failed"
)

// ContactEvent is one entry in a recipient's communication history. Seq is
// the 1-based position within the recipient's history and defines its order.
type ContactEvent struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	RecipientID string    `gorm:"size:64;not null;uniqueIndex:idx_recipient_seq" json:"recipient_id"`
	Seq         int       `gorm:"not null;uniqueIndex:idx_recipient_seq" json:"seq"`
	Subject     string    `gorm:"size:512" json:"subject"`
	Status      string    `gorm:"size:16;not null;index" json:"status"`
	Address     string    `gorm:"size:256" json:"address,omitempty"`
	Provider    string    `gorm:"size:32" json:"provider,omitempty"`
	Timestamp   time.Time `gorm:"not null;index;precision:6" json:"timestamp"`
}
