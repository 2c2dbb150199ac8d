package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/nudge/internal/models"
	"go.uber.org/zap"
)

// Schedule is the schedule ledger. Entries record deferral decisions only;
// nothing is triggered when they come due.
type Schedule struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// ScheduleOpts holds parameters for creating a Schedule ledger.
type ScheduleOpts struct {
	Store  Store
	Now    func() time.Time
	Logger *zap.Logger
}

// NewSchedule creates a Schedule ledger.
func NewSchedule(opts ScheduleOpts) (*Schedule, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("ledger: schedule: store is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Schedule{store: opts.Store, now: now, logger: logger.Named("schedule")}, nil
}

// Defer appends an entry due daysToWait days from now.
func (s *Schedule) Defer(ctx context.Context, recipientID string, daysToWait int, reason, runID string) (models.ScheduleEntry, error) {
	if recipientID == "" {
		return models.ScheduleEntry{}, ErrNoRecipient
	}
	if daysToWait < 0 {
		return models.ScheduleEntry{}, fmt.Errorf("ledger: days to wait must not be negative, got %d", daysToWait)
	}
	now := s.now().UTC()
	entry, err := s.store.AppendSchedule(ctx, models.ScheduleEntry{
		RecipientID: recipientID,
		DueAt:       now.AddDate(0, 0, daysToWait),
		DaysToWait:  daysToWait,
		Reason:      reason,
		RunID:       runID,
		CreatedAt:   now,
	})
	if err != nil {
		return models.ScheduleEntry{}, err
	}
	s.logger.Debug("contact deferred",
		zap.String("recipient", recipientID), zap.Int("days", daysToWait))
	return entry, nil
}

// Due returns entries whose due time is at or before now.
func (s *Schedule) Due(ctx context.Context, now time.Time) ([]models.ScheduleEntry, error) {
	return s.store.Schedule(ctx, ScheduleFilter{DueBy: now})
}

// All returns every entry, oldest first.
func (s *Schedule) All(ctx context.Context) ([]models.ScheduleEntry, error) {
	return s.store.Schedule(ctx, ScheduleFilter{})
}

// ForRecipient returns the recipient's entries, oldest first.
func (s *Schedule) ForRecipient(ctx context.Context, recipientID string) ([]models.ScheduleEntry, error) {
	if recipientID == "" {
		return nil, ErrNoRecipient
	}
	return s.store.Schedule(ctx, ScheduleFilter{RecipientID: recipientID})
}
