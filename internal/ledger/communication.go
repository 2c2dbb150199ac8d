package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/zulandar/nudge/internal/models"
	"go.uber.org/zap"
)

// ErrNoRecipient is returned when an operation is given an empty recipient.
var ErrNoRecipient = errors.New("ledger: recipient id is required")

// recentSubjects is how many subjects Summary reports.
const recentSubjects = 3

// Communication is the communication ledger. Appends for one recipient are
// serialised in-process; the store orders them across processes. Different
// recipients never contend.
type Communication struct {
	store  Store
	locks  *keyLocks
	now    func() time.Time
	logger *zap.Logger
}

// CommunicationOpts holds parameters for creating a Communication ledger.
type CommunicationOpts struct {
	Store  Store
	Now    func() time.Time // defaults to time.Now
	Logger *zap.Logger      // defaults to a no-op logger
}

// NewCommunication creates a Communication ledger.
func NewCommunication(opts CommunicationOpts) (*Communication, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("ledger: communication: store is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Communication{
		store:  opts.Store,
		locks:  newKeyLocks(),
		now:    now,
		logger: logger.Named("ledger"),
	}, nil
}

// History returns the recipient's contact events, oldest first.
func (c *Communication) History(ctx context.Context, recipientID string) ([]models.ContactEvent, error) {
	if recipientID == "" {
		return nil, ErrNoRecipient
	}
	return c.store.Contacts(ctx, recipientID)
}

// MayContact reports whether at least minInterval has elapsed since the
// recipient's most recent contact. A recipient with no history may always be
// contacted; an elapsed time exactly equal to minInterval is allowed.
func (c *Communication) MayContact(ctx context.Context, recipientID string, minInterval time.Duration) (bool, error) {
	events, err := c.History(ctx, recipientID)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return true, nil
	}
	last := events[len(events)-1]
	return c.now().Sub(last.Timestamp) >= minInterval, nil
}

// Record appends a contact event with the given status.
func (c *Communication) Record(ctx context.Context, recipientID, subject, status string) (models.ContactEvent, error) {
	return c.Append(ctx, models.ContactEvent{
		RecipientID: recipientID,
		Subject:     subject,
		Status:      status,
	})
}

// Append stamps ev with the current time and appends it. Timestamps strictly
// increase per recipient: the store bumps a reading that does not advance
// past the previous event by one microsecond, inside its atomic append. A
// bumped stamp is what MayContact measures from, so after a collision the
// interval boundary falls slightly after the real send time.
func (c *Communication) Append(ctx context.Context, ev models.ContactEvent) (models.ContactEvent, error) {
	if ev.RecipientID == "" {
		return models.ContactEvent{}, ErrNoRecipient
	}
	switch ev.Status {
	case models.StatusSent, models.StatusSimulated, models.StatusFailed:
	default:
		return models.ContactEvent{}, fmt.Errorf("ledger: unknown contact status %q", ev.Status)
	}

	unlock := c.locks.lock(ev.RecipientID)
	defer unlock()

	ev.Timestamp = c.now()
	saved, err := c.store.AppendContact(ctx, ev)
	if err != nil {
		c.logger.Warn("append contact failed",
			zap.String("recipient", ev.RecipientID), zap.Error(err))
		return models.ContactEvent{}, err
	}
	c.logger.Debug("contact recorded",
		zap.String("recipient", saved.RecipientID),
		zap.String("status", saved.Status),
		zap.Int("seq", saved.Seq))
	return saved, nil
}

// Summary describes a recipient's contact history for decision making.
type Summary struct {
	ContactedBefore bool       `json:"contacted_before"`
	LastContact     *time.Time `json:"last_contact"`
	HoursSinceLast  *float64   `json:"hours_since_last_contact,omitempty"`
	ContactCount    int        `json:"contact_count"`
	RecentSubjects  []string   `json:"recent_subjects,omitempty"`
	MayContact      bool       `json:"may_contact"`
	Message         string     `json:"message"`
}

// Summary reports the recipient's history relative to minInterval.
func (c *Communication) Summary(ctx context.Context, recipientID string, minInterval time.Duration) (Summary, error) {
	events, err := c.History(ctx, recipientID)
	if err != nil {
		return Summary{}, err
	}
	if len(events) == 0 {
		return Summary{MayContact: true, Message: "No previous communications found"}, nil
	}

	last := events[len(events)-1]
	elapsed := c.now().Sub(last.Timestamp)
	hours := math.Round(elapsed.Hours()*10) / 10
	ts := last.Timestamp

	start := len(events) - recentSubjects
	if start < 0 {
		start = 0
	}
	subjects := make([]string, 0, recentSubjects)
	for _, ev := range events[start:] {
		subjects = append(subjects, ev.Subject)
	}

	return Summary{
		ContactedBefore: true,
		LastContact:     &ts,
		HoursSinceLast:  &hours,
		ContactCount:    len(events),
		RecentSubjects:  subjects,
		MayContact:      elapsed >= minInterval,
		Message:         fmt.Sprintf("Contacted %d times, last %.1f hours ago", len(events), hours),
	}, nil
}
