// Package ledger persists the communication and schedule ledgers: durable,
// recipient-keyed, append-only logs of contacts made and contacts deferred.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/nudge/internal/models"
)

// Store is the durable backing for both ledgers. AppendContact assigns Seq
// and the final Timestamp in one atomic step per recipient, so Seq order and
// timestamp order agree even when several processes share the store.
// ev.Timestamp is a floor: the stored stamp is bumped past the recipient's
// previous event when it does not advance. Contacts are returned in Seq order.
type Store interface {
	AppendContact(ctx context.Context, ev models.ContactEvent) (models.ContactEvent, error)
	Contacts(ctx context.Context, recipientID string) ([]models.ContactEvent, error)
	AppendSchedule(ctx context.Context, e models.ScheduleEntry) (models.ScheduleEntry, error)
	Schedule(ctx context.Context, f ScheduleFilter) ([]models.ScheduleEntry, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// ScheduleFilter narrows Schedule results. Zero values match everything.
type ScheduleFilter struct {
	RecipientID string
	DueBy       time.Time
}

func (f ScheduleFilter) match(e models.ScheduleEntry) bool {
	if f.RecipientID != "" && e.RecipientID != f.RecipientID {
		return false
	}
	if !f.DueBy.IsZero() && e.DueAt.After(f.DueBy) {
		return false
	}
	return true
}

// stampAfter truncates ts to the microsecond precision the stores keep and
// moves it one microsecond past prev when it does not advance.
func stampAfter(ts, prev time.Time) time.Time {
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC().Truncate(time.Microsecond)
	if !prev.IsZero() && !ts.After(prev) {
		ts = prev.UTC().Add(time.Microsecond)
	}
	return ts
}

// Stats aggregates ledger contents for reporting.
type Stats struct {
	Recipients int            `json:"recipients"`
	ByStatus   map[string]int `json:"by_status"`
	Scheduled  int            `json:"scheduled"`
}

// IOError reports a backing-store failure. Existing ledger state is never
// modified by an operation that returns an IOError.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func ioErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}
