package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/nudge/internal/models"
	"gorm.io/gorm"
)

// appendRetries bounds retries when another process claims the same
// (recipient_id, seq) slot between our read and insert.
const appendRetries = 20

// GormStore keeps the ledgers in SQL tables. It expects the schema created
// by db.AutoMigrate and a connection opened with TranslateError enabled.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: gorm store: db is required")
	}
	return &GormStore{db: db}, nil
}

// AppendContact inserts ev with the next sequence number for its recipient.
// The tail row is read in the same transaction that inserts, so the stamp is
// taken against the event that really precedes it. On SQLite the connection
// begins transactions IMMEDIATE, which serialises writers across processes;
// elsewhere the unique (recipient_id, seq) index rejects a racing insert and
// the append is retried.
func (s *GormStore) AppendContact(ctx context.Context, ev models.ContactEvent) (models.ContactEvent, error) {
	var err error
	for attempt := 0; attempt < appendRetries; attempt++ {
		row := ev
		row.ID = 0
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var tail []models.ContactEvent
			if err := tx.Where("recipient_id = ?", row.RecipientID).
				Order("seq DESC").Limit(1).Find(&tail).Error; err != nil {
				return fmt.Errorf("read tail: %w", err)
			}
			var prev time.Time
			row.Seq = 1
			if len(tail) > 0 {
				prev = tail[0].Timestamp
				row.Seq = tail[0].Seq + 1
			}
			row.Timestamp = stampAfter(ev.Timestamp, prev)
			return tx.Create(&row).Error
		})
		if err == nil {
			return row, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
	}
	return models.ContactEvent{}, ioErr("append contact", err)
}

// Contacts returns the recipient's events in sequence order.
func (s *GormStore) Contacts(ctx context.Context, recipientID string) ([]models.ContactEvent, error) {
	var events []models.ContactEvent
	if err := s.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("seq ASC").Find(&events).Error; err != nil {
		return nil, ioErr("read contacts", err)
	}
	return events, nil
}

// AppendSchedule inserts a schedule entry.
func (s *GormStore) AppendSchedule(ctx context.Context, e models.ScheduleEntry) (models.ScheduleEntry, error) {
	e.ID = 0
	if err := s.db.WithContext(ctx).Create(&e).Error; err != nil {
		return models.ScheduleEntry{}, ioErr("append schedule", err)
	}
	return e, nil
}

// Schedule returns entries matching f in insertion order.
func (s *GormStore) Schedule(ctx context.Context, f ScheduleFilter) ([]models.ScheduleEntry, error) {
	q := s.db.WithContext(ctx).Model(&models.ScheduleEntry{})
	if f.RecipientID != "" {
		q = q.Where("recipient_id = ?", f.RecipientID)
	}
	if !f.DueBy.IsZero() {
		q = q.Where("due_at <= ?", f.DueBy)
	}
	var entries []models.ScheduleEntry
	if err := q.Order("id ASC").Find(&entries).Error; err != nil {
		return nil, ioErr("read schedule", err)
	}
	return entries, nil
}

// Stats counts recipients, events per status and schedule entries.
func (s *GormStore) Stats(ctx context.Context) (Stats, error) {
	db := s.db.WithContext(ctx)
	st := Stats{ByStatus: map[string]int{}}

	var recipients int64
	if err := db.Model(&models.ContactEvent{}).
		Distinct("recipient_id").Count(&recipients).Error; err != nil {
		return Stats{}, ioErr("stats", err)
	}
	st.Recipients = int(recipients)

	var rows []struct {
		Status string
		N      int
	}
	if err := db.Model(&models.ContactEvent{}).
		Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error; err != nil {
		return Stats{}, ioErr("stats", err)
	}
	for _, r := range rows {
		st.ByStatus[r.Status] = r.N
	}

	var scheduled int64
	if err := db.Model(&models.ScheduleEntry{}).Count(&scheduled).Error; err != nil {
		return Stats{}, ioErr("stats", err)
	}
	st.Scheduled = int(scheduled)
	return st, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
