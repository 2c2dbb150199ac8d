package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zulandar/nudge/internal/models"
)

// RedisStore keeps the ledgers in redis lists. A recipient's contacts live
// in one list whose positions are the sequence numbers.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore using keys under prefix.
func NewRedisStore(rdb *redis.Client, prefix string) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("ledger: redis store: client is required")
	}
	if prefix == "" {
		prefix = "nudge"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisStore) contactsKey(id string) string { return s.prefix + ":contacts:" + id }
func (s *RedisStore) scheduleKey() string          { return s.prefix + ":schedule" }
func (s *RedisStore) statsKey() string             { return s.prefix + ":stats" }
func (s *RedisStore) recipientsKey() string        { return s.prefix + ":recipients" }

// watchRetries bounds optimistic retries when another client appends to the
// same recipient between our WATCH and EXEC.
const watchRetries = 100

// AppendContact pushes ev onto the recipient's list and updates counters in
// the same MULTI block. The list is WATCHed while its tail is read, so the
// stamp is always taken against the event the push lands after.
func (s *RedisStore) AppendContact(ctx context.Context, ev models.ContactEvent) (models.ContactEvent, error) {
	key := s.contactsKey(ev.RecipientID)
	var (
		saved models.ContactEvent
		err   error
	)
	for attempt := 0; attempt < watchRetries; attempt++ {
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			var prev time.Time
			tail, err := tx.LIndex(ctx, key, -1).Result()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				var last models.ContactEvent
				if err := json.Unmarshal([]byte(tail), &last); err != nil {
					return fmt.Errorf("decode tail: %w", err)
				}
				prev = last.Timestamp
			}

			row := ev
			row.ID = 0
			row.Seq = 0
			row.Timestamp = stampAfter(ev.Timestamp, prev)
			data, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("encode contact: %w", err)
			}
			var push *redis.IntCmd
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				push = pipe.RPush(ctx, key, data)
				pipe.HIncrBy(ctx, s.statsKey(), row.Status, 1)
				pipe.SAdd(ctx, s.recipientsKey(), row.RecipientID)
				return nil
			}); err != nil {
				return err
			}
			row.Seq = int(push.Val())
			row.ID = uint(row.Seq)
			saved = row
			return nil
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return models.ContactEvent{}, ioErr("append contact", err)
	}
	return saved, nil
}

// Contacts returns the recipient's events in list order.
func (s *RedisStore) Contacts(ctx context.Context, recipientID string) ([]models.ContactEvent, error) {
	raw, err := s.rdb.LRange(ctx, s.contactsKey(recipientID), 0, -1).Result()
	if err != nil {
		return nil, ioErr("read contacts", err)
	}
	events := make([]models.ContactEvent, 0, len(raw))
	for i, r := range raw {
		var ev models.ContactEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, ioErr("decode contact", err)
		}
		ev.Seq = i + 1
		ev.ID = uint(ev.Seq)
		events = append(events, ev)
	}
	return events, nil
}

// AppendSchedule pushes an entry onto the schedule list.
func (s *RedisStore) AppendSchedule(ctx context.Context, e models.ScheduleEntry) (models.ScheduleEntry, error) {
	e.ID = 0
	data, err := json.Marshal(e)
	if err != nil {
		return models.ScheduleEntry{}, fmt.Errorf("ledger: encode schedule entry: %w", err)
	}
	n, err := s.rdb.RPush(ctx, s.scheduleKey(), data).Result()
	if err != nil {
		return models.ScheduleEntry{}, ioErr("append schedule", err)
	}
	e.ID = uint(n)
	return e, nil
}

// Schedule returns entries matching f in insertion order.
func (s *RedisStore) Schedule(ctx context.Context, f ScheduleFilter) ([]models.ScheduleEntry, error) {
	raw, err := s.rdb.LRange(ctx, s.scheduleKey(), 0, -1).Result()
	if err != nil {
		return nil, ioErr("read schedule", err)
	}
	var entries []models.ScheduleEntry
	for i, r := range raw {
		var e models.ScheduleEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, ioErr("decode schedule entry", err)
		}
		e.ID = uint(i + 1)
		if f.match(e) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Stats reads the counters maintained by AppendContact.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByStatus: map[string]int{}}
	n, err := s.rdb.SCard(ctx, s.recipientsKey()).Result()
	if err != nil {
		return Stats{}, ioErr("stats", err)
	}
	st.Recipients = int(n)

	counts, err := s.rdb.HGetAll(ctx, s.statsKey()).Result()
	if err != nil {
		return Stats{}, ioErr("stats", err)
	}
	for status, v := range counts {
		c, err := strconv.Atoi(v)
		if err != nil {
			return Stats{}, ioErr("stats", fmt.Errorf("counter %s: %w", status, err))
		}
		st.ByStatus[status] = c
	}

	sched, err := s.rdb.LLen(ctx, s.scheduleKey()).Result()
	if err != nil {
		return Stats{}, ioErr("stats", err)
	}
	st.Scheduled = int(sched)
	return st, nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
