package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/zulandar/nudge/internal/config"
	"github.com/zulandar/nudge/internal/db"
	"github.com/zulandar/nudge/internal/models"
)

func openGormStore(t *testing.T) *GormStore {
	t.Helper()
	gdb, err := db.Connect(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "ledger.db"),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	s, err := NewGormStore(gdb)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func openRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewRedisStore(rdb, "test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

// stores runs fn against every Store implementation.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("gorm", func(t *testing.T) { fn(t, openGormStore(t)) })
	t.Run("redis", func(t *testing.T) {
		s, _ := openRedisStore(t)
		fn(t, s)
	})
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newComm(t *testing.T, s Store, clock *fakeClock) *Communication {
	t.Helper()
	c, err := NewCommunication(CommunicationOpts{Store: s, Now: clock.Now})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewCommunication_NilStore(t *testing.T) {
	if _, err := NewCommunication(CommunicationOpts{}); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewSchedule(ScheduleOpts{}); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestMayContact_Lifecycle(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		clock := newFakeClock()
		c := newComm(t, s, clock)
		const h = 48 * time.Hour

		ok, err := c.MayContact(ctx, "student_1", h)
		if err != nil || !ok {
			t.Fatalf("fresh recipient: MayContact = %v, %v; want true", ok, err)
		}
		if _, err := c.Record(ctx, "student_1", "Reminder", models.StatusSent); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if ok, _ := c.MayContact(ctx, "student_1", h); ok {
			t.Error("MayContact immediately after Record = true, want false")
		}

		clock.Advance(h - time.Second)
		if ok, _ := c.MayContact(ctx, "student_1", h); ok {
			t.Error("MayContact just before interval = true, want false")
		}

		// Recorded timestamps are truncated to microseconds; land exactly
		// on the boundary.
		hist, _ := c.History(ctx, "student_1")
		boundary := hist[0].Timestamp.Add(h)
		clock.Advance(boundary.Sub(clock.Now()))
		if ok, _ := c.MayContact(ctx, "student_1", h); !ok {
			t.Error("MayContact at exact interval = false, want true (inclusive)")
		}

		clock.Advance(time.Hour)
		if ok, _ := c.MayContact(ctx, "student_1", h); !ok {
			t.Error("MayContact past interval = false, want true")
		}

		// Other recipients are unaffected.
		if ok, _ := c.MayContact(ctx, "student_2", h); !ok {
			t.Error("unrelated recipient blocked")
		}
	})
}

func TestMayContact_ZeroInterval(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c := newComm(t, s, newFakeClock())
		c.Record(ctx, "r", "s", models.StatusSent)
		if ok, _ := c.MayContact(ctx, "r", 0); !ok {
			t.Error("MayContact with zero interval = false")
		}
	})
}

func TestHistory_OrderAndIdempotence(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		clock := newFakeClock()
		c := newComm(t, s, clock)

		for i, status := range []string{models.StatusSimulated, models.StatusSent, models.StatusFailed} {
			if _, err := c.Record(ctx, "student_7", fmt.Sprintf("subject %d", i), status); err != nil {
				t.Fatalf("Record %d: %v", i, err)
			}
			clock.Advance(time.Minute)
		}

		first, err := c.History(ctx, "student_7")
		if err != nil {
			t.Fatal(err)
		}
		second, err := c.History(ctx, "student_7")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("History not idempotent (-first +second):\n%s", diff)
		}
		if len(first) != 3 {
			t.Fatalf("len = %d, want 3", len(first))
		}
		for i, ev := range first {
			if ev.Seq != i+1 {
				t.Errorf("event %d Seq = %d", i, ev.Seq)
			}
			if ev.Subject != fmt.Sprintf("subject %d", i) {
				t.Errorf("event %d Subject = %q", i, ev.Subject)
			}
		}
		if first[1].Status != models.StatusSent {
			t.Errorf("event 1 Status = %q", first[1].Status)
		}

		empty, err := c.History(ctx, "nobody")
		if err != nil || len(empty) != 0 {
			t.Errorf("History(nobody) = %v, %v", empty, err)
		}
	})
}

func TestAppend_StrictlyIncreasingTimestamps(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c := newComm(t, s, newFakeClock()) // clock never advances
		for i := 0; i < 4; i++ {
			if _, err := c.Record(ctx, "r", "s", models.StatusSent); err != nil {
				t.Fatal(err)
			}
		}
		hist, _ := c.History(ctx, "r")
		for i := 1; i < len(hist); i++ {
			if !hist[i].Timestamp.After(hist[i-1].Timestamp) {
				t.Errorf("timestamp %d (%v) not after %d (%v)", i, hist[i].Timestamp, i-1, hist[i-1].Timestamp)
			}
		}
	})
}

func TestAppend_ConcurrentSameRecipient(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, err := NewCommunication(CommunicationOpts{Store: s})
		if err != nil {
			t.Fatal(err)
		}

		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n*2)
		for i := 0; i < n; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				_, err := c.Record(ctx, "shared", fmt.Sprintf("s%d", i), models.StatusSent)
				errs <- err
			}(i)
			go func(i int) {
				defer wg.Done()
				_, err := c.Record(ctx, fmt.Sprintf("own_%d", i), "s", models.StatusSent)
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("Record: %v", err)
			}
		}

		hist, err := c.History(ctx, "shared")
		if err != nil {
			t.Fatal(err)
		}
		if len(hist) != n {
			t.Fatalf("len = %d, want %d (lost update)", len(hist), n)
		}
		for i, ev := range hist {
			if ev.Seq != i+1 {
				t.Errorf("event %d Seq = %d", i, ev.Seq)
			}
			if i > 0 && !ev.Timestamp.After(hist[i-1].Timestamp) {
				t.Errorf("event %d timestamp not increasing", i)
			}
		}
		if c.locks.size() != 0 {
			t.Errorf("key locks leaked: %d", c.locks.size())
		}
	})
}

// sharedStores opens two independent Store handles on the same backing
// data, standing in for two processes.
func sharedStores(t *testing.T, fn func(t *testing.T, a, b Store)) {
	t.Run("gorm", func(t *testing.T) {
		cfg := config.DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "shared.db"),
		}
		open := func() Store {
			gdb, err := db.Connect(cfg)
			if err != nil {
				t.Fatalf("open shared db: %v", err)
			}
			if err := db.AutoMigrate(gdb); err != nil {
				t.Fatalf("migrate shared db: %v", err)
			}
			s, err := NewGormStore(gdb)
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}
		fn(t, open(), open())
	})
	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		open := func() Store {
			s, err := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}
		fn(t, open(), open())
	})
}

func TestAppend_TwoWritersShareStore(t *testing.T) {
	sharedStores(t, func(t *testing.T, a, b Store) {
		ctx := context.Background()
		// A frozen clock makes every reading collide with the tail.
		clock := newFakeClock()
		writers := []*Communication{newComm(t, a, clock), newComm(t, b, clock)}

		const perWriter = 30
		var wg sync.WaitGroup
		errs := make(chan error, perWriter*len(writers))
		for w, c := range writers {
			for i := 0; i < perWriter; i++ {
				wg.Add(1)
				go func(c *Communication, subject string) {
					defer wg.Done()
					_, err := c.Record(ctx, "student_1", subject, models.StatusSent)
					errs <- err
				}(c, fmt.Sprintf("w%d-%d", w, i))
			}
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("Record: %v", err)
			}
		}

		hist, err := writers[0].History(ctx, "student_1")
		if err != nil {
			t.Fatal(err)
		}
		if want := perWriter * len(writers); len(hist) != want {
			t.Fatalf("len = %d, want %d", len(hist), want)
		}
		for i, ev := range hist {
			if ev.Seq != i+1 {
				t.Errorf("event %d Seq = %d", i, ev.Seq)
			}
			if i > 0 && !ev.Timestamp.After(hist[i-1].Timestamp) {
				t.Errorf("event %d timestamp %v not after %v", i, ev.Timestamp, hist[i-1].Timestamp)
			}
		}
	})
}

func TestMayContact_BumpedTimestampBoundary(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		clock := newFakeClock()
		c := newComm(t, s, clock)
		const h = 48 * time.Hour

		first, err := c.Record(ctx, "student_1", "a", models.StatusSent)
		if err != nil {
			t.Fatal(err)
		}
		second, err := c.Record(ctx, "student_1", "b", models.StatusSent)
		if err != nil {
			t.Fatal(err)
		}
		if got := second.Timestamp.Sub(first.Timestamp); got != time.Microsecond {
			t.Fatalf("bump = %v, want 1µs", got)
		}

		// The interval runs from the stored stamp, not the clock reading.
		clock.Advance(h)
		if ok, _ := c.MayContact(ctx, "student_1", h); ok {
			t.Error("MayContact one microsecond before bumped boundary = true, want false")
		}
		clock.Advance(time.Microsecond)
		if ok, _ := c.MayContact(ctx, "student_1", h); !ok {
			t.Error("MayContact at bumped boundary = false, want true")
		}
	})
}

func TestRecord_Validation(t *testing.T) {
	c := newComm(t, openGormStore(t), newFakeClock())
	ctx := context.Background()
	if _, err := c.Record(ctx, "", "s", models.StatusSent); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("empty recipient err = %v", err)
	}
	if _, err := c.Record(ctx, "r", "s", "bounced"); err == nil {
		t.Error("expected error for unknown status")
	}
	if _, err := c.History(ctx, ""); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("History empty recipient err = %v", err)
	}
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newComm(t, openGormStore(t), clock)

	sum, err := c.Summary(ctx, "r", 48*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if sum.ContactedBefore || !sum.MayContact || sum.LastContact != nil {
		t.Errorf("empty summary = %+v", sum)
	}

	for i := 1; i <= 4; i++ {
		c.Record(ctx, "r", fmt.Sprintf("s%d", i), models.StatusSent)
		clock.Advance(time.Hour)
	}
	clock.Advance(30 * time.Minute)

	sum, err = c.Summary(ctx, "r", 48*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.ContactedBefore || sum.ContactCount != 4 || sum.MayContact {
		t.Errorf("summary = %+v", sum)
	}
	if diff := cmp.Diff([]string{"s2", "s3", "s4"}, sum.RecentSubjects); diff != "" {
		t.Errorf("RecentSubjects (-want +got):\n%s", diff)
	}
	if sum.HoursSinceLast == nil || *sum.HoursSinceLast != 1.5 {
		t.Errorf("HoursSinceLast = %v, want 1.5", sum.HoursSinceLast)
	}
	if sum.Message != "Contacted 4 times, last 1.5 hours ago" {
		t.Errorf("Message = %q", sum.Message)
	}
}

func TestSchedule(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		clock := newFakeClock()
		sched, err := NewSchedule(ScheduleOpts{Store: s, Now: clock.Now})
		if err != nil {
			t.Fatal(err)
		}

		e1, err := sched.Defer(ctx, "a", 3, "contacted yesterday", "run-1")
		if err != nil {
			t.Fatalf("Defer: %v", err)
		}
		if want := clock.Now().AddDate(0, 0, 3); !e1.DueAt.Equal(want) {
			t.Errorf("DueAt = %v, want %v", e1.DueAt, want)
		}
		if _, err := sched.Defer(ctx, "b", 10, "waiting", "run-1"); err != nil {
			t.Fatal(err)
		}
		if _, err := sched.Defer(ctx, "a", 0, "today", ""); err != nil {
			t.Fatal(err)
		}

		all, err := sched.All(ctx)
		if err != nil {
			t.Fatal(err)
		}
		var order []string
		for _, e := range all {
			order = append(order, e.RecipientID+":"+e.Reason)
		}
		want := []string{"a:contacted yesterday", "b:waiting", "a:today"}
		if diff := cmp.Diff(want, order); diff != "" {
			t.Errorf("All order (-want +got):\n%s", diff)
		}

		due, err := sched.Due(ctx, clock.Now().AddDate(0, 0, 5))
		if err != nil {
			t.Fatal(err)
		}
		if len(due) != 2 {
			t.Errorf("Due in 5 days = %d entries, want 2", len(due))
		}

		mine, err := sched.ForRecipient(ctx, "a")
		if err != nil || len(mine) != 2 {
			t.Errorf("ForRecipient(a) = %d, %v", len(mine), err)
		}

		if _, err := sched.Defer(ctx, "a", -1, "", ""); err == nil {
			t.Error("expected error for negative days")
		}
		if _, err := sched.Defer(ctx, "", 1, "", ""); !errors.Is(err, ErrNoRecipient) {
			t.Errorf("empty recipient err = %v", err)
		}
	})
}

func TestStats(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c := newComm(t, s, newFakeClock())
		sched, _ := NewSchedule(ScheduleOpts{Store: s})

		c.Record(ctx, "a", "s", models.StatusSent)
		c.Record(ctx, "a", "s", models.StatusSent)
		c.Record(ctx, "b", "s", models.StatusSimulated)
		sched.Defer(ctx, "c", 2, "later", "")

		st, err := s.Stats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		want := Stats{
			Recipients: 2,
			ByStatus:   map[string]int{models.StatusSent: 2, models.StatusSimulated: 1},
			Scheduled:  1,
		}
		if diff := cmp.Diff(want, st); diff != "" {
			t.Errorf("Stats (-want +got):\n%s", diff)
		}
	})
}

func TestRedisStore_FailureIsIOError(t *testing.T) {
	s, mr := openRedisStore(t)
	c := newComm(t, s, newFakeClock())
	ctx := context.Background()
	if _, err := c.Record(ctx, "r", "before", models.StatusSent); err != nil {
		t.Fatal(err)
	}

	mr.SetError("LOADING dataset in memory")
	_, err := c.Record(ctx, "r", "during", models.StatusSent)
	var ioe *IOError
	if !errors.As(err, &ioe) {
		t.Fatalf("err = %v, want *IOError", err)
	}
	mr.SetError("")

	hist, err := c.History(ctx, "r")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Subject != "before" {
		t.Errorf("history after failure = %+v", hist)
	}
}

func TestGormStore_ClosedIsIOError(t *testing.T) {
	s := openGormStore(t)
	c := newComm(t, s, newFakeClock())
	s.Close()
	_, err := c.Record(context.Background(), "r", "s", models.StatusSent)
	var ioe *IOError
	if !errors.As(err, &ioe) {
		t.Fatalf("err = %v, want *IOError", err)
	}
}

func TestRedisStore_Keys(t *testing.T) {
	s, mr := openRedisStore(t)
	c := newComm(t, s, newFakeClock())
	c.Record(context.Background(), "student_3", "hello", models.StatusSent)

	if !mr.Exists("test:contacts:student_3") {
		t.Error("contacts list key missing")
	}
	if got := mr.HGet("test:stats", models.StatusSent); got != "1" {
		t.Errorf("stats sent = %q, want 1", got)
	}
	if ok, _ := mr.SIsMember("test:recipients", "student_3"); !ok {
		t.Error("recipient not in set")
	}
}

func TestKeyLocks_Serialises(t *testing.T) {
	kl := newKeyLocks()
	unlock := kl.lock("k")
	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		u := kl.lock("k")
		close(acquired)
		u()
		close(released)
	}()
	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(20 * time.Millisecond):
	}
	other := kl.lock("other")
	other()
	unlock()
	<-released
	if kl.size() != 0 {
		t.Errorf("size = %d, want 0", kl.size())
	}
}
