package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/nudge/internal/agent"
	"github.com/zulandar/nudge/internal/batch"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// tick fires every d.
type tick time.Duration

func (t tick) Next(from time.Time) time.Time { return from.Add(time.Duration(t)) }

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	modes []batch.Mode
	block chan struct{}
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, mode batch.Mode) (*agent.Summary, error) {
	f.mu.Lock()
	f.calls++
	f.modes = append(f.modes, mode)
	block, err := f.block, f.err
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return &agent.Summary{StopReason: agent.StopAborted}, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &agent.Summary{RunID: "run", StopReason: agent.StopOracleDone}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestParse(t *testing.T) {
	sched, err := Parse("0 9 * * *")
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2026, 3, 10, 10, 0, 0, 0, time.Local)
	want := time.Date(2026, 3, 11, 9, 0, 0, 0, time.Local)
	if got := sched.Next(from); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}

	for _, bad := range []string{"not a cron expr", "0 0 9 * * *", ""} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) should fail", bad)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{Expr: "0 9 * * *"}); err == nil {
		t.Error("expected error without runner")
	}
	if _, err := New(Opts{Expr: "bogus", Runner: &fakeRunner{}}); err == nil {
		t.Error("expected error for bad expression")
	}
	d, err := New(Opts{Expr: "*/5 * * * *", Runner: &fakeRunner{}})
	if err != nil {
		t.Fatal(err)
	}
	if d.mode != batch.ModeSimulate {
		t.Errorf("default mode = %q", d.mode)
	}
	from := time.Date(2026, 3, 10, 10, 1, 0, 0, time.UTC)
	if got := d.Next(from); !got.Equal(from.Add(4 * time.Minute)) {
		t.Errorf("Next = %v", got)
	}
}

func TestRun_FiresOnSchedule(t *testing.T) {
	r := &fakeRunner{}
	d, err := New(Opts{Schedule: tick(10 * time.Millisecond), Runner: r, Mode: batch.ModeLive})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitFor(t, func() bool { return r.count() >= 3 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.modes {
		if m != batch.ModeLive {
			t.Errorf("mode = %q, want live", m)
		}
	}
}

func TestRun_SkipsOverlappingTicks(t *testing.T) {
	r := &fakeRunner{block: make(chan struct{})}
	d, _ := New(Opts{Schedule: tick(5 * time.Millisecond), Runner: r})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitFor(t, func() bool {
		_, skipped := d.Counts()
		return skipped >= 3
	})
	if n := r.count(); n != 1 {
		t.Errorf("runner called %d times while busy, want 1", n)
	}

	close(r.block)
	waitFor(t, func() bool { return r.count() >= 2 })
	cancel()
	<-done

	fired, _ := d.Counts()
	if fired < 2 {
		t.Errorf("fired = %d, want >= 2", fired)
	}
}

func TestRun_CancelStopsInFlightBatch(t *testing.T) {
	r := &fakeRunner{block: make(chan struct{})}
	d, _ := New(Opts{Schedule: tick(5 * time.Millisecond), Runner: r})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitFor(t, func() bool { return r.count() == 1 })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_RunnerErrorsDoNotStopDaemon(t *testing.T) {
	r := &fakeRunner{err: errors.New("source unavailable")}
	d, _ := New(Opts{Schedule: tick(5 * time.Millisecond), Runner: r})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitFor(t, func() bool { return r.count() >= 2 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_InProgressElsewhere(t *testing.T) {
	r := &fakeRunner{err: batch.ErrRunInProgress}
	d, _ := New(Opts{Schedule: tick(5 * time.Millisecond), Runner: r})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitFor(t, func() bool { return r.count() >= 2 })
	cancel()
	<-done

	fired, skipped := d.Counts()
	if fired != 0 {
		t.Errorf("fired = %d, want 0", fired)
	}
	if skipped < 2 {
		t.Errorf("skipped = %d, want >= 2", skipped)
	}
}

// never is a schedule with no future fire time.
type never struct{}

func (never) Next(time.Time) time.Time { return time.Time{} }

func TestRun_ScheduleNeverFires(t *testing.T) {
	d, _ := New(Opts{Schedule: never{}, Runner: &fakeRunner{}})
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("expected error for a schedule that never fires")
	}
}
