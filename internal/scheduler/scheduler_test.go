package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"songbot/internal/storage"
	logx "songbot/pkg/logx"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func at(h, m int) time.Time { return time.Date(2026, 5, 10, h, m, 0, 0, time.UTC) }

func newService(t *testing.T, mem *storage.Memory, c *clock) *Service {
	t.Helper()
	return New(Config{Enabled: true, Timezone: "UTC"}, mem, logx.Nop(), WithClock(c.Now))
}

func TestParseHHMM(t *testing.T) {
	tests := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{"09:00", 9, 0, false},
		{" 7:05 ", 7, 5, false},
		{"23:59", 23, 59, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"12:5", 0, 0, true},
		{"noon", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		h, m, err := parseHHMM(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err=%v", tt.in, err)
		}
		if err == nil && (h != tt.h || m != tt.m) {
			t.Fatalf("%q: got %d:%d", tt.in, h, m)
		}
	}
}

func TestLastOccurrence(t *testing.T) {
	if got := lastOccurrence(at(9, 30), 9, 0, time.UTC); !got.Equal(at(9, 0)) {
		t.Fatalf("same day: %v", got)
	}
	if got := lastOccurrence(at(8, 59), 9, 0, time.UTC); !got.Equal(at(9, 0).AddDate(0, 0, -1)) {
		t.Fatalf("previous day: %v", got)
	}
	if got := lastOccurrence(at(9, 0), 9, 0, time.UTC); !got.Equal(at(9, 0)) {
		t.Fatalf("exact: %v", got)
	}
}

func TestDecideRun(t *testing.T) {
	due := at(9, 0)
	tests := []struct {
		name    string
		now     time.Time
		last    time.Time
		hasLast bool
		want    Result
	}{
		{"on time, never ran", at(9, 0), time.Time{}, false, ResultRan},
		{"late within grace", at(9, 59), due.AddDate(0, 0, -1), true, ResultRan},
		{"exactly at grace", at(10, 0), due.AddDate(0, 0, -1), true, ResultRan},
		{"beyond grace", at(10, 1), due.AddDate(0, 0, -1), true, ResultMissedGrace},
		{"already ran", at(9, 10), due, true, ResultAlreadyDone},
		{"before due", at(8, 0), time.Time{}, false, ResultNotDue},
	}
	for _, tt := range tests {
		if got := decideRun(tt.now, due, tt.last, tt.hasLast, time.Hour); got != tt.want {
			t.Fatalf("%s: got %s want %s", tt.name, got, tt.want)
		}
	}
}

func TestCatchUpWithinGraceRunsOnce(t *testing.T) {
	mem := storage.NewMemory()
	// the previous day's occurrence was served before the outage
	_ = mem.PutMarker(context.Background(), markerPrefix+"daily", at(9, 0).AddDate(0, 0, -1))
	c := &clock{t: at(9, 40)}
	s := newService(t, mem, c)

	var runs atomic.Int32
	if err := s.AddDaily("daily", "09:00", DailyOptions{Grace: time.Hour}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}

	d1 := s.CatchUp(context.Background())
	d2 := s.CatchUp(context.Background())
	if runs.Load() != 1 {
		t.Fatalf("runs=%d", runs.Load())
	}
	if d1[0].Result != ResultRan || d2[0].Result != ResultAlreadyDone {
		t.Fatalf("decisions %v / %v", d1, d2)
	}
	last, ok, _ := mem.GetMarker(context.Background(), markerPrefix+"daily")
	if !ok || !last.Equal(at(9, 0)) {
		t.Fatalf("marker=%v ok=%v", last, ok)
	}
}

func TestCatchUpBeyondGraceSkips(t *testing.T) {
	mem := storage.NewMemory()
	_ = mem.PutMarker(context.Background(), markerPrefix+"daily", at(9, 0).AddDate(0, 0, -1))
	s := newService(t, mem, &clock{t: at(10, 30)})

	var runs atomic.Int32
	_ = s.AddDaily("daily", "09:00", DailyOptions{Grace: time.Hour}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	dec := s.CatchUp(context.Background())
	if runs.Load() != 0 || dec[0].Result != ResultMissedGrace {
		t.Fatalf("runs=%d decisions=%v", runs.Load(), dec)
	}
}

func TestCatchUpWithoutMarkerWritesBaseline(t *testing.T) {
	mem := storage.NewMemory()
	c := &clock{t: at(9, 10)}
	s := newService(t, mem, c)

	var runs atomic.Int32
	_ = s.AddDaily("daily", "09:00", DailyOptions{}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	dec := s.CatchUp(context.Background())
	if runs.Load() != 0 || dec[0].Result != ResultBaseline {
		t.Fatalf("runs=%d decisions=%v", runs.Load(), dec)
	}

	// the next day's trigger runs normally
	c.Set(at(9, 0).AddDate(0, 0, 1))
	s.mu.Lock()
	d := s.jobs[0]
	s.mu.Unlock()
	if got := s.trigger(context.Background(), d, false); got.Result != ResultRan || runs.Load() != 1 {
		t.Fatalf("next day: %v runs=%d", got, runs.Load())
	}
}

func TestTriggerOverlapSkipped(t *testing.T) {
	mem := storage.NewMemory()
	s := newService(t, mem, &clock{t: at(9, 0)})

	entered := make(chan struct{})
	release := make(chan struct{})
	_ = s.AddDaily("daily", "09:00", DailyOptions{}, func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	})
	s.mu.Lock()
	d := s.jobs[0]
	s.mu.Unlock()

	done := make(chan Decision, 1)
	go func() { done <- s.trigger(context.Background(), d, false) }()
	<-entered
	if got := s.trigger(context.Background(), d, false); got.Result != ResultOverlap {
		t.Fatalf("second trigger: %v", got.Result)
	}
	close(release)
	if got := <-done; got.Result != ResultRan {
		t.Fatalf("first trigger: %v", got.Result)
	}
}

func TestMarkerFailurePreventsRun(t *testing.T) {
	mem := storage.NewMemory()
	s := newService(t, mem, &clock{t: at(9, 0)})
	var runs atomic.Int32
	_ = s.AddDaily("daily", "09:00", DailyOptions{}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	mem.FailNext(errors.New("disk full"))
	s.mu.Lock()
	d := s.jobs[0]
	s.mu.Unlock()
	got := s.trigger(context.Background(), d, false)
	if got.Result != ResultMarkerFailed || runs.Load() != 0 || !errors.Is(got.Err, storage.ErrUnavailable) {
		t.Fatalf("decision=%+v runs=%d", got, runs.Load())
	}
}

func TestJobErrorAndPanicAreReported(t *testing.T) {
	mem := storage.NewMemory()
	c := &clock{t: at(9, 0)}
	s := newService(t, mem, c)
	boom := errors.New("boom")
	_ = s.AddDaily("err", "09:00", DailyOptions{}, func(ctx context.Context) error { return boom })
	_ = s.AddDaily("panic", "09:00", DailyOptions{}, func(ctx context.Context) error { panic("x") })

	s.mu.Lock()
	jobs := append([]*daily(nil), s.jobs...)
	s.mu.Unlock()
	if got := s.trigger(context.Background(), jobs[0], false); got.Result != ResultJobFailed || !errors.Is(got.Err, boom) {
		t.Fatalf("err job: %+v", got)
	}
	if got := s.trigger(context.Background(), jobs[1], false); got.Result != ResultJobFailed {
		t.Fatalf("panic job: %+v", got)
	}
}

func TestAddDailyReplacesAndNextRun(t *testing.T) {
	s := newService(t, storage.NewMemory(), &clock{t: at(8, 0)})
	noop := func(ctx context.Context) error { return nil }
	if err := s.AddDaily("daily", "09:00", DailyOptions{}, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddDaily("daily", "10:15", DailyOptions{}, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddDaily("bad", "9am", DailyOptions{}, noop); err == nil {
		t.Fatalf("expected parse error")
	}
	next, ok := s.NextRun("daily")
	if !ok || !next.Equal(at(10, 15)) {
		t.Fatalf("next=%v ok=%v", next, ok)
	}
	jobs := s.Jobs(context.Background())
	if len(jobs) != 1 || jobs[0].At != "10:15" || jobs[0].Grace != DefaultGrace {
		t.Fatalf("jobs=%+v", jobs)
	}
	if !s.Remove("daily") || s.Remove("daily") {
		t.Fatalf("remove should report once")
	}
}

func TestStartStop(t *testing.T) {
	mem := storage.NewMemory()
	s := newService(t, mem, &clock{t: at(9, 5)})
	_ = s.AddDaily("daily", "09:00", DailyOptions{}, func(ctx context.Context) error { return nil })
	s.Start(context.Background())

	// catch-up runs in the background at start; with no marker it writes a baseline
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := mem.GetMarker(context.Background(), markerPrefix+"daily"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("baseline marker missing")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if ctx.Err() != nil {
		t.Fatalf("stop timed out")
	}
	if _, ok := s.NextRun("daily"); !ok {
		t.Fatalf("job should stay registered after stop")
	}
}

func TestApplyTimezoneDoesNotWaitForRunningJob(t *testing.T) {
	mem := storage.NewMemory()
	s := newService(t, mem, &clock{t: at(9, 5)})
	_ = s.AddDaily("daily", "09:00", DailyOptions{}, func(ctx context.Context) error { return nil })
	s.Start(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.mu.Lock()
	if _, err := s.c.AddFunc("@every 1s", func() {
		once.Do(func() { close(started) })
		<-release
	}); err != nil {
		s.mu.Unlock()
		t.Fatalf("AddFunc: %v", err)
	}
	s.mu.Unlock()
	defer close(release)

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatalf("long-running entry never fired")
	}

	applied := make(chan struct{})
	go func() {
		s.Apply(Config{Enabled: true, Timezone: "Europe/Moscow"})
		close(applied)
	}()

	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatalf("Apply blocked behind a running job")
	}
	next, ok := s.NextRun("daily")
	if !ok {
		t.Fatalf("daily job lost on timezone change")
	}
	if next.Location().String() != "Europe/Moscow" {
		t.Fatalf("next run in %s, want Europe/Moscow", next.Location())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}
