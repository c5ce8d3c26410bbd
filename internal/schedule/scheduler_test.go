package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"frameworks/bosun/internal/clock"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	slots []Slot
	fired chan Slot
	block chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{fired: make(chan Slot, 64)}
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, slot Slot) Outcome {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.slots = append(r.slots, slot)
	r.mu.Unlock()
	r.fired <- slot
	return Outcome{Slot: slot, Status: StatusPublished}
}

func (r *recordingDispatcher) expect(t *testing.T, index int) {
	t.Helper()
	select {
	case s := <-r.fired:
		if s.Index != index {
			t.Fatalf("fired slot %d, want %d", s.Index, index)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("slot %d never fired", index)
	}
}

func (r *recordingDispatcher) expectNone(t *testing.T) {
	t.Helper()
	select {
	case s := <-r.fired:
		t.Fatalf("unexpected slot %d fired", s.Index)
	case <-time.After(20 * time.Millisecond):
	}
}

func waitForWaiter(t *testing.T, fc *clock.Fake) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for fc.Waiters() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never went to sleep")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPlanPinsSlotsToStart(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MonthlyCap: 900, DailyCap: 30})
	tasks := s.Plan(testStart)
	if len(tasks) != 10 {
		t.Fatalf("expected 10 tasks, got %d", len(tasks))
	}
	for i, task := range tasks {
		if want := testStart.Add(time.Duration(i) * 40 * time.Minute); !task.FireAt.Equal(want) {
			t.Fatalf("task %d at %v, want %v", i, task.FireAt, want)
		}
		if task.State != TaskPending {
			t.Fatalf("task %d state %s", i, task.State)
		}
	}
	if q := s.Quota(); q.UnitCount != 10 {
		t.Fatalf("quota unit count = %d", q.UnitCount)
	}
}

func TestPlanJitterStaysInsideHalfInterval(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MonthlyCap: 900, DailyCap: 30, Jitter: 2 * time.Hour})
	var asked []int64
	s.randN = func(n int64) int64 {
		asked = append(asked, n)
		return n - 1
	}
	tasks := s.Plan(testStart)
	for _, n := range asked {
		if time.Duration(n) != 20*time.Minute {
			t.Fatalf("jitter bound = %v, want 20m", time.Duration(n))
		}
	}
	for i := 1; i < len(tasks); i++ {
		if !tasks[i].FireAt.After(tasks[i-1].FireAt) {
			t.Fatalf("jitter reordered tasks %d and %d", i-1, i)
		}
	}
}

func TestRunDueFiresOnce(t *testing.T) {
	d := newRecordingDispatcher()
	s := NewScheduler(SchedulerConfig{MonthlyCap: 900, DailyCap: 30, Dispatcher: d})
	s.Plan(testStart)

	if n := s.RunDue(context.Background(), testStart.Add(41*time.Minute)); n != 2 {
		t.Fatalf("expected 2 due tasks, got %d", n)
	}
	if n := s.RunDue(context.Background(), testStart.Add(41*time.Minute)); n != 0 {
		t.Fatalf("tasks fired twice: %d", n)
	}
	s.Wait()
	if len(d.slots) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(d.slots))
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	d := newRecordingDispatcher()
	s := NewScheduler(SchedulerConfig{MonthlyCap: 900, DailyCap: 30, Dispatcher: d})
	s.Plan(testStart)

	if !s.Cancel(1) {
		t.Fatal("expected cancel to succeed")
	}
	if s.Cancel(1) || s.Cancel(99) || s.Cancel(-1) {
		t.Fatal("cancel should fail for cancelled or unknown tasks")
	}
	s.RunDue(context.Background(), testStart.Add(90*time.Minute))
	s.Wait()
	for _, slot := range d.slots {
		if slot.Index == 1 {
			t.Fatal("cancelled slot fired")
		}
	}
	if s.Tasks()[1].State != TaskCancelled {
		t.Fatalf("state = %s", s.Tasks()[1].State)
	}
	if s.Cancel(0) {
		t.Fatal("fired task cannot be cancelled")
	}
}

func TestRunFollowsVirtualClock(t *testing.T) {
	fc := clock.NewFake(testStart)
	d := newRecordingDispatcher()
	s := NewScheduler(SchedulerConfig{MonthlyCap: 900, DailyCap: 30, Dispatcher: d, Clock: fc})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	d.expect(t, 0)
	waitForWaiter(t, fc)

	fc.Advance(39 * time.Minute)
	d.expectNone(t)

	fc.Advance(time.Minute)
	d.expect(t, 1)
	waitForWaiter(t, fc)

	fc.Advance(80 * time.Minute)
	got := map[int]bool{}
	for i := 0; i < 2; i++ {
		select {
		case slot := <-d.fired:
			got[slot.Index] = true
		case <-time.After(2 * time.Second):
			t.Fatal("catch-up slots never fired")
		}
	}
	if !got[2] || !got[3] {
		t.Fatalf("expected slots 2 and 3, got %v", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	for i, task := range s.Tasks()[4:] {
		if task.State != TaskCancelled {
			t.Fatalf("task %d should be dropped on shutdown, got %s", i+4, task.State)
		}
	}
}

func TestRunReplansAtDayBoundary(t *testing.T) {
	fc := clock.NewFake(testStart)
	d := newRecordingDispatcher()
	s := NewScheduler(SchedulerConfig{MonthlyCap: 300, DailyCap: 6, Dispatcher: d, Clock: fc})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	d.expect(t, 0)
	waitForWaiter(t, fc)
	fc.Advance(12 * time.Hour)
	d.expect(t, 1)
	waitForWaiter(t, fc)

	fc.Advance(12 * time.Hour)
	d.expect(t, 0)
	waitForWaiter(t, fc)
	if got := s.DayStart(); !got.Equal(testStart.Add(Day)) {
		t.Fatalf("day start = %v, want %v", got, testStart.Add(Day))
	}

	cancel()
	<-done
}

func TestRunWithZeroUnitsStillSleeps(t *testing.T) {
	fc := clock.NewFake(testStart)
	d := newRecordingDispatcher()
	s := NewScheduler(SchedulerConfig{MonthlyCap: 0, DailyCap: 50, Dispatcher: d, Clock: fc})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForWaiter(t, fc)
	fc.Advance(Day)
	waitForWaiter(t, fc)
	d.expectNone(t)

	cancel()
	<-done
}

func TestSlowDispatchDoesNotDelayNextSlot(t *testing.T) {
	fc := clock.NewFake(testStart)
	d := newRecordingDispatcher()
	d.block = make(chan struct{})
	s := NewScheduler(SchedulerConfig{MonthlyCap: 900, DailyCap: 30, Dispatcher: d, Clock: fc})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForWaiter(t, fc)
	fc.Advance(40 * time.Minute)
	waitForWaiter(t, fc)

	close(d.block)
	got := map[int]bool{}
	for i := 0; i < 2; i++ {
		select {
		case slot := <-d.fired:
			got[slot.Index] = true
		case <-time.After(2 * time.Second):
			t.Fatal("blocked dispatches never finished")
		}
	}
	if !got[0] || !got[1] {
		t.Fatalf("expected slots 0 and 1, got %v", got)
	}

	cancel()
	<-done
	s.Wait()
}

func TestFirePanicIsRecovered(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MonthlyCap: 900, DailyCap: 30, Dispatcher: panicDispatcher{}})
	s.Plan(testStart)
	s.RunDue(context.Background(), testStart)
	s.Wait()
}

type panicDispatcher struct{}

func (panicDispatcher) Dispatch(context.Context, Slot) Outcome { panic("slot exploded") }
