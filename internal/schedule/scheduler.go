package schedule

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"frameworks/bosun/internal/clock"
	"frameworks/bosun/pkg/logging"
)

const defaultDispatchTimeout = 10 * time.Minute

// SlotDispatcher handles one fired slot.
type SlotDispatcher interface {
	Dispatch(ctx context.Context, slot Slot) Outcome
}

type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskFired     TaskState = "fired"
	TaskCancelled TaskState = "cancelled"
)

// Task is a planned slot pinned to wall-clock time.
type Task struct {
	Slot   Slot      `json:"slot"`
	FireAt time.Time `json:"fire_at"`
	State  TaskState `json:"state"`
}

type SchedulerConfig struct {
	MonthlyCap int
	DailyCap   int
	// Jitter delays each task by a random amount in [0, Jitter), capped at
	// half the slot interval so tasks keep their order.
	Jitter          time.Duration
	DispatchTimeout time.Duration
	Dispatcher      SlotDispatcher
	Clock           clock.Clock
	Logger          logging.Logger
}

// Scheduler owns the day's task list and fires each task once.
type Scheduler struct {
	monthlyCap      int
	dailyCap        int
	jitter          time.Duration
	dispatchTimeout time.Duration
	dispatcher      SlotDispatcher
	clock           clock.Clock
	logger          logging.Logger
	randN           func(n int64) int64

	mu       sync.Mutex
	dayStart time.Time
	quota    Quota
	tasks    []Task

	inflight sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	timeout := cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &Scheduler{
		monthlyCap:      cfg.MonthlyCap,
		dailyCap:        cfg.DailyCap,
		jitter:          max(cfg.Jitter, 0),
		dispatchTimeout: timeout,
		dispatcher:      cfg.Dispatcher,
		clock:           c,
		logger:          logger,
		randN:           rand.Int64N,
	}
}

// Plan replaces the task list with a fresh day starting at start. Tasks of
// the previous plan that never fired are dropped.
func (s *Scheduler) Plan(start time.Time) []Task {
	quota := ComputeQuota(s.monthlyCap, s.dailyCap)
	slots := PlanDay(s.monthlyCap, s.dailyCap)

	jitter := s.jitter
	if quota.Interval > 0 && jitter > quota.Interval/2 {
		jitter = quota.Interval / 2
	}

	tasks := make([]Task, len(slots))
	for i, slot := range slots {
		fireAt := start.Add(slot.FireAt)
		if jitter > 0 {
			fireAt = fireAt.Add(time.Duration(s.randN(int64(jitter))))
		}
		tasks[i] = Task{Slot: slot, FireAt: fireAt, State: TaskPending}
	}

	s.mu.Lock()
	s.dayStart = start
	s.quota = quota
	s.tasks = tasks
	s.mu.Unlock()

	plannedSlots.Set(float64(len(tasks)))
	s.logger.WithFields(logging.Fields{
		"day_start":  start.UTC().Format(time.RFC3339),
		"daily_cap":  quota.DailyCap,
		"unit_count": quota.UnitCount,
		"interval":   quota.Interval.String(),
	}).Info("Scheduler: planned day")
	return s.Tasks()
}

// Tasks returns a copy of the current plan.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

func (s *Scheduler) Quota() Quota {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quota
}

func (s *Scheduler) DayStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dayStart
}

// Cancel stops a pending task from firing. It reports false for unknown or
// already fired tasks.
func (s *Scheduler) Cancel(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.tasks) || s.tasks[index].State != TaskPending {
		return false
	}
	s.tasks[index].State = TaskCancelled
	return true
}

// CancelAll cancels every pending task and returns how many were cancelled.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.tasks {
		if s.tasks[i].State == TaskPending {
			s.tasks[i].State = TaskCancelled
			n++
		}
	}
	return n
}

// RunDue fires every pending task whose time has come. Each dispatch runs on
// its own goroutine with a context that outlives ctx, so shutdown stops new
// slots without abandoning one that is mid-publish.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []Slot
	for i := range s.tasks {
		t := &s.tasks[i]
		if t.State == TaskPending && !now.Before(t.FireAt) {
			t.State = TaskFired
			due = append(due, t.Slot)
		}
	}
	s.mu.Unlock()

	for _, slot := range due {
		s.inflight.Add(1)
		go func(slot Slot) {
			defer s.inflight.Done()
			s.fire(ctx, slot)
		}(slot)
	}
	return len(due)
}

func (s *Scheduler) fire(ctx context.Context, slot Slot) {
	defer func() {
		if r := recover(); r != nil {
			slotOutcomes.WithLabelValues(string(StatusFailed)).Inc()
			s.logger.WithFields(logging.Fields{
				"slot":  slot.Index,
				"panic": fmt.Sprint(r),
			}).Error("Scheduler: slot dispatch panic")
		}
	}()
	if s.dispatcher == nil {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.dispatchTimeout)
	defer cancel()
	s.dispatcher.Dispatch(dctx, slot)
}

// Wait blocks until every fired dispatch has returned.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Run plans the current day, then sleeps until the next pending task or the
// day boundary, whichever is first. At each boundary the next day is
// planned. Run returns nil when ctx is cancelled; pending tasks are dropped.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Plan(s.clock.Now())
	for {
		now := s.clock.Now()
		if end := s.DayStart().Add(Day); !now.Before(end) {
			start := end
			for !now.Before(start.Add(Day)) {
				start = start.Add(Day)
			}
			s.Plan(start)
		}
		s.RunDue(ctx, now)

		wait := s.nextWake(now).Sub(now)
		select {
		case <-ctx.Done():
			dropped := s.CancelAll()
			s.logger.WithField("dropped", dropped).Info("Scheduler: stopped")
			return nil
		case <-s.clock.After(wait):
		}
	}
}

func (s *Scheduler) nextWake(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.dayStart.Add(Day)
	for _, t := range s.tasks {
		if t.State == TaskPending && t.FireAt.Before(next) {
			next = t.FireAt
		}
	}
	if next.Before(now) {
		return now
	}
	return next
}
