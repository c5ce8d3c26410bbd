package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"frameworks/bosun/internal/clock"
)

func TestCanPublishUnknownIsOptimistic(t *testing.T) {
	tr := NewTracker()
	if !tr.CanPublish(time.Now()) {
		t.Fatal("expected unknown state to allow publishing")
	}
}

func TestCanPublishExhaustedUntilReset(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	tr := NewTracker()
	tr.Set(State{Known: true, Remaining: 0, ResetAt: c.Now().Add(5 * time.Minute)})

	if tr.CanPublish(c.Now()) {
		t.Fatal("expected refusal before reset")
	}

	c.Advance(6 * time.Minute)
	if !tr.CanPublish(c.Now()) {
		t.Fatal("expected publishing allowed after reset")
	}
	if tr.Snapshot().Known {
		t.Fatal("expected state to roll back to unknown after reset")
	}
}

func TestCanPublishAtExactReset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tr := NewTracker()
	tr.Set(State{Known: true, Remaining: 0, ResetAt: now})
	if !tr.CanPublish(now) {
		t.Fatal("expected now == resetAt to allow publishing")
	}
}

func TestUpdateKeepsSmallerRemaining(t *testing.T) {
	tr := NewTracker()
	reset := time.Now().Add(time.Hour).Unix()
	h := http.Header{}
	h.Set("x-rate-limit-remaining", "99")
	h.Set("x-rate-limit-reset", strconv.FormatInt(reset, 10))
	h.Set("x-user-limit-24hour-remaining", "7")
	h.Set("x-user-limit-24hour-reset", strconv.FormatInt(reset+60, 10))

	if !tr.Update(h) {
		t.Fatal("expected update to apply")
	}
	got := tr.Snapshot()
	if got.Remaining != 7 || got.ResetAt.Unix() != reset+60 {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestUpdateExhaustedEndpointWindowBlocks(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	h := http.Header{}
	h.Set("x-rate-limit-remaining", "0")
	h.Set("x-rate-limit-reset", strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10))
	h.Set("x-user-limit-24hour-remaining", "12")
	h.Set("x-user-limit-24hour-reset", strconv.FormatInt(now.Add(20*time.Hour).Unix(), 10))

	if !tr.Update(h) {
		t.Fatal("expected update to apply")
	}
	if got := tr.Snapshot(); got.Remaining != 0 {
		t.Fatalf("expected the exhausted window to be kept, got %+v", got)
	}
	if tr.CanPublish(now) {
		t.Fatal("expected publishing blocked until the endpoint window resets")
	}
}

func TestUpdateExhaustedUserWindowBlocks(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	h := http.Header{}
	h.Set("x-rate-limit-remaining", "40")
	h.Set("x-rate-limit-reset", strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10))
	h.Set("x-user-limit-24hour-remaining", "0")
	h.Set("x-user-limit-24hour-reset", strconv.FormatInt(now.Add(5*time.Hour).Unix(), 10))

	tr.Update(h)
	if tr.CanPublish(now) {
		t.Fatalf("expected publishing blocked, state %+v", tr.Snapshot())
	}
}

func TestUpdateFallsBackToEndpointWindow(t *testing.T) {
	tr := NewTracker()
	h := http.Header{}
	h.Set("x-user-limit-24hour-remaining", "7")
	h.Set("x-rate-limit-remaining", "3")
	h.Set("x-rate-limit-reset", "1900000000")

	if !tr.Update(h) {
		t.Fatal("expected update to apply")
	}
	if got := tr.Snapshot(); got.Remaining != 3 {
		t.Fatalf("expected endpoint window, got %+v", got)
	}
}

func TestUpdateMalformedIsNoop(t *testing.T) {
	cases := []http.Header{
		nil,
		{},
		{"X-Rate-Limit-Remaining": {"abc"}, "X-Rate-Limit-Reset": {"1900000000"}},
		{"X-Rate-Limit-Remaining": {"5"}, "X-Rate-Limit-Reset": {"soon"}},
		{"X-Rate-Limit-Remaining": {"-1"}, "X-Rate-Limit-Reset": {"1900000000"}},
		{"X-Rate-Limit-Remaining": {"5"}},
	}
	for i, h := range cases {
		tr := NewTracker()
		prior := State{Known: true, Remaining: 4, ResetAt: time.Unix(1_800_000_000, 0)}
		tr.Set(prior)
		if tr.Update(h) {
			t.Fatalf("case %d: expected no-op", i)
		}
		if got := tr.Snapshot(); got != prior {
			t.Fatalf("case %d: state changed to %+v", i, got)
		}
	}
}

func TestAcquireDecrementsKnownBudget(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tr := NewTracker()
	tr.Set(State{Known: true, Remaining: 2, ResetAt: now.Add(time.Hour)})

	if !tr.Acquire(now) || !tr.Acquire(now) {
		t.Fatal("expected two acquisitions to succeed")
	}
	if tr.Acquire(now) {
		t.Fatal("expected third acquisition to be refused")
	}
}

func TestAcquireConcurrentNeverOverspends(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tr := NewTracker()
	tr.Set(State{Known: true, Remaining: 5, ResetAt: now.Add(time.Hour)})

	var granted int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Acquire(now) {
				atomic.AddInt32(&granted, 1)
			}
		}()
	}
	wg.Wait()

	if granted != 5 {
		t.Fatalf("expected exactly 5 grants, got %d", granted)
	}
}
