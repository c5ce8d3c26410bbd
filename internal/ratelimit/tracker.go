// Package ratelimit tracks the publishing platform's remaining call budget
// as learned from response headers.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Header pairs for the per-user 24h window and the per-endpoint 15 minute
// window. Either one running out blocks posting.
var headerPairs = [][2]string{
	{"x-user-limit-24hour-remaining", "x-user-limit-24hour-reset"},
	{"x-rate-limit-remaining", "x-rate-limit-reset"},
}

// State is the last known budget. Known is false until the first complete
// header pair is observed, and again after ResetAt passes.
type State struct {
	Known     bool      `json:"known"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Tracker owns the process-wide State. All reads and writes go through one
// mutex so concurrent dispatches cannot both spend the last call.
type Tracker struct {
	mu    sync.Mutex
	state State
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// CanPublish reports whether a publish may be attempted at now. Unknown state
// is optimistic; a passed reset time rolls the window back to unknown.
func (t *Tracker) CanPublish(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowLocked(now)
}

// Acquire is CanPublish plus a local decrement of the known budget, done
// under the same lock. The next Update overwrites the estimate with the
// platform's own count.
func (t *Tracker) Acquire(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.allowLocked(now) {
		refusalsTotal.Inc()
		return false
	}
	if t.state.Known {
		t.state.Remaining--
		remainingGauge.Set(float64(t.state.Remaining))
	}
	return true
}

func (t *Tracker) allowLocked(now time.Time) bool {
	if !t.state.Known {
		return true
	}
	if !now.Before(t.state.ResetAt) {
		t.state = State{}
		return true
	}
	return t.state.Remaining > 0
}

// Update applies rate headers from a publish response, successful or not.
// When several windows are reported the most restrictive one is kept.
// Missing or malformed headers leave the state untouched; the return value
// says whether anything was applied.
func (t *Tracker) Update(h http.Header) bool {
	if h == nil {
		return false
	}
	now := time.Now()
	var best State
	for _, pair := range headerPairs {
		remaining, resetAt, ok := parsePair(h, pair[0], pair[1])
		if !ok {
			continue
		}
		candidate := State{Known: true, Remaining: remaining, ResetAt: resetAt}
		if !best.Known || tighter(candidate, best, now) {
			best = candidate
		}
	}
	if !best.Known {
		return false
	}

	t.mu.Lock()
	t.state = best
	t.mu.Unlock()

	remainingGauge.Set(float64(best.Remaining))
	resetGauge.Set(float64(best.ResetAt.Unix()))
	return true
}

// tighter reports whether a restricts publishing more than b. An exhausted
// window that has not reset yet beats one with budget left; between equals
// the smaller remaining count wins, then the later reset.
func tighter(a, b State, now time.Time) bool {
	aBlocks := a.Remaining == 0 && now.Before(a.ResetAt)
	bBlocks := b.Remaining == 0 && now.Before(b.ResetAt)
	if aBlocks != bBlocks {
		return aBlocks
	}
	if a.Remaining != b.Remaining {
		return a.Remaining < b.Remaining
	}
	return a.ResetAt.After(b.ResetAt)
}

// Set replaces the state directly. Used by the admin API and tests.
func (t *Tracker) Set(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func parsePair(h http.Header, remainingKey, resetKey string) (int, time.Time, bool) {
	rawRemaining := strings.TrimSpace(h.Get(remainingKey))
	rawReset := strings.TrimSpace(h.Get(resetKey))
	if rawRemaining == "" || rawReset == "" {
		return 0, time.Time{}, false
	}
	remaining, err := strconv.Atoi(rawRemaining)
	if err != nil || remaining < 0 {
		return 0, time.Time{}, false
	}
	resetUnix, err := strconv.ParseInt(rawReset, 10, 64)
	if err != nil || resetUnix <= 0 {
		return 0, time.Time{}, false
	}
	return remaining, time.Unix(resetUnix, 0), true
}
