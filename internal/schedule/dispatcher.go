package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"

	"frameworks/bosun/internal/clock"
	"frameworks/bosun/internal/content"
	"frameworks/bosun/internal/events"
	"frameworks/bosun/internal/pipeline"
	"frameworks/bosun/internal/ratelimit"
	"frameworks/bosun/internal/store"
	"frameworks/bosun/internal/tokens"
	"frameworks/bosun/internal/xapi"
	"frameworks/bosun/pkg/logging"
)

// ErrRetriesExhausted is returned when every pipeline attempt produced empty
// content.
var ErrRetriesExhausted = errors.New("pipeline produced no usable content")

const (
	defaultMaxAttempts = 3
	defaultRecentLimit = 5
)

type Status string

const (
	StatusPublished        Status = "published"
	StatusPartial          Status = "partial"
	StatusDryRun           Status = "dry_run"
	StatusSkippedRateLimit Status = "skipped_rate_limit"
	StatusSkippedDailyCap  Status = "skipped_daily_cap"
	StatusSkippedAuth      Status = "skipped_auth"
	StatusFailed           Status = "failed"
)

// ThreadMode picks the parent of each reply.
type ThreadMode string

const (
	// ThreadChain replies to the previous post: primary, reply 1, reply 2.
	ThreadChain ThreadMode = "chain"
	// ThreadFlat replies to the primary every time.
	ThreadFlat ThreadMode = "flat"
)

// ParseThreadMode accepts "chain" or "flat"; anything else is an error.
func ParseThreadMode(s string) (ThreadMode, error) {
	switch ThreadMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ThreadChain:
		return ThreadChain, nil
	case ThreadFlat:
		return ThreadFlat, nil
	default:
		return "", fmt.Errorf("unknown thread mode %q", s)
	}
}

// Outcome describes what one dispatch did.
type Outcome struct {
	RunID     string       `json:"run_id"`
	Slot      Slot         `json:"slot"`
	Status    Status       `json:"status"`
	Topic     tokens.Topic `json:"topic"`
	Unit      content.Unit `json:"unit"`
	PrimaryID string       `json:"primary_id,omitempty"`
	ReplyIDs  []string     `json:"reply_ids,omitempty"`
	Attempts  int          `json:"attempts"`
	Error     string       `json:"error,omitempty"`
	Err       error        `json:"-"`
}

type PipelineRunner interface {
	Run(ctx context.Context, pc pipeline.Context) ([]pipeline.StageResult, error)
}

type TopicSource interface {
	Next(ctx context.Context) (tokens.Topic, error)
}

type DispatcherConfig struct {
	Tracker   *ratelimit.Tracker
	// Auth is shared with the responder so a rejection seen by either stops both.
	Auth      *xapi.AuthState
	Pipeline  PipelineRunner
	Topics    TopicSource
	Publisher xapi.Publisher
	// Store is optional. When set it enforces the daily unit count across
	// restarts and feeds recent primaries back to the copywriter.
	Store  store.PostStore
	Events *events.Publisher
	// DailyUnits caps stored units per UTC day; zero disables the check.
	DailyUnits  int
	DevMode     bool
	ThreadMode  ThreadMode
	MaxAttempts int
	RetryDelay  time.Duration
	RecentLimit int
	Clock       clock.Clock
	Logger      logging.Logger
}

// Dispatcher turns one slot into one published content unit.
type Dispatcher struct {
	tracker     *ratelimit.Tracker
	pipeline    PipelineRunner
	topics      TopicSource
	publisher   xapi.Publisher
	store       store.PostStore
	events      *events.Publisher
	dailyUnits  int
	devMode     bool
	threadMode  ThreadMode
	maxAttempts int
	retryDelay  time.Duration
	recentLimit int
	clock       clock.Clock
	logger      logging.Logger
	auth        *xapi.AuthState
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = ratelimit.NewTracker()
	}
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	recentLimit := cfg.RecentLimit
	if recentLimit <= 0 {
		recentLimit = defaultRecentLimit
	}
	auth := cfg.Auth
	if auth == nil {
		auth = xapi.NewAuthState()
	}
	mode := cfg.ThreadMode
	if mode == "" {
		mode = ThreadChain
	}
	return &Dispatcher{
		tracker:     tracker,
		pipeline:    cfg.Pipeline,
		topics:      cfg.Topics,
		publisher:   cfg.Publisher,
		store:       cfg.Store,
		events:      cfg.Events,
		dailyUnits:  cfg.DailyUnits,
		devMode:     cfg.DevMode,
		threadMode:  mode,
		maxAttempts: maxAttempts,
		retryDelay:  cfg.RetryDelay,
		recentLimit: recentLimit,
		clock:       c,
		logger:      logger,
		auth:        auth,
	}
}

// AuthBroken reports whether a publish was rejected as unauthorized. Once
// set, every later dispatch is skipped until the process restarts.
func (d *Dispatcher) AuthBroken() bool {
	return d.auth.Broken()
}

// Dispatch runs the full flow for one slot. It never panics and never
// returns an error; failures are reported in the Outcome and logged.
func (d *Dispatcher) Dispatch(ctx context.Context, slot Slot) (out Outcome) {
	started := d.clock.Now()
	out = Outcome{RunID: uuid.NewString(), Slot: slot}
	log := d.logger.WithFields(logging.Fields{"run_id": out.RunID, "slot": slot.Index})

	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusFailed
			out.Err = fmt.Errorf("dispatch panic: %v", r)
			log.WithField("panic", fmt.Sprint(r)).Error("Scheduler: dispatch panic")
		}
		if out.Err != nil {
			out.Error = out.Err.Error()
		}
		slotOutcomes.WithLabelValues(string(out.Status)).Inc()
		dispatchDuration.Observe(d.clock.Now().Sub(started).Seconds())
	}()

	if d.auth.Broken() {
		out.Status = StatusSkippedAuth
		log.Warn("Scheduler: skipping slot, publishing credentials were rejected earlier")
		return out
	}
	if !d.devMode && !d.tracker.CanPublish(d.clock.Now()) {
		out.Status = StatusSkippedRateLimit
		snap := d.tracker.Snapshot()
		log.WithFields(logging.Fields{
			"remaining": snap.Remaining,
			"reset_at":  snap.ResetAt.UTC().Format(time.RFC3339),
		}).Info("Scheduler: rate limit exhausted, skipping slot")
		return out
	}
	if d.capReached(ctx, log) {
		out.Status = StatusSkippedDailyCap
		return out
	}

	topic, err := d.topics.Next(ctx)
	if err != nil {
		out.Status = StatusFailed
		out.Err = fmt.Errorf("select topic: %w", err)
		log.WithError(err).Warn("Scheduler: failed to select topic")
		return out
	}
	out.Topic = topic
	log = log.WithField("topic", topic.Name)

	unit, attempts, err := d.produce(ctx, topic, log)
	out.Attempts = attempts
	if err != nil {
		out.Status = StatusFailed
		out.Err = err
		log.WithError(err).WithField("attempts", attempts).Warn("Scheduler: content generation failed")
		return out
	}
	out.Unit = unit

	d.publish(ctx, &out, log)
	d.record(ctx, &out, log)
	return out
}

func (d *Dispatcher) capReached(ctx context.Context, log *logging.Entry) bool {
	if d.store == nil || d.dailyUnits <= 0 {
		return false
	}
	count, err := d.store.CountToday(ctx)
	if err != nil {
		log.WithError(err).Warn("Scheduler: failed to count today's units, continuing")
		return false
	}
	if count >= d.dailyUnits {
		log.WithFields(logging.Fields{"count": count, "daily_units": d.dailyUnits}).Info("Scheduler: daily unit count reached, skipping slot")
		return true
	}
	return false
}

// produce runs the pipeline and assembles its output, re-running the whole
// pipeline while it comes back empty, up to maxAttempts times.
func (d *Dispatcher) produce(ctx context.Context, topic tokens.Topic, log *logging.Entry) (content.Unit, int, error) {
	pc := pipeline.Context{
		Subject: topic.Name,
		Brief:   topic.Brief(),
		Avoid:   d.recentPrimaries(ctx, log),
	}
	ct := content.Topic{Name: topic.Name, URL: topic.URL}

	builder := retrypolicy.NewBuilder[content.Unit]().
		HandleIf(func(_ content.Unit, err error) bool { return isEmptyContent(err) }).
		WithMaxRetries(d.maxAttempts - 1).
		OnRetry(func(e failsafe.ExecutionEvent[content.Unit]) {
			pipelineRetries.Inc()
			log.WithError(e.LastError()).WithField("attempt", e.Attempts()).Info("Scheduler: empty content, re-running pipeline")
		})
	if d.retryDelay > 0 {
		builder = builder.WithDelay(d.retryDelay)
	}

	attempts := 0
	var lastErr error
	unit, err := failsafe.With[content.Unit](builder.Build()).WithContext(ctx).Get(func() (content.Unit, error) {
		attempts++
		results, runErr := d.pipeline.Run(ctx, pc)
		if runErr != nil {
			lastErr = runErr
			return content.Unit{}, runErr
		}
		u, asmErr := content.Assemble(results, ct)
		if asmErr == nil && strings.TrimSpace(u.Primary) == "" {
			asmErr = &content.AssemblyError{Stage: 1, Role: pipeline.RoleCopywriter}
		}
		lastErr = asmErr
		return u, asmErr
	})
	if err != nil {
		if isEmptyContent(lastErr) && attempts >= d.maxAttempts {
			return content.Unit{}, attempts, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempts, lastErr)
		}
		if lastErr != nil {
			return content.Unit{}, attempts, lastErr
		}
		return content.Unit{}, attempts, err
	}
	return unit, attempts, nil
}

func isEmptyContent(err error) bool {
	if err == nil {
		return false
	}
	var asmErr *content.AssemblyError
	return errors.As(err, &asmErr) || errors.Is(err, pipeline.ErrEmptyOutput)
}

func (d *Dispatcher) recentPrimaries(ctx context.Context, log *logging.Entry) []string {
	if d.store == nil {
		return nil
	}
	records, err := d.store.ListRecent(ctx, d.recentLimit)
	if err != nil {
		log.WithError(err).Debug("Scheduler: could not load recent posts")
		return nil
	}
	out := make([]string, 0, len(records))
	for _, r := range records {
		if r.Primary != "" {
			out = append(out, r.Primary)
		}
	}
	return out
}

// publish posts the primary and then each reply. A reply is only attempted
// once its parent exists, and the first failure ends the thread.
func (d *Dispatcher) publish(ctx context.Context, out *Outcome, log *logging.Entry) {
	if !d.reserve(out, log) {
		return
	}
	res, err := d.publisher.PublishPrimary(ctx, out.Unit.Primary)
	if err != nil {
		d.publishFailed(out, err, "primary", log)
		return
	}
	d.observe(res)
	out.PrimaryID = res.ID
	out.Status = StatusPublished
	if d.devMode {
		out.Status = StatusDryRun
	}

	parent := res.ID
	for i, reply := range out.Unit.Replies {
		if !d.reserve(out, log) {
			out.Status = StatusPartial
			return
		}
		res, err := d.publisher.PublishReply(ctx, reply, parent)
		if err != nil {
			d.publishFailed(out, err, fmt.Sprintf("reply %d", i+1), log)
			out.Status = StatusPartial
			return
		}
		d.observe(res)
		out.ReplyIDs = append(out.ReplyIDs, res.ID)
		if d.threadMode == ThreadChain {
			parent = res.ID
		}
	}

	log.WithFields(logging.Fields{
		"primary_id": out.PrimaryID,
		"replies":    len(out.ReplyIDs),
		"dry_run":    d.devMode,
	}).Info("Scheduler: content unit published")
}

// reserve takes one call from the rate budget. Dev mode never touches it.
func (d *Dispatcher) reserve(out *Outcome, log *logging.Entry) bool {
	if d.devMode || d.tracker.Acquire(d.clock.Now()) {
		return true
	}
	if out.PrimaryID == "" {
		out.Status = StatusSkippedRateLimit
	}
	log.Info("Scheduler: rate limit reached before publish")
	return false
}

func (d *Dispatcher) observe(res xapi.PublishResult) {
	if !d.devMode {
		d.tracker.Update(res.RateHeaders)
	}
}

func (d *Dispatcher) publishFailed(out *Outcome, err error, what string, log *logging.Entry) {
	out.Err = fmt.Errorf("publish %s: %w", what, err)
	if out.PrimaryID == "" {
		out.Status = StatusFailed
	}

	var pubErr *xapi.PublishError
	if !errors.As(err, &pubErr) {
		log.WithError(err).Warn("Scheduler: publish failed")
		return
	}
	if !d.devMode {
		d.tracker.Update(pubErr.Headers)
	}
	switch {
	case pubErr.Unauthorized():
		d.auth.MarkBroken()
		log.WithError(err).WithField("status", pubErr.StatusCode).Error("Scheduler: publish unauthorized, disabling publishing until restart")
	case pubErr.RateLimited():
		log.WithError(err).Info("Scheduler: publish rate limited")
	default:
		log.WithError(err).WithField("status", pubErr.StatusCode).Warn("Scheduler: publish failed")
	}
}

func (d *Dispatcher) record(ctx context.Context, out *Outcome, log *logging.Entry) {
	if out.PrimaryID == "" {
		return
	}
	if d.store != nil {
		status := store.StatusPublished
		switch out.Status {
		case StatusDryRun:
			status = store.StatusDryRun
		case StatusPartial:
			status = store.StatusPartial
		}
		if _, err := d.store.Save(ctx, store.Record{
			RunID:        out.RunID,
			SlotIndex:    out.Slot.Index,
			Status:       status,
			TopicName:    out.Topic.Name,
			TopicAddress: out.Topic.Address,
			Primary:      out.Unit.Primary,
			PrimaryID:    out.PrimaryID,
			Replies:      out.Unit.Replies,
			ReplyIDs:     out.ReplyIDs,
		}); err != nil {
			log.WithError(err).Warn("Scheduler: failed to record unit")
		}
	}
	d.events.ContentPublished(ctx, events.ContentPublished{
		RunID:        out.RunID,
		SlotIndex:    out.Slot.Index,
		DryRun:       out.Status == StatusDryRun,
		TopicName:    out.Topic.Name,
		TopicAddress: out.Topic.Address,
		PrimaryID:    out.PrimaryID,
		ReplyIDs:     out.ReplyIDs,
		Posts:        out.Unit.Posts(),
	})
}
