// Package responder periodically replies to the account's own recent posts.
package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"frameworks/bosun/internal/clock"
	"frameworks/bosun/internal/content"
	"frameworks/bosun/internal/events"
	"frameworks/bosun/internal/ledger"
	"frameworks/bosun/internal/pipeline"
	"frameworks/bosun/internal/ratelimit"
	"frameworks/bosun/internal/xapi"
	"frameworks/bosun/pkg/logging"
)

const (
	defaultInterval    = 15 * time.Minute
	defaultBatchSize   = 5
	defaultTickTimeout = 5 * time.Minute
)

const replyPersona = `You are a highly engaging and professional social media account.
Write one thoughtful, engaging reply to the post you are given.
Keep it under 280 characters. Do not use hashtags unless the post does.
Return only the reply text.`

type Config struct {
	Interval    time.Duration
	AccountID   string
	BatchSize   int
	TickTimeout time.Duration
	Timeline    xapi.TimelineSource
	Publisher   xapi.Publisher
	Generator   pipeline.TextGenerator
	Tracker     *ratelimit.Tracker
	Auth        *xapi.AuthState
	// Ledger defaults to an in-memory ledger.
	Ledger  ledger.ReplyLedger
	Events  *events.Publisher
	DevMode bool
	Clock   clock.Clock
	Logger  logging.Logger
}

// TickResult counts what one scan did with the fetched batch.
type TickResult struct {
	Fetched     int    `json:"fetched"`
	Skipped     int    `json:"skipped"`
	Duplicates  int    `json:"duplicates"`
	Replied     int    `json:"replied"`
	Failed      int    `json:"failed"`
	RateLimited bool   `json:"rate_limited"`
	Error       string `json:"error,omitempty"`
}

type Responder struct {
	interval    time.Duration
	accountID   string
	batchSize   int
	tickTimeout time.Duration
	timeline    xapi.TimelineSource
	publisher   xapi.Publisher
	generator   pipeline.TextGenerator
	tracker     *ratelimit.Tracker
	ledger      ledger.ReplyLedger
	events      *events.Publisher
	devMode     bool
	clock       clock.Clock
	logger      logging.Logger
	auth        *xapi.AuthState

	tickMu   sync.Mutex
	stopOnce sync.Once
	stop     chan struct{}
}

func New(cfg Config) *Responder {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	tickTimeout := cfg.TickTimeout
	if tickTimeout <= 0 {
		tickTimeout = defaultTickTimeout
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = ratelimit.NewTracker()
	}
	auth := cfg.Auth
	if auth == nil {
		auth = xapi.NewAuthState()
	}
	l := cfg.Ledger
	if l == nil {
		l = ledger.NewMemoryLedger(0)
	}
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Responder{
		interval:    interval,
		accountID:   cfg.AccountID,
		batchSize:   batch,
		tickTimeout: tickTimeout,
		timeline:    cfg.Timeline,
		publisher:   cfg.Publisher,
		generator:   cfg.Generator,
		tracker:     tracker,
		ledger:      l,
		events:      cfg.Events,
		devMode:     cfg.DevMode,
		clock:       c,
		logger:      logger,
		auth:        auth,
		stop:        make(chan struct{}),
	}
}

// Start ticks every interval until ctx is cancelled or Stop is called. A
// tick already running when either happens is allowed to finish.
func (r *Responder) Start(ctx context.Context) {
	if r == nil {
		return
	}
	r.logger.WithField("interval", r.interval.String()).Info("Responder: started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Responder: stopped")
			return
		case <-r.stop:
			r.logger.Info("Responder: stopped")
			return
		case <-r.clock.After(r.interval):
			r.Tick(context.WithoutCancel(ctx))
		}
	}
}

// Stop prevents further ticks. It is safe to call more than once.
func (r *Responder) Stop() {
	if r == nil {
		return
	}
	r.stopOnce.Do(func() { close(r.stop) })
}

// Tick runs one scan. Ticks never overlap; a failed fetch ends only this
// tick and per-post failures do not stop the rest of the batch.
func (r *Responder) Tick(ctx context.Context) (result TickResult) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			result.Error = fmt.Sprintf("tick panic: %v", rec)
			r.logger.WithField("panic", fmt.Sprint(rec)).Error("Responder: tick panic")
		}
		ticksTotal.WithLabelValues(tickOutcome(result)).Inc()
	}()

	if r.auth.Broken() {
		result.Error = "publishing credentials rejected"
		r.logger.Warn("Responder: skipping tick, publishing credentials were rejected earlier")
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, r.tickTimeout)
	defer cancel()

	posts, err := r.timeline.FetchRecent(ctx, r.accountID, r.batchSize)
	if err != nil {
		result.Error = err.Error()
		r.logger.WithError(err).Warn("Responder: failed to fetch recent posts")
		return result
	}
	result.Fetched = len(posts)

	for _, post := range posts {
		if post.IsReplyToOther {
			result.Skipped++
			continue
		}
		stop := r.respond(ctx, post, &result)
		if stop {
			break
		}
	}

	r.logger.WithFields(logging.Fields{
		"fetched":    result.Fetched,
		"skipped":    result.Skipped,
		"duplicates": result.Duplicates,
		"replied":    result.Replied,
		"failed":     result.Failed,
	}).Info("Responder: tick complete")
	return result
}

// respond handles one post. It returns true when the rest of the batch
// should be abandoned.
func (r *Responder) respond(ctx context.Context, post xapi.Post, result *TickResult) bool {
	log := r.logger.WithField("post_id", post.ID)

	claimed, err := r.ledger.Claim(ctx, post.ID)
	if err != nil {
		log.WithError(err).Warn("Responder: ledger unavailable, replying anyway")
	} else if !claimed {
		result.Duplicates++
		return false
	}
	release := func() {
		if relErr := r.ledger.Release(ctx, post.ID); relErr != nil {
			log.WithError(relErr).Debug("Responder: failed to release claim")
		}
	}

	reply, err := r.generator.Generate(ctx, replyPersona, post.Text)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = pipeline.ErrEmptyOutput
	}
	if err != nil {
		result.Failed++
		repliesTotal.WithLabelValues("generation_error").Inc()
		log.WithError(err).Warn("Responder: failed to generate reply")
		release()
		return false
	}
	text := content.Finalize(reply)

	if !r.devMode && !r.tracker.Acquire(r.clock.Now()) {
		result.RateLimited = true
		release()
		log.Info("Responder: rate limit exhausted, ending tick")
		return true
	}

	res, err := r.publisher.PublishReply(ctx, text, post.ID)
	if err != nil {
		result.Failed++
		repliesTotal.WithLabelValues("publish_error").Inc()
		release()
		return r.publishFailed(err, log)
	}
	if !r.devMode {
		r.tracker.Update(res.RateHeaders)
	}
	result.Replied++
	repliesTotal.WithLabelValues("ok").Inc()
	log.WithField("reply_id", res.ID).Info("Responder: replied to post")

	r.events.ReplyPublished(ctx, events.ReplyPublished{
		InReplyTo: post.ID,
		ReplyID:   res.ID,
		Text:      text,
		DryRun:    r.devMode,
	})
	return false
}

func (r *Responder) publishFailed(err error, log *logging.Entry) bool {
	var pubErr *xapi.PublishError
	if !errors.As(err, &pubErr) {
		log.WithError(err).Warn("Responder: failed to publish reply")
		return false
	}
	if !r.devMode {
		r.tracker.Update(pubErr.Headers)
	}
	switch {
	case pubErr.Unauthorized():
		r.auth.MarkBroken()
		log.WithError(err).WithField("status", pubErr.StatusCode).Error("Responder: publish unauthorized, disabling replies until restart")
		return true
	case pubErr.RateLimited():
		log.WithError(err).Info("Responder: publish rate limited, ending tick")
		return true
	default:
		log.WithError(err).WithField("status", pubErr.StatusCode).Warn("Responder: failed to publish reply")
		return false
	}
}

func tickOutcome(r TickResult) string {
	switch {
	case r.Error != "":
		return "error"
	case r.RateLimited:
		return "rate_limited"
	default:
		return "ok"
	}
}
