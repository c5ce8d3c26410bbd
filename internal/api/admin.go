// Package api exposes the operator endpoints for inspecting and driving the
// scheduler and responder.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"frameworks/bosun/internal/ratelimit"
	"frameworks/bosun/internal/responder"
	"frameworks/bosun/internal/schedule"
	"frameworks/bosun/internal/store"
	"frameworks/bosun/pkg/logging"
	"frameworks/bosun/pkg/middleware"
)

const (
	manualSlotIndex   = -1
	defaultRunTimeout = 10 * time.Minute
)

type Planner interface {
	Tasks() []schedule.Task
	Quota() schedule.Quota
	DayStart() time.Time
	Cancel(index int) bool
}

type Dispatcher interface {
	Dispatch(ctx context.Context, slot schedule.Slot) schedule.Outcome
	AuthBroken() bool
}

type Ticker interface {
	Tick(ctx context.Context) responder.TickResult
}

type Config struct {
	Planner    Planner
	Dispatcher Dispatcher
	Responder  Ticker
	Tracker    *ratelimit.Tracker
	// Store is optional; without it /posts answers 404.
	Store store.PostStore
	// RunTimeout bounds manual dispatches and ticks, which outlive the
	// request so a disconnecting client cannot cut a thread short.
	RunTimeout time.Duration
	Now        func() time.Time
	Logger     logging.Logger
}

type AdminAPI struct {
	planner    Planner
	dispatcher Dispatcher
	responder  Ticker
	tracker    *ratelimit.Tracker
	store      store.PostStore
	runTimeout time.Duration
	now        func() time.Time
	logger     logging.Logger
}

type planResponse struct {
	Quota    schedule.Quota  `json:"quota"`
	DayStart time.Time       `json:"day_start"`
	Tasks    []schedule.Task `json:"tasks"`
}

type rateLimitResponse struct {
	ratelimit.State
	CanPublish bool `json:"can_publish"`
	AuthBroken bool `json:"auth_broken"`
}

func NewAdminAPI(cfg Config) *AdminAPI {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = ratelimit.NewTracker()
	}
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	return &AdminAPI{
		planner:    cfg.Planner,
		dispatcher: cfg.Dispatcher,
		responder:  cfg.Responder,
		tracker:    tracker,
		store:      cfg.Store,
		runTimeout: runTimeout,
		now:        now,
		logger:     logger,
	}
}

func (a *AdminAPI) RegisterRoutes(router *gin.Engine, apiKey string) {
	group := router.Group("/api/bosun")
	group.Use(middleware.APIKeyMiddleware(apiKey))

	group.GET("/plan", a.handlePlan)
	group.POST("/plan/slots/:index/cancel", a.handleCancelSlot)
	group.GET("/ratelimit", a.handleRateLimit)
	group.POST("/dispatch", a.handleDispatch)
	group.POST("/responder/tick", a.handleResponderTick)
	group.GET("/posts", a.handleRecentPosts)
}

func (a *AdminAPI) handlePlan(c *gin.Context) {
	if a.planner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auto poster disabled"})
		return
	}
	c.JSON(http.StatusOK, planResponse{
		Quota:    a.planner.Quota(),
		DayStart: a.planner.DayStart(),
		Tasks:    a.planner.Tasks(),
	})
}

func (a *AdminAPI) handleCancelSlot(c *gin.Context) {
	if a.planner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auto poster disabled"})
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slot index must be an integer"})
		return
	}
	if !a.planner.Cancel(index) {
		c.JSON(http.StatusConflict, gin.H{"error": "slot is not pending"})
		return
	}
	middleware.GetContextLogger(c, a.logger).WithField("slot", index).Info("Admin: slot cancelled")
	c.JSON(http.StatusOK, gin.H{"cancelled": index})
}

func (a *AdminAPI) handleRateLimit(c *gin.Context) {
	resp := rateLimitResponse{
		State:      a.tracker.Snapshot(),
		CanPublish: a.tracker.CanPublish(a.now()),
	}
	if a.dispatcher != nil {
		resp.AuthBroken = a.dispatcher.AuthBroken()
	}
	c.JSON(http.StatusOK, resp)
}

// handleDispatch runs one unit outside the plan and returns the outcome,
// which in dev mode includes the content that would have been posted.
func (a *AdminAPI) handleDispatch(c *gin.Context) {
	if a.dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dispatcher not configured"})
		return
	}
	ctx, cancel := a.runContext(c)
	defer cancel()

	out := a.dispatcher.Dispatch(ctx, schedule.Slot{Index: manualSlotIndex})
	middleware.GetContextLogger(c, a.logger).WithFields(logging.Fields{
		"run_id": out.RunID,
		"status": out.Status,
	}).Info("Admin: manual dispatch finished")

	status := http.StatusOK
	if out.Status == schedule.StatusFailed {
		status = http.StatusBadGateway
	}
	c.JSON(status, out)
}

func (a *AdminAPI) handleResponderTick(c *gin.Context) {
	if a.responder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "responder not configured"})
		return
	}
	ctx, cancel := a.runContext(c)
	defer cancel()

	c.JSON(http.StatusOK, a.responder.Tick(ctx))
}

// runContext detaches from the request so a half-posted thread is not
// abandoned when the caller disconnects.
func (a *AdminAPI) runContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request.Context()), a.runTimeout)
}

func (a *AdminAPI) handleRecentPosts(c *gin.Context) {
	if a.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post history not configured"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
		return
	}
	records, err := a.store.ListRecent(c.Request.Context(), limit)
	if err != nil {
		middleware.GetContextLogger(c, a.logger).WithError(err).Warn("Admin: failed to list posts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list posts"})
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"posts": records})
}
