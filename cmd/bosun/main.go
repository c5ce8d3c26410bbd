package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"frameworks/bosun/internal/agents"
	"frameworks/bosun/internal/api"
	bosunconfig "frameworks/bosun/internal/config"
	"frameworks/bosun/internal/events"
	"frameworks/bosun/internal/ledger"
	"frameworks/bosun/internal/pipeline"
	"frameworks/bosun/internal/ratelimit"
	"frameworks/bosun/internal/responder"
	"frameworks/bosun/internal/schedule"
	"frameworks/bosun/internal/store"
	"frameworks/bosun/internal/tokens"
	"frameworks/bosun/internal/xapi"
	"frameworks/bosun/pkg/config"
	"frameworks/bosun/pkg/database"
	"frameworks/bosun/pkg/kafka"
	"frameworks/bosun/pkg/llm"
	"frameworks/bosun/pkg/logging"
	"frameworks/bosun/pkg/monitoring"
	bosunredis "frameworks/bosun/pkg/redis"
	"frameworks/bosun/pkg/server"
	"frameworks/bosun/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("bosun")

	// Load environment variables
	config.LoadEnv(logger)

	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GetShortCommit(),
	}).Info("Starting Bosun (content scheduler)")

	cfg := bosunconfig.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bosun", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bosun", version.Version, version.GitCommit)
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"LLM_PROVIDER": cfg.LLM.Provider,
		"LLM_MODEL":    cfg.LLM.Model,
	}))

	// Post history is optional; without it the daily cap only holds within
	// one process lifetime.
	var postStore store.PostStore
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, database.DefaultConfig(cfg.DatabaseURL), logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer func() { _ = db.Close() }()

		sqlStore := store.NewPostStore(db)
		if err := sqlStore.EnsureSchema(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to prepare database schema")
		}
		postStore = sqlStore
		healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	} else {
		logger.Warn("DATABASE_URL not set - post history and restart-safe daily cap disabled")
	}

	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		client, err := bosunredis.NewClientFromURL(ctx, cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Failed to connect to Redis - reply ledger is process-local")
		} else {
			defer func() { _ = client.Close() }()
			redisClient = client
			healthChecker.AddCheck("redis", monitoring.PingHealthCheck("redis", bosunredis.Pinger{Client: client}, true))
		}
	}

	var eventPublisher *events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, "bosun", logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to create Kafka producer - events disabled")
		} else {
			defer producer.Close()
			eventPublisher = events.NewPublisher(producer, cfg.EventsTopic, logger)
			healthChecker.AddCheck("kafka", monitoring.KafkaProducerHealthCheck(producer.Client()))
		}
	} else {
		logger.Debug("KAFKA_BROKERS not set - events disabled")
	}

	llmProvider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize LLM provider")
	}
	generator := agents.NewGenerator(agents.GeneratorConfig{LLM: llmProvider, Logger: logger})
	var roster pipeline.RosterGenerator = agents.StaticRoster{Names: cfg.AgentNames}
	if cfg.RosterMode == "llm" {
		roster = agents.FallbackRoster{
			Primary:  agents.NewLLMRoster(generator),
			Fallback: roster,
			Logger:   logger,
		}
	}
	contentPipeline := pipeline.New(pipeline.Config{
		Stages:    pipeline.CanonicalStages(),
		Roster:    roster,
		Generator: generator,
		Logger:    logger,
	})

	var xClient *xapi.Client
	if cfg.XAccessToken != "" || cfg.XRefreshToken != "" {
		tokenSource, err := xapi.TokenSource(ctx, xapi.Credentials{
			AccessToken:  cfg.XAccessToken,
			RefreshToken: cfg.XRefreshToken,
			ClientID:     cfg.XClientID,
			ClientSecret: cfg.XClientSecret,
			TokenURL:     cfg.XTokenURL,
		})
		if err != nil {
			logger.WithError(err).Fatal("Invalid X credentials")
		}
		xClient = xapi.NewClient(xapi.Config{BaseURL: cfg.XAPIURL, TokenSource: tokenSource, Logger: logger})
	}

	devMode := cfg.DevMode
	if !devMode && xClient == nil {
		logger.Warn("X credentials not set - manual dispatches run in dev mode")
		devMode = true
	}
	var publisher xapi.Publisher = xapi.NewDryRunPublisher(logger)
	if !devMode {
		publisher = xClient
	}

	var replyLedger ledger.ReplyLedger = ledger.NewMemoryLedger(0)
	if redisClient != nil {
		mode := ledger.ModeLive
		if devMode {
			mode = ledger.ModeDryRun
		}
		replyLedger = ledger.NewRedisLedger(redisClient, cfg.XUserID, mode, 0)
	}

	tracker := ratelimit.NewTracker()
	auth := xapi.NewAuthState()
	quota := schedule.ComputeQuota(cfg.PostsPerMonth, cfg.PostsPerDay)
	dispatcher := schedule.NewDispatcher(schedule.DispatcherConfig{
		Tracker:     tracker,
		Auth:        auth,
		Pipeline:    contentPipeline,
		Topics:      tokens.NewSource(tokens.Config{BaseURL: cfg.DexScreenerURL, Logger: logger}),
		Publisher:   publisher,
		Store:       postStore,
		Events:      eventPublisher,
		DailyUnits:  quota.UnitCount,
		DevMode:     devMode,
		ThreadMode:  cfg.ThreadMode,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      logger,
	})

	adminCfg := api.Config{
		Dispatcher: dispatcher,
		Tracker:    tracker,
		Store:      postStore,
		Logger:     logger,
	}

	var scheduler *schedule.Scheduler
	if cfg.AutoPoster {
		scheduler = schedule.NewScheduler(schedule.SchedulerConfig{
			MonthlyCap: cfg.PostsPerMonth,
			DailyCap:   cfg.PostsPerDay,
			Jitter:     cfg.SlotJitter,
			Dispatcher: dispatcher,
			Logger:     logger,
		})
		adminCfg.Planner = scheduler
	}

	var replier *responder.Responder
	if xClient != nil && cfg.XUserID != "" {
		replier = responder.New(responder.Config{
			Interval:  cfg.ResponderInterval,
			AccountID: cfg.XUserID,
			BatchSize: cfg.ResponderBatch,
			Timeline:  xClient,
			Publisher: publisher,
			Generator: generator,
			Tracker:   tracker,
			Auth:      auth,
			Ledger:    replyLedger,
			Events:    eventPublisher,
			DevMode:   devMode,
			Logger:    logger,
		})
		adminCfg.Responder = replier
	}

	// Setup router with unified monitoring (health/metrics) and admin routes
	router := server.SetupServiceRouter(logger, "bosun", healthChecker, metricsCollector)
	api.NewAdminAPI(adminCfg).RegisterRoutes(router, cfg.AdminAPIKey)
	if cfg.AdminAPIKey == "" {
		logger.Warn("BOSUN_API_KEY not set - admin API disabled")
	}

	logger.WithFields(logging.Fields{
		"auto_poster":    cfg.AutoPoster,
		"auto_responder": cfg.AutoResponder,
		"dev_mode":       devMode,
		"daily_cap":      quota.DailyCap,
		"unit_count":     quota.UnitCount,
		"thread_mode":    cfg.ThreadMode,
	}).Info("Bosun configured")

	g, gctx := errgroup.WithContext(ctx)
	if scheduler != nil {
		g.Go(func() error { return scheduler.Run(gctx) })
	}
	if cfg.AutoResponder && replier != nil {
		g.Go(func() error {
			replier.Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return server.Start(gctx, server.DefaultConfig("bosun", cfg.Port), router, logger)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Bosun stopped with error")
	}
	if scheduler != nil {
		// Let slots that already fired finish publishing their thread.
		scheduler.Wait()
	}
	logger.Info("Bosun stopped")
}
