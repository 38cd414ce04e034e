package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/analytics"
	"github.com/havenly/havenly-backend/internal/api"
	"github.com/havenly/havenly-backend/internal/auth"
	"github.com/havenly/havenly-backend/internal/blog"
	"github.com/havenly/havenly-backend/internal/clients/openai"
	"github.com/havenly/havenly-backend/internal/clients/trends"
	"github.com/havenly/havenly-backend/internal/clients/unsplash"
	"github.com/havenly/havenly-backend/internal/config"
	"github.com/havenly/havenly-backend/internal/content"
	"github.com/havenly/havenly-backend/internal/crm"
	gdb "github.com/havenly/havenly-backend/internal/db"
	"github.com/havenly/havenly-backend/internal/jobs"
	"github.com/havenly/havenly-backend/internal/landing"
	"github.com/havenly/havenly-backend/internal/leads"
	"github.com/havenly/havenly-backend/internal/listings"
	"github.com/havenly/havenly-backend/internal/log"
	"github.com/havenly/havenly-backend/internal/mailer"
	"github.com/havenly/havenly-backend/internal/metrics"
	"github.com/havenly/havenly-backend/internal/referrals"
	"github.com/havenly/havenly-backend/internal/settings"
	"github.com/havenly/havenly-backend/internal/store"
	"github.com/havenly/havenly-backend/internal/ws"
	"github.com/havenly/havenly-backend/pkg/kv"
	_ "github.com/havenly/havenly-backend/pkg/kv/memory"
	_ "github.com/havenly/havenly-backend/pkg/kv/redis"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting Havenly API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatalw("Server exited", "error", err)
	}
	logger.Infow("Server stopped")
}

func run(cfg *config.Config, logger *zap.SugaredLogger) error {
	metricsObj, metricsHandler, err := metrics.Setup("havenly-api")
	if err != nil {
		return fmt.Errorf("setup metrics: %w", err)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	database, err := gdb.NewDatabase(gdb.ConfigFrom(cfg), logger)
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	initCtx, initCancel := context.WithTimeout(bgCtx, 30*time.Second)
	defer initCancel()
	if err := gdb.ConnectAndMigrate(initCtx, database, gdb.AllSchemas()); err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer database.Disconnect(context.Background())
	if cfg.Database.Type == "" || cfg.Database.Type == "memory" {
		// An empty in-memory store is useless for local work.
		if err := gdb.SeedFixtures(initCtx, database, time.Now().UTC()); err != nil {
			return fmt.Errorf("seed in-memory database: %w", err)
		}
	}
	logger.Infow("Database initialized", "type", cfg.Database.Type)

	kvStore, err := kv.NewStoreFromConfig(kv.Config{
		Backend:         kv.Backend(cfg.Cache.Backend),
		RedisURL:        cfg.Cache.RedisURL,
		JanitorInterval: cfg.Cache.JanitorInterval,
		Logger:          logger.Warnw,
	})
	if err != nil {
		return fmt.Errorf("create cache store: %w", err)
	}
	cache := store.NewCache(kvStore, logger, metricsObj)
	defer cache.Close()

	broker := newBroker(cfg, logger)
	defer broker.Close()
	events := store.NewEvents(broker, logger)

	// Upstream clients. Unconfigured ones stay nil so services fall back.
	ai := openai.New(openai.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		Model:          cfg.OpenAI.Model,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		Timeout:        cfg.OpenAI.Timeout,
	}, logger)
	var (
		textGen  landing.TextGenerator
		embedder blog.Embedder
		photos   landing.PhotoSearcher
	)
	if ai.Configured() {
		textGen, embedder = ai, ai
	} else {
		logger.Warnw("OpenAI not configured; generation and embeddings disabled")
	}
	if cfg.Unsplash.AccessKey != "" {
		photos = unsplash.New(cfg.Unsplash.AccessKey, cfg.Unsplash.BaseURL, logger)
	}
	trendFeed := trends.New(cfg.Trends.FeedURL, cfg.Trends.Geo, logger)

	var provider crm.Provider = crm.Noop{}
	if cfg.Lofty.APIKey != "" {
		provider = crm.NewLofty(crm.LoftyConfig{
			APIKey:        cfg.Lofty.APIKey,
			BaseURL:       cfg.Lofty.BaseURL,
			WebhookSecret: cfg.Lofty.WebhookSecret,
		}, logger)
	} else {
		logger.Warnw("Lofty not configured; leads stay local")
	}

	var sender mailer.Sender = mailer.NewLogSender(logger)
	if cfg.Mail.Host != "" {
		sender = mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			User:     cfg.Mail.User,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			FromName: cfg.Mail.FromName,
			UseTLS:   cfg.Mail.UseTLS,
		}, logger)
	}

	tokens, err := auth.NewTokens(cfg.Security.JWTSecret, cfg.Security.SessionTTL)
	if err != nil {
		return fmt.Errorf("session tokens: %w", err)
	}

	// Services
	listingSvc := listings.NewService(database, cache, logger)
	settingsSvc := settings.NewService(database, cache, logger)
	referralSvc := referrals.NewService(database, events, logger)
	blogSvc := blog.NewService(database, events, embedder, listingSvc, cfg.Content.RelatedProperties, logger, metricsObj)
	contentSvc := content.NewService(database, textGen, trendFeed, blogSvc, logger)
	leadSvc := leads.NewService(database, provider, sender, events, logger, metricsObj)
	landingSvc := landing.NewService(database, cache, events, listingSvc, textGen, photos, settingsSvc, landing.Options{
		GenerateOnRequest: cfg.Content.GenerateOnRequest,
		CacheTTL:          cfg.Cache.LandingTTL,
		ImageTTL:          cfg.Cache.ImageTTL,
	}, logger, metricsObj)
	runner := jobs.NewRunner(blogSvc, leadSvc, contentSvc, logger)

	wsHub := ws.NewHub(broker, cfg.Security.CORSAllowedOrigins, logger, metricsObj)
	go wsHub.Run(bgCtx)

	if cfg.Scheduler.Enabled {
		scheduler := jobs.NewScheduler(runner, cache, logger)
		err := scheduler.Start(bgCtx, jobs.Schedule{
			jobs.JobPublish:   cfg.Scheduler.PublishCron,
			jobs.JobFollowups: cfg.Scheduler.FollowupsCron,
			jobs.JobTrends:    cfg.Scheduler.TrendsCron,
		})
		if err != nil {
			return err
		}
		defer scheduler.Stop()
	} else {
		logger.Infow("In-process scheduler disabled; jobs run via /api/cron")
	}

	handler := api.NewHandler(api.Services{
		Listings:    listingSvc,
		Landing:     landingSvc,
		Blog:        blogSvc,
		Content:     contentSvc,
		Referrals:   referralSvc,
		Leads:       leadSvc,
		Auth:        auth.NewService(database, tokens, referralSvc, cfg.Security.AdminEmails, logger),
		Analytics:   analytics.NewService(database, events, logger),
		Settings:    settingsSvc,
		Jobs:        runner,
		Transcriber: ai,
	}, wsHub, ws.NewSSEHandler(broker, logger), database, cache, cfg, logger, metricsObj)
	router := handler.Routes(api.NewMiddleware(logger, metricsObj), metricsHandler)
	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// No WriteTimeout: the admin feed streams. Ordinary routes are bounded by
	// the timeout middleware.
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server startup failed: %w", err)
		}
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		// Stop the hub first so open websockets close.
		bgCancel()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			_ = server.Close()
		}
	}
	return nil
}

// newBroker shares events across replicas through Redis when the cache runs
// on Redis, and keeps them in process otherwise.
func newBroker(cfg *config.Config, logger *zap.SugaredLogger) store.Broker {
	if cfg.Cache.Backend != string(kv.BackendRedis) {
		return store.NewMemoryBroker()
	}
	broker, err := store.NewRedisBroker(cfg.Cache.RedisURL, logger)
	if err != nil {
		logger.Warnw("Redis pub/sub unavailable; events stay in process", "error", err)
		return store.NewMemoryBroker()
	}
	return broker
}
