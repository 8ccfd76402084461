package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"aurora-dashboard/internal/auth"
	"aurora-dashboard/internal/calls"
	"aurora-dashboard/internal/callsync"
	"aurora-dashboard/internal/config"
	"aurora-dashboard/internal/customers"
	"aurora-dashboard/internal/events"
	"aurora-dashboard/internal/httpapi"
	"aurora-dashboard/internal/migration"
	"aurora-dashboard/internal/notifications"
	"aurora-dashboard/internal/pickup"
	"aurora-dashboard/internal/realtime"
	"aurora-dashboard/internal/reporting"
	"aurora-dashboard/internal/synclog"
	"aurora-dashboard/internal/vapi"
	"aurora-dashboard/pkg/logger"
	"aurora-dashboard/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.DB.AutoMigrate {
		if err := migration.RunMigrations(db); err != nil {
			log.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		log.Info("migrations applied")
	}

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	gormDB, err := synclog.OpenPostgres(db)
	if err != nil {
		log.Error("sync history init failed", "err", err)
		os.Exit(1)
	}

	// Domain services
	remote := vapi.NewClient(vapi.Options{BaseURL: cfg.Vapi.BaseURL, Timeout: cfg.Vapi.Timeout, Logger: log})
	directory := customers.NewPostgresDirectory(db, log)
	store := calls.NewPostgresStore(db)
	runs := synclog.NewRepo(gormDB)

	statsCfg := reporting.Config{TTL: cfg.Stats.CacheTTL, Logger: log, Metrics: reporting.NewMetrics(nil)}
	if cfg.Stats.CacheDriver == config.DriverRedis {
		statsCfg.Cache = reporting.NewRedisCache(rdb, 0)
		statsCfg.Guard = reporting.NewRedisGuard(rdb, 0)
	}
	stats := reporting.NewService(reporting.NewPostgresRepo(db), statsCfg)

	syncMetrics := callsync.NewMetrics(nil)
	engine := callsync.NewEngine(callsync.Config{
		Source:        remote,
		Agents:        directory,
		Store:         store,
		History:       runs,
		Metrics:       syncMetrics,
		Logger:        log,
		PageLimit:     cfg.Vapi.PageLimit,
		BackfillBatch: cfg.Sync.BackfillBatch,

		// Manual and scheduled syncs both drop stats computed before the new rows.
		OnSynced: func(ctx context.Context, customerID int64, _ callsync.Result) {
			if err := stats.Invalidate(ctx, customerID); err != nil {
				log.Warn("invalidate cached stats failed", "customer_id", customerID, "err", err)
			}
		},
	})

	eventRepo := events.NewPostgresRepo(db)
	var (
		feed      realtime.Feed
		publisher events.Publisher
	)
	switch cfg.Realtime.Driver {
	case config.DriverRedis:
		feed = realtime.NewRedisFeed(rdb, log)
		publisher = events.NewRedisPublisher(rdb)
	case config.DriverMemory:
		mem := realtime.NewMemoryFeed()
		feed, publisher = mem, mem
	default:
		// The user_events_notify trigger publishes; no application publisher.
		feed = realtime.NewPQFeed(realtime.PQConfig{DSN: cfg.PostgresDSN(), Fetch: eventRepo.Get, Logger: log})
	}
	eventSvc := events.NewService(eventRepo, events.Config{Publisher: publisher, Logger: log})

	hub := notifications.NewHub(notifications.HubConfig{
		Feed:           feed,
		SubscribeDelay: cfg.Realtime.SubscribeDelay,
		RetryInterval:  cfg.Realtime.ResubscribeInterval,
		Logger:         log,
	})
	defer hub.Close()

	h := httpapi.Handlers{
		Auth:          authManager,
		Customers:     directory,
		Remote:        remote,
		APIKey:        cfg.Vapi.APIKey,
		PageLimit:     cfg.Vapi.PageLimit,
		Calls:         store,
		Sync:          engine,
		SyncRuns:      runs,
		Stats:         stats,
		Events:        eventSvc,
		WebhookSecret: cfg.Webhook.Secret,
		Notifications: hub,
		Pickup:        pickup.NewService(pickup.Config{URLs: cfg.Webhook.PickupURLs}),
		Ready: func(ctx context.Context) error {
			return utils.HealthCheck(ctx, db, 2*time.Second)
		},
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	if len(cfg.CORS.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-Id"},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	registerRoutes(r, h, auth.RequireAccessToken(authManager), directory, nil)

	// Background sync
	var bg sync.WaitGroup
	if cfg.Sync.Interval > 0 && len(cfg.Sync.CustomerIDs) > 0 {
		scheduler := callsync.NewScheduler(callsync.SchedulerConfig{
			Engine:      engine,
			APIKey:      cfg.Vapi.APIKey,
			CustomerIDs: cfg.Sync.CustomerIDs,
			Interval:    cfg.Sync.Interval,
			Metrics:     syncMetrics,
			Logger:      log,
		})
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := scheduler.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("sync scheduler stopped", "err", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: notification streams are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Closing the hub ends open notification streams so Shutdown can drain.
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	bg.Wait()

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
