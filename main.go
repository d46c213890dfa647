package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/partystash/api/rest"
	"github.com/kasuganosora/partystash/api/sse"
	"github.com/kasuganosora/partystash/audit"
	"github.com/kasuganosora/partystash/cache"
	"github.com/kasuganosora/partystash/catalog"
	"github.com/kasuganosora/partystash/config"
	dbadapter "github.com/kasuganosora/partystash/db"
	"github.com/kasuganosora/partystash/ledger"
	mw "github.com/kasuganosora/partystash/middleware"
	"github.com/kasuganosora/partystash/model"
	"github.com/kasuganosora/partystash/realtime"
	"github.com/kasuganosora/partystash/scheduler"
	"github.com/kasuganosora/partystash/stash"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Default()
	if len(os.Args) > 1 {
		cfg, err = config.Load(os.Args[1])
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" {
		logger.Fatal("security.jwt_secret must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, audit.Options{
		QueueSize:     cfg.Audit.QueueSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
	}, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Locks / PubSub ----
	cacheConfig := cache.Config{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	locks, err := cache.NewLocker(cacheConfig)
	if err != nil {
		log.Fatalf("locks: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Locks and pubsub initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Ledger / Catalog ----
	feed := realtime.NewFeed(pubsub, logger)
	ledgerSvc := ledger.NewService(db, locks, feed, ledger.Options{LockTTL: cfg.Stash.LockTTL}, logger)
	catalogSvc := catalog.NewService(db, logger)
	if cfg.Catalog.SeedPath != "" {
		n, err := catalogSvc.Seed(ctx, cfg.Catalog.SeedPath)
		if err != nil {
			logger.Warn("catalog seed failed", zap.String("path", cfg.Catalog.SeedPath), zap.Error(err))
		} else {
			logger.Info("catalog seeded", zap.Int("added", n))
		}
	}

	// ---- Stash sessions ----
	sessions := stash.NewManager(stash.Deps{
		Remote:  ledgerSvc,
		Catalog: catalogSvc,
		Feed:    feed,
		Logger:  logger,
	}, stash.Options{
		LogLimit:      cfg.Stash.LogLimit,
		RemoteTimeout: cfg.Stash.RemoteTimeout,
	})
	defer sessions.Shutdown()

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()
	sched.Every("stash_reconcile", cfg.Stash.ReconcileInterval, func(ctx context.Context) {
		sessions.ReconcileAll(ctx)
	})
	sched.Every("stash_idle_reap", cfg.Stash.SessionIdleTTL/2, func(context.Context) {
		if n := sessions.CloseIdle(cfg.Stash.SessionIdleTTL); n > 0 {
			logger.Debug("closed idle stash sessions", zap.Int("count", n))
		}
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(ctx, rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	rest.Register(r.Group("/api"), rest.Handlers{
		Stash:     rest.NewStashHandler(sessions, catalogSvc, ledgerSvc.Log(), auditSvc, logger),
		Catalog:   rest.NewCatalogHandler(catalogSvc),
		Character: rest.NewCharacterHandler(ledgerSvc),
		Events:    sse.NewHandler(feed, cfg.Security.AllowedOrigins, logger).ServeSSE,
	}, mw.Auth(cfg.Security.JWTSecret))

	adminH := rest.NewAdminHandler(sessions, ledgerSvc.Log(), sched, auditSvc, logger)
	adminG := r.Group("/admin", mw.IPWhitelist(cfg.Security.AdminIPs))
	adminG.GET("/metrics", adminH.Metrics)
	adminG.POST("/reconcile", adminH.Reconcile)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Open event streams end with the process context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}
