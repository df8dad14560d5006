package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ubuygold/studygen/internal/admin"
	"github.com/ubuygold/studygen/internal/api"
	"github.com/ubuygold/studygen/internal/auth"
	"github.com/ubuygold/studygen/internal/config"
	"github.com/ubuygold/studygen/internal/db"
	"github.com/ubuygold/studygen/internal/failover"
	"github.com/ubuygold/studygen/internal/ingest"
	"github.com/ubuygold/studygen/internal/keypool"
	"github.com/ubuygold/studygen/internal/logger"
	"github.com/ubuygold/studygen/internal/metrics"
	"github.com/ubuygold/studygen/internal/provider"
	"github.com/ubuygold/studygen/internal/quota"
	"github.com/ubuygold/studygen/internal/scheduler"
)

// customRecovery is a middleware that recovers from panics and handles http.ErrAbortHandler gracefully.
func customRecovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					log.Warn("Client connection aborted", "path", c.Request.URL.Path)
					c.Abort()
					return
				}

				log.Error("Panic recovered",
					"error", recovered,
					"path", c.Request.URL.Path,
					"request_id", api.RequestIDFrom(c),
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
		}()
		c.Next()
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	issueToken := flag.String("issue-token", "", "print a bearer token for this user id and exit")
	tokenTTL := flag.Duration("token-ttl", 30*24*time.Hour, "lifetime of a token printed by -issue-token")
	flag.Parse()

	// Load configuration
	cfg, warnings, err := config.LoadConfig(*configPath)
	if err != nil {
		// Use a temporary logger for startup errors
		slog.Error("Error loading configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	log := logger.New(cfg.Debug, cfg.LogLevel)
	log.Info("Logger initialized", "debug_mode", cfg.Debug)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	if *issueToken != "" {
		token, err := auth.IssueToken(cfg.Auth.JWTSecret, *issueToken, *tokenTTL)
		if err != nil {
			log.Error("Error issuing token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	// Initialize database
	dbService, err := db.NewService(cfg.Database)
	if err != nil {
		log.Error("Error initializing database", "error", err)
		os.Exit(1)
	}
	defer dbService.Close()
	log.Info("Database initialized", "type", cfg.Database.Type)

	gemini := provider.NewGemini()
	defer gemini.Close()

	if err := setupAndRunServer(cfg, log, dbService, gemini); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// app is the wired service: the router plus the pieces that need starting and stopping.
type app struct {
	router    *gin.Engine
	scheduler *scheduler.Scheduler
	closers   []func() error
}

func (a *app) Close() {
	a.scheduler.Stop()
	for _, closeFn := range a.closers {
		closeFn()
	}
}

// newApp wires every component from cfg. client is the generative-AI adapter.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, dbService db.Service, client provider.Client) (*app, error) {
	a := &app{}

	var counters quota.CounterStore
	switch cfg.Quota.Backend {
	case "redis":
		rdb, err := quota.NewRedisClient(ctx, cfg.Quota.Redis.Addr, cfg.Quota.Redis.Password, cfg.Quota.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect quota backend: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		counters = quota.NewRedisStore(rdb)
	default:
		counters = quota.NewDatabaseStore(dbService)
	}
	log.Info("Quota ledger initialized", "backend", cfg.Quota.Backend, "daily_limit", cfg.Quota.DailyLimit)
	ledger := quota.NewLedger(counters, dbService, cfg.Quota.DailyLimit, log)

	pool := keypool.New(cfg.Gemini.APIKeys)
	metrics.ConfiguredKeys.Set(float64(pool.Count()))
	if pool.Count() == 0 {
		log.Warn("No Gemini API keys configured; generation endpoints will answer 500")
	} else {
		log.Info("Key pool loaded", "keys", pool.Count())
	}

	invoker := failover.New(pool, client, cfg.Gemini.RetryBackoffDuration(), log)
	poller := ingest.NewPoller(client, cfg.Gemini.PollIntervalDuration(), cfg.Gemini.MaxPolls, log)
	handler := api.NewHandler(pool, ledger, invoker, poller, api.SettingsFromConfig(cfg), log)

	// Create a Gin router
	router := gin.New()
	// Use our custom recovery middleware instead of the default one.
	router.Use(customRecovery(log), api.RequestID())

	// If debug mode is enabled, add the logger middleware
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	api.SetupRoutes(router, handler, auth.IdentityMiddleware(cfg.Auth.JWTSecret, log))
	admin.SetupRoutes(router, dbService, ledger, pool, cfg)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
	a.scheduler = scheduler.NewScheduler(ledger, cfg.Scheduler.UsageReportSpec, log)
	return a, nil
}

func setupAndRunServer(cfg *config.Config, log *slog.Logger, dbService db.Service, client provider.Client) error {
	a, err := newApp(context.Background(), cfg, log, dbService, client)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.scheduler.Start(); err != nil {
		return err
	}
	log.Info("Scheduler started", "usage_report_spec", cfg.Scheduler.UsageReportSpec)

	// Create and start the main server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: a.router,
	}

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}
	log.Info("Shutting down server...")

	// Generation requests can spend a while in backoff and file polling.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server exiting")
	return nil
}
