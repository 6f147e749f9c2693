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

	"github.com/joho/godotenv"

	"github.com/wolfman30/leadflow-ai/internal/api/router"
	"github.com/wolfman30/leadflow-ai/internal/classifier"
	appconfig "github.com/wolfman30/leadflow-ai/internal/config"
	"github.com/wolfman30/leadflow-ai/internal/conversation"
	"github.com/wolfman30/leadflow-ai/internal/followup"
	httpmiddleware "github.com/wolfman30/leadflow-ai/internal/http/middleware"
	"github.com/wolfman30/leadflow-ai/internal/leads"
	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

const (
	chatRatePerSecond = 1
	chatRateBurst     = 10
	shutdownTimeout   = 30 * time.Second
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting leadflow API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"llm_provider", cfg.LLMProvider,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(cfg *appconfig.Config, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsHandler, m := setupMetrics()
	awsCfg := &awsLoader{cfg: cfg}

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if cfg.DatabaseURL != "" && pool == nil {
		return errors.New("postgres unavailable")
	}
	if pool != nil {
		defer pool.Close()
	}
	rdb := connectRedis(cfg)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}
	st := setupStores(cfg, pool, rdb, logger)

	keywords, err := classifier.LoadKeywords(cfg.ClassifierKeywordsPath)
	if err != nil {
		return err
	}
	cls, err := classifier.New(keywords)
	if err != nil {
		return err
	}

	llm, closer, err := setupLLMClient(ctx, cfg, awsCfg, logger)
	defer func() { _ = closer.Close() }()
	if err != nil {
		return err
	}
	generator, err := setupGenerator(cfg, llm, m, logger)
	if err != nil {
		return err
	}

	notifySvc, notifier, err := setupNotifier(ctx, cfg, awsCfg, m, logger)
	if err != nil {
		return err
	}

	orch := conversation.NewOrchestrator(st.sessions, st.leads, generator, cls, logger,
		conversation.WithNotifier(notifier),
		conversation.WithSessionLocker(st.locker),
		conversation.WithReplies(cfg.ClosingReply, cfg.FallbackReply),
		conversation.WithOrchestratorMetrics(m),
	)
	processor, dispatcher, err := setupProcessor(ctx, cfg, orch, awsCfg, logger)
	if err != nil {
		return err
	}

	if cfg.FollowUpEnabled {
		sweeper := followup.NewSweeper(st.followUp, notifySvc, followup.Config{
			Interval:  cfg.FollowUpInterval,
			HotAfter:  cfg.FollowUpHotAfter,
			WarmAfter: cfg.FollowUpWarmAfter,
			Cooldown:  cfg.FollowUpCooldown,
		}, m, logger)
		go sweeper.Run(ctx)
	}

	limiter := httpmiddleware.NewRateLimiter(chatRatePerSecond, chatRateBurst)
	go limiter.RunCleanup(ctx)

	readyChecks := map[string]func(context.Context) error{}
	if pool != nil {
		readyChecks["postgres"] = pool.Ping
	}
	if rdb != nil {
		readyChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	r := router.New(&router.Config{
		Logger:             logger,
		ChatHandler:        conversation.NewHandler(processor, st.lookup, logger),
		LeadsHandler:       leads.NewHandler(st.admin, logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ChatLimiter:        limiter,
		ReadyChecks:        readyChecks,
	})

	// WriteTimeout covers a full turn: lock wait plus every LLM attempt.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SessionLockTTL + cfg.WorstCaseTurn(),
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if dispatcher != nil {
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			logger.Error("dispatcher shutdown timed out", "error", err)
		}
	}
	cancel()
	notifier.Wait()

	logger.Info("server stopped")
	return nil
}
