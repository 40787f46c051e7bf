// auditd serves read-only inspection endpoints over the record chains and the
// audit trail, verifies every chain at boot and re-verifies them periodically.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditchain/internal/bootstrap"
	"github.com/jmerrifield20/auditchain/internal/config"
	"github.com/jmerrifield20/auditchain/internal/correlation"
	"github.com/jmerrifield20/auditchain/internal/handler"
	"github.com/jmerrifield20/auditchain/internal/metrics"
	"github.com/jmerrifield20/auditchain/internal/sweep"
	"github.com/jmerrifield20/auditchain/internal/webhooks"
)

func main() {
	cfgFile := pflag.String("config", "", "config file (default configs/auditd.yaml)")
	pflag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auditd: %v\n", err)
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	if cfg.Log.Development {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("auditd exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := comps.Close(); err != nil {
			logger.Error("close components", zap.Error(err))
		}
	}()

	sweeper := sweep.New(comps.Ledger, sweep.Config{
		Interval:    cfg.Sweep.Interval,
		Concurrency: cfg.Sweep.Concurrency,
	}, logger)
	sweeper.SetMetricsRecord(metrics.RecordSweep)

	if urls := cfg.Alert.WebhookURLs; len(urls) > 0 {
		notifier := webhooks.NewNotifier(urls, cfg.Alert.WebhookSecret, logger)
		notifier.SetMetricsRecorder(metrics.RecordWebhookDelivery)
		sweeper.SetAlert(notifier.ChainFailed)
		defer notifier.Wait()
		logger.Info("integrity alerts enabled", zap.Int("webhooks", len(urls)))
	}

	// ── Boot verification ────────────────────────────────────────────────────
	report := sweeper.SweepAll(ctx)
	if report.OK() {
		logger.Info("chains verified", zap.Int("chains", report.Checked))
	} else {
		for _, f := range report.Failures {
			logger.Warn("chain integrity check FAILED",
				zap.String("chain", f.Chain),
				zap.String("error", f.Error),
			)
		}
	}

	if cfg.Sweep.Interval > 0 {
		go sweeper.Run(ctx)
		defer sweeper.Stop()
	}

	router := newRouter(cfg, comps, sweeper, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("auditd HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http listen: %w", err)
	}
	logger.Info("shutting down auditd...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("auditd stopped")
	return nil
}

func newRouter(cfg *config.Config, comps *bootstrap.Components, sweeper *sweep.Sweeper, logger *zap.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	if origins := cfg.Server.CORSOrigins; len(origins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{"GET", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Accept", "Authorization", correlation.Header},
			ExposeHeaders:    []string{"Content-Length", correlation.Header},
			AllowCredentials: !containsWildcard(origins),
			MaxAge:           12 * time.Hour,
		}))
	}

	router.Use(handler.SecurityHeaders())
	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		router.Use(handler.RateLimiter(handler.RateLimit{RPS: rps}))
	}
	router.Use(correlation.Middleware(correlation.Header))
	router.Use(handler.PrometheusMiddleware())
	router.Use(handler.RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	ledgerHandler := handler.NewLedgerHandler(comps.Ledger, logger)
	ledgerHandler.SetSweeper(sweeper)
	ledgerHandler.Register(v1)
	if comps.Querier != nil {
		handler.NewAuditHandler(comps.Querier, logger).Register(v1)
	} else {
		logger.Info("audit sink is write-only; correlation queries disabled",
			zap.String("sink", cfg.Sink.Kind))
	}
	return router
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
