// cmd/lifecycle-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"marketplace-engine/internal/common/config"
	"marketplace-engine/internal/common/database"
	"marketplace-engine/internal/common/logger"
	"marketplace-engine/internal/common/observability"
	"marketplace-engine/internal/engine/alerts"
	"marketplace-engine/internal/engine/audit"
	"marketplace-engine/internal/engine/lifecycle"
	"marketplace-engine/internal/engine/monitor"
	"marketplace-engine/internal/engine/reconciler"
	"marketplace-engine/internal/engine/revenue"
	"marketplace-engine/internal/engine/service"
	"marketplace-engine/internal/engine/store"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting lifecycle manager...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("lifecycle-manager")
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		// Test the connection with context
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		// Test the connection with context
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Wire the engine ---
	clock := lifecycle.SystemClock()

	sink := audit.NewSink(pg.DB, rdb.Client, clock, cfg.Alerts.Channel, cfg.Monitoring.AlertCooldown(), log)
	st := store.New(pg.DB, sink, clock, cfg.Monitoring.TransactionBudget(), log)
	ledger := revenue.NewLedger(pg.DB, sink, clock, cfg.Revenue, log)
	rec := reconciler.New(st, ledger, sink, clock, cfg.Monitoring, log)

	statusMon := monitor.NewStatusMonitor(st, ledger, sink, clock, cfg.Monitoring, log)
	revenueMon := monitor.NewRevenueMonitor(ledger, log)
	healthMon := monitor.NewHealthMonitor(sink, log)
	healthMon.AddDependency("postgres", pg)
	healthMon.AddDependency("redis", rdb)

	mgr := monitor.NewManager(obs, log)
	mgr.Register(statusMon, cfg.Monitoring.StatusIntervalDuration())
	mgr.Register(revenueMon, cfg.Monitoring.RevenueIntervalDuration())
	mgr.Register(healthMon, cfg.Monitoring.HealthIntervalDuration())
	mgr.Start(ctx)

	svc := service.New(st, rec, mgr, ledger, clock, cfg.Monitoring, log)

	forwarder, err := alerts.NewForwarder(pg, cfg.Alerts, log)
	if err != nil {
		zapLog.Fatal("alert forwarder init failed", zap.Error(err))
	}
	if err := forwarder.Start(ctx); err != nil {
		zapLog.Fatal("alert forwarder start failed", zap.Error(err))
	}

	zapLog.Info("All monitors registered successfully")

	// --- Operator API, Health & Metrics Server ---
	go func() {
		mux := http.NewServeMux()
		svc.RegisterRoutes(mux)
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if !healthMon.Healthy(r.Context()) {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "not ready",
					"time":   time.Now().Format(time.RFC3339),
				})
				return
			}
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		mux.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Operator API listening", zap.String("addr", cfg.App.ListenAddr))
		if err := http.ListenAndServe(cfg.App.ListenAddr, mux); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping monitors...")

	forwarder.Stop()
	mgr.Stop()
	cancel()

	zapLog.Info("Lifecycle manager stopped gracefully")
}
