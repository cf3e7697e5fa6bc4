// Archive backend server
//
// Features:
// - Pinata-backed pinning (upload/list/unpin) with metadata keyvalues
// - Multi-gateway content resolution with sequential fallback
// - Incremental deduplicated catalog with filtered views
// - Per-device likes and download counters (PostgreSQL)
// - SSE change events, Prometheus metrics, structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Damil001/pinata-image-api-sub000/internal/api"
	"github.com/Damil001/pinata-image-api-sub000/internal/catalog"
	"github.com/Damil001/pinata-image-api-sub000/internal/config"
	"github.com/Damil001/pinata-image-api-sub000/internal/engagement"
	"github.com/Damil001/pinata-image-api-sub000/internal/events"
	"github.com/Damil001/pinata-image-api-sub000/internal/gateway"
	"github.com/Damil001/pinata-image-api-sub000/internal/logging"
	"github.com/Damil001/pinata-image-api-sub000/internal/metrics"
	"github.com/Damil001/pinata-image-api-sub000/internal/pinning"
	"github.com/Damil001/pinata-image-api-sub000/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("archive backend starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL engagement store
	logging.Info("connecting to PostgreSQL...")
	store, err := engagement.New(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	migrationsDir := findMigrationsDir()
	if migrationsDir != "" {
		logging.Info("running migrations...", zap.String("dir", migrationsDir))
		if err := store.Migrate(migrationsDir); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
	}

	// Pinning client
	pins := pinning.New(pinning.Config{
		BaseURL:   cfg.PinataBaseURL,
		JWT:       cfg.PinataJWT,
		APIKey:    cfg.PinataAPIKey,
		APISecret: cfg.PinataAPISecret,
	})

	// Gateway resolver over the configured priority list
	resolver := gateway.New(cfg.GatewayList(), cfg.ProbeTimeout)
	logging.Info("gateway resolver initialized",
		zap.Strings("gateways", resolver.Gateways()))

	// Catalog between the API and the pinning service
	cat := catalog.New(catalog.NewPinSource(pins), store, cfg.DefaultPageSize, 200*time.Millisecond)
	cat.Reset("")

	// Warm the catalog; a cold pinning service is not fatal at startup.
	warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := cat.FetchPage(warmCtx, 1, catalog.ModeReplace); err != nil {
		logging.Warn("catalog warm-up failed", zap.Error(err))
	}
	warmCancel()

	broadcaster := events.NewBroadcaster()
	logging.Info("SSE broadcaster initialized")

	rateLimiter := ratelimit.New(cfg.RateLimitRPM)

	server := api.NewServer(cfg, cat, pins, resolver, store, broadcaster, rateLimiter)

	// Metrics on its own listener
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			httpServer.Close()
		}
		metricsServer.Close()
	}()

	// Periodic DB pool metrics
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.UpdateConnectionMetrics()
			}
		}
	}()

	// Periodic rate limiter bucket and settled loader cleanup
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rateLimiter.Cleanup(24 * time.Hour)
				if n := server.PruneLoaders(); n > 0 {
					logging.Debug("pruned settled loaders", zap.Int("count", n))
				}
			}
		}
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
