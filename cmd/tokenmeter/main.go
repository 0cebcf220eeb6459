package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felipepmaragno/tokenmeter/internal/archive"
	"github.com/felipepmaragno/tokenmeter/internal/config"
	"github.com/felipepmaragno/tokenmeter/internal/cost"
	"github.com/felipepmaragno/tokenmeter/internal/dashboard"
	"github.com/felipepmaragno/tokenmeter/internal/httputil"
	"github.com/felipepmaragno/tokenmeter/internal/ledger"
	"github.com/felipepmaragno/tokenmeter/internal/pricing"
	"github.com/felipepmaragno/tokenmeter/internal/proxy"
	"github.com/felipepmaragno/tokenmeter/internal/telemetry"
	"github.com/felipepmaragno/tokenmeter/internal/tokenizer"
	"github.com/felipepmaragno/tokenmeter/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting tokenmeter",
		"proxy_addr", cfg.ProxyAddr, "dashboard_addr", cfg.DashboardAddr, "version", "1.0.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "tokenmeter", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	var store ledger.Store
	if cfg.RedisURL != "" {
		redisStore, err := ledger.NewRedisStore(cfg.RedisURL, "tokenmeter:ledger")
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		store = redisStore
		slog.Info("using redis ledger store", "url", cfg.RedisURL)
	} else {
		store = ledger.NewFileStore(cfg.LedgerPath)
		slog.Info("using file ledger store", "path", cfg.LedgerPath)
	}
	usageLedger := ledger.NewLedger(store)

	var recorder proxy.Recorder
	if cfg.DatabaseURL != "" {
		pg, err := archive.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		recorder = pg

		startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
		if archived, err := pg.TotalCostSince(ctx, startOfDay); err == nil {
			slog.Info("postgres archive enabled", "archived_cost_today_usd", archived)
		} else {
			slog.Warn("postgres archive enabled, cost query failed", "error", err)
		}
	}

	costEngine := cost.NewEngine(pricing.NewTable())

	counter := tokenizer.NewCounter()
	defer counter.Close()

	dispatcher := tools.NewDispatcher(counter, ledger.NewTracker(""), costEngine, slog.Default())

	clientCfg := httputil.DefaultConfig()
	clientCfg.Timeout = cfg.UpstreamTimeout

	proxyServer := proxy.NewServer(proxy.Config{
		Ledger:  usageLedger,
		Costs:   costEngine,
		Archive: recorder,
		Client:  httputil.NewClient(clientCfg),
		Logger:  slog.Default(),
		Tools:   tools.NewHTTPHandler(dispatcher),
	})

	srv := &http.Server{
		Addr:        cfg.ProxyAddr,
		Handler:     proxyServer,
		ReadTimeout: 30 * time.Second,
		// No write timeout: streaming relays stay open as long as the
		// upstream keeps sending.
		IdleTimeout: 120 * time.Second,
	}

	dashboardSrv := &http.Server{
		Addr:         cfg.DashboardAddr,
		Handler:      dashboard.New("http://localhost" + cfg.ProxyAddr + "/stats"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("proxy listening", "addr", cfg.ProxyAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("proxy server error", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		slog.Info("dashboard listening", "addr", cfg.DashboardAddr)
		if err := dashboardSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("dashboard server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("proxy forced to shutdown", "error", err)
	}
	if err := dashboardSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("dashboard forced to shutdown", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("telemetry shutdown failed", "error", err)
	}

	slog.Info("stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
