// Command tokenmeter-tools exposes the token-counting tool catalog.
// By default it speaks the newline-delimited JSON protocol on
// stdin/stdout; with TOOLS_ADDR set it serves the same catalog over
// HTTP instead.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felipepmaragno/tokenmeter/internal/cost"
	"github.com/felipepmaragno/tokenmeter/internal/ledger"
	"github.com/felipepmaragno/tokenmeter/internal/pricing"
	"github.com/felipepmaragno/tokenmeter/internal/tokenizer"
	"github.com/felipepmaragno/tokenmeter/internal/tools"
)

func main() {
	// stdout carries protocol responses in stdio mode; logs go to
	// stderr unconditionally.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	counter := tokenizer.NewCounter()
	defer counter.Close()

	dispatcher := tools.NewDispatcher(
		counter,
		ledger.NewTracker(""),
		cost.NewEngine(pricing.NewTable()),
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if addr := os.Getenv("TOOLS_ADDR"); addr != "" {
		serveHTTP(ctx, addr, dispatcher, logger)
		return
	}

	logger.Info("serving tool catalog on stdio")
	if err := tools.NewStdioServer(dispatcher).Serve(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Error("stdio server failed", "error", err)
		os.Exit(1)
	}
}

func serveHTTP(ctx context.Context, addr string, dispatcher *tools.Dispatcher, logger *slog.Logger) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      tools.NewHTTPHandler(dispatcher),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("tool catalog listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
}
