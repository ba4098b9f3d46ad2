package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"canon/internal/platform/config"
	"canon/internal/platform/httpserver"
	"canon/internal/platform/logger"
	httptransport "canon/internal/transport/http"
)

// main wires dependencies, serves the HTTP API and shuts down on signal.
func main() {
	lensOverride := flag.String("lens", "", "lens id; overrides CANON_LENS and the default lens")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogJSON)
	slog.SetDefault(log)

	if err := run(cfg, *lensOverride, log); err != nil {
		log.Error("canon stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, lensOverride string, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := wire(ctx, cfg, lensOverride, log)
	if err != nil {
		return err
	}
	defer app.Close()

	handler := httptransport.NewHandler(app.runner, app.entities,
		httptransport.WithLogger(log),
		httptransport.WithMetrics(app.metrics),
		httptransport.WithRunTimeout(cfg.Server.RunTimeout),
		httptransport.WithAdminToken(cfg.Server.AdminToken),
	)
	srv := httpserver.New(cfg.Server, httptransport.NewRouter(handler))

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting canon", append(app.runner.Lens().LogAttrs(), "addr", cfg.Server.Addr)...)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("canon stopped")
	return nil
}
