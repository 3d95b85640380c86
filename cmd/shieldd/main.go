// main.go - HTTP daemon for the shielded transaction ledger.
//
// Usage:
//   shieldd -config config.json [-env .env]
//
// The daemon serves the ledger API, /healthz and /metrics on the configured listen
// address and shuts down gracefully on SIGINT or SIGTERM.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shielded/internal/api"
	"shielded/internal/app"
	"shielded/internal/config"
)

// Version is reported by /healthz.
const Version = "1.0.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "shieldd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("shieldd", flag.ContinueOnError)
	configPath := fs.String("config", "config.json", "path to the JSON config file")
	envFile := fs.String("env", ".env", "optional .env file with SHIELDED_* overrides")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, app.Options{Console: true})
	if err != nil {
		return err
	}
	defer a.Close()

	d := newDaemon(a)
	return d.serve(ctx)
}

// daemon bundles the HTTP server with its metrics, health and rate limiting.
type daemon struct {
	app     *app.App
	metrics *MetricsCollector
	health  *HealthChecker
	limiter *ClientRateLimiter
	srv     *http.Server
}

func newDaemon(a *app.App) *daemon {
	cfg := a.Config
	d := &daemon{
		app:     a,
		metrics: NewMetricsCollector(),
		health:  NewHealthChecker(Version),
		limiter: NewClientRateLimiter(cfg.RateLimitTokens, cfg.RateLimitTokens, cfg.RefillInterval()),
	}
	d.metrics.TrackTree(a.Ledger.Snapshot)
	d.health.RegisterComponent("storage", a.Ledger.Ping)

	server := api.NewServer(api.Options{
		Ledger:   a.Ledger,
		RangeMin: cfg.RangeMin,
		RangeMax: cfg.RangeMax,
		Limiter:  d.limiter,
		Recorder: d.metrics,
		Health:   d.health.Handle,
		Metrics:  d.metrics.Handler(),
		Logger:   a.Logger.Component("api"),
	})
	d.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return d
}

// serve blocks until ctx is cancelled or the listener fails, then drains connections
// within the configured shutdown timeout.
func (d *daemon) serve(ctx context.Context) error {
	log := d.app.Logger
	cfg := d.app.Config

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("backend", cfg.StorageBackend).Str("hasher", cfg.Hasher).Msg("daemon listening")
		d.app.Logger.Audit("daemon_started", map[string]any{"addr": cfg.ListenAddr, "version": Version})
		if err := d.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			log.Error().Err(err).Msg("listener failed")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", cfg.ShutdownTimeout()).Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := d.srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
		return err
	}
	d.app.Logger.Audit("daemon_stopped", map[string]any{"transactions": d.app.Ledger.Snapshot().LeafCount})
	return nil
}
