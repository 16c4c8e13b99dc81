// Package main is the long-running service entry point: it continuously
// polls the source bucket (pull-by-listing) on an interval and drives the
// wired Controller until terminated.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/app"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/config"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/health"
)

// pollInterval is how often the service lists the source bucket for new
// objects. It is not yet part of the configuration surface in §6, so it is
// fixed here rather than invented as a new config knob.
const pollInterval = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("build app: %v", err)
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.Controller.Run(gctx) })
	g.Go(func() error { return pollLoop(gctx, a) })

	if cfg.Health.Enabled {
		g.Go(func() error { return serveHealth(gctx, a) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		a.Logger.WithError(err).Error("service exited with error")
		os.Exit(1)
	}
	a.Logger.Info("service stopped")
}

// pollLoop lists the source bucket on pollInterval and enqueues the results.
// A busy controller (Enqueue returning false) is logged but not treated as
// an error: the next tick will try again.
func pollLoop(ctx context.Context, a *app.App) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			enqueued, err := a.Controller.ListAndEnqueue(ctx, a.Config.Source.Bucket, a.Config.Source.Prefix, 0)
			if err != nil {
				a.Logger.WithError(err).Warn("poll: list source bucket failed")
				continue
			}
			if enqueued > 0 {
				a.Logger.WithField("enqueued", enqueued).Info("poll: enqueued objects")
			}
		}
	}
}

// serveHealth runs the /health and /metrics HTTP surface until ctx is
// cancelled, then shuts it down gracefully.
func serveHealth(ctx context.Context, a *app.App) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Health.Port),
		Handler: health.Handler(a.Health),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
