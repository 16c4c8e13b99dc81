// Package main is the scheduled-function entry point: pull-by-timer. A
// single invocation lists the source bucket once, enqueues everything it
// finds, drains the pipeline, and exits -- the shape a timer-triggered
// Azure Function or a cron-scheduled Lambda invocation needs, as opposed to
// the long-running cmd/service poller or the push-driven cmd/handler.
package main

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/app"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/config"
)

// invocationBudget bounds how long one scheduled invocation may run before
// it must hand control back to the host platform's scheduler, distinct from
// the controller's own (shorter) shutdown deadline.
const invocationBudget = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		log.Fatalf("function invocation failed: %v", err)
	}
}

func run() error {
	ctx, cancel := context.WithTimeout(context.Background(), invocationBudget)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	enqueued, err := a.Controller.ListAndEnqueue(ctx, cfg.Source.Bucket, cfg.Source.Prefix, 0)
	if err != nil {
		return err
	}
	a.Logger.WithField("enqueued", enqueued).Info("function: listed and enqueued objects")

	if enqueued == 0 {
		a.Logger.Info("function: nothing to process, exiting")
		return nil
	}

	// Run drives workers against whatever was enqueued above. Since this
	// invocation supplies no further input, cancel once the queue is
	// plausibly empty rather than riding out the full invocation budget.
	runCtx, runCancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return a.Controller.Run(gctx) })
	g.Go(func() error {
		defer runCancel()
		return waitForDrain(gctx, a)
	})

	return g.Wait()
}

// waitForDrain polls until the controller has no further work queued, as a
// one-shot invocation has no new producer feeding it mid-run.
func waitForDrain(ctx context.Context, a *app.App) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	idleTicks := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if a.Controller.Idle() {
				idleTicks++
			} else {
				idleTicks = 0
			}
			// Two consecutive idle samples guards against the gap between
			// an object worker picking up a ref and the batch it produces
			// reaching the ingest pool.
			if idleTicks >= 2 {
				return nil
			}
		}
	}
}
