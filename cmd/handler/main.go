// Package main is the event-driven entry point: push. It exposes an HTTP
// endpoint that accepts an S3-style event-notification payload, translates
// each record into an ObjectRef, and enqueues it onto a continuously running
// Controller -- the shape an S3 event notification forwarded through
// EventBridge/SNS, or a webhook relay, can drive directly.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/app"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/config"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/health"
)

// s3EventNotification is the subset of the AWS S3 event-notification shape
// this handler understands: one or more records naming a bucket and key.
type s3EventNotification struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
				ETag string `json:"eTag"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

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
	g.Go(func() error { return serveHTTP(gctx, a) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		a.Logger.WithError(err).Fatal("handler exited with error")
	}
	a.Logger.Info("handler stopped")
}

func serveHTTP(ctx context.Context, a *app.App) error {
	var router *gin.Engine
	if a.Config.Health.Enabled {
		router = health.Handler(a.Health)
	} else {
		gin.SetMode(gin.ReleaseMode)
		router = gin.New()
		router.Use(gin.Recovery())
	}
	router.POST("/events", eventHandler(a))

	srv := &http.Server{Addr: ":" + port(a), Handler: router}
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

func port(a *app.App) string {
	if a.Config.Health.Port == 0 {
		return "8080"
	}
	return strconv.Itoa(a.Config.Health.Port)
}

// eventHandler parses the event body and enqueues one ObjectRef per record.
// A busy controller (Enqueue returning false) surfaces as 503 so the
// upstream event source's own retry policy applies backpressure.
func eventHandler(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var evt s3EventNotification
		if err := c.ShouldBindJSON(&evt); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		accepted := 0
		busy := false
		for _, rec := range evt.Records {
			ref := engine.ObjectRef{
				Bucket:   rec.S3.Bucket.Name,
				Key:      rec.S3.Object.Key,
				Size:     rec.S3.Object.Size,
				ETag:     rec.S3.Object.ETag,
				KMSKeyID: a.Config.Source.KMSKeyID,
			}
			if a.Controller.Enqueue(ref) {
				accepted++
			} else {
				busy = true
			}
		}

		if busy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"accepted": accepted, "total": len(evt.Records)})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
	}
}
