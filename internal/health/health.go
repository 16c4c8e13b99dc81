// Package health implements the health interface described in §6: an
// aggregate status derived from component probes, served over HTTP so an
// external orchestrator (or the host platform's liveness/readiness checks)
// can observe it.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/docs"
)

// Status is the controller's aggregate health per §4.10.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Probe reports one component's status. Probes must not block; a source or
// sink reachability probe should use a short-timeout context internally.
type Probe func(ctx context.Context) (Status, string)

// ComponentCheck is one probe's most recent result.
type ComponentCheck struct {
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Reporter aggregates named probes into the overall status the external
// interface describes: overall status, per-component status with
// last-check timestamp, uptime, and version.
type Reporter struct {
	version   string
	startTime time.Time

	mu     sync.Mutex
	probes map[string]Probe
}

// New builds a Reporter. version is surfaced verbatim in responses.
func New(version string) *Reporter {
	return &Reporter{
		version:   version,
		startTime: time.Now(),
		probes:    make(map[string]Probe),
	}
}

// Register adds or replaces a named probe (e.g. "source", "sink",
// "batch_queue", "dedup_hit_rate").
func (r *Reporter) Register(name string, probe Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[name] = probe
}

// Report runs every registered probe and folds them into an overall status:
// unhealthy if any probe is unhealthy, else degraded if any is degraded,
// else healthy.
func (r *Reporter) Report(ctx context.Context) Response {
	r.mu.Lock()
	probes := make(map[string]Probe, len(r.probes))
	for name, p := range r.probes {
		probes[name] = p
	}
	r.mu.Unlock()

	checks := make(map[string]ComponentCheck, len(probes))
	overall := StatusHealthy
	now := time.Now()
	for name, probe := range probes {
		status, msg := probe(ctx)
		checks[name] = ComponentCheck{Status: status, Message: msg, LastChecked: now}
		switch status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall != StatusUnhealthy {
				overall = StatusDegraded
			}
		}
	}

	return Response{
		Status:    overall,
		Timestamp: now.UTC().Format(time.RFC3339),
		Version:   r.version,
		Uptime:    time.Since(r.startTime).String(),
		Checks:    checks,
	}
}

// Response is the JSON body served at /health.
type Response struct {
	Status    Status                     `json:"status"`
	Timestamp string                     `json:"timestamp"`
	Version   string                     `json:"version,omitempty"`
	Uptime    string                     `json:"uptime"`
	Checks    map[string]ComponentCheck `json:"checks,omitempty"`
}

// Handler returns a gin engine serving /health (aggregate status) and
// /metrics (Prometheus). It is a thin HTTP skin over Reporter; the engine
// itself has no dependency on gin or prometheus.
func Handler(reporter *Reporter) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		resp := reporter.Report(c.Request.Context())
		code := http.StatusOK
		if resp.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	return r
}
