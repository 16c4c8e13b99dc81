// Package retry implements the Retry Engine (C6): exponential backoff with
// jitter around a classified operation, fronted by a circuit breaker so a
// persistently failing sink stops being hammered with doomed attempts.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	engerrors "github.com/OluOlus/guardduty-sentinel-integration-sub001/pkg/errors"
)

// Classification is the verdict a classifier returns for a failed operation.
type Classification int

const (
	ClassifyRetry Classification = iota
	ClassifyFatal
)

// Classifier inspects an error from a failed attempt and decides whether
// another attempt is worthwhile.
type Classifier func(err error) Classification

// DefaultClassifier implements the default retry/fatal classification: the
// engine's own error Kind taxonomy already encodes retryability, so this
// just delegates to it.
func DefaultClassifier(err error) Classification {
	if engerrors.IsRetryable(err) {
		return ClassifyRetry
	}
	return ClassifyFatal
}

// Config controls backoff shape and breaker sensitivity.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// BreakerName scopes the breaker's logs and metrics, e.g. "dcr-sink".
	BreakerName string
	// BreakerMaxFailures opens the circuit after this many consecutive
	// failures; zero disables the breaker.
	BreakerMaxFailures uint32
	// BreakerTimeout is how long the breaker stays open before probing
	// again with a single half-open request.
	BreakerTimeout time.Duration
}

// Engine executes operations under the configured retry/backoff policy and
// an optional circuit breaker.
type Engine struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// New builds an Engine. A zero BreakerMaxFailures disables the breaker.
func New(cfg Config, logger *logrus.Logger) *Engine {
	e := &Engine{cfg: cfg, logger: logger}
	if cfg.BreakerMaxFailures > 0 {
		e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    cfg.BreakerName,
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if logger != nil {
					logger.WithFields(logrus.Fields{
						"breaker": name, "from": from.String(), "to": to.String(),
					}).Warn("circuit breaker state change")
				}
			},
		})
	}
	return e
}

// ErrCircuitOpen wraps gobreaker's open-circuit error so callers can treat
// it uniformly with other fatal classifications without importing gobreaker.
var ErrCircuitOpen = errors.New("retry: circuit breaker open")

// ExecuteWithRetry runs operation, retrying on ClassifyRetry verdicts with
// exponential backoff and full jitter, up to MaxRetries retries after the
// initial attempt (MaxRetries+1 attempts in all). It returns
// the last error if every attempt is exhausted or a fatal verdict is hit.
// A 401 classified as retryable by the caller's wrapped operation (which
// should perform the token refresh itself before returning) counts as one
// attempt like any other retryable failure.
func (e *Engine) ExecuteWithRetry(ctx context.Context, operation func(ctx context.Context) error, classify Classifier) error {
	if classify == nil {
		classify = DefaultClassifier
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.runOnce(ctx, operation)
		if err == nil {
			return nil
		}
		lastErr = err

		if classify(err) == ClassifyFatal {
			return err
		}
		if attempt == e.cfg.MaxRetries {
			break
		}

		delay := e.backoff(attempt, err)
		if e.logger != nil {
			e.logger.WithFields(logrus.Fields{
				"attempt": attempt + 1, "delay": delay, "error": err,
			}).Warn("retrying after backoff")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// runOnce executes operation through the breaker when one is configured.
func (e *Engine) runOnce(ctx context.Context, operation func(ctx context.Context) error) error {
	if e.breaker == nil {
		return operation(ctx)
	}
	_, err := e.breaker.Execute(func() (interface{}, error) {
		return nil, operation(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// backoff computes delay = min(maxBackoff, initialBackoff * multiplier^attempt) * (0.5 + rand[0,1)),
// then raises it to honor a server-supplied Retry-After on err, if any: a
// 429's Retry-After is a lower bound on the next attempt, not merely a
// suggestion the exponential formula is free to undercut.
func (e *Engine) backoff(attempt int, err error) time.Duration {
	mult := e.cfg.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	base := float64(e.cfg.InitialBackoff)
	for i := 0; i < attempt; i++ {
		base *= mult
	}
	if max := float64(e.cfg.MaxBackoff); max > 0 && base > max {
		base = max
	}
	jitter := 0.5 + rand.Float64()
	delay := time.Duration(base * jitter)

	if engErr, ok := engerrors.As(err); ok && engErr.RetryAfter > 0 {
		if retryAfter := time.Duration(engErr.RetryAfter) * time.Second; retryAfter > delay {
			delay = retryAfter
		}
	}
	return delay
}
