package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmco/activitysearch/pkg/config"
	apperrors "github.com/lmco/activitysearch/pkg/errors"
	"github.com/lmco/activitysearch/pkg/metrics"
	"github.com/lmco/activitysearch/pkg/resilience"
)

// Guarded wraps a Searcher with a per-attempt timeout, retries of transient
// failures, and a circuit breaker. Invalid queries and cancelled callers are
// returned as they are; every other error wraps errors.ErrIndexUnavailable
// so callers can surface it as retryable.
type Guarded struct {
	next    Searcher
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewGuarded builds a Guarded searcher. m may be nil.
func NewGuarded(next Searcher, cfg config.SearchConfig, m *metrics.Metrics) *Guarded {
	cbCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
		IsFailure:        backendFault,
	}
	if m != nil {
		cbCfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	g := &Guarded{
		next:    next,
		breaker: resilience.NewCircuitBreaker("activity-index", cbCfg),
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			ShouldRetry: func(err error) bool {
				return !errors.Is(err, resilience.ErrCircuitOpen) && apperrors.IsRetryable(err)
			},
		},
		timeout: cfg.IndexTimeout,
		metrics: m,
		logger:  slog.Default().With("component", "index-guard"),
	}
	g.retry.OnRetry = func(int, error) { g.observe("retry") }
	return g
}

func (g *Guarded) Search(ctx context.Context, req Request) (Result, error) {
	if g.metrics != nil {
		g.metrics.IndexWindowSize.Observe(float64(req.Limit))
	}
	var res Result
	err := resilience.Retry(ctx, "index-search", g.retry, func() error {
		return g.breaker.Execute(func() error {
			var attempt Result
			err := resilience.WithTimeout(ctx, g.timeout, "index-search", func(ctx context.Context) error {
				var err error
				attempt, err = g.next.Search(ctx, req)
				return err
			})
			if err == nil {
				res = attempt
			}
			return err
		})
	})
	if err != nil && !backendFault(err) {
		g.observe("rejected")
		return Result{}, err
	}
	if err != nil {
		g.observe("error")
		g.logger.Warn("index query failed", "limit", req.Limit, "error", err)
		return Result{}, fmt.Errorf("%w: %w", apperrors.ErrIndexUnavailable, err)
	}
	g.observe("ok")
	return res, nil
}

// State exposes the breaker state for health checks.
func (g *Guarded) State() resilience.State {
	return g.breaker.GetState()
}

func (g *Guarded) Breaker() resilience.Snapshot {
	return g.breaker.Snapshot()
}

// backendFault reports whether err says something about the index itself
// rather than the request that reached it.
func backendFault(err error) bool {
	return !errors.Is(err, apperrors.ErrInvalidInput) && resilience.DefaultIsFailure(err)
}

func (g *Guarded) observe(status string) {
	if g.metrics != nil {
		g.metrics.IndexQueriesTotal.WithLabelValues(status).Inc()
	}
}
