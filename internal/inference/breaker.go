package inference

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/iliyamo/leafguard/internal/logging"
	"github.com/iliyamo/leafguard/internal/metrics"
)

// breaker wraps upstream calls with a circuit breaker and records metrics.
// A nil *metrics.Metrics disables recording.
type breaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker[[]byte]
	metrics *metrics.Metrics
}

// newBreaker opens after 5 consecutive failures and tries again after 30s.
// Calls abandoned by the caller are neither successes nor failures.
func newBreaker(name string, m *metrics.Metrics) *breaker {
	b := &breaker{name: name, metrics: m}
	if m != nil {
		m.BreakerState.WithLabelValues(name).Set(0) // 0 = closed
	}
	b.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state transition")
			if m != nil {
				m.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
				m.BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			}
		},
	})
	return b
}

func (b *breaker) execute(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := b.cb.Execute(fn)

	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "rejected"
	case errors.Is(err, context.Canceled):
		outcome = "canceled"
	default:
		outcome = "failure"
	}
	if b.metrics != nil {
		b.metrics.BreakerRequests.WithLabelValues(b.name, outcome).Inc()
	}
	b.metrics.ObserveUpstream(b.name, outcome, time.Since(start))
	return out, err
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
