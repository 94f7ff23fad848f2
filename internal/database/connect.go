package database

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/iliyamo/leafguard/internal/logging"
)

// ErrUnavailable is the terminal state of Connect: every attempt failed.
var ErrUnavailable = errors.New("store unavailable")

// State of the store connection as seen by startup and the health check.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return "connecting"
	}
}

// Status is a concurrency-safe holder for the current State.
type Status struct{ v atomic.Int32 }

func (s *Status) Set(st State) { s.v.Store(int32(st)) }
func (s *Status) Get() State   { return State(s.v.Load()) }

var (
	connectBaseDelay = 500 * time.Millisecond
	connectMaxDelay  = 5 * time.Second
)

// Connect calls dial until it succeeds or attempts are used up, waiting with
// capped exponential backoff between tries.  status moves to StateReady or,
// on give-up, to StateUnavailable and the returned error wraps ErrUnavailable.
func Connect(ctx context.Context, name string, attempts int, status *Status, dial func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	status.Set(StateConnecting)

	b := retry.NewExponential(connectBaseDelay)
	b = retry.WithCappedDuration(connectMaxDelay, b)
	b = retry.WithMaxRetries(uint64(attempts-1), b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := dial(ctx); err != nil {
			logging.Warn().Err(err).Str("store", name).Int("attempt", attempt).Int("max_attempts", attempts).
				Msg("store connection failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		status.Set(StateUnavailable)
		return fmt.Errorf("%w: %s after %d attempts: %v", ErrUnavailable, name, attempt, err)
	}
	status.Set(StateReady)
	logging.Info().Str("store", name).Int("attempt", attempt).Msg("store connected")
	return nil
}
