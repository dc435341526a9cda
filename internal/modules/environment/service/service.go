package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"iot-environment-server/internal/modules/environment/repository"
	"iot-environment-server/internal/modules/environment/types"
)

// DefaultMaxBound caps how many readings one query may return.
const DefaultMaxBound = 100

var (
	// ErrMalformedInput is returned when a caller-supplied value cannot be parsed.
	ErrMalformedInput = errors.New("malformed input")
	// ErrStoreUnavailable marks a failed or short-circuited store call; callers may retry.
	ErrStoreUnavailable = errors.New("reading store unavailable")
)

// Service answers the latest/history/since queries on top of a ReadingStore.
// It holds no mutable state of its own apart from the circuit breaker, so every
// method is safe for concurrent use.
type Service struct {
	store    repository.ReadingStore
	maxBound int
	breaker  *gobreaker.CircuitBreaker
}

func NewService(store repository.ReadingStore, maxBound int) *Service {
	if maxBound <= 0 {
		maxBound = DefaultMaxBound
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reading-store",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &Service{store: store, maxBound: maxBound, breaker: breaker}
}

// Latest returns the most recent reading. ok is false when the store is empty.
func (s *Service) Latest(ctx context.Context) (reading types.Reading, ok bool, err error) {
	readings, err := s.mostRecent(ctx, 1)
	if err != nil {
		return types.Reading{}, false, err
	}
	if len(readings) == 0 {
		return types.Reading{}, false, nil
	}
	return readings[0], true, nil
}

// History returns up to limit readings, newest first, never more than maxBound.
func (s *Service) History(ctx context.Context, limit int) ([]types.Reading, error) {
	if limit <= 0 {
		return []types.Reading{}, nil
	}
	return s.mostRecent(ctx, min(limit, s.maxBound))
}

// Since returns every reading strictly after ts, oldest first.
func (s *Service) Since(ctx context.Context, ts time.Time) ([]types.Reading, error) {
	out, err := s.call(func() ([]types.Reading, error) {
		return s.store.After(ctx, ts)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) mostRecent(ctx context.Context, n int) ([]types.Reading, error) {
	return s.call(func() ([]types.Reading, error) {
		return s.store.MostRecent(ctx, n)
	})
}

// call runs a store read through the breaker and hands back a slice the caller owns.
func (s *Service) call(read func() ([]types.Reading, error)) ([]types.Reading, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return read()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	readings, _ := res.([]types.Reading)
	out := make([]types.Reading, len(readings))
	for i, r := range readings {
		out[i] = r.Clone()
	}
	return out, nil
}
