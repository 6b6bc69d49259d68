package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"walktour/pkg/tracker"
)

// ErrExhausted is wrapped by the terminal error of a call that used up its attempts.
var ErrExhausted = errors.New("retries exhausted")

// Config bounds one invocation.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Sleep overrides the backoff wait (tests). It must return ctx.Err() on cancellation.
	Sleep   func(ctx context.Context, d time.Duration) error
	Tracker *tracker.Tracker
}

// Backend is one named way of producing a T.
type Backend[T any] struct {
	Name string
	Call func(ctx context.Context) (T, error)
}

// Result carries the value and the backend that produced it.
type Result[T any] struct {
	Value    T
	Backend  string
	Attempts int // Total calls made, including the free fallback switch
}

// Do invokes primary with bounded retries. On the first API-classified error,
// and only then, it switches to fallback without consuming an attempt. Every
// later failure consumes one and waits 2^(n-1)*BaseDelay before the next.
func Do[T any](ctx context.Context, cfg Config, primary Backend[T], fallback *Backend[T]) (Result[T], error) {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var (
		res      Result[T]
		current  = primary
		switched bool
		used     int
	)
	for {
		if ctx.Err() != nil {
			return res, context.Cause(ctx)
		}

		res.Attempts++
		v, err := current.Call(ctx)
		if err == nil {
			res.Value = v
			res.Backend = current.Name
			track(cfg.Tracker, func(t *tracker.Tracker) { t.TrackAPISuccess(current.Name) })
			return res, nil
		}
		track(cfg.Tracker, func(t *tracker.Tracker) { t.TrackAPIFailure(current.Name) })

		if ctx.Err() != nil {
			return res, context.Cause(ctx)
		}
		if IsCancellation(err) {
			return res, err
		}
		if isPermanent(err) {
			return res, fmt.Errorf("%s: %w", current.Name, err)
		}

		if !switched && fallback != nil && IsAPIError(err) {
			switched = true
			slog.Warn("Retry: switching to fallback backend", "from", current.Name, "to", fallback.Name, "error", err)
			track(cfg.Tracker, func(t *tracker.Tracker) { t.TrackFallback(current.Name) })
			current = *fallback
			continue
		}

		used++
		if used >= cfg.MaxRetries {
			return res, fmt.Errorf("%w after %d attempts (%s): %w", ErrExhausted, res.Attempts, current.Name, err)
		}

		delay := Backoff(used, cfg.BaseDelay)
		slog.Debug("Retry: backing off", "backend", current.Name, "attempt", used, "delay", delay, "error", err)
		track(cfg.Tracker, func(t *tracker.Tracker) { t.TrackRetry(current.Name) })
		if err := sleep(ctx, delay); err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return res, cause
			}
			return res, err
		}
	}
}

// Backoff returns 2^(attempt-1) * base for attempt >= 1.
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		return 0
	}
	return base << (attempt - 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func track(t *tracker.Tracker, fn func(*tracker.Tracker)) {
	if t != nil {
		fn(t)
	}
}
