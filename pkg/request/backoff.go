package request

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProviderBackoff spaces out requests to a provider after failures. Each
// failure doubles the pause up to maxDelay; each success steps the
// failure count back by one.
type ProviderBackoff struct {
	mu        sync.Mutex
	providers map[string]*backoffState
	baseDelay time.Duration
	maxDelay  time.Duration
	now       func() time.Time
}

type backoffState struct {
	failures int
	until    time.Time
}

// NewProviderBackoff creates a new backoff manager.
func NewProviderBackoff(baseDelay, maxDelay time.Duration) *ProviderBackoff {
	return &ProviderBackoff{
		providers: make(map[string]*backoffState),
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		now:       time.Now,
	}
}

// Wait blocks until the provider's pause is over or ctx ends.
func (b *ProviderBackoff) Wait(ctx context.Context, provider string) error {
	_, until := b.State(provider)
	wait := until.Sub(b.now())
	if wait <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordFailure lengthens the provider's pause. A positive hint (from a
// Retry-After header) is honored when it exceeds the computed delay, but
// never beyond maxDelay.
func (b *ProviderBackoff) RecordFailure(provider string, hint time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.state(provider)
	st.failures++
	delay := max(b.delay(st.failures), min(hint, b.maxDelay))
	st.until = b.now().Add(delay)
}

// RecordSuccess steps the failure count down and clears the pause at zero.
func (b *ProviderBackoff) RecordSuccess(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.providers[provider]
	if !ok {
		return
	}
	if st.failures > 0 {
		st.failures--
	}
	if st.failures == 0 {
		delete(b.providers, provider)
	}
}

// State returns the failure count and end of pause of a provider.
func (b *ProviderBackoff) State(provider string) (failures int, until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.providers[provider]; ok {
		return st.failures, st.until
	}
	return 0, time.Time{}
}

func (b *ProviderBackoff) state(provider string) *backoffState {
	st, ok := b.providers[provider]
	if !ok {
		st = &backoffState{}
		b.providers[provider] = st
	}
	return st
}

// delay is baseDelay * 2^(failures-1), capped, plus up to 10% jitter.
func (b *ProviderBackoff) delay(failures int) time.Duration {
	d := b.baseDelay
	for i := 1; i < failures && d < b.maxDelay; i++ {
		d *= 2
	}
	d = min(d, b.maxDelay)
	return d + time.Duration(rand.Float64()*0.1*float64(d))
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0)
	}
	return 0
}
