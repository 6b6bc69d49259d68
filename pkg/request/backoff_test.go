package request

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func fixedBackoff(base, maxDelay time.Duration) (*ProviderBackoff, time.Time) {
	b := NewProviderBackoff(base, maxDelay)
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }
	return b, now
}

func TestProviderBackoff_ExponentialDelay(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		hint     time.Duration
		wantMin  time.Duration
		wantMax  time.Duration
	}{
		{"First failure", 1, 0, 1 * time.Second, 1100 * time.Millisecond},
		{"Second failure", 2, 0, 2 * time.Second, 2200 * time.Millisecond},
		{"Third failure", 3, 0, 4 * time.Second, 4400 * time.Millisecond},
		{"Max cap hit", 10, 0, 60 * time.Second, 66 * time.Second},
		{"Retry-After wins", 1, 30 * time.Second, 30 * time.Second, 30 * time.Second},
		{"Retry-After capped", 1, time.Hour, 60 * time.Second, 60 * time.Second},
		{"Short hint ignored", 3, time.Second, 4 * time.Second, 4400 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, now := fixedBackoff(time.Second, 60*time.Second)
			for range tt.failures {
				b.RecordFailure("test-provider", tt.hint)
			}

			fc, until := b.State("test-provider")
			if fc != tt.failures {
				t.Errorf("failures = %d, want %d", fc, tt.failures)
			}
			if d := until.Sub(now); d < tt.wantMin || d > tt.wantMax {
				t.Errorf("delay = %v, want between %v and %v", d, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestProviderBackoff_GradualRecovery(t *testing.T) {
	b, _ := fixedBackoff(time.Second, 60*time.Second)
	for range 3 {
		b.RecordFailure("provider", 0)
	}

	b.RecordSuccess("provider")
	if fc, _ := b.State("provider"); fc != 2 {
		t.Errorf("after 1 success, failures = %d, want 2", fc)
	}

	b.RecordSuccess("provider")
	b.RecordSuccess("provider")
	fc, until := b.State("provider")
	if fc != 0 || !until.IsZero() {
		t.Errorf("after full recovery, state = %d/%v, want cleared", fc, until)
	}
	// Extra successes are harmless
	b.RecordSuccess("provider")
}

func TestProviderBackoff_IsolatedProviders(t *testing.T) {
	b, _ := fixedBackoff(time.Second, 60*time.Second)
	b.RecordFailure("gemini", 0)
	b.RecordFailure("gemini", 0)

	if fc, _ := b.State("gemini"); fc != 2 {
		t.Errorf("gemini failures = %d, want 2", fc)
	}
	if fc, _ := b.State("nominatim"); fc != 0 {
		t.Errorf("nominatim failures = %d, want 0 (isolated)", fc)
	}
}

func TestProviderBackoff_WaitHonorsContext(t *testing.T) {
	b := NewProviderBackoff(10*time.Second, 60*time.Second)
	b.RecordFailure("slow", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := b.Wait(ctx, "slow"); err == nil {
		t.Error("expected context error while backing off")
	}
	if time.Since(start) > time.Second {
		t.Error("Wait did not return on context expiry")
	}
	if err := b.Wait(context.Background(), "fresh"); err != nil {
		t.Errorf("unexpected wait error for fresh provider: %v", err)
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"120", 2 * time.Minute},
		{"-5", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		h := http.Header{}
		if tt.value != "" {
			h.Set("Retry-After", tt.value)
		}
		if got := retryAfter(h, now); got != tt.want {
			t.Errorf("retryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
