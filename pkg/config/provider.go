package config

import (
	"context"
	"strconv"
	"time"

	"walktour/pkg/store"
)

// Provider defines the interface for accessing unified configuration.
type Provider interface {
	// Pipeline
	MaxConcurrency(ctx context.Context) int
	MaxRetries(ctx context.Context) int
	RetryBaseDelay(ctx context.Context) time.Duration
	CancelPoll(ctx context.Context) time.Duration
	AudioByteLimit(ctx context.Context) int

	// Cache
	SuggestRadius(ctx context.Context) float64

	// TTS
	DefaultVoice(ctx context.Context) string

	// Raw access (for components that need deep access)
	AppConfig() *Config
}

// UnifiedProvider implements Provider by bridging static Config and persistent Store.
type UnifiedProvider struct {
	base  *Config
	store store.StateStore
}

// NewProvider creates a new UnifiedProvider.
func NewProvider(base *Config, st store.StateStore) *UnifiedProvider {
	return &UnifiedProvider{
		base:  base,
		store: st,
	}
}

func (p *UnifiedProvider) AppConfig() *Config { return p.base }

func (p *UnifiedProvider) MaxConcurrency(ctx context.Context) int {
	v := p.getInt(ctx, KeyMaxConcurrency, p.base.Pipeline.MaxConcurrency)
	if v < 1 {
		return 1
	}
	return v
}

func (p *UnifiedProvider) MaxRetries(ctx context.Context) int {
	v := p.getInt(ctx, KeyMaxRetries, p.base.Pipeline.MaxRetries)
	if v < 1 {
		return 1
	}
	return v
}

func (p *UnifiedProvider) RetryBaseDelay(ctx context.Context) time.Duration {
	return p.getDuration(ctx, KeyRetryBaseDelay, p.base.Pipeline.RetryBaseDelay.Std())
}

func (p *UnifiedProvider) CancelPoll(ctx context.Context) time.Duration {
	return p.getDuration(ctx, KeyCancelPoll, p.base.Pipeline.CancelPoll.Std())
}

func (p *UnifiedProvider) AudioByteLimit(ctx context.Context) int {
	return p.getInt(ctx, KeyAudioByteLimit, p.base.Pipeline.AudioByteLimit)
}

func (p *UnifiedProvider) SuggestRadius(ctx context.Context) float64 {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, KeySuggestRadius); ok && val != "" {
			if m, err := ParseDistance(val); err == nil {
				return m
			}
		}
	}
	return p.base.Cache.SuggestRadius.Meters()
}

func (p *UnifiedProvider) DefaultVoice(ctx context.Context) string {
	return p.getString(ctx, KeyDefaultVoice, p.base.TTS.EdgeTTS.VoiceID)
}

// --- Helpers ---

func (p *UnifiedProvider) getString(ctx context.Context, key, fallback string) string {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			return val
		}
	}
	return fallback
}

func (p *UnifiedProvider) getInt(ctx context.Context, key string, fallback int) int {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if i, err := strconv.Atoi(val); err == nil {
				return i
			}
		}
	}
	return fallback
}

func (p *UnifiedProvider) getDuration(ctx context.Context, key string, fallback time.Duration) time.Duration {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if dur, err := ParseDuration(val); err == nil {
				return dur
			}
		}
	}
	return fallback
}
