package tts

import (
	"context"
	"errors"

	"walktour/pkg/retry"
)

// Backend is a named speech provider.
type Backend struct {
	Name     string
	Provider Provider
}

// Synthesis is rendered audio plus the backend that produced it.
type Synthesis struct {
	Audio    []byte
	Backend  string
	Attempts int
}

// Failover runs a primary and an optional fallback speech backend under the
// retry invoker.
type Failover struct {
	primary  Backend
	fallback *Backend
	cfg      retry.Config
}

// NewFailover creates a failover provider. fallback may be nil.
func NewFailover(primary Backend, fallback *Backend, cfg retry.Config) (*Failover, error) {
	if primary.Provider == nil {
		return nil, errors.New("tts: primary provider required")
	}
	if fallback != nil && fallback.Provider == nil {
		fallback = nil
	}
	return &Failover{primary: primary, fallback: fallback, cfg: cfg}, nil
}

// Render synthesizes text, reporting which backend served it.
func (f *Failover) Render(ctx context.Context, text, voice, language string) (Synthesis, error) {
	call := func(b Backend) retry.Backend[[]byte] {
		return retry.Backend[[]byte]{
			Name: b.Name,
			Call: func(ctx context.Context) ([]byte, error) {
				return b.Provider.Synthesize(ctx, text, voice, language)
			},
		}
	}
	var fb *retry.Backend[[]byte]
	if f.fallback != nil {
		b := call(*f.fallback)
		fb = &b
	}

	res, err := retry.Do(ctx, f.cfg, call(f.primary), fb)
	if err != nil {
		return Synthesis{Attempts: res.Attempts}, err
	}
	return Synthesis{Audio: res.Value, Backend: res.Backend, Attempts: res.Attempts}, nil
}

// Synthesize implements Provider.
func (f *Failover) Synthesize(ctx context.Context, text, voice, language string) ([]byte, error) {
	res, err := f.Render(ctx, text, voice, language)
	return res.Audio, err
}

// Voices lists the primary's voices.
func (f *Failover) Voices(ctx context.Context) ([]Voice, error) {
	return f.primary.Provider.Voices(ctx)
}
