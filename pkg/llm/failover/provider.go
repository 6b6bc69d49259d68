package failover

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"walktour/pkg/llm"
	"walktour/pkg/retry"
)

// Backend is a named text provider.
type Backend struct {
	Name     string
	Provider llm.Provider
}

// Provider pairs a primary and an optional fallback LLM under the retry
// invoker: the first API error moves the call to the fallback, other
// failures are retried with backoff.
type Provider struct {
	primary  Backend
	fallback *Backend
	cfg      retry.Config
}

// New creates a failover provider. fallback may be nil.
func New(primary Backend, fallback *Backend, cfg retry.Config) (*Provider, error) {
	if primary.Provider == nil {
		return nil, errors.New("failover: primary provider required")
	}
	if fallback != nil && fallback.Provider == nil {
		fallback = nil
	}
	return &Provider{primary: primary, fallback: fallback, cfg: cfg}, nil
}

// Generate produces text for profile and reports the model that wrote it.
func (f *Provider) Generate(ctx context.Context, profile, prompt string) (llm.Result, error) {
	call := func(b Backend) retry.Backend[string] {
		return retry.Backend[string]{
			Name: b.Name,
			Call: func(ctx context.Context) (string, error) {
				return b.Provider.GenerateText(ctx, profile, prompt)
			},
		}
	}

	res, err := retry.Do(ctx, f.cfg, call(f.primary), f.fallbackOf(call))
	if err != nil {
		return llm.Result{Attempts: res.Attempts}, err
	}
	return llm.Result{
		Text:     res.Value,
		Model:    f.modelFor(res.Backend, profile),
		Attempts: res.Attempts,
	}, nil
}

// GenerateText implements llm.Provider.
func (f *Provider) GenerateText(ctx context.Context, profile, prompt string) (string, error) {
	res, err := f.Generate(ctx, profile, prompt)
	return res.Text, err
}

// GenerateJSON implements llm.Provider.
func (f *Provider) GenerateJSON(ctx context.Context, profile, prompt string, target any) error {
	call := func(b Backend) retry.Backend[struct{}] {
		return retry.Backend[struct{}]{
			Name: b.Name,
			Call: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, b.Provider.GenerateJSON(ctx, profile, prompt, target)
			},
		}
	}
	var fb *retry.Backend[struct{}]
	if f.fallback != nil {
		b := call(*f.fallback)
		fb = &b
	}
	_, err := retry.Do(ctx, f.cfg, call(f.primary), fb)
	return err
}

// ModelName implements llm.Provider. It names the primary's model.
func (f *Provider) ModelName(profile string) string {
	return f.primary.Provider.ModelName(profile)
}

// HealthCheck succeeds if at least one backend is healthy.
func (f *Provider) HealthCheck(ctx context.Context) error {
	var errs []string
	for _, b := range f.backends() {
		if err := b.Provider.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", b.Name, err))
			continue
		}
		return nil
	}
	return fmt.Errorf("all LLM providers failed health check: %s", strings.Join(errs, "; "))
}

func (f *Provider) fallbackOf(call func(Backend) retry.Backend[string]) *retry.Backend[string] {
	if f.fallback == nil {
		return nil
	}
	b := call(*f.fallback)
	return &b
}

func (f *Provider) backends() []Backend {
	if f.fallback == nil {
		return []Backend{f.primary}
	}
	return []Backend{f.primary, *f.fallback}
}

func (f *Provider) modelFor(backend, profile string) string {
	for _, b := range f.backends() {
		if b.Name == backend {
			return b.Provider.ModelName(profile)
		}
	}
	return backend
}
