package main

import (
	"context"
	"fmt"

	"walktour/pkg/config"
	"walktour/pkg/llm"
	"walktour/pkg/llm/failover"
	"walktour/pkg/llm/gemini"
	"walktour/pkg/llm/openai"
	"walktour/pkg/probe"
	"walktour/pkg/request"
	"walktour/pkg/tts"
	"walktour/pkg/tts/edgetts"
	"walktour/pkg/tts/polly"
)

// backendSet is the configured primary and fallback of each concern.
type backendSet struct {
	llmPrimary  failover.Backend
	llmFallback *failover.Backend
	ttsPrimary  tts.Backend
	ttsFallback *tts.Backend
}

func newBackends(cfg *config.Config, rc *request.Client) (backendSet, error) {
	var set backendSet

	p, err := newLLM(cfg, cfg.LLM.Primary, true, rc)
	if err != nil {
		return set, fmt.Errorf("failed to initialize LLM %s: %w", cfg.LLM.Primary, err)
	}
	set.llmPrimary = failover.Backend{Name: cfg.LLM.Primary, Provider: p}
	if cfg.LLM.Fallback != "" && cfg.LLM.Fallback != cfg.LLM.Primary {
		fb, err := newLLM(cfg, cfg.LLM.Fallback, false, rc)
		if err != nil {
			return set, fmt.Errorf("failed to initialize LLM %s: %w", cfg.LLM.Fallback, err)
		}
		set.llmFallback = &failover.Backend{Name: cfg.LLM.Fallback, Provider: fb}
	}

	set.ttsPrimary = tts.Backend{Name: cfg.TTS.Primary, Provider: newTTS(cfg, cfg.TTS.Primary)}
	if cfg.TTS.Fallback != "" && cfg.TTS.Fallback != cfg.TTS.Primary {
		set.ttsFallback = &tts.Backend{Name: cfg.TTS.Fallback, Provider: newTTS(cfg, cfg.TTS.Fallback)}
	}
	return set, nil
}

// newLLM builds one text backend. Profile overrides name models of the
// primary backend only.
func newLLM(cfg *config.Config, name string, primary bool, rc *request.Client) (llm.Provider, error) {
	profiles := cfg.LLM.Profiles
	if !primary {
		profiles = nil
	}
	switch name {
	case "gemini":
		c := cfg.LLM
		c.Profiles = profiles
		return gemini.NewClient(c)
	case "openai":
		return openai.NewClient(cfg.LLM.OpenAI, profiles, rc)
	}
	return nil, fmt.Errorf("unknown llm backend %q", name)
}

func newTTS(cfg *config.Config, name string) tts.Provider {
	if name == "polly" {
		return polly.NewProvider(cfg.TTS.Polly)
	}
	return edgetts.NewProvider(cfg.TTS.EdgeTTS)
}

// probes checks every configured backend. Only the primaries are critical.
func (s backendSet) probes() []probe.Probe {
	llmProbe := func(b failover.Backend, critical bool) probe.Probe {
		return probe.Probe{
			Name:     "llm/" + b.Name,
			Critical: critical,
			Check: func(ctx context.Context) error {
				return b.Provider.HealthCheck(ctx)
			},
		}
	}
	ttsProbe := func(b tts.Backend, critical bool) probe.Probe {
		return probe.Probe{
			Name:     "tts/" + b.Name,
			Critical: critical,
			Check: func(ctx context.Context) error {
				_, err := b.Provider.Voices(ctx)
				return err
			},
		}
	}

	probes := []probe.Probe{llmProbe(s.llmPrimary, true), ttsProbe(s.ttsPrimary, false)}
	if s.llmFallback != nil {
		probes = append(probes, llmProbe(*s.llmFallback, false))
	}
	if s.ttsFallback != nil {
		probes = append(probes, ttsProbe(*s.ttsFallback, false))
	}
	return probes
}

// describe renders "primary -> fallback" per concern for the stats endpoint.
func (s backendSet) describe() map[string]string {
	out := map[string]string{"llm": s.llmPrimary.Name, "tts": s.ttsPrimary.Name}
	if s.llmFallback != nil {
		out["llm"] += " -> " + s.llmFallback.Name
	}
	if s.ttsFallback != nil {
		out["tts"] += " -> " + s.ttsFallback.Name
	}
	return out
}
