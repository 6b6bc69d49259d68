package llm

import (
	"context"
)

// Profiles name the kinds of requests; each may map to its own model.
const (
	ProfileScript  = "script"
	ProfileSummary = "summary"
)

// Provider defines the interface for interacting with LLM services.
type Provider interface {
	// GenerateText sends a prompt and returns the text response.
	GenerateText(ctx context.Context, profile, prompt string) (string, error)

	// GenerateJSON sends a prompt and unmarshals the response into target.
	GenerateJSON(ctx context.Context, profile, prompt string, target any) error

	// ModelName returns the model serving profile, recorded as provenance.
	ModelName(profile string) string

	// HealthCheck verifies that the provider is configured and reachable.
	HealthCheck(ctx context.Context) error
}

// Result is a generation together with the model that produced it.
type Result struct {
	Text     string
	Model    string
	Attempts int
}
