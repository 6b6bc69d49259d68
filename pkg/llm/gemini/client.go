package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/api/iterator"
	"google.golang.org/genai"

	"walktour/pkg/config"
	"walktour/pkg/llm"
)

const backendName = "gemini"

// generator is the subset of *genai.Models used for generation.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client implements llm.Provider for Google Gemini.
type Client struct {
	genaiClient *genai.Client
	models      generator
	modelName   string
	profiles    map[string]string // Map profile -> modelName

	// Temperature settings for scripts (base + jitter with bell curve)
	temperatureBase   float32
	temperatureJitter float32

	mu sync.RWMutex
}

// NewClient creates a new Gemini client. A missing key yields an
// unconfigured client whose calls fail; startup still proceeds.
func NewClient(cfg config.LLMConfig) (*Client, error) {
	c := &Client{
		temperatureBase:   0.9,
		temperatureJitter: 0.2,
	}
	if err := c.Configure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Configure updates the client with new settings.
func (c *Client) Configure(cfg config.LLMConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.modelName = cfg.Gemini.Model
	c.profiles = cfg.Profiles
	if c.modelName == "" {
		c.modelName = "gemini-2.5-flash-lite"
	}

	if cfg.Gemini.Key == "" {
		c.genaiClient = nil
		c.models = nil
		return nil
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.Gemini.Key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create genai client: %w", err)
	}
	c.genaiClient = client
	c.models = client.Models
	return nil
}

// SetTemperature configures temperature settings for script prompts.
func (c *Client) SetTemperature(base, jitter float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.temperatureBase = base
	c.temperatureJitter = jitter
}

// ModelName implements llm.Provider.
func (c *Client) ModelName(profile string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, _ := c.resolveModel(profile)
	return m
}

// GenerateText sends a prompt and returns the text response.
func (c *Client) GenerateText(ctx context.Context, profile, prompt string) (string, error) {
	c.mu.RLock()
	models := c.models
	modelName, cfg := c.resolveModel(profile)
	c.mu.RUnlock()

	if models == nil {
		return "", errors.New("gemini client not configured")
	}

	resp, err := models.GenerateContent(ctx, modelName, genai.Text(prompt), cfg)
	if err != nil {
		llm.LogExchange(backendName, profile, prompt, "", err)
		return "", fmt.Errorf("gemini generate text: %w", err)
	}
	if len(resp.Candidates) > 0 {
		logGoogleSearchUsage(profile, resp.Candidates[0].GroundingMetadata)
	}

	text, err := getResponseText(resp)
	if err != nil {
		llm.LogExchange(backendName, profile, prompt, "", err)
		return "", err
	}

	llm.LogExchange(backendName, profile, prompt, text, nil)
	return text, nil
}

// GenerateJSON sends a prompt and unmarshals the response into the target struct.
func (c *Client) GenerateJSON(ctx context.Context, profile, prompt string, target any) error {
	c.mu.RLock()
	models := c.models
	modelName, cfg := c.resolveModel(profile)
	c.mu.RUnlock()

	if models == nil {
		return errors.New("gemini client not configured")
	}

	// Search grounding is incompatible with JSON mode
	cfg.Tools = nil
	cfg.ResponseMIMEType = "application/json"

	resp, err := models.GenerateContent(ctx, modelName, genai.Text(prompt), cfg)
	if err != nil {
		llm.LogExchange(backendName, profile, prompt, "", err)
		return fmt.Errorf("gemini generate json: %w", err)
	}

	text, err := getResponseText(resp)
	if err != nil {
		llm.LogExchange(backendName, profile, prompt, "", err)
		return err
	}

	cleaned := llm.CleanJSONBlock(text)
	llm.LogExchange(backendName, profile, prompt, cleaned, nil)

	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		return fmt.Errorf("failed to unmarshal JSON response: %w", err)
	}
	return nil
}

// HealthCheck verifies the key is present and the configured model exists.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	client := c.genaiClient
	models := c.models
	c.mu.RUnlock()

	if models == nil {
		return errors.New("gemini: api key not configured")
	}
	if client == nil {
		return nil
	}
	return c.validateModel(ctx, client)
}

func getResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no candidates returned")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", fmt.Errorf("empty candidate (finish reason %s)", cand.FinishReason)
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", errors.New("empty response text")
	}
	return sb.String(), nil
}

// validateModel checks if the configured model is available for the API key.
func (c *Client) validateModel(ctx context.Context, client *genai.Client) error {
	c.mu.RLock()
	name := c.modelName
	c.mu.RUnlock()
	if !strings.HasPrefix(name, "models/") {
		name = "models/" + name
	}

	_, err := client.Models.Get(ctx, name, nil)
	if err == nil {
		slog.Debug("Gemini model validation success", "model", name)
		return nil
	}

	slog.Warn("Gemini model validation failed, fetching available models...", "model", name, "error", err)

	page, listErr := client.Models.List(ctx, nil)
	if listErr != nil {
		slog.Warn("Failed to list models", "error", listErr)
		return fmt.Errorf("gemini model %s unavailable: %w", name, err)
	}

	var available []string
	for {
		m, nextErr := page.Next(ctx)
		if errors.Is(nextErr, iterator.Done) || nextErr != nil {
			break
		}
		if strings.Contains(strings.ToLower(m.Name), "gemini") {
			available = append(available, m.Name)
		}
	}
	if len(available) > 0 {
		slog.Error("Configured model not found", "configured", name, "available", strings.Join(available, ", "))
	}
	return fmt.Errorf("gemini model %s unavailable: %w", name, err)
}
