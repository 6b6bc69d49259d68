package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"walktour/pkg/config"
	"walktour/pkg/llm"
	"walktour/pkg/request"
)

const backendName = "openai"

// Client implements llm.Provider for any OpenAI-compatible API.
type Client struct {
	rc       *request.Client
	apiKey   string
	baseURL  string
	model    string
	profiles map[string]string

	// Temperature settings for scripts
	temperatureBase   float32
	temperatureJitter float32

	mu sync.RWMutex
}

// Request follows the standard OpenAI Chat Completions format.
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Temperature    float32         `json:"temperature,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

// Response follows the standard Chat Completions response format.
type Response struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewClient creates a new OpenAI-compatible client. Profile overrides
// apply only when this backend is the primary one.
func NewClient(cfg config.OpenAIConfig, profiles map[string]string, rc *request.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("openai: base_url is required")
	}
	if rc == nil {
		return nil, errors.New("openai: request client is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		baseURL:           strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:            cfg.Key,
		model:             model,
		profiles:          profiles,
		rc:                rc,
		temperatureBase:   1.0,
		temperatureJitter: 0.3,
	}, nil
}

// ModelName implements llm.Provider.
func (c *Client) ModelName(profile string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.profiles[profile]; ok && m != "" {
		return m
	}
	return c.model
}

// HealthCheck verifies the configured model is listed by the /models endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return errors.New("openai: api key not configured")
	}

	u := c.baseURL + "/models"
	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}

	respBody, err := c.rc.GetWithHeaders(ctx, u, headers, "")
	if err != nil {
		return fmt.Errorf("failed to fetch models from %s: %w", u, err)
	}

	var mresp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &mresp); err != nil {
		return fmt.Errorf("failed to parse models response: %w", err)
	}

	want := c.ModelName(llm.ProfileScript)
	var available []string
	for _, m := range mresp.Data {
		if m.ID == want {
			return nil
		}
		available = append(available, m.ID)
	}
	return fmt.Errorf("configured model %s not found at %s. Available models: %v", want, u, available)
}

// GenerateText implements llm.Provider.
func (c *Client) GenerateText(ctx context.Context, profile, prompt string) (string, error) {
	model := c.ModelName(profile)

	var temp float32 = 0.7
	if profile == llm.ProfileScript {
		temp = c.sampleTemperature()
	}
	if isReasoner(model) {
		temp = 1.0
	}

	req := Request{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: temp,
	}

	text, err := c.Execute(ctx, req)
	llm.LogExchange(backendName, profile, prompt, text, err)
	return text, err
}

// GenerateJSON implements llm.Provider.
func (c *Client) GenerateJSON(ctx context.Context, profile, prompt string, target any) error {
	model := c.ModelName(profile)

	// json_object mode requires "json" in the prompt.
	if !strings.Contains(strings.ToLower(prompt), "json") {
		prompt += " Respond in JSON."
	}

	var temp float32 = 0.1
	respFmt := &ResponseFormat{Type: "json_object"}
	if isReasoner(model) {
		temp = 1.0
		respFmt = nil
	}

	req := Request{
		Model:          model,
		Messages:       []Message{{Role: "user", Content: prompt}},
		ResponseFormat: respFmt,
		Temperature:    temp,
	}

	respText, err := c.Execute(ctx, req)
	llm.LogExchange(backendName, profile, prompt, respText, err)
	if err != nil {
		return err
	}

	respText = llm.CleanJSONBlock(respText)
	if err := json.Unmarshal([]byte(respText), target); err != nil {
		return fmt.Errorf("failed to unmarshal openai json: %w (raw: %s)", err, respText)
	}
	return nil
}

// Execute posts a chat completion request and returns the first choice.
func (c *Client) Execute(ctx context.Context, oreq Request) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("openai: api key is missing")
	}

	body, err := json.Marshal(oreq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Content-Type":  "application/json",
	}

	respBody, err := c.rc.PostWithHeaders(ctx, c.baseURL+"/chat/completions", body, headers)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	var oresp Response
	if err := json.Unmarshal(respBody, &oresp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if oresp.Error != nil {
		return "", fmt.Errorf("openai api error: %s (%s)", oresp.Error.Message, oresp.Error.Type)
	}
	if len(oresp.Choices) == 0 {
		return "", errors.New("api returned no choices")
	}

	content := oresp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", errors.New("api returned empty content")
	}
	return content, nil
}

func (c *Client) sampleTemperature() float32 {
	c.mu.RLock()
	base, jitter := c.temperatureBase, c.temperatureJitter
	c.mu.RUnlock()
	if jitter <= 0 {
		return base
	}
	v := base + (rand.Float32()*2-1)*jitter
	if v < 0.1 {
		v = 0.1
	}
	return v
}

func isReasoner(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "reasoner") || strings.Contains(m, "r1")
}
