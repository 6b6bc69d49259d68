package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	Server   ServerConfig   `yaml:"server"`
	Request  RequestConfig  `yaml:"request"`
	Cache    CacheConfig    `yaml:"cache"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	LLM      LLMConfig      `yaml:"llm"`
	TTS      TTSConfig      `yaml:"tts"`
	Geocode  GeocodeConfig  `yaml:"geocode"`
	Blob     BlobConfig     `yaml:"blob"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries   int           `yaml:"retries"`
	Timeout   Duration      `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // Requests per second per provider (0 = unlimited)
	Backoff   BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// CacheConfig holds TTLs and search radii of the geospatial cache.
type CacheConfig struct {
	SummaryTTL    Duration `yaml:"summary_ttl"`
	PlaceTTL      Duration `yaml:"place_ttl"`
	SuggestionTTL Duration `yaml:"suggestion_ttl"`
	CheckpointTTL Duration `yaml:"checkpoint_ttl"`
	SuggestRadius Distance `yaml:"suggest_radius"`
	IndexSettle   Duration `yaml:"index_settle"`
	PruneInterval Duration `yaml:"prune_interval"`
	H3Resolution  int      `yaml:"h3_resolution"`
	MaxQueryCells int      `yaml:"max_query_cells"`
	PlacesFile    string   `yaml:"places_file"` // Curated places CSV imported as POI entries
}

// PipelineConfig holds orchestrator and invoker settings.
type PipelineConfig struct {
	MaxConcurrency   int      `yaml:"max_concurrency"`
	MaxRetries       int      `yaml:"max_retries"`
	RetryBaseDelay   Duration `yaml:"retry_base_delay"`
	CancelPoll       Duration `yaml:"cancel_poll"`
	AudioByteLimit   int      `yaml:"audio_byte_limit"`
	ScriptWordsIntro int      `yaml:"script_words_intro"`
	ScriptWordsStop  int      `yaml:"script_words_stop"`
	DefaultLanguage  string   `yaml:"default_language"` // BCP 47 tag used when a request names none
}

// LLMConfig holds settings for the generative text backends.
type LLMConfig struct {
	Primary  string            `yaml:"primary"`  // "gemini", "openai"
	Fallback string            `yaml:"fallback"` // "openai", "gemini", "" (none)
	Gemini   GeminiConfig      `yaml:"gemini"`
	OpenAI   OpenAIConfig      `yaml:"openai"`
	Profiles map[string]string `yaml:"profiles"` // Map of intent -> model (primary backend)
}

// GeminiConfig holds settings for the Gemini backend.
type GeminiConfig struct {
	Model string `yaml:"model"`
	Key   string `yaml:"key" env:"GEMINI_API_KEY"`
}

// OpenAIConfig holds settings for an OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model   string `yaml:"model"`
	Key     string `yaml:"key" env:"OPENAI_API_KEY"`
}

// EdgeTTSConfig holds settings for Edge TTS.
type EdgeTTSConfig struct {
	VoiceID      string `yaml:"voice"` // e.g. "en-US-AvaMultilingualNeural"
	WSSURL       string `yaml:"wss_url" env:"EDGE_TTS_WSS_URL"`
	TrustedToken string `yaml:"trusted_token" env:"EDGE_TTS_TRUSTED_TOKEN"`
	Origin       string `yaml:"origin" env:"EDGE_TTS_ORIGIN"`
	UserAgent    string `yaml:"user_agent" env:"EDGE_TTS_USER_AGENT"`
	GecVersion   string `yaml:"gec_version" env:"EDGE_TTS_SEC_MS_GEC_VERSION"`
}

// PollyConfig holds settings for Amazon Polly.
type PollyConfig struct {
	Region  string `yaml:"region" env:"AWS_REGION"`
	VoiceID string `yaml:"voice"`  // e.g. "Joanna"
	Engine  string `yaml:"engine"` // "neural", "standard"
}

// TTSConfig holds Text-To-Speech settings.
type TTSConfig struct {
	Primary  string        `yaml:"primary"`  // "edge-tts", "polly"
	Fallback string        `yaml:"fallback"` // "polly", "edge-tts", ""
	EdgeTTS  EdgeTTSConfig `yaml:"edge_tts"`
	Polly    PollyConfig   `yaml:"polly"`
}

// GeocodeConfig holds reverse geocoding settings.
type GeocodeConfig struct {
	NominatimURL string  `yaml:"nominatim_url" env:"NOMINATIM_URL"`
	UserAgent    string  `yaml:"user_agent"`
	RateLimit    float64 `yaml:"rate_limit"`  // Requests per second
	CitiesFile   string  `yaml:"cities_file"` // GeoNames cities TSV for offline lookup
	Wikipedia    bool    `yaml:"wikipedia"`   // Ground area summaries on Wikipedia extracts

	CountriesFile     string   `yaml:"countries_file"`     // Natural Earth admin-0 GeoJSON
	NeighborhoodFiles []string `yaml:"neighborhood_files"` // GeoJSON layers of named districts
}

// BlobConfig holds settings for the audio blob store.
type BlobConfig struct {
	Root    string `yaml:"root"`
	BaseURL string `yaml:"base_url" env:"BLOB_BASE_URL"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
	LLM      LogSettings `yaml:"llm"`
	TTS      LogSettings `yaml:"tts"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path" env:"WALKTOUR_DB"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address" env:"WALKTOUR_ADDR"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server:   LogSettings{Path: "./logs/server.log", Level: "INFO"},
			Requests: LogSettings{Path: "./logs/requests.log", Level: "INFO"},
			LLM:      LogSettings{Path: "./logs/llm.log", Level: "INFO"},
			TTS:      LogSettings{Path: "./logs/tts.log", Level: "INFO"},
		},
		DB: DBConfig{
			Path: "./data/walktour.db",
		},
		Server: ServerConfig{
			Address: "localhost:8420",
		},
		Request: RequestConfig{
			Retries:   3,
			Timeout:   Duration(120 * time.Second),
			RateLimit: 5,
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		Cache: CacheConfig{
			SummaryTTL:    Duration(30 * Day),
			PlaceTTL:      Duration(90 * Day),
			SuggestionTTL: Duration(7 * Day),
			CheckpointTTL: Duration(1 * Day),
			SuggestRadius: Distance(50),
			IndexSettle:   Duration(2 * time.Second),
			PruneInterval: Duration(1 * time.Hour),
			H3Resolution:  11,
			MaxQueryCells: 5000,
			PlacesFile:    "./data/places.csv",
		},
		Pipeline: PipelineConfig{
			MaxConcurrency:   4,
			MaxRetries:       3,
			RetryBaseDelay:   Duration(1 * time.Second),
			CancelPoll:       Duration(500 * time.Millisecond),
			AudioByteLimit:   5000,
			ScriptWordsIntro: 180,
			ScriptWordsStop:  350,
			DefaultLanguage:  "en-US",
		},
		LLM: LLMConfig{
			Primary:  "gemini",
			Fallback: "openai",
			Gemini: GeminiConfig{
				Model: "gemini-2.5-flash-lite",
			},
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
			Profiles: map[string]string{
				"script":  "gemini-2.5-flash",
				"summary": "gemini-2.5-flash-lite",
			},
		},
		TTS: TTSConfig{
			Primary:  "edge-tts",
			Fallback: "polly",
			EdgeTTS: EdgeTTSConfig{
				VoiceID:    "en-US-AvaMultilingualNeural",
				GecVersion: "1-130.0.2849.68",
			},
			Polly: PollyConfig{
				Region:  "us-east-1",
				VoiceID: "Joanna",
				Engine:  "neural",
			},
		},
		Geocode: GeocodeConfig{
			NominatimURL:  "https://nominatim.openstreetmap.org",
			UserAgent:     "walktour/1.0",
			RateLimit:     1,
			Wikipedia:     true,
			CitiesFile:    "data/cities1000.txt",
			CountriesFile: "data/countries.geojson",
		},
		Blob: BlobConfig{
			Root:    "./data/audio",
			BaseURL: "http://localhost:8420/audio",
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// Values from a .env file and the environment override the file; they are never saved back.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	if err := applyEnv(cfg, filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv loads an optional .env file and overlays env-tagged fields.
func applyEnv(cfg *Config, dotenv string) error {
	if _, err := os.Stat(dotenv); err == nil {
		// Existing process env wins over .env
		if err := godotenv.Load(dotenv); err != nil {
			return fmt.Errorf("failed to load %s: %w", dotenv, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

var backendNames = map[string]map[string]bool{
	"llm": {"gemini": true, "openai": true},
	"tts": {"edge-tts": true, "polly": true},
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if !backendNames["llm"][c.LLM.Primary] {
		return fmt.Errorf("invalid llm.primary %q", c.LLM.Primary)
	}
	if c.LLM.Fallback != "" && !backendNames["llm"][c.LLM.Fallback] {
		return fmt.Errorf("invalid llm.fallback %q", c.LLM.Fallback)
	}
	if !backendNames["tts"][c.TTS.Primary] {
		return fmt.Errorf("invalid tts.primary %q", c.TTS.Primary)
	}
	if c.TTS.Fallback != "" && !backendNames["tts"][c.TTS.Fallback] {
		return fmt.Errorf("invalid tts.fallback %q", c.TTS.Fallback)
	}
	if c.Pipeline.MaxConcurrency < 1 {
		return fmt.Errorf("pipeline.max_concurrency must be >= 1, got %d", c.Pipeline.MaxConcurrency)
	}
	if c.Pipeline.MaxRetries < 1 {
		return fmt.Errorf("pipeline.max_retries must be >= 1, got %d", c.Pipeline.MaxRetries)
	}
	if c.Cache.H3Resolution < 0 || c.Cache.H3Resolution > 15 {
		return fmt.Errorf("cache.h3_resolution must be within [0,15], got %d", c.Cache.H3Resolution)
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# walktour configuration
# ---------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), nm (nautical miles), ft (feet)
# Secrets (API keys) are best supplied via environment or a .env file next to this config.

`)
	data = append(header, data...)

	rePrimary := regexp.MustCompile(`(?m)^(\s+)primary: (gemini|openai)`)
	data = rePrimary.ReplaceAll(data, []byte("${1}# Options: gemini, openai\n${1}primary: ${2}"))

	reTTS := regexp.MustCompile(`(?m)^(\s+)primary: (edge-tts|polly)`)
	data = reTTS.ReplaceAll(data, []byte("${1}# Options: edge-tts, polly\n${1}primary: ${2}"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
