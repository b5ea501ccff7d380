// Package config provides hierarchical configuration loading for EventForge.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the EventForge service.
type Config struct {
	Server  Server  `yaml:"server"`
	Logging Logging `yaml:"logging"`
	LLM     LLM     `yaml:"llm"`
	Agent   Agent   `yaml:"agent"`
	Budget  Budget  `yaml:"budget"`
	Fetch   Fetch   `yaml:"fetch"`
	Tasks   Tasks   `yaml:"tasks"`
	Push    Push    `yaml:"push"`
	NATS    NATS    `yaml:"nats"`
	OTel    OTel    `yaml:"otel"`
	Breaker Breaker `yaml:"breaker"`
	Rate    Rate    `yaml:"rate"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port            string        `yaml:"port"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool `yaml:"trust_proxy"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// LLM selects and configures the text-generation backends.
type LLM struct {
	Default   string                 `yaml:"default"`
	Providers map[string]LLMProvider `yaml:"providers"`
}

// LLMProvider is the per-provider connection block.
type LLMProvider struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// Agent bounds one exploration run.
type Agent struct {
	MaxIterations             int           `yaml:"max_iterations"`               // Seeds and exploration turns combined (default: 8)
	MaxInvalidDirectives      int           `yaml:"max_invalid_directives"`       // Consecutive invalid directives before forcing (default: 2)
	BackendTimeout            time.Duration `yaml:"backend_timeout"`              // Per backend call (default: 90s)
	MinDescriptionForFeatures int           `yaml:"min_description_for_features"` // Chars needed to run feature inference (default: 50)
}

// Budget holds the content ceilings of one run, in characters.
type Budget struct {
	TotalChars   int `yaml:"total_chars"`
	PerPageChars int `yaml:"per_page_chars"`
}

// Fetch configures page retrieval.
type Fetch struct {
	Timeout             time.Duration `yaml:"timeout"`
	MaxBodyBytes        int64         `yaml:"max_body_bytes"`
	UserAgent           string        `yaml:"user_agent"`
	CacheTTL            time.Duration `yaml:"cache_ttl"`
	CacheMaxMB          int64         `yaml:"cache_max_mb"`
	SpecializedPatterns []string      `yaml:"specialized_patterns"` // Regexps selecting the JSON-LD event scraper
}

// Tasks configures the task registry store.
type Tasks struct {
	Backend       string        `yaml:"backend"` // "memory" | "nats"
	TTL           time.Duration `yaml:"ttl"`
	MaxEntries    int           `yaml:"max_entries"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Bucket        string        `yaml:"bucket"`
}

// Push configures the streaming delivery channels.
type Push struct {
	Keepalive  time.Duration `yaml:"keepalive"`
	CloseDelay time.Duration `yaml:"close_delay"`
}

// NATS holds NATS JetStream configuration. An empty URL disables NATS.
type NATS struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
}

// OTel holds OpenTelemetry exporter configuration. An empty endpoint keeps
// the global no-op providers.
type OTel struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Rate holds rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			CORSOrigin:      "http://localhost:3000",
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: Logging{
			Level:   "info",
			Service: "eventforge",
		},
		LLM: LLM{
			Default: "openai",
			Providers: map[string]LLMProvider{
				"openai": {
					BaseURL:   "https://api.openai.com/v1",
					Model:     "gpt-4o-mini",
					MaxTokens: 4096,
				},
				"anthropic": {
					BaseURL:   "https://api.anthropic.com/v1",
					Model:     "claude-3-5-haiku-latest",
					MaxTokens: 4096,
				},
				"gemini": {
					Model:     "gemini-2.0-flash",
					MaxTokens: 4096,
				},
			},
		},
		Agent: Agent{
			MaxIterations:             8,
			MaxInvalidDirectives:      2,
			BackendTimeout:            90 * time.Second,
			MinDescriptionForFeatures: 50,
		},
		Budget: Budget{
			TotalChars:   60000,
			PerPageChars: 15000,
		},
		Fetch: Fetch{
			Timeout:      15 * time.Second,
			MaxBodyBytes: 2 << 20,
			UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			CacheTTL:     10 * time.Minute,
			CacheMaxMB:   64,
			SpecializedPatterns: []string{
				`^https?://(www\.)?eventbrite\.[a-z.]+/e/`,
				`^https?://(www\.)?meetup\.com/[^/]+/events/\d+`,
			},
		},
		Tasks: Tasks{
			Backend:       "memory",
			TTL:           time.Hour,
			MaxEntries:    1000,
			SweepInterval: time.Minute,
			Bucket:        "EXTRACTION_TASKS",
		},
		Push: Push{
			Keepalive:  15 * time.Second,
			CloseDelay: 500 * time.Millisecond,
		},
		NATS: NATS{
			Stream: "EXTRACTIONS",
		},
		OTel: OTel{
			ServiceName: "eventforge",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Rate: Rate{
			RequestsPerSecond: 2,
			Burst:             10,
			CleanupInterval:   5 * time.Minute,
			MaxIdleTime:       10 * time.Minute,
		},
	}
}
