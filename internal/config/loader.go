package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "eventforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	fillProviderDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "EVENTFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "EVENTFORGE_CORS_ORIGIN")
	setDuration(&cfg.Server.ReadTimeout, "EVENTFORGE_READ_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "EVENTFORGE_SHUTDOWN_TIMEOUT")
	setBool(&cfg.Server.TrustProxy, "EVENTFORGE_TRUST_PROXY")
	setString(&cfg.Logging.Level, "EVENTFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "EVENTFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "EVENTFORGE_LOG_ASYNC")

	// LLM
	setString(&cfg.LLM.Default, "EVENTFORGE_LLM_PROVIDER")
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = make(map[string]LLMProvider)
	}
	for _, name := range providerNames(cfg) {
		p := cfg.LLM.Providers[name]
		prefix := "EVENTFORGE_LLM_" + strings.ToUpper(name) + "_"
		setString(&p.APIKey, strings.ToUpper(name)+"_API_KEY")
		setString(&p.APIKey, prefix+"API_KEY")
		setString(&p.BaseURL, prefix+"BASE_URL")
		setString(&p.Model, prefix+"MODEL")
		setInt(&p.MaxTokens, prefix+"MAX_TOKENS")
		cfg.LLM.Providers[name] = p
	}

	// Agent
	setInt(&cfg.Agent.MaxIterations, "EVENTFORGE_AGENT_MAX_ITERATIONS")
	setInt(&cfg.Agent.MaxInvalidDirectives, "EVENTFORGE_AGENT_MAX_INVALID_DIRECTIVES")
	setDuration(&cfg.Agent.BackendTimeout, "EVENTFORGE_AGENT_BACKEND_TIMEOUT")
	setInt(&cfg.Agent.MinDescriptionForFeatures, "EVENTFORGE_AGENT_MIN_DESCRIPTION")
	setInt(&cfg.Budget.TotalChars, "EVENTFORGE_BUDGET_TOTAL_CHARS")
	setInt(&cfg.Budget.PerPageChars, "EVENTFORGE_BUDGET_PER_PAGE_CHARS")

	// Fetch
	setDuration(&cfg.Fetch.Timeout, "EVENTFORGE_FETCH_TIMEOUT")
	setInt64(&cfg.Fetch.MaxBodyBytes, "EVENTFORGE_FETCH_MAX_BODY_BYTES")
	setString(&cfg.Fetch.UserAgent, "EVENTFORGE_FETCH_USER_AGENT")
	setDuration(&cfg.Fetch.CacheTTL, "EVENTFORGE_FETCH_CACHE_TTL")
	setInt64(&cfg.Fetch.CacheMaxMB, "EVENTFORGE_FETCH_CACHE_MAX_MB")

	// Tasks
	setString(&cfg.Tasks.Backend, "EVENTFORGE_TASKS_BACKEND")
	setDuration(&cfg.Tasks.TTL, "EVENTFORGE_TASKS_TTL")
	setInt(&cfg.Tasks.MaxEntries, "EVENTFORGE_TASKS_MAX_ENTRIES")
	setDuration(&cfg.Tasks.SweepInterval, "EVENTFORGE_TASKS_SWEEP_INTERVAL")
	setString(&cfg.Tasks.Bucket, "EVENTFORGE_TASKS_BUCKET")

	setDuration(&cfg.Push.Keepalive, "EVENTFORGE_PUSH_KEEPALIVE")
	setDuration(&cfg.Push.CloseDelay, "EVENTFORGE_PUSH_CLOSE_DELAY")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "EVENTFORGE_NATS_STREAM")

	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTel.Insecure, "EVENTFORGE_OTEL_INSECURE")
	setFloat64(&cfg.OTel.SampleRate, "EVENTFORGE_OTEL_SAMPLE_RATE")

	setInt(&cfg.Breaker.MaxFailures, "EVENTFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "EVENTFORGE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "EVENTFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "EVENTFORGE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "EVENTFORGE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "EVENTFORGE_RATE_MAX_IDLE_TIME")
}

// providerNames returns the configured providers plus the built-in ones so
// an API key in the environment is enough to enable a provider.
func providerNames(cfg *Config) []string {
	names := []string{"openai", "anthropic", "gemini"}
	for name := range cfg.LLM.Providers {
		switch name {
		case "openai", "anthropic", "gemini":
		default:
			names = append(names, name)
		}
	}
	return names
}

// fillProviderDefaults restores default fields a YAML provider block left
// empty. yaml.v3 replaces map values wholesale.
func fillProviderDefaults(cfg *Config) {
	defaults := Defaults().LLM.Providers
	for name, p := range cfg.LLM.Providers {
		d, ok := defaults[name]
		if !ok {
			continue
		}
		if p.BaseURL == "" {
			p.BaseURL = d.BaseURL
		}
		if p.Model == "" {
			p.Model = d.Model
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = d.MaxTokens
		}
		cfg.LLM.Providers[name] = p
	}
}

// validate checks that required fields are set and values are consistent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.LLM.Default == "" {
		return errors.New("llm.default is required")
	}
	if _, ok := cfg.LLM.Providers[cfg.LLM.Default]; !ok {
		return fmt.Errorf("llm.default %q has no providers entry", cfg.LLM.Default)
	}
	if cfg.Agent.MaxIterations < 5 {
		return errors.New("agent.max_iterations must be >= 5")
	}
	if cfg.Agent.MaxInvalidDirectives < 1 {
		return errors.New("agent.max_invalid_directives must be >= 1")
	}
	if cfg.Agent.BackendTimeout <= 0 {
		return errors.New("agent.backend_timeout must be > 0")
	}
	if cfg.Budget.TotalChars < 1 || cfg.Budget.PerPageChars < 1 {
		return errors.New("budget.total_chars and budget.per_page_chars must be >= 1")
	}
	if cfg.Budget.PerPageChars > cfg.Budget.TotalChars {
		return errors.New("budget.per_page_chars must not exceed budget.total_chars")
	}
	if cfg.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be > 0")
	}
	if cfg.Fetch.MaxBodyBytes < 1 {
		return errors.New("fetch.max_body_bytes must be >= 1")
	}
	for _, p := range cfg.Fetch.SpecializedPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("fetch.specialized_patterns: %w", err)
		}
	}
	switch cfg.Tasks.Backend {
	case "memory":
	case "nats":
		if cfg.NATS.URL == "" {
			return errors.New("tasks.backend nats requires nats.url")
		}
	default:
		return fmt.Errorf("tasks.backend must be memory or nats, got %q", cfg.Tasks.Backend)
	}
	if cfg.Tasks.TTL <= 0 {
		return errors.New("tasks.ttl must be > 0")
	}
	if cfg.Tasks.MaxEntries < 1 {
		return errors.New("tasks.max_entries must be >= 1")
	}
	if cfg.Tasks.SweepInterval <= 0 {
		return errors.New("tasks.sweep_interval must be > 0")
	}
	if cfg.Push.Keepalive <= 0 {
		return errors.New("push.keepalive must be > 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
