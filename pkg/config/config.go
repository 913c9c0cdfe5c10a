// Package config reads forumlens settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// Config is the full process configuration.
type Config struct {
	DatabaseURL string
	DBMaxConns  int32
	LogLevel    string
	LogFormat   string
	MetricsAddr string
	HTTPAddr    string
	Discourse   Discourse
	LLM         LLM
	Embedding   Embedding
	Qdrant      Qdrant
	Neo4j       Neo4j
	NATSURL     string
	RedisURL    string
	Claim       Claim
	Tracing     Tracing
	ContentDir  Content
	YouTubeKey  string
	WorkerCount int
	IdleWait    time.Duration
}

type Discourse struct {
	BaseURL     string
	APIKey      string
	APIUsername string
	// RequestsPerSecond is the shared forum request rate.
	RequestsPerSecond float64
	RateLimitBackoff  time.Duration
}

type LLM struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type Embedding struct {
	// Provider is openai or ollama.
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	// Interval is the minimum spacing between embedding calls.
	Interval time.Duration
}

type Qdrant struct {
	Addr       string
	Collection string
}

type Neo4j struct {
	URL      string
	User     string
	Password string
}

type Claim struct {
	// Mode is advisory, lease or memory.
	Mode     string
	LeaseTTL time.Duration
}

type Tracing struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	Headers     string
	SampleRatio float64
}

type Content struct {
	BlogDir       string
	TranscriptDir string
}

// Load reads envFile when it exists (variables already set win) and then
// the environment. A missing envFile is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w: %w", envFile, domain.ErrConfiguration, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := env{get: getenv}
	provider := strings.ToLower(e.str("LLM_PROVIDER", "openai"))
	cfg := &Config{
		DatabaseURL: e.str("DATABASE_URL", ""),
		DBMaxConns:  int32(e.int("DB_MAX_CONNS", 10)),
		LogLevel:    e.str("LOG_LEVEL", "info"),
		LogFormat:   e.str("LOG_FORMAT", "text"),
		MetricsAddr: e.str("METRICS_ADDR", ""),
		HTTPAddr:    e.str("HTTP_ADDR", ":8080"),
		Discourse: Discourse{
			BaseURL:           e.str("DISCOURSE_URL", ""),
			APIKey:            e.str("DISCOURSE_API_KEY", ""),
			APIUsername:       e.str("DISCOURSE_API_USERNAME", ""),
			RequestsPerSecond: e.float("DISCOURSE_RPS", 1),
			RateLimitBackoff:  e.duration("DISCOURSE_RATE_LIMIT_BACKOFF", 30*time.Second),
		},
		LLM: LLM{
			Provider:    provider,
			Model:       e.str("LLM_MODEL", ""),
			APIKey:      e.str("LLM_API_KEY", e.str(llmKeyVar(provider), "")),
			BaseURL:     e.str("LLM_BASE_URL", ""),
			Temperature: e.float("LLM_TEMPERATURE", 0.1),
			MaxTokens:   e.int("LLM_MAX_TOKENS", 8192),
			Timeout:     e.duration("LLM_TIMEOUT", 2*time.Minute),
		},
		Embedding: Embedding{
			Provider:   strings.ToLower(e.str("EMBED_PROVIDER", "openai")),
			Model:      e.str("EMBED_MODEL", ""),
			APIKey:     e.str("EMBED_API_KEY", e.str("OPENAI_API_KEY", "")),
			BaseURL:    e.str("EMBED_BASE_URL", ""),
			Dimensions: e.int("EMBED_DIMENSIONS", 1536),
			Interval:   e.duration("EMBED_INTERVAL", 100*time.Millisecond),
		},
		Qdrant: Qdrant{
			Addr:       e.str("QDRANT_ADDR", "localhost:6334"),
			Collection: e.str("QDRANT_COLLECTION", "forumlens_chunks"),
		},
		Neo4j: Neo4j{
			URL:      e.str("NEO4J_URL", ""),
			User:     e.str("NEO4J_USER", "neo4j"),
			Password: e.str("NEO4J_PASS", ""),
		},
		NATSURL:  e.str("NATS_URL", ""),
		RedisURL: e.str("REDIS_URL", ""),
		Claim: Claim{
			Mode:     strings.ToLower(e.str("CLAIM_MODE", "advisory")),
			LeaseTTL: e.duration("CLAIM_LEASE_TTL", 10*time.Minute),
		},
		Tracing: Tracing{
			Enabled:     e.bool("OTEL_ENABLED"),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:    e.bool("OTEL_EXPORTER_OTLP_INSECURE"),
			Headers:     e.str("OTEL_EXPORTER_OTLP_HEADERS", ""),
			SampleRatio: e.float("OTEL_SAMPLER_RATIO", 0.1),
		},
		ContentDir: Content{
			BlogDir:       e.str("BLOG_DIR", "content/blog"),
			TranscriptDir: e.str("TRANSCRIPT_DIR", "content/transcripts"),
		},
		YouTubeKey:  e.str("YOUTUBE_API_KEY", ""),
		WorkerCount: e.int("WORKERS", 1),
		IdleWait:    e.duration("IDLE_WAIT", 30*time.Second),
	}
	if len(e.errs) > 0 {
		return nil, fmt.Errorf("config: %w: %w", domain.ErrConfiguration, errors.Join(e.errs...))
	}
	return cfg, nil
}

func llmKeyVar(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	}
	return "OPENAI_API_KEY"
}

// Need names what a command requires from the configuration.
type Need int

const (
	NeedDatabase Need = 1 << iota
	NeedDiscourse
	NeedLLM
	NeedEmbedding
	NeedGraph
)

// Validate checks the settings a command needs. All problems are reported
// together.
func (c *Config) Validate(need Need) error {
	var errs []error
	missing := func(name string) {
		errs = append(errs, fmt.Errorf("%s is required", name))
	}
	if need&NeedDatabase != 0 && c.DatabaseURL == "" {
		missing("DATABASE_URL")
	}
	if need&NeedDiscourse != 0 {
		if c.Discourse.BaseURL == "" {
			missing("DISCOURSE_URL")
		}
		if c.Discourse.RequestsPerSecond <= 0 {
			errs = append(errs, errors.New("DISCOURSE_RPS must be positive"))
		}
	}
	if need&NeedLLM != 0 {
		switch c.LLM.Provider {
		case "openai", "anthropic", "gemini":
		default:
			errs = append(errs, fmt.Errorf("LLM_PROVIDER %q is not one of openai, anthropic, gemini", c.LLM.Provider))
		}
		if c.LLM.APIKey == "" && !(c.LLM.Provider == "openai" && c.LLM.BaseURL != "") {
			missing(llmKeyVar(c.LLM.Provider))
		}
	}
	if need&NeedEmbedding != 0 {
		switch c.Embedding.Provider {
		case "openai":
			if c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
				missing("EMBED_API_KEY or EMBED_BASE_URL")
			}
		case "ollama":
			if c.Embedding.BaseURL == "" {
				missing("EMBED_BASE_URL")
			}
		default:
			errs = append(errs, fmt.Errorf("EMBED_PROVIDER %q is not one of openai, ollama", c.Embedding.Provider))
		}
		if c.Qdrant.Addr == "" {
			missing("QDRANT_ADDR")
		}
	}
	if need&NeedGraph != 0 && c.Neo4j.URL == "" {
		missing("NEO4J_URL")
	}
	switch c.Claim.Mode {
	case "advisory", "lease", "memory":
	default:
		errs = append(errs, fmt.Errorf("CLAIM_MODE %q is not one of advisory, lease, memory", c.Claim.Mode))
	}
	if c.WorkerCount < 1 {
		errs = append(errs, errors.New("WORKERS must be at least 1"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) str(key, fallback string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return fallback
}

func (e *env) int(key string, fallback int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (e *env) float(key string, fallback float64) float64 {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return f
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (e *env) bool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(e.get(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
