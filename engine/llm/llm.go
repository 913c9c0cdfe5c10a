// Package llm adapts hosted language model APIs to the narrow completion
// and embedding interfaces used by the analysis pipeline and the ingestor.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/pkg/resilience"
)

// Completer returns the text of a single completion.
type Completer interface {
	Complete(ctx context.Context, system, user string, temperature float64) (string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config selects and configures a completion provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	// BaseURL overrides the provider endpoint. For the openai provider
	// this also serves OpenAI-compatible servers.
	BaseURL   string
	MaxTokens int
}

// EnvVar returns the environment variable conventionally holding the
// provider's API key.
func EnvVar(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-sonnet-4-5"
	case ProviderGemini:
		return "gemini-2.5-flash"
	default:
		return "gpt-4o-mini"
	}
}

// NewCompleter builds the completer named by cfg.Provider.
func NewCompleter(ctx context.Context, cfg Config) (Completer, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = ProviderOpenAI
	}
	// OpenAI-compatible local servers accept any key.
	if cfg.APIKey == "" && !(provider == ProviderOpenAI && cfg.BaseURL != "") {
		return nil, fmt.Errorf("llm: %s: %s not set: %w", provider, EnvVar(provider), domain.ErrConfiguration)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel(provider)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	switch provider {
	case ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	}
	return nil, fmt.Errorf("llm: unknown provider %q: %w", cfg.Provider, domain.ErrConfiguration)
}

// guarded routes completions through a circuit breaker.
type guarded struct {
	next Completer
	b    *resilience.Breaker
}

// WithBreaker returns a Completer that stops calling c while b is open.
// Rejected calls fail with an error wrapping both domain.ErrLLM and
// resilience.ErrCircuitOpen.
func WithBreaker(c Completer, b *resilience.Breaker) Completer {
	return &guarded{next: c, b: b}
}

func (g *guarded) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	var out string
	err := g.b.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.next.Complete(ctx, system, user, temperature)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", fmt.Errorf("llm: %w: %w", domain.ErrLLM, err)
	}
	return out, err
}

func llmErr(provider string, status int, err error) error {
	if status == 429 {
		return fmt.Errorf("llm: %s: %w: %w: %w", provider, domain.ErrLLM, domain.ErrRateLimited, err)
	}
	return fmt.Errorf("llm: %s: %w: %w", provider, domain.ErrLLM, err)
}

func emptyErr(provider string) error {
	return fmt.Errorf("llm: %s: empty response: %w", provider, domain.ErrLLM)
}
