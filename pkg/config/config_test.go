package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/forumlens/engine/domain"
)

func mapEnv(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(mapEnv(nil))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Provider != "openai" || cfg.Claim.Mode != "advisory" || cfg.WorkerCount != 1 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Discourse.RequestsPerSecond != 1 || cfg.Discourse.RateLimitBackoff != 30*time.Second {
		t.Fatalf("discourse = %+v", cfg.Discourse)
	}
	if cfg.Embedding.Interval != 100*time.Millisecond || cfg.Qdrant.Collection != "forumlens_chunks" {
		t.Fatalf("embedding = %+v qdrant = %+v", cfg.Embedding, cfg.Qdrant)
	}
}

func TestFromEnvProviderKey(t *testing.T) {
	cfg, err := FromEnv(mapEnv(map[string]string{
		"LLM_PROVIDER":      "Anthropic",
		"ANTHROPIC_API_KEY": "ak",
		"OPENAI_API_KEY":    "ok",
		"WORKERS":           "4",
		"IDLE_WAIT":         "5s",
		"OTEL_ENABLED":      "true",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.APIKey != "ak" {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
	if cfg.Embedding.APIKey != "ok" || cfg.WorkerCount != 4 || cfg.IdleWait != 5*time.Second || !cfg.Tracing.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestFromEnvBadValues(t *testing.T) {
	_, err := FromEnv(mapEnv(map[string]string{"WORKERS": "many", "LLM_TIMEOUT": "soon"}))
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if !strings.Contains(err.Error(), "WORKERS") || !strings.Contains(err.Error(), "LLM_TIMEOUT") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg, _ := FromEnv(mapEnv(nil))
	err := cfg.Validate(NeedDatabase | NeedDiscourse | NeedLLM)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	for _, want := range []string{"DATABASE_URL", "DISCOURSE_URL", "OPENAI_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %s in %v", want, err)
		}
	}

	cfg.DatabaseURL = "postgres://x"
	cfg.LLM.BaseURL = "http://localhost:11434/v1"
	if err := cfg.Validate(NeedDatabase | NeedLLM); err != nil {
		t.Fatalf("local openai-compatible server needs no key: %v", err)
	}

	cfg.Embedding.Provider = "ollama"
	if err := cfg.Validate(NeedEmbedding); err == nil || !strings.Contains(err.Error(), "EMBED_BASE_URL") {
		t.Fatalf("ollama without url: %v", err)
	}
	cfg.Claim.Mode = "zookeeper"
	if err := cfg.Validate(0); err == nil {
		t.Fatal("bad claim mode accepted")
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	if err := os.WriteFile(p, []byte("FORUMLENS_TEST_ONLY_URL=https://forum.example\nDISCOURSE_URL=https://forum.example\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DISCOURSE_URL", "")
	os.Unsetenv("DISCOURSE_URL")
	t.Cleanup(func() { os.Unsetenv("FORUMLENS_TEST_ONLY_URL") })

	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discourse.BaseURL != "https://forum.example" {
		t.Fatalf("base url = %q", cfg.Discourse.BaseURL)
	}

	if _, err := Load(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}
