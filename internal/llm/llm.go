package llm

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/BidScout/internal/config"
)

// Response is the text of a completion plus its token usage.
type Response struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (*Response, error)
	IsConfigured() bool
}

// CreateProvider creates an LLM provider by name ("claude" or "ollama").
// It returns nil when the provider is not usable, so callers fall back to
// deterministic behavior.
func CreateProvider(name, model string, cfg config.LLM, log logrus.FieldLogger) Provider {
	switch strings.ToLower(name) {
	case "ollama":
		p := NewOllamaProvider(model, cfg.Ollama.URL)
		if p.IsConfigured() {
			log.Infof("Using Ollama with model: %s", model)
			return p
		}
		log.Warnf("Ollama not available at %s", cfg.Ollama.URL)
	case "claude", "anthropic", "":
		p := NewClaudeProvider(config.Secret(cfg.Anthropic.APIKeyEnv), model, cfg.Anthropic.BaseURL)
		if p.IsConfigured() {
			log.Infof("Using Claude with model: %s", model)
			return p
		}
		log.Warnf("No Anthropic API key; set %s to enable the classifier", cfg.Anthropic.APIKeyEnv)
	default:
		log.Warnf("Unknown LLM provider %q", name)
	}
	return nil
}
