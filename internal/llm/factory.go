package llm

import "fmt"

// ClientConfig selects and configures a completion provider.
type ClientConfig struct {
	Provider          string // "anthropic" or "ollama"
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerMinute int
}

// NewCompleter constructs a Completer for the configured provider.
// An empty provider returns (nil, nil): the completion collaborator is
// absent and callers fall back to their deterministic behaviour.
func NewCompleter(cfg ClientConfig) (Completer, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropicClient(AnthropicConfig{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			RequestsPerMinute: cfg.RequestsPerMinute,
		}), nil
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
}
