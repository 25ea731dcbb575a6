// Package llm talks to generative text providers
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrProvider wraps every failure of a generative provider: transport, status, decoding or a
// response without choices. An empty completion is returned as is.
var ErrProvider = errors.New("generative provider failed")

// Request is a single-turn completion request
type Request struct {
	Prompt      string
	Temperature float64
}

// Provider is the interface for generative providers (Groq, OpenAI, Ollama)
type Provider interface {
	// Complete sends the prompt as one user message and returns the completion text
	Complete(ctx context.Context, req Request) (string, error)

	// Name identifies the provider and model in logs
	Name() string
}

// Config selects and configures a provider
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// NewProvider creates a provider client based on the provider type.
// Supported providers: "groq", "openai", "ollama"
func NewProvider(cfg Config) (Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultURL(cfg.Provider)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Provider)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	switch cfg.Provider {
	case "groq", "openai":
		return NewChatClient(cfg), nil
	case "ollama":
		return NewOllamaClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (supported: groq, openai, ollama)", cfg.Provider)
	}
}

// DefaultURL returns the default base URL for a given provider
func DefaultURL(provider string) string {
	switch provider {
	case "groq":
		return "https://api.groq.com/openai"
	case "openai":
		return "https://api.openai.com"
	case "ollama":
		return "http://localhost:11434"
	default:
		return ""
	}
}

// DefaultModel returns the default model name for a given provider
func DefaultModel(provider string) string {
	switch provider {
	case "groq":
		return "mixtral-8x7b-32768"
	case "openai":
		return "gpt-4o-mini"
	case "ollama":
		return "llama3.1"
	default:
		return ""
	}
}
