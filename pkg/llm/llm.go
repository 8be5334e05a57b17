// Package llm defines the text-completion capability used for extraction
// and query planning, together with its implementations: an in-process
// [Mock], OpenAI-compatible chat completions, and Gemini.
//
// Every provider error wraps [ErrCompletion] so callers can recover from any
// capability failure with a single errors.Is check.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrCompletion is wrapped by every error a Completer returns.
var ErrCompletion = errors.New("llm: completion failed")

// Completer turns a system prompt and a user message into raw text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Provider names accepted by New.
const (
	ProviderMock   = "mock"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config selects and configures a provider.
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string        // OpenAI-compatible endpoints only
	MaxTokens int           // 0 = provider default
	Timeout   time.Duration // per call; 0 = none

	// Breaker wraps the provider in a circuit breaker when true.
	Breaker bool

	Logger *zap.Logger
}

// New builds the Completer described by cfg.
func New(ctx context.Context, cfg Config) (Completer, error) {
	var (
		c   Completer
		err error
	)
	switch cfg.Provider {
	case ProviderMock, "":
		return NewMock(), nil
	case ProviderOpenAI:
		c, err = NewOpenAI(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
	case ProviderGemini:
		c, err = NewGemini(ctx, GeminiConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		c = withTimeout{c, cfg.Timeout}
	}
	if cfg.Breaker {
		c = WithBreaker(c, BreakerConfig{Name: cfg.Provider, Logger: cfg.Logger})
	}
	return c, nil
}

type withTimeout struct {
	Completer
	d time.Duration
}

func (w withTimeout) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.d)
	defer cancel()
	return w.Completer.Complete(ctx, system, user)
}

func wrap(provider string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCompletion, provider, err)
}
