// Package llm provides the text-generation capability the orchestrator
// consumes: one prompt in, one answer out.
//
// Providers ([GeminiClient], [OllamaClient]) speak their HTTP APIs
// through [httpkit]. Wrappers compose around any [Generator]:
// [Breaker] fails fast while a backend is down and [Serialized] lets
// one shared client be used by a single caller at a time.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/studywithme/internal/httpkit"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Generator produces a completion for a prompt. Failures are reported
// as *[BackendError], except that a context cancelled while waiting to
// call the backend may be returned as the bare context error.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to [Generator].
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Options configures a provider client.
type Options struct {
	BaseURL         string
	APIKey          string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	// Timeout bounds one request. Zero leaves it to the context.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	t := httpkit.NewTransport()
	// Models can think for a long time before the first header byte.
	t.ResponseHeaderTimeout = 0
	return httpkit.NewClient(httpkit.WithTimeout(o.Timeout), httpkit.WithTransport(t))
}

func (o Options) logger(provider string) *slog.Logger {
	l := o.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", "llm", "provider", provider, "model", o.Model)
}

// New returns the client for a provider name ("gemini" or "ollama").
func New(provider string, opts Options) (Generator, error) {
	switch provider {
	case "gemini":
		return NewGeminiClient(opts), nil
	case "ollama":
		return NewOllamaClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}
