package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerOptions tunes a [Breaker].
type BreakerOptions struct {
	Name string
	// MaxFailures consecutive failures open the circuit.
	MaxFailures int
	// OpenTimeout is how long the circuit stays open before one probe
	// request is let through.
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

// Breaker fails fast with a *[BackendError] while the wrapped backend
// keeps failing. It never retries.
type Breaker struct {
	next Generator
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next in a circuit breaker.
func NewBreaker(next Generator, opts BreakerOptions) *Breaker {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "llm"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm_breaker")

	maxFailures := uint32(opts.MaxFailures)
	return &Breaker{
		next: next,
		name: opts.Name,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        opts.Name,
			MaxRequests: 1,
			Timeout:     opts.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			// A caller hanging up says nothing about backend health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (b *Breaker) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, prompt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", &BackendError{Provider: b.name, Err: fmt.Errorf("circuit open: %w", err)}
	}
	if err != nil {
		return "", err
	}
	answer, _ := out.(string)
	return answer, nil
}

// State returns the circuit state ("closed", "half-open" or "open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}
