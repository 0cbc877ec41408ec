package agent

import (
	"context"
	"log/slog"
	"time"
)

// Event summarizes one finished exchange.
type Event struct {
	RequestID string        `json:"request_id"`
	UserID    string        `json:"user_id"`
	Tool      string        `json:"tool,omitempty"`
	Outcome   string        `json:"outcome"` // ok, error or cancelled
	Stage     Stage         `json:"stage"`   // where it ended
	Duration  time.Duration `json:"-"`
	Time      time.Time     `json:"time"`
}

// Outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Observer is told about every exchange after it ends. Implementations
// must not block.
type Observer interface {
	ObserveExchange(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to [Observer].
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) ObserveExchange(ctx context.Context, ev Event) { f(ctx, ev) }

// MultiObserver fans an event out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) ObserveExchange(ctx context.Context, ev Event) {
	for _, o := range m {
		if o != nil {
			o.ObserveExchange(ctx, ev)
		}
	}
}

// LogObserver writes one line per exchange.
type LogObserver struct {
	Logger *slog.Logger
}

func (l LogObserver) ObserveExchange(ctx context.Context, ev Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if ev.Outcome == OutcomeError {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "exchange finished",
		"request_id", ev.RequestID,
		"user_id", ev.UserID,
		"tool", ev.Tool,
		"outcome", ev.Outcome,
		"stage", ev.Stage,
		"elapsed", ev.Duration.Round(time.Millisecond),
	)
}
