package decision

import (
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/zeebo/blake3"

	"github.com/nugget/studywithme/internal/llm"
	"github.com/nugget/studywithme/internal/prompts"
)

// Decider runs the tool-decision round trip.
type Decider struct {
	gen    llm.Generator
	logger *slog.Logger
}

// NewDecider returns a Decider that asks gen.
func NewDecider(gen llm.Generator, logger *slog.Logger) *Decider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decider{gen: gen, logger: logger.With("component", "decision")}
}

// Fingerprint returns a short BLAKE3 digest of a prompt. Identical
// decision prompts share a fingerprint, which makes them easy to
// correlate in logs.
func Fingerprint(prompt string) string {
	sum := blake3.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:8])
}

// Decide makes exactly one generation call. The only error it returns
// is the generator's; an unusable reply is logged and becomes [NoTool].
func (d *Decider) Decide(ctx context.Context, query, toolDescriptions, history string) (Decision, error) {
	prompt := prompts.DecisionPrompt(query, toolDescriptions, history)
	fp := Fingerprint(prompt)

	start := time.Now()
	reply, err := d.gen.Generate(ctx, prompt)
	if err != nil {
		return NoTool, err
	}
	d.logger.Log(ctx, llm.LevelTrace, "decision reply", "fingerprint", fp, "reply", reply)

	dec, perr := Parse(reply)
	if perr != nil {
		d.logger.Warn("unusable decision reply, answering without a tool",
			"fingerprint", fp, "error", perr)
	}
	d.logger.Debug("tool decision",
		"fingerprint", fp,
		"use_tool", dec.UseTool,
		"tool", dec.ToolName,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return dec, nil
}
