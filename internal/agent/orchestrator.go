// Package agent runs one question/answer exchange: record the question,
// let the model pick an optional tool, run it, generate the answer and
// record that too.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/studywithme/internal/decision"
	"github.com/nugget/studywithme/internal/history"
	"github.com/nugget/studywithme/internal/llm"
	"github.com/nugget/studywithme/internal/prompts"
	"github.com/nugget/studywithme/internal/tools"
)

// DefaultUserID stands in for an empty user ID.
const DefaultUserID = "default_user"

// Result is the outcome of [Orchestrator.Respond].
type Result struct {
	RequestID string
	UserID    string
	Query     string
	// Answer is the generated reply, or the apology when generation
	// could not complete.
	Answer string
	// ToolName is the tool that ran, if any.
	ToolName string
}

// Options configures an [Orchestrator].
type Options struct {
	DefaultUserID string
	// AnswerLanguage, when set, is requested in the final prompt.
	AnswerLanguage string
	Observer       Observer
	Logger         *slog.Logger
}

// Orchestrator ties the history store, the tool registry and the
// generator together. It is safe for concurrent use; ordering between
// requests for the same user is left to the history store.
type Orchestrator struct {
	history  *history.Store
	tools    *tools.Registry
	gen      llm.Generator
	decider  *decision.Decider
	opts     Options
	observer Observer
	logger   *slog.Logger
}

// New returns an Orchestrator. gen serves both the decision and the
// final answer.
func New(h *history.Store, reg *tools.Registry, gen llm.Generator, opts Options) *Orchestrator {
	if opts.DefaultUserID == "" {
		opts.DefaultUserID = DefaultUserID
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = MultiObserver(nil)
	}
	return &Orchestrator{
		history:  h,
		tools:    reg,
		gen:      gen,
		decider:  decision.NewDecider(gen, logger),
		opts:     opts,
		observer: observer,
		logger:   logger.With("component", "agent"),
	}
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// exchange carries the state of one Respond call.
type exchange struct {
	ctx    context.Context
	res    *Result
	start  time.Time
	logger *slog.Logger
}

// Respond answers query for userID in one linear pass:
// init, decide, tool or plain prompt, generate, persist.
//
// It makes at most two generation calls and one tool call, and writes
// at most two turns. On failure the returned error is an
// *[ExchangeError] and the Result still carries an answer for the user:
// the apology when nothing was generated, or the generated text when
// only recording it failed. A failed exchange never records an
// assistant turn; the user turn, once written, stays.
func (o *Orchestrator) Respond(ctx context.Context, userID, query string) (*Result, error) {
	if userID == "" {
		userID = o.opts.DefaultUserID
	}
	x := &exchange{
		ctx:   ctx,
		res:   &Result{RequestID: newRequestID(), UserID: userID, Query: query},
		start: time.Now(),
	}
	x.logger = o.logger.With("request_id", x.res.RequestID, "user_id", userID)

	// init
	sess, err := o.history.AppendTurn(ctx, userID, history.RoleUser, query)
	if err != nil {
		return o.fail(x, StageInit, err)
	}
	prior := sess.History[:len(sess.History)-1]
	transcript := history.RenderTurns(prior)

	// decide
	dec, err := o.decider.Decide(ctx, query, o.tools.DescribeAll(), transcript)
	if err != nil {
		return o.fail(x, StageDecide, err)
	}

	// tool | plain
	ex := prompts.Exchange{
		UserID:   userID,
		History:  transcript,
		Query:    query,
		Language: o.opts.AnswerLanguage,
	}
	var prompt string
	if dec.UseTool && o.tools.Has(dec.ToolName) {
		out, err := o.tools.Invoke(ctx, dec.ToolName, dec.ToolInput)
		if err != nil {
			return o.fail(x, StageTool, err)
		}
		x.res.ToolName = dec.ToolName
		x.logger.Debug("tool result", "tool", dec.ToolName, "input", dec.ToolInput, "bytes", len(out))
		prompt = prompts.ToolPrompt(ex, dec.ToolName, out)
	} else {
		if dec.UseTool {
			x.logger.Warn("decision named an unknown tool, answering without one", "tool", dec.ToolName)
		}
		prompt = prompts.PlainPrompt(ex)
	}
	x.logger.Debug("final prompt", "prompt", prompt)

	// generate
	answer, err := o.gen.Generate(ctx, prompt)
	if err != nil {
		return o.fail(x, StageGenerate, err)
	}
	x.logger.Debug("answer", "answer", answer)

	// persist
	if err := ctx.Err(); err != nil {
		return o.fail(x, StageCancelled, err)
	}
	x.res.Answer = answer
	if _, err := o.history.AppendTurn(ctx, userID, history.RoleAssistant, answer); err != nil {
		x.logger.Error("answer generated but not recorded", "error", err)
		stage := StagePersist
		if ctx.Err() != nil {
			stage = StageCancelled
		}
		xerr := &ExchangeError{Stage: stage, UserID: userID, Err: err}
		o.emit(x, stage, xerr)
		return x.res, xerr
	}

	o.emit(x, StageDone, nil)
	return x.res, nil
}

// fail ends an exchange that produced no answer. A context that ended
// turns any failure into a cancellation.
func (o *Orchestrator) fail(x *exchange, stage Stage, err error) (*Result, error) {
	if cerr := x.ctx.Err(); cerr != nil {
		stage = StageCancelled
		if !errors.Is(err, cerr) {
			err = cerr
		}
	}
	xerr := &ExchangeError{Stage: stage, UserID: x.res.UserID, Err: err}
	x.res.Answer = apologize(stage, err)

	if stage == StageCancelled {
		x.logger.Info("exchange cancelled", "error", err)
	} else {
		x.logger.Error("exchange failed", "stage", stage, "error", err)
	}
	o.emit(x, stage, xerr)
	return x.res, xerr
}

func (o *Orchestrator) emit(x *exchange, stage Stage, err error) {
	outcome := OutcomeOK
	switch {
	case stage == StageCancelled:
		outcome = OutcomeCancelled
	case err != nil:
		outcome = OutcomeError
	}
	o.observer.ObserveExchange(x.ctx, Event{
		RequestID: x.res.RequestID,
		UserID:    x.res.UserID,
		Tool:      x.res.ToolName,
		Outcome:   outcome,
		Stage:     stage,
		Duration:  time.Since(x.start),
		Time:      x.start,
	})
}
