package agent

import (
	"fmt"
	"strings"

	"github.com/nugget/studywithme/internal/prompts"
)

// Stage names a step of an exchange.
type Stage string

const (
	StageInit      Stage = "init"
	StageDecide    Stage = "decide"
	StageTool      Stage = "tool"
	StageGenerate  Stage = "generate"
	StagePersist   Stage = "persist"
	StageCancelled Stage = "cancelled"
	StageDone      Stage = "done"
)

// ExchangeError reports the step at which an exchange failed. Err is
// the underlying *history.PersistenceError, *tools.ExecutionError,
// *llm.BackendError or context error.
type ExchangeError struct {
	Stage  Stage
	UserID string
	Err    error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange for %q failed at %s: %v", e.UserID, e.Stage, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// maxDetail bounds the diagnostic appended to the apology.
const maxDetail = 120

// apologize returns the user-facing failure reply with a short
// diagnostic suffix.
func apologize(stage Stage, err error) string {
	detail := strings.Join(strings.Fields(err.Error()), " ")
	if r := []rune(detail); len(r) > maxDetail {
		detail = string(r[:maxDetail]) + "…"
	}
	return fmt.Sprintf("%s (%s: %s)", prompts.Apology, stage, detail)
}
