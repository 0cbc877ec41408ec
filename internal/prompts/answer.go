package prompts

import (
	"fmt"
	"strings"
)

// Exchange carries the per-request parts shared by the answer prompts.
type Exchange struct {
	UserID string
	// History is the rendered prior conversation, without the current
	// query.
	History string
	Query   string
	// Language, when set, asks for the answer in that language.
	Language string
}

func (e Exchange) preamble() string {
	var b strings.Builder
	b.WriteString(SystemPrompt())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "(User: %s)\n", e.UserID)
	if e.History != "" {
		b.WriteString(e.History)
		b.WriteByte('\n')
	}
	return b.String()
}

func (e Exchange) languageLine() string {
	if e.Language == "" {
		return ""
	}
	return "\nAnswer in " + e.Language + "."
}

// PlainPrompt builds the final prompt when no tool was used. It holds
// only the history and the query.
func PlainPrompt(e Exchange) string {
	return fmt.Sprintf("%s\nuser: %s%s\nassistant: ", e.preamble(), e.Query, e.languageLine())
}

// ToolPrompt builds the final prompt around a tool's raw output.
func ToolPrompt(e Exchange, toolName, toolResult string) string {
	return fmt.Sprintf(`%s
user: %s

>>> Result from tool %s:
%s

Answer the user clearly and completely, drawing on the result above.%s`,
		e.preamble(), e.Query, toolName, toolResult, e.languageLine())
}
