// Package decision asks the model whether a tool should run and turns
// its free-form reply into a [Decision].
//
// Model output is untrusted. [Parse] is total: whatever the reply, it
// returns a usable Decision, falling back to "no tool" and explaining
// why through a *[DecodeError].
package decision

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
)

// Decision is the parsed tool choice. It is never persisted.
type Decision struct {
	UseTool   bool
	ToolName  string
	ToolInput string
}

// NoTool is the fallback decision.
var NoTool = Decision{}

// Reason classifies a parse fallback.
type Reason string

const (
	ReasonNoObject       Reason = "no_json_object"
	ReasonSyntax         Reason = "invalid_json"
	ReasonMissingUseTool Reason = "missing_use_tool"
	ReasonBadUseTool     Reason = "bad_use_tool"
)

// DecodeError explains why a reply fell back to [NoTool].
type DecodeError struct {
	Reason Reason
	// Snippet is the start of the offending reply.
	Snippet string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decision reply %s: %v (reply starts %q)", e.Reason, e.Err, e.Snippet)
	}
	return fmt.Sprintf("decision reply %s (reply starts %q)", e.Reason, e.Snippet)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeError(reason Reason, raw string, err error) *DecodeError {
	snippet := raw
	if len(snippet) > 80 {
		snippet = snippet[:80]
	}
	return &DecodeError{Reason: reason, Snippet: snippet, Err: err}
}

// Parse extracts a Decision from a model reply. The JSON object is
// taken from the first '{' to the last '}', so prose or code fences
// around it are ignored; comments and trailing commas are tolerated.
// use_tool is required and may be a boolean, a yes/no style string or a
// number. tool_name and tool_input default to "".
//
// The returned Decision is always usable: on error it is [NoTool].
func Parse(raw string) (Decision, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return NoTool, decodeError(ReasonNoObject, raw, nil)
	}

	span := jsonc.ToJSON([]byte(raw[start : end+1]))
	dec := json.NewDecoder(bytes.NewReader(span))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return NoTool, decodeError(ReasonSyntax, raw, err)
	}
	if dec.More() {
		return NoTool, decodeError(ReasonSyntax, raw, errors.New("unexpected data after the object"))
	}

	v, ok := obj["use_tool"]
	if !ok || v == nil {
		return NoTool, decodeError(ReasonMissingUseTool, raw, nil)
	}
	use, err := asBool(v)
	if err != nil {
		return NoTool, decodeError(ReasonBadUseTool, raw, err)
	}

	return Decision{
		UseTool:   use,
		ToolName:  strings.TrimSpace(asString(obj["tool_name"])),
		ToolInput: asString(obj["tool_input"]),
	}, nil
}

func asBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return false, err
		}
		return f != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y", "1":
			return true, nil
		case "false", "no", "n", "0", "":
			return false, nil
		}
		return false, fmt.Errorf("use_tool %q is not a boolean", x)
	default:
		return false, fmt.Errorf("use_tool has type %T", v)
	}
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
