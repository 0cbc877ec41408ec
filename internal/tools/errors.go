package tools

import "fmt"

// ErrToolUnavailable is returned when [Registry.Invoke] is asked for a
// name that was never registered. Callers check [Registry.Has] first,
// so seeing this error means a programming mistake rather than a
// runtime condition worth retrying.
type ErrToolUnavailable struct {
	ToolName string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.ToolName)
}

// ExecutionError wraps a failure raised by a tool handler, including a
// recovered panic.
type ExecutionError struct {
	ToolName string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.ToolName, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
