package tools

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrToolUnavailable_Error(t *testing.T) {
	err := &ErrToolUnavailable{ToolName: "web_search"}
	want := `tool "web_search" is not registered`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrToolUnavailable_WrappedErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("invoke: %w", &ErrToolUnavailable{ToolName: "fetch_page"})

	var target *ErrToolUnavailable
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to match wrapped *ErrToolUnavailable")
	}
	if target.ToolName != "fetch_page" {
		t.Errorf("ToolName = %q, want %q", target.ToolName, "fetch_page")
	}
}

func TestExecutionError_Unwrap(t *testing.T) {
	cause := errors.New("disk on fire")
	err := &ExecutionError{ToolName: "get_syllabus", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should see the handler error through ExecutionError")
	}
	if got, want := err.Error(), "tool get_syllabus: disk on fire"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
