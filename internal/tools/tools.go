// Package tools holds the named side tools the orchestrator may invoke
// between the decision and the final generation.
//
// A [Registry] is filled at startup and read-only afterwards; it does
// no locking. Tool descriptions are embedded verbatim in the decision
// prompt, so [Registry.Register] flattens them to one line and swaps
// curly braces for parentheses to keep the JSON reply format intact.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Handler runs a tool on its text input.
type Handler func(ctx context.Context, input string) (string, error)

// Tool is a named capability with a one-line description.
type Tool struct {
	Name        string
	Description string
	Handler     Handler
}

// Registry maps tool names to tools, preserving registration order.
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t. Registering an existing name replaces the earlier
// tool in place, so it keeps its position in [Registry.DescribeAll].
func (r *Registry) Register(t Tool) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("tools: empty tool name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: %s: nil handler", t.Name)
	}
	t.Description = normalizeDescription(t.Description)

	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// DescribeAll renders "- name: description" lines in registration
// order, joined by newlines. An empty registry renders "".
func (r *Registry) DescribeAll() string {
	lines := make([]string, 0, len(r.order))
	for _, name := range r.order {
		lines = append(lines, "- "+name+": "+r.tools[name].Description)
	}
	return strings.Join(lines, "\n")
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Invoke runs the named tool. An unregistered name is a caller bug and
// yields *[ErrToolUnavailable]; a failing or panicking handler yields
// *[ExecutionError].
func (r *Registry) Invoke(ctx context.Context, name, input string) (out string, err error) {
	t, ok := r.tools[name]
	if !ok {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	defer func() {
		if p := recover(); p != nil {
			out = ""
			err = &ExecutionError{ToolName: name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	out, err = t.Handler(ctx, input)
	if err != nil {
		return "", &ExecutionError{ToolName: name, Err: err}
	}
	return out, nil
}

var braceReplacer = strings.NewReplacer("{", "(", "}", ")")

func normalizeDescription(s string) string {
	return braceReplacer.Replace(strings.Join(strings.Fields(s), " "))
}
