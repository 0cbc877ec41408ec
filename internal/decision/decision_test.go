package decision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/nugget/studywithme/internal/llm"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   Decision
		reason Reason // "" means no error
	}{
		{
			name: "prose wrapped",
			raw:  `Sure! {"use_tool": true, "tool_name": "get_syllabus", "tool_input": "algebra"} Hope that helps.`,
			want: Decision{true, "get_syllabus", "algebra"},
		},
		{
			name: "code fence",
			raw:  "```json\n{\"use_tool\": false, \"tool_name\": \"\", \"tool_input\": \"\"}\n```",
			want: NoTool,
		},
		{
			name: "comments and trailing comma",
			raw:  "{\n // pick the syllabus\n \"use_tool\": true,\n \"tool_name\": \"get_syllabus\",\n \"tool_input\": \"t-test\",\n}",
			want: Decision{true, "get_syllabus", "t-test"},
		},
		{
			name: "string boolean",
			raw:  `{"use_tool": "Yes", "tool_name": " fetch_page ", "tool_input": "https://example.com"}`,
			want: Decision{true, "fetch_page", "https://example.com"},
		},
		{
			name: "numeric boolean and input",
			raw:  `{"use_tool": 1, "tool_name": "get_syllabus", "tool_input": 3}`,
			want: Decision{true, "get_syllabus", "3"},
		},
		{
			name: "missing name and input",
			raw:  `{"use_tool": true}`,
			want: Decision{true, "", ""},
		},
		{
			name: "null fields",
			raw:  `{"use_tool": false, "tool_name": null, "tool_input": null}`,
			want: NoTool,
		},
		{
			name: "object input",
			raw:  `{"use_tool": true, "tool_name": "x", "tool_input": {"lesson": "algebra"}}`,
			want: Decision{true, "x", `{"lesson":"algebra"}`},
		},
		{name: "empty", raw: "", want: NoTool, reason: ReasonNoObject},
		{name: "no braces", raw: "I would use the syllabus tool.", want: NoTool, reason: ReasonNoObject},
		{name: "reversed braces", raw: "} nope {", want: NoTool, reason: ReasonNoObject},
		{name: "broken json", raw: `{"use_tool": tru}`, want: NoTool, reason: ReasonSyntax},
		{name: "two objects", raw: `{"use_tool": true} and {"use_tool": false}`, want: NoTool, reason: ReasonSyntax},
		{name: "missing use_tool", raw: `{"tool_name": "get_syllabus"}`, want: NoTool, reason: ReasonMissingUseTool},
		{name: "null use_tool", raw: `{"use_tool": null}`, want: NoTool, reason: ReasonMissingUseTool},
		{name: "bad use_tool string", raw: `{"use_tool": "maybe"}`, want: NoTool, reason: ReasonBadUseTool},
		{name: "array use_tool", raw: `{"use_tool": [true]}`, want: NoTool, reason: ReasonBadUseTool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
			if tt.reason == "" {
				if err != nil {
					t.Errorf("Parse() err = %v, want nil", err)
				}
				return
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Parse() err = %v, want *DecodeError", err)
			}
			if de.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", de.Reason, tt.reason)
			}
		})
	}
}

func TestParse_NeverPanics(t *testing.T) {
	inputs := []string{
		"{", "}", "{}", "{{}}", `{"use_tool":}`, "\x00{\xff}", strings.Repeat("{", 1000),
		`{"use_tool": 1e999}`, `{"use_tool": true, "tool_name": ["a"]}`,
	}
	for _, in := range inputs {
		got, err := Parse(in)
		if err != nil && got != NoTool {
			t.Errorf("Parse(%q) returned %+v with error; fallback must be NoTool", in, got)
		}
	}
}

type scriptedGen struct {
	reply   string
	err     error
	prompts []string
}

func (s *scriptedGen) Generate(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.reply, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecider_Decide(t *testing.T) {
	gen := &scriptedGen{reply: `Here you go: {"use_tool": true, "tool_name": "get_syllabus", "tool_input": "algebra"}`}
	d := NewDecider(gen, quietLogger())

	got, err := d.Decide(context.Background(), "What is in the algebra lesson?", "- get_syllabus: Returns the syllabus.", "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if got != (Decision{true, "get_syllabus", "algebra"}) {
		t.Errorf("Decide() = %+v", got)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("generation calls = %d, want 1", len(gen.prompts))
	}
	if !strings.Contains(gen.prompts[0], "- get_syllabus: Returns the syllabus.") {
		t.Errorf("prompt missing tool descriptions:\n%s", gen.prompts[0])
	}
}

func TestDecider_GarbageFallsBack(t *testing.T) {
	gen := &scriptedGen{reply: "I think no tool is needed."}
	got, err := NewDecider(gen, quietLogger()).Decide(context.Background(), "hi", "", "")
	if err != nil || got != NoTool {
		t.Errorf("Decide() = %+v, %v; want NoTool, nil", got, err)
	}
}

func TestDecider_BackendError(t *testing.T) {
	boom := &llm.BackendError{Provider: "fake", StatusCode: 500, Err: errors.New("down")}
	gen := &scriptedGen{err: boom}

	got, err := NewDecider(gen, quietLogger()).Decide(context.Background(), "hi", "", "")
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want backend error", err)
	}
	if got != NoTool {
		t.Errorf("Decide() = %+v, want NoTool", got)
	}
	if len(gen.prompts) != 1 {
		t.Errorf("generation calls = %d, want 1 (no retry)", len(gen.prompts))
	}
}

func TestFingerprint(t *testing.T) {
	a, b := Fingerprint("same prompt"), Fingerprint("same prompt")
	if a != b || len(a) != 16 {
		t.Errorf("Fingerprint = %q / %q, want equal 16-char digests", a, b)
	}
	if Fingerprint("other prompt") == a {
		t.Error("different prompts should not share a fingerprint")
	}
}
