package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nugget/studywithme/internal/agent"
	"github.com/nugget/studywithme/internal/history"
	"github.com/nugget/studywithme/internal/kvstore"
	"github.com/nugget/studywithme/internal/llm"
	"github.com/nugget/studywithme/internal/prompts"
	"github.com/nugget/studywithme/internal/tools"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer wires a real orchestrator over an in-memory store.
// answer produces the final reply; decision prompts always pick no tool.
func newTestServer(t *testing.T, answer func(prompt string) (string, error)) (*Server, *history.Store) {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	t.Cleanup(func() { kv.Close() })

	store := history.NewStore(kv, history.Options{MaxTurns: 2, Logger: quietLogger()})
	gen := llm.GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, `"use_tool"`) {
			return `{"use_tool": false}`, nil
		}
		return answer(prompt)
	})
	orch := agent.New(store, tools.NewRegistry(), gen, agent.Options{Logger: quietLogger()})
	return NewServer("", 0, orch, store, quietLogger()), store
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChat_OK(t *testing.T) {
	srv, store := newTestServer(t, func(string) (string, error) { return "A1", nil })

	rec := post(t, srv.Handler(), `{"user_id": "alice", "query": "Q1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var got ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := ChatResponse{UserID: "alice", Query: "Q1", Response: "A1"}
	if got != want {
		t.Errorf("response = %+v, want %+v", got, want)
	}

	sess := store.GetSession(context.Background(), "alice")
	if len(sess.History) != 2 {
		t.Errorf("stored %d turns, want 2", len(sess.History))
	}
}

func TestChat_DefaultUser(t *testing.T) {
	srv, _ := newTestServer(t, func(string) (string, error) { return "hi", nil })

	rec := post(t, srv.Handler(), `{"query": "hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got ChatResponse
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.UserID != agent.DefaultUserID {
		t.Errorf("user_id = %q, want %q", got.UserID, agent.DefaultUserID)
	}
}

func TestChat_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, func(string) (string, error) {
		t.Error("backend should not be called")
		return "", nil
	})

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"user_id": `},
		{"not an object", `"hello"`},
		{"empty query", `{"user_id": "alice", "query": ""}`},
		{"blank query", `{"user_id": "alice", "query": "   "}`},
		{"missing query", `{"user_id": "alice"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, srv.Handler(), tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["detail"] == "" {
				t.Errorf("body = %s, want {\"detail\": ...}", rec.Body)
			}
		})
	}
}

func TestChat_BackendFailure(t *testing.T) {
	srv, store := newTestServer(t, func(string) (string, error) {
		return "", &llm.BackendError{Provider: "gemini", StatusCode: 503, Err: errors.New("unavailable")}
	})

	rec := post(t, srv.Handler(), `{"user_id": "bob", "query": "Q"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(body["detail"], prompts.Apology) {
		t.Errorf("detail = %q, want apology prefix", body["detail"])
	}

	sess := store.GetSession(context.Background(), "bob")
	if len(sess.History) != 1 || sess.History[0].Role != history.RoleUser {
		t.Errorf("history = %+v, want only the user turn", sess.History)
	}
}

// stubResponder returns a fixed result and error.
type stubResponder struct {
	res *agent.Result
	err error
}

func (s stubResponder) Respond(_ context.Context, userID, query string) (*agent.Result, error) {
	return s.res, s.err
}

func TestChat_PersistFailureStillAnswers(t *testing.T) {
	stub := stubResponder{
		res: &agent.Result{UserID: "carol", Query: "Q", Answer: "generated"},
		err: &agent.ExchangeError{Stage: agent.StagePersist, UserID: "carol", Err: errors.New("disk full")},
	}
	srv := NewServer("", 0, stub, nil, quietLogger())

	rec := post(t, srv.Handler(), `{"user_id": "carol", "query": "Q"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got ChatResponse
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Response != "generated" {
		t.Errorf("response = %q, want generated", got.Response)
	}
}

func TestChat_CancelledIsServerError(t *testing.T) {
	stub := stubResponder{
		res: &agent.Result{UserID: "dave", Query: "Q", Answer: prompts.Apology},
		err: &agent.ExchangeError{Stage: agent.StageCancelled, UserID: "dave", Err: context.Canceled},
	}
	srv := NewServer("", 0, stub, nil, quietLogger())

	rec := post(t, srv.Handler(), `{"user_id": "dave", "query": "Q"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv := NewServer("", 0, stubResponder{}, nil, quietLogger())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"status":"ok"}` {
		t.Errorf("body = %s", got)
	}
}

func TestVersion(t *testing.T) {
	srv := NewServer("", 0, stubResponder{}, nil, quietLogger())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, k := range []string{"version", "go_version", "uptime"} {
		if _, ok := info[k]; !ok {
			t.Errorf("missing %q in %v", k, info)
		}
	}
}

func TestSession(t *testing.T) {
	srv, _ := newTestServer(t, func(string) (string, error) { return "A1", nil })
	h := srv.Handler()
	post(t, h, `{"user_id": "erin", "query": "Q1"}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/erin", nil))
	var got SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UserID != "erin" || len(got.History) != 2 || got.LastAnswer != "A1" {
		t.Errorf("session = %+v", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/nobody", nil))
	if !strings.Contains(rec.Body.String(), `"history":[]`) {
		t.Errorf("empty session body = %s, want empty history array", rec.Body)
	}
}

func TestSession_NotConfigured(t *testing.T) {
	srv := NewServer("", 0, stubResponder{}, nil, quietLogger())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/x", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestChat_MethodNotAllowed(t *testing.T) {
	srv := NewServer("", 0, stubResponder{}, nil, quietLogger())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
