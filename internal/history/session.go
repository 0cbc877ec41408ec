// Package history keeps the bounded, per-user conversation log.
//
// A session holds at most 2*maxTurns turns; appending past that drops
// the oldest turns first. Sessions are persisted through a
// [kvstore.Store] under "session:<userID>" and every mutation is a
// read-modify-write serialized per user (see [Store.AppendTurn]).
package history

import (
	"encoding/json"
	"strings"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one role-tagged message. Turns are never modified after they
// are appended.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is a user's bounded conversation state.
type Session struct {
	UserID  string
	History []Turn
	// LastAnswer caches the most recent assistant reply. It is auxiliary;
	// History is authoritative.
	LastAnswer string
}

// Transcript renders the history as "role: content" lines in
// chronological order.
func (s Session) Transcript() string {
	return RenderTurns(s.History)
}

// RenderTurns renders turns as "role: content" lines joined by newlines.
func RenderTurns(turns []Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = string(t.Role) + ": " + t.Content
	}
	return strings.Join(lines, "\n")
}

// record is the persisted JSON layout.
type record struct {
	History    []Turn `json:"history"`
	LastAnswer string `json:"last_answer,omitempty"`
}

func encodeSession(s Session) (string, error) {
	rec := record{History: s.History, LastAnswer: s.LastAnswer}
	if rec.History == nil {
		rec.History = []Turn{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeSession parses a stored record. Unknown fields are ignored and
// turns with an unknown role are dropped; the returned count reports how
// many. An unparseable record is an error, which callers treat as an
// empty session.
func decodeSession(userID, raw string) (Session, int, error) {
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Session{UserID: userID}, 0, err
	}

	s := Session{UserID: userID, LastAnswer: rec.LastAnswer}
	dropped := 0
	for _, t := range rec.History {
		if !t.Role.Valid() {
			dropped++
			continue
		}
		s.History = append(s.History, t)
	}
	return s, dropped, nil
}

// truncate keeps the most recent limit turns. The result never aliases
// the input's dropped prefix.
func truncate(turns []Turn, limit int) []Turn {
	if len(turns) <= limit {
		return turns
	}
	out := make([]Turn, limit)
	copy(out, turns[len(turns)-limit:])
	return out
}
