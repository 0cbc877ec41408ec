package history

import (
	"errors"
	"fmt"
)

// ErrInvalidRole is returned when appending a turn whose role is not
// user or assistant.
var ErrInvalidRole = errors.New("history: invalid role")

// PersistenceError reports that a session could not be written. Reads
// never produce it; they degrade to an empty session instead.
type PersistenceError struct {
	UserID string
	Op     string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist session %q: %s: %v", e.UserID, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
