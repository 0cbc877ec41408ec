package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/studywithme/internal/kvstore"
)

// Defaults used when [Options] fields are zero.
const (
	DefaultMaxTurns    = 2
	DefaultTTL         = 24 * time.Hour
	DefaultMaxAttempts = 5
)

// Options configures a [Store].
type Options struct {
	// MaxTurns is the number of exchanges kept; the history is bounded
	// to 2*MaxTurns turns.
	MaxTurns int
	// TTL is applied on every write. Negative disables expiry.
	TTL time.Duration
	// MaxAttempts bounds the compare-and-swap retries of one append.
	MaxAttempts int
	Logger      *slog.Logger
}

// Store persists sessions in a [kvstore.Store]. It is safe for
// concurrent use; mutations for one user are serialized while
// different users proceed independently.
type Store struct {
	kv          kvstore.Store
	maxTurns    int
	ttl         time.Duration
	maxAttempts int
	locks       *keyedMutex
	logger      *slog.Logger
}

// NewStore creates a history store over kv.
func NewStore(kv kvstore.Store, opts Options) *Store {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.TTL < 0 {
		opts.TTL = 0
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		kv:          kv,
		maxTurns:    opts.MaxTurns,
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
		locks:       newKeyedMutex(),
		logger:      opts.Logger.With("component", "history"),
	}
}

// Key returns the backing-store key for a user's session.
func Key(userID string) string {
	return "session:" + userID
}

// MaxTurns returns the configured exchange bound.
func (s *Store) MaxTurns() int { return s.maxTurns }

func (s *Store) limit() int { return 2 * s.maxTurns }

// GetSession returns the user's session. It never fails: a missing
// record, a backend read error and an undecodable record all yield an
// empty session, the latter two logged at warn.
func (s *Store) GetSession(ctx context.Context, userID string) Session {
	sess, _ := s.load(ctx, userID)
	return sess
}

// load reads the session along with the version to compare against on
// write. A read error reports version 0: the following CompareAndSwap
// then only succeeds if no record exists, so an unreadable session is
// never silently replaced.
func (s *Store) load(ctx context.Context, userID string) (Session, int64) {
	key := Key(userID)
	entry, found, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("session read failed, using empty session",
			"user_id", userID, "error", err)
		return Session{UserID: userID}, 0
	}
	if !found {
		return Session{UserID: userID}, 0
	}

	sess, dropped, err := decodeSession(userID, entry.Value)
	if err != nil {
		s.logger.Warn("session record corrupt, using empty session",
			"user_id", userID, "version", entry.Version, "error", err)
		return Session{UserID: userID}, entry.Version
	}
	if dropped > 0 {
		s.logger.Warn("dropped turns with unknown role",
			"user_id", userID, "dropped", dropped)
	}
	sess.History = truncate(sess.History, s.limit())
	return sess, entry.Version
}

// AppendTurn adds one turn to the user's session and persists it. The
// read, append, truncate and write happen as one critical section for
// userID; the write is a compare-and-swap on the version read, and a
// lost race (another process wrote in between) restarts the whole
// sequence, up to the configured number of attempts.
//
// The returned session is what was written. Write failures are reported
// as *[PersistenceError].
func (s *Store) AppendTurn(ctx context.Context, userID string, role Role, content string) (Session, error) {
	if !role.Valid() {
		return Session{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	key := Key(userID)
	var conflict error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		sess, version := s.load(ctx, userID)

		turns := make([]Turn, 0, len(sess.History)+1)
		turns = append(turns, sess.History...)
		turns = append(turns, Turn{Role: role, Content: content})
		sess.History = truncate(turns, s.limit())
		if role == RoleAssistant {
			sess.LastAnswer = content
		}

		if err := ctx.Err(); err != nil {
			return Session{}, &PersistenceError{UserID: userID, Op: "append", Err: err}
		}

		data, err := encodeSession(sess)
		if err != nil {
			return Session{}, &PersistenceError{UserID: userID, Op: "encode", Err: err}
		}

		_, err = s.kv.CompareAndSwap(ctx, key, data, version, s.ttl)
		if err == nil {
			s.logger.Debug("turn appended",
				"user_id", userID, "role", role, "turns", len(sess.History), "attempt", attempt)
			return sess, nil
		}
		if !errors.Is(err, kvstore.ErrVersionConflict) {
			return Session{}, &PersistenceError{UserID: userID, Op: "write", Err: err}
		}

		conflict = err
		s.logger.Debug("session changed concurrently, retrying",
			"user_id", userID, "attempt", attempt)
	}

	return Session{}, &PersistenceError{
		UserID: userID,
		Op:     "append",
		Err:    fmt.Errorf("gave up after %d attempts: %w", s.maxAttempts, conflict),
	}
}

// SaveSession overwrites the user's session unconditionally, applying
// the history bound and the store TTL.
func (s *Store) SaveSession(ctx context.Context, userID string, sess Session) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	for _, t := range sess.History {
		if !t.Role.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidRole, t.Role)
		}
	}
	sess.UserID = userID
	sess.History = truncate(sess.History, s.limit())

	data, err := encodeSession(sess)
	if err != nil {
		return &PersistenceError{UserID: userID, Op: "encode", Err: err}
	}
	if _, err := s.kv.Set(ctx, Key(userID), data, s.ttl); err != nil {
		return &PersistenceError{UserID: userID, Op: "save", Err: err}
	}
	return nil
}
