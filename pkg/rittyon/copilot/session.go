// session.go implements per-user session isolation.
// Each user has one conversation session holding the personality mode and a
// short sliding window of recent prompts.
package copilot

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rittyon/rittyonbot/pkg/rittyon/persona"
)

// DefaultMaxHistory is the sliding window size for a session's history.
const DefaultMaxHistory = 4

// RoleUser tags turns written by the user.
const RoleUser = "user"

// Turn is one history entry.
type Turn struct {
	Role      string
	Text      string
	Timestamp time.Time
}

// Session is one user's conversational state.
type Session struct {
	// UserID is the opaque platform user identifier.
	UserID string

	// CreatedAt is the timestamp the session was created.
	CreatedAt time.Time

	mode       string
	history    []Turn
	maxHistory int

	// epoch identifies the current conversational context. Mode changes and
	// resets bump it so turns started under an older context are discarded.
	epoch uint64

	lastActiveAt time.Time

	mu sync.RWMutex
}

// Mode returns the current personality mode.
func (s *Session) Mode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// History returns a copy of the history window.
func (s *Session) History() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// HistoryLen returns the number of entries in the history window.
func (s *Session) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// LastActiveAt returns the last activity timestamp.
func (s *Session) LastActiveAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActiveAt
}

// snapshot returns mode, history and epoch read under a single lock.
func (s *Session) snapshot() (string, []Turn, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := make([]Turn, len(s.history))
	copy(h, s.history)
	return s.mode, h, s.epoch
}

// appendLocked adds turn and trims the window. Caller holds s.mu.
func (s *Session) appendLocked(turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	s.history = append(s.history, turn)
	if s.maxHistory > 0 && len(s.history) > s.maxHistory {
		// Copy so the dropped entries don't stay reachable from the backing array.
		trimmed := make([]Turn, s.maxHistory)
		copy(trimmed, s.history[len(s.history)-s.maxHistory:])
		s.history = trimmed
	}
	s.lastActiveAt = time.Now()
}

// SessionStore owns every user's session, keyed by user ID.
type SessionStore struct {
	sessions   map[string]*Session
	catalog    *persona.Catalog
	maxHistory int
	logger     *slog.Logger
	mu         sync.RWMutex
}

// NewSessionStore creates a store whose sessions default to the catalog's
// default mode and keep at most maxHistory turns.
func NewSessionStore(catalog *persona.Catalog, maxHistory int, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = persona.Builtin()
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &SessionStore{
		sessions:   make(map[string]*Session),
		catalog:    catalog,
		maxHistory: maxHistory,
		logger:     logger.With("component", "sessions"),
	}
}

// MaxHistory returns the history window size.
func (ss *SessionStore) MaxHistory() int { return ss.maxHistory }

// GetOrCreate returns the existing session or creates one in the default mode.
func (ss *SessionStore) GetOrCreate(userID string) *Session {
	ss.mu.RLock()
	if session, exists := ss.sessions[userID]; exists {
		ss.mu.RUnlock()
		return session
	}
	ss.mu.RUnlock()

	ss.mu.Lock()
	defer ss.mu.Unlock()

	// Double-check after taking the write lock.
	if session, exists := ss.sessions[userID]; exists {
		return session
	}

	now := time.Now()
	session := &Session{
		UserID:       userID,
		CreatedAt:    now,
		mode:         ss.catalog.Default(),
		history:      []Turn{},
		maxHistory:   ss.maxHistory,
		lastActiveAt: now,
	}
	ss.sessions[userID] = session
	ss.logger.Debug("session created", "user_id", userID, "mode", session.mode)
	return session
}

// Get returns the session for userID, or nil if there is none.
func (ss *SessionStore) Get(userID string) *Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.sessions[userID]
}

// SetMode switches userID to mode, starting a fresh exchange: the history is
// cleared and any turn still in flight is discarded. Unknown modes are
// rejected before any session is created or touched.
func (ss *SessionStore) SetMode(userID, mode string) error {
	if _, err := ss.catalog.ContextFor(mode); err != nil {
		return err
	}

	s := ss.GetOrCreate(userID)
	s.mu.Lock()
	s.mode = mode
	s.history = []Turn{}
	s.epoch++
	s.lastActiveAt = time.Now()
	s.mu.Unlock()

	ss.logger.Info("session mode changed", "user_id", userID, "mode", mode)
	return nil
}

// ResetHistory clears userID's history. Returns false when the user has no
// session, which is not an error.
func (ss *SessionStore) ResetHistory(userID string) bool {
	s := ss.Get(userID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	s.history = []Turn{}
	s.epoch++
	s.lastActiveAt = time.Now()
	s.mu.Unlock()

	ss.logger.Info("session history reset", "user_id", userID)
	return true
}

// AppendTurn appends turn to userID's history, creating the session if needed.
func (ss *SessionStore) AppendTurn(userID string, turn Turn) {
	s := ss.GetOrCreate(userID)
	s.mu.Lock()
	s.appendLocked(turn)
	s.mu.Unlock()
}

// AppendTurnIfCurrent appends turn only if the session's context is still the
// one identified by epoch. Returns false when the turn was discarded.
func (ss *SessionStore) AppendTurnIfCurrent(userID string, epoch uint64, turn Turn) bool {
	s := ss.GetOrCreate(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	s.appendLocked(turn)
	return true
}

// Count returns the number of active sessions.
func (ss *SessionStore) Count() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// SessionMeta holds read-only metadata for a session (for listing).
type SessionMeta struct {
	UserID       string    `json:"user_id"`
	Mode         string    `json:"mode"`
	HistoryLen   int       `json:"history_len"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// List returns metadata for all sessions in the store.
func (ss *SessionStore) List() []SessionMeta {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	out := make([]SessionMeta, 0, len(ss.sessions))
	for _, s := range ss.sessions {
		s.mu.RLock()
		out = append(out, SessionMeta{
			UserID:       s.UserID,
			Mode:         s.mode,
			HistoryLen:   len(s.history),
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.lastActiveAt,
		})
		s.mu.RUnlock()
	}
	return out
}
