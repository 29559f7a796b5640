package sessionmgr

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/agentgate/pkg/models"
)

// defaultCompactTailSize is the minimum number of trailing messages a
// compaction must preserve verbatim.
const defaultCompactTailSize = 10

// BeforeCompactHook is invoked with the prefix about to be summarized and
// replaced, before the summary message is substituted in, plus any
// instruction the caller supplied (e.g. via "/compact <instr>"). It
// returns the summary text to use as the replacement system message's
// content; an empty return falls back to the default placeholder summary.
type BeforeCompactHook func(sessionID string, prefix []models.Message, instruction string) string

// entry is the in-memory state for one session: its record plus a
// dedicated lock so unrelated sessions never contend on a global mutex.
type entry struct {
	mu     sync.Mutex
	record *Record
}

// Manager is the Session Manager: an in-memory cache of session records
// backed by a pluggable Store, providing the append-only message log,
// pairing-invariant repair, token estimation, and compaction.
type Manager struct {
	store Store

	mu       sync.RWMutex
	sessions map[string]*entry

	mainMu sync.RWMutex
	mainID string

	hookMu sync.Mutex
	hook   BeforeCompactHook
}

// New returns a Manager backed by store.
func New(store Store) *Manager {
	return &Manager{
		store:    store,
		sessions: make(map[string]*entry),
	}
}

// SessionID derives the canonical session id from a channel and user id.
func SessionID(channel, userID string) string {
	return fmt.Sprintf("%s:%s", channel, userID)
}

// SetBeforeCompactHook installs a callback invoked just before a compaction
// replaces a prefix of messages with a summary. Without one installed,
// CompactWithSummary falls back to a terse placeholder summary.
func (m *Manager) SetBeforeCompactHook(hook BeforeCompactHook) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.hook = hook
}

// SetMainSession marks id as the gateway's main session.
func (m *Manager) SetMainSession(id string) {
	m.mainMu.Lock()
	defer m.mainMu.Unlock()
	m.mainID = id
}

// GetMainSessionID returns the current main session id, or "" if unset.
func (m *Manager) GetMainSessionID() string {
	m.mainMu.RLock()
	defer m.mainMu.RUnlock()
	return m.mainID
}

// lockedEntry returns the entry for id, loading it from the store on first
// access, and locks it before returning. The lock is held by the caller on
// every return except a non-ErrNotFound load failure: callers must unlock
// e.mu exactly once whenever err is nil or ErrNotFound.
func (m *Manager) lockedEntry(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		e, ok = m.sessions[id]
		if !ok {
			e = &entry{}
			m.sessions[id] = e
		}
		m.mu.Unlock()
	}

	e.mu.Lock()
	if e.record == nil {
		rec, err := m.store.Load(id)
		if err != nil && err != ErrNotFound {
			e.mu.Unlock()
			return nil, err
		}
		if err == ErrNotFound {
			return e, ErrNotFound
		}
		e.record = rec
	}
	return e, nil
}

// GetOrCreate returns the session for (channel, userID), creating it (and
// persisting the empty record) if it doesn't exist yet.
func (m *Manager) GetOrCreate(channel, userID string) (*models.Session, error) {
	id := SessionID(channel, userID)

	e, err := m.lockedEntry(id)
	if err == nil {
		defer e.mu.Unlock()
		sess := e.record.Session
		return &sess, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	now := time.Now()
	e.record = &Record{
		Session: models.Session{
			ID:        id,
			Channel:   channel,
			UserID:    userID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Messages: []models.Message{},
	}
	if err := m.store.Save(e.record); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	sess := e.record.Session
	e.mu.Unlock()
	return &sess, nil
}

// GetSession returns a session's identity/metadata record by id.
func (m *Manager) GetSession(id string) (*models.Session, error) {
	e, err := m.lockedEntry(id)
	if err != nil {
		if e != nil {
			e.mu.Unlock()
		}
		return nil, err
	}
	defer e.mu.Unlock()
	sess := e.record.Session
	return &sess, nil
}

// SetElevated sets the session's elevated flag, used by the scheduler to
// mark heartbeat/scheduled turns and by the gateway's /elevated command.
func (m *Manager) SetElevated(id string, elevated bool) error {
	e, err := m.lockedEntry(id)
	if err != nil {
		if e != nil {
			e.mu.Unlock()
		}
		return err
	}
	defer e.mu.Unlock()

	e.record.Session.Elevated = elevated
	e.record.Session.UpdatedAt = time.Now()
	return m.store.Save(e.record)
}

// AddMessage appends msg to the session's log and persists it. A session
// that does not exist yet is created by this first append; when id has the
// "<channel>:<userId>" form, its channel and user id are taken from it.
func (m *Manager) AddMessage(id string, msg models.Message) error {
	e, err := m.lockedEntry(id)
	if err == ErrNotFound {
		now := time.Now()
		sess := models.Session{ID: id, CreatedAt: now, UpdatedAt: now}
		if channel, userID, ok := strings.Cut(id, ":"); ok {
			sess.Channel, sess.UserID = channel, userID
		}
		e.record = &Record{Session: sess, Messages: []models.Message{}}
		err = nil
	}
	if err != nil {
		if e != nil {
			e.mu.Unlock()
		}
		return err
	}
	defer e.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	e.record.Messages = append(e.record.Messages, msg)
	e.record.Session.MessageCount = len(e.record.Messages)
	e.record.Session.UpdatedAt = time.Now()
	return m.store.Save(e.record)
}

// GetMessages returns a copy of the session's message log.
func (m *Manager) GetMessages(id string) ([]models.Message, error) {
	e, err := m.lockedEntry(id)
	if err != nil {
		if e != nil {
			e.mu.Unlock()
		}
		return nil, err
	}
	defer e.mu.Unlock()

	out := make([]models.Message, len(e.record.Messages))
	copy(out, e.record.Messages)
	return out, nil
}

// SaveSession flushes a single session's current in-memory state to the store.
func (m *Manager) SaveSession(id string) error {
	e, err := m.lockedEntry(id)
	if err != nil {
		if e != nil {
			e.mu.Unlock()
		}
		return err
	}
	defer e.mu.Unlock()
	return m.store.Save(e.record)
}

// ListSessions returns identity/metadata records for every known session,
// cached or not, for the gateway's /api/sessions route.
func (m *Manager) ListSessions() ([]models.Session, error) {
	ids, err := m.store.List()
	if err != nil {
		return nil, err
	}
	out := make([]models.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := m.GetSession(id)
		if err != nil {
			continue
		}
		out = append(out, *sess)
	}
	return out, nil
}

// SaveAll flushes every cached session to the store.
func (m *Manager) SaveAll() error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.SaveSession(id); err != nil {
			return fmt.Errorf("save session %s: %w", id, err)
		}
	}
	return nil
}

// DeleteSession removes a session from both the cache and the store.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return m.store.Delete(id)
}

// ResetSession clears a session's message log in place, keeping its identity.
func (m *Manager) ResetSession(id string) error {
	e, err := m.lockedEntry(id)
	if err != nil {
		if e != nil {
			e.mu.Unlock()
		}
		return err
	}
	defer e.mu.Unlock()

	e.record.Messages = []models.Message{}
	e.record.Session.MessageCount = 0
	e.record.Session.UpdatedAt = time.Now()
	return m.store.Save(e.record)
}

// DuplicateSession copies srcID's message log into a new session under
// (channel, userID), returning the new session.
func (m *Manager) DuplicateSession(srcID, channel, userID string) (*models.Session, error) {
	src, err := m.lockedEntry(srcID)
	if err != nil {
		if src != nil {
			src.mu.Unlock()
		}
		return nil, err
	}
	msgs := make([]models.Message, len(src.record.Messages))
	copy(msgs, src.record.Messages)
	src.mu.Unlock()

	dstID := SessionID(channel, userID)
	dst, err := m.lockedEntry(dstID)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	now := time.Now()
	dst.record = &Record{
		Session: models.Session{
			ID:           dstID,
			Channel:      channel,
			UserID:       userID,
			MessageCount: len(msgs),
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		Messages: msgs,
	}
	if err := m.store.Save(dst.record); err != nil {
		dst.mu.Unlock()
		return nil, err
	}
	sess := dst.record.Session
	dst.mu.Unlock()
	return &sess, nil
}

// EstimateTokens approximates the token count of a session's log as
// ceil(len(content)/4) per message plus a small fixed per-message overhead,
// matching the rough heuristic providers use for context-window budgeting.
func EstimateTokens(msgs []models.Message) int {
	const overheadPerMessage = 4
	total := 0
	for _, msg := range msgs {
		total += (len(msg.Content) + 3) / 4
		total += overheadPerMessage
		for _, tc := range msg.ToolCalls {
			total += (len(tc.Arguments) + 3) / 4
		}
	}
	return total
}

// EstimateTokens returns the token estimate for a live session's current log.
func (m *Manager) EstimateTokens(id string) (int, error) {
	e, err := m.lockedEntry(id)
	if err != nil {
		if e != nil {
			e.mu.Unlock()
		}
		return 0, err
	}
	defer e.mu.Unlock()
	return EstimateTokens(e.record.Messages), nil
}

// DeleteMessageAt removes the message at index idx from the session's log.
func (m *Manager) DeleteMessageAt(id string, idx int) error {
	e, err := m.lockedEntry(id)
	if err != nil {
		if e != nil {
			e.mu.Unlock()
		}
		return err
	}
	defer e.mu.Unlock()

	if idx < 0 || idx >= len(e.record.Messages) {
		return fmt.Errorf("message index %d out of range", idx)
	}
	e.record.Messages = append(e.record.Messages[:idx], e.record.Messages[idx+1:]...)
	e.record.Messages = repairToolPairs(e.record.Messages)
	e.record.Session.MessageCount = len(e.record.Messages)
	e.record.Session.UpdatedAt = time.Now()
	return m.store.Save(e.record)
}

// EditMessageAt replaces the content of the message at index idx, leaving
// its role, tool calls, and tool_call_id untouched.
func (m *Manager) EditMessageAt(id string, idx int, content string) error {
	e, err := m.lockedEntry(id)
	if err != nil {
		if e != nil {
			e.mu.Unlock()
		}
		return err
	}
	defer e.mu.Unlock()

	if idx < 0 || idx >= len(e.record.Messages) {
		return fmt.Errorf("message index %d out of range", idx)
	}
	e.record.Messages[idx].Content = content
	e.record.Session.UpdatedAt = time.Now()
	return m.store.Save(e.record)
}

// RepairToolPairs removes orphaned tool messages from a session's log: any
// tool message whose tool_call_id doesn't match a tool_calls entry on the
// most recent preceding assistant message, with no intervening user message.
func (m *Manager) RepairToolPairs(id string) error {
	e, err := m.lockedEntry(id)
	if err != nil {
		if e != nil {
			e.mu.Unlock()
		}
		return err
	}
	defer e.mu.Unlock()

	e.record.Messages = repairToolPairs(e.record.Messages)
	e.record.Session.MessageCount = len(e.record.Messages)
	return m.store.Save(e.record)
}
