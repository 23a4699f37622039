package session

import (
	"sort"
	"sync"

	"github.com/xr-voice-gateway/internal/logging"
)

// State is a session's lifecycle state.
type State int

const (
	StateUnknown State = iota
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

type memoryEntry struct {
	state   State
	history *History
}

// Memory maps session ids to their conversation history. Entries are
// created on connect and removed on disconnect.
type Memory struct {
	mu       sync.RWMutex
	entries  map[string]*memoryEntry
	capacity int
}

// NewMemory returns an empty store whose histories keep capacity turns
// (HistoryCapacity when capacity <= 0).
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &Memory{entries: make(map[string]*memoryEntry), capacity: capacity}
}

// OnConnect creates an empty history for sid, replacing any existing one.
func (m *Memory) OnConnect(sid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sid] = &memoryEntry{state: StateActive, history: NewHistory(m.capacity)}
}

// MarkClosing flags sid as shutting down. It reports whether sid was known.
func (m *Memory) MarkClosing(sid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sid]
	if ok {
		e.state = StateClosing
	}
	return ok
}

// OnDisconnect deletes every piece of state held for sid.
func (m *Memory) OnDisconnect(sid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sid)
}

func (m *Memory) State(sid string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[sid]; ok {
		return e.state
	}
	return StateUnknown
}

// History returns sid's turns oldest first, or an empty slice when sid is
// unknown.
func (m *Memory) History(sid string) []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[sid]
	if !ok {
		return []Turn{}
	}
	return e.history.Turns()
}

// AppendTurn records one turn for sid and enforces the capacity. For an
// unknown sid the turn lands in a transient history that is discarded.
func (m *Memory) AppendTurn(sid string, role Role, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sid]
	if !ok {
		logging.Debugw("memory: append for unknown session discarded", "session_id", sid, "role", role)
		return
	}
	e.history.Append(Turn{Role: role, Text: text})
}

// AppendExchange records a human turn and the agent's answer together so
// readers never observe one without the other.
func (m *Memory) AppendExchange(sid, humanText, agentText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sid]
	if !ok {
		logging.Debugw("memory: exchange for unknown session discarded", "session_id", sid)
		return
	}
	e.history.Append(Turn{Role: RoleHuman, Text: humanText})
	e.history.Append(Turn{Role: RoleAgent, Text: agentText})
}

// Len returns the number of tracked sessions.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Sessions returns the tracked session ids in sorted order.
func (m *Memory) Sessions() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
