package session

// Role identifies who spoke a turn.
type Role string

const (
	RoleHuman Role = "human"
	RoleAgent Role = "agent"
)

// HistoryCapacity is the number of turns kept per session (3 exchanges).
const HistoryCapacity = 6

// Turn is one recorded utterance.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// History is a fixed-capacity FIFO of turns. When full, appending evicts
// the oldest turn. The zero value is an empty history with the default
// capacity.
type History struct {
	turns    []Turn
	capacity int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &History{turns: make([]Turn, 0, capacity), capacity: capacity}
}

func (h *History) Cap() int {
	if h.capacity <= 0 {
		return HistoryCapacity
	}
	return h.capacity
}

func (h *History) Len() int { return len(h.turns) }

// Append records t, evicting from the front until the length fits.
func (h *History) Append(t Turn) {
	h.turns = append(h.turns, t)
	if over := len(h.turns) - h.Cap(); over > 0 {
		kept := make([]Turn, h.Cap(), h.Cap())
		copy(kept, h.turns[over:])
		h.turns = kept
	}
}

// Turns returns a copy of the turns, oldest first.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}
