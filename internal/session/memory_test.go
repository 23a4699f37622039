package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryEvictsOldestFirst(t *testing.T) {
	m := NewMemory(HistoryCapacity)
	m.OnConnect("A")

	for i := 0; i < HistoryCapacity+4; i++ {
		m.AppendTurn("A", RoleHuman, fmt.Sprintf("turn-%d", i))
	}

	got := m.History("A")
	require.Len(t, got, HistoryCapacity)
	for i, turn := range got {
		assert.Equal(t, fmt.Sprintf("turn-%d", i+4), turn.Text)
	}
}

func TestHistoryNeverExceedsCapacity(t *testing.T) {
	h := NewHistory(0)
	assert.Equal(t, HistoryCapacity, h.Cap())
	for i := 0; i < 25; i++ {
		h.Append(Turn{Role: RoleAgent, Text: fmt.Sprint(i)})
		assert.LessOrEqual(t, h.Len(), HistoryCapacity)
	}
	assert.Equal(t, "24", h.Turns()[HistoryCapacity-1].Text)
}

func TestHistoryTurnsIsACopy(t *testing.T) {
	h := NewHistory(2)
	h.Append(Turn{Role: RoleHuman, Text: "a"})
	turns := h.Turns()
	turns[0].Text = "mutated"
	assert.Equal(t, "a", h.Turns()[0].Text)
}

func TestExchangeRecordsBothRoles(t *testing.T) {
	m := NewMemory(0)
	m.OnConnect("A")
	m.AppendExchange("A", "hello", "hi there")
	assert.Equal(t, []Turn{{RoleHuman, "hello"}, {RoleAgent, "hi there"}}, m.History("A"))
}

func TestDisconnectRemovesSession(t *testing.T) {
	m := NewMemory(HistoryCapacity)
	m.OnConnect("A")
	m.OnConnect("B")
	m.AppendTurn("A", RoleHuman, "hello")
	require.Equal(t, 2, m.Len())

	m.OnDisconnect("A")

	assert.Equal(t, 1, m.Len())
	assert.Empty(t, m.History("A"))
	assert.NotNil(t, m.History("A"))
	assert.Equal(t, StateUnknown, m.State("A"))
	assert.Equal(t, []string{"B"}, m.Sessions())
}

func TestAppendUnknownSessionIsNoop(t *testing.T) {
	m := NewMemory(HistoryCapacity)
	m.AppendTurn("ghost", RoleHuman, "boo")
	m.AppendExchange("ghost", "boo", "who")
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.History("ghost"))
}

func TestConnectTwiceResetsHistory(t *testing.T) {
	m := NewMemory(HistoryCapacity)
	m.OnConnect("A")
	m.AppendTurn("A", RoleHuman, "hello")
	m.OnConnect("A")
	assert.Empty(t, m.History("A"))
	assert.Equal(t, StateActive, m.State("A"))
}

func TestMarkClosing(t *testing.T) {
	m := NewMemory(HistoryCapacity)
	assert.False(t, m.MarkClosing("A"))
	m.OnConnect("A")
	assert.True(t, m.MarkClosing("A"))
	assert.Equal(t, StateClosing, m.State("A"))
	assert.Equal(t, "closing", m.State("A").String())
}

func TestConcurrentSessions(t *testing.T) {
	m := NewMemory(HistoryCapacity)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		sid := fmt.Sprintf("s%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.OnConnect(sid)
			for j := 0; j < 20; j++ {
				m.AppendExchange(sid, "q", "a")
				_ = m.History(sid)
			}
			if len(sid)%2 == 0 {
				m.OnDisconnect(sid)
			}
		}()
	}
	wg.Wait()
	for _, sid := range m.Sessions() {
		assert.Len(t, m.History(sid), HistoryCapacity)
	}
}
