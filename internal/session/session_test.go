package session

import (
	"strings"
	"testing"
	"time"

	"stockbot/internal/market"
	"stockbot/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAllocatesAndReuses(t *testing.T) {
	m := NewManager("", 0)

	s, err := m.Resolve("")
	require.NoError(t, err)
	_, err = uuid.Parse(s.ID())
	require.NoError(t, err)

	again, err := m.Resolve(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, again)

	restored, err := m.Resolve("known-id")
	require.NoError(t, err)
	assert.Equal(t, "known-id", restored.ID())

	_, err = m.Resolve("../etc/passwd")
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestResolveWithAuthToken(t *testing.T) {
	m := NewManager("abcdefghijklmnopqrstuvwxyz", 0)
	s, err := m.Resolve("anything")
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijklmnop", s.ID())

	assert.Equal(t, "short", UserID("short"))
}

func TestBeginEnd(t *testing.T) {
	s := newState("s1")
	require.NoError(t, s.Begin())
	require.ErrorIs(t, s.Begin(), ErrBusy)
	assert.True(t, s.View().Busy)
	s.End()
	require.NoError(t, s.Begin())
}

func TestMessagesAreCopies(t *testing.T) {
	s := newState("s1")
	s.AppendMessage(store.NewMessage(store.RoleUser, "first"))
	s.AppendMessage(store.NewMessage(store.RoleAssistant, "answer"))
	s.AppendMessage(store.NewMessage(store.RoleUser, "second"))

	msgs := s.Messages()
	msgs[0].Text = "mutated"
	assert.Equal(t, "first", s.Messages()[0].Text)

	last, ok := s.LastMessage()
	require.True(t, ok)
	assert.Equal(t, "second", last.Text)

	assert.Equal(t, []string{"second", "first"}, s.UserQueries())

	s.ResetMessages()
	assert.Empty(t, s.Messages())
	_, ok = s.LastMessage()
	assert.False(t, ok)
}

func TestQuoteAndTopPicks(t *testing.T) {
	s := newState("s1")
	assert.Nil(t, s.Quote())
	assert.Equal(t, DefaultTopPicks, s.TopPicks())

	q := &market.QuoteSnapshot{Symbol: "AAPL", Price: decimal.NewFromInt(150), Sector: "Technology"}
	s.SetQuote(q)
	q.Symbol = "MSFT"
	assert.Equal(t, "AAPL", s.Quote().Symbol)

	s.SetTopPicks("- NVDA")
	v := s.View()
	assert.Equal(t, "- NVDA", v.TopPicks)
	require.NotNil(t, v.Quote)

	s.SetQuote(nil)
	assert.Nil(t, s.Quote())
}

func TestLoadMessages(t *testing.T) {
	s := newState("s1")
	assert.False(t, s.Loaded())
	s.LoadMessages([]store.Message{store.NewMessage(store.RoleUser, "hi")})
	assert.True(t, s.Loaded())
	assert.Len(t, s.Messages(), 1)
	s.SetDegraded(true)
	assert.True(t, s.Degraded())
}

func TestSweep(t *testing.T) {
	m := NewManager("", 0)
	idle, _ := m.Resolve("idle")
	busy, _ := m.Resolve("busy")
	require.NoError(t, busy.Begin())
	idle.touched = time.Now().Add(-2 * time.Hour)
	busy.touched = time.Now().Add(-2 * time.Hour)

	assert.Equal(t, 1, m.Sweep(time.Hour))
	_, ok := m.Get("idle")
	assert.False(t, ok)
	_, ok = m.Get("busy")
	assert.True(t, ok)
}

func TestIDPattern(t *testing.T) {
	assert.True(t, idRe.MatchString(uuid.NewString()))
	assert.False(t, idRe.MatchString(strings.Repeat("a", 65)))
}
