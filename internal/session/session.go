// Package session holds the per-visitor state the chat page works from.
// Every read and write goes through State's accessors.
package session

import (
	"errors"
	"regexp"
	"sync"
	"time"

	"stockbot/internal/market"
	"stockbot/internal/store"

	"github.com/google/uuid"
)

var (
	ErrBusy      = errors.New("a turn is already in progress")
	ErrInvalidID = errors.New("invalid session id")
)

const DefaultTopPicks = "Click 'Refresh Top Picks' to get today's analysis."

var idRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type State struct {
	mu       sync.Mutex
	id       string
	messages []store.Message
	quote    *market.QuoteSnapshot
	topPicks string
	loaded   bool
	degraded bool
	busy     bool
	touched  time.Time
}

// View is a read-only copy of a State.
type View struct {
	ID       string                `json:"id"`
	Messages []store.Message       `json:"messages"`
	Quote    *market.QuoteSnapshot `json:"quote,omitempty"`
	TopPicks string                `json:"top_picks"`
	Degraded bool                  `json:"degraded"`
	Busy     bool                  `json:"busy"`
}

func newState(id string) *State {
	return &State{id: id, messages: []store.Message{}, topPicks: DefaultTopPicks, touched: time.Now()}
}

func (s *State) ID() string { return s.id }

func (s *State) Messages() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *State) LastMessage() (store.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return store.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

func (s *State) AppendMessage(m store.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.touched = time.Now()
	s.mu.Unlock()
}

// LoadMessages replaces the transient history with msgs and marks the
// session as loaded.
func (s *State) LoadMessages(msgs []store.Message) {
	s.mu.Lock()
	s.messages = append([]store.Message{}, msgs...)
	s.loaded = true
	s.mu.Unlock()
}

func (s *State) ResetMessages() {
	s.mu.Lock()
	s.messages = []store.Message{}
	s.mu.Unlock()
}

func (s *State) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *State) Quote() *market.QuoteSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quote == nil {
		return nil
	}
	q := *s.quote
	return &q
}

func (s *State) SetQuote(q *market.QuoteSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q == nil {
		s.quote = nil
		return
	}
	c := *q
	s.quote = &c
}

func (s *State) TopPicks() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topPicks
}

func (s *State) SetTopPicks(text string) {
	s.mu.Lock()
	s.topPicks = text
	s.mu.Unlock()
}

func (s *State) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *State) SetDegraded(v bool) {
	s.mu.Lock()
	s.degraded = v
	s.mu.Unlock()
}

// Begin moves the session from idle to processing.
func (s *State) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	s.touched = time.Now()
	return nil
}

// End returns the session to idle.
func (s *State) End() {
	s.mu.Lock()
	s.busy = false
	s.touched = time.Now()
	s.mu.Unlock()
}

// UserQueries lists the user's questions, most recent first.
func (s *State) UserQueries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == store.RoleUser {
			out = append(out, s.messages[i].Text)
		}
	}
	return out
}

func (s *State) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ID:       s.id,
		Messages: append([]store.Message{}, s.messages...),
		TopPicks: s.topPicks,
		Degraded: s.degraded,
		Busy:     s.busy,
	}
	if s.quote != nil {
		q := *s.quote
		v.Quote = &q
	}
	return v
}

type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*State
	authToken string
	maxIdle   time.Duration
}

// NewManager returns an empty manager. When authToken is set every visitor
// shares the id derived from it. Sessions idle for longer than maxIdle are
// dropped when a new one is created; zero keeps them forever.
func NewManager(authToken string, maxIdle time.Duration) *Manager {
	return &Manager{sessions: make(map[string]*State), authToken: authToken, maxIdle: maxIdle}
}

// UserID derives the conversation key: the first 16 characters of an auth
// token, or a fresh UUID.
func UserID(authToken string) string {
	if authToken != "" {
		if len(authToken) > 16 {
			return authToken[:16]
		}
		return authToken
	}
	return uuid.NewString()
}

// Resolve returns the state for id, creating it when unknown. An empty id
// allocates a new one.
func (m *Manager) Resolve(id string) (*State, error) {
	if m.authToken != "" {
		id = UserID(m.authToken)
	}
	if id == "" {
		id = UserID("")
	}
	if !idRe.MatchString(id) {
		return nil, ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		if m.maxIdle > 0 {
			m.sweepLocked(m.maxIdle)
		}
		s = newState(id)
		m.sessions[id] = s
	}
	return s, nil
}

func (m *Manager) Get(id string) (*State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Sweep drops idle sessions untouched for longer than maxIdle.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(maxIdle)
}

func (m *Manager) sweepLocked(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	n := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		stale := !s.busy && s.touched.Before(cutoff)
		s.mu.Unlock()
		if stale {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}
