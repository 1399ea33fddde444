// Package chat runs one user turn: quote lookup, prompt composition,
// streamed generation and persistence.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"stockbot/internal/apperr"
	"stockbot/internal/llm"
	"stockbot/internal/market"
	"stockbot/internal/prompt"
	"stockbot/internal/session"
	"stockbot/internal/store"

	"github.com/cloudwego/hertz/pkg/common/hlog"
)

var ErrEmptyInput = errors.New("message is empty")

type QuoteFetcher interface {
	Fetch(ctx context.Context, symbol string) (market.QuoteSnapshot, error)
}

type EventType string

const (
	EventQuote  EventType = "quote"
	EventChunk  EventType = "chunk"
	EventNotice EventType = "notice"
	EventDone   EventType = "done"
)

// Event is one item pushed to the page while a turn runs.
type Event struct {
	Type    EventType             `json:"type"`
	Text    string                `json:"text,omitempty"`
	Kind    apperr.Kind           `json:"kind,omitempty"`
	Quote   *market.QuoteSnapshot `json:"quote,omitempty"`
	Message *store.Message        `json:"message,omitempty"`
}

// Sink receives turn events in order. A Sink error aborts the turn.
type Sink func(Event) error

type Config struct {
	Grounding bool
}

type Service struct {
	quotes   QuoteFetcher
	gen      llm.Generator
	store    store.Store
	sessions *session.Manager
	composer prompt.Composer
	cfg      Config
}

func NewService(quotes QuoteFetcher, gen llm.Generator, st store.Store, sessions *session.Manager, composer prompt.Composer, cfg Config) *Service {
	return &Service{
		quotes:   quotes,
		gen:      gen,
		store:    st,
		sessions: sessions,
		composer: composer,
		cfg:      cfg,
	}
}

// Open resolves a session and loads its stored history the first time.
// The returned notice is non-empty when persistence is unavailable.
func (s *Service) Open(ctx context.Context, id string) (*session.State, string, error) {
	st, err := s.sessions.Resolve(id)
	if err != nil {
		return nil, "", err
	}
	return st, s.ensureLoaded(ctx, st), nil
}

func (s *Service) ensureLoaded(ctx context.Context, st *session.State) string {
	if st.Loaded() {
		return ""
	}
	if s.store == nil {
		st.SetDegraded(true)
		st.LoadMessages(nil)
		return ""
	}
	msgs, err := s.store.Load(ctx, st.ID())
	if err != nil {
		hlog.CtxWarnf(ctx, "history load error: session=%s err=%v", st.ID(), err)
		st.SetDegraded(true)
		st.LoadMessages(nil)
		return persistenceNotice(err)
	}
	st.LoadMessages(msgs)
	return ""
}

// Turn answers one user message, streaming events to sink. Upstream
// failures are reported as notice events; the returned error is only set
// when the turn could not run at all or the sink failed.
func (s *Service) Turn(ctx context.Context, id, text string, sink Sink) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	st, notice, err := s.Open(ctx, id)
	if err != nil {
		return err
	}
	if err := st.Begin(); err != nil {
		return err
	}
	defer st.End()

	if notice != "" {
		if err := sink(Event{Type: EventNotice, Text: notice}); err != nil {
			return err
		}
	}

	tail := st.Messages()
	userMsg := store.NewMessage(store.RoleUser, text)
	persistUser := true
	if n := len(tail); n > 0 && tail[n-1].Role == store.RoleUser && tail[n-1].Text == text {
		// resubmitted question, already on screen
		userMsg = tail[n-1]
		tail = tail[:n-1]
		persistUser = false
	} else {
		st.AppendMessage(userMsg)
	}

	quote, err := s.quoteFor(ctx, st, text, sink)
	if err != nil {
		return err
	}

	p := s.composer.Compose(text, quote, tail)
	answer, genErr := s.generate(ctx, p, sink)
	var se sinkError
	if errors.As(genErr, &se) {
		return se.err
	}

	if persistUser {
		if err := s.persist(ctx, st, userMsg, sink); err != nil {
			return err
		}
	}
	if genErr != nil {
		return sink(Event{Type: EventNotice, Text: generationNotice(genErr), Kind: apperr.Classify(genErr)})
	}

	reply := store.NewMessage(store.RoleAssistant, answer)
	st.AppendMessage(reply)
	if err := s.persist(ctx, st, reply, sink); err != nil {
		return err
	}
	return sink(Event{Type: EventDone, Message: &reply})
}

// quoteFor fetches a fresh snapshot for a ticker named in text, or for
// the session's active context ticker.
func (s *Service) quoteFor(ctx context.Context, st *session.State, text string, sink Sink) (*market.QuoteSnapshot, error) {
	symbol, ok := market.DetectSymbol(text)
	if !ok {
		active := st.Quote()
		if active == nil {
			return nil, nil
		}
		symbol = active.Symbol
	}
	if s.quotes == nil {
		return nil, nil
	}
	q, err := s.quotes.Fetch(ctx, symbol)
	if err != nil {
		return nil, sink(Event{Type: EventNotice, Text: quoteNotice(symbol, err), Kind: apperr.Classify(err)})
	}
	if err := sink(Event{Type: EventQuote, Quote: &q}); err != nil {
		return nil, err
	}
	return &q, nil
}

// sinkError marks a failure to deliver an event, as opposed to a
// generation failure.
type sinkError struct{ err error }

func (e sinkError) Error() string { return e.err.Error() }
func (e sinkError) Unwrap() error { return e.err }

func (s *Service) generate(ctx context.Context, p prompt.Prompt, sink Sink) (string, error) {
	stream, err := s.gen.Stream(ctx, p, llm.Options{Grounding: s.cfg.Grounding})
	if err != nil {
		hlog.CtxErrorf(ctx, "llm stream error: %v", err)
		return "", err
	}
	defer stream.Close()

	var b strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			hlog.CtxErrorf(ctx, "llm recv error: %v", err)
			return "", err
		}
		b.WriteString(chunk)
		if err := sink(Event{Type: EventChunk, Text: chunk}); err != nil {
			return "", sinkError{err}
		}
	}
}

func (s *Service) persist(ctx context.Context, st *session.State, m store.Message, sink Sink) error {
	if s.store == nil || st.Degraded() {
		return nil
	}
	if err := s.store.Append(ctx, st.ID(), m); err != nil {
		hlog.CtxWarnf(ctx, "history append error: session=%s err=%v", st.ID(), err)
		st.SetDegraded(true)
		return sink(Event{Type: EventNotice, Text: persistenceNotice(err), Kind: apperr.Classify(err)})
	}
	return nil
}

type ContextResult struct {
	Quote  market.QuoteSnapshot `json:"quote"`
	Notice string               `json:"notice,omitempty"`
}

// SetContext makes symbol the session's active stock and starts a fresh
// conversation.
func (s *Service) SetContext(ctx context.Context, id, symbol string) (ContextResult, error) {
	st, _, err := s.Open(ctx, id)
	if err != nil {
		return ContextResult{}, err
	}
	if err := st.Begin(); err != nil {
		return ContextResult{}, err
	}
	defer st.End()

	if s.quotes == nil {
		return ContextResult{}, fmt.Errorf("%w: market service not configured", market.ErrQuoteUnavailable)
	}
	q, err := s.quotes.Fetch(ctx, symbol)
	if err != nil {
		return ContextResult{}, err
	}
	st.SetQuote(&q)
	st.ResetMessages()

	res := ContextResult{Quote: q}
	if s.store != nil && !st.Degraded() {
		if err := s.store.Reset(ctx, st.ID()); err != nil {
			hlog.CtxWarnf(ctx, "history reset error: session=%s err=%v", st.ID(), err)
			st.SetDegraded(true)
			res.Notice = persistenceNotice(err)
		}
	}
	return res, nil
}

// ClearContext drops the active stock without touching history.
func (s *Service) ClearContext(ctx context.Context, id string) error {
	st, _, err := s.Open(ctx, id)
	if err != nil {
		return err
	}
	st.SetQuote(nil)
	return nil
}

// RefreshTopPicks asks the model for today's notable stocks. Failures are
// stored as the panel text, as the page shows it inline.
func (s *Service) RefreshTopPicks(ctx context.Context, id string) (string, error) {
	st, _, err := s.Open(ctx, id)
	if err != nil {
		return "", err
	}
	if err := st.Begin(); err != nil {
		return "", err
	}
	defer st.End()

	text, err := llm.Complete(ctx, s.gen, prompt.TopPicks(), llm.Options{Grounding: true})
	if err != nil {
		hlog.CtxErrorf(ctx, "top picks error: %v", err)
		text = generationNotice(err)
	}
	st.SetTopPicks(text)
	return text, nil
}

func quoteNotice(symbol string, err error) string {
	return fmt.Sprintf("⚠️ Failed to fetch data for %s: %s.", symbol, apperr.Describe(apperr.Classify(err)))
}

func generationNotice(err error) string {
	if errors.Is(err, llm.ErrNotConfigured) {
		return "⚠️ Configuration Error: the language model API key is not set."
	}
	return fmt.Sprintf("⚠️ Generation failed: %s.", apperr.Describe(apperr.Classify(err)))
}

func persistenceNotice(err error) string {
	return fmt.Sprintf("⚠️ History could not be saved (%s); this session continues in memory only.", apperr.Describe(apperr.Classify(err)))
}
