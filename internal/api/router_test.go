package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"stockbot/internal/apperr"
	"stockbot/internal/chat"
	"stockbot/internal/llm"
	"stockbot/internal/market"
	"stockbot/internal/prompt"
	"stockbot/internal/session"
	"stockbot/internal/store"
	"stockbot/internal/web"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubQuotes struct{}

func (stubQuotes) Fetch(_ context.Context, symbol string) (market.QuoteSnapshot, error) {
	if strings.ToUpper(symbol) != "AAPL" {
		return market.QuoteSnapshot{}, fmt.Errorf("%w: %s: %w", market.ErrQuoteUnavailable, symbol, apperr.ErrNotFound)
	}
	return market.QuoteSnapshot{
		Symbol:     "AAPL",
		ShortName:  "Apple Inc.",
		Price:      decimal.RequireFromString("150.00"),
		Week52Low:  decimal.RequireFromString("124.17"),
		Week52High: decimal.RequireFromString("198.23"),
		Sector:     "Technology",
	}, nil
}

type chunkStream struct {
	chunks []string
}

func (s *chunkStream) Recv() (string, error) {
	if len(s.chunks) == 0 {
		return "", io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *chunkStream) Close() error { return nil }

type echoGen struct{}

func (echoGen) Stream(_ context.Context, p prompt.Prompt, _ llm.Options) (llm.Stream, error) {
	return &chunkStream{chunks: []string{"You said: ", p.Text}}, nil
}

func (echoGen) Ping(context.Context) (map[string]any, error) {
	return map[string]any{"ok": true, "mode": "echo"}, nil
}

type testEnv struct {
	h        *server.Hertz
	store    *store.MemoryStore
	sessions *session.Manager
}

func newEnv(t *testing.T, gen llm.Generator) *testEnv {
	t.Helper()
	page, err := web.NewPage()
	require.NoError(t, err)

	st := store.NewMemoryStore()
	sessions := session.NewManager("", 0)
	svc := chat.NewService(stubQuotes{}, gen, st, sessions, prompt.NewComposer(prompt.DefaultHistoryWindow), chat.Config{Grounding: true})

	h := server.Default()
	RegisterRoutes(h, svc, stubQuotes{}, gen, page, CookieConfig{Name: "stockbot_session", MaxAge: 3600})
	return &testEnv{h: h, store: st, sessions: sessions}
}

func (e *testEnv) do(method, url, body string, sessionID string) *ut.ResponseRecorder {
	var b *ut.Body
	if body != "" {
		b = &ut.Body{Body: bytes.NewBufferString(body), Len: len(body)}
	}
	headers := []ut.Header{{Key: "Content-Type", Value: "application/json"}}
	if sessionID != "" {
		headers = append(headers, ut.Header{Key: "Cookie", Value: "stockbot_session=" + sessionID})
	}
	return ut.PerformRequest(e.h.Engine, method, url, b, headers...)
}

func decode(t *testing.T, w *ut.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func readEvents(t *testing.T, body []byte) []chat.Event {
	t.Helper()
	var out []chat.Event
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		var ev chat.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		out = append(out, ev)
	}
	return out
}

func TestHealthz(t *testing.T) {
	env := newEnv(t, echoGen{})
	w := env.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestIndexAndAssets(t *testing.T) {
	env := newEnv(t, echoGen{})
	w := env.do(http.MethodGet, "/", "", "visitor-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "visitor-1")
	assert.Contains(t, w.Body.String(), "to get today&#39;s analysis")

	w = env.do(http.MethodGet, "/static/app.js", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(http.MethodGet, "/static/missing.js", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionCreatesAndReuses(t *testing.T) {
	env := newEnv(t, echoGen{})

	w := env.do(http.MethodGet, "/api/v1/session", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	sess := body["session"].(map[string]any)
	id := sess["id"].(string)
	assert.NotEmpty(t, id)
	assert.Equal(t, session.DefaultTopPicks, sess["top_picks"])

	w = env.do(http.MethodGet, "/api/v1/session", "", id)
	sess = decode(t, w)["session"].(map[string]any)
	assert.Equal(t, id, sess["id"])

	w = env.do(http.MethodGet, "/api/v1/session", "", "bad id!")
	sess = decode(t, w)["session"].(map[string]any)
	assert.NotEqual(t, "bad id!", sess["id"])
}

func TestChatStreamsEvents(t *testing.T) {
	env := newEnv(t, echoGen{})

	w := env.do(http.MethodPost, "/api/v1/chat", `{"text":"What is the price of AAPL?"}`, "s1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/x-ndjson")

	events := readEvents(t, w.Body.Bytes())
	require.NotEmpty(t, events)
	assert.Equal(t, chat.EventQuote, events[0].Type)
	assert.Equal(t, "AAPL", events[0].Quote.Symbol)
	last := events[len(events)-1]
	require.Equal(t, chat.EventDone, last.Type)
	assert.Contains(t, last.Message.Text, "150.00")
	assert.Contains(t, last.Message.Text, "What is the price of AAPL?")

	msgs, err := env.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	w = env.do(http.MethodGet, "/api/v1/session", "", "s1")
	sess := decode(t, w)["session"].(map[string]any)
	assert.Equal(t, []any{"What is the price of AAPL?"}, sess["queries"])
}

func TestChatRejectsBadInput(t *testing.T) {
	env := newEnv(t, echoGen{})

	w := env.do(http.MethodPost, "/api/v1/chat", `{"text":"  "}`, "s1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, decode(t, w)["ok"])

	w = env.do(http.MethodPost, "/api/v1/chat", `not json`, "s1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatBusy(t *testing.T) {
	env := newEnv(t, echoGen{})
	st, err := env.sessions.Resolve("s1")
	require.NoError(t, err)
	require.NoError(t, st.Begin())
	defer st.End()

	w := env.do(http.MethodPost, "/api/v1/chat", `{"text":"hello"}`, "s1")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestChatNotConfiguredIsNotice(t *testing.T) {
	env := newEnv(t, llm.Disabled{Reason: "no key"})

	w := env.do(http.MethodPost, "/api/v1/chat", `{"text":"hello"}`, "s1")
	require.Equal(t, http.StatusOK, w.Code)
	events := readEvents(t, w.Body.Bytes())
	require.Len(t, events, 1)
	assert.Equal(t, chat.EventNotice, events[0].Type)
	assert.Contains(t, events[0].Text, "Configuration Error")
}

func TestContextAndQuote(t *testing.T) {
	env := newEnv(t, echoGen{})

	w := env.do(http.MethodPost, "/api/v1/context", `{"symbol":"aapl"}`, "s1")
	require.Equal(t, http.StatusOK, w.Code)
	q := decode(t, w)["quote"].(map[string]any)
	assert.Equal(t, "AAPL", q["symbol"])
	assert.Equal(t, "Technology", q["sector"])

	w = env.do(http.MethodPost, "/api/v1/context", `{"symbol":"ZZZZ"}`, "s1")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = env.do(http.MethodPost, "/api/v1/context", `{"symbol":""}`, "s1")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/v1/quote?symbol=AAPL", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "AAPL", decode(t, w)["quote"].(map[string]any)["symbol"])

	w = env.do(http.MethodGet, "/api/v1/quote?symbol=ZZZZ", "", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = env.do(http.MethodDelete, "/api/v1/context", "", "s1")
	require.Equal(t, http.StatusOK, w.Code)
	st, ok := env.sessions.Get("s1")
	require.True(t, ok)
	assert.Nil(t, st.Quote())
}

func TestTopPicksAndPing(t *testing.T) {
	env := newEnv(t, echoGen{})

	w := env.do(http.MethodPost, "/api/v1/top-picks", "", "s1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w)["top_picks"], "top-performing")

	w = env.do(http.MethodGet, "/api/v1/llm/ping", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "echo", decode(t, w)["mode"])
}
