package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"stockbot/internal/chat"
	"stockbot/internal/llm"
	"stockbot/internal/market"
	"stockbot/internal/session"
	"stockbot/internal/web"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/http1/resp"
)

type ChatRequest struct {
	Text string `json:"text"`
}

type ContextRequest struct {
	Symbol string `json:"symbol"`
}

type CookieConfig struct {
	Name   string
	MaxAge int
}

// SessionResponse is the page state returned by GET /api/v1/session.
type SessionResponse struct {
	session.View
	Queries []string `json:"queries"`
	Notice  string   `json:"notice,omitempty"`
}

func RegisterRoutes(h *server.Hertz, chatSvc *chat.Service, quotes chat.QuoteFetcher, gen llm.Generator, page *web.Page, cookie CookieConfig) {
	if cookie.Name == "" {
		cookie.Name = "stockbot_session"
	}

	h.GET("/healthz", func(_ context.Context, c *app.RequestContext) {
		c.JSON(200, map[string]bool{"ok": true})
	})

	h.GET("/", func(ctx context.Context, c *app.RequestContext) {
		if page == nil {
			c.String(http.StatusInternalServerError, "page not configured")
			return
		}
		st, _, err := openSession(ctx, c, chatSvc, cookie)
		if err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		var buf bytes.Buffer
		if err := page.Render(&buf, web.PageData{UserID: st.ID(), TopPicks: st.TopPicks()}); err != nil {
			hlog.CtxErrorf(ctx, "page render error: %v", err)
			c.String(http.StatusInternalServerError, "render failed")
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
	})

	h.GET("/static/*filepath", func(_ context.Context, c *app.RequestContext) {
		b, ct, err := web.Asset(c.Param("filepath"))
		if err != nil {
			c.String(http.StatusNotFound, "not found")
			return
		}
		c.Data(http.StatusOK, ct, b)
	})

	h.GET("/api/v1/session", func(ctx context.Context, c *app.RequestContext) {
		st, notice, err := openSession(ctx, c, chatSvc, cookie)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok": true,
			"session": SessionResponse{
				View:    st.View(),
				Queries: st.UserQueries(),
				Notice:  notice,
			},
		})
	})

	h.POST("/api/v1/chat", func(ctx context.Context, c *app.RequestContext) {
		var req ChatRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{
				"ok":    false,
				"error": "invalid json body",
			})
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeError(c, chat.ErrEmptyInput)
			return
		}
		st, notice, err := openSession(ctx, c, chatSvc, cookie)
		if err != nil {
			writeError(c, err)
			return
		}

		w := &ndjsonWriter{c: c}
		if notice != "" {
			if err := w.send(chat.Event{Type: chat.EventNotice, Text: notice}); err != nil {
				return
			}
		}
		err = chatSvc.Turn(ctx, st.ID(), req.Text, w.send)
		switch {
		case err == nil:
		case !w.started:
			writeError(c, err)
		default:
			hlog.CtxWarnf(ctx, "chat stream aborted: session=%s err=%v", st.ID(), err)
		}
	})

	h.POST("/api/v1/context", func(ctx context.Context, c *app.RequestContext) {
		var req ContextRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{
				"ok":    false,
				"error": "invalid json body",
			})
			return
		}
		if strings.TrimSpace(req.Symbol) == "" {
			c.JSON(http.StatusBadRequest, map[string]any{
				"ok":    false,
				"error": "symbol is required",
			})
			return
		}
		st, _, err := openSession(ctx, c, chatSvc, cookie)
		if err != nil {
			writeError(c, err)
			return
		}
		res, err := chatSvc.SetContext(ctx, st.ID(), req.Symbol)
		if err != nil {
			hlog.CtxWarnf(ctx, "set context error: symbol=%s err=%v", req.Symbol, err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":     true,
			"quote":  res.Quote,
			"notice": res.Notice,
		})
	})

	h.DELETE("/api/v1/context", func(ctx context.Context, c *app.RequestContext) {
		st, _, err := openSession(ctx, c, chatSvc, cookie)
		if err != nil {
			writeError(c, err)
			return
		}
		if err := chatSvc.ClearContext(ctx, st.ID()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, map[string]any{"ok": true})
	})

	h.GET("/api/v1/quote", func(ctx context.Context, c *app.RequestContext) {
		if quotes == nil {
			c.JSON(http.StatusInternalServerError, map[string]any{
				"ok":    false,
				"error": "market service not configured",
			})
			return
		}
		symbol := string(c.Query("symbol"))
		if strings.TrimSpace(symbol) == "" {
			c.JSON(http.StatusBadRequest, map[string]any{
				"ok":    false,
				"error": "symbol is required",
			})
			return
		}
		q, err := quotes.Fetch(ctx, symbol)
		if err != nil {
			hlog.CtxWarnf(ctx, "market fetch error: %v", err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":    true,
			"quote": q,
		})
	})

	h.POST("/api/v1/top-picks", func(ctx context.Context, c *app.RequestContext) {
		st, _, err := openSession(ctx, c, chatSvc, cookie)
		if err != nil {
			writeError(c, err)
			return
		}
		text, err := chatSvc.RefreshTopPicks(ctx, st.ID())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":        true,
			"top_picks": text,
		})
	})

	h.GET("/api/v1/llm/ping", func(ctx context.Context, c *app.RequestContext) {
		if gen == nil {
			c.JSON(http.StatusOK, map[string]any{
				"ok":     false,
				"mode":   "disabled",
				"reason": "generator not configured",
			})
			return
		}
		res, err := gen.Ping(ctx)
		if err != nil {
			hlog.CtxWarnf(ctx, "llm ping error: %v", err)
		}
		c.JSON(http.StatusOK, res)
	})
}

// openSession resolves the visitor's session from the cookie, issuing a
// new one when the cookie is missing or malformed.
func openSession(ctx context.Context, c *app.RequestContext, svc *chat.Service, cookie CookieConfig) (*session.State, string, error) {
	id := string(c.Cookie(cookie.Name))
	st, notice, err := svc.Open(ctx, id)
	if errors.Is(err, session.ErrInvalidID) {
		st, notice, err = svc.Open(ctx, "")
	}
	if err != nil {
		return nil, "", err
	}
	if st.ID() != id {
		c.SetCookie(cookie.Name, st.ID(), cookie.MaxAge, "/", "", protocol.CookieSameSiteLaxMode, false, true)
	}
	return st, notice, nil
}

// ndjsonWriter switches the response to a chunked body on the first event
// and writes one JSON object per line.
type ndjsonWriter struct {
	c       *app.RequestContext
	started bool
}

func (w *ndjsonWriter) send(ev chat.Event) error {
	if !w.started {
		w.started = true
		w.c.SetStatusCode(http.StatusOK)
		w.c.SetContentType("application/x-ndjson; charset=utf-8")
		w.c.Response.Header.Set("Cache-Control", "no-cache")
		if conn := w.c.GetWriter(); conn != nil {
			w.c.Response.HijackWriter(resp.NewChunkedBodyWriter(&w.c.Response, conn))
		}
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.c.Write(append(line, '\n')); err != nil {
		return err
	}
	return w.c.Flush()
}

func writeError(c *app.RequestContext, err error) {
	c.JSON(statusFor(err), map[string]any{
		"ok":    false,
		"error": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrEmptyInput), errors.Is(err, session.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, market.ErrQuoteUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
