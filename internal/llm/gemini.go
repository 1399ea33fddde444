package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stockbot/internal/apperr"
	"stockbot/internal/prompt"
	"stockbot/internal/store"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/tidwall/gjson"
)

const defaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Gemini talks to the Generative Language REST API and streams
// server-sent events.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Tools             []map[string]any `json:"tools,omitempty"`
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Gemini{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func buildGeminiRequest(p prompt.Prompt, opts Options) geminiRequest {
	req := geminiRequest{}
	if p.System != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: p.System}}}
	}
	for _, m := range p.History {
		role := "user"
		if m.Role == store.RoleAssistant {
			role = "model"
		}
		req.Contents = append(req.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Text}}})
	}
	req.Contents = append(req.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: p.Text}}})
	if opts.Grounding {
		req.Tools = []map[string]any{{"google_search": map[string]any{}}}
	}
	return req
}

func (g *Gemini) Stream(ctx context.Context, p prompt.Prompt, opts Options) (Stream, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrNotConfigured)
	}
	body, err := json.Marshal(buildGeminiRequest(p, opts))
	if err != nil {
		return nil, failed("marshal request: %v", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, failed("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %w", ErrGenerationFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, statusError(resp.StatusCode, data)
	}
	return &geminiStream{body: resp.Body, r: bufio.NewReader(resp.Body)}, nil
}

func (g *Gemini) Ping(ctx context.Context) (map[string]any, error) {
	if g.apiKey == "" {
		return map[string]any{"ok": false, "mode": "disabled", "reason": "api key missing"}, nil
	}
	start := time.Now()
	_, err := Complete(ctx, g, prompt.Prompt{Text: "Reply with the single word: pong"}, Options{})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		hlog.CtxErrorf(ctx, "gemini ping error: %v", err)
		return map[string]any{"ok": false, "mode": "gemini", "reason": "llm error"}, err
	}
	return map[string]any{"ok": true, "mode": "gemini", "model": g.model, "latency_ms": latency}, nil
}

func statusError(code int, body []byte) error {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden ||
		strings.Contains(strings.ToLower(msg), "api key not valid") {
		return fmt.Errorf("%w: %w: status %d: %s", ErrGenerationFailed, apperr.ErrAuth, code, msg)
	}
	return failed("status %d: %s", code, msg)
}

type geminiStream struct {
	body   io.ReadCloser
	r      *bufio.Reader
	term   terminal
	sent   bool
	closed bool
}

func (s *geminiStream) Recv() (string, error) {
	if s.term.done() {
		return "", s.term.err
	}
	for {
		line, err := s.r.ReadString('\n')
		if text, ok, perr := parseSSELine(line); perr != nil {
			return "", s.term.finish(perr)
		} else if ok && text != "" {
			s.sent = true
			return text, nil
		}
		if errors.Is(err, io.EOF) {
			if !s.sent {
				return "", s.term.finish(failed("empty response"))
			}
			return "", s.term.finish(io.EOF)
		}
		if err != nil {
			return "", s.term.finish(fmt.Errorf("%w: read stream: %w", ErrGenerationFailed, err))
		}
	}
}

func (s *geminiStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.term.done() {
		s.term.finish(io.EOF)
	}
	return s.body.Close()
}

// parseSSELine extracts answer text from one "data:" line.
func parseSSELine(line string) (string, bool, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "data:") {
		return "", false, nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" || payload == "[DONE]" {
		return "", false, nil
	}
	if !gjson.Valid(payload) {
		return "", false, fmt.Errorf("%w: %w: invalid chunk", ErrGenerationFailed, apperr.ErrSchema)
	}
	chunk := gjson.Parse(payload)
	if msg := chunk.Get("error.message"); msg.Exists() {
		return "", false, failed("stream error: %s", msg.String())
	}
	if reason := chunk.Get("promptFeedback.blockReason"); reason.Exists() {
		return "", false, failed("prompt blocked: %s", reason.String())
	}
	var b strings.Builder
	for _, part := range chunk.Get("candidates.0.content.parts").Array() {
		b.WriteString(part.Get("text").String())
	}
	return b.String(), true, nil
}
