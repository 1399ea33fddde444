package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"stockbot/internal/apperr"
	"stockbot/internal/prompt"
	"stockbot/internal/store"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/cloudwego/hertz/pkg/common/hlog"
)

type OpenAIConfig struct {
	Model      string
	APIKey     string
	BaseURL    string
	ByAzure    bool
	APIVersion string
	Timeout    time.Duration
}

// Eino serves answers through any eino chat model; in production an
// OpenAI-compatible endpoint.
type Eino struct {
	model     model.BaseChatModel
	modelName string
	noGround  sync.Once
}

// NewOpenAI builds the OpenAI-compatible backend. It falls back to the
// OPENAI_* environment variables for unset fields.
func NewOpenAI(ctx context.Context, cfg OpenAIConfig) (Generator, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("OPENAI_MODEL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.APIKey == "" || cfg.Model == "" {
		hlog.Warnf("llm disabled: missing openai api key or model")
		return Disabled{Reason: "OPENAI_API_KEY or model is not set"}, nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		ByAzure:    cfg.ByAzure,
		APIVersion: cfg.APIVersion,
		Timeout:    cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat model: %w", err)
	}
	return NewEino(cm, cfg.Model), nil
}

func NewEino(m model.BaseChatModel, modelName string) *Eino {
	return &Eino{model: m, modelName: modelName}
}

func toSchemaMessages(p prompt.Prompt) []*schema.Message {
	out := make([]*schema.Message, 0, len(p.History)+2)
	if p.System != "" {
		out = append(out, schema.SystemMessage(p.System))
	}
	for _, m := range p.History {
		if m.Role == store.RoleAssistant {
			out = append(out, schema.AssistantMessage(m.Text, nil))
			continue
		}
		out = append(out, schema.UserMessage(m.Text))
	}
	return append(out, schema.UserMessage(p.Text))
}

func (e *Eino) Stream(ctx context.Context, p prompt.Prompt, opts Options) (Stream, error) {
	if opts.Grounding {
		e.noGround.Do(func() {
			hlog.Warnf("llm: web-search grounding is not available on the %s backend", e.modelName)
		})
	}
	sr, err := e.model.Stream(ctx, toSchemaMessages(p))
	if err != nil {
		return nil, wrapEinoError(err)
	}
	return &einoStream{sr: sr}, nil
}

func (e *Eino) Ping(ctx context.Context) (map[string]any, error) {
	start := time.Now()
	_, err := e.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage("Reply with the single word: pong"),
		schema.UserMessage("ping"),
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		err = wrapEinoError(err)
		hlog.CtxErrorf(ctx, "llm ping error: %v", err)
		return map[string]any{"ok": false, "mode": "openai", "reason": "llm error"}, err
	}
	return map[string]any{"ok": true, "mode": "openai", "model": e.modelName, "latency_ms": latency}, nil
}

type einoStream struct {
	sr   *schema.StreamReader[*schema.Message]
	term terminal
	sent bool
}

func (s *einoStream) Recv() (string, error) {
	if s.term.done() {
		return "", s.term.err
	}
	for {
		msg, err := s.sr.Recv()
		if errors.Is(err, io.EOF) {
			if !s.sent {
				return "", s.term.finish(failed("empty response"))
			}
			return "", s.term.finish(io.EOF)
		}
		if err != nil {
			return "", s.term.finish(wrapEinoError(err))
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		s.sent = true
		return msg.Content, nil
	}
}

func (s *einoStream) Close() error {
	if !s.term.done() {
		s.term.finish(io.EOF)
	}
	s.sr.Close()
	return nil
}

func wrapEinoError(err error) error {
	apiErr := &openai.APIError{}
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if len(msg) > 300 {
			msg = msg[:300] + "..."
		}
		if apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403 {
			return fmt.Errorf("%w: %w: status=%d message=%s", ErrGenerationFailed, apperr.ErrAuth, apiErr.HTTPStatusCode, msg)
		}
		return failed("status=%d message=%s", apiErr.HTTPStatusCode, msg)
	}
	return fmt.Errorf("%w: %w", ErrGenerationFailed, err)
}
