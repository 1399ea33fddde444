// Package llm streams answers from a hosted language model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"stockbot/internal/prompt"
)

var (
	// ErrGenerationFailed wraps every upstream failure, including empty answers.
	ErrGenerationFailed = errors.New("generation failed")
	ErrNotConfigured    = errors.New("llm not configured")
)

type Options struct {
	// Grounding asks the backend to augment the answer with live web search.
	Grounding bool
}

// Stream is a finite sequence of answer fragments. It is consumed once:
// after Recv returns io.EOF or an error, every later call returns the same.
type Stream interface {
	Recv() (string, error)
	Close() error
}

type Generator interface {
	Stream(ctx context.Context, p prompt.Prompt, opts Options) (Stream, error)
	Ping(ctx context.Context) (map[string]any, error)
}

// Complete drains a fresh stream into one string.
func Complete(ctx context.Context, g Generator, p prompt.Prompt, opts Options) (string, error) {
	s, err := g.Stream(ctx, p, opts)
	if err != nil {
		return "", err
	}
	defer s.Close()

	var b strings.Builder
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		b.WriteString(chunk)
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}
	return b.String(), nil
}

// Disabled is used when no API key is configured.
type Disabled struct {
	Reason string
}

func (d Disabled) Stream(context.Context, prompt.Prompt, Options) (Stream, error) {
	return nil, fmt.Errorf("%w: %s", ErrNotConfigured, d.Reason)
}

func (d Disabled) Ping(context.Context) (map[string]any, error) {
	return map[string]any{"ok": false, "mode": "disabled", "reason": d.Reason}, nil
}

func failed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrGenerationFailed, fmt.Sprintf(format, args...))
}

// terminal makes a stream's end state sticky.
type terminal struct {
	err error
}

func (t *terminal) done() bool { return t.err != nil }

func (t *terminal) finish(err error) error {
	if t.err == nil {
		t.err = err
	}
	return t.err
}
