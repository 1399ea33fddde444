package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPersistenceUnavailable wraps every backend failure: connectivity,
// credentials and corrupt records alike.
var ErrPersistenceUnavailable = errors.New("persistence unavailable")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat entry. Messages are never edited after creation.
type Message struct {
	Role      Role      `json:"role" firestore:"role"`
	Text      string    `json:"text" firestore:"content"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
}

func NewMessage(role Role, text string) Message {
	return Message{Role: role, Text: text, Timestamp: time.Now().UTC().Round(0)}
}

func (m Message) valid() bool {
	return m.Role == RoleUser || m.Role == RoleAssistant
}

// Store keeps the ordered conversation of each session. Load of an
// unknown id returns an empty conversation, not an error.
type Store interface {
	Load(ctx context.Context, id string) ([]Message, error)
	Append(ctx context.Context, id string, m Message) error
	Reset(ctx context.Context, id string) error
	Close() error
}

type Options struct {
	Driver string

	SqlitePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	BoltPath string

	FirestoreProjectID   string
	FirestoreCredentials string
	AppID                string
}

// Open builds the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Driver) {
	case "", "sqlite":
		return OpenSQLite(opts.SqlitePath)
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisPrefix)
	case "bolt":
		return OpenBolt(opts.BoltPath)
	case "firestore":
		return NewFirestoreStore(ctx, opts.FirestoreProjectID, opts.FirestoreCredentials, opts.AppID)
	default:
		return nil, fmt.Errorf("unknown store driver: %q", opts.Driver)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistenceUnavailable, op, err)
}

func checkAppend(id string, m Message) error {
	if id == "" {
		return fmt.Errorf("%w: empty session id", ErrPersistenceUnavailable)
	}
	if !m.valid() {
		return fmt.Errorf("%w: invalid role %q", ErrPersistenceUnavailable, m.Role)
	}
	return nil
}
