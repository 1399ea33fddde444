package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "data/stockbot.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=3000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			ts TEXT NOT NULL,
			created_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, ts FROM messages WHERE session_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, unavailable("query messages", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var m Message
		var role, ts string
		if err := rows.Scan(&role, &m.Text, &ts); err != nil {
			return nil, unavailable("scan message", err)
		}
		m.Role = Role(role)
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, unavailable("parse message ts", err)
		}
		m.Timestamp = t
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("rows messages", err)
	}
	return out, nil
}

func (s *SQLiteStore) Append(ctx context.Context, id string, m Message) error {
	if err := checkAppend(id, m); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, ts, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(m.Role), m.Text, m.Timestamp.UTC().Format(time.RFC3339Nano), time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return unavailable("insert message", err)
	}
	return nil
}

func (s *SQLiteStore) Reset(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return unavailable("delete messages", err)
	}
	return nil
}
