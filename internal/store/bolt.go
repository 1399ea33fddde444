package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var historyBucket = []byte("stockbot_history")

// BoltStore keeps each conversation as one JSON array keyed by session id.
type BoltStore struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	if path == "" {
		path = "data/stockbot.bolt"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(historyBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(_ context.Context, id string) ([]Message, error) {
	out := []Message{}
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(historyBucket).Get([]byte(id))
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, &out)
	})
	if err != nil {
		return nil, unavailable("bolt view", err)
	}
	return out, nil
}

func (s *BoltStore) Append(_ context.Context, id string, m Message) error {
	if err := checkAppend(id, m); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(historyBucket)
		var msgs []Message
		if v := b.Get([]byte(id)); len(v) > 0 {
			if err := json.Unmarshal(v, &msgs); err != nil {
				return err
			}
		}
		msgs = append(msgs, m)
		data, err := json.Marshal(msgs)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return unavailable("bolt update", err)
	}
	return nil
}

func (s *BoltStore) Reset(_ context.Context, id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(historyBucket).Delete([]byte(id))
	})
	if err != nil {
		return unavailable("bolt delete", err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
