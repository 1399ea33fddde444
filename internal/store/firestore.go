package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps one document per user holding the whole message list.
type FirestoreStore struct {
	client *firestore.Client
	appID  string
}

type historyDoc struct {
	Messages    []Message `firestore:"messages"`
	LastUpdated time.Time `firestore:"last_updated"`
}

func NewFirestoreStore(ctx context.Context, projectID, credentialsJSON, appID string) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
		if projectID == "" {
			var key struct {
				ProjectID string `json:"project_id"`
			}
			if err := json.Unmarshal([]byte(credentialsJSON), &key); err != nil {
				return nil, fmt.Errorf("parse firestore credentials: %w", err)
			}
			projectID = key.ProjectID
		}
	}
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	if appID == "" {
		appID = "default-app-id"
	}
	return &FirestoreStore{client: client, appID: appID}, nil
}

// HistoryPath is the document holding the conversation of userID.
func HistoryPath(appID, userID string) string {
	return fmt.Sprintf("artifacts/%s/users/%s/stockbot_history/chat_doc", appID, userID)
}

func (s *FirestoreStore) doc(id string) *firestore.DocumentRef {
	return s.client.Doc(HistoryPath(s.appID, id))
}

func (s *FirestoreStore) Load(ctx context.Context, id string) ([]Message, error) {
	snap, err := s.doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return []Message{}, nil
	}
	if err != nil {
		return nil, unavailable("firestore get", err)
	}
	var d historyDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, unavailable("firestore decode", err)
	}
	return conversationOnly(d.Messages), nil
}

func (s *FirestoreStore) Append(ctx context.Context, id string, m Message) error {
	if err := checkAppend(id, m); err != nil {
		return err
	}
	_, err := s.doc(id).Set(ctx, map[string]any{
		"messages":     firestore.ArrayUnion(m),
		"last_updated": firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return unavailable("firestore set", err)
	}
	return nil
}

func (s *FirestoreStore) Reset(ctx context.Context, id string) error {
	_, err := s.doc(id).Set(ctx, map[string]any{
		"messages":     []Message{},
		"last_updated": firestore.ServerTimestamp,
	})
	if err != nil {
		return unavailable("firestore reset", err)
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// conversationOnly drops entries that are not user or assistant turns,
// such as a stored system prompt.
func conversationOnly(in []Message) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		if m.valid() {
			out = append(out, m)
		}
	}
	return out
}
