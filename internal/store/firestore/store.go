package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"labchat/internal/chat"
)

// Store keeps section logs in Firestore under sections/{section}/messages and
// uses Firestore's own live queries for subscriptions.
type Store struct {
	client *firestore.Client
	log    *slog.Logger
}

// NewStore creates a Firestore store. FIRESTORE_EMULATOR_HOST is honoured by
// the client library.
func NewStore(ctx context.Context, projectID string, log *slog.Logger) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client, log: log}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) messagesCol(section chat.Section) *firestore.CollectionRef {
	return s.client.Collection(section.CollectionPath())
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type attachmentDoc struct {
	Name string `firestore:"name"`
	Type string `firestore:"type"`
	URL  string `firestore:"url"`
}

type messageDoc struct {
	Text        string          `firestore:"text"`
	Sender      string          `firestore:"sender"`
	Type        string          `firestore:"type"`
	Language    *string         `firestore:"language"`
	Timestamp   *time.Time      `firestore:"timestamp"`
	Attachments []attachmentDoc `firestore:"attachments"`
}

// ─────────────────────────────────────────
// MessageStore implementation
// ─────────────────────────────────────────

func (s *Store) Insert(ctx context.Context, section chat.Section, msg chat.Message) (string, error) {
	attachments := make([]map[string]any, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		attachments = append(attachments, map[string]any{
			"name": a.Name,
			"type": a.MimeType,
			"url":  a.URL,
		})
	}

	var language any
	if msg.Language != "" {
		language = msg.Language
	}

	doc := map[string]any{
		"text":        msg.Text,
		"sender":      string(msg.Sender),
		"type":        string(msg.Type),
		"language":    language,
		"timestamp":   firestore.ServerTimestamp,
		"attachments": attachments,
	}

	ref, _, err := s.messagesCol(section).Add(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("firestore Insert: %w", err)
	}
	return ref.ID, nil
}

func (s *Store) Subscribe(ctx context.Context, section chat.Section, limit int, fn chat.SnapshotFunc) (chat.Subscription, error) {
	q := s.messagesCol(section).OrderBy("timestamp", firestore.Desc).Limit(limit)

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, exited: make(chan struct{})}

	go func() {
		defer close(sub.exited)

		it := q.Snapshots(ctx)
		defer it.Stop()

		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, iterator.Done) {
					return
				}
				s.log.Error("firestore snapshot", "section", section, "error", err)
				return
			}

			msgs, err := decodeSnapshot(snap)
			if err != nil {
				s.log.Error("decoding firestore snapshot", "section", section, "error", err)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			fn(msgs)
		}
	}()

	return sub, nil
}

func decodeSnapshot(snap *firestore.QuerySnapshot) ([]chat.Message, error) {
	docs, err := snap.Documents.GetAll()
	if err != nil {
		return nil, err
	}

	out := make([]chat.Message, 0, len(docs))
	for _, d := range docs {
		var doc messageDoc
		if err := d.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode messageDoc %s: %w", d.Ref.ID, err)
		}

		msg := chat.Message{
			ID:          d.Ref.ID,
			Text:        doc.Text,
			Sender:      chat.Sender(doc.Sender),
			Type:        chat.MessageType(doc.Type),
			Timestamp:   doc.Timestamp,
			Attachments: make([]chat.Attachment, 0, len(doc.Attachments)),
		}
		if doc.Language != nil {
			msg.Language = *doc.Language
		}
		for _, a := range doc.Attachments {
			msg.Attachments = append(msg.Attachments, chat.Attachment{Name: a.Name, MimeType: a.Type, URL: a.URL})
		}
		out = append(out, msg)
	}
	return out, nil
}

type subscription struct {
	cancel context.CancelFunc
	exited chan struct{}
	once   sync.Once
}

// Unsubscribe stops the snapshot stream and waits for the delivering
// goroutine, so fn is never called after it returns.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		<-s.exited
	})
}
