package chat

import (
	"context"
	"io"
)

// Subscription is a standing live query. Unsubscribe is idempotent; once it
// returns no further snapshot callbacks run.
type Subscription interface {
	Unsubscribe()
}

// SnapshotFunc receives the most recent messages of a section, newest first.
type SnapshotFunc func(msgs []Message)

// MessageStore is the document store holding every section's message log.
type MessageStore interface {
	// Insert appends msg to the section log and returns the store-assigned id.
	// msg.Timestamp is ignored: the store sets it at commit time.
	Insert(ctx context.Context, section Section, msg Message) (string, error)

	// Subscribe opens a live query on the section's log ordered by timestamp
	// descending and capped at limit. fn receives an initial snapshot and one
	// more after every change.
	Subscribe(ctx context.Context, section Section, limit int, fn SnapshotFunc) (Subscription, error)
}

// BlobStore holds uploaded attachment bytes.
type BlobStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, mimeType string) (handle string, err error)
	PublicURL(ctx context.Context, handle string) (string, error)
}
