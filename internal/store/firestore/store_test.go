package firestore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labchat/internal/chat"
)

// Runs against the emulator only:
//
//	gcloud emulators firestore start --host-port=localhost:8681
//	FIRESTORE_EMULATOR_HOST=localhost:8681 go test ./internal/store/firestore
func newEmulatorStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	s, err := NewStore(context.Background(), "labchat-test-"+uuid.NewString()[:8], slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStoreRequiresProject(t *testing.T) {
	_, err := NewStore(context.Background(), "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestStore_InsertAndSubscribe(t *testing.T) {
	s := newEmulatorStore(t)
	ctx := context.Background()

	snapshots := make(chan []chat.Message, 16)
	sub, err := s.Subscribe(ctx, chat.SectionStudy, chat.FeedLimit, func(msgs []chat.Message) {
		snapshots <- msgs
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	id, err := s.Insert(ctx, chat.SectionStudy, chat.Message{
		Text:        "#include <stdio.h>",
		Sender:      chat.SenderAnonymous,
		Type:        chat.TypeCode,
		Language:    "C++",
		Attachments: []chat.Attachment{{Name: "a.c", MimeType: "text/x-c", URL: "http://x/a.c"}},
	})
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case msgs := <-snapshots:
			if len(msgs) == 0 || msgs[0].ID != id || msgs[0].Timestamp == nil {
				continue
			}
			assert.Equal(t, "C++", msgs[0].Language)
			require.Len(t, msgs[0].Attachments, 1)
			assert.Equal(t, "text/x-c", msgs[0].Attachments[0].MimeType)
			return
		case <-deadline:
			t.Fatal("inserted message never showed up")
		}
	}
}
