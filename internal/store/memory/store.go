package memory

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"labchat/internal/chat"
	"labchat/internal/feed"
)

// Store keeps every section log in memory. Change notifications go through
// hub, which must be running.
type Store struct {
	hub *feed.Hub
	log *slog.Logger
	now func() time.Time

	mu       sync.RWMutex
	messages map[chat.Section][]chat.Message
}

func NewStore(hub *feed.Hub, log *slog.Logger) *Store {
	return &Store{
		hub:      hub,
		log:      log,
		now:      time.Now,
		messages: make(map[chat.Section][]chat.Message),
	}
}

func (s *Store) Insert(ctx context.Context, section chat.Section, msg chat.Message) (string, error) {
	msg.ID = uuid.NewString()
	msg.Attachments = slices.Clone(msg.Attachments)

	// Stamped under the lock so log order and timestamp order agree.
	s.mu.Lock()
	ts := s.now().UTC()
	msg.Timestamp = &ts
	s.messages[section] = append(s.messages[section], msg)
	s.mu.Unlock()

	// The message is stored either way; a lost notification only delays views.
	if err := s.hub.Notify(ctx, string(section)); err != nil {
		s.log.Warn("notifying section", "section", section, "error", err)
	}
	return msg.ID, nil
}

// Recent returns up to limit messages of section, newest first.
func (s *Store) Recent(_ context.Context, section chat.Section, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[section]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := slices.Clone(msgs)
	slices.Reverse(out)
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, section chat.Section, limit int, fn chat.SnapshotFunc) (chat.Subscription, error) {
	query := func(ctx context.Context) ([]chat.Message, error) {
		return s.Recent(ctx, section, limit)
	}
	return feed.Watch(ctx, s.hub, section, query, fn, s.log), nil
}
