package chat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// UpdateFunc is told whenever the view of a section changes.
type UpdateFunc func(section Section, msgs []ViewMessage)

// Synchronizer keeps the live view of the active section. Only the most
// recent subscription may change view state: every callback carries the
// token it was opened with and is dropped once a newer one is installed.
type Synchronizer struct {
	store    MessageStore
	log      *slog.Logger
	limit    int
	onUpdate UpdateFunc

	mu      sync.Mutex
	section Section
	token   uint64
	sub     Subscription
	cache   map[Section][]ViewMessage
	closed  bool
}

// NewSynchronizer builds a synchronizer. onUpdate may be nil; it runs with the
// synchronizer locked and must not call back into it.
func NewSynchronizer(store MessageStore, log *slog.Logger, onUpdate UpdateFunc) *Synchronizer {
	return &Synchronizer{
		store:    store,
		log:      log,
		limit:    FeedLimit,
		onUpdate: onUpdate,
		cache:    make(map[Section][]ViewMessage),
	}
}

// SwitchSection tears down the current subscription and subscribes to
// section. The last known snapshot of section, if any, is published at once.
func (s *Synchronizer) SwitchSection(ctx context.Context, section Section) error {
	if _, err := ParseSection(string(section)); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("synchronizer closed")
	}
	if s.section == section && s.sub != nil {
		s.mu.Unlock()
		return nil
	}
	s.token++
	token := s.token
	old := s.sub
	s.sub = nil
	s.section = section
	if cached, ok := s.cache[section]; ok && s.onUpdate != nil {
		s.onUpdate(section, slices.Clone(cached))
	}
	s.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}

	sub, err := s.store.Subscribe(ctx, section, s.limit, func(msgs []Message) {
		s.apply(token, section, msgs)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", section, err)
	}

	s.mu.Lock()
	if s.token != token {
		// A newer switch or Close happened while subscribing.
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()
	return nil
}

func (s *Synchronizer) apply(token uint64, section Section, msgs []Message) {
	view := make([]ViewMessage, len(msgs))
	for i, m := range msgs {
		// Newest first from the store, oldest first on screen.
		view[len(msgs)-1-i] = newViewMessage(m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token {
		s.log.Debug("dropping stale snapshot", "section", section)
		return
	}
	s.cache[section] = view
	if s.onUpdate != nil {
		s.onUpdate(section, slices.Clone(view))
	}
}

// Section is the section currently subscribed to.
func (s *Synchronizer) Section() Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.section
}

// View returns the cached messages for section, oldest first. ok is false if
// the section has never delivered a snapshot.
func (s *Synchronizer) View(section Section) (msgs []ViewMessage, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cached, ok := s.cache[section]
	return slices.Clone(cached), ok
}

// Close unsubscribes. No update is published afterwards.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.closed = true
	s.token++
	old := s.sub
	s.sub = nil
	s.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}
}
