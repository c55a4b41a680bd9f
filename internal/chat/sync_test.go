package chat_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labchat/internal/chat"
)

type update struct {
	section chat.Section
	ids     []string
}

type recorder struct {
	mu      sync.Mutex
	updates []update
}

func (r *recorder) fn(section chat.Section, msgs []chat.ViewMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	r.updates = append(r.updates, update{section: section, ids: ids})
}

func (r *recorder) Updates() []update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]update(nil), r.updates...)
}

func stamped(id string, at time.Time) chat.Message {
	return chat.Message{ID: id, Text: id, Sender: chat.SenderAnonymous, Type: chat.TypeText, Timestamp: &at}
}

func TestSynchronizer_ReversesSnapshot(t *testing.T) {
	store := &fakeStore{}
	rec := &recorder{}
	s := chat.NewSynchronizer(store, testLogger(), rec.fn)
	defer s.Close()

	require.NoError(t, s.SwitchSection(context.Background(), chat.SectionStudy))
	subs := store.Subs()
	require.Len(t, subs, 1)
	assert.Equal(t, chat.FeedLimit, subs[0].limit)

	now := time.Now()
	subs[0].Deliver(stamped("m3", now), stamped("m2", now.Add(-time.Minute)), stamped("m1", now.Add(-2*time.Minute)))

	assert.Equal(t, []update{{section: chat.SectionStudy, ids: []string{"m1", "m2", "m3"}}}, rec.Updates())

	view, ok := s.View(chat.SectionStudy)
	require.True(t, ok)
	require.Len(t, view, 3)
	assert.Equal(t, now.Local().Format("15:04"), view[2].TimeLabel)
	assert.NotNil(t, view[0].Attachments)
}

func TestSynchronizer_PendingTimestamp(t *testing.T) {
	store := &fakeStore{}
	s := chat.NewSynchronizer(store, testLogger(), nil)
	defer s.Close()

	require.NoError(t, s.SwitchSection(context.Background(), chat.SectionFun))
	sub := store.Subs()[0]

	sub.Deliver(chat.Message{ID: "m1", Text: "on its way"})
	view, _ := s.View(chat.SectionFun)
	require.Len(t, view, 1)
	assert.Equal(t, chat.PendingTimeLabel, view[0].TimeLabel)

	at := time.Date(2024, 3, 1, 9, 5, 0, 0, time.Local)
	sub.Deliver(stamped("m1", at))
	view, _ = s.View(chat.SectionFun)
	require.Len(t, view, 1)
	assert.Equal(t, "m1", view[0].ID)
	assert.Equal(t, "09:05", view[0].TimeLabel)
}

func TestSynchronizer_SwitchBackShowsCachedSnapshot(t *testing.T) {
	store := &fakeStore{}
	rec := &recorder{}
	s := chat.NewSynchronizer(store, testLogger(), rec.fn)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SwitchSection(ctx, chat.SectionStudy))
	store.Subs()[0].Deliver(stamped("a2", time.Now()), stamped("a1", time.Now()))

	require.NoError(t, s.SwitchSection(ctx, chat.SectionLove))
	assert.True(t, store.Subs()[0].Unsubscribed())
	assert.Equal(t, chat.SectionLove, s.Section())
	store.Subs()[1].Deliver(stamped("b1", time.Now()))

	require.NoError(t, s.SwitchSection(ctx, chat.SectionStudy))
	assert.True(t, store.Subs()[1].Unsubscribed())

	// The cached snapshot is published at once, before the new subscription
	// delivers anything.
	updates := rec.Updates()
	require.Len(t, updates, 3)
	assert.Equal(t, update{section: chat.SectionStudy, ids: []string{"a1", "a2"}}, updates[2])

	view, ok := s.View(chat.SectionStudy)
	require.True(t, ok)
	assert.Len(t, view, 2)

	love, ok := s.View(chat.SectionLove)
	require.True(t, ok)
	assert.Len(t, love, 1)

	_, ok = s.View(chat.SectionEntertainment)
	assert.False(t, ok)
}

func TestSynchronizer_DropsStaleCallbacks(t *testing.T) {
	store := &fakeStore{}
	rec := &recorder{}
	s := chat.NewSynchronizer(store, testLogger(), rec.fn)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SwitchSection(ctx, chat.SectionStudy))
	old := store.Subs()[0]
	old.Deliver(stamped("a1", time.Now()))

	require.NoError(t, s.SwitchSection(ctx, chat.SectionEntertainment))
	before := len(rec.Updates())

	// A callback already in flight when the old subscription was torn down.
	old.DeliverLate(stamped("a2", time.Now()), stamped("a1", time.Now()))

	assert.Len(t, rec.Updates(), before)
	view, _ := s.View(chat.SectionStudy)
	require.Len(t, view, 1)
	assert.Equal(t, "a1", view[0].ID)
}

func TestSynchronizer_SameSectionIsNoop(t *testing.T) {
	store := &fakeStore{}
	s := chat.NewSynchronizer(store, testLogger(), nil)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SwitchSection(ctx, chat.SectionStudy))
	require.NoError(t, s.SwitchSection(ctx, chat.SectionStudy))
	assert.Len(t, store.Subs(), 1)
}

func TestSynchronizer_UnknownSection(t *testing.T) {
	s := chat.NewSynchronizer(&fakeStore{}, testLogger(), nil)
	defer s.Close()

	err := s.SwitchSection(context.Background(), "nope")
	assert.ErrorIs(t, err, chat.ErrUnknownSection)
}

func TestSynchronizer_Close(t *testing.T) {
	store := &fakeStore{}
	rec := &recorder{}
	s := chat.NewSynchronizer(store, testLogger(), rec.fn)

	ctx := context.Background()
	require.NoError(t, s.SwitchSection(ctx, chat.SectionStudy))
	sub := store.Subs()[0]

	s.Close()
	assert.True(t, sub.Unsubscribed())

	sub.DeliverLate(stamped("late", time.Now()))
	assert.Empty(t, rec.Updates())

	assert.Error(t, s.SwitchSection(ctx, chat.SectionFun))
}
