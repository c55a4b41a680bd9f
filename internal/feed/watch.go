package feed

import (
	"context"
	"log/slog"
	"sync"

	"labchat/internal/chat"
)

// QueryFunc loads the current bounded, newest-first view of a section.
type QueryFunc func(ctx context.Context) ([]chat.Message, error)

// Watch turns a one-shot query into a live subscription: the query runs once
// right away and again after every notification for section. Runs never
// overlap, so snapshots reach fn in order.
func Watch(ctx context.Context, hub *Hub, section chat.Section, query QueryFunc, fn chat.SnapshotFunc, log *slog.Logger) chat.Subscription {
	ctx, cancel := context.WithCancel(ctx)
	w := &watch{cancel: cancel}

	w.listener = hub.Listen(string(section), func() {
		msgs, err := query(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("refreshing feed", "section", section, "error", err)
			}
			return
		}
		fn(msgs)
	})
	w.listener.Trigger()
	return w
}

type watch struct {
	cancel   context.CancelFunc
	listener *Listener
	once     sync.Once
}

func (w *watch) Unsubscribe() {
	w.once.Do(func() {
		w.cancel()
		w.listener.Close()
	})
}
