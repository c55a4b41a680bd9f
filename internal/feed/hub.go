// Package feed delivers "section changed" notifications to live queries,
// across instances through Redis pub/sub or inside one process.
package feed

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const DefaultChannelPrefix = "labchat:section:"

// Hub routes change notifications to the listeners of a section.
// Run owns the listener set; everything else talks to it over channels.
type Hub struct {
	listeners map[*Listener]bool

	broadcast  chan string // section that changed
	register   chan *Listener
	unregister chan *Listener
	done       chan struct{}

	redis  *redis.Client
	prefix string
	log    *slog.Logger
}

// NewHub creates a hub. With a nil redis client notifications stay in
// process.
func NewHub(redisClient *redis.Client, log *slog.Logger) *Hub {
	return &Hub{
		listeners:  make(map[*Listener]bool),
		broadcast:  make(chan string),
		register:   make(chan *Listener),
		unregister: make(chan *Listener),
		done:       make(chan struct{}),
		redis:      redisClient,
		prefix:     DefaultChannelPrefix,
		log:        log,
	}
}

// Run dispatches notifications until ctx is done. Listeners still registered
// at that point are stopped.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	if h.redis != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			for l := range h.listeners {
				l.stop()
			}
			return

		case l := <-h.register:
			h.listeners[l] = true

		case l := <-h.unregister:
			if _, ok := h.listeners[l]; ok {
				delete(h.listeners, l)
				l.stop()
			}

		case section := <-h.broadcast:
			for l := range h.listeners {
				if l.section == section {
					l.Trigger()
				}
			}
		}
	}
}

// Notify tells every instance that section has new messages.
func (h *Hub) Notify(ctx context.Context, section string) error {
	if h.redis != nil {
		return h.redis.Publish(ctx, h.prefix+section, section).Err()
	}
	return h.deliver(ctx, section)
}

func (h *Hub) deliver(ctx context.Context, section string) error {
	select {
	case h.broadcast <- section:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// subscribeToRedis forwards notifications published by any instance.
func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.redis.PSubscribe(ctx, h.prefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			section := strings.TrimPrefix(msg.Channel, h.prefix)
			if err := h.deliver(ctx, section); err != nil {
				return
			}
		}
	}
}

// Listener calls fn on its own goroutine after each notification for its
// section. Notifications arriving while fn runs collapse into one more call.
type Listener struct {
	hub     *Hub
	section string
	fn      func()

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
}

// Listen registers fn for section. It blocks until Run accepts the listener.
func (h *Hub) Listen(section string, fn func()) *Listener {
	l := &Listener{
		hub:     h,
		section: section,
		fn:      fn,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go l.loop()

	select {
	case h.register <- l:
	case <-h.done:
		l.stop()
	}
	return l
}

func (l *Listener) loop() {
	defer close(l.exited)
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
			select {
			case <-l.done:
				return
			default:
			}
			l.fn()
		}
	}
}

// Trigger schedules one call of fn unless one is already pending.
func (l *Listener) Trigger() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Close unregisters the listener and waits for its goroutine to exit. It
// must not be called from fn.
func (l *Listener) Close() {
	select {
	case l.hub.unregister <- l:
	case <-l.hub.done:
		l.stop()
	case <-l.done:
	}
	<-l.exited
}

func (l *Listener) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}
