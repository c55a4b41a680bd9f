package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"labchat/internal/chat"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 512                 // Maximum message size allowed from peer.
	sendBuffer     = 64
)

// Event is the JSON frame exchanged over the websocket.
//
//	server -> client: {"type":"snapshot","section":"study","messages":[...]}
//	                  {"type":"error","error":"..."}
//	client -> server: {"type":"switch","section":"fun"}
type Event struct {
	Type     string             `json:"type"`
	Section  chat.Section       `json:"section,omitempty"`
	Messages []chat.ViewMessage `json:"messages,omitempty"`
	Error    string             `json:"error,omitempty"`
}

const (
	EventSnapshot = "snapshot"
	EventError    = "error"
	EventSwitch   = "switch"
)

// Client is a middleman between the websocket connection and the
// synchronizer of its live view.
type Client struct {
	conn   *websocket.Conn
	sync   *chat.Synchronizer
	cancel context.CancelFunc
	log    *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, cancel context.CancelFunc, log *slog.Logger) *Client {
	return &Client{
		conn:   conn,
		cancel: cancel,
		log:    log,
		send:   make(chan []byte, sendBuffer),
	}
}

// pushSnapshot runs under the synchronizer lock, so it never blocks: a
// client too slow to drain its buffer is disconnected.
func (c *Client) pushSnapshot(section chat.Section, msgs []chat.ViewMessage) {
	c.enqueue(Event{Type: EventSnapshot, Section: section, Messages: msgs})
}

func (c *Client) pushError(err error) {
	c.enqueue(Event{Type: EventError, Error: err.Error()})
}

func (c *Client) enqueue(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("encoding websocket event", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.log.Warn("websocket client too slow, disconnecting")
		c.closeSendLocked()
	}
}

func (c *Client) closeSendLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump handles section switches until the connection dies, then tears
// the live view down.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.cancel()
		c.sync.Close()
		c.mu.Lock()
		c.closeSendLocked()
		c.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("reading websocket", "error", err)
			}
			return
		}

		if ev.Type != EventSwitch {
			c.pushError(&unknownEventError{ev.Type})
			continue
		}
		section, err := chat.ParseSection(string(ev.Section))
		if err != nil {
			c.pushError(err)
			continue
		}
		if err := c.sync.SwitchSection(ctx, section); err != nil {
			c.pushError(err)
		}
	}
}

// WritePump pumps events to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Queued events go out in the same frame, one JSON document per line.
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type unknownEventError struct {
	typ string
}

func (e *unknownEventError) Error() string {
	return "unknown event type " + `"` + e.typ + `"`
}
