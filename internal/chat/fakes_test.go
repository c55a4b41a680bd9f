package chat_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"labchat/internal/chat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type inserted struct {
	Section chat.Section
	Message chat.Message
}

// fakeStore records inserts and hands out manually driven subscriptions.
type fakeStore struct {
	mu       sync.Mutex
	inserts  []inserted
	failNext int
	subs     []*fakeSub
}

func (s *fakeStore) Insert(_ context.Context, section chat.Section, msg chat.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return "", errors.New("store unavailable")
	}
	msg.ID = fmt.Sprintf("m%d", len(s.inserts)+1)
	s.inserts = append(s.inserts, inserted{Section: section, Message: msg})
	return msg.ID, nil
}

func (s *fakeStore) Subscribe(_ context.Context, section chat.Section, limit int, fn chat.SnapshotFunc) (chat.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &fakeSub{section: section, limit: limit, fn: fn}
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *fakeStore) Inserts() []inserted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inserted(nil), s.inserts...)
}

func (s *fakeStore) Subs() []*fakeSub {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeSub(nil), s.subs...)
}

type fakeSub struct {
	section chat.Section
	limit   int
	fn      chat.SnapshotFunc

	mu           sync.Mutex
	unsubscribed int
}

// Deliver behaves like a well-mannered store: nothing after Unsubscribe.
func (s *fakeSub) Deliver(msgs ...chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribed > 0 {
		return
	}
	s.fn(msgs)
}

// DeliverLate ignores Unsubscribe, like a callback already in flight.
func (s *fakeSub) DeliverLate(msgs ...chat.Message) {
	s.fn(msgs)
}

func (s *fakeSub) Unsubscribe() {
	s.mu.Lock()
	s.unsubscribed++
	s.mu.Unlock()
}

func (s *fakeSub) Unsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed > 0
}

// fakeBlobs keeps uploads in memory and fails names listed in fail.
type fakeBlobs struct {
	mu    sync.Mutex
	data  map[string][]byte
	fail  map[string]bool
	names []string
}

func newFakeBlobs(failing ...string) *fakeBlobs {
	b := &fakeBlobs{data: make(map[string][]byte), fail: make(map[string]bool)}
	for _, f := range failing {
		b.fail[f] = true
	}
	return b
}

func (b *fakeBlobs) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for name := range b.fail {
		if strings.HasSuffix(key, "-"+name) {
			return "", errors.New("quota exceeded")
		}
	}
	b.data[key] = buf.Bytes()
	b.names = append(b.names, key)
	return key, nil
}

func (b *fakeBlobs) PublicURL(_ context.Context, handle string) (string, error) {
	return "https://blobs.test/" + handle, nil
}

func (b *fakeBlobs) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.names...)
}

// countingPreviews counts creates and revokes per url.
type countingPreviews struct {
	mu      sync.Mutex
	created int
	revoked map[string]int
}

func newCountingPreviews() *countingPreviews {
	return &countingPreviews{revoked: make(map[string]int)}
}

func (p *countingPreviews) Create(chat.File) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created++
	return fmt.Sprintf("blob:preview-%d", p.created), nil
}

func (p *countingPreviews) Revoke(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked[url]++
}

func (p *countingPreviews) Revoked(url string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revoked[url]
}

func (p *countingPreviews) TotalRevoked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.revoked {
		n += c
	}
	return n
}

type fakeClipboard struct {
	err  error
	text []string
}

func (c *fakeClipboard) WriteText(text string) error {
	if c.err != nil {
		return c.err
	}
	c.text = append(c.text, text)
	return nil
}

// gatedBlobs holds every upload until release is closed.
type gatedBlobs struct {
	*fakeBlobs
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedBlobs() *gatedBlobs {
	return &gatedBlobs{
		fakeBlobs: newFakeBlobs(),
		started:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (b *gatedBlobs) Upload(ctx context.Context, key string, r io.Reader, size int64, mimeType string) (string, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return b.fakeBlobs.Upload(ctx, key, r, size, mimeType)
}
