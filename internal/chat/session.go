package chat

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CopiedWindow is how long a copied message stays flagged.
const CopiedWindow = 2 * time.Second

var ErrNoClipboard = errors.New("clipboard unavailable")

// Clipboard writes text to some clipboard.
type Clipboard interface {
	WriteText(text string) error
}

// Session is the local composing state of one user: the draft, the files
// selected but not yet sent, the active section and the chat mode.
type Session struct {
	log      *slog.Logger
	previews Previews

	mu       sync.Mutex
	section  Section
	draft    string
	pending  []*PendingAttachment
	chatMode bool
	sending  bool

	copiedID     string
	copiedTimer  *time.Timer
	copiedWindow time.Duration
}

type SessionOption func(*Session)

func WithPreviews(p Previews) SessionOption {
	return func(s *Session) { s.previews = p }
}

func WithCopiedWindow(d time.Duration) SessionOption {
	return func(s *Session) { s.copiedWindow = d }
}

func NewSession(log *slog.Logger, opts ...SessionOption) *Session {
	s := &Session{
		log:          log,
		section:      DefaultSection,
		copiedWindow: CopiedWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.previews == nil {
		s.previews = NewObjectURLs()
	}
	return s
}

func (s *Session) Section() Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.section
}

func (s *Session) SwitchSection(section Section) error {
	if _, err := ParseSection(string(section)); err != nil {
		return err
	}
	s.mu.Lock()
	s.section = section
	s.mu.Unlock()
	return nil
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

func (s *Session) ChatMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatMode
}

func (s *Session) SetChatMode(on bool) {
	s.mu.Lock()
	s.chatMode = on
	s.mu.Unlock()
}

func (s *Session) IsSending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// AddFiles turns selected files into pending attachments. Nothing is
// uploaded yet; images get a local preview handle.
func (s *Session) AddFiles(files ...File) []PendingAttachment {
	added := make([]*PendingAttachment, 0, len(files))
	for _, f := range files {
		p := &PendingAttachment{
			ID:       newAttachmentID(),
			File:     f,
			Name:     f.Name(),
			Size:     f.Size(),
			MimeType: f.MimeType(),
		}
		if isImage(p.MimeType) {
			url, err := s.previews.Create(f)
			if err != nil {
				s.log.Warn("creating preview", "name", p.Name, "error", err)
			} else {
				p.PreviewURL = url
			}
		}
		added = append(added, p)
	}

	s.mu.Lock()
	s.pending = append(s.pending, added...)
	s.mu.Unlock()

	out := make([]PendingAttachment, len(added))
	for i, p := range added {
		out[i] = *p
	}
	return out
}

// newAttachmentID is a UUIDv7: millisecond timestamp plus random bits.
func newAttachmentID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// RemoveAttachment drops a pending attachment and revokes its preview.
// Removing an unknown or already removed id is a no-op.
func (s *Session) RemoveAttachment(id string) bool {
	s.mu.Lock()
	idx := slices.IndexFunc(s.pending, func(p *PendingAttachment) bool { return p.ID == id })
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	removed := s.pending[idx]
	s.pending = slices.Delete(s.pending, idx, idx+1)
	s.mu.Unlock()

	s.release(removed)
	return true
}

func (s *Session) Pending() []PendingAttachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingAttachment, len(s.pending))
	for i, p := range s.pending {
		out[i] = *p
	}
	return out
}

func (s *Session) release(p *PendingAttachment) {
	if p.PreviewURL != "" {
		s.previews.Revoke(p.PreviewURL)
	}
}

// Close releases every outstanding preview and stops the copied timer.
func (s *Session) Close() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	if s.copiedTimer != nil {
		s.copiedTimer.Stop()
		s.copiedTimer = nil
	}
	s.copiedID = ""
	s.mu.Unlock()

	for _, p := range pending {
		s.release(p)
	}
}

// outgoing is what a send captured from the session.
type outgoing struct {
	section  Section
	text     string
	pending  []*PendingAttachment
	chatMode bool
}

// beginSend snapshots the session and raises the sending flag. ok is false
// when there is nothing to send.
func (s *Session) beginSend() (out outgoing, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(s.draft) == "" && len(s.pending) == 0 {
		return outgoing{}, false, nil
	}
	if s.sending {
		return outgoing{}, false, ErrSendInProgress
	}
	s.sending = true

	return outgoing{
		section:  s.section,
		text:     s.draft,
		pending:  slices.Clone(s.pending),
		chatMode: s.chatMode,
	}, true, nil
}

// finishSend lowers the sending flag. On success the draft is cleared and the
// sent attachments are removed and released; on failure both are kept.
func (s *Session) finishSend(sent outgoing, success bool) {
	s.mu.Lock()
	s.sending = false
	if !success {
		s.mu.Unlock()
		return
	}
	s.draft = ""
	var released []*PendingAttachment
	s.pending = slices.DeleteFunc(s.pending, func(p *PendingAttachment) bool {
		if slices.Contains(sent.pending, p) {
			released = append(released, p)
			return true
		}
		return false
	})
	s.mu.Unlock()

	for _, p := range released {
		s.release(p)
	}
}

// CopiedMessageID is the message most recently copied, empty once the copied
// window has passed.
func (s *Session) CopiedMessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copiedID
}

// Copy writes text to primary, falling back to fallback when primary is nil
// or fails. A failed fallback is only logged. It reports whether the text
// reached a clipboard.
func (s *Session) Copy(primary, fallback Clipboard, messageID, text string) bool {
	if primary != nil {
		err := primary.WriteText(text)
		if err == nil {
			s.markCopied(messageID)
			return true
		}
		s.log.Warn("copying to clipboard, trying fallback", "message_id", messageID, "error", err)
	}

	if fallback == nil {
		s.log.Error("copying to clipboard", "message_id", messageID, "error", ErrNoClipboard)
		return false
	}
	if err := fallback.WriteText(text); err != nil {
		s.log.Error("fallback copy to clipboard", "message_id", messageID, "error", err)
		return false
	}
	s.markCopied(messageID)
	return true
}

func (s *Session) markCopied(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.copiedTimer != nil {
		s.copiedTimer.Stop()
	}
	s.copiedID = messageID

	var timer *time.Timer
	timer = time.AfterFunc(s.copiedWindow, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.copiedTimer == timer {
			s.copiedID = ""
			s.copiedTimer = nil
		}
	})
	s.copiedTimer = timer
}
