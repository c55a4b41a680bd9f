package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultPersistAttempts = 3

// SendResult describes what a Send did.
type SendResult struct {
	Sent         bool
	Section      Section
	MessageID    string
	Message      Message
	ReplyPending bool
}

// Composer turns a Session into persisted messages.
type Composer struct {
	store     MessageStore
	uploader  *Uploader
	responder *Responder
	log       *slog.Logger

	// PersistAttempts bounds Insert attempts. The wait between them grows
	// exponentially from PersistBackoff, randomized; zero retries at once.
	PersistAttempts int
	PersistBackoff  time.Duration

	replies sync.WaitGroup
}

func NewComposer(store MessageStore, uploader *Uploader, responder *Responder, log *slog.Logger) *Composer {
	return &Composer{
		store:           store,
		uploader:        uploader,
		responder:       responder,
		log:             log,
		PersistAttempts: defaultPersistAttempts,
		PersistBackoff:  250 * time.Millisecond,
	}
}

// Send persists the session's draft and attachments into its active section.
// A blank draft with no attachments is a no-op. In chat mode a scripted reply
// is appended afterwards, in the background, to the same section.
//
// If the message cannot be persisted the draft and attachments stay in the
// session and the error wraps ErrPersist.
func (c *Composer) Send(ctx context.Context, sess *Session) (SendResult, error) {
	out, ok, err := sess.beginSend()
	if err != nil || !ok {
		return SendResult{}, err
	}

	attachments := c.uploader.UploadAll(ctx, out.pending)

	// The human message is always anonymous, even in chat mode; only the
	// scripted reply is sent as the assistant.
	class := Classify(out.text)
	msg := Message{
		Text:        out.text,
		Sender:      SenderAnonymous,
		Type:        class.Type,
		Language:    class.Language,
		Attachments: attachments,
	}

	id, err := c.persist(ctx, out.section, msg)
	if err != nil {
		sess.finishSend(out, false)
		c.log.Error("sending message", "section", out.section, "error", err)
		return SendResult{}, err
	}
	msg.ID = id
	sess.finishSend(out, true)

	c.log.Info("message sent",
		"section", out.section, "id", id, "type", msg.Type,
		"language", msg.Language, "attachments", len(attachments))

	res := SendResult{Sent: true, Section: out.section, MessageID: id, Message: msg}
	if out.chatMode && c.responder != nil {
		res.ReplyPending = true
		c.replies.Add(1)
		go c.reply(context.WithoutCancel(ctx), out.section, out.text)
	}
	return res, nil
}

// reply appends the scripted answer to section, which is the section active
// when Send was called.
func (c *Composer) reply(ctx context.Context, section Section, userText string) {
	defer c.replies.Done()

	text, err := c.responder.Reply(ctx, userText)
	if err != nil {
		c.log.Warn("computing auto-reply", "section", section, "error", err)
		return
	}

	msg := Message{
		Text:        text,
		Sender:      SenderAI,
		Type:        TypeText,
		Attachments: []Attachment{},
	}
	if _, err := c.persist(ctx, section, msg); err != nil {
		c.log.Error("sending auto-reply", "section", section, "error", err)
	}
}

// Wait blocks until every in-flight auto-reply has been appended or failed.
func (c *Composer) Wait() {
	c.replies.Wait()
}

func (c *Composer) persist(ctx context.Context, section Section, msg Message) (string, error) {
	attempts := max(c.PersistAttempts, 1)
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(attempts-1)), ctx)

	id, err := backoff.RetryNotifyWithData(func() (string, error) {
		return c.store.Insert(ctx, section, msg)
	}, policy, func(err error, wait time.Duration) {
		c.log.Warn("retrying insert", "section", section, "backoff", wait, "error", err)
	})
	if err != nil {
		return "", fmt.Errorf("%w after %d attempts: %w", ErrPersist, attempts, err)
	}
	return id, nil
}

func (c *Composer) newBackOff() backoff.BackOff {
	if c.PersistBackoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.PersistBackoff
	b.MaxElapsedTime = 0 // attempts alone bound the retries
	return b
}
