package chat

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	ReplyGreeting   = "Hello there! How can I help you with your lab work today?"
	ReplyPython     = "I see you're working with Python. Remember to check your indentation! What seems to be the issue?"
	ReplyError      = "Debugging is part of the process! Can you paste the full error message? That will help me analyze it."
	ReplyClarifying = "That's an interesting point. Could you elaborate a bit more on what you're trying to achieve?"
)

const (
	DefaultReplyMin = 800 * time.Millisecond
	DefaultReplyMax = 1600 * time.Millisecond
)

type replyRule struct {
	keywords []string
	reply    string
}

var replyRules = []replyRule{
	{[]string{"hello", "hi"}, ReplyGreeting},
	{[]string{"python"}, ReplyPython},
	{[]string{"error"}, ReplyError},
}

// Responder produces the scripted assistant reply. It is a fixed lookup
// table; the delay only simulates thinking time.
type Responder struct {
	// MinDelay and MaxDelay bound the simulated latency, [MinDelay, MaxDelay).
	// Both zero means reply immediately.
	MinDelay time.Duration
	MaxDelay time.Duration

	// Jitter returns a value in [0, n). Defaults to math/rand/v2.
	Jitter func(n int64) int64
}

func NewResponder(minDelay, maxDelay time.Duration) *Responder {
	return &Responder{MinDelay: minDelay, MaxDelay: maxDelay}
}

// Reply waits for the simulated delay and returns the canned answer for text.
func (r *Responder) Reply(ctx context.Context, text string) (string, error) {
	if d := r.delay(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return ScriptedReply(text), nil
}

func (r *Responder) delay() time.Duration {
	if r.MaxDelay <= r.MinDelay {
		return r.MinDelay
	}
	jitter := r.Jitter
	if jitter == nil {
		jitter = rand.Int64N
	}
	return r.MinDelay + time.Duration(jitter(int64(r.MaxDelay-r.MinDelay)))
}

// ScriptedReply applies the reply table without any delay.
func ScriptedReply(text string) string {
	lower := strings.ToLower(text)
	for _, rule := range replyRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.reply
			}
		}
	}
	return ReplyClarifying
}
