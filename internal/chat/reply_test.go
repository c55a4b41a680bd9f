package chat_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labchat/internal/chat"
)

func TestScriptedReply(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"hello", chat.ReplyGreeting},
		{"Hi everyone", chat.ReplyGreeting},
		{"this is python", chat.ReplyGreeting}, // "hi" inside "this"
		{"I love Python", chat.ReplyPython},
		{"got an ERROR on line 3", chat.ReplyError},
		{"python error", chat.ReplyPython},
		{"what now", chat.ReplyClarifying},
		{"", chat.ReplyClarifying},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, chat.ScriptedReply(tt.text))
		})
	}
}

func TestResponder_ZeroDelay(t *testing.T) {
	r := chat.NewResponder(0, 0)

	start := time.Now()
	got, err := r.Reply(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, chat.ReplyGreeting, got)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestResponder_JitterWithinRange(t *testing.T) {
	var span int64
	r := &chat.Responder{
		MinDelay: time.Millisecond,
		MaxDelay: 3 * time.Millisecond,
		Jitter: func(n int64) int64 {
			span = n
			return n - 1
		},
	}

	_, err := r.Reply(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, int64(2*time.Millisecond), span)
}

func TestResponder_ContextCancelled(t *testing.T) {
	r := chat.NewResponder(time.Hour, 2*time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Reply(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}
