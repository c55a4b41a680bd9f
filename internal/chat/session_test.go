package chat_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labchat/internal/chat"
)

func TestNewSession_Defaults(t *testing.T) {
	sess := chat.NewSession(testLogger())
	defer sess.Close()

	assert.Equal(t, chat.SectionStudy, sess.Section())
	assert.Empty(t, sess.Draft())
	assert.Empty(t, sess.Pending())
	assert.False(t, sess.ChatMode())
	assert.False(t, sess.IsSending())
	assert.Empty(t, sess.CopiedMessageID())
}

func TestSession_SwitchSection(t *testing.T) {
	sess := chat.NewSession(testLogger())
	defer sess.Close()

	require.NoError(t, sess.SwitchSection(chat.SectionLove))
	assert.Equal(t, chat.SectionLove, sess.Section())

	err := sess.SwitchSection("gossip")
	assert.ErrorIs(t, err, chat.ErrUnknownSection)
	assert.Equal(t, chat.SectionLove, sess.Section())
}

func TestSession_AddFiles(t *testing.T) {
	previews := newCountingPreviews()
	sess := chat.NewSession(testLogger(), chat.WithPreviews(previews))
	defer sess.Close()

	added := sess.AddFiles(
		chat.BytesFile("cat.png", "image/png", []byte("png")),
		chat.BytesFile("notes.pdf", "application/pdf", make([]byte, 2048)),
		chat.BytesFile("cat.png", "image/png", []byte("png")),
	)
	require.Len(t, added, 3)

	ids := map[string]bool{}
	for _, a := range added {
		assert.NotEmpty(t, a.ID)
		ids[a.ID] = true
	}
	assert.Len(t, ids, 3, "ids must be unique within a session")

	assert.True(t, added[0].IsImage())
	assert.NotEmpty(t, added[0].PreviewURL)
	assert.False(t, added[1].IsImage())
	assert.Empty(t, added[1].PreviewURL)
	assert.Equal(t, "2.0 KiB", added[1].SizeLabel())
	assert.NotEqual(t, added[0].PreviewURL, added[2].PreviewURL)

	assert.Len(t, sess.Pending(), 3)
	assert.Zero(t, previews.TotalRevoked(), "nothing is released before removal")
}

func TestSession_RemoveAttachmentReleasesOnce(t *testing.T) {
	previews := newCountingPreviews()
	sess := chat.NewSession(testLogger(), chat.WithPreviews(previews))
	defer sess.Close()

	added := sess.AddFiles(
		chat.BytesFile("cat.png", "image/png", []byte("png")),
		chat.BytesFile("notes.txt", "text/plain", []byte("notes")),
	)
	img := added[0]

	assert.True(t, sess.RemoveAttachment(img.ID))
	assert.Equal(t, 1, previews.Revoked(img.PreviewURL))

	assert.False(t, sess.RemoveAttachment(img.ID), "second removal is a no-op")
	assert.Equal(t, 1, previews.Revoked(img.PreviewURL))

	assert.False(t, sess.RemoveAttachment("no-such-id"))

	pending := sess.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, added[1].ID, pending[0].ID)

	assert.True(t, sess.RemoveAttachment(added[1].ID))
	assert.Equal(t, 1, previews.TotalRevoked(), "non-images hold no preview")
}

func TestSession_CloseReleasesPreviews(t *testing.T) {
	urls := chat.NewObjectURLs()
	sess := chat.NewSession(testLogger(), chat.WithPreviews(urls))

	added := sess.AddFiles(
		chat.BytesFile("a.jpg", "image/jpeg", []byte("a")),
		chat.BytesFile("b.gif", "image/gif", []byte("b")),
	)
	assert.Equal(t, 2, urls.Len())

	data, ok := urls.Get(added[0].PreviewURL)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), data)

	sess.Close()
	assert.Zero(t, urls.Len())
	assert.Empty(t, sess.Pending())
}

func TestSession_CopyPrimary(t *testing.T) {
	sess := chat.NewSession(testLogger(), chat.WithCopiedWindow(20*time.Millisecond))
	defer sess.Close()

	primary := &fakeClipboard{}
	fallback := &fakeClipboard{}

	assert.True(t, sess.Copy(primary, fallback, "m1", "SELECT 1"))
	assert.Equal(t, []string{"SELECT 1"}, primary.text)
	assert.Empty(t, fallback.text)
	assert.Equal(t, "m1", sess.CopiedMessageID())

	assert.Eventually(t, func() bool {
		return sess.CopiedMessageID() == ""
	}, time.Second, 5*time.Millisecond)
}

func TestSession_CopyFallback(t *testing.T) {
	sess := chat.NewSession(testLogger())
	defer sess.Close()

	primary := &fakeClipboard{err: errors.New("permission denied")}
	fallback := &fakeClipboard{}

	assert.True(t, sess.Copy(primary, fallback, "m2", "text"))
	assert.Equal(t, []string{"text"}, fallback.text)
	assert.Equal(t, "m2", sess.CopiedMessageID())

	// No primary at all goes straight to the fallback.
	assert.True(t, sess.Copy(nil, fallback, "m3", "more"))
	assert.Equal(t, "m3", sess.CopiedMessageID())
}

func TestSession_CopyFailureIsSilent(t *testing.T) {
	sess := chat.NewSession(testLogger())
	defer sess.Close()

	broken := &fakeClipboard{err: errors.New("nope")}
	assert.False(t, sess.Copy(broken, broken, "m1", "text"))
	assert.False(t, sess.Copy(nil, nil, "m1", "text"))
	assert.Empty(t, sess.CopiedMessageID())
}

func TestSession_CopyRestartsWindow(t *testing.T) {
	sess := chat.NewSession(testLogger(), chat.WithCopiedWindow(50*time.Millisecond))
	defer sess.Close()

	cb := &fakeClipboard{}
	require.True(t, sess.Copy(cb, nil, "m1", "a"))
	require.True(t, sess.Copy(cb, nil, "m2", "b"))
	assert.Equal(t, "m2", sess.CopiedMessageID())

	assert.Eventually(t, func() bool {
		return sess.CopiedMessageID() == ""
	}, time.Second, 5*time.Millisecond)
}
