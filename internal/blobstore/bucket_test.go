package blobstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDir(t *testing.T, dir string) *Bucket {
	t.Helper()
	b, err := OpenDir(dir, "http://example.test/")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBucket_UploadAndServe(t *testing.T) {
	b := openTestDir(t, t.TempDir())
	ctx := context.Background()

	handle, err := b.Upload(ctx, "files/1700000000000-abc-lab report.pdf", strings.NewReader("%PDF-1.4"), 8, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "files/1700000000000-abc-lab report.pdf", handle)

	u, err := b.PublicURL(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "http://example.test/files/1700000000000-abc-lab%20report.pdf", u)

	req := httptest.NewRequest(http.MethodGet, "/files/1700000000000-abc-lab%20report.pdf", nil)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
}

func TestBucket_HandlerRefusesListings(t *testing.T) {
	b := openTestDir(t, t.TempDir())
	_, err := b.Upload(context.Background(), "files/1700000000000-abc-diary.txt", strings.NewReader("secret"), 6, "text/plain")
	require.NoError(t, err)

	for _, p := range []string{"/", "/files/", "/files/1700000000000-abc-diary.txt/", "/files/missing.txt"} {
		rec := httptest.NewRecorder()
		b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, p)
		assert.NotContains(t, rec.Body.String(), "diary", p)
	}
}

func TestBucket_KeysStayUnderRoot(t *testing.T) {
	root := t.TempDir()
	b := openTestDir(t, filepath.Join(root, "blobs"))
	ctx := context.Background()

	_, err := b.Upload(ctx, "../../escape.txt", strings.NewReader("x"), 1, "text/plain")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(filepath.Dir(root), "escape.txt"))
	assert.True(t, os.IsNotExist(err))

	ok, err := b.Exists(ctx, "../../escape.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBucket_UploadHonoursContext(t *testing.T) {
	b := openTestDir(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Upload(ctx, "files/x", io.LimitReader(strings.NewReader("data"), 4), 4, "text/plain")
	assert.Error(t, err)

	ok, err := b.Exists(context.Background(), "files/x")
	require.NoError(t, err)
	assert.False(t, ok, "no partial blob is left behind")
}
