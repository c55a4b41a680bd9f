// Package blobstore keeps message attachments in a gocloud bucket: a local
// directory by default, or a hosted bucket such as gs://name.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	"gocloud.dev/gcerrors"
)

const signedURLExpiry = 7 * 24 * time.Hour

// Bucket implements chat.BlobStore. Object URLs are baseURL plus the key, or
// signed URLs when baseURL is empty.
type Bucket struct {
	bucket  *blob.Bucket
	baseURL string
}

func New(b *blob.Bucket, baseURL string) *Bucket {
	return &Bucket{bucket: b, baseURL: strings.TrimRight(baseURL, "/")}
}

// OpenDir stores blobs under dir, creating it if needed. Serve them with
// Handler at baseURL.
func OpenDir(dir, baseURL string) (*Bucket, error) {
	b, err := fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: true})
	if err != nil {
		return nil, fmt.Errorf("opening blob directory %s: %w", dir, err)
	}
	return New(b, baseURL), nil
}

// Open opens a bucket by url. For gs:// buckets an empty baseURL defaults to
// the public storage.googleapis.com address of the bucket.
func Open(ctx context.Context, bucketURL, baseURL string) (*Bucket, error) {
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("opening bucket %s: %w", bucketURL, err)
	}
	if baseURL == "" {
		if u, err := url.Parse(bucketURL); err == nil && u.Scheme == "gs" {
			baseURL = "https://storage.googleapis.com/" + u.Host
		}
	}
	return New(b, baseURL), nil
}

func (b *Bucket) Close() error {
	return b.bucket.Close()
}

// Upload writes r under key. The handle is the key itself. A failed or
// cancelled upload leaves nothing behind.
func (b *Bucket) Upload(ctx context.Context, key string, r io.Reader, _ int64, mimeType string) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := b.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: mimeType})
	if err != nil {
		return "", fmt.Errorf("creating blob %s: %w", key, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("writing blob %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storing blob %s: %w", key, err)
	}
	return key, nil
}

func (b *Bucket) PublicURL(ctx context.Context, handle string) (string, error) {
	if b.baseURL == "" {
		return b.bucket.SignedURL(ctx, handle, &blob.SignedURLOptions{Expiry: signedURLExpiry})
	}
	parts := strings.Split(strings.TrimLeft(handle, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return b.baseURL + "/" + strings.Join(parts, "/"), nil
}

func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	return b.bucket.Exists(ctx, key)
}

// Handler serves single blobs by path, the path being the key. Mount it
// without stripping the prefix, keys already start with files/. Paths ending
// in a slash are refused so the bucket can't be browsed.
func (b *Bucket) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/")
		if key == "" || strings.HasSuffix(key, "/") {
			http.NotFound(w, r)
			return
		}

		rd, err := b.bucket.NewReader(r.Context(), key, nil)
		if err != nil {
			if gcerrors.Code(err) == gcerrors.NotFound {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "blob unavailable", http.StatusBadGateway)
			return
		}
		defer rd.Close()

		if ct := rd.ContentType(); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		http.ServeContent(w, r, path.Base(key), rd.ModTime(), rd)
	})
}
