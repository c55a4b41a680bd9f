package chat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// File is a user-selected file that has not been uploaded yet.
type File interface {
	Name() string
	Size() int64
	MimeType() string
	Open() (io.ReadCloser, error)
}

type bytesFile struct {
	name     string
	mimeType string
	data     []byte
}

// BytesFile wraps an in-memory payload as a File.
func BytesFile(name, mimeType string, data []byte) File {
	return &bytesFile{name: name, mimeType: mimeType, data: data}
}

func (f *bytesFile) Name() string     { return f.name }
func (f *bytesFile) Size() int64      { return int64(len(f.data)) }
func (f *bytesFile) MimeType() string { return f.mimeType }
func (f *bytesFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

// PendingAttachment is owned by a Session until it is sent or removed.
type PendingAttachment struct {
	ID         string
	File       File
	Name       string
	Size       int64
	MimeType   string
	PreviewURL string // only for images
}

func (p PendingAttachment) IsImage() bool {
	return isImage(p.MimeType)
}

func (p PendingAttachment) SizeLabel() string {
	return humanize.IBytes(uint64(p.Size))
}

func isImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// Previews issues revocable local preview handles for image attachments.
type Previews interface {
	Create(f File) (string, error)
	Revoke(url string)
}

// ObjectURLs is an in-memory Previews keeping the image bytes until revoked.
type ObjectURLs struct {
	mu   sync.Mutex
	urls map[string][]byte
}

func NewObjectURLs() *ObjectURLs {
	return &ObjectURLs{urls: make(map[string][]byte)}
}

func (o *ObjectURLs) Create(f File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", f.Name(), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", f.Name(), err)
	}

	url := "blob:" + uuid.NewString()
	o.mu.Lock()
	o.urls[url] = data
	o.mu.Unlock()
	return url, nil
}

func (o *ObjectURLs) Revoke(url string) {
	o.mu.Lock()
	delete(o.urls, url)
	o.mu.Unlock()
}

// Get returns the preview bytes for url if it has not been revoked.
func (o *ObjectURLs) Get(url string) ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.urls[url]
	return data, ok
}

// Len reports how many previews are outstanding.
func (o *ObjectURLs) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.urls)
}

// Uploader pushes pending attachments into a BlobStore.
type Uploader struct {
	blobs   BlobStore
	log     *slog.Logger
	workers int
	now     func() time.Time
}

func NewUploader(blobs BlobStore, log *slog.Logger, workers int) *Uploader {
	if workers <= 0 {
		workers = 4
	}
	return &Uploader{blobs: blobs, log: log, workers: workers, now: time.Now}
}

// Upload stores a single attachment and resolves its retrieval URL.
func (u *Uploader) Upload(ctx context.Context, p *PendingAttachment) (Attachment, error) {
	rc, err := p.File.Open()
	if err != nil {
		return Attachment{}, fmt.Errorf("opening %s: %w", p.Name, err)
	}
	defer rc.Close()

	handle, err := u.blobs.Upload(ctx, u.key(p), rc, p.Size, p.MimeType)
	if err != nil {
		return Attachment{}, fmt.Errorf("uploading %s: %w", p.Name, err)
	}

	url, err := u.blobs.PublicURL(ctx, handle)
	if err != nil {
		return Attachment{}, fmt.Errorf("resolving url for %s: %w", p.Name, err)
	}

	return Attachment{Name: p.Name, MimeType: p.MimeType, URL: url}, nil
}

// key is files/<unix-millis>-<id>-<basename>.
func (u *Uploader) key(p *PendingAttachment) string {
	name := path.Base(strings.ReplaceAll(p.Name, "\\", "/"))
	if name == "." || name == "/" {
		name = "file"
	}
	return fmt.Sprintf("files/%d-%s-%s", u.now().UnixMilli(), p.ID, name)
}

// UploadAll uploads every attachment concurrently. Failures are logged and
// dropped; the result keeps the input order of the ones that succeeded.
func (u *Uploader) UploadAll(ctx context.Context, pending []*PendingAttachment) []Attachment {
	results := make([]*Attachment, len(pending))

	var g errgroup.Group
	g.SetLimit(u.workers)
	for i, p := range pending {
		g.Go(func() error {
			att, err := u.Upload(ctx, p)
			if err != nil {
				u.log.Error("dropping attachment", "name", p.Name, "error", err)
				return nil
			}
			results[i] = &att
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Attachment, 0, len(pending))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
