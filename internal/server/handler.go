package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"labchat/internal/chat"
)

const maxUploadMemory = 32 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // anonymous public chat, any origin
	},
}

type Handler struct {
	store    chat.MessageStore
	composer *chat.Composer
	files    http.Handler
	log      *slog.Logger
}

// NewHandler wires the HTTP API. files serves uploaded blobs under /files/
// and may be nil when blobs live elsewhere.
func NewHandler(store chat.MessageStore, composer *chat.Composer, files http.Handler, log *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		composer: composer,
		files:    files,
		log:      log,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/sections", h.ListSections)
	r.Post("/api/sections/{section}/messages", h.SendMessage)
	r.Get("/ws", h.ServeWs)
	if h.files != nil {
		r.Handle("/files/*", h.files)
	}
	return r
}

func (h *Handler) ListSections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, chat.Sections())
}

type sendResponse struct {
	ID           string            `json:"id"`
	Section      chat.Section      `json:"section"`
	Sender       chat.Sender       `json:"sender"`
	Type         chat.MessageType  `json:"type"`
	Language     string            `json:"language,omitempty"`
	Attachments  []chat.Attachment `json:"attachments"`
	ReplyPending bool              `json:"reply_pending"`
}

// SendMessage accepts a multipart form: text, chat_mode and any number of
// files.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	section, err := chat.ParseSection(chi.URLParam(r, "section"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess := chat.NewSession(h.log, chat.WithPreviews(noPreviews{}))
	defer sess.Close()

	if err := sess.SwitchSection(section); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	sess.SetDraft(r.FormValue("text"))
	chatMode, _ := strconv.ParseBool(r.FormValue("chat_mode"))
	sess.SetChatMode(chatMode)
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			sess.AddFiles(multipartFile{fh})
		}
	}

	res, err := h.composer.Send(r.Context(), sess)
	switch {
	case errors.Is(err, chat.ErrPersist):
		http.Error(w, "message could not be stored, try again", http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	case !res.Sent:
		http.Error(w, "nothing to send", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, sendResponse{
		ID:           res.MessageID,
		Section:      res.Section,
		Sender:       res.Message.Sender,
		Type:         res.Message.Type,
		Language:     res.Message.Language,
		Attachments:  res.Message.Attachments,
		ReplyPending: res.ReplyPending,
	})
}

// ServeWs streams the live view of one section at a time. The client picks
// the first section with ?section= and switches later with a switch event.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	section := chat.DefaultSection
	if s := r.URL.Query().Get("section"); s != "" {
		parsed, err := chat.ParseSection(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		section = parsed
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrading websocket", "error", err)
		return
	}

	// The request context ends when this handler returns.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	client := newClient(conn, cancel, h.log)
	client.sync = chat.NewSynchronizer(h.store, h.log, client.pushSnapshot)

	go client.WritePump()

	// Subscribe before reading so a switch sent right after connecting
	// always lands after the initial section.
	if err := client.sync.SwitchSection(ctx, section); err != nil {
		client.pushError(err)
	}
	go client.ReadPump(ctx)
}

// noPreviews issues no preview handles and never opens the file.
type noPreviews struct{}

func (noPreviews) Create(chat.File) (string, error) { return "", nil }
func (noPreviews) Revoke(string)                    {}

type multipartFile struct {
	fh *multipart.FileHeader
}

func (f multipartFile) Name() string { return f.fh.Filename }
func (f multipartFile) Size() int64  { return f.fh.Size }

func (f multipartFile) MimeType() string {
	ct := f.fh.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(f.fh.Filename)); byExt != "" {
			return byExt
		}
	}
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

func (f multipartFile) Open() (io.ReadCloser, error) {
	return f.fh.Open()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
