package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"labchat/internal/chat"
)

func sendCmd() *cobra.Command {
	var (
		aiMode bool
		files  []string
	)
	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send a message, optionally with attachments",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := chat.NewSession(log)
			defer sess.Close()

			if err := sess.SwitchSection(chat.Section(cfg.Section)); err != nil {
				return err
			}
			sess.SetDraft(strings.Join(args, " "))
			sess.SetChatMode(aiMode)
			for _, path := range files {
				f, err := openFile(path)
				if err != nil {
					return err
				}
				for _, p := range sess.AddFiles(f) {
					fmt.Fprintf(cmd.ErrOrStderr(), "attaching %s (%s, %s)\n", p.Name, p.MimeType, p.SizeLabel())
				}
			}

			return postSession(cmd.OutOrStdout(), sess)
		},
	}
	cmd.Flags().BoolVar(&aiMode, "ai", false, "chat mode: get a reply from the assistant")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "attach a file (repeatable)")
	return cmd
}

// postSession uploads the session's draft and attachments to the server.
func postSession(out io.Writer, sess *chat.Session) error {
	pending := sess.Pending()
	if strings.TrimSpace(sess.Draft()) == "" && len(pending) == 0 {
		return fmt.Errorf("nothing to send")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("text", sess.Draft())
	_ = mw.WriteField("chat_mode", strconv.FormatBool(sess.ChatMode()))
	for _, p := range pending {
		if err := writeFilePart(mw, p); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/sections/%s/messages", cfg.Server, sess.Section())
	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server rejected message: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var sent struct {
		ID           string            `json:"id"`
		Type         chat.MessageType  `json:"type"`
		Language     string            `json:"language"`
		Attachments  []chat.Attachment `json:"attachments"`
		ReplyPending bool              `json:"reply_pending"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Fprintf(out, "sent %s %s\n", sent.ID, typeLabel(sent.Type, sent.Language))
	if dropped := len(pending) - len(sent.Attachments); dropped > 0 {
		fmt.Fprintf(out, "%d attachment(s) failed to upload\n", dropped)
	}
	if sent.ReplyPending {
		fmt.Fprintln(out, "assistant is thinking...")
	}
	return nil
}

func writeFilePart(mw *multipart.Writer, p chat.PendingAttachment) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, p.Name))
	h.Set("Content-Type", p.MimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	rc, err := p.File.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", p.Name, err)
	}
	defer rc.Close()
	_, err = io.Copy(part, rc)
	return err
}

// osFile is a chat.File backed by a path on disk.
type osFile struct {
	path     string
	size     int64
	mimeType string
}

func openFile(path string) (*osFile, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &osFile{path: path, size: st.Size(), mimeType: detectMimeType(path)}, nil
}

func detectMimeType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	return http.DetectContentType(head[:n])
}

func (f *osFile) Name() string     { return filepath.Base(f.path) }
func (f *osFile) Size() int64      { return f.size }
func (f *osFile) MimeType() string { return f.mimeType }
func (f *osFile) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}
