package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"labchat/internal/chat"
	"labchat/internal/db"
	"labchat/internal/feed"
)

// Repository stores section logs in a SQL table and announces inserts on hub.
type Repository struct {
	db  *db.Database
	hub *feed.Hub
	log *slog.Logger
}

func NewRepository(database *db.Database, hub *feed.Hub, log *slog.Logger) *Repository {
	return &Repository{db: database, hub: hub, log: log}
}

// Insert writes msg; created_at comes from the database at commit time.
func (r *Repository) Insert(ctx context.Context, section chat.Section, msg chat.Message) (string, error) {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []chat.Attachment{}
	}
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return "", fmt.Errorf("encoding attachments: %w", err)
	}

	var language sql.NullString
	if msg.Language != "" {
		language = sql.NullString{String: msg.Language, Valid: true}
	}

	id := uuid.NewString()
	query := r.db.Dialect.Rebind(`INSERT INTO messages (id, section, text, sender, type, language, attachments)
        VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.db.Conn.ExecContext(ctx, query,
		id, string(section), msg.Text, string(msg.Sender), string(msg.Type), language, string(encoded))
	if err != nil {
		return "", fmt.Errorf("inserting message: %w", err)
	}

	if err := r.hub.Notify(ctx, string(section)); err != nil {
		r.log.Warn("notifying section", "section", section, "error", err)
	}
	return id, nil
}

// GetRecentMessages returns up to limit messages of section, newest first.
func (r *Repository) GetRecentMessages(ctx context.Context, section chat.Section, limit int) ([]chat.Message, error) {
	query := r.db.Dialect.Rebind(`
		SELECT id, text, sender, type, language, attachments, created_at
		FROM messages
		WHERE section = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?
	`)
	rows, err := r.db.Conn.QueryContext(ctx, query, string(section), limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0, limit)
	for rows.Next() {
		var (
			msg         chat.Message
			language    sql.NullString
			attachments string
			createdAt   timestamp
		)
		if err := rows.Scan(&msg.ID, &msg.Text, &msg.Sender, &msg.Type, &language, &attachments, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Language = language.String
		if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decoding attachments of %s: %w", msg.ID, err)
		}
		if createdAt.Valid {
			ts := createdAt.Time
			msg.Timestamp = &ts
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

func (r *Repository) Subscribe(ctx context.Context, section chat.Section, limit int, fn chat.SnapshotFunc) (chat.Subscription, error) {
	query := func(ctx context.Context) ([]chat.Message, error) {
		return r.GetRecentMessages(ctx, section, limit)
	}
	return feed.Watch(ctx, r.hub, section, query, fn, r.log), nil
}

// timestamp scans both native times (Postgres) and ISO-8601 text (SQLite).
type timestamp struct {
	Time  time.Time
	Valid bool
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999Z",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Valid = false
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *timestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed, true
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}
