package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect captures what differs between the supported SQL engines.
type Dialect struct {
	Name   string
	Driver string
	schema []string
	dollar bool // $1 placeholders instead of ?
}

var Postgres = Dialect{
	Name:   "postgres",
	Driver: "pgx",
	dollar: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS messages (
            seq BIGSERIAL PRIMARY KEY,
            id TEXT UNIQUE NOT NULL,
            section VARCHAR(32) NOT NULL,
            text TEXT NOT NULL DEFAULT '',
            sender VARCHAR(16) NOT NULL CHECK (sender IN ('anonymous', 'ai')),
            type VARCHAR(16) NOT NULL CHECK (type IN ('text', 'code', 'document')),
            language VARCHAR(32),
            attachments TEXT NOT NULL DEFAULT '[]',
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_messages_section_created
            ON messages (section, created_at DESC, seq DESC)`,
	},
}

var SQLite = Dialect{
	Name:   "sqlite",
	Driver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS messages (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT UNIQUE NOT NULL,
            section TEXT NOT NULL,
            text TEXT NOT NULL DEFAULT '',
            sender TEXT NOT NULL CHECK (sender IN ('anonymous', 'ai')),
            type TEXT NOT NULL CHECK (type IN ('text', 'code', 'document')),
            language TEXT,
            attachments TEXT NOT NULL DEFAULT '[]',
            created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
        )`,
		`CREATE INDEX IF NOT EXISTS idx_messages_section_created
            ON messages (section, created_at DESC, seq DESC)`,
	},
}

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type Database struct {
	Conn    *sql.DB
	Dialect Dialect
}

func NewDatabase(d Dialect, dsn string) (*Database, error) {
	conn, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", d.Name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging %s database: %w", d.Name, err)
	}

	if d.Driver == SQLite.Driver {
		// One writer; also keeps :memory: databases on a single connection.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(25)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}
	return &Database{Conn: conn, Dialect: d}, nil
}

func (d *Database) AutoMigrate(ctx context.Context) error {
	for _, query := range d.Dialect.schema {
		if _, err := d.Conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}
