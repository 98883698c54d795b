// Package history provides PostgreSQL-backed storage for channel message
// history. The gateway appends every accepted chat message here, and clients
// fetch pages over HTTP to reconcile their local stores after a reconnect.
package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/parley/chat-platform/internal/protocol"
)

// DefaultPageSize bounds a history page when the client asks for nothing
// specific; MaxPageSize bounds what it may ask for.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Store manages persisted channel messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL with the given DSN, verifies the connection,
// and runs pending schema migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle. The caller is responsible for
// schema migrations; used by tests that manage their own setup.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append persists an accepted chat message. Message IDs are unique, so a
// replayed append of the same message is a no-op rather than an error.
func (s *Store) Append(ctx context.Context, msg *protocol.Message) error {
	const query = `
		INSERT INTO messages (id, channel_id, author_id, author_name, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ChannelID,
		msg.AuthorID,
		msg.AuthorName,
		msg.Content,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Recent returns the latest messages in a channel in chronological order
// (oldest first), at most limit entries.
func (s *Store) Recent(ctx context.Context, channelID string, limit int) ([]protocol.Message, error) {
	const query = `
		SELECT id, channel_id, author_id, author_name, content, created_at
		FROM (
			SELECT id, channel_id, author_id, author_name, content, created_at
			FROM messages
			WHERE channel_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) page
		ORDER BY created_at ASC, id ASC`

	return s.queryMessages(ctx, query, channelID, clampLimit(limit))
}

// Before returns up to limit messages older than the message with the given
// id, in chronological order. It is the pagination primitive behind "load
// earlier messages". An unknown before id yields an empty page.
func (s *Store) Before(ctx context.Context, channelID, beforeID string, limit int) ([]protocol.Message, error) {
	const query = `
		SELECT id, channel_id, author_id, author_name, content, created_at
		FROM (
			SELECT m.id, m.channel_id, m.author_id, m.author_name, m.content, m.created_at
			FROM messages m
			JOIN messages anchor ON anchor.id = $2 AND anchor.channel_id = $1
			WHERE m.channel_id = $1
			  AND (m.created_at, m.id) < (anchor.created_at, anchor.id)
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $3
		) page
		ORDER BY created_at ASC, id ASC`

	return s.queryMessages(ctx, query, channelID, beforeID, clampLimit(limit))
}

// Count returns the number of persisted messages in a channel.
func (s *Store) Count(ctx context.Context, channelID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE channel_id = $1`, channelID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...interface{}) ([]protocol.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []protocol.Message
	for rows.Next() {
		var m protocol.Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.AuthorName, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
