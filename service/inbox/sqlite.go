package inbox

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps ingested notification mails in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the store at path. An empty path or
// ":memory:" opens an in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := trimmed == "" || trimmed == ":memory:" || strings.Contains(trimmed, "mode=memory")
	if trimmed == "" {
		trimmed = ":memory:"
	}

	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables if they do not exist.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            header_id TEXT NOT NULL DEFAULT '',
            from_email TEXT NOT NULL,
            subject TEXT NOT NULL,
            text_body TEXT,
            html_body TEXT,
            raw BLOB,
            received_at INTEGER NOT NULL,
            unread INTEGER NOT NULL DEFAULT 1
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_header_id ON messages(header_id) WHERE header_id != '';`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread_received ON messages(unread, received_at);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Insert stores m. A message whose Message-Id is already present is
// ignored and reported as not inserted.
func (s *SQLiteStore) Insert(ctx context.Context, m *Message, raw []byte) (bool, error) {
	unread := 0
	if m.Unread {
		unread = 1
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO messages
        (id, header_id, from_email, subject, text_body, html_body, raw, received_at, unread)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		m.ID, m.HeaderID, m.From, m.Subject, m.TextBody, m.HTMLBody, raw, m.ReceivedAt.UnixMilli(), unread,
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Search(ctx context.Context, q Query) ([]*Message, error) {
	f, err := ParseQuery(q.Raw)
	if err != nil {
		return nil, err
	}
	now := s.now()

	// Coarse SQL prefilter, exact matching happens in Filter.Matches.
	var (
		clauses []string
		args    []any
	)
	if f.UnreadOnly {
		clauses = append(clauses, "unread = 1")
	}
	if f.ReadOnly {
		clauses = append(clauses, "unread = 0")
	}
	if f.NewerThan > 0 {
		clauses = append(clauses, "received_at >= ?")
		args = append(args, now.Add(-f.NewerThan).UnixMilli())
	}
	query := `SELECT id, header_id, from_email, subject, text_body, html_body, received_at, unread FROM messages`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY received_at ASC, id ASC"

	candidates, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return selectMessages(candidates, f, q.MaxItems, now), nil
}

// List returns the most recent messages regardless of state, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `SELECT id, header_id, from_email, subject, text_body, html_body, received_at, unread
        FROM messages ORDER BY received_at DESC, id DESC LIMIT ?`, limit)
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET unread = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			m          Message
			text, html sql.NullString
			received   int64
			unread     int
		)
		if err := rows.Scan(&m.ID, &m.HeaderID, &m.From, &m.Subject, &text, &html, &received, &unread); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.TextBody = text.String
		m.HTMLBody = html.String
		m.ReceivedAt = time.UnixMilli(received)
		m.Unread = unread == 1
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}
