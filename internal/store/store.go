// Package store is the Postgres persistence layer for chats, messages and
// documents.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned for missing rows.
var ErrNotFound = errors.New("not found")

// FailedChunks is the terminal sentinel written into num_chunks when
// processing fails; such documents are never picked up again.
const FailedChunks = -1

// Chat is a conversation owning an ordered message sequence.
type Chat struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one chat turn.
type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is an uploaded or synced source file.
type Document struct {
	ID           int64     `json:"id"`
	Filename     string    `json:"filename"`
	FilePath     string    `json:"file_path"`
	ParentsPath  string    `json:"parents_path"`
	UploadedAt   time.Time `json:"uploaded_at"`
	Processed    bool      `json:"processed"`
	NumChunks    int       `json:"num_chunks"`
	QueryEnabled bool      `json:"query_enabled"`
}

// CollectionName derives the vector collection name; it is a pure function
// of the document id and never persisted.
func (d Document) CollectionName() string {
	return fmt.Sprintf("doc_%d", d.ID)
}

// Store wraps the connection pool.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Init creates the schema.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS chats (
    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    title TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    chat_id BIGINT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS messages_chat_created_idx ON messages(chat_id, created_at);

CREATE TABLE IF NOT EXISTS documents (
    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    filename TEXT NOT NULL,
    file_path TEXT NOT NULL DEFAULT '',
    parents_path TEXT NOT NULL DEFAULT '',
    uploaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processed BOOLEAN NOT NULL DEFAULT FALSE,
    num_chunks INTEGER NOT NULL DEFAULT 0,
    query_enabled BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS documents_pending_idx ON documents(processed, num_chunks);
`)
	return err
}

// ---------- chats ----------

func (s *Store) CreateChat(ctx context.Context, title string) (Chat, error) {
	var c Chat
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chats (title) VALUES ($1) RETURNING id, title, created_at, updated_at`,
		title,
	).Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) ListChats(ctx context.Context) ([]Chat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, created_at, updated_at FROM chats ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (s *Store) GetChat(ctx context.Context, id int64) (Chat, error) {
	var c Chat
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, created_at, updated_at FROM chats WHERE id = $1`, id,
	).Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	return c, err
}

func (s *Store) DeleteChat(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) touchChat(ctx context.Context, id int64) {
	_, _ = s.pool.Exec(ctx, `UPDATE chats SET updated_at = NOW() WHERE id = $1`, id)
}

// ---------- messages ----------

func (s *Store) ListMessages(ctx context.Context, chatID int64) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, role, content, created_at FROM messages WHERE chat_id = $1 ORDER BY created_at`,
		chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) CreateMessage(ctx context.Context, chatID int64, role, content string) (Message, error) {
	var m Message
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (chat_id, role, content) VALUES ($1, $2, $3)
         RETURNING id, chat_id, role, content, created_at`,
		chatID, role, content,
	).Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt)
	if err == nil {
		s.touchChat(ctx, chatID)
	}
	return m, err
}

// ---------- documents ----------

const documentColumns = `id, filename, file_path, parents_path, uploaded_at, processed, num_chunks, query_enabled`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.Filename, &d.FilePath, &d.ParentsPath, &d.UploadedAt, &d.Processed, &d.NumChunks, &d.QueryEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return d, err
}

func (s *Store) CreateDocument(ctx context.Context, filename, filePath string, queryEnabled bool) (Document, error) {
	return scanDocument(s.pool.QueryRow(ctx,
		`INSERT INTO documents (filename, file_path, query_enabled) VALUES ($1, $2, $3)
         RETURNING `+documentColumns,
		filename, filePath, queryEnabled))
}

func (s *Store) GetDocument(ctx context.Context, id int64) (Document, error) {
	return scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
}

func (s *Store) GetDocumentByFilename(ctx context.Context, filename string) (Document, error) {
	return scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE filename = $1 ORDER BY id LIMIT 1`, filename))
}

func (s *Store) listDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	return s.listDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY uploaded_at DESC`)
}

// ListActiveDocuments returns processed, query-enabled documents.
func (s *Store) ListActiveDocuments(ctx context.Context) ([]Document, error) {
	return s.listDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE processed AND query_enabled ORDER BY id`)
}

// NextPendingDocument returns one unprocessed document that has not been
// marked as terminally failed, or ErrNotFound when none remain.
func (s *Store) NextPendingDocument(ctx context.Context) (Document, error) {
	return scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents
         WHERE NOT processed AND num_chunks >= 0
         ORDER BY id LIMIT 1`))
}

// MarkProcessed finalizes a successful ingest.
func (s *Store) MarkProcessed(ctx context.Context, id int64, numChunks int, parentsPath string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET processed = TRUE, num_chunks = $2, parents_path = $3 WHERE id = $1`,
		id, numChunks, parentsPath)
	return err
}

// MarkFailed writes the terminal failure sentinel so the worker never
// retries the document.
func (s *Store) MarkFailed(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET processed = TRUE, num_chunks = $2 WHERE id = $1`,
		id, FailedChunks)
	return err
}

// MarkUnprocessed re-queues a document (reprocess, startup reconciliation).
func (s *Store) MarkUnprocessed(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET processed = FALSE, num_chunks = 0 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateFilePath records where a synced file landed and re-queues it.
func (s *Store) UpdateFilePath(ctx context.Context, id int64, filePath string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET file_path = $2, processed = FALSE, num_chunks = 0 WHERE id = $1`,
		id, filePath)
	return err
}

func (s *Store) SetQueryEnabled(ctx context.Context, id int64, enabled bool) (Document, error) {
	return scanDocument(s.pool.QueryRow(ctx,
		`UPDATE documents SET query_enabled = $2 WHERE id = $1 RETURNING `+documentColumns,
		id, enabled))
}

func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
