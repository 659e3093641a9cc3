// Package store is the Postgres persistence layer: users, password reset
// tokens, chat sessions with their messages, and uploaded documents.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"
)

// ErrDuplicateEmail is returned when signup hits the unique email index.
var ErrDuplicateEmail = errors.New("email already registered")

type Store struct {
	DB *sql.DB
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`, email, hash).Scan(&id)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return "", ErrDuplicateEmail
	}
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

func (s *Store) GetUserEmail(ctx context.Context, id string) (string, error) {
	var email string
	err := s.DB.QueryRowContext(ctx, `SELECT email FROM users WHERE id=$1`, id).Scan(&email)
	return email, err
}

func (s *Store) UpdatePassword(ctx context.Context, userID, hash string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE users SET password_hash=$2 WHERE id=$1`, userID, hash)
	return err
}

// Password reset tokens

func (s *Store) CreateResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO password_reset_tokens (user_id, token, expires_at) VALUES ($1,$2,$3)`, userID, token, expiresAt)
	return err
}

// ConsumeResetToken returns the owning user id and deletes the token. An
// expired or unknown token yields sql.ErrNoRows.
func (s *Store) ConsumeResetToken(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.DB.QueryRowContext(ctx, `DELETE FROM password_reset_tokens WHERE token=$1 AND expires_at > now() RETURNING user_id`, token).Scan(&userID)
	return userID, err
}

func (s *Store) DeleteExpiredResetTokens(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Chat sessions

type Session struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Store) CreateSession(ctx context.Context, userID, title string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO chat_sessions (user_id, title) VALUES ($1,$2) RETURNING id`, userID, title).Scan(&id)
	return id, err
}

func (s *Store) GetSession(ctx context.Context, id, userID string) (Session, error) {
	var sess Session
	err := s.DB.QueryRowContext(ctx, `SELECT id, user_id, title, created_at, updated_at FROM chat_sessions WHERE id=$1 AND user_id=$2`, id, userID).
		Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	return sess, err
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, user_id, title, created_at, updated_at FROM chat_sessions WHERE user_id=$1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) TouchSession(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE chat_sessions SET updated_at=now() WHERE id=$1`, id)
	return err
}

func (s *Store) DeleteSession(ctx context.Context, id, userID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id=$1 AND user_id=$2`, id, userID)
	return err
}

// DeleteStaleSessions removes sessions idle longer than maxAge; messages go
// with them via ON DELETE CASCADE.
func (s *Store) DeleteStaleSessions(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM chat_sessions WHERE updated_at < now() - $1::interval`, fmt.Sprintf("%d seconds", int(maxAge.Seconds())))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Chat messages

type Message struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	Sources   []string
	Reasoning json.RawMessage
	CreatedAt time.Time
}

func (s *Store) AppendMessage(ctx context.Context, m Message) (string, error) {
	var reasoning interface{}
	if len(m.Reasoning) > 0 {
		reasoning = []byte(m.Reasoning)
	}
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO chat_messages (session_id, role, content, sources, reasoning)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		m.SessionID, m.Role, m.Content, pq.Array(m.Sources), reasoning).Scan(&id)
	return id, err
}

func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	q := `SELECT id, session_id, role, content, COALESCE(sources, '{}'), reasoning, created_at FROM chat_messages WHERE session_id=$1 ORDER BY created_at ASC`
	args := []interface{}{sessionID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var reasoning sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, pq.Array(&m.Sources), &reasoning, &m.CreatedAt); err != nil {
			return nil, err
		}
		if reasoning.Valid {
			m.Reasoning = json.RawMessage(reasoning.String)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentTurns returns the last n messages of a session in chronological
// order, for seeding the model conversation.
func (s *Store) RecentTurns(ctx context.Context, sessionID string, n int) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, role, content, COALESCE(sources, '{}'), reasoning, created_at
FROM chat_messages WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`, sessionID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var reasoning sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, pq.Array(&m.Sources), &reasoning, &m.CreatedAt); err != nil {
			return nil, err
		}
		if reasoning.Valid {
			m.Reasoning = json.RawMessage(reasoning.String)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Documents

type Document struct {
	ID         string
	UserID     string
	Filename   string
	SizeBytes  int64
	ChunkCount int
	CreatedAt  time.Time
}

func (s *Store) CreateDocument(ctx context.Context, userID, filename string, sizeBytes int64, chunkCount int) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO documents (user_id, filename, size_bytes, chunk_count)
VALUES ($1,$2,$3,$4) RETURNING id`, userID, filename, sizeBytes, chunkCount).Scan(&id)
	return id, err
}

func (s *Store) ListDocuments(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, user_id, filename, size_bytes, chunk_count, created_at FROM documents WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.Filename, &d.SizeBytes, &d.ChunkCount, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDocument(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) InsertChunks(ctx context.Context, docID string, chunks []string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i, c := range chunks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO document_chunks (document_id, seq, content) VALUES ($1,$2,$3)`, docID, i, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListChunks streams every chunk with its document's filename, used to
// rebuild the search index on startup.
func (s *Store) ListChunks(ctx context.Context, fn func(docID, filename, content string) error) error {
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.document_id, d.filename, c.content
FROM document_chunks c JOIN documents d ON d.id = c.document_id
ORDER BY c.document_id, c.seq`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var docID, filename, content string
		if err := rows.Scan(&docID, &filename, &content); err != nil {
			return err
		}
		if err := fn(docID, filename, content); err != nil {
			return err
		}
	}
	return rows.Err()
}
