package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id     TEXT NOT NULL REFERENCES users(id),
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	completed   INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id);

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	content         TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);

CREATE TABLE IF NOT EXISTS auth_rate_limits (
	email           TEXT PRIMARY KEY,
	failed_attempts INTEGER NOT NULL DEFAULT 0,
	last_attempt    TEXT NOT NULL,
	locked_until    TEXT
);
`

// SQLite is the file-backed Store for local development and tests.
// It is a single-process store: chat turns are serialized with a
// process-wide mutex instead of Postgres row locks.
type SQLite struct {
	db *sql.DB

	// turnMu serializes chat turns across all conversations. Coarser
	// than the Postgres row lock, but correct for the dev store.
	turnMu sync.Mutex
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// The modernc driver is not safe for concurrent writers on one file;
	// a single connection avoids SQLITE_BUSY under test parallelism.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: pragmas: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() { _ = s.db.Close() }

// Timestamps are stored as fixed-width RFC 3339 text so lexicographic
// ORDER BY matches chronological order. SQLite has no native time type.
const sqTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func sqNow() string { return time.Now().UTC().Format(sqTimeLayout) }

func sqTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// ─── Users ───────────────────────────────────────────────────────────────────

func (s *SQLite) CreateUser(ctx context.Context, id, name, email, passwordHash string) (*User, error) {
	now := sqNow()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, strings.ToLower(email), passwordHash, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("sqlite: create user: %w", err)
	}
	return s.UserByID(ctx, id)
}

func (s *SQLite) UserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at, updated_at
		 FROM users WHERE email = ?`, strings.ToLower(email)))
}

func (s *SQLite) UserByID(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at, updated_at
		 FROM users WHERE id = ?`, id))
}

func (s *SQLite) scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	var created, updated string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan user: %w", err)
	}
	u.CreatedAt, u.UpdatedAt = sqTime(created), sqTime(updated)
	return u, nil
}

// ─── Tasks ───────────────────────────────────────────────────────────────────

func (s *SQLite) CreateTask(ctx context.Context, userID, title, description string) (*Task, error) {
	now := sqNow()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (user_id, title, description, completed, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		userID, title, description, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("sqlite: create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("sqlite: last insert id: %w", err)
	}
	return s.Task(ctx, userID, id)
}

func (s *SQLite) ListTasks(ctx context.Context, userID string, completed *bool) ([]Task, error) {
	query := `SELECT id, user_id, title, description, completed, created_at, updated_at
		 FROM tasks WHERE user_id = ?`
	args := []any{userID}
	if completed != nil {
		query += ` AND completed = ?`
		args = append(args, *completed)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var created, updated string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed, &created, &updated); err != nil {
			return nil, fmt.Errorf("sqlite: scan task: %w", err)
		}
		t.CreatedAt, t.UpdatedAt = sqTime(created), sqTime(updated)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLite) Task(ctx context.Context, userID string, id int64) (*Task, error) {
	return s.scanTask(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, description, completed, created_at, updated_at
		 FROM tasks WHERE id = ? AND user_id = ?`, id, userID))
}

func (s *SQLite) UpdateTask(ctx context.Context, userID string, id int64, title, description string) (*Task, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		title, description, sqNow(), id, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Task(ctx, userID, id)
}

func (s *SQLite) ToggleTask(ctx context.Context, userID string, id int64) (*Task, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = NOT completed, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		sqNow(), id, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: toggle task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Task(ctx, userID, id)
}

func (s *SQLite) DeleteTask(ctx context.Context, userID string, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("sqlite: delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) scanTask(row *sql.Row) (*Task, error) {
	t := &Task{}
	var created, updated string
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan task: %w", err)
	}
	t.CreatedAt, t.UpdatedAt = sqTime(created), sqTime(updated)
	return t, nil
}

// ─── Conversations & messages ───────────────────────────────────────────────

func (s *SQLite) ConversationByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM conversations WHERE id = ?`,
		id.String()))
}

func (s *SQLite) ConversationByUser(ctx context.Context, userID string) (*Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at
		 FROM conversations WHERE user_id = ?
		 ORDER BY created_at ASC LIMIT 1`, userID))
}

func (s *SQLite) CreateConversation(ctx context.Context, userID string) (*Conversation, error) {
	id := uuid.New()
	now := sqNow()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?)`,
		id.String(), userID, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("sqlite: create conversation: %w", err)
	}
	return s.ConversationByID(ctx, id)
}

func (s *SQLite) scanConversation(row *sql.Row) (*Conversation, error) {
	c := &Conversation{}
	var id, created, updated string
	err := row.Scan(&id, &c.UserID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan conversation: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: conversation id: %w", err)
	}
	c.ID = parsed
	c.CreatedAt, c.UpdatedAt = sqTime(created), sqTime(updated)
	return c, nil
}

type sqQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLite) AppendMessage(ctx context.Context, conversationID uuid.UUID, role, content string) (*Message, error) {
	return appendMessageSq(ctx, s.db, conversationID, role, content)
}

func appendMessageSq(ctx context.Context, q sqQuerier, conversationID uuid.UUID, role, content string) (*Message, error) {
	m := &Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		m.ID.String(), conversationID.String(), role, content,
		m.CreatedAt.Format(sqTimeLayout))
	if err != nil {
		return nil, fmt.Errorf("sqlite: append message: %w", err)
	}
	return m, nil
}

func historySq(ctx context.Context, q sqQuerier, conversationID uuid.UUID, limit int) ([]Message, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		conversationID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var id, convID, created string
		if err := rows.Scan(&id, &convID, &m.Role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		m.ID, _ = uuid.Parse(id)
		m.ConversationID, _ = uuid.Parse(convID)
		m.CreatedAt = sqTime(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type sqTurnTx struct {
	tx             *sql.Tx
	conversationID uuid.UUID
}

func (t *sqTurnTx) History(ctx context.Context, limit int) ([]Message, error) {
	return historySq(ctx, t.tx, t.conversationID, limit)
}

func (t *sqTurnTx) Append(ctx context.Context, role, content string) (*Message, error) {
	return appendMessageSq(ctx, t.tx, t.conversationID, role, content)
}

// Turn serializes chat turns with a mutex and runs fn in a transaction.
func (s *SQLite) Turn(ctx context.Context, conversationID uuid.UUID, fn func(tx TurnTx) error) error {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin turn: %w", err)
	}
	defer tx.Rollback()

	var exists string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE id = ?`,
		conversationID.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: lock conversation: %w", err)
	}

	if err := fn(&sqTurnTx{tx: tx, conversationID: conversationID}); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		sqNow(), conversationID.String()); err != nil {
		return fmt.Errorf("sqlite: touch conversation: %w", err)
	}
	return tx.Commit()
}

// ─── Login rate limits ───────────────────────────────────────────────────────

func (s *SQLite) AuthRateLimit(ctx context.Context, email string) (*AuthRateLimit, error) {
	rl := &AuthRateLimit{}
	var last string
	var locked sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT email, failed_attempts, last_attempt, locked_until
		 FROM auth_rate_limits WHERE email = ?`,
		strings.ToLower(email),
	).Scan(&rl.Email, &rl.FailedAttempts, &last, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: rate limit: %w", err)
	}
	rl.LastAttempt = sqTime(last)
	if locked.Valid {
		t := sqTime(locked.String)
		rl.LockedUntil = &t
	}
	return rl, nil
}

func (s *SQLite) RecordAuthFailure(ctx context.Context, email string, maxAttempts int, lockFor time.Duration) (*AuthRateLimit, error) {
	email = strings.ToLower(email)
	lockedUntil := time.Now().UTC().Add(lockFor).Format(sqTimeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_rate_limits (email, failed_attempts, last_attempt)
		 VALUES (?, 1, ?)
		 ON CONFLICT (email) DO UPDATE SET
			failed_attempts = failed_attempts + 1,
			last_attempt = excluded.last_attempt,
			locked_until = CASE
				WHEN failed_attempts + 1 >= ? THEN ?
				ELSE locked_until
			END`,
		email, sqNow(), maxAttempts, lockedUntil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: record auth failure: %w", err)
	}
	return s.AuthRateLimit(ctx, email)
}

func (s *SQLite) ResetAuthFailures(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM auth_rate_limits WHERE email = ?`, strings.ToLower(email))
	if err != nil {
		return fmt.Errorf("sqlite: reset auth failures: %w", err)
	}
	return nil
}
