package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tasks (
	id          BIGSERIAL PRIMARY KEY,
	user_id     TEXT NOT NULL REFERENCES users(id),
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	completed   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id);

CREATE TABLE IF NOT EXISTS conversations (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id);

CREATE TABLE IF NOT EXISTS messages (
	id              UUID PRIMARY KEY,
	conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	content         TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);

CREATE TABLE IF NOT EXISTS auth_rate_limits (
	email           TEXT PRIMARY KEY,
	failed_attempts INTEGER NOT NULL DEFAULT 0,
	last_attempt    TIMESTAMPTZ NOT NULL DEFAULT now(),
	locked_until    TIMESTAMPTZ
);
`

// Postgres is the pgx-backed Store used in deployments.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pgx pool and verifies it with a ping.
// SQLAlchemy-style DSN prefixes left over in .env files (for example
// postgresql+asyncpg://) are normalized to a pgx-compatible form.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(normalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.MaxConnLifetime == 0 {
		cfg.MaxConnLifetime = 60 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	s = strings.Replace(s, "postgresql+asyncpg://", "postgresql://", 1)
	s = strings.Replace(s, "postgres+asyncpg://", "postgres://", 1)
	s = strings.Replace(s, "postgresql+pgx://", "postgresql://", 1)
	s = strings.Replace(s, "postgres+pgx://", "postgres://", 1)
	return s
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

// ─── Users ───────────────────────────────────────────────────────────────────

func (p *Postgres) CreateUser(ctx context.Context, id, name, email, passwordHash string) (*User, error) {
	u := &User{}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO users (id, name, email, password_hash)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, email, password_hash, created_at, updated_at`,
		id, name, strings.ToLower(email), passwordHash,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("postgres: create user: %w", err)
	}
	return u, nil
}

func (p *Postgres) UserByEmail(ctx context.Context, email string) (*User, error) {
	return p.scanUser(p.pool.QueryRow(ctx,
		`SELECT id, name, email, password_hash, created_at, updated_at
		 FROM users WHERE email = $1`, strings.ToLower(email)))
}

func (p *Postgres) UserByID(ctx context.Context, id string) (*User, error) {
	return p.scanUser(p.pool.QueryRow(ctx,
		`SELECT id, name, email, password_hash, created_at, updated_at
		 FROM users WHERE id = $1`, id))
}

func (p *Postgres) scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan user: %w", err)
	}
	return u, nil
}

// ─── Tasks ───────────────────────────────────────────────────────────────────

const taskColumns = `id, user_id, title, description, completed, created_at, updated_at`

func (p *Postgres) CreateTask(ctx context.Context, userID, title, description string) (*Task, error) {
	return p.scanTask(p.pool.QueryRow(ctx,
		`INSERT INTO tasks (user_id, title, description)
		 VALUES ($1, $2, $3)
		 RETURNING `+taskColumns,
		userID, title, description))
}

func (p *Postgres) ListTasks(ctx context.Context, userID string, completed *bool) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = $1`
	args := []any{userID}
	if completed != nil {
		query += ` AND completed = $2`
		args = append(args, *completed)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (p *Postgres) Task(ctx context.Context, userID string, id int64) (*Task, error) {
	return p.scanTask(p.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`,
		id, userID))
}

func (p *Postgres) UpdateTask(ctx context.Context, userID string, id int64, title, description string) (*Task, error) {
	return p.scanTask(p.pool.QueryRow(ctx,
		`UPDATE tasks SET title = $3, description = $4, updated_at = now()
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+taskColumns,
		id, userID, title, description))
}

func (p *Postgres) ToggleTask(ctx context.Context, userID string, id int64) (*Task, error) {
	return p.scanTask(p.pool.QueryRow(ctx,
		`UPDATE tasks SET completed = NOT completed, updated_at = now()
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+taskColumns,
		id, userID))
}

func (p *Postgres) DeleteTask(ctx context.Context, userID string, id int64) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM tasks WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("postgres: delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) scanTask(row pgx.Row) (*Task, error) {
	t := &Task{}
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if isUserFKViolation(err) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan task: %w", err)
	}
	return t, nil
}

// isUserFKViolation reports whether err is the users(id) foreign key
// firing on an insert, i.e. the caller named a user that does not exist.
func isUserFKViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// ─── Conversations & messages ───────────────────────────────────────────────

func (p *Postgres) ConversationByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	return p.scanConversation(p.pool.QueryRow(ctx,
		`SELECT id, user_id, created_at, updated_at FROM conversations WHERE id = $1`, id))
}

func (p *Postgres) ConversationByUser(ctx context.Context, userID string) (*Conversation, error) {
	return p.scanConversation(p.pool.QueryRow(ctx,
		`SELECT id, user_id, created_at, updated_at
		 FROM conversations WHERE user_id = $1
		 ORDER BY created_at ASC LIMIT 1`, userID))
}

func (p *Postgres) CreateConversation(ctx context.Context, userID string) (*Conversation, error) {
	return p.scanConversation(p.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, user_id)
		 VALUES ($1, $2)
		 RETURNING id, user_id, created_at, updated_at`,
		uuid.New(), userID))
}

func (p *Postgres) scanConversation(row pgx.Row) (*Conversation, error) {
	c := &Conversation{}
	err := row.Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if isUserFKViolation(err) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan conversation: %w", err)
	}
	return c, nil
}

func (p *Postgres) AppendMessage(ctx context.Context, conversationID uuid.UUID, role, content string) (*Message, error) {
	return appendMessagePgx(ctx, p.pool, conversationID, role, content)
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// appendMessagePgx stamps created_at on the client rather than relying on
// the column default: now() is the transaction start time, so the default
// would give every message appended inside a Turn the same created_at and
// make their replay order depend on random UUID tiebreaks.
func appendMessagePgx(ctx context.Context, q pgxQuerier, conversationID uuid.UUID, role, content string) (*Message, error) {
	m := &Message{}
	err := q.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, conversation_id, role, content, created_at`,
		uuid.New(), conversationID, role, content, time.Now().UTC(),
	).Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: append message: %w", err)
	}
	return m, nil
}

func historyPgx(ctx context.Context, q pgxQuerier, conversationID uuid.UUID, limit int) ([]Message, error) {
	rows, err := q.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: load history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// pgTurnTx exposes history reads and message appends inside the locked turn.
type pgTurnTx struct {
	tx             pgx.Tx
	conversationID uuid.UUID
}

func (t *pgTurnTx) History(ctx context.Context, limit int) ([]Message, error) {
	return historyPgx(ctx, t.tx, t.conversationID, limit)
}

func (t *pgTurnTx) Append(ctx context.Context, role, content string) (*Message, error) {
	return appendMessagePgx(ctx, t.tx, t.conversationID, role, content)
}

// Turn locks the conversation row with SELECT ... FOR UPDATE for the
// duration of fn, so concurrent chat turns on the same conversation
// execute one at a time. The lock is released on commit or rollback.
func (p *Postgres) Turn(ctx context.Context, conversationID uuid.UUID, fn func(tx TurnTx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin turn: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM conversations WHERE id = $1 FOR UPDATE`,
		conversationID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: lock conversation: %w", err)
	}

	if err := fn(&pgTurnTx{tx: tx, conversationID: conversationID}); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`,
		conversationID); err != nil {
		return fmt.Errorf("postgres: touch conversation: %w", err)
	}
	return tx.Commit(ctx)
}

// ─── Login rate limits ───────────────────────────────────────────────────────

func (p *Postgres) AuthRateLimit(ctx context.Context, email string) (*AuthRateLimit, error) {
	rl := &AuthRateLimit{}
	err := p.pool.QueryRow(ctx,
		`SELECT email, failed_attempts, last_attempt, locked_until
		 FROM auth_rate_limits WHERE email = $1`,
		strings.ToLower(email),
	).Scan(&rl.Email, &rl.FailedAttempts, &rl.LastAttempt, &rl.LockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: rate limit: %w", err)
	}
	return rl, nil
}

func (p *Postgres) RecordAuthFailure(ctx context.Context, email string, maxAttempts int, lockFor time.Duration) (*AuthRateLimit, error) {
	rl := &AuthRateLimit{}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO auth_rate_limits (email, failed_attempts, last_attempt)
		 VALUES ($1, 1, now())
		 ON CONFLICT (email) DO UPDATE SET
			failed_attempts = auth_rate_limits.failed_attempts + 1,
			last_attempt = now(),
			locked_until = CASE
				WHEN auth_rate_limits.failed_attempts + 1 >= $2 THEN now() + $3
				ELSE auth_rate_limits.locked_until
			END
		 RETURNING email, failed_attempts, last_attempt, locked_until`,
		strings.ToLower(email), maxAttempts, lockFor,
	).Scan(&rl.Email, &rl.FailedAttempts, &rl.LastAttempt, &rl.LockedUntil)
	if err != nil {
		return nil, fmt.Errorf("postgres: record auth failure: %w", err)
	}
	return rl, nil
}

func (p *Postgres) ResetAuthFailures(ctx context.Context, email string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM auth_rate_limits WHERE email = $1`, strings.ToLower(email))
	if err != nil {
		return fmt.Errorf("postgres: reset auth failures: %w", err)
	}
	return nil
}
