// Package store implements relational storage for users, tasks and
// chat conversations.
//
// Two adapters share one interface: Postgres (pgx) for deployments and
// SQLite for local development and tests. All task and conversation
// queries are filtered by user_id — ownership is enforced at the query
// level, and a row owned by another user is indistinguishable from a
// missing row (ErrNotFound).
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message roles. Messages are append-only; no other roles are persisted.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Sentinel errors mapped to HTTP statuses by the API layer.
var (
	ErrNotFound       = errors.New("store: not found")
	ErrDuplicateEmail = errors.New("store: email already registered")

	// ErrUnknownUser reports a write that referenced a user ID with no
	// users row. It surfaces on the MCP path, where the user ID is a
	// caller-supplied argument rather than a verified JWT subject.
	ErrUnknownUser = errors.New("store: unknown user")
)

// User is an account row. IDs are Better Auth style opaque strings.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Task is a single todo item owned by a user.
type Task struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Conversation is the chat thread between a user and the assistant.
// One conversation per user, auto-created on the first message.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn half in a conversation. Never updated or deleted.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuthRateLimit tracks failed login attempts per email address.
type AuthRateLimit struct {
	Email          string     `json:"email"`
	FailedAttempts int        `json:"failed_attempts"`
	LastAttempt    time.Time  `json:"last_attempt"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
}

// TurnTx is the view of a conversation inside a chat turn transaction.
// The conversation row is locked for the lifetime of the transaction,
// serializing concurrent turns on the same conversation.
type TurnTx interface {
	// History returns up to limit messages, newest first.
	History(ctx context.Context, limit int) ([]Message, error)
	// Append stores a new message in the conversation.
	Append(ctx context.Context, role, content string) (*Message, error)
}

// Store is the storage interface shared by the Postgres and SQLite adapters.
type Store interface {
	// Users
	CreateUser(ctx context.Context, id, name, email, passwordHash string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByID(ctx context.Context, id string) (*User, error)

	// Tasks — every operation is scoped to userID.
	CreateTask(ctx context.Context, userID, title, description string) (*Task, error)
	ListTasks(ctx context.Context, userID string, completed *bool) ([]Task, error)
	Task(ctx context.Context, userID string, id int64) (*Task, error)
	UpdateTask(ctx context.Context, userID string, id int64, title, description string) (*Task, error)
	ToggleTask(ctx context.Context, userID string, id int64) (*Task, error)
	DeleteTask(ctx context.Context, userID string, id int64) error

	// Conversations and messages
	ConversationByID(ctx context.Context, id uuid.UUID) (*Conversation, error)
	ConversationByUser(ctx context.Context, userID string) (*Conversation, error)
	CreateConversation(ctx context.Context, userID string) (*Conversation, error)
	AppendMessage(ctx context.Context, conversationID uuid.UUID, role, content string) (*Message, error)

	// Turn runs fn inside a transaction that holds the conversation row
	// lock, then bumps the conversation's updated_at on commit. fn errors
	// roll the whole turn back.
	Turn(ctx context.Context, conversationID uuid.UUID, fn func(tx TurnTx) error) error

	// Login rate limiting
	AuthRateLimit(ctx context.Context, email string) (*AuthRateLimit, error)
	RecordAuthFailure(ctx context.Context, email string, maxAttempts int, lockFor time.Duration) (*AuthRateLimit, error)
	ResetAuthFailures(ctx context.Context, email string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

// Open selects an adapter from the DSN: sqlite: / file: prefixes or a
// bare *.db path open SQLite, anything else is treated as Postgres.
func Open(ctx context.Context, dsn string) (Store, error) {
	trimmed := strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(trimmed, "sqlite:"):
		return OpenSQLite(strings.TrimPrefix(trimmed, "sqlite:"))
	case strings.HasPrefix(trimmed, "file:"), strings.HasSuffix(trimmed, ".db"):
		return OpenSQLite(trimmed)
	default:
		return OpenPostgres(ctx, trimmed)
	}
}
