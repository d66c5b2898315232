package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"taskdeck/internal/store"
)

// newTestStore opens a SQLite store in a temp dir with the schema applied.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "taskdeck.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func mustCreateUser(t *testing.T, s store.Store, id, email string) *store.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), id, "Test User", email, "")
	if err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
	return u
}

// ─── Open dispatch ───────────────────────────────────────────────────────────

func TestOpen_SQLiteDSN(t *testing.T) {
	ctx := context.Background()
	for _, dsn := range []string{
		"sqlite:" + filepath.Join(t.TempDir(), "a.db"),
		filepath.Join(t.TempDir(), "b.db"),
	} {
		s, err := store.Open(ctx, dsn)
		if err != nil {
			t.Fatalf("Open(%q): %v", dsn, err)
		}
		if _, ok := s.(*store.SQLite); !ok {
			t.Errorf("Open(%q) returned %T, want *store.SQLite", dsn, s)
		}
		s.Close()
	}
}

// ─── Users ───────────────────────────────────────────────────────────────────

func TestCreateUser_DuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	mustCreateUser(t, s, "u1", "dup@example.com")

	// Email matching is case-insensitive.
	_, err := s.CreateUser(context.Background(), "u2", "Other", "DUP@example.com", "")
	if !errors.Is(err, store.ErrDuplicateEmail) {
		t.Fatalf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestWrites_UnknownUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateTask(ctx, "ghost", "title", ""); !errors.Is(err, store.ErrUnknownUser) {
		t.Errorf("CreateTask err = %v, want ErrUnknownUser", err)
	}
	if _, err := s.CreateConversation(ctx, "ghost"); !errors.Is(err, store.ErrUnknownUser) {
		t.Errorf("CreateConversation err = %v, want ErrUnknownUser", err)
	}
}

func TestUserByEmail_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.UserByEmail(context.Background(), "nobody@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// ─── Tasks ───────────────────────────────────────────────────────────────────

func TestTaskLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUser(t, s, "u1", "u1@example.com")

	task, err := s.CreateTask(ctx, "u1", "Buy milk", "2% from the store")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID == 0 || task.Completed {
		t.Fatalf("unexpected new task: %+v", task)
	}

	got, err := s.Task(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Buy milk" || got.Description != "2% from the store" {
		t.Errorf("got %+v", got)
	}

	updated, err := s.UpdateTask(ctx, "u1", task.ID, "Buy oat milk", "")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Buy oat milk" || updated.Description != "" {
		t.Errorf("updated = %+v", updated)
	}

	toggled, err := s.ToggleTask(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !toggled.Completed {
		t.Error("toggle did not complete the task")
	}
	toggled, err = s.ToggleTask(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	if toggled.Completed {
		t.Error("second toggle did not clear completion")
	}

	if err := s.DeleteTask(ctx, "u1", task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Task(ctx, "u1", task.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("task still present after delete: %v", err)
	}
}

func TestTasks_UserIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUser(t, s, "alice", "alice@example.com")
	mustCreateUser(t, s, "bob", "bob@example.com")

	task, err := s.CreateTask(ctx, "alice", "Alice's task", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Another user's task is indistinguishable from a missing one.
	if _, err := s.Task(ctx, "bob", task.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cross-user get: err = %v, want ErrNotFound", err)
	}
	if _, err := s.UpdateTask(ctx, "bob", task.ID, "hijacked", ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cross-user update: err = %v, want ErrNotFound", err)
	}
	if _, err := s.ToggleTask(ctx, "bob", task.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cross-user toggle: err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteTask(ctx, "bob", task.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cross-user delete: err = %v, want ErrNotFound", err)
	}

	tasks, err := s.ListTasks(ctx, "bob", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("bob sees %d tasks, want 0", len(tasks))
	}
}

func TestListTasks_FilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUser(t, s, "u1", "u1@example.com")

	first, _ := s.CreateTask(ctx, "u1", "first", "")
	second, _ := s.CreateTask(ctx, "u1", "second", "")
	third, _ := s.CreateTask(ctx, "u1", "third", "")
	if _, err := s.ToggleTask(ctx, "u1", second.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	all, err := s.ListTasks(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	// Newest first.
	if all[0].ID != third.ID || all[2].ID != first.ID {
		t.Errorf("order = [%d %d %d]", all[0].ID, all[1].ID, all[2].ID)
	}

	done := true
	completed, err := s.ListTasks(ctx, "u1", &done)
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != second.ID {
		t.Errorf("completed = %+v", completed)
	}

	pendingFlag := false
	pending, err := s.ListTasks(ctx, "u1", &pendingFlag)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}
}

// ─── Conversations & messages ────────────────────────────────────────────────

func TestConversationAndMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUser(t, s, "u1", "u1@example.com")

	if _, err := s.ConversationByUser(ctx, "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no conversation yet, got %v", err)
	}

	conv, err := s.CreateConversation(ctx, "u1")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if conv.ID == uuid.Nil || conv.UserID != "u1" {
		t.Fatalf("conversation = %+v", conv)
	}

	byUser, err := s.ConversationByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("by user: %v", err)
	}
	if byUser.ID != conv.ID {
		t.Errorf("by user returned %s, want %s", byUser.ID, conv.ID)
	}

	if _, err := s.AppendMessage(ctx, conv.ID, store.RoleUser, "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendMessage(ctx, conv.ID, store.RoleAssistant, "hi there"); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestTurn_AppendsAndBumpsConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUser(t, s, "u1", "u1@example.com")
	conv, _ := s.CreateConversation(ctx, "u1")

	before, _ := s.ConversationByID(ctx, conv.ID)
	time.Sleep(5 * time.Millisecond)

	err := s.Turn(ctx, conv.ID, func(tx store.TurnTx) error {
		if _, err := tx.Append(ctx, store.RoleUser, "add a task"); err != nil {
			return err
		}
		_, err := tx.Append(ctx, store.RoleAssistant, "done")
		return err
	})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}

	msgs := historyOf(t, s, conv.ID)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	// Newest first.
	if msgs[0].Role != store.RoleAssistant || msgs[1].Role != store.RoleUser {
		t.Errorf("history order wrong: %s, %s", msgs[0].Role, msgs[1].Role)
	}

	after, _ := s.ConversationByID(ctx, conv.ID)
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Error("updated_at not bumped by turn")
	}
}

func TestTurn_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUser(t, s, "u1", "u1@example.com")
	conv, _ := s.CreateConversation(ctx, "u1")

	turnErr := errors.New("model exploded")
	err := s.Turn(ctx, conv.ID, func(tx store.TurnTx) error {
		if _, err := tx.Append(ctx, store.RoleUser, "doomed message"); err != nil {
			return err
		}
		return turnErr
	})
	if !errors.Is(err, turnErr) {
		t.Fatalf("err = %v, want the fn error", err)
	}

	if msgs := historyOf(t, s, conv.ID); len(msgs) != 0 {
		t.Errorf("rollback left %d messages", len(msgs))
	}
}

func TestTurn_UnknownConversation(t *testing.T) {
	s := newTestStore(t)
	err := s.Turn(context.Background(), uuid.New(), func(tx store.TurnTx) error { return nil })
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// historyOf reads messages through a read-only turn.
func historyOf(t *testing.T, s store.Store, convID uuid.UUID) []store.Message {
	t.Helper()
	var msgs []store.Message
	err := s.Turn(context.Background(), convID, func(tx store.TurnTx) error {
		var err error
		msgs, err = tx.History(context.Background(), 100)
		return err
	})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return msgs
}

// ─── Login rate limits ───────────────────────────────────────────────────────

func TestRecordAuthFailure_LocksAfterMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var rl *store.AuthRateLimit
	var err error
	for i := 0; i < 5; i++ {
		rl, err = s.RecordAuthFailure(ctx, "Attacker@Example.com", 5, 15*time.Minute)
		if err != nil {
			t.Fatalf("record failure %d: %v", i+1, err)
		}
	}
	if rl.FailedAttempts != 5 {
		t.Errorf("failed_attempts = %d, want 5", rl.FailedAttempts)
	}
	if rl.LockedUntil == nil || !rl.LockedUntil.After(time.Now()) {
		t.Errorf("expected a future lock, got %v", rl.LockedUntil)
	}

	// Lookup is case-insensitive.
	got, err := s.AuthRateLimit(ctx, "attacker@example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.LockedUntil == nil {
		t.Error("lock not visible on lookup")
	}

	if err := s.ResetAuthFailures(ctx, "attacker@example.com"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := s.AuthRateLimit(ctx, "attacker@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("record survived reset: %v", err)
	}
}

func TestRecordAuthFailure_NoLockBelowMax(t *testing.T) {
	s := newTestStore(t)
	rl, err := s.RecordAuthFailure(context.Background(), "user@example.com", 5, 15*time.Minute)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rl.FailedAttempts != 1 || rl.LockedUntil != nil {
		t.Errorf("rl = %+v", rl)
	}
}
