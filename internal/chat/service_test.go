package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"taskdeck/internal/agent"
	"taskdeck/internal/store"
)

// fakeAgent replays a scripted result and records what it was shown.
type fakeAgent struct {
	history []agent.Message
	message string
	result  *agent.Result
	err     error
}

func (f *fakeAgent) Invoke(_ context.Context, _ string, history []agent.Message, userMessage string) (*agent.Result, error) {
	f.history = history
	f.message = userMessage
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestService(t *testing.T, ag Agent) (*Service, store.Store) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Conversations reference users(id), so the owners must exist first.
	for _, id := range []string{"u1", "u2"} {
		if _, err := st.CreateUser(context.Background(), id, "Test User", id+"@example.com", "x"); err != nil {
			t.Fatalf("create user %s: %v", id, err)
		}
	}
	return NewService(st, ag), st
}

func messagesOf(t *testing.T, st store.Store, convID uuid.UUID) []store.Message {
	t.Helper()
	var newestFirst []store.Message
	err := st.Turn(context.Background(), convID, func(tx store.TurnTx) error {
		var err error
		newestFirst, err = tx.History(context.Background(), 100)
		return err
	})
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	// Chronological for assertions.
	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst
}

func TestSend_ValidatesMessage(t *testing.T) {
	svc, _ := newTestService(t, &fakeAgent{result: &agent.Result{Content: "ok"}})

	for _, message := range []string{"", "   \n\t", strings.Repeat("x", MaxMessageLength+1)} {
		_, err := svc.Send(context.Background(), "u1", message, nil)
		if !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("Send(%d chars) err = %v, want ErrInvalidMessage", len(message), err)
		}
	}

	// Exactly at the limit is fine.
	if _, err := svc.Send(context.Background(), "u1", strings.Repeat("x", MaxMessageLength), nil); err != nil {
		t.Errorf("Send(limit) err = %v", err)
	}
}

func TestSend_CreatesConversationAndPersistsTurn(t *testing.T) {
	ag := &fakeAgent{result: &agent.Result{Content: "Added it!"}}
	svc, st := newTestService(t, ag)

	turn, err := svc.Send(context.Background(), "u1", "  add a task to buy milk  ", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if turn.Response != "Added it!" {
		t.Errorf("response = %q", turn.Response)
	}
	if ag.message != "add a task to buy milk" {
		t.Errorf("agent saw %q, want trimmed message", ag.message)
	}

	conv, err := st.ConversationByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if conv.ID != turn.ConversationID {
		t.Errorf("conversation id mismatch: %s vs %s", conv.ID, turn.ConversationID)
	}

	msgs := messagesOf(t, st, conv.ID)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != store.RoleUser || msgs[0].Content != "add a task to buy milk" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != store.RoleAssistant || msgs[1].Content != "Added it!" {
		t.Errorf("second message = %+v", msgs[1])
	}
}

func TestSend_ReusesConversationAndThreadsHistory(t *testing.T) {
	ag := &fakeAgent{result: &agent.Result{Content: "reply"}}
	svc, _ := newTestService(t, ag)

	first, err := svc.Send(context.Background(), "u1", "first", nil)
	if err != nil {
		t.Fatalf("send 1: %v", err)
	}
	second, err := svc.Send(context.Background(), "u1", "second", nil)
	if err != nil {
		t.Fatalf("send 2: %v", err)
	}
	if first.ConversationID != second.ConversationID {
		t.Error("second send opened a new conversation")
	}

	// The second turn replays the first exchange chronologically.
	if len(ag.history) != 2 {
		t.Fatalf("history = %d messages, want 2", len(ag.history))
	}
	if ag.history[0].Role != store.RoleUser || ag.history[0].Content != "first" {
		t.Errorf("history[0] = %+v", ag.history[0])
	}
	if ag.history[1].Role != store.RoleAssistant {
		t.Errorf("history[1] = %+v", ag.history[1])
	}
}

func TestSend_SuppliedConversationID(t *testing.T) {
	ag := &fakeAgent{result: &agent.Result{Content: "reply"}}
	svc, st := newTestService(t, ag)

	// Unknown ID falls through to the user's own conversation.
	unknown := uuid.New()
	turn, err := svc.Send(context.Background(), "u1", "hello", &unknown)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if turn.ConversationID == unknown {
		t.Error("unknown conversation id was adopted")
	}

	// The user's own ID is reused.
	own := turn.ConversationID
	turn2, err := svc.Send(context.Background(), "u1", "again", &own)
	if err != nil {
		t.Fatalf("send own: %v", err)
	}
	if turn2.ConversationID != own {
		t.Error("own conversation not reused")
	}

	// Someone else's conversation is refused outright.
	other, err := st.CreateConversation(context.Background(), "u2")
	if err != nil {
		t.Fatalf("create other: %v", err)
	}
	if _, err := svc.Send(context.Background(), "u1", "hello", &other.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign conversation err = %v, want ErrForbidden", err)
	}
}

func TestSend_AgentFailureKeepsUserMessage(t *testing.T) {
	ag := &fakeAgent{err: errors.New("model unavailable")}
	svc, st := newTestService(t, ag)

	_, err := svc.Send(context.Background(), "u1", "are you there?", nil)
	if err == nil {
		t.Fatal("send succeeded with a failing agent")
	}

	conv, err := st.ConversationByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	msgs := messagesOf(t, st, conv.ID)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want just the user message", len(msgs))
	}
	if msgs[0].Role != store.RoleUser || msgs[0].Content != "are you there?" {
		t.Errorf("kept message = %+v", msgs[0])
	}
}

func TestTrimToBudget(t *testing.T) {
	msg := func(content string) store.Message {
		return store.Message{Role: store.RoleUser, Content: content}
	}

	// 100 chars is 25 tokens each; a budget of 60 keeps two.
	newestFirst := []store.Message{
		msg(strings.Repeat("c", 100)),
		msg(strings.Repeat("b", 100)),
		msg(strings.Repeat("a", 100)),
	}
	kept := trimToBudget(newestFirst, 60)
	if len(kept) != 2 {
		t.Fatalf("kept = %d, want 2", len(kept))
	}
	// Newest two, back in chronological order.
	if kept[0].Content[0] != 'b' || kept[1].Content[0] != 'c' {
		t.Errorf("order wrong: %c %c", kept[0].Content[0], kept[1].Content[0])
	}

	if got := trimToBudget(nil, 100); len(got) != 0 {
		t.Errorf("empty history kept %d", len(got))
	}

	// A first message over budget keeps nothing rather than overshooting.
	if got := trimToBudget([]store.Message{msg(strings.Repeat("x", 1000))}, 10); len(got) != 0 {
		t.Errorf("oversized head kept %d", len(got))
	}
}
