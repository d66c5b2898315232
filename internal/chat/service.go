// Package chat orchestrates one assistant turn: resolve the user's
// conversation, replay bounded history, run the agent and persist both
// sides of the exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"taskdeck/internal/agent"
	"taskdeck/internal/logx"
	"taskdeck/internal/store"
)

// MaxMessageLength bounds a single chat message.
const MaxMessageLength = 10000

var (
	// ErrInvalidMessage covers empty or oversized messages.
	ErrInvalidMessage = errors.New("chat: invalid message")
	// ErrForbidden means the conversation exists but belongs to someone else.
	ErrForbidden = errors.New("chat: conversation belongs to another user")
)

// Agent produces the assistant's reply for one turn.
type Agent interface {
	Invoke(ctx context.Context, userID string, history []agent.Message, userMessage string) (*agent.Result, error)
}

// Service runs chat turns against a store and an agent.
type Service struct {
	store store.Store
	agent Agent
}

// NewService returns a chat Service.
func NewService(st store.Store, ag Agent) *Service {
	return &Service{store: st, agent: ag}
}

// Turn is the outcome of one chat exchange.
type Turn struct {
	ConversationID uuid.UUID
	Response       string
	ToolCalls      []agent.ToolCall
}

// Send runs one chat turn for userID. conversationID is optional: nil
// or an unknown ID resolves to the user's own conversation, creating
// it on first use. A known conversation owned by another user is
// rejected with ErrForbidden.
//
// The turn runs inside the store's conversation lock, so concurrent
// sends on the same conversation serialize and history stays coherent.
// If the agent fails, the turn rolls back and the user's message is
// re-persisted on its own, keeping what the user said without a
// fabricated reply.
func (s *Service) Send(ctx context.Context, userID, message string, conversationID *uuid.UUID) (*Turn, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("%w: message must not be empty", ErrInvalidMessage)
	}
	if len(message) > MaxMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidMessage, MaxMessageLength)
	}

	conv, err := s.resolveConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	var result *agent.Result
	turnErr := s.store.Turn(ctx, conv.ID, func(tx store.TurnTx) error {
		newestFirst, err := tx.History(ctx, historyFetchLimit)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		history := toAgentHistory(trimToBudget(newestFirst, historyTokenBudget))

		if _, err := tx.Append(ctx, store.RoleUser, message); err != nil {
			return fmt.Errorf("persist user message: %w", err)
		}

		result, err = s.agent.Invoke(ctx, userID, history, message)
		if err != nil {
			return err
		}

		if _, err := tx.Append(ctx, store.RoleAssistant, result.Content); err != nil {
			return fmt.Errorf("persist assistant message: %w", err)
		}
		return nil
	})
	if turnErr != nil {
		// The rolled-back turn dropped the user's message; keep it so
		// the conversation still shows what was asked. The request
		// context may already be past its deadline, so detach it.
		requeueCtx := context.WithoutCancel(ctx)
		if _, appendErr := s.store.AppendMessage(requeueCtx, conv.ID, store.RoleUser, message); appendErr != nil {
			logx.Event("error", "user_message_requeue_failed", logx.Fields{
				"conversation_id": conv.ID.String(),
				"error":           appendErr.Error(),
			})
		}
		return nil, turnErr
	}

	return &Turn{
		ConversationID: conv.ID,
		Response:       result.Content,
		ToolCalls:      result.ToolCalls,
	}, nil
}

// resolveConversation finds the conversation for this turn. A supplied
// ID that matches another user is a hard error; a supplied ID that
// matches nothing falls through to the user's own conversation.
func (s *Service) resolveConversation(ctx context.Context, userID string, id *uuid.UUID) (*store.Conversation, error) {
	if id != nil {
		conv, err := s.store.ConversationByID(ctx, *id)
		switch {
		case err == nil && conv.UserID == userID:
			return conv, nil
		case err == nil:
			return nil, ErrForbidden
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("look up conversation: %w", err)
		}
	}

	conv, err := s.store.ConversationByUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return s.store.CreateConversation(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("look up conversation: %w", err)
	}
	return conv, nil
}

func toAgentHistory(msgs []store.Message) []agent.Message {
	out := make([]agent.Message, len(msgs))
	for i, m := range msgs {
		out[i] = agent.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
