package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"taskdeck/internal/agent"
	"taskdeck/internal/auth"
	"taskdeck/internal/chat"
	"taskdeck/internal/logx"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatResponse struct {
	ConversationID string           `json:"conversation_id"`
	Response       string           `json:"response"`
	ToolCalls      []agent.ToolCall `json:"tool_calls"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing token")
		return
	}

	allowed, retryAfter, err := s.chatLimiter.Allow(r.Context(), claims.UserID)
	if err != nil {
		// A broken limiter should not take chat down with it.
		logx.Event("error", "chat_rate_check_failed", logx.Fields{"error": err.Error()})
	} else if !allowed {
		writeRateLimited(w, "RATE_LIMITED", "Too many chat requests. Slow down a little.", int(retryAfter.Seconds())+1)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body must be valid JSON")
		return
	}

	var conversationID *uuid.UUID
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "conversation_id must be a UUID")
			return
		}
		conversationID = &id
	}

	turn, err := s.chat.Send(r.Context(), claims.UserID, req.Message, conversationID)
	if err != nil {
		s.chatError(w, r, err)
		return
	}

	if turn.ToolCalls == nil {
		turn.ToolCalls = []agent.ToolCall{}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: turn.ConversationID.String(),
		Response:       turn.Response,
		ToolCalls:      turn.ToolCalls,
	})
}

// chatError maps a failed turn to a status: bad input 422, foreign
// conversation 403, model timeout 504, model failure 503, the rest 500.
func (s *Server) chatError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidMessage):
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, chat.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "You do not have access to this conversation")
	case errors.Is(err, context.DeadlineExceeded):
		logx.Event("error", "chat_timeout", logx.Fields{"user_id": logx.HashUserID(userIDFrom(r))})
		writeError(w, http.StatusGatewayTimeout, "GATEWAY_TIMEOUT", "The assistant took too long to respond")
	case errors.Is(err, agent.ErrUpstream):
		logx.Event("error", "chat_upstream_failed", logx.Fields{"error": err.Error()})
		writeError(w, http.StatusServiceUnavailable, "AI_SERVICE_ERROR", "The assistant is temporarily unavailable")
	default:
		logx.Event("error", "chat_failed", logx.Fields{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Something went wrong")
	}
}

func userIDFrom(r *http.Request) string {
	if claims, ok := auth.FromContext(r.Context()); ok {
		return claims.UserID
	}
	return ""
}
