package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"taskdeck/internal/logx"
	"taskdeck/internal/tools"
)

// Message is one prior conversation turn fed back to the model.
type Message struct {
	Role    string
	Content string
}

// ToolCall records one tool invocation for the API response, so the
// frontend can show what the assistant actually did.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result"`
}

// Result is the assistant's reply plus any tool invocations made.
type Result struct {
	Content   string
	ToolCalls []ToolCall
}

// Executor runs task tools with an injected user ID. The model never
// chooses the user; isolation comes from the JWT upstream.
type Executor interface {
	Definitions() []tools.Definition
	Call(ctx context.Context, userID, name string, args map[string]any) (any, error)
}

// Runner binds a completions client to a tool executor.
type Runner struct {
	client *Client
	exec   Executor
}

// NewRunner returns a Runner over the given client and executor.
func NewRunner(client *Client, exec Executor) *Runner {
	return &Runner{client: client, exec: exec}
}

// Invoke runs one agent turn: the model sees the system prompt, the
// bounded history and the new user message; if it requests tools, they
// are executed and the results fed back for a final answer.
func (r *Runner) Invoke(ctx context.Context, userID string, history []Message, userMessage string) (*Result, error) {
	messages := make([]chatMessage, 0, len(history)+2)
	messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userMessage})

	var toolDefs []chatTool
	for _, d := range r.exec.Definitions() {
		toolDefs = append(toolDefs, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}

	reply, err := r.client.complete(ctx, messages, toolDefs)
	if err != nil {
		return nil, err
	}

	if len(reply.ToolCalls) == 0 {
		return &Result{Content: reply.Content}, nil
	}

	// Function calling protocol: echo the assistant message with its
	// tool_calls, then one "tool" message per result, then ask the model
	// for its final answer.
	messages = append(messages, *reply)

	var calls []ToolCall
	for _, tc := range reply.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				messages = append(messages, toolResultMessage(tc.ID, map[string]any{
					"error": fmt.Sprintf("invalid tool arguments: %v", err),
				}))
				continue
			}
		}

		result, err := r.exec.Call(ctx, userID, tc.Function.Name, args)
		if err != nil {
			// Tool failures go back to the model as data, not as a
			// request failure, so it can explain or retry.
			logx.Event("error", "tool_call_failed", logx.Fields{
				"tool":    tc.Function.Name,
				"user_id": logx.HashUserID(userID),
				"error":   err.Error(),
			})
			messages = append(messages, toolResultMessage(tc.ID, map[string]any{"error": err.Error()}))
			continue
		}

		calls = append(calls, ToolCall{
			Tool:      tc.Function.Name,
			Arguments: args,
			Result:    result,
		})
		messages = append(messages, toolResultMessage(tc.ID, result))
	}

	final, err := r.client.complete(ctx, messages, nil)
	if err != nil {
		return nil, err
	}
	return &Result{Content: final.Content, ToolCalls: calls}, nil
}

func toolResultMessage(toolCallID string, result any) chatMessage {
	content, err := json.Marshal(result)
	if err != nil {
		content = []byte(`{"error": "unserializable tool result"}`)
	}
	return chatMessage{
		Role:       "tool",
		ToolCallID: toolCallID,
		Content:    string(content),
	}
}
