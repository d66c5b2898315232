// Package tools implements the five task operations exposed to the AI
// agent, both in-process (chat endpoint) and over MCP.
//
// Every tool is scoped by a user ID injected by the caller — the JWT
// for chat requests, an explicit argument for the MCP server. Tools
// never receive a user ID chosen by the model itself.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"taskdeck/internal/store"
)

// MaxTitleLength bounds task titles, matching the REST validation.
const MaxTitleLength = 500

// ErrInvalidArgument marks bad tool input. The callers report it to the
// model as a tool error instead of failing the whole request.
var ErrInvalidArgument = errors.New("tools: invalid argument")

// Definition describes one tool in OpenAI function-calling terms.
// The MCP server derives its own tool declarations from the same set.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Registry holds the task tools and dispatches calls to the store.
type Registry struct {
	store store.Store
}

// NewRegistry returns a registry over the given store.
func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

// Definitions lists all tools for the model's tools array.
func (r *Registry) Definitions() []Definition {
	return []Definition{
		{
			Name:        "add_task",
			Description: "Create a new task for the user. Use when the user describes something they need to do.",
			Parameters: schema(map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Task title (required, max 500 characters)",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Optional longer task description",
				},
			}, "title"),
		},
		{
			Name:        "list_tasks",
			Description: "List the user's tasks, optionally filtered by completion status.",
			Parameters: schema(map[string]any{
				"status": map[string]any{
					"type":        "string",
					"enum":        []string{"all", "pending", "completed"},
					"description": "Filter by completion status (default: all)",
				},
			}),
		},
		{
			Name:        "complete_task",
			Description: "Toggle a task's completion status. Use when the user says a task is done (or not done after all).",
			Parameters: schema(map[string]any{
				"task_id": map[string]any{
					"type":        "integer",
					"description": "ID of the task to toggle",
				},
			}, "task_id"),
		},
		{
			Name:        "update_task",
			Description: "Change a task's title and/or description.",
			Parameters: schema(map[string]any{
				"task_id": map[string]any{
					"type":        "integer",
					"description": "ID of the task to update",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "New title (max 500 characters)",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "New description",
				},
			}, "task_id"),
		},
		{
			Name:        "delete_task",
			Description: "Permanently delete a task.",
			Parameters: schema(map[string]any{
				"task_id": map[string]any{
					"type":        "integer",
					"description": "ID of the task to delete",
				},
			}, "task_id"),
		},
	}
}

// Call executes a named tool on behalf of userID.
func (r *Registry) Call(ctx context.Context, userID, name string, args map[string]any) (any, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}

	result, err := r.call(ctx, userID, name, args)
	if errors.Is(err, store.ErrUnknownUser) {
		return nil, fmt.Errorf("%w: unknown user_id %q", ErrInvalidArgument, userID)
	}
	return result, err
}

func (r *Registry) call(ctx context.Context, userID, name string, args map[string]any) (any, error) {
	switch name {
	case "add_task":
		return r.addTask(ctx, userID, args)
	case "list_tasks":
		return r.listTasks(ctx, userID, args)
	case "complete_task":
		return r.completeTask(ctx, userID, args)
	case "update_task":
		return r.updateTask(ctx, userID, args)
	case "delete_task":
		return r.deleteTask(ctx, userID, args)
	default:
		return nil, fmt.Errorf("%w: unknown tool %q", ErrInvalidArgument, name)
	}
}

func (r *Registry) addTask(ctx context.Context, userID string, args map[string]any) (any, error) {
	title, err := titleArg(args, "title", true)
	if err != nil {
		return nil, err
	}
	description := strings.TrimSpace(strArg(args, "description"))
	return r.store.CreateTask(ctx, userID, title, description)
}

func (r *Registry) listTasks(ctx context.Context, userID string, args map[string]any) (any, error) {
	var completed *bool
	switch status := strArg(args, "status"); status {
	case "", "all":
	case "pending":
		f := false
		completed = &f
	case "completed":
		tr := true
		completed = &tr
	default:
		return nil, fmt.Errorf("%w: status must be 'all', 'pending', or 'completed'", ErrInvalidArgument)
	}

	tasks, err := r.store.ListTasks(ctx, userID, completed)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	return tasks, nil
}

func (r *Registry) completeTask(ctx context.Context, userID string, args map[string]any) (any, error) {
	id, err := taskIDArg(args)
	if err != nil {
		return nil, err
	}
	task, err := r.store.ToggleTask(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: task %d not found", ErrInvalidArgument, id)
	}
	return task, err
}

func (r *Registry) updateTask(ctx context.Context, userID string, args map[string]any) (any, error) {
	id, err := taskIDArg(args)
	if err != nil {
		return nil, err
	}

	_, hasTitle := args["title"]
	_, hasDescription := args["description"]
	if !hasTitle && !hasDescription {
		return nil, fmt.Errorf("%w: provide a new title and/or description", ErrInvalidArgument)
	}

	current, err := r.store.Task(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: task %d not found", ErrInvalidArgument, id)
	}
	if err != nil {
		return nil, err
	}

	title := current.Title
	if hasTitle {
		title, err = titleArg(args, "title", true)
		if err != nil {
			return nil, err
		}
	}
	description := current.Description
	if hasDescription {
		description = strings.TrimSpace(strArg(args, "description"))
	}

	task, err := r.store.UpdateTask(ctx, userID, id, title, description)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: task %d not found", ErrInvalidArgument, id)
	}
	return task, err
}

func (r *Registry) deleteTask(ctx context.Context, userID string, args map[string]any) (any, error) {
	id, err := taskIDArg(args)
	if err != nil {
		return nil, err
	}
	task, err := r.store.Task(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: task %d not found", ErrInvalidArgument, id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.store.DeleteTask(ctx, userID, id); err != nil {
		return nil, err
	}
	return map[string]any{
		"task_id": id,
		"status":  "deleted",
		"title":   task.Title,
	}, nil
}

// ─── Argument helpers ────────────────────────────────────────────────────────

func strArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// taskIDArg reads task_id, which arrives as a JSON number (float64).
func taskIDArg(args map[string]any) (int64, error) {
	switch v := args["task_id"].(type) {
	case float64:
		if v <= 0 || v != float64(int64(v)) {
			return 0, fmt.Errorf("%w: task_id must be a positive integer", ErrInvalidArgument)
		}
		return int64(v), nil
	case json.Number:
		id, err := v.Int64()
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("%w: task_id must be a positive integer", ErrInvalidArgument)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("%w: task_id is required", ErrInvalidArgument)
	}
}

func titleArg(args map[string]any, key string, required bool) (string, error) {
	raw, ok := args[key].(string)
	if !ok {
		if required {
			return "", fmt.Errorf("%w: %s is required", ErrInvalidArgument, key)
		}
		return "", nil
	}
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", fmt.Errorf("%w: %s cannot be empty", ErrInvalidArgument, key)
	}
	if len(raw) > MaxTitleLength {
		return "", fmt.Errorf("%w: %s exceeds maximum length of %d characters", ErrInvalidArgument, key, MaxTitleLength)
	}
	return title, nil
}

func schema(properties map[string]any, required ...string) json.RawMessage {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("tools: marshal schema: %v", err))
	}
	return data
}
