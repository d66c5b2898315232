package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"taskdeck/internal/tools"
)

// ─── AddTaskTool ─────────────────────────────────────────────────────────────

// AddTaskTool handles the add_task MCP tool.
type AddTaskTool struct {
	registry *tools.Registry
}

// NewAddTaskTool creates an AddTaskTool backed by the shared registry.
func NewAddTaskTool(registry *tools.Registry) *AddTaskTool {
	return &AddTaskTool{registry: registry}
}

// Definition returns the MCP tool definition for add_task.
func (t *AddTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("add_task",
		mcp.WithDescription(
			"Create a new task on the user's todo list. The task starts as pending.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("ID of the user who owns the task"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Short title for the task (max 500 characters)"),
		),
		mcp.WithString("description",
			mcp.Description("Optional longer description"),
		),
	)
}

// Handle processes the add_task tool call.
func (t *AddTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return dispatch(ctx, t.registry, "add_task", req)
}

// ─── ListTasksTool ───────────────────────────────────────────────────────────

// ListTasksTool handles the list_tasks MCP tool.
type ListTasksTool struct {
	registry *tools.Registry
}

// NewListTasksTool creates a ListTasksTool backed by the shared registry.
func NewListTasksTool(registry *tools.Registry) *ListTasksTool {
	return &ListTasksTool{registry: registry}
}

// Definition returns the MCP tool definition for list_tasks.
func (t *ListTasksTool) Definition() mcp.Tool {
	return mcp.NewTool("list_tasks",
		mcp.WithDescription(
			"List the user's tasks, optionally filtered by completion status.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("ID of the user whose tasks to list"),
		),
		mcp.WithString("status",
			mcp.Description("Filter: all, pending or completed (default: all)"),
			mcp.Enum("all", "pending", "completed"),
		),
	)
}

// Handle processes the list_tasks tool call.
func (t *ListTasksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return dispatch(ctx, t.registry, "list_tasks", req)
}

// ─── CompleteTaskTool ────────────────────────────────────────────────────────

// CompleteTaskTool handles the complete_task MCP tool.
type CompleteTaskTool struct {
	registry *tools.Registry
}

// NewCompleteTaskTool creates a CompleteTaskTool backed by the shared registry.
func NewCompleteTaskTool(registry *tools.Registry) *CompleteTaskTool {
	return &CompleteTaskTool{registry: registry}
}

// Definition returns the MCP tool definition for complete_task.
func (t *CompleteTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("complete_task",
		mcp.WithDescription(
			"Toggle a task's completion status. A pending task becomes completed and vice versa.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("ID of the user who owns the task"),
		),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("ID of the task to toggle"),
		),
	)
}

// Handle processes the complete_task tool call.
func (t *CompleteTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return dispatch(ctx, t.registry, "complete_task", req)
}

// ─── UpdateTaskTool ──────────────────────────────────────────────────────────

// UpdateTaskTool handles the update_task MCP tool.
type UpdateTaskTool struct {
	registry *tools.Registry
}

// NewUpdateTaskTool creates an UpdateTaskTool backed by the shared registry.
func NewUpdateTaskTool(registry *tools.Registry) *UpdateTaskTool {
	return &UpdateTaskTool{registry: registry}
}

// Definition returns the MCP tool definition for update_task.
func (t *UpdateTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("update_task",
		mcp.WithDescription(
			"Update a task's title and/or description. At least one of the two must be provided.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("ID of the user who owns the task"),
		),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("ID of the task to update"),
		),
		mcp.WithString("title",
			mcp.Description("New title (max 500 characters)"),
		),
		mcp.WithString("description",
			mcp.Description("New description"),
		),
	)
}

// Handle processes the update_task tool call.
func (t *UpdateTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return dispatch(ctx, t.registry, "update_task", req)
}

// ─── DeleteTaskTool ──────────────────────────────────────────────────────────

// DeleteTaskTool handles the delete_task MCP tool.
type DeleteTaskTool struct {
	registry *tools.Registry
}

// NewDeleteTaskTool creates a DeleteTaskTool backed by the shared registry.
func NewDeleteTaskTool(registry *tools.Registry) *DeleteTaskTool {
	return &DeleteTaskTool{registry: registry}
}

// Definition returns the MCP tool definition for delete_task.
func (t *DeleteTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("delete_task",
		mcp.WithDescription(
			"Permanently delete a task from the user's list.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("ID of the user who owns the task"),
		),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("ID of the task to delete"),
		),
	)
}

// Handle processes the delete_task tool call.
func (t *DeleteTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return dispatch(ctx, t.registry, "delete_task", req)
}

// ─── Shared dispatch ─────────────────────────────────────────────────────────

// dispatch runs one registry call for a tool request. The user_id
// argument is pulled out and injected as the ownership scope; the rest
// of the arguments pass through unchanged.
func dispatch(ctx context.Context, registry *tools.Registry, name string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("'user_id' is required"), nil
	}

	args := make(map[string]any)
	for k, v := range req.GetArguments() {
		if k == "user_id" {
			continue
		}
		args[k] = v
	}

	result, err := registry.Call(ctx, userID, name, args)
	if err != nil {
		if errors.Is(err, tools.ErrInvalidArgument) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to run %s: %v", name, err)), nil
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode %s result: %v", name, err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
