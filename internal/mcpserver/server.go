// Package mcpserver wires the task tools into an MCP server spoken
// over stdio. This is the composition root: it creates the concrete
// tool handlers and registers them, no business logic lives here.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"taskdeck/internal/store"
	"taskdeck/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates the MCP server with the five task tools registered.
// Every tool takes an explicit user_id, since MCP clients carry no
// authenticated session.
func New(st store.Store) *server.MCPServer {
	s := server.NewMCPServer(
		"taskdeck",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	registry := tools.NewRegistry(st)

	addTool := NewAddTaskTool(registry)
	s.AddTool(addTool.Definition(), addTool.Handle)

	listTool := NewListTasksTool(registry)
	s.AddTool(listTool.Definition(), listTool.Handle)

	completeTool := NewCompleteTaskTool(registry)
	s.AddTool(completeTool.Definition(), completeTool.Handle)

	updateTool := NewUpdateTaskTool(registry)
	s.AddTool(updateTool.Definition(), updateTool.Handle)

	deleteTool := NewDeleteTaskTool(registry)
	s.AddTool(deleteTool.Definition(), deleteTool.Handle)

	return s
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(st store.Store) error {
	return server.ServeStdio(New(st))
}

func serverInstructions() string {
	return `Taskdeck exposes a user's todo list as tools.

Every tool requires a user_id identifying whose list to operate on.
Tasks belong to exactly one user; a task_id from another user's list
behaves as if it does not exist.

Typical flows:
- add_task to create, list_tasks to review.
- complete_task toggles done/pending rather than only completing.
- update_task changes title and/or description, never completion.
- delete_task is permanent.`
}
