// Taskdeck: todo backend with an AI assistant
//
// One binary, three surfaces: a REST API for the web frontend, an MCP
// server exposing the task tools over stdio, and small operational
// subcommands.
//
// Usage:
//
//	taskdeck serve     # Start the HTTP API
//	taskdeck mcp       # Start the MCP server (stdio transport)
//	taskdeck migrate   # Apply the database schema and exit
//	taskdeck token     # Mint a dev JWT for a user id and email
//	taskdeck update    # Update the binary to the latest release
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"taskdeck/internal/agent"
	"taskdeck/internal/auth"
	"taskdeck/internal/chat"
	"taskdeck/internal/config"
	"taskdeck/internal/httpapi"
	"taskdeck/internal/limiter"
	"taskdeck/internal/logx"
	"taskdeck/internal/mcpserver"
	"taskdeck/internal/store"
	"taskdeck/internal/tools"
	"taskdeck/internal/updater"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe()
	case "mcp":
		err = runMCP()
	case "migrate":
		err = runMigrate()
	case "token":
		err = runToken(os.Args[2:])
	case "update":
		err = runUpdate()
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("taskdeck v%s\n", mcpserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runServe starts the HTTP API and blocks until interrupted.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating: %w", err)
	}

	var chatLimiter limiter.ChatLimiter = limiter.Noop{}
	if cfg.ValkeyURL != "" {
		chatLimiter, err = limiter.NewValkey(cfg.ValkeyURL, limiter.DefaultLimit, limiter.DefaultWindow)
		if err != nil {
			return fmt.Errorf("connecting rate limiter: %w", err)
		}
		defer chatLimiter.Close()
	}

	client := agent.NewClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel)
	runner := agent.NewRunner(client, tools.NewRegistry(st))
	svc := chat.NewService(st, runner)

	return httpapi.New(cfg, st, svc, chatLimiter).Run(ctx)
}

// runMCP starts the MCP server on stdin/stdout.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	st, err := store.Open(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrating: %w", err)
	}

	// Startup noise goes to stderr so the stdio transport stays clean.
	fmt.Fprintf(os.Stderr, "taskdeck MCP server v%s ready\n", mcpserver.Version)
	go notifyUpdates()

	return mcpserver.Serve(st)
}

// runMigrate applies the schema and exits.
func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	logx.Event("info", "migration_applied", nil)
	return nil
}

// runToken mints a JWT for local testing: taskdeck token <user_id> <email>
func runToken(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: taskdeck token <user_id> <email>")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	token, err := auth.IssueToken(cfg.AuthSecret, auth.Claims{
		UserID: args[0],
		Email:  args[1],
	}, config.TokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// notifyUpdates does a best-effort release check and prints a notice
// to stderr. Runs in a goroutine during "mcp"; failures stay silent.
func notifyUpdates() {
	result := updater.Check(mcpserver.Version)
	if result.UpdateAvailable {
		fmt.Fprintf(os.Stderr,
			"\nUpdate available: v%s -> v%s\nRun: taskdeck update\nRelease: %s\n\n",
			result.CurrentVersion, result.LatestVersion, result.ReleaseURL)
	}
}

// runUpdate replaces the installed binary with the latest release.
func runUpdate() error {
	result := updater.Check(mcpserver.Version)
	if !result.UpdateAvailable {
		fmt.Fprintf(os.Stderr, "Already at the latest version (v%s)\n", result.CurrentVersion)
		return nil
	}

	fmt.Fprintf(os.Stderr, "Updating v%s -> v%s...\n", result.CurrentVersion, result.LatestVersion)
	if err := updater.SelfUpdate(mcpserver.Version); err != nil {
		return fmt.Errorf("update failed (download manually from %s): %w", result.ReleaseURL, err)
	}
	fmt.Fprintf(os.Stderr, "Updated to v%s. Restart taskdeck to use it.\n", result.LatestVersion)
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Taskdeck v%s — todo backend with an AI assistant

Usage:
  taskdeck serve     Start the HTTP API
  taskdeck mcp       Start the MCP server (stdio transport)
  taskdeck migrate   Apply the database schema and exit
  taskdeck token     Mint a dev JWT: taskdeck token <user_id> <email>
  taskdeck update    Update the binary to the latest release

Configuration (environment or .env):
  DATABASE_URL         Postgres DSN, or a sqlite: / *.db path
  BETTER_AUTH_SECRET   JWT signing secret (min 32 chars)
  PORT, HOST           Listen address (default 0.0.0.0:8000)
  FRONTEND_URL         Allowed CORS origin
  AI_BASE_URL          OpenAI-compatible endpoint for chat
  AI_API_KEY           API key for the endpoint
  AI_MODEL             Model name
  VALKEY_URL           Enables the chat rate limiter
  CHAT_TIMEOUT         Per-turn deadline (default 30s)

MCP configuration for AI tools:

  {
    "mcpServers": {
      "taskdeck": {
        "command": "taskdeck",
        "args": ["mcp"]
      }
    }
  }
`, mcpserver.Version)
}
