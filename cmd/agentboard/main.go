package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"agentboard/internal/agentboard/agent"
	"agentboard/internal/agentboard/comments"
	"agentboard/internal/agentboard/config"
	"agentboard/internal/agentboard/credentials"
	"agentboard/internal/agentboard/db"
	ghclient "agentboard/internal/agentboard/github"
	"agentboard/internal/agentboard/orchestrator"
	"agentboard/internal/agentboard/reconciler"
	"agentboard/internal/agentboard/server"
)

var version = "dev"

const defaultAddr = "127.0.0.1:7360"

func usage() {
	fmt.Fprintf(os.Stderr, `agentboard — issue dashboard backed by a remote coding agent

Usage:
  agentboard serve [flags]   Start the HTTP server (default %s)

Flags:
  --addr         Address to listen on (default: %s)
  --agent-url    Override agent API endpoint (env: AGENTBOARD_AGENT_URL)
  --github-url   Override GitHub API endpoint (env: AGENTBOARD_GITHUB_URL)
`, defaultAddr, defaultAddr)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	subcmd := os.Args[1]
	rest := os.Args[2:]

	var err error
	switch subcmd {
	case "serve":
		err = runServe(rest)
	case "--version", "version":
		fmt.Println("agentboard " + version)
		return
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "agentboard %s: %v\n", subcmd, err)
		os.Exit(1)
	}
}

func runServe(args []string) error {
	addr := defaultAddr
	agentURL := os.Getenv("AGENTBOARD_AGENT_URL")
	githubURL := os.Getenv("AGENTBOARD_GITHUB_URL")

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			if i+1 < len(args) {
				addr = args[i+1]
				i++
			}
		case "--agent-url":
			if i+1 < len(args) {
				agentURL = args[i+1]
				i++
			}
		case "--github-url":
			if i+1 < len(args) {
				githubURL = args[i+1]
				i++
			}
		}
	}

	logger := slog.Default()

	// --- 1. Signal handling for graceful shutdown ---
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 2. Open database ---
	dbPath, err := db.DefaultPath()
	if err != nil {
		return fmt.Errorf("determining database path: %w", err)
	}
	database, err := db.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	// --- 3. Load config and credentials ---
	configDir := credentials.DefaultPath()
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	creds, err := credentials.Resolve(configDir)
	if err != nil {
		return fmt.Errorf("resolving credentials: %w", err)
	}

	// --- 4. Create clients ---
	var agentOpts []agent.Option
	if agentURL != "" {
		agentOpts = append(agentOpts, agent.WithEndpoint(agentURL))
	} else if cfg.AgentEndpoint != "" {
		agentOpts = append(agentOpts, agent.WithEndpoint(cfg.AgentEndpoint))
	}
	agentClient := agent.New(creds.AgentAPIKey, agentOpts...)

	var ghOpts []ghclient.Option
	if githubURL != "" {
		ghOpts = append(ghOpts, ghclient.WithBaseURL(githubURL+"/"))
	}
	if creds.HasGithubApp() {
		ghOpts = append(ghOpts, ghclient.WithAppAuth(ghclient.AppCredentials{
			ClientID:       creds.GithubAppClientID,
			InstallationID: creds.GithubAppInstallationID,
			PrivateKeyPath: creds.GithubAppPrivateKeyPath,
		}))
	}
	tracker, err := ghclient.New(creds.GithubToken, ghOpts...)
	if err != nil {
		return fmt.Errorf("creating github client: %w", err)
	}

	// --- 5. WebSocket hub ---
	hub := server.NewHub(logger)

	// --- 6. Comment publisher and orchestrator ---
	publisher := comments.New(comments.Config{
		DB:                     database,
		Tracker:                tracker,
		Owner:                  cfg.Repo.Owner,
		Repo:                   cfg.Repo.Name,
		DisableBlockedComments: cfg.BlockedCommentsDisabled(),
		Logger:                 logger,
	})

	orch := orchestrator.New(orchestrator.Config{
		DB:        database,
		Agent:     agentClient,
		Tracker:   tracker,
		Publisher: publisher,
		Owner:     cfg.Repo.Owner,
		Repo:      cfg.Repo.Name,
		Logger:    logger,
		Notify:    hub.BroadcastSession,
	})

	// --- 7. Reconciliation loop ---
	rec := reconciler.New(reconciler.Config{
		DB:           database,
		Agent:        agentClient,
		Orchestrator: orch,
		Interval:     cfg.PollInterval(),
		Workers:      cfg.Workers,
		Logger:       logger,
	})
	go rec.Run(ctx)

	// --- 8. Start HTTP server ---
	srv, err := server.New(addr, server.Config{
		DB:           database,
		Orchestrator: orch,
		Tracker:      tracker,
		Owner:        cfg.Repo.Owner,
		Repo:         cfg.Repo.Name,
		Hub:          hub,
	})
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	fmt.Fprintf(os.Stderr, "agentboard listening on %s (repo: %s/%s)\n", srv.Addr(), cfg.Repo.Owner, cfg.Repo.Name)
	if agentURL != "" {
		fmt.Fprintf(os.Stderr, "  Agent API: %s\n", agentURL)
	}
	if githubURL != "" {
		fmt.Fprintf(os.Stderr, "  GitHub API: %s\n", githubURL)
	}

	// Serve in a goroutine so we can wait for shutdown signal.
	go func() {
		if err := srv.Serve(); err != nil {
			logger.Debug("server stopped", "error", err)
		}
	}()

	// --- 9. Wait for shutdown ---
	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	srv.Close()

	return nil
}
