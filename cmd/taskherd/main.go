// Taskherd is a conversational task manager.
//
// It exposes an authenticated HTTP API that turns free-form chat
// messages into task-list changes through an LLM tool-calling loop.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	taskherd serve             Start the API server
//	taskherd init [dir]        Initialize a working directory with defaults
//	taskherd ask <message>     Run a single turn locally (for testing)
//	taskherd token <secret>    Print the bcrypt hash for a config token entry
//	taskherd version           Print version and build information
//	taskherd -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/taskherd/taskherd/internal/agent"
	"github.com/taskherd/taskherd/internal/api"
	"github.com/taskherd/taskherd/internal/buildinfo"
	"github.com/taskherd/taskherd/internal/catalog"
	"github.com/taskherd/taskherd/internal/config"
	"github.com/taskherd/taskherd/internal/connwatch"
	"github.com/taskherd/taskherd/internal/convo"
	"github.com/taskherd/taskherd/internal/gateway"
	"github.com/taskherd/taskherd/internal/identity"
	"github.com/taskherd/taskherd/internal/llm"
	"github.com/taskherd/taskherd/internal/taskstore"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run]. This keeps os.Exit, os.Stdout, and
// os.Args out of the application logic so the full startup-to-shutdown
// lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the taskherd command. Arguments are
// parsed by hand; the flag package relies on package-level globals
// which interfere with calling run() concurrently from tests, and the
// argument surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: taskherd ask <message>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "token":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: taskherd token <secret>")
		}
		return runToken(stdout, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// runToken prints the bcrypt hash of a token secret, for pasting into
// the auth.tokens section of the config file.
func runToken(w io.Writer, secret string) error {
	hash, err := identity.HashToken(secret)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}
	fmt.Fprintln(w, hash)
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Taskherd - Conversational Task Manager")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: taskherd [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve           Start the API server")
	fmt.Fprintln(w, "  init [dir]      Initialize a working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask <message>   Run a single turn locally (for testing)")
	fmt.Fprintln(w, "  token <secret>  Print the bcrypt hash for a config token entry")
	fmt.Fprintln(w, "  version         Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/taskherd/config.yaml, /etc/taskherd/config.yaml")
	return nil
}

// runAsk handles the "taskherd ask <message>" subcommand. It boots the
// full loop against the configured data directory and runs one turn as
// a fixed local user, printing the answer to stdout. Useful for smoke
// tests without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	message := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	tasks, err := taskstore.Open(filepath.Join(cfg.DataDir, "tasks.db"))
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer tasks.Close()

	conversations, err := convo.Open(filepath.Join(cfg.DataDir, "conversations.db"))
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer conversations.Close()

	llmClient, _ := createLLMClient(cfg, logger)
	cat := catalog.Default()
	gw := gateway.New(cat, tasks, logger)
	loop := agent.NewLoop(logger, llmClient, gw, conversations, cat, loopConfig(cfg))

	res, err := loop.Process(ctx, "local", "local", message, nil)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, res.Answer)
	return nil
}

// runServe handles the "taskherd serve" subcommand. It loads config,
// opens the task and conversation databases, builds the agent loop,
// starts the API server, and blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Taskherd", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger only covers the startup
	// banner and config errors.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by config.Validate().
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"ollama_url", cfg.Models.OllamaURL,
	)

	if len(cfg.Auth.Tokens) == 0 {
		logger.Warn("no auth tokens configured, every request will be rejected")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	tasks, err := taskstore.Open(filepath.Join(cfg.DataDir, "tasks.db"))
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer tasks.Close()
	logger.Info("task database opened", "path", filepath.Join(cfg.DataDir, "tasks.db"))

	conversations, err := convo.Open(filepath.Join(cfg.DataDir, "conversations.db"))
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer conversations.Close()

	llmClient, ollamaClient := createLLMClient(cfg, logger)

	// Background health monitoring for the model backend. The server
	// keeps running through an outage; turns fail fast with a model
	// error until the backend comes back.
	connMgr := connwatch.NewManager(logger)
	defer connMgr.Stop()
	connMgr.Watch(ctx, connwatch.WatcherConfig{
		Name:    "model-backend",
		Probe:   func(pCtx context.Context) error { return llmClient.Ping(pCtx) },
		Backoff: connwatch.DefaultBackoffConfig(),
		Logger:  logger,
		OnReady: func() { checkDefaultModel(ctx, logger, cfg, ollamaClient) },
	})

	cat := catalog.Default()
	gw := gateway.New(cat, tasks, logger)
	loop := agent.NewLoop(logger, llmClient, gw, conversations, cat, loopConfig(cfg))
	auth := identity.NewStaticAuthenticator(cfg.Auth.Tokens)

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, loop, conversations, cat, auth, llmClient, logger)
	server.SetStatusSource(connMgr.Status)

	// Serve until a signal arrives, then drain in-flight requests.
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(sigCtx)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-sigCtx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func loopConfig(cfg *config.Config) agent.Config {
	return agent.Config{
		Model:         cfg.Models.Default,
		MaxIterations: cfg.Agent.MaxIterations,
		HistoryLimit:  cfg.Agent.HistoryLimit,
		ModelTimeout:  cfg.Agent.ModelTimeout(),
		ToolTimeout:   cfg.Agent.ToolTimeout(),
	}
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// createLLMClient builds a multi-provider client from the config. Each
// listed model maps to its provider; unmapped models fall through to
// Ollama. The Ollama client is also returned separately for backend
// introspection such as the model listing check.
func createLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, *llm.OllamaClient) {
	ollamaClient := llm.NewOllamaClient(cfg.Models.OllamaURL)
	multi := llm.NewMultiClient(ollamaClient)
	multi.AddProvider("ollama", ollamaClient)

	if cfg.Anthropic.Configured() {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		logger.Info("Anthropic provider configured")
	}

	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}

	return multi, ollamaClient
}

// checkDefaultModel warns when the configured default model has not
// been pulled on the Ollama backend. Models served by other providers
// have no listing to check against and are skipped.
func checkDefaultModel(ctx context.Context, logger *slog.Logger, cfg *config.Config, ollama *llm.OllamaClient) {
	if modelProvider(cfg, cfg.Models.Default) != "ollama" {
		return
	}

	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	models, err := ollama.ListModels(listCtx)
	if err != nil {
		logger.Debug("list ollama models failed", "error", err)
		return
	}

	if !modelListed(models, cfg.Models.Default) {
		logger.Warn("default model not present on ollama backend, pull it before serving traffic",
			"model", cfg.Models.Default,
			"available", len(models),
		)
	}
}

// modelProvider resolves which provider serves a model name. Models not
// listed in the config fall through to ollama.
func modelProvider(cfg *config.Config, name string) string {
	for _, m := range cfg.Models.Available {
		if m.Name == name {
			return m.Provider
		}
	}
	return "ollama"
}

// modelListed matches a configured model name against the backend's
// tag list. Ollama reports "name:tag"; a configured name without a tag
// matches any tag of that model.
func modelListed(models []string, name string) bool {
	for _, m := range models {
		if m == name {
			return true
		}
		if !strings.Contains(name, ":") && strings.HasPrefix(m, name+":") {
			return true
		}
	}
	return false
}
