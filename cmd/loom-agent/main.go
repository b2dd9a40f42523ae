// ABOUTME: Entry point for the loom conversational agent
// ABOUTME: Interactive chat REPL over the orchestrator with thread commands

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/orchestrator"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/internal/tools"
)

// version is set at build time via -ldflags.
var version = "dev"

const banner = `
 _
| | ___   ___  _ __ ___
| |/ _ \ / _ \| '_ ' _ \
| | (_) | (_) | | | | | |
|_|\___/ \___/|_| |_| |_|
`

// getConfigPath returns the path to the agent config file.
// Priority: LOOM_CONFIG env var > XDG_CONFIG_HOME/loom/agent.yaml > ~/.config/loom/agent.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LOOM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "agent.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "loom", "agent.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: loom-agent <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  chat               Start an interactive chat session")
		fmt.Println("  threads            List conversation threads")
		fmt.Println("  delete <id>        Delete a thread and its messages")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "chat":
		err = runChat(ctx)
	case "threads":
		err = runThreads(ctx)
	case "delete":
		err = runDelete(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildOrchestrator wires the store, tool catalog, and completion client.
func buildOrchestrator(logger *slog.Logger, cfg *config.Config) (*orchestrator.Orchestrator, *store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	client := llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	catalog := tools.NewCatalog(logger)

	orch := orchestrator.New(st, catalog, client, cfg.LLM.SystemPrompt, logger)

	if cfg.Tools.NotesEnabled {
		catalog.AddProvider(tools.NewNotesProvider(st, orch.Session().ActiveThread))
	}

	return orch, st, nil
}

func runChat(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Model:    %s\n", cfg.LLM.Model)
	fmt.Println()

	orch, st, err := buildOrchestrator(logger, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	return repl(ctx, orch)
}

func repl(ctx context.Context, orch *orchestrator.Orchestrator) error {
	scanner := bufio.NewScanner(os.Stdin)
	assistant := color.New(color.FgCyan)

	for {
		if id := orch.Session().ActiveThread(); id != "" {
			fmt.Printf("[%s]> ", shortID(id))
		} else {
			fmt.Print("> ")
		}

		// Read input with context awareness
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			done, err := handleCommand(ctx, orch, input)
			if err != nil {
				fmt.Printf("[error] %v\n", err)
			}
			if done {
				return nil
			}
			fmt.Println()
			continue
		}

		result, err := orch.Chat(ctx, input, "")
		if err != nil {
			fmt.Printf("[error] %v\n", err)
			fmt.Println()
			continue
		}
		assistant.Println(result.Response)
		fmt.Println()
	}
}

// handleCommand processes one slash command. Returns done=true on /quit.
func handleCommand(ctx context.Context, orch *orchestrator.Orchestrator, input string) (bool, error) {
	cmd, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help":
		printHelp()
		return false, nil

	case "/threads":
		threads, err := orch.ListThreads(ctx)
		if err != nil {
			return false, err
		}
		if len(threads) == 0 {
			fmt.Println("No threads yet")
			return false, nil
		}
		for _, t := range threads {
			title := t.Title
			if title == "" {
				title = "(untitled)"
			}
			marker := " "
			if t.ID == orch.Session().ActiveThread() {
				marker = "*"
			}
			fmt.Printf("%s %s  %s  %s\n", marker, shortID(t.ID), t.UpdatedAt.Local().Format("2006-01-02 15:04"), title)
		}
		return false, nil

	case "/new":
		id, err := orch.CreateThread(ctx, args)
		if err != nil {
			return false, err
		}
		fmt.Printf("Started thread %s\n", shortID(id))
		return false, nil

	case "/load":
		if args == "" {
			return false, fmt.Errorf("usage: /load <thread-id>")
		}
		found, err := orch.LoadThread(ctx, args)
		if err != nil {
			return false, err
		}
		if !found {
			fmt.Printf("Thread %s not found\n", args)
			return false, nil
		}
		fmt.Printf("Loaded thread %s (%d messages)\n", shortID(args), orch.Session().Len())
		return false, nil

	case "/rename":
		if args == "" {
			return false, fmt.Errorf("usage: /rename <title>")
		}
		id := orch.Session().ActiveThread()
		if id == "" {
			return false, fmt.Errorf("no active thread")
		}
		return false, orch.RenameThread(ctx, id, args)

	case "/delete":
		if args == "" {
			return false, fmt.Errorf("usage: /delete <thread-id>")
		}
		if err := orch.DeleteThread(ctx, args); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				fmt.Printf("Thread %s not found\n", args)
				return false, nil
			}
			return false, err
		}
		fmt.Printf("Deleted thread %s\n", shortID(args))
		return false, nil

	case "/history":
		for _, m := range orch.Session().History() {
			prefix := m.Role
			if m.Role == store.RoleTool {
				prefix = "tool:" + shortID(m.ToolCallID)
			}
			fmt.Printf("[%s] %s\n", prefix, truncate(m.Content, 120))
			for _, tc := range m.ToolCalls {
				fmt.Printf("  → %s(%s)\n", tc.Name, truncate(tc.ArgumentsJSON, 80))
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s", cmd)
	}
}

// printHelp displays available commands.
func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /threads           List threads, most recent first")
	fmt.Println("  /new [title]       Start a new thread")
	fmt.Println("  /load <id>         Resume an existing thread")
	fmt.Println("  /rename <title>    Rename the active thread")
	fmt.Println("  /delete <id>       Delete a thread and its messages")
	fmt.Println("  /history           Show the active thread's messages")
	fmt.Println("  /help              Show this help")
	fmt.Println("  /quit              Exit")
}

func runThreads(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format})
	slog.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	threads, err := st.ListThreads(ctx, 0)
	if err != nil {
		return err
	}
	if len(threads) == 0 {
		fmt.Println("No threads yet")
		return nil
	}
	for _, t := range threads {
		title := t.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %s  %s\n", t.ID, t.UpdatedAt.Local().Format("2006-01-02 15:04"), title)
	}
	return nil
}

func runDelete(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: loom-agent delete <thread-id>")
	}
	threadID := os.Args[2]

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format})
	slog.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := st.DeleteThread(ctx, threadID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("thread %s not found", threadID)
		}
		return err
	}
	fmt.Printf("Deleted thread %s\n", threadID)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(os.Stderr, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level: h.level,
		attrs: newAttrs,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	// Groups are not used by this binary's loggers
	return h
}

// shortID abbreviates a uuid for display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
