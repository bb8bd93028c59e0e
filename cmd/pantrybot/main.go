// PantryBot is a conversational meal-planning assistant.
//
// It serves a WebSocket endpoint that chat front-ends connect to. User
// messages are answered by an Anthropic model with access to the
// family's Grocy pantry inventory, Spoonacular recipe search, and a
// local store of saved recipes. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	pantrybot serve          Start the WebSocket server
//	pantrybot version        Print version and build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pantrybot/pantrybot/internal/agent"
	"github.com/pantrybot/pantrybot/internal/buildinfo"
	"github.com/pantrybot/pantrybot/internal/config"
	"github.com/pantrybot/pantrybot/internal/events"
	"github.com/pantrybot/pantrybot/internal/gateway"
	"github.com/pantrybot/pantrybot/internal/grocy"
	"github.com/pantrybot/pantrybot/internal/llm"
	"github.com/pantrybot/pantrybot/internal/prompts"
	"github.com/pantrybot/pantrybot/internal/recipes"
	"github.com/pantrybot/pantrybot/internal/session"
	"github.com/pantrybot/pantrybot/internal/spoonacular"
	"github.com/pantrybot/pantrybot/internal/tools"
)

// main constructs the OS-level environment and delegates to [run] so the
// full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, and our surface is two flags
// and two commands.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		info := buildinfo.Info()
		fmt.Fprintln(stdout, buildinfo.String())
		for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
			if v, ok := info[k]; ok {
				fmt.Fprintf(stdout, "  %-12s %s\n", k+":", v)
			}
		}
		return nil
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "PantryBot - Conversational Meal Planning Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: pantrybot [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve      Start the WebSocket server")
	fmt.Fprintln(w, "  version    Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/pantrybot/config.yaml, /etc/pantrybot/config.yaml")
	return nil
}

// runServe handles the "pantrybot serve" subcommand: load config, build
// the backend clients and tool registry, start the WebSocket server, and
// block until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting PantryBot", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	// Secrets like API keys usually live in a .env file next to the
	// config. A missing file is fine.
	if err := godotenv.Load(); err == nil {
		logger.Debug("environment loaded from .env")
	}

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "model", cfg.Anthropic.Model)

	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Anthropic.APIKey == "" {
		return errors.New("anthropic api_key is required: set it in config.yaml or as ANTHROPIC_API_KEY in .env")
	}

	// --- Model client ---
	model := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)
	{
		pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := model.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Warn("anthropic API not reachable at startup", "error", err)
		}
	}

	// --- Pantry backend ---
	// Optional. Without it, pantry and shopping list tools report that
	// they are not configured rather than failing the whole assistant.
	var grocyClient *grocy.Client
	if cfg.Grocy.URL != "" && cfg.Grocy.APIKey != "" {
		grocyClient = grocy.NewClient(cfg.Grocy.URL, cfg.Grocy.APIKey, cfg.Grocy.InsecureTLS, logger)
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := grocyClient.Ping(pingCtx); err != nil {
			logger.Warn("grocy not reachable at startup", "url", cfg.Grocy.URL, "error", err)
		} else {
			logger.Info("connected to Grocy", "url", cfg.Grocy.URL)
		}
		cancel()
	} else {
		logger.Warn("grocy not configured - pantry tools will be limited")
	}

	// --- Recipe search backend ---
	var spoonClient *spoonacular.Client
	if cfg.Spoonacular.APIKey != "" {
		spoonClient = spoonacular.NewClient(cfg.Spoonacular.URL, cfg.Spoonacular.APIKey, logger)
		logger.Info("spoonacular configured")
	} else {
		logger.Warn("spoonacular not configured - recipe search unavailable")
	}

	// --- Saved recipes ---
	recipeStore, err := recipes.NewStore(cfg.RecipeDir)
	if err != nil {
		return fmt.Errorf("open recipe store %s: %w", cfg.RecipeDir, err)
	}
	logger.Info("recipe store opened", "dir", recipeStore.Dir())

	registry := tools.NewRegistry(grocyClient, spoonClient, recipeStore)
	logger.Info("tools registered", "count", len(registry.Descriptors()))

	// --- Event bus ---
	// Internal observability. The logging subscriber turns bus traffic
	// into debug logs; drops under load never block publishers.
	bus := events.New()
	eventCh := bus.Subscribe(128)
	go func() {
		for e := range eventCh {
			logger.Debug("event", "source", e.Source, "kind", e.Kind, "data", e.Data)
		}
	}()

	loop := agent.New(model, registry, bus, agent.Config{
		Model:           cfg.Anthropic.Model,
		SystemPrompt:    prompts.BaseSystemPrompt(),
		MaxIterations:   cfg.Chat.MaxIterations,
		HistoryMessages: cfg.Chat.HistoryTurns,
		ModelTimeout:    cfg.Chat.ModelTimeout(),
		ToolTimeout:     cfg.Chat.ToolTimeout(),
	}, logger)

	sessions := session.NewStore()
	gw := gateway.New(sessions, loop, bus, gateway.Config{
		PingInterval: cfg.Chat.PingInterval(),
	}, logger)

	// --- HTTP server ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mux := http.NewServeMux()
	mux.Handle("/ws", gw.Handler(ctx))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":        "ok",
			"version":       buildinfo.Version,
			"uptime":        buildinfo.Uptime().String(),
			"conversations": sessions.Count(),
		})
	})

	addr := net.JoinHostPort(cfg.Listen.Address, fmt.Sprintf("%d", cfg.Listen.Port))
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("PantryBot stopped")
	return nil
}

// newLogger creates a structured text logger writing to w.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}
