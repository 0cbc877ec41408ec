// Studywithme is a study assistant: it answers a learner's questions
// with a language model, keeps a short per-user conversation history,
// and can consult a course syllabus (or a web page) before answering.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]); a missing or broken
// file falls back to the built-in defaults.
//
// Usage:
//
//	studywithme serve                 Start the HTTP API
//	studywithme init [dir]            Create a workspace with an example config
//	studywithme ask <question>        Ask a single question
//	studywithme version               Print version and build information
//	studywithme -o json version       Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nugget/studywithme/internal/agent"
	"github.com/nugget/studywithme/internal/api"
	"github.com/nugget/studywithme/internal/buildinfo"
	"github.com/nugget/studywithme/internal/config"
	"github.com/nugget/studywithme/internal/fetch"
	"github.com/nugget/studywithme/internal/history"
	"github.com/nugget/studywithme/internal/kvstore"
	"github.com/nugget/studywithme/internal/llm"
	"github.com/nugget/studywithme/internal/mqtt"
	"github.com/nugget/studywithme/internal/tools"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates to [run], so the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; usage and
// fatal errors go to stderr. The flag set is built here rather than at
// package level so tests can call run concurrently.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	fs := pflag.NewFlagSet("studywithme", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)

	var (
		configPath string
		outputFmt  string
		userID     string
	)
	fs.StringVar(&configPath, "config", "", "path to config file (default: auto-discover)")
	fs.StringVarP(&outputFmt, "output", "o", "text", "output format: text or json")
	fs.StringVarP(&userID, "user", "u", "", "user ID for ask (default: history.default_user_id)")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stdout, fs)
		return nil
	}

	switch command, cmdArgs := rest[0], rest[1:]; command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: studywithme ask <question>")
		}
		return runAsk(ctx, stdout, configPath, userID, outputFmt, strings.Join(cmdArgs, " "))
	case "version":
		return runVersion(stdout, outputFmt)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "studywithme - a study assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: studywithme [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the HTTP API")
	fmt.Fprintln(w, "  init [dir]   Create a workspace with an example config (default: .)")
	fmt.Fprintln(w, "  ask          Ask a single question")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
}

// runAsk answers one question against an in-memory store and prints
// the answer. A failed exchange still prints the apology, then returns
// the error.
func runAsk(ctx context.Context, stdout io.Writer, configPath, userID, outputFmt, question string) error {
	cfg := loadConfig(configPath, newLogger(stdout, slog.LevelWarn, "text"))
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	if level == slog.LevelInfo {
		// stdout carries the answer; only debug and trace add noise to it.
		level = slog.LevelWarn
	}
	logger := newLogger(stdout, level, cfg.LogFormat)

	kv := kvstore.NewMemoryStore()
	defer kv.Close()

	orch, _, err := buildAgent(cfg, kv, nil, logger)
	if err != nil {
		return err
	}

	res, err := orch.Respond(ctx, userID, question)
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(api.ChatResponse{UserID: res.UserID, Query: res.Query, Response: res.Answer}); encErr != nil {
			return encErr
		}
	} else {
		fmt.Fprintln(stdout, res.Answer)
	}
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	return nil
}

// runServe loads config, opens the session store, starts the optional
// MQTT publisher and serves the HTTP API until SIGINT or SIGTERM.
//
// The shutdown sequence is:
//  1. The signal cancels ctx, which also cancels in-flight exchanges
//  2. The MQTT publisher announces "offline" and disconnects
//  3. The HTTP server drains and the store is closed via defers
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting studywithme", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg := loadConfig(configPath, logger)

	// Reconfigure logger now that we know the desired level and format.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = newLogger(stdout, level, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kv, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	if sw, ok := kv.(kvstore.Sweeper); ok {
		go kvstore.RunJanitor(ctx, sw, cfg.Store.SweepInterval, logger)
	}

	observers := agent.MultiObserver{agent.LogObserver{Logger: logger}}
	var pub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		pub = mqtt.New(cfg.MQTT, logger)
		observers = append(observers, pub)
		go func() {
			if err := pub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "topic_prefix", cfg.MQTT.TopicPrefix)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	orch, store, err := buildAgent(cfg, kv, observers, logger)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, orch, store, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if pub != nil {
			if err := pub.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("studywithme stopped")
	return nil
}

// buildAgent assembles the history store, the tool registry and the
// generator chain (provider, circuit breaker, single-flight) around kv.
func buildAgent(cfg *config.Config, kv kvstore.Store, observer agent.Observer, logger *slog.Logger) (*agent.Orchestrator, *history.Store, error) {
	ttl := cfg.History.TTL
	if ttl == 0 {
		ttl = -1 // history.ttl: 0 keeps sessions forever
	}
	store := history.NewStore(kv, history.Options{
		MaxTurns:    cfg.History.MaxTurns,
		TTL:         ttl,
		MaxAttempts: cfg.History.MaxCASAttempts,
		Logger:      logger,
	})

	reg, err := buildTools(cfg.Tools, logger)
	if err != nil {
		return nil, nil, err
	}

	provider, err := llm.New(cfg.LLM.Provider, llm.Options{
		BaseURL:         cfg.LLM.BaseURL,
		APIKey:          cfg.LLM.APIKey,
		Model:           cfg.LLM.Model,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Timeout:         time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		Logger:          logger,
	})
	if err != nil {
		return nil, nil, err
	}
	gen := llm.Serialize(llm.NewBreaker(provider, llm.BreakerOptions{
		Name:        cfg.LLM.Provider,
		MaxFailures: cfg.LLM.Breaker.MaxFailures,
		OpenTimeout: time.Duration(cfg.LLM.Breaker.OpenSec) * time.Second,
		Logger:      logger,
	}))

	logger.Info("agent ready",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"max_turns", cfg.History.MaxTurns,
		"tools", reg.Names(),
	)

	orch := agent.New(store, reg, gen, agent.Options{
		DefaultUserID:  cfg.History.DefaultUserID,
		AnswerLanguage: cfg.Prompt.AnswerLanguage,
		Observer:       observer,
		Logger:         logger,
	})
	return orch, store, nil
}

// buildTools registers get_syllabus and, when enabled, fetch_page.
func buildTools(cfg config.ToolsConfig, logger *slog.Logger) (*tools.Registry, error) {
	lib, err := tools.LoadLibrary(cfg.SyllabusDir)
	if err != nil {
		return nil, fmt.Errorf("load syllabi: %w", err)
	}

	reg := tools.NewRegistry()
	if err := reg.Register(tools.SyllabusTool(lib)); err != nil {
		return nil, err
	}
	if cfg.Fetch.Enabled {
		if err := reg.Register(tools.FetchTool(fetch.New(cfg.Fetch.MaxChars))); err != nil {
			return nil, err
		}
		logger.Debug("fetch_page tool enabled", "max_chars", cfg.Fetch.MaxChars)
	}
	return reg, nil
}

// openStore opens the configured session backend.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (kvstore.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		s, err := kvstore.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		logger.Info("session store opened", "backend", "sqlite", "path", cfg.SQLitePath)
		return s, nil
	case "redis":
		s, err := kvstore.NewRedisStore(ctx, kvstore.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		logger.Info("session store opened", "backend", "redis", "addr", cfg.Redis.Addr)
		return s, nil
	default:
		logger.Info("session store opened", "backend", "memory")
		return kvstore.NewMemoryStore(), nil
	}
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format "json" selects the JSON handler; anything
// else is text.
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

// loadConfig locates and parses the configuration file. It never
// fails: a missing or unreadable file yields [config.Default], and each
// value replaced by a default is logged at warn.
func loadConfig(explicit string, logger *slog.Logger) *config.Config {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		logger.Warn("using default configuration", "reason", err)
		return config.Default()
	}

	cfg, notes, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config unreadable, using defaults", "path", cfgPath, "error", err)
		return config.Default()
	}
	for _, n := range notes {
		logger.Warn("config value replaced", "path", cfgPath, "note", n)
	}
	logger.Info("config loaded", "path", cfgPath)
	return cfg
}
