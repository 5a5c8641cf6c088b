package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pberezin/tutor/internal/handler"
	appI18n "github.com/pberezin/tutor/internal/i18n"
	"github.com/pberezin/tutor/internal/kb"
	"github.com/pberezin/tutor/internal/llm"
	"github.com/pberezin/tutor/internal/progress"
	"github.com/pberezin/tutor/internal/session"
	"github.com/pberezin/tutor/internal/storage"
	"github.com/pberezin/tutor/internal/tutor"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tutor",
		Short: "Adaptive tutoring server powered by LLMs",
	}

	serve := serveCmd()
	root.AddCommand(serve, historyCmd(), kbCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `tutor --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP tutoring server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addStorageFlags(cmd)
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.StringP("lang", "l", "en", "Message language (en, ru)")
	f.Int("plan-topics", 5, "Maximum topics per study plan")
	f.IntP("quiz-questions", "n", 4, "Questions per quiz")
	f.Float64("mastery-threshold", 0.8, "Score and mastery level required to master a topic")
	f.Float64("mastery-alpha", 0.6, "Weight of the latest attempt in the mastery update")
	f.Int("max-review-cycles", 2, "Review passes before a topic is skipped on replan")
	f.String("access-code", "", "Shared access code (or set TUTOR_ACCESS_CODE; empty disables auth)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	addLoggingFlags(cmd)
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a user's learning history as JSON",
		RunE:  runHistory,
	}
	f := cmd.Flags()
	addStorageFlags(cmd)
	f.StringP("user", "u", "", "User ID (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLoggingFlags(cmd)

	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func kbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb-setup",
		Short: "Index reference documents into a vector store",
		RunE:  runKBSetup,
	}
	f := cmd.Flags()
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("kb-name", "tutor", "Vector store name")
	f.StringP("docs", "D", "docs", "Directory with reference documents")
	addLoggingFlags(cmd)
	return cmd
}

func addStorageFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("backend", "b", "json", "Progress storage backend (json, sqlite)")
	f.String("data-dir", "data", "Directory for JSON user records (json backend)")
	f.String("db", "tutor.db", "SQLite database path (sqlite backend)")
}

func addLoggingFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("TUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("tutor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/tutor")
	v.AddConfigPath("/etc/tutor")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openBackend picks the progress storage backend from config.
func openBackend(v *viper.Viper) (storage.Backend, error) {
	switch backend := strings.ToLower(v.GetString("backend")); backend {
	case "json":
		return storage.NewDocumentStore(v.GetString("data-dir"))
	case "sqlite":
		return storage.NewSQLiteStore(v.GetString("db"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q (json, sqlite)", backend)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	backend, err := openBackend(v)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	store := progress.NewStore(backend)
	defer store.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	policy := session.Policy{
		MasteryThreshold: v.GetFloat64("mastery-threshold"),
		Alpha:            v.GetFloat64("mastery-alpha"),
		MaxReviewCycles:  v.GetInt("max-review-cycles"),
	}
	if policy.MasteryThreshold <= 0 || policy.MasteryThreshold > 1 {
		return fmt.Errorf("mastery-threshold %v outside (0, 1]", policy.MasteryThreshold)
	}
	if policy.Alpha <= 0 || policy.Alpha > 1 {
		return fmt.Errorf("mastery-alpha %v outside (0, 1]", policy.Alpha)
	}

	llmClient := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
	)

	engine := session.NewEngine(store, policy)
	svc := tutor.NewService(engine, llmClient, tutor.Options{
		TopicCount:    v.GetInt("plan-topics"),
		QuestionCount: v.GetInt("quiz-questions"),
	})

	cfg := handler.Config{SecureCookies: v.GetBool("secure-cookies")}
	if code := v.GetString("access-code"); code != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash access code: %w", err)
		}
		cfg.AccessCodeHash = string(hash)
	} else {
		slog.Warn("no access code configured, API is open")
	}

	h := handler.New(svc, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"backend", v.GetString("backend"),
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"plan_topics", v.GetInt("plan-topics"),
		"quiz_questions", v.GetInt("quiz-questions"),
		"mastery_threshold", policy.MasteryThreshold,
		"mastery_alpha", policy.Alpha,
		"max_review_cycles", policy.MaxReviewCycles,
	)
	return http.ListenAndServe(addr, r)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	backend, err := openBackend(v)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	store := progress.NewStore(backend)
	defer store.Close()

	history, err := store.LearningHistory(v.GetString("user"))
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	data, err := json.MarshalIndent(map[string]any{
		"user_id":    v.GetString("user"),
		"objectives": history,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

func runKBSetup(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	client := kb.New(v.GetString("llm-url"), v.GetString("llm-key"))
	handle, err := client.Setup(context.Background(), v.GetString("kb-name"), v.GetString("docs"))
	if err != nil {
		return fmt.Errorf("set up knowledge base: %w", err)
	}

	data, err := json.MarshalIndent(handle, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
