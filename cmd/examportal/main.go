package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/examportal/internal/events"
	"github.com/pavelanni/examportal/internal/handler"
	appI18n "github.com/pavelanni/examportal/internal/i18n"
	"github.com/pavelanni/examportal/internal/identity"
	"github.com/pavelanni/examportal/internal/llm"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
	"github.com/pavelanni/examportal/internal/sweeper"
	"github.com/pavelanni/examportal/internal/tracker"
)

func main() {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examportal",
		Short: "Online exam portal with automated grading",
	}

	serve := serveCmd()
	root.AddCommand(serve, seedCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examportal --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// addStoreFlags registers the backend selection shared by all commands.
func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("store", store.BackendSQLite, "Record store backend (sqlite, postgres, redis)")
	f.String("db", "examportal.db", "SQLite path, Postgres DSN or redis:// URL")
	f.String("redis-namespace", "examportal", "Key prefix for the redis backend")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Fallback language for messages (en, ru)")
	f.Bool("allow-signup", false, "Allow students to sign up without an admin")
	f.StringSlice("cors-origins", nil, "Allowed browser origins (repeatable)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("token-mode", "opaque", "Session token mode (opaque, jwt)")
	f.String("jwt-secret", "", "HMAC secret for jwt token mode, at least 32 bytes")
	f.Duration("submit-grace", tracker.DefaultGrace, "Tolerance past an exam deadline")
	f.String("sweep-schedule", sweeper.DefaultSchedule, "Cron schedule of the overdue attempt sweep (empty disables it)")
	f.String("amqp-url", "", "AMQP broker URL for domain events (empty disables publishing)")
	f.String("amqp-exchange", events.DefaultExchange, "AMQP topic exchange")
	f.Bool("live-monitoring", true, "Serve the WebSocket monitoring feed")
	f.String("llm-url", "", "OpenAI-compatible API base URL (empty disables review suggestions)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(llm.VariantStandard), "Review prompt variant (strict, standard, lenient)")
	f.String("admin-email", "admin@localhost", "Email of the initial admin account")
	f.String("admin-password", "", "Initial admin password (or set EXAMPORTAL_ADMIN_PASSWORD)")
	return cmd
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

	v.SetEnvPrefix("EXAMPORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examportal")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examportal")
	v.AddConfigPath("/etc/examportal")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	s, err := store.Open(ctx, store.Config{
		Backend:   strings.ToLower(v.GetString("store")),
		DSN:       v.GetString("db"),
		Namespace: v.GetString("redis-namespace"),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", v.GetString("store"), err)
	}
	return s, nil
}

func tokensFor(v *viper.Viper, s *store.Store) (identity.Tokens, error) {
	switch mode := strings.ToLower(v.GetString("token-mode")); mode {
	case "opaque", "":
		return identity.NewOpaqueTokens(s), nil
	case "jwt":
		return identity.NewJWTTokens(s, v.GetString("jwt-secret"), 0)
	default:
		return nil, fmt.Errorf("unknown token mode %q", mode)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	tokens, err := tokensFor(v, db)
	if err != nil {
		return err
	}
	ids := identity.NewService(db, tokens)

	if err := seedAdmin(ctx, db, ids, v.GetString("admin-email"), v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	origins := v.GetStringSlice("cors-origins")
	pub := events.Multi{events.Log{}}
	if url := v.GetString("amqp-url"); url != "" {
		broker, err := events.DialAMQP(url, v.GetString("amqp-exchange"))
		if err != nil {
			return fmt.Errorf("connect event broker: %w", err)
		}
		defer broker.Close()
		pub = append(pub, broker)
		slog.Info("publishing events", "exchange", v.GetString("amqp-exchange"))
	}
	var hub *events.Hub
	if v.GetBool("live-monitoring") {
		hub = events.NewHub(originChecker(origins))
		defer hub.Close()
		pub = append(pub, hub)
	}

	grace := v.GetDuration("submit-grace")
	tr := tracker.New(db, pub, tracker.WithGrace(grace))

	var sweep *sweeper.Sweeper
	if schedule := v.GetString("sweep-schedule"); schedule != "" {
		sweep, err = sweeper.New(tr, db, schedule)
		if err != nil {
			return err
		}
		sweep.Start()
		defer sweep.Stop()
	}

	// Assigned only when configured so the handler sees a nil interface.
	var suggester handler.Suggester
	if url := v.GetString("llm-url"); url != "" {
		variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
		if !llm.IsValidVariant(variant) {
			slog.Warn("invalid prompt-variant, using standard", "variant", variant)
			variant = string(llm.VariantStandard)
		}
		suggester = llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), llm.Variant(variant))
		slog.Info("review assistant enabled", "url", url, "model", v.GetString("llm-model"), "variant", variant)
	}

	cfg := model.PortalConfig{
		Lang:          lang,
		AllowSignup:   v.GetBool("allow-signup"),
		SubmitGrace:   grace,
		CORSOrigins:   origins,
		SecureCookies: v.GetBool("secure-cookies"),
	}
	h := handler.New(handler.Deps{
		Store:     db,
		Tracker:   tr,
		Identity:  ids,
		Publisher: pub,
		Hub:       hub,
		LLM:       suggester,
	}, cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type", "X-Requested-With"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"store", v.GetString("store"),
		"token_mode", v.GetString("token-mode"),
		"lang", lang,
		"allow_signup", cfg.AllowSignup,
		"submit_grace", grace,
		"sweep_schedule", v.GetString("sweep-schedule"),
		"live_monitoring", hub != nil,
	)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// originChecker accepts WebSocket upgrades from the configured CORS origins.
// With none configured the hub keeps its same-origin default.
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin) || slices.Contains(origins, "*")
	}
}

func seedAdmin(ctx context.Context, db *store.Store, ids *identity.Service, email, password string) error {
	count, err := db.UserCount(ctx, model.UserRoleAdmin)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or EXAMPORTAL_ADMIN_PASSWORD env var")
	}
	return ids.EnsureAdmin(ctx, email, password)
}
