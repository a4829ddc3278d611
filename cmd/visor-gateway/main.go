// ABOUTME: Entry point for the visor-gateway server
// ABOUTME: Wires config, stores, providers, and the HTTP surface; serve and version commands

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/visor-gateway/internal/agenttask"
	"github.com/2389/visor-gateway/internal/auth"
	"github.com/2389/visor-gateway/internal/codehost"
	"github.com/2389/visor-gateway/internal/command"
	"github.com/2389/visor-gateway/internal/config"
	"github.com/2389/visor-gateway/internal/gateway"
	"github.com/2389/visor-gateway/internal/kv"
	"github.com/2389/visor-gateway/internal/metrics"
	"github.com/2389/visor-gateway/internal/notify"
	"github.com/2389/visor-gateway/internal/pending"
	"github.com/2389/visor-gateway/internal/profile"
	"github.com/2389/visor-gateway/internal/secrets"
	"github.com/2389/visor-gateway/internal/session"
	"github.com/2389/visor-gateway/internal/speech"
	"github.com/2389/visor-gateway/internal/store"
	"github.com/2389/visor-gateway/internal/webhook"
)

// version defaults to "dev"; a release build overrides it with
// -ldflags "-X main.version=...".
var version = "dev"

const banner = `
        _                                  _
 __   _(_)___  ___  _ __ ___ __ _ __ _ ___| |___ __ ____ _ _  _
 \ \ / / (_-< / _ \| '_|___/ _' / _' |_ / _   / -_) V  V / _' | || |
  \_V_/_/__/ \___/|_|     \__, \__,_/__\___|_\___|\_/\_/\__,_|\_, |
                          |___/                               |__/
`

// getConfigPath returns the path to the gateway config file.
// Priority: VISOR_CONFIG env var > XDG_CONFIG_HOME/visor/gateway.yaml > ~/.config/visor/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("VISOR_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "visor", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: visor-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the gateway server")
		fmt.Println("  version   Print the version")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := serve(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Println("visor-gateway", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
}

// setupLogger configures the process-wide slog default.
func setupLogger(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func serve() error {
	// Developer setups keep secrets in a .env next to the binary.
	_ = godotenv.Load()

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return err
	}
	setupLogger(cfg.Logging)
	logger := slog.Default()

	color.Cyan(banner)
	color.Green("visor-gateway %s", version)

	resolver := secrets.NewResolver()

	// KV backend: pending actions, sessions, profiles, idempotency.
	var kvStore kv.Store
	switch cfg.KV.Backend {
	case "network":
		redisPassword, err := resolver.Resolve(cfg.KV.RedisPassword)
		if err != nil && cfg.KV.RedisPassword != "" {
			return fmt.Errorf("resolving redis password: %w", err)
		}
		primary, err := kv.NewRedis(context.Background(), cfg.KV.RedisAddr, redisPassword)
		if err != nil {
			logger.Warn("redis unavailable at startup, degrading to in-process KV", "error", err)
			kvStore = kv.NewMemory()
		} else {
			kvStore = kv.NewFallback(primary, logger)
		}
	default:
		kvStore = kv.NewMemory()
	}
	defer kvStore.Close()

	// Durable store.
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// Seed write-deny policies.
	for _, repo := range cfg.Policies.DenyWrite {
		if err := st.SaveRepoPolicy(context.Background(), &store.RepoPolicy{
			UserID: "*", RepoFullName: repo, AllowWrite: false,
		}); err != nil {
			return fmt.Errorf("seeding policy for %s: %w", repo, err)
		}
	}

	// Profile thresholds from config.
	for name, threshold := range cfg.Notifications.Thresholds {
		profile.SetThreshold(name, threshold)
	}

	// Speech providers.
	var (
		stt speech.Transcriber
		tts speech.Synthesizer
	)
	stub := speech.NewStub()
	stt, tts = stub, stub
	if cfg.Speech.STTProvider == "openai" || cfg.Speech.TTSProvider == "openai" {
		apiKey, err := resolver.Resolve(cfg.Speech.OpenAIAPIKey)
		if err != nil {
			return fmt.Errorf("resolving openai api key: %w", err)
		}
		openAI := speech.NewOpenAI(apiKey)
		if cfg.Speech.STTProvider == "openai" {
			stt = openAI
		}
		if cfg.Speech.TTSProvider == "openai" {
			tts = openAI
		}
	}

	// Code host.
	var host codehost.Client
	if cfg.CodeHost.Mode == "live" {
		token, err := resolver.Resolve(cfg.CodeHost.Token)
		if err != nil {
			return fmt.Errorf("resolving codehost token: %w", err)
		}
		host = codehost.NewGitHub(nil, token, logger)
	} else {
		host = codehost.NewSeededFixture()
	}

	// Webhook secret.
	webhookSecret := ""
	if cfg.Webhook.Secret != "" {
		webhookSecret, err = resolver.Resolve(cfg.Webhook.Secret)
		if err != nil {
			return fmt.Errorf("resolving webhook secret: %w", err)
		}
	}

	// Notification delivery.
	registry := notify.NewRegistry(nil)
	if cfg.Notifications.DefaultProvider == "webpush" {
		registry.Register("webpush", notify.NewWebPushProvider(nil))
	}
	notifier := notify.NewService(st, registry, cfg.Notifications.DedupeWindow, logger)

	m := metrics.New()
	notifier.OnCreate(m.NotificationCreated)

	// Profiles, sessions, pending actions.
	profiles := profile.NewUserStore(kvStore)
	sessions := session.NewStore(kvStore, cfg.Sessions.TTL)
	pendings := pending.NewManager(kvStore, cfg.Pending.TTL)

	// Agent tasks.
	tasks := agenttask.NewService(st, notifier, profiles, cfg.Agent.DispatchRepo, logger)
	tasks.RegisterProvider(agenttask.MockProvider{})
	tasks.RegisterProvider(agenttask.NewIssueDispatchProvider(host, cfg.Agent.DispatchRepo))

	// Webhook ingestion, with the startup recovery scan.
	ingestor := webhook.NewIngestor(st, notifier, tasks, profiles, webhookSecret, logger)
	if err := ingestor.Recover(context.Background()); err != nil {
		logger.Warn("webhook recovery scan failed", "error", err)
	}

	// Command plane.
	router := command.NewRouter(sessions, pendings, profiles, stt, kvStore, cfg.Server.IdempotencyWindow, logger)
	router.Register(command.NewInboxHandler(host, sessions))
	router.Register(command.NewSummarizeHandler(host, sessions))
	router.Register(command.NewRequestReviewHandler(host, st))
	router.Register(command.NewMergeHandler(host, st))
	router.Register(command.NewChecksHandler(host))
	router.Register(command.NewDelegateHandler(tasks, cfg.Agent.DefaultProvider))
	router.Register(command.NewProgressHandler(tasks))
	router.Register(command.NewSetProfileHandler(profiles))
	router.Register(command.NewNextHandler(sessions))

	// Identity.
	var authResolver auth.Resolver
	switch cfg.Auth.Mode {
	case "jwt":
		jwtSecret, err := resolver.Resolve(cfg.Auth.JWTSecret)
		if err != nil {
			return fmt.Errorf("resolving jwt secret: %w", err)
		}
		authResolver = auth.NewJWTResolver([]byte(jwtSecret))
	case "api_key":
		authResolver = auth.NewAPIKeyResolver(cfg.Auth.APIKeys)
	default:
		authResolver = &auth.DevResolver{DefaultUser: cfg.Auth.DevUser}
	}

	srv := gateway.New(gateway.Options{
		Addr:           cfg.Server.HTTPAddr,
		Version:        version,
		AuthMode:       cfg.Auth.Mode,
		STTProvider:    cfg.Speech.STTProvider,
		TTSProvider:    cfg.Speech.TTSProvider,
		MetricsEnabled: cfg.Metrics.Enabled,
		DevEndpoints:   cfg.Server.DevEndpoints,
	}, router, notifier, ingestor, st, tts, authResolver, m, logger)

	// Serve until interrupted.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
