// ABOUTME: Configuration loading and parsing for visor-gateway
// ABOUTME: Supports YAML files with environment variable expansion and env overrides

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete visor-gateway configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	KV            KVConfig            `yaml:"kv"`
	Auth          AuthConfig          `yaml:"auth"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Speech        SpeechConfig        `yaml:"speech"`
	CodeHost      CodeHostConfig      `yaml:"codehost"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Agent         AgentConfig         `yaml:"agent"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Pending       PendingConfig       `yaml:"pending"`
	Policies      PoliciesConfig      `yaml:"policies"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	HTTPAddr     string `yaml:"http_addr"`
	DevEndpoints bool   `yaml:"dev_endpoints"`

	IdempotencyWindow    time.Duration `yaml:"-"`
	IdempotencyWindowRaw string        `yaml:"idempotency_window"`
}

// DatabaseConfig holds the sqlite path; ":memory:" is test-only.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// KVConfig selects the KV backend.
type KVConfig struct {
	Backend       string `yaml:"backend"` // memory | network
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
}

// AuthConfig selects the identity mode.
type AuthConfig struct {
	Mode      string            `yaml:"mode"` // dev | jwt | api_key
	JWTSecret string            `yaml:"jwt_secret"`
	APIKeys   map[string]string `yaml:"api_keys"` // key -> user id
	DevUser   string            `yaml:"dev_user"`
}

// WebhookConfig holds the shared webhook secret reference.
type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

// SpeechConfig selects the STT/TTS providers.
type SpeechConfig struct {
	STTProvider  string `yaml:"stt_provider"` // stub | openai
	TTSProvider  string `yaml:"tts_provider"` // stub | openai
	OpenAIAPIKey string `yaml:"openai_api_key"`
}

// CodeHostConfig selects the code-host client.
type CodeHostConfig struct {
	Mode  string `yaml:"mode"` // fixture | live
	Token string `yaml:"token"`
}

// NotificationsConfig tunes notification creation and delivery.
type NotificationsConfig struct {
	DefaultProvider string         `yaml:"default_provider"` // logger | apns | fcm | webpush
	Thresholds      map[string]int `yaml:"thresholds"`       // profile -> min priority

	DedupeWindow    time.Duration `yaml:"-"`
	DedupeWindowRaw string        `yaml:"dedupe_window"`
}

// AgentConfig configures agent-task dispatch.
type AgentConfig struct {
	DispatchRepo    string `yaml:"dispatch_repo"`
	DefaultProvider string `yaml:"default_provider"`
}

// SessionsConfig tunes the session context TTL.
type SessionsConfig struct {
	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// PendingConfig tunes the pending-action TTL.
type PendingConfig struct {
	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// PoliciesConfig seeds repo write policies at boot.
type PoliciesConfig struct {
	DenyWrite []string `yaml:"deny_write"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server:        ServerConfig{HTTPAddr: ":8080", DevEndpoints: true},
		Database:      DatabaseConfig{Path: "visor.db"},
		KV:            KVConfig{Backend: "memory"},
		Auth:          AuthConfig{Mode: "dev", DevUser: "dev-user"},
		Speech:        SpeechConfig{STTProvider: "stub", TTSProvider: "stub"},
		CodeHost:      CodeHostConfig{Mode: "fixture"},
		Notifications: NotificationsConfig{DefaultProvider: "logger"},
		Agent:         AgentConfig{DefaultProvider: "mock"},
		Logging:       LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path. Environment
// variables in the format ${VAR_NAME} are expanded, duration strings are
// parsed, and recognized environment overrides are applied last. A missing
// file yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides applies the recognized environment options on top of
// the file configuration.
func (c *Config) applyEnvOverrides() {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString(&c.Auth.Mode, "AUTH_MODE")
	setString(&c.Webhook.Secret, "WEBHOOK_SECRET")
	setString(&c.Speech.STTProvider, "STT_PROVIDER")
	setString(&c.Speech.TTSProvider, "TTS_PROVIDER")
	setString(&c.CodeHost.Mode, "CODEHOST_MODE")
	setString(&c.CodeHost.Token, "CODEHOST_TOKEN")
	setString(&c.Database.Path, "DB_PATH")
	setString(&c.KV.Backend, "KV_BACKEND")
	setString(&c.KV.RedisAddr, "REDIS_ADDR")
	setString(&c.Notifications.DefaultProvider, "NOTIFICATION_PROVIDER_DEFAULT")
	setString(&c.Agent.DispatchRepo, "AGENT_DISPATCH_REPO")
	setString(&c.Agent.DefaultProvider, "AGENT_DEFAULT_PROVIDER")

	if v, ok := os.LookupEnv("METRICS_ENABLED"); ok {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Metrics.Enabled = enabled
		}
	}
}

// parseDurations converts the raw duration strings into time.Duration
// values.
func parseDurations(cfg *Config) error {
	parse := func(raw, field string, dst *time.Duration) error {
		if raw == "" {
			return nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", field, raw, err)
		}
		*dst = d
		return nil
	}

	if err := parse(cfg.Server.IdempotencyWindowRaw, "idempotency_window", &cfg.Server.IdempotencyWindow); err != nil {
		return err
	}
	if err := parse(cfg.Notifications.DedupeWindowRaw, "dedupe_window", &cfg.Notifications.DedupeWindow); err != nil {
		return err
	}
	if err := parse(cfg.Sessions.TTLRaw, "sessions.ttl", &cfg.Sessions.TTL); err != nil {
		return err
	}
	return parse(cfg.Pending.TTLRaw, "pending.ttl", &cfg.Pending.TTL)
}

// validate rejects configurations that cannot boot.
func (c *Config) validate() error {
	switch c.Auth.Mode {
	case "dev", "jwt", "api_key":
	default:
		return fmt.Errorf("auth.mode must be dev, jwt, or api_key, got %q", c.Auth.Mode)
	}
	if c.Auth.Mode == "jwt" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.mode jwt requires auth.jwt_secret")
	}
	if c.Auth.Mode == "api_key" && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth.mode api_key requires auth.api_keys")
	}

	switch c.KV.Backend {
	case "memory", "network":
	default:
		return fmt.Errorf("kv.backend must be memory or network, got %q", c.KV.Backend)
	}
	if c.KV.Backend == "network" && c.KV.RedisAddr == "" {
		return fmt.Errorf("kv.backend network requires kv.redis_addr")
	}

	switch c.CodeHost.Mode {
	case "fixture", "live":
	default:
		return fmt.Errorf("codehost.mode must be fixture or live, got %q", c.CodeHost.Mode)
	}
	if c.CodeHost.Mode == "live" && c.CodeHost.Token == "" {
		return fmt.Errorf("codehost.mode live requires codehost.token")
	}

	for _, repo := range c.Policies.DenyWrite {
		if !strings.Contains(repo, "/") {
			return fmt.Errorf("policies.deny_write entry %q must be owner/repo", repo)
		}
	}
	return nil
}
