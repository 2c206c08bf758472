// Package config loads runtime settings from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/twistedwarden/esm-v3-sub005/internal/payment"
	"gopkg.in/yaml.v3"
)

// FileEnv names the YAML config file.
const FileEnv = "SCHOLARSHIP_CONFIG"

type Config struct {
	DBPath        string `yaml:"db_path"`
	HTTPAddr      string `yaml:"http_addr"`
	LogLevel      string `yaml:"log_level"`
	RevisionLimit int    `yaml:"revision_limit"`

	Reconcile ReconcileConfig `yaml:"reconcile"`
	Redis     RedisConfig     `yaml:"redis"`
	Notify    NotifyConfig    `yaml:"notify"`
	Docs      DocsConfig      `yaml:"docs"`
	Webhooks  WebhookConfig   `yaml:"webhooks"`
	Payment   payment.Config  `yaml:"payment"`
}

// ReconcileConfig drives the periodic orphaned-reservation sweep.
// An empty Schedule disables it.
type ReconcileConfig struct {
	Schedule  string        `yaml:"schedule"`
	OlderThan time.Duration `yaml:"older_than"`
}

// RedisConfig enables the distributed lock when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Buffer     int    `yaml:"buffer"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}

// DocsConfig points at the document service. Without an endpoint every
// application counts as verified.
type DocsConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Token     string `yaml:"token"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type WebhookConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

func Default() Config {
	return Config{
		DBPath:        "scholarship.db",
		HTTPAddr:      ":8080",
		LogLevel:      "info",
		RevisionLimit: 3,
		Reconcile: ReconcileConfig{
			Schedule:  "@every 15m",
			OlderThan: 24 * time.Hour,
		},
		Redis:    RedisConfig{LockTTL: 30 * time.Second},
		Notify:   NotifyConfig{Buffer: 256, TimeoutMs: 5000},
		Docs:     DocsConfig{TimeoutMs: 5000},
		Webhooks: WebhookConfig{RatePerSecond: 20, Burst: 40},
		Payment:  payment.DefaultConfig(),
	}
}

// Load builds the configuration. A .env file in the working directory is
// read first if present; path (or $SCHOLARSHIP_CONFIG when path is empty)
// names an optional YAML file; environment variables win over both.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv(FileEnv)
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.DBPath, "SCHOLARSHIP_DB")
	setString(&cfg.HTTPAddr, "SCHOLARSHIP_HTTP_ADDR")
	setString(&cfg.LogLevel, "SCHOLARSHIP_LOG_LEVEL")
	setInt(&cfg.RevisionLimit, "SCHOLARSHIP_REVISION_LIMIT", 1)

	if v, ok := os.LookupEnv("SCHOLARSHIP_RECONCILE_SCHEDULE"); ok {
		cfg.Reconcile.Schedule = v
	}
	setDuration(&cfg.Reconcile.OlderThan, "SCHOLARSHIP_RECONCILE_OLDER_THAN")

	setString(&cfg.Redis.Addr, "SCHOLARSHIP_REDIS_ADDR")
	setString(&cfg.Redis.Password, "SCHOLARSHIP_REDIS_PASSWORD")
	setDuration(&cfg.Redis.LockTTL, "SCHOLARSHIP_REDIS_LOCK_TTL")

	setString(&cfg.Notify.WebhookURL, "SCHOLARSHIP_NOTIFY_WEBHOOK_URL")
	setInt(&cfg.Notify.Buffer, "SCHOLARSHIP_NOTIFY_BUFFER", 1)

	setString(&cfg.Docs.Endpoint, "SCHOLARSHIP_DOCS_ENDPOINT")
	setString(&cfg.Docs.Token, "SCHOLARSHIP_DOCS_TOKEN")
	setInt(&cfg.Docs.TimeoutMs, "SCHOLARSHIP_DOCS_TIMEOUT_MS", 1)

	if v := os.Getenv("SCHOLARSHIP_WEBHOOK_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Webhooks.RatePerSecond = f
		}
	}
	setInt(&cfg.Webhooks.Burst, "SCHOLARSHIP_WEBHOOK_BURST", 1)

	if v := os.Getenv("SCHOLARSHIP_PAYMENT_ENABLED"); v != "" {
		cfg.Payment.Enabled, _ = strconv.ParseBool(v)
	}
	setString(&cfg.Payment.Endpoint, "SCHOLARSHIP_PAYMENT_ENDPOINT")
	setString(&cfg.Payment.APIKey, "SCHOLARSHIP_PAYMENT_API_KEY")
	setString(&cfg.Payment.SuccessURL, "SCHOLARSHIP_PAYMENT_SUCCESS_URL")
	setString(&cfg.Payment.CancelURL, "SCHOLARSHIP_PAYMENT_CANCEL_URL")
	setString(&cfg.Payment.Currency, "SCHOLARSHIP_PAYMENT_CURRENCY")
	setString(&cfg.Payment.WebhookSecret, "SCHOLARSHIP_PAYMENT_WEBHOOK_SECRET")
	setInt(&cfg.Payment.TimeoutMs, "SCHOLARSHIP_PAYMENT_TIMEOUT_MS", 1)
	setInt(&cfg.Payment.MaxRetries, "SCHOLARSHIP_PAYMENT_MAX_RETRIES", 0)
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// setInt ignores values that do not parse or fall below min.
func setInt(dst *int, env string, min int) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= min {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var problems []string
	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.RevisionLimit < 1 {
		problems = append(problems, "revision_limit must be at least 1")
	}
	if c.Reconcile.Schedule != "" {
		if _, err := cron.ParseStandard(c.Reconcile.Schedule); err != nil {
			problems = append(problems, fmt.Sprintf("reconcile.schedule: %v", err))
		}
		if c.Reconcile.OlderThan <= 0 {
			problems = append(problems, "reconcile.older_than must be positive")
		}
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Payment.Enabled && c.Payment.Endpoint == "" {
		problems = append(problems, "payment.endpoint is required when payment is enabled")
	}
	if c.Payment.Enabled && strings.TrimSpace(c.Payment.WebhookSecret) == "" {
		problems = append(problems, "payment.webhook_secret is required when payment is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Level returns the configured slog level, info when unrecognised.
func (c Config) Level() slog.Level {
	l, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
