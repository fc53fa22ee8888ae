// Package config loads application configuration from environment variables.
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

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
)

const envPrefix = "SPONSOREDISSUES_"

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	GitHubAppID      int64
	GitHubPrivateKey string
	GitHubToken      string
	WebhookSecret    string
	HTTPTimeout      time.Duration

	SponsorLabel        string
	ValidationCacheTTL  time.Duration
	ValidationCacheSize int

	Sync SyncConfig

	AllowedUsers []string
	CORSOrigins  []string
	PaymentMode  model.PaymentMode

	// CookieSecure marks session cookies Secure even when the request reached
	// the server over plain HTTP, as it does behind a TLS-terminating proxy.
	CookieSecure bool
}

// SyncConfig holds the bulk catalog sync settings.
type SyncConfig struct {
	RepoLimit   int
	DelayMin    time.Duration
	DelayMax    time.Duration
	RetryDelay  time.Duration
	MaxRetries  int
	Concurrency int
	RequireOpen bool
}

// HasAppCredentials returns true when both the GitHub App id and private key
// are set. Without them the server still starts, but sync and app-scoped
// calls are disabled.
func (c *Config) HasAppCredentials() bool {
	return c.GitHubAppID != 0 && c.GitHubPrivateKey != ""
}

// Load reads configuration from SPONSOREDISSUES_ environment variables and
// returns a validated Config. A .env file in the working directory is applied
// first when present; it never overrides variables already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		ListenAddr:   envString("LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:       envString("DB_PATH", "sponsoredissues.db"),
		GitHubToken:  os.Getenv(envPrefix + "GITHUB_TOKEN"),
		SponsorLabel: envString("SPONSOR_LABEL", "sponsoredissues.org"),
		AllowedUsers: envList("ALLOWED_USERS"),
		CORSOrigins:  envList("CORS_ORIGINS"),
	}
	cfg.GitHubPrivateKey = os.Getenv(envPrefix + "GITHUB_APP_PRIVATE_KEY")
	cfg.WebhookSecret = os.Getenv(envPrefix + "WEBHOOK_SECRET")

	var err error
	if cfg.LogLevel, err = envLogLevel("LOG_LEVEL", slog.LevelInfo); err != nil {
		return nil, err
	}
	if cfg.GitHubAppID, err = envInt64("GITHUB_APP_ID", 0); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = envDuration("HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout < time.Second || cfg.HTTPTimeout > time.Minute {
		return nil, fmt.Errorf("%sHTTP_TIMEOUT must be between 1s and 60s, got %s", envPrefix, cfg.HTTPTimeout)
	}
	if cfg.ValidationCacheTTL, err = envDuration("VALIDATION_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ValidationCacheSize, err = envInt("VALIDATION_CACHE_SIZE", 10_000); err != nil {
		return nil, err
	}
	if cfg.ValidationCacheSize < 1 {
		return nil, fmt.Errorf("%sVALIDATION_CACHE_SIZE must be positive, got %d", envPrefix, cfg.ValidationCacheSize)
	}

	if cfg.CookieSecure, err = envBool("COOKIE_SECURE", false); err != nil {
		return nil, err
	}

	if cfg.Sync, err = loadSync(); err != nil {
		return nil, err
	}

	mode := envString("PAYMENT_MODE", string(model.PaymentSandbox))
	var ok bool
	if cfg.PaymentMode, ok = model.ParsePaymentMode(mode); !ok {
		return nil, fmt.Errorf("%sPAYMENT_MODE must be sandbox or live, got %q", envPrefix, mode)
	}

	if cfg.GitHubAppID != 0 && cfg.GitHubPrivateKey == "" {
		return nil, fmt.Errorf("%sGITHUB_APP_ID is set but %sGITHUB_APP_PRIVATE_KEY is empty", envPrefix, envPrefix)
	}

	return cfg, nil
}

func loadSync() (SyncConfig, error) {
	var (
		s   SyncConfig
		err error
	)
	if s.RepoLimit, err = envInt("SYNC_REPO_LIMIT", 100); err != nil {
		return s, err
	}
	if s.DelayMin, err = envDuration("SYNC_DELAY_MIN", 2*time.Second); err != nil {
		return s, err
	}
	if s.DelayMax, err = envDuration("SYNC_DELAY_MAX", 10*time.Second); err != nil {
		return s, err
	}
	if s.DelayMin < 0 || s.DelayMin > s.DelayMax {
		return s, fmt.Errorf("%sSYNC_DELAY_MIN (%s) must not exceed %sSYNC_DELAY_MAX (%s)", envPrefix, s.DelayMin, envPrefix, s.DelayMax)
	}
	if s.RetryDelay, err = envDuration("SYNC_RETRY_DELAY", 60*time.Second); err != nil {
		return s, err
	}
	if s.MaxRetries, err = envInt("SYNC_MAX_RETRIES", 5); err != nil {
		return s, err
	}
	if s.Concurrency, err = envInt("SYNC_CONCURRENCY", 1); err != nil {
		return s, err
	}
	if s.RequireOpen, err = envBool("SYNC_REQUIRE_OPEN", true); err != nil {
		return s, err
	}

	if s.RepoLimit < 1 || s.Concurrency < 1 || s.MaxRetries < 0 {
		return s, fmt.Errorf("%sSYNC_REPO_LIMIT and %sSYNC_CONCURRENCY must be positive and %sSYNC_MAX_RETRIES non-negative", envPrefix, envPrefix, envPrefix)
	}
	return s, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s has invalid integer %q: %w", envPrefix, key, v, err)
	}
	return n, nil
}

func envInt64(key string, def int64) (int64, error) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s%s has invalid integer %q: %w", envPrefix, key, v, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s has invalid duration %q: %w", envPrefix, key, v, err)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s%s has invalid boolean %q: %w", envPrefix, key, v, err)
	}
	return b, nil
}

func envLogLevel(key string, def slog.Level) (slog.Level, error) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || v == "" {
		return def, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return def, fmt.Errorf("%s%s has invalid level %q: %w", envPrefix, key, v, err)
	}
	return level, nil
}

// envList splits a comma-separated variable, dropping blanks. Never nil.
func envList(key string) []string {
	out := []string{}
	for _, item := range strings.Split(os.Getenv(envPrefix+key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
