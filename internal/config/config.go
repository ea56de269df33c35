// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata" // distrolessイメージにはタイムゾーンDBがない

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// セッションの保存先
const (
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
	SessionBackendMemory   = "memory"
)

// DefaultDotEnvFile は起動時に読み込む.envファイルのパス。
const DefaultDotEnvFile = ".env"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,notEmpty"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID,notEmpty"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET,notEmpty"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL,notEmpty"`

	// Session
	SessionSecret  string        `env:"SESSION_SECRET,notEmpty"`
	SessionMaxAge  int           `env:"SESSION_MAX_AGE" envDefault:"86400"` // 秒
	SessionBackend string        `env:"SESSION_BACKEND" envDefault:"postgres"`
	RedisURL       string        `env:"REDIS_URL"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`

	// History
	HistoryTimezone string         `env:"HISTORY_TIMEZONE" envDefault:"UTC"`
	HistoryLocation *time.Location `env:"-"`

	// Rate Limit（req/min/IP）
	RateLimitAuth int `env:"RATE_LIMIT_AUTH" envDefault:"30"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,notEmpty"`

	// Cookie
	CookieDomain string `env:"COOKIE_DOMAIN"`
	CookieSecure bool   `env:"-"` // BASE_URLがhttpsの場合にtrue
}

// SessionTTL はセッションの有効期間を返す。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

// Load は.envファイル（存在する場合）と環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	return LoadFiles(DefaultDotEnvFile)
}

// LoadFiles は指定された.envファイルを読み込んでから環境変数を解析する。
// 既に設定されている環境変数は.envファイルの値で上書きしない。
// 存在しないファイルは無視する。
func LoadFiles(files ...string) (*Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finalize は派生値を設定し、値の組み合わせを検証する。
func (c *Config) finalize() error {
	c.SessionBackend = strings.ToLower(strings.TrimSpace(c.SessionBackend))
	switch c.SessionBackend {
	case SessionBackendPostgres, SessionBackendMemory:
	case SessionBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_BACKEND=%s", SessionBackendRedis)
		}
	default:
		return fmt.Errorf("unsupported SESSION_BACKEND %q", c.SessionBackend)
	}

	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be positive, got %d", c.SessionMaxAge)
	}

	loc, err := time.LoadLocation(c.HistoryTimezone)
	if err != nil {
		return fmt.Errorf("invalid HISTORY_TIMEZONE %q: %w", c.HistoryTimezone, err)
	}
	c.HistoryLocation = loc

	c.CookieSecure = strings.HasPrefix(c.BaseURL, "https://")
	return nil
}
