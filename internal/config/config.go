package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the server configuration, read from BOARD_* environment
// variables.
type Config struct {
	Addr     string `env:"BOARD_ADDR"      envDefault:":8888"`
	LogLevel string `env:"BOARD_LOG_LEVEL" envDefault:"info"`

	SessionIdleTTL time.Duration `env:"BOARD_SESSION_IDLE_TTL" envDefault:"30m"`
	MaxSessions    int           `env:"BOARD_MAX_SESSIONS"     envDefault:"1024"`
	SweepInterval  time.Duration `env:"BOARD_SWEEP_INTERVAL"   envDefault:"1m"`
	SessionQueue   int           `env:"BOARD_SESSION_QUEUE"    envDefault:"256"`

	OutboxSize      int   `env:"BOARD_OUTBOX_SIZE"       envDefault:"256"`
	MaxMessageBytes int64 `env:"BOARD_MAX_MESSAGE_BYTES" envDefault:"8192"`

	ClearEcho          bool     `env:"BOARD_CLEAR_ECHO"           envDefault:"true"`
	ReportEmptyHistory bool     `env:"BOARD_REPORT_EMPTY_HISTORY" envDefault:"false"`
	JoinToken          string   `env:"BOARD_JOIN_TOKEN"`
	AllowedOrigins     []string `env:"BOARD_ALLOWED_ORIGINS"      envSeparator:","`

	MDNS     bool   `env:"BOARD_MDNS"     envDefault:"false"`
	Instance string `env:"BOARD_INSTANCE"`
}

// Load parses the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom parses an explicit environment, for tests and embedding.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("BOARD_ADDR is empty"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.SessionIdleTTL < 0 {
		errs = append(errs, errors.New("BOARD_SESSION_IDLE_TTL must not be negative"))
	}
	if c.MaxSessions < 0 {
		errs = append(errs, errors.New("BOARD_MAX_SESSIONS must not be negative"))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, errors.New("BOARD_SWEEP_INTERVAL must not be negative"))
	}
	if c.SessionQueue <= 0 {
		errs = append(errs, errors.New("BOARD_SESSION_QUEUE must be positive"))
	}
	if c.OutboxSize <= 0 {
		errs = append(errs, errors.New("BOARD_OUTBOX_SIZE must be positive"))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("BOARD_MAX_MESSAGE_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("BOARD_LOG_LEVEL: %w", err)
	}
	return l, nil
}

// Logger builds the process logger writing text records to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
