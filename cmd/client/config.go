package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/8000178/firezone/internal/secret"
	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
)

// Config holds client runtime configuration. Environment variables provide
// the defaults and flags override them.
type Config struct {
	APIURL        string        `envconfig:"FIREZONE_API_URL" default:"wss://api.firezone.dev"`
	Token         secret.String `envconfig:"FIREZONE_TOKEN"`
	ID            string        `envconfig:"FIREZONE_ID"`
	LogDir        string        `envconfig:"LOG_DIR"`
	LogRotation   string        `envconfig:"LOG_ROTATION" default:"@daily"`
	MetricsAddr   string        `envconfig:"METRICS_ADDR"`
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	Debug         bool          `envconfig:"DEBUG" default:"false"`
}

// loadConfig reads the environment, then parses args on top of it. A missing
// client ID is replaced with a fresh UUID; the token is checked later by the
// session controller.
func loadConfig(args []string, output io.Writer) (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	fs := flag.NewFlagSet("firezone-client", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "control plane URL (http, https, ws or wss)")
	fs.Var(&cfg.Token, "token", "client token (prefer FIREZONE_TOKEN)")
	fs.StringVar(&cfg.ID, "id", cfg.ID, "client identity; generated when empty")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "directory for rotating log files; empty logs to stdout only")
	fs.StringVar(&cfg.LogDir, "l", cfg.LogDir, "shorthand for --log-dir")
	fs.StringVar(&cfg.LogRotation, "log-rotation", cfg.LogRotation, "cron schedule for log rotation; empty disables it")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "metrics and health listen address; empty disables it")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "redis address for publishing session state")
	fs.StringVar(&cfg.RedisPassword, "redis-password", cfg.RedisPassword, "redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "redis database number")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logs")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	return cfg, nil
}
