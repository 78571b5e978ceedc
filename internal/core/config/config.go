package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/vietddude/invoker/internal/auth"
	"github.com/vietddude/invoker/internal/core/request"
	"github.com/vietddude/invoker/internal/infra/storage/postgres"
	redisstore "github.com/vietddude/invoker/internal/infra/storage/redis"
)

// DefaultGroup is the group of services that do not name one. The
// top-level defaults section populates it.
const DefaultGroup = "default"

// Options maps option keys (retries, sleep, log_level, ...) to values.
type Options map[string]any

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Defaults Options            `yaml:"defaults"`
	Groups   map[string]Options `yaml:"groups"`
	Modules  map[string]Options `yaml:"modules"`
	Services []ServiceConfig    `yaml:"services"`
	Auth     AuthConfig         `yaml:"auth"`
	Audit    AuditConfig        `yaml:"audit"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisstore.Config  `yaml:"redis"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// AuthConfig holds the identity service settings.
type AuthConfig struct {
	auth.Credentials `yaml:",inline"`
	Timeout          time.Duration `yaml:"timeout"`
}

// Enabled reports whether an identity service is configured.
func (a AuthConfig) Enabled() bool {
	return a.TokenURL != ""
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	Retention time.Duration `yaml:"retention"` // 0 = keep forever
}

// ServiceConfig holds settings for a backend service.
type ServiceConfig struct {
	Name    string           `yaml:"name"`
	Module  string           `yaml:"module"`
	Group   string           `yaml:"group"`
	Verb    string           `yaml:"verb"`
	URL     string           `yaml:"url"`
	Query   string           `yaml:"query"`
	Headers []request.Header `yaml:"headers"`
	Timeout time.Duration    `yaml:"timeout"`
	Auth    bool             `yaml:"auth"` // attach a bearer token from the identity service
	Options Options          `yaml:"options"`
}

// Lookup implements request.Source over the modules and groups sections.
func (c *AppConfig) Lookup(scopeKey, optionKey string) (any, bool) {
	var opts Options
	if name, ok := strings.CutPrefix(scopeKey, "module:"); ok {
		opts = c.Modules[name]
	} else if name, ok := strings.CutPrefix(scopeKey, "group:"); ok {
		opts = c.Groups[name]
	}
	v, ok := opts[optionKey]
	return v, ok
}

// Service returns the service named name.
func (c *AppConfig) Service(name string) (ServiceConfig, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return ServiceConfig{}, false
}

// Level returns the configured ambient log level, info when unset or invalid.
func (c *AppConfig) Level() slog.Level {
	if c.Logging.Level == "" {
		return slog.LevelInfo
	}
	l, err := request.ParseLevel(c.Logging.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// Resolver returns a behavior resolver backed by this configuration.
func (c *AppConfig) Resolver() request.Resolver {
	return request.Resolver{Source: c, Ambient: c.Level()}
}
