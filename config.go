package pgmcp

import (
	"fmt"
	"time"

	"github.com/rickchristie/postgres-mcp-gateway/internal/errprompt"
	"github.com/rickchristie/postgres-mcp-gateway/internal/sanitize"
	"github.com/rickchristie/postgres-mcp-gateway/internal/timeout"
)

// Config is the base configuration used by library mode via New().
type Config struct {
	// AllowWrite is the write policy given to every new Session.
	AllowWrite   bool               `json:"dangerously_allow_write_ops"`
	Pool         PoolConfig         `json:"pool"`
	Query        QueryConfig        `json:"query"`
	ErrorPrompts []ErrorPromptRule  `json:"error_prompts"`
	Sanitization []SanitizationRule `json:"sanitization"`
	Timezone     string             `json:"timezone"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config
	DatabaseURL string           `json:"database_url"`
	Driver      string           `json:"driver"` // pgx, pq
	Connection  ConnectionConfig `json:"connection"`
	Server      ServerSettings   `json:"server"`
	Logging     LoggingConfig    `json:"logging"`
}

// ConnectionConfig holds database connection parameters used when no
// DATABASE_URL is given.
type ConnectionConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	DBName  string `json:"dbname"`
	SSLMode string `json:"sslmode"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxConns          int    `json:"max_conns"`
	MinConns          int    `json:"min_conns"`
	MaxConnLifetime   string `json:"max_conn_lifetime"`
	MaxConnIdleTime   string `json:"max_conn_idle_time"`
	HealthCheckPeriod string `json:"health_check_period"`
}

// ServerSettings holds HTTP server settings for CLI mode.
type ServerSettings struct {
	Host               string  `json:"host"`
	Port               int     `json:"port"`
	HealthCheckEnabled bool    `json:"health_check_enabled"`
	HealthCheckPath    string  `json:"health_check_path"`
	RateLimit          float64 `json:"rate_limit"` // requests per second, 0 disables
	RateBurst          int     `json:"rate_burst"`
	SessionIdleTimeout string  `json:"session_idle_timeout"` // Go duration, empty keeps sessions
}

// IdleTimeout parses SessionIdleTimeout. Empty is zero.
func (s ServerSettings) IdleTimeout() (time.Duration, error) {
	if s.SessionIdleTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.SessionIdleTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid server.session_idle_timeout %q: %w", s.SessionIdleTimeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid server.session_idle_timeout %q: must not be negative", s.SessionIdleTimeout)
	}
	return d, nil
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stderr, stdout, or file path
}

// QueryConfig holds query execution settings.
type QueryConfig struct {
	DefaultTimeoutSeconds int           `json:"default_timeout_seconds"`
	TimeoutRules          []TimeoutRule `json:"timeout_rules"`
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `json:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ErrorPromptRule maps an error message pattern to a guidance message.
type ErrorPromptRule struct {
	Pattern string `json:"pattern"`
	Message string `json:"message"`
}

// SanitizationRule rewrites matches of Pattern in text and JSON result cells.
// Replacement may reference capture groups as ${1}.
type SanitizationRule struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Description string `json:"description"`
}

// PoolDurations is PoolConfig with its duration strings parsed.
type PoolDurations struct {
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// Durations parses the pool's duration strings. Empty strings are zero.
func (c PoolConfig) Durations() (PoolDurations, error) {
	var d PoolDurations
	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"pool.max_conn_lifetime", c.MaxConnLifetime, &d.MaxConnLifetime},
		{"pool.max_conn_idle_time", c.MaxConnIdleTime, &d.MaxConnIdleTime},
		{"pool.health_check_period", c.HealthCheckPeriod, &d.HealthCheckPeriod},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(f.value)
		if err != nil {
			return PoolDurations{}, fmt.Errorf("invalid %s %q: %w", f.name, f.value, err)
		}
		if parsed < 0 {
			return PoolDurations{}, fmt.Errorf("invalid %s %q: must not be negative", f.name, f.value)
		}
		*f.dst = parsed
	}
	return d, nil
}

// Validate checks the fields New() relies on.
func (c Config) Validate() error {
	if c.Pool.MaxConns < 0 {
		return fmt.Errorf("pool.max_conns must be >= 0")
	}
	if c.Pool.MinConns < 0 {
		return fmt.Errorf("pool.min_conns must be >= 0")
	}
	if c.Pool.MaxConns > 0 && c.Pool.MinConns > c.Pool.MaxConns {
		return fmt.Errorf("pool.min_conns (%d) must not exceed pool.max_conns (%d)", c.Pool.MinConns, c.Pool.MaxConns)
	}
	if _, err := c.Pool.Durations(); err != nil {
		return err
	}
	if _, err := c.TimeoutManager(); err != nil {
		return err
	}
	if _, err := c.errorPromptMatcher(); err != nil {
		return err
	}
	if _, err := c.sanitizer(); err != nil {
		return err
	}
	return nil
}

// TimeoutManager builds the statement timeout manager from Query.
func (c Config) TimeoutManager() (*timeout.Manager, error) {
	if c.Query.DefaultTimeoutSeconds < 0 {
		return nil, fmt.Errorf("query.default_timeout_seconds must be >= 0")
	}
	rules := make([]timeout.Rule, len(c.Query.TimeoutRules))
	for i, r := range c.Query.TimeoutRules {
		rules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	return timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(c.Query.DefaultTimeoutSeconds) * time.Second,
		Rules:          rules,
	})
}

func (c Config) errorPromptMatcher() (*errprompt.Matcher, error) {
	rules := make([]errprompt.Rule, len(c.ErrorPrompts))
	for i, r := range c.ErrorPrompts {
		rules[i] = errprompt.Rule{Pattern: r.Pattern, Message: r.Message}
	}
	return errprompt.NewMatcher(rules)
}

func (c Config) sanitizer() (*sanitize.Sanitizer, error) {
	rules := make([]sanitize.Rule, len(c.Sanitization))
	for i, r := range c.Sanitization {
		rules[i] = sanitize.Rule{Pattern: r.Pattern, Replacement: r.Replacement}
	}
	return sanitize.NewSanitizer(rules)
}
