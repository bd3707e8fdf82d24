// Package configure implements the interactive wizard behind
// "gopgmcp configure". It edits a ServerConfig JSON file in place.
package configure

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	pgmcp "github.com/rickchristie/postgres-mcp-gateway"
)

// Run prompts for every field on stdin, starting from the file at
// configPath when it exists, and writes the result back.
func Run(configPath string) error {
	return run(configPath, os.Stdin, os.Stderr)
}

func run(configPath string, input io.Reader, output io.Writer) error {
	scanner := bufio.NewScanner(input)
	cfg, isNew := loadExisting(configPath)
	if isNew {
		applyDefaults(cfg)
	}

	p := &prompter{
		scanner: scanner,
		output:  output,
		isNew:   isNew,
	}

	fmt.Fprintf(output, "gopgmcp configuration wizard\n")
	fmt.Fprintf(output, "Config file: %s\n", configPath)
	fmt.Fprintf(output, "DATABASE_URL, when set in the environment or .env, takes precedence over the connection section.\n\n")

	// Connection
	fmt.Fprintf(output, "=== Connection ===\n")
	cfg.Connection.Host = p.promptString("connection.host", cfg.Connection.Host, "")
	cfg.Connection.Port = p.promptInt("connection.port", cfg.Connection.Port, 1, "")
	cfg.Connection.DBName = p.promptString("connection.dbname", cfg.Connection.DBName, "required unless DATABASE_URL is set")
	cfg.Connection.SSLMode = p.promptEnum("connection.sslmode", cfg.Connection.SSLMode, sslModes)
	cfg.Driver = p.promptEnum("driver", cfg.Driver, drivers)

	// Server
	fmt.Fprintf(output, "\n=== Server ===\n")
	cfg.Server.Host = p.promptString("server.host", cfg.Server.Host, "bind address")
	cfg.Server.Port = p.promptInt("server.port", cfg.Server.Port, 1, "")
	cfg.Server.HealthCheckEnabled = p.promptBool("server.health_check_enabled", cfg.Server.HealthCheckEnabled)
	cfg.Server.HealthCheckPath = p.promptString("server.health_check_path", cfg.Server.HealthCheckPath, "e.g. /health, required when health_check_enabled is true")
	cfg.Server.RateLimit = p.promptFloat("server.rate_limit", cfg.Server.RateLimit, "requests per second, 0 disables")
	cfg.Server.RateBurst = p.promptInt("server.rate_burst", cfg.Server.RateBurst, 0, "burst size, 0 means 1")
	cfg.Server.SessionIdleTimeout = p.promptDuration("server.session_idle_timeout", cfg.Server.SessionIdleTimeout, "Go duration: e.g. 30m, empty keeps sessions")

	// Logging
	fmt.Fprintf(output, "\n=== Logging ===\n")
	cfg.Logging.Level = p.promptEnum("logging.level", cfg.Logging.Level, logLevels)
	cfg.Logging.Format = p.promptEnum("logging.format", cfg.Logging.Format, logFormats)
	cfg.Logging.Output = p.promptString("logging.output", cfg.Logging.Output, "stdout, stderr, or file path")

	// Pool
	fmt.Fprintf(output, "\n=== Pool ===\n")
	cfg.Pool.MaxConns = p.promptInt("pool.max_conns", cfg.Pool.MaxConns, 1, "")
	cfg.Pool.MinConns = p.promptInt("pool.min_conns", cfg.Pool.MinConns, 0, "")
	cfg.Pool.MaxConnLifetime = p.promptDuration("pool.max_conn_lifetime", cfg.Pool.MaxConnLifetime, "Go duration: e.g. 1h, 30m, 1h30m")
	cfg.Pool.MaxConnIdleTime = p.promptDuration("pool.max_conn_idle_time", cfg.Pool.MaxConnIdleTime, "Go duration: e.g. 1h, 30m, 1h30m")
	cfg.Pool.HealthCheckPeriod = p.promptDuration("pool.health_check_period", cfg.Pool.HealthCheckPeriod, "Go duration: e.g. 1m, 30s, 1m30s")

	// Query
	fmt.Fprintf(output, "\n=== Query ===\n")
	cfg.Query.DefaultTimeoutSeconds = p.promptInt("query.default_timeout_seconds", cfg.Query.DefaultTimeoutSeconds, 0, "seconds, 0 = no timeout")

	// Write policy and misc
	fmt.Fprintf(output, "\n=== General ===\n")
	cfg.AllowWrite = p.promptBool("dangerously_allow_write_ops", cfg.AllowWrite)
	cfg.Timezone = p.promptTimezone(cfg.Timezone)

	fmt.Fprintf(output, "\n=== Timeout Rules ===\n")
	cfg.Query.TimeoutRules = editList(p, "timeout rule", cfg.Query.TimeoutRules,
		func(r pgmcp.TimeoutRule) string {
			return fmt.Sprintf("pattern=%q timeout_seconds=%d", r.Pattern, r.TimeoutSeconds)
		},
		func() pgmcp.TimeoutRule {
			return pgmcp.TimeoutRule{Pattern: p.promptNewRegexField("pattern"), TimeoutSeconds: p.promptNewPositiveIntField("timeout_seconds")}
		})

	fmt.Fprintf(output, "\n=== Error Prompts ===\n")
	cfg.ErrorPrompts = editList(p, "error prompt", cfg.ErrorPrompts,
		func(r pgmcp.ErrorPromptRule) string {
			return fmt.Sprintf("pattern=%q message=%q", r.Pattern, r.Message)
		},
		func() pgmcp.ErrorPromptRule {
			return pgmcp.ErrorPromptRule{Pattern: p.promptNewRegexField("pattern"), Message: p.promptNewField("message")}
		})

	fmt.Fprintf(output, "\n=== Sanitization ===\n")
	cfg.Sanitization = editList(p, "sanitization", cfg.Sanitization,
		func(r pgmcp.SanitizationRule) string {
			return fmt.Sprintf("pattern=%q replacement=%q description=%q", r.Pattern, r.Replacement, r.Description)
		},
		func() pgmcp.SanitizationRule {
			return pgmcp.SanitizationRule{
				Pattern:     p.promptNewRegexField("pattern"),
				Replacement: p.promptNewField("replacement"),
				Description: p.promptNewField("description"),
			}
		})

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	// Write config
	if err := writeConfig(configPath, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(output, "\nConfiguration saved to %s\n", configPath)
	return nil
}

func loadExisting(configPath string) (*pgmcp.ServerConfig, bool) {
	cfg := &pgmcp.ServerConfig{}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, true
	}
	// Unmarshal errors are ignored; whatever parsed becomes the current values.
	_ = json.Unmarshal(data, cfg)
	return cfg, false
}

// applyDefaults fills a new configuration with the values the server would
// otherwise assume.
func applyDefaults(cfg *pgmcp.ServerConfig) {
	cfg.Driver = "pgx"
	cfg.Connection.Host = "localhost"
	cfg.Connection.Port = 5432
	cfg.Connection.SSLMode = "prefer"
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8080
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stderr"
	cfg.Pool.MaxConns = 5
	cfg.Pool.MaxConnLifetime = "1h"
	cfg.Pool.MaxConnIdleTime = "30m"
	cfg.Pool.HealthCheckPeriod = "1m"
	cfg.Query.DefaultTimeoutSeconds = 30
}

var (
	sslModes   = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	drivers    = []string{"pgx", "pq"}
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
)

func writeConfig(configPath string, cfg *pgmcp.ServerConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Append trailing newline.
	data = append(data, '\n')

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", configPath, err)
	}

	return nil
}
