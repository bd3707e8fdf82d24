package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	pgmcp "github.com/rickchristie/postgres-mcp-gateway"
	"github.com/rickchristie/postgres-mcp-gateway/internal/store"
	"github.com/rickchristie/postgres-mcp-gateway/internal/store/pgxstore"
	"github.com/rickchristie/postgres-mcp-gateway/internal/store/sqlstore"
	"github.com/rickchristie/postgres-mcp-gateway/internal/transport"
)

// Environment variables read at startup. They override the config file.
const (
	envConfigPath  = "GOPGMCP_CONFIG_PATH"
	envDatabaseURL = "DATABASE_URL"
	envConnString  = "GOPGMCP_PG_CONNSTRING"
	envAllowWrite  = "DANGEROUSLY_ALLOW_WRITE_OPS"
	envServerHost  = "MCP_SERVER_HOST"
	envServerPort  = "MCP_SERVER_PORT"
	envDriver      = "GOPGMCP_DRIVER"
	envLogLevel    = "GOPGMCP_LOG_LEVEL"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPath, envFile)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file (default $"+envConfigPath+" or "+defaultConfigPath+")")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	return cmd
}

func runServe(ctx context.Context, configPath, envFile string) error {
	// 1. Load ServerConfig
	serverConfig, err := loadConfig(configPath, envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	idleTimeout, err := serverConfig.Server.IdleTimeout()
	if err != nil {
		return err
	}

	// 2. Resolve connection string
	connString, err := resolveConnString(serverConfig, isTTY(os.Stdin.Fd()))
	if err != nil {
		return err
	}

	// 3. Setup logger
	logger := setupLogger(serverConfig.Logging, os.Stderr)

	// 4. Open the driver and build the engine
	engine, err := openEngine(ctx, serverConfig, connString, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	dispatcher, err := pgmcp.NewDispatcher(engine)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	// 5. Serve until interrupted
	httpServer := transport.NewHTTPServer(dispatcher, engine.NewSession, transport.HTTPConfig{
		HealthCheckEnabled: serverConfig.Server.HealthCheckEnabled,
		HealthCheckPath:    serverConfig.Server.HealthCheckPath,
		RateLimit:          serverConfig.Server.RateLimit,
		RateBurst:          serverConfig.Server.RateBurst,
		IdleTimeout:        idleTimeout,
	}, logger)

	addr := net.JoinHostPort(serverConfig.Server.Host, strconv.Itoa(serverConfig.Server.Port))
	logger.Info().
		Str("addr", addr).
		Str("driver", serverConfig.Driver).
		Str("protocol", "JSON-RPC 2.0 over HTTP").
		Msg("starting gopgmcp server")
	if err := httpServer.ListenAndServe(ctx, addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// openEngine opens the configured driver, checks connectivity and wraps it
// in a PostgresMcp. The caller owns the returned engine.
func openEngine(ctx context.Context, serverConfig *pgmcp.ServerConfig, connString string, logger zerolog.Logger) (*pgmcp.PostgresMcp, error) {
	driver, err := openDriver(ctx, serverConfig, connString, logger)
	if err != nil {
		return nil, err
	}

	logger.Info().Msg("testing database connection")
	if err := driver.Ping(ctx); err != nil {
		driver.Close()
		logger.Error().Err(err).Msg("database connection test failed")
		return nil, fmt.Errorf("database connection test failed: %w", err)
	}
	logger.Info().Msg("database connection test successful")

	engine, err := pgmcp.New(driver, serverConfig.Config, logger)
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("failed to create PostgresMcp: %w", err)
	}
	return engine, nil
}

func openDriver(ctx context.Context, serverConfig *pgmcp.ServerConfig, connString string, logger zerolog.Logger) (store.Driver, error) {
	timeouts, err := serverConfig.TimeoutManager()
	if err != nil {
		return nil, err
	}
	durations, err := serverConfig.Pool.Durations()
	if err != nil {
		return nil, err
	}

	switch serverConfig.Driver {
	case "", "pgx":
		return pgxstore.New(ctx, connString, pgxstore.Config{
			MaxConns:          serverConfig.Pool.MaxConns,
			MinConns:          serverConfig.Pool.MinConns,
			MaxConnLifetime:   durations.MaxConnLifetime,
			MaxConnIdleTime:   durations.MaxConnIdleTime,
			HealthCheckPeriod: durations.HealthCheckPeriod,
			ReadOnly:          !serverConfig.AllowWrite,
			Timezone:          serverConfig.Timezone,
			Timeouts:          timeouts,
		}, logger)
	case "pq":
		return sqlstore.Open(connString, sqlstore.Config{
			MaxOpenConns:    serverConfig.Pool.MaxConns,
			MaxIdleConns:    serverConfig.Pool.MinConns,
			ConnMaxLifetime: durations.MaxConnLifetime,
			ConnMaxIdleTime: durations.MaxConnIdleTime,
			Timeouts:        timeouts,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown driver %q (want pgx or pq)", serverConfig.Driver)
	}
}

func configPathFromEnv() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	return defaultConfigPath
}

// loadConfig loads envFile into the process environment when it exists, then
// reads the config file and applies environment overrides.
func loadConfig(configPath, envFile string) (*pgmcp.ServerConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	if configPath == "" {
		configPath = configPathFromEnv()
	}
	config, err := loadServerConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(config, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := validateServerConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func defaultServerConfig() *pgmcp.ServerConfig {
	return &pgmcp.ServerConfig{
		Driver: "pgx",
		Server: pgmcp.ServerSettings{
			Host:               "127.0.0.1",
			Port:               8080,
			HealthCheckEnabled: true,
			HealthCheckPath:    "/health",
		},
		Logging: pgmcp.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// loadServerConfig reads the JSON file at configPath over the defaults. A
// missing file is only an error when it is not the default path.
func loadServerConfig(configPath string) (*pgmcp.ServerConfig, error) {
	config := defaultServerConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && configPath == defaultConfigPath {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// applyEnv overrides config with the environment variables that are set.
func applyEnv(config *pgmcp.ServerConfig, lookup func(string) (string, bool)) error {
	if v, ok := lookup(envConnString); ok && v != "" {
		config.DatabaseURL = v
	}
	if v, ok := lookup(envDatabaseURL); ok && v != "" {
		config.DatabaseURL = v
	}
	if v, ok := lookup(envAllowWrite); ok {
		config.AllowWrite = isTruthy(v)
	}
	if v, ok := lookup(envServerHost); ok && v != "" {
		config.Server.Host = v
	}
	if v, ok := lookup(envServerPort); ok && v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", envServerPort, v, err)
		}
		config.Server.Port = int(port)
	}
	if v, ok := lookup(envDriver); ok && v != "" {
		config.Driver = strings.ToLower(v)
	}
	if v, ok := lookup(envLogLevel); ok && v != "" {
		config.Logging.Level = strings.ToLower(v)
	}
	return nil
}

// isTruthy accepts exactly "true" and "1".
func isTruthy(v string) bool {
	return v == "true" || v == "1"
}

func validateServerConfig(config *pgmcp.ServerConfig) error {
	if config.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if config.Server.HealthCheckEnabled && config.Server.HealthCheckPath == "" {
		return fmt.Errorf("server.health_check_path must be set when health_check_enabled is true")
	}
	if config.Server.RateLimit < 0 || config.Server.RateBurst < 0 {
		return fmt.Errorf("server.rate_limit and server.rate_burst must be >= 0")
	}
	switch config.Driver {
	case "", "pgx", "pq":
	default:
		return fmt.Errorf("driver must be pgx or pq, got %q", config.Driver)
	}
	if _, err := config.Server.IdleTimeout(); err != nil {
		return err
	}
	return config.Validate()
}

// resolveConnString picks DATABASE_URL when set and otherwise builds a
// keyword/value string from the connection section, prompting for
// credentials when interactive is true.
func resolveConnString(config *pgmcp.ServerConfig, interactive bool) (string, error) {
	if config.DatabaseURL != "" {
		return config.DatabaseURL, nil
	}
	if config.Connection.DBName == "" {
		return "", fmt.Errorf("%s environment variable not set and connection.dbname is empty", envDatabaseURL)
	}
	var username, password string
	if interactive {
		username = promptInput("Username: ")
		password = promptPassword("Password: ")
	}
	return buildConnString(config.Connection, username, password), nil
}

func buildConnString(conn pgmcp.ConnectionConfig, username, password string) string {
	parts := []string{}
	if conn.Host != "" {
		parts = append(parts, fmt.Sprintf("host=%s", conn.Host))
	}
	if conn.Port > 0 {
		parts = append(parts, fmt.Sprintf("port=%d", conn.Port))
	}
	if conn.DBName != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", quoteConnValue(conn.DBName)))
	}
	if username != "" {
		parts = append(parts, fmt.Sprintf("user=%s", quoteConnValue(username)))
	}
	if password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", quoteConnValue(password)))
	}
	if conn.SSLMode != "" {
		parts = append(parts, fmt.Sprintf("sslmode=%s", conn.SSLMode))
	}
	return strings.Join(parts, " ")
}

// quoteConnValue single-quotes v when it contains characters that would end
// a keyword/value pair.
func quoteConnValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// setupLogger builds the process logger. fallback is used when the output is
// stderr or the file cannot be opened.
func setupLogger(config pgmcp.LoggingConfig, fallback io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	output := fallback
	if config.Output == "stdout" {
		output = os.Stdout
	} else if config.Output != "" && config.Output != "stderr" {
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			output = f
		}
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func promptInput(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	var input string
	fmt.Scanln(&input)
	return input
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after password input
	if err != nil {
		return ""
	}
	return string(password)
}
