package pgmcp

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rickchristie/postgres-mcp-gateway/internal/errprompt"
	"github.com/rickchristie/postgres-mcp-gateway/internal/sanitize"
	"github.com/rickchristie/postgres-mcp-gateway/internal/store"
)

const (
	// ServerName and ServerVersion are reported in the initialize result.
	ServerName    = "postgres-mcp-server"
	ServerVersion = "0.2.0"

	// ProtocolVersion is the MCP protocol revision this server speaks.
	ProtocolVersion = "2025-11-25"
)

// PostgresMcp is the core engine behind the query tool and the table
// resources. All exported methods are safe for concurrent use from multiple
// goroutines; per-connection state lives in Session.
type PostgresMcp struct {
	config     Config
	driver     store.Driver
	errPrompts *errprompt.Matcher
	sanitizer  *sanitize.Sanitizer
	logger     zerolog.Logger
}

// New creates a PostgresMcp on top of an opened driver. The engine takes
// ownership of driver; Close closes it.
func New(driver store.Driver, config Config, logger zerolog.Logger) (*PostgresMcp, error) {
	if driver == nil {
		return nil, fmt.Errorf("pgmcp: driver must be non-nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("pgmcp: invalid config: %w", err)
	}
	matcher, err := config.errorPromptMatcher()
	if err != nil {
		return nil, fmt.Errorf("pgmcp: %w", err)
	}
	sanitizer, err := config.sanitizer()
	if err != nil {
		return nil, fmt.Errorf("pgmcp: %w", err)
	}

	if config.AllowWrite {
		logger.Warn().Msg("write operations are ENABLED")
	} else {
		logger.Info().Msg("read-only mode (write operations disabled)")
	}

	return &PostgresMcp{
		config:     config,
		driver:     driver,
		errPrompts: matcher,
		sanitizer:  sanitizer,
		logger:     logger,
	}, nil
}

// NewSession returns a fresh, uninitialized session carrying the configured
// write policy.
func (p *PostgresMcp) NewSession() *Session {
	return NewSession(Policy{AllowWrite: p.config.AllowWrite})
}

// Ping checks database connectivity through the driver.
func (p *PostgresMcp) Ping(ctx context.Context) error {
	return p.driver.Ping(ctx)
}

// Close closes the driver.
func (p *PostgresMcp) Close() {
	p.driver.Close()
}
