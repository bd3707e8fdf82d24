// Package timeout resolves per-statement deadlines at the driver boundary.
package timeout

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// Rule maps a SQL pattern to a deadline.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config is the timeout manager's own config type. A zero DefaultTimeout
// means statements that match no rule run without a deadline.
type Config struct {
	DefaultTimeout time.Duration
	Rules          []Rule
}

type compiledRule struct {
	re *regexp.Regexp
	Rule
}

// Manager resolves statement timeouts by matching SQL text against rules.
// The first matching rule wins.
type Manager struct {
	rules    []compiledRule
	fallback time.Duration
}

// NewManager compiles the rules, rejecting invalid regexes and non-positive
// rule timeouts.
func NewManager(config Config) (*Manager, error) {
	if config.DefaultTimeout < 0 {
		return nil, fmt.Errorf("timeout: default timeout must be >= 0, got %s", config.DefaultTimeout)
	}
	m := &Manager{fallback: config.DefaultTimeout, rules: make([]compiledRule, 0, len(config.Rules))}
	for _, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout: invalid regex pattern %q: %v", r.Pattern, err)
		}
		if r.Timeout <= 0 {
			return nil, fmt.Errorf("timeout: rule %q must have a positive timeout", r.Pattern)
		}
		m.rules = append(m.rules, compiledRule{re: re, Rule: r})
	}
	return m, nil
}

// For returns the timeout that applies to sql.
func (m *Manager) For(sql string) time.Duration {
	d, _ := m.Lookup(sql)
	return d
}

// Lookup is For plus the pattern of the rule that decided, or "" when the
// default applied.
func (m *Manager) Lookup(sql string) (time.Duration, string) {
	for _, r := range m.rules {
		if r.re.MatchString(sql) {
			return r.Timeout, r.Pattern
		}
	}
	return m.fallback, ""
}

// Context derives the statement context for sql. When no timeout applies
// the parent is returned with a no-op cancel.
func (m *Manager) Context(ctx context.Context, sql string) (context.Context, context.CancelFunc) {
	if m == nil {
		return ctx, func() {}
	}
	if d := m.For(sql); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return ctx, func() {}
}
