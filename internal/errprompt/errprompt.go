// Package errprompt attaches guidance hints to error messages that match
// configured patterns.
package errprompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule pairs an error message pattern with the hint shown when it matches.
type Rule struct {
	Pattern string
	Message string
}

type compiledRule struct {
	re *regexp.Regexp
	Rule
}

// Matcher checks error messages against patterns and returns hints.
// Rules are evaluated top to bottom and every matching rule contributes.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher compiles rules, failing on the first invalid pattern.
func NewMatcher(rules []Rule) (*Matcher, error) {
	m := &Matcher{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("errprompt: invalid regex pattern %q: %v", r.Pattern, err)
		}
		m.rules = append(m.rules, compiledRule{re: re, Rule: r})
	}
	return m, nil
}

// matching returns the rules whose pattern matches errMsg, in order.
func (m *Matcher) matching(errMsg string) []Rule {
	if m == nil {
		return nil
	}
	var hits []Rule
	for _, r := range m.rules {
		if r.re.MatchString(errMsg) {
			hits = append(hits, r.Rule)
		}
	}
	return hits
}

// Match returns the hints of all matching rules joined by newlines, or ""
// when nothing matches.
func (m *Matcher) Match(errMsg string) string {
	var b strings.Builder
	for i, r := range m.matching(errMsg) {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(r.Message)
	}
	return b.String()
}

// MatchedPatterns lists the patterns that matched, for logging. It returns
// nil when nothing matches.
func (m *Matcher) MatchedPatterns(errMsg string) []string {
	var patterns []string
	for _, r := range m.matching(errMsg) {
		patterns = append(patterns, r.Pattern)
	}
	return patterns
}
