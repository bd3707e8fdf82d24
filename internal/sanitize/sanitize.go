// Package sanitize redacts text in query results with regex replacement
// rules, for example to mask phone numbers before rows reach a client.
package sanitize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/rickchristie/postgres-mcp-gateway/internal/marshal"
)

// Rule replaces every match of Pattern with Replacement, which may use
// $1 style group references.
type Rule struct {
	Pattern     string
	Replacement string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Sanitizer applies regex-based sanitization to text and JSON cells.
// It is safe for concurrent use.
type Sanitizer struct {
	rules []compiledRule
}

// NewSanitizer creates a new Sanitizer. Returns an error on invalid regex patterns.
func NewSanitizer(rules []Rule) (*Sanitizer, error) {
	s := &Sanitizer{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitize: invalid regex pattern %q: %v", r.Pattern, err)
		}
		s.rules = append(s.rules, compiledRule{pattern: re, replacement: r.Replacement})
	}
	return s, nil
}

// HasRules returns true if the sanitizer has any rules configured.
func (s *Sanitizer) HasRules() bool {
	return s != nil && len(s.rules) > 0
}

// SanitizeRows rewrites Text cells and the string members of JSON cells in
// place. Other kinds (numbers, decimals, timestamps, uuids) are left alone.
func (s *Sanitizer) SanitizeRows(rows []marshal.Row) error {
	if !s.HasRules() {
		return nil
	}
	for _, row := range rows {
		for i := range row {
			v, err := s.sanitizeCell(row[i].Value)
			if err != nil {
				return fmt.Errorf("sanitize: column %q: %w", row[i].Name, err)
			}
			row[i].Value = v
		}
	}
	return nil
}

func (s *Sanitizer) sanitizeCell(v marshal.Value) (marshal.Value, error) {
	switch v.Kind() {
	case marshal.KindText:
		return marshal.Text(s.sanitizeString(v.Str())), nil
	case marshal.KindJSON:
		dec := json.NewDecoder(bytes.NewReader(v.Raw()))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err != nil {
			return v, err
		}
		doc, changed := s.sanitizeValue(doc)
		if !changed {
			return v, nil
		}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(doc); err != nil {
			return v, err
		}
		return marshal.JSON(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})), nil
	default:
		return v, nil
	}
}

func (s *Sanitizer) sanitizeString(str string) string {
	for _, rule := range s.rules {
		str = rule.pattern.ReplaceAllString(str, rule.replacement)
	}
	return str
}

// sanitizeValue walks a decoded JSON document and rewrites its strings,
// reporting whether any string changed. Maps and slices are edited in
// place. json.Number is a distinct type, so numeric members never reach the
// string rules.
func (s *Sanitizer) sanitizeValue(v any) (any, bool) {
	changed := false
	switch node := v.(type) {
	case string:
		out := s.sanitizeString(node)
		return out, out != node
	case map[string]any:
		for key, child := range node {
			out, c := s.sanitizeValue(child)
			node[key], changed = out, changed || c
		}
	case []any:
		for i, child := range node {
			out, c := s.sanitizeValue(child)
			node[i], changed = out, changed || c
		}
	}
	return v, changed
}
