package configure

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// prompter reads one answer per line. An empty answer keeps the value shown.
type prompter struct {
	scanner   *bufio.Scanner
	output    io.Writer
	isNew     bool
	exhausted bool // input reached EOF; every further prompt keeps its value
}

func (p *prompter) readLine() string {
	if p.scanner.Scan() {
		return strings.TrimSpace(p.scanner.Text())
	}
	p.exhausted = true
	return ""
}

func (p *prompter) valueLabel() string {
	if p.isNew {
		return "default"
	}
	return "current"
}

// label renders "field [hint] (current: value): ".
func (p *prompter) label(field, hint, shown string) string {
	if hint != "" {
		field += " [" + hint + "]"
	}
	return fmt.Sprintf("%s (%s: %s): ", field, p.valueLabel(), shown)
}

// ask prints text and reads answers until parse and check accept one. An
// empty answer yields current, which must still pass check unless input is
// exhausted. Either func may be nil.
func ask[T any](p *prompter, text string, current T, parse func(string) (T, error), check func(T) error) T {
	for {
		fmt.Fprint(p.output, text)
		input := p.readLine()
		val := current
		if input != "" {
			parsed, err := parse(input)
			if err != nil {
				fmt.Fprintf(p.output, "  %v, try again.\n", err)
				continue
			}
			val = parsed
		} else if p.exhausted {
			return current
		}
		if check != nil {
			if err := check(val); err != nil {
				fmt.Fprintf(p.output, "  %v, try again.\n", err)
				continue
			}
		}
		return val
	}
}

func parseString(s string) (string, error) { return s, nil }

func parseInt(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("Invalid integer %q", s)
	}
	return v, nil
}

func atLeast[T int | float64](floor T) func(T) error {
	return func(v T) error {
		if v < floor {
			return fmt.Errorf("Value must be >= %v", floor)
		}
		return nil
	}
}

func (p *prompter) promptString(field, current, hint string) string {
	return ask(p, p.label(field, hint, strconv.Quote(current)), current, parseString, nil)
}

func (p *prompter) promptInt(field string, current, floor int, hint string) int {
	return ask(p, p.label(field, hint, strconv.Itoa(current)), current, parseInt, atLeast(floor))
}

func (p *prompter) promptFloat(field string, current float64, hint string) float64 {
	return ask(p, p.label(field, hint, strconv.FormatFloat(current, 'g', -1, 64)), current, func(s string) (float64, error) {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("Invalid number %q", s)
		}
		return v, nil
	}, atLeast(0.0))
}

func (p *prompter) promptBool(field string, current bool) bool {
	return ask(p, p.label(field, "", strconv.FormatBool(current)), current, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		}
		return false, fmt.Errorf("Invalid value %q, use true/false/yes/no", s)
	}, nil)
}

func (p *prompter) promptDuration(field, current, hint string) string {
	return ask(p, p.label(field, hint, strconv.Quote(current)), current, func(s string) (string, error) {
		if _, err := time.ParseDuration(s); err != nil {
			return "", fmt.Errorf("Invalid Go duration %q", s)
		}
		return s, nil
	}, nil)
}

func (p *prompter) promptTimezone(current string) string {
	text := p.label("timezone", "e.g. UTC, America/New_York, empty = server default", strconv.Quote(current))
	return ask(p, text, current, func(s string) (string, error) {
		if _, err := time.LoadLocation(s); err != nil {
			return "", fmt.Errorf("Invalid timezone %q, please enter a valid IANA timezone", s)
		}
		return s, nil
	}, nil)
}

func (p *prompter) promptEnum(field, current string, allowed []string) string {
	options := strings.Join(allowed, ", ")
	text := fmt.Sprintf("%s (%s: %q, options: %s): ", field, p.valueLabel(), current, options)
	return ask(p, text, current, func(s string) (string, error) {
		for _, v := range allowed {
			if s == v {
				return s, nil
			}
		}
		return "", fmt.Errorf("Invalid value %q, must be one of: %s", s, options)
	}, nil)
}

func (p *prompter) promptNewField(name string) string {
	return ask(p, "  "+name+": ", "", parseString, nil)
}

func (p *prompter) promptNewRegexField(name string) string {
	return ask(p, "  "+name+" (regex): ", "", func(s string) (string, error) {
		if _, err := regexp.Compile(s); err != nil {
			return "", fmt.Errorf("Invalid regex %q: %v", s, err)
		}
		return s, nil
	}, nil)
}

func (p *prompter) promptNewPositiveIntField(name string) int {
	return ask(p, "  "+name+" (must be > 0): ", 0, parseInt, func(v int) error {
		if v <= 0 {
			return errors.New("Value is required and must be > 0")
		}
		return nil
	})
}

// editList runs the add/remove loop for one array field. show renders an
// entry and add prompts for a new one.
func editList[T any](p *prompter, noun string, items []T, show func(T) string, add func() T) []T {
	for {
		if len(items) == 0 {
			fmt.Fprintf(p.output, "  (no entries)\n")
		}
		for i, item := range items {
			fmt.Fprintf(p.output, "  [%d] %s\n", i, show(item))
		}
		fmt.Fprintf(p.output, "[a]dd, [r]emove, [c]ontinue? ")
		switch strings.ToLower(p.readLine()) {
		case "a":
			items = append(items, add())
		case "r":
			items = removeByIndex(p, noun, items)
		case "c", "":
			return items
		default:
			fmt.Fprintf(p.output, "  Unknown choice, try again.\n")
		}
	}
}

// removeByIndex removes the entry whose index the user enters.
func removeByIndex[T any](p *prompter, noun string, items []T) []T {
	if len(items) == 0 {
		fmt.Fprintf(p.output, "  No %s entries to remove.\n", noun)
		return items
	}
	fmt.Fprintf(p.output, "  Index to remove: ")
	idx, err := strconv.Atoi(p.readLine())
	if err != nil || idx < 0 || idx >= len(items) {
		fmt.Fprintf(p.output, "  Invalid index.\n")
		return items
	}
	return append(items[:idx], items[idx+1:]...)
}
