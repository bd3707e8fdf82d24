package marshal

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Error is a marshalling failure: an unsupported column type or a value that
// has no JSON representation.
type Error struct {
	Column   string
	TypeName string
	Reason   string
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("marshal error")
	if e.Column != "" {
		fmt.Fprintf(&sb, ": column %q", e.Column)
	}
	if e.TypeName != "" {
		fmt.Fprintf(&sb, " (type %s)", e.TypeName)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Reason)
	return sb.String()
}

// Column is the metadata the marshaller needs for one result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

const (
	tsLayout   = "2006-01-02T15:04:05.000000"
	tstzLayout = "2006-01-02T15:04:05.000000Z07:00"
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05.999999"
	ttzLayout  = "15:04:05.999999-07:00"
)

var aliases = map[string]string{
	"smallint":                    "int2",
	"integer":                     "int4",
	"int":                         "int4",
	"bigint":                      "int8",
	"real":                        "float4",
	"double precision":            "float8",
	"float":                       "float8",
	"decimal":                     "numeric",
	"character varying":           "varchar",
	"character":                   "bpchar",
	"boolean":                     "bool",
	"timestamp without time zone": "timestamp",
	"timestamp with time zone":    "timestamptz",
	"time without time zone":      "time",
	"time with time zone":         "timetz",
}

// CanonicalType folds a driver-reported type name to the canonical
// PostgreSQL short name used by Convert.
func CanonicalType(typeName string) string {
	name := strings.ToLower(strings.TrimSpace(typeName))
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// Supported reports whether Convert knows how to marshal the type.
func Supported(typeName string) bool {
	switch CanonicalType(typeName) {
	case "int2", "int4", "int8", "float4", "float8", "numeric",
		"text", "varchar", "bpchar", "name", "bool",
		"timestamp", "timestamptz", "date", "time", "timetz",
		"uuid", "json", "jsonb":
		return true
	}
	return false
}

// Convert marshals a single raw driver value of the declared column type.
// A null value yields Null for every type, including unsupported ones.
func Convert(typeName string, v any) (Value, error) {
	v, null := deref(v)
	if null {
		return Null(), nil
	}

	canonical := CanonicalType(typeName)
	var (
		out Value
		err error
	)
	switch canonical {
	case "int2", "int4", "int8":
		out, err = toInteger(v)
	case "float4":
		out, err = toFloat(v, 32)
	case "float8":
		out, err = toFloat(v, 64)
	case "numeric":
		out, err = toDecimal(v)
	case "text", "varchar", "name":
		out, err = toText(v, false)
	case "bpchar":
		out, err = toText(v, true)
	case "bool":
		out, err = toBool(v)
	case "timestamp":
		out, err = toTimestamp(v, false)
	case "timestamptz":
		out, err = toTimestamp(v, true)
	case "date":
		out, err = toDate(v)
	case "time":
		out, err = toTime(v, false)
	case "timetz":
		out, err = toTime(v, true)
	case "uuid":
		out, err = toUUID(v)
	case "json", "jsonb":
		out, err = toJSON(v)
	default:
		return Value{}, &Error{TypeName: typeName, Reason: fmt.Sprintf("unsupported column type %q", typeName)}
	}
	if err != nil {
		if me, ok := err.(*Error); ok {
			me.TypeName = canonical
			return Value{}, me
		}
		return Value{}, &Error{TypeName: canonical, Reason: err.Error()}
	}
	return out, nil
}

// Rows converts every cell of a result. The first failing cell fails the
// whole result and names its column.
func Rows(columns []Column, raw [][]any) ([]Row, error) {
	rows := make([]Row, 0, len(raw))
	for _, values := range raw {
		if len(values) != len(columns) {
			return nil, &Error{Reason: fmt.Sprintf("row has %d values for %d columns", len(values), len(columns))}
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			val, err := Convert(col.Type, values[i])
			if err != nil {
				if me, ok := err.(*Error); ok {
					me.Column = col.Name
				}
				return nil, err
			}
			row[i] = Field{Name: col.Name, Value: val}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// deref unwraps pointers and reports driver-level nulls, including pgtype
// values whose Valid flag is false.
func deref(v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, true
		}
		return deref(rv.Elem().Interface())
	}
	switch val := v.(type) {
	case pgtype.Int2:
		return val, !val.Valid
	case pgtype.Int4:
		return val, !val.Valid
	case pgtype.Int8:
		return val, !val.Valid
	case pgtype.Float4:
		return val, !val.Valid
	case pgtype.Float8:
		return val, !val.Valid
	case pgtype.Numeric:
		return val, !val.Valid
	case pgtype.Text:
		return val, !val.Valid
	case pgtype.Bool:
		return val, !val.Valid
	case pgtype.Timestamp:
		return val, !val.Valid
	case pgtype.Timestamptz:
		return val, !val.Valid
	case pgtype.Date:
		return val, !val.Valid
	case pgtype.Time:
		return val, !val.Valid
	case pgtype.UUID:
		return val, !val.Valid
	}
	return v, false
}

func mismatch(v any) error {
	return &Error{Reason: fmt.Sprintf("unexpected driver value of Go type %T", v)}
}

func textOf(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	}
	return "", false
}

func toInteger(v any) (Value, error) {
	var n int64
	switch val := v.(type) {
	case int16:
		n = int64(val)
	case int32:
		n = int64(val)
	case int64:
		n = val
	case int:
		n = int64(val)
	case int8:
		n = int64(val)
	case uint8:
		n = int64(val)
	case uint16:
		n = int64(val)
	case uint32:
		n = int64(val)
	case pgtype.Int2:
		n = int64(val.Int16)
	case pgtype.Int4:
		n = int64(val.Int32)
	case pgtype.Int8:
		n = val.Int64
	default:
		s, ok := textOf(v)
		if !ok {
			return Value{}, mismatch(v)
		}
		parsed, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Value{}, &Error{Reason: fmt.Sprintf("invalid integer %q", s)}
		}
		n = parsed
	}
	return Value{kind: KindInteger, i: n}, nil
}

func toFloat(v any, bits int) (Value, error) {
	var f float64
	switch val := v.(type) {
	case float32:
		f = float64(val)
	case float64:
		f = val
	case pgtype.Float4:
		f = float64(val.Float32)
	case pgtype.Float8:
		f = val.Float64
	default:
		s, ok := textOf(v)
		if !ok {
			return Value{}, mismatch(v)
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), bits)
		if err != nil {
			return Value{}, &Error{Reason: fmt.Sprintf("invalid float %q", s)}
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, &Error{Reason: fmt.Sprintf("value %v has no JSON representation", f)}
	}
	return Value{kind: KindFloat, f: f, f32: bits == 32}, nil
}

var decimalPattern = regexp.MustCompile(`^[-+]?(\d+(\.\d*)?|\.\d+)([eE][-+]?\d+)?$`)

func toDecimal(v any) (Value, error) {
	var digits string
	switch val := v.(type) {
	case pgtype.Numeric:
		if val.NaN || val.InfinityModifier != pgtype.Finite {
			return Value{}, &Error{Reason: "NaN and Infinity have no JSON representation"}
		}
		b, err := val.MarshalJSON()
		if err != nil {
			return Value{}, &Error{Reason: err.Error()}
		}
		digits = string(b)
	case int64, int32, int16, int:
		digits = fmt.Sprintf("%d", val)
	default:
		s, ok := textOf(v)
		if !ok {
			return Value{}, mismatch(v)
		}
		digits = strings.TrimSpace(s)
	}
	if !decimalPattern.MatchString(digits) {
		return Value{}, &Error{Reason: fmt.Sprintf("decimal %q has no JSON representation", digits)}
	}
	return Value{kind: KindDecimal, s: digits}, nil
}

func toText(v any, trimPadding bool) (Value, error) {
	var s string
	if t, ok := v.(pgtype.Text); ok {
		s = t.String
	} else {
		var isText bool
		s, isText = textOf(v)
		if !isText {
			return Value{}, mismatch(v)
		}
	}
	if trimPadding {
		s = strings.TrimRight(s, " ")
	}
	return Value{kind: KindText, s: s}, nil
}

func toBool(v any) (Value, error) {
	switch val := v.(type) {
	case bool:
		return Value{kind: KindBoolean, b: val}, nil
	case pgtype.Bool:
		return Value{kind: KindBoolean, b: val.Bool}, nil
	}
	s, ok := textOf(v)
	if !ok {
		return Value{}, mismatch(v)
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return Value{}, &Error{Reason: fmt.Sprintf("invalid boolean %q", s)}
	}
	return Value{kind: KindBoolean, b: b}, nil
}

func infinity(m pgtype.InfinityModifier) (Value, bool) {
	switch m {
	case pgtype.Infinity:
		return Value{kind: KindTimestamp, s: "infinity"}, true
	case pgtype.NegativeInfinity:
		return Value{kind: KindTimestamp, s: "-infinity"}, true
	}
	return Value{}, false
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999Z07:00:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

func formatTimestamp(t time.Time, withZone bool) Value {
	if withZone {
		return Value{kind: KindTimestamp, s: t.UTC().Format(tstzLayout)}
	}
	return Value{kind: KindTimestamp, s: t.Format(tsLayout)}
}

func toTimestamp(v any, withZone bool) (Value, error) {
	switch val := v.(type) {
	case time.Time:
		return formatTimestamp(val, withZone), nil
	case pgtype.InfinityModifier:
		if inf, ok := infinity(val); ok {
			return inf, nil
		}
		return Value{}, mismatch(v)
	case pgtype.Timestamp:
		if inf, ok := infinity(val.InfinityModifier); ok {
			return inf, nil
		}
		return formatTimestamp(val.Time, withZone), nil
	case pgtype.Timestamptz:
		if inf, ok := infinity(val.InfinityModifier); ok {
			return inf, nil
		}
		return formatTimestamp(val.Time, withZone), nil
	}
	s, ok := textOf(v)
	if !ok {
		return Value{}, mismatch(v)
	}
	s = strings.TrimSpace(s)
	if s == "infinity" || s == "-infinity" {
		return Value{kind: KindTimestamp, s: s}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return formatTimestamp(t, withZone), nil
		}
	}
	return Value{}, &Error{Reason: fmt.Sprintf("invalid timestamp %q", s)}
}

func toDate(v any) (Value, error) {
	switch val := v.(type) {
	case time.Time:
		return Value{kind: KindTimestamp, s: val.Format(dateLayout)}, nil
	case pgtype.InfinityModifier:
		if inf, ok := infinity(val); ok {
			return inf, nil
		}
		return Value{}, mismatch(v)
	case pgtype.Date:
		if inf, ok := infinity(val.InfinityModifier); ok {
			return inf, nil
		}
		return Value{kind: KindTimestamp, s: val.Time.Format(dateLayout)}, nil
	}
	s, ok := textOf(v)
	if !ok {
		return Value{}, mismatch(v)
	}
	s = strings.TrimSpace(s)
	if s == "infinity" || s == "-infinity" {
		return Value{kind: KindTimestamp, s: s}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Value{}, &Error{Reason: fmt.Sprintf("invalid date %q", s)}
	}
	return Value{kind: KindTimestamp, s: t.Format(dateLayout)}, nil
}

func toTime(v any, withZone bool) (Value, error) {
	switch val := v.(type) {
	case time.Time:
		if withZone {
			return Value{kind: KindTimestamp, s: val.Format(ttzLayout)}, nil
		}
		return Value{kind: KindTimestamp, s: val.Format(timeLayout)}, nil
	case pgtype.Time:
		return Value{kind: KindTimestamp, s: formatMicroseconds(val.Microseconds)}, nil
	}
	// Text-format time and timetz values are already ISO-8601 compatible.
	s, ok := textOf(v)
	if !ok {
		return Value{}, mismatch(v)
	}
	return Value{kind: KindTimestamp, s: strings.TrimSpace(s)}, nil
}

// formatMicroseconds renders microseconds since midnight as HH:MM:SS[.ffffff].
func formatMicroseconds(us int64) string {
	hours := us / 3_600_000_000
	us -= hours * 3_600_000_000
	minutes := us / 60_000_000
	us -= minutes * 60_000_000
	seconds := us / 1_000_000
	us -= seconds * 1_000_000
	if us > 0 {
		return strings.TrimRight(fmt.Sprintf("%02d:%02d:%02d.%06d", hours, minutes, seconds, us), "0")
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

func toUUID(v any) (Value, error) {
	var id uuid.UUID
	switch val := v.(type) {
	case uuid.UUID:
		id = val
	case [16]byte:
		id = uuid.UUID(val)
	case pgtype.UUID:
		id = uuid.UUID(val.Bytes)
	case []byte:
		if len(val) == 16 {
			id = uuid.UUID(val)
			break
		}
		parsed, err := uuid.ParseBytes(val)
		if err != nil {
			return Value{}, &Error{Reason: fmt.Sprintf("invalid uuid %q", val)}
		}
		id = parsed
	case string:
		parsed, err := uuid.Parse(strings.TrimSpace(val))
		if err != nil {
			return Value{}, &Error{Reason: fmt.Sprintf("invalid uuid %q", val)}
		}
		id = parsed
	default:
		return Value{}, mismatch(v)
	}
	return Value{kind: KindUUID, s: id.String()}, nil
}

func toJSON(v any) (Value, error) {
	var raw []byte
	switch val := v.(type) {
	case json.RawMessage:
		raw = val
	case []byte:
		raw = val
	case string:
		raw = []byte(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return Value{}, &Error{Reason: err.Error()}
		}
		raw = b
	}
	if !json.Valid(raw) {
		return Value{}, &Error{Reason: "column holds invalid JSON"}
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return Value{kind: KindJSON, raw: out}, nil
}
