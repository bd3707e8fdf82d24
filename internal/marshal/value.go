// Package marshal converts database column values into a canonical,
// lossless JSON representation.
//
// Every cell becomes a [Value] whose kind is decided by the declared column
// type, not by the Go type the driver happened to return. Both pgx (binary
// and text decoded values) and database/sql drivers (mostly []byte text) are
// accepted for the same declared type.
package marshal

import (
	"encoding/json"
	"strconv"
)

// Kind tags the active member of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindDecimal
	KindText
	KindBoolean
	KindTimestamp
	KindUUID
	KindJSON
)

var kindNames = [...]string{
	KindNull:      "null",
	KindInteger:   "integer",
	KindFloat:     "float",
	KindDecimal:   "decimal",
	KindText:      "text",
	KindBoolean:   "boolean",
	KindTimestamp: "timestamp",
	KindUUID:      "uuid",
	KindJSON:      "json",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a single marshalled cell. The zero Value is Null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	f32  bool
	b    bool
	s    string // text, decimal digits, timestamp, uuid
	raw  json.RawMessage
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Text returns a Text value.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// JSON returns a JSON value holding raw, which must be valid JSON.
func JSON(raw json.RawMessage) Value { return Value{kind: KindJSON, raw: raw} }

// Kind returns the active tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int returns the payload of an Integer value.
func (v Value) Int() int64 { return v.i }

// Float returns the payload of a Float value.
func (v Value) Float() float64 { return v.f }

// Bool returns the payload of a Boolean value.
func (v Value) Bool() bool { return v.b }

// Str returns the textual payload of Text, Decimal, Timestamp and UUID values.
func (v Value) Str() string { return v.s }

// Raw returns the JSON payload of a JSON value.
func (v Value) Raw() json.RawMessage { return v.raw }

// MarshalJSON encodes v. Conversion already rejected every value without a
// JSON form, so this only fails on a corrupted Value.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindInteger:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		if v.f32 {
			return json.Marshal(float32(v.f))
		}
		return json.Marshal(v.f)
	case KindBoolean:
		return strconv.AppendBool(nil, v.b), nil
	case KindDecimal, KindText, KindTimestamp, KindUUID:
		return json.Marshal(v.s)
	case KindJSON:
		return v.raw, nil
	default:
		return nil, &Error{Reason: "unknown value kind " + v.kind.String()}
	}
}

// Field is one named cell of a Row.
type Field struct {
	Name  string
	Value Value
}

// Row is an ordered list of fields in projection order.
type Row []Field

// Get returns the value of the first field called name.
func (r Row) Get(name string) (Value, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// MarshalJSON encodes the row as a JSON object whose keys keep the
// projection order.
func (r Row) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 16*len(r)+2)
	buf = append(buf, '{')
	for i, f := range r {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf = append(buf, val...)
	}
	buf = append(buf, '}')
	return buf, nil
}
