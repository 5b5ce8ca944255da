package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	default:
		return "null"
	}
}

// Value is a single scalar field of a Record. The zero Value is null.
type Value struct {
	kind Kind
	str  string // string payload, or the original text of a date
	num  float64
	b    bool
	t    time.Time
}

// Null is the null Value.
var Null = Value{}

func String(s string) Value { return Value{kind: KindString, str: s} }

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Date builds a date Value that keeps raw as its string form.
func Date(raw string, t time.Time) Value { return Value{kind: KindDate, str: raw, t: t} }

// Time builds a date Value formatted as RFC 3339.
func Time(t time.Time) Value { return Date(t.UTC().Format(time.RFC3339), t) }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Date returns the parsed time of a date Value. ok is false for any other kind.
func (v Value) Date() (time.Time, bool) {
	if v.kind != KindDate {
		return time.Time{}, false
	}
	return v.t, true
}

// String returns the form used for every comparison: strings verbatim,
// numbers in shortest decimal form, dates as their original text and null
// as the empty string.
func (v Value) String() string {
	switch v.kind {
	case KindString, KindDate:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// IsEmpty reports whether the value is null or has an empty string form.
func (v Value) IsEmpty() bool {
	return v.kind == KindNull || v.String() == ""
}

// Equal compares kind and string form.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.String() == o.String()
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ParseDate parses the date layouts recognized when decoding JSON strings.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FromAny converts a decoded JSON value. Objects and arrays are kept as
// their JSON text.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null
	case string:
		if d, ok := ParseDate(t); ok {
			return Date(t, d)
		}
		return String(t)
	case float64:
		return Number(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case bool:
		return Bool(t)
	case time.Time:
		return Time(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return Null
		}
		return String(string(raw))
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString, KindDate:
		return json.Marshal(v.str)
	case KindNumber:
		return []byte(strconv.FormatFloat(v.num, 'f', -1, 64)), nil
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return err
	}
	*v = FromAny(x)
	return nil
}
