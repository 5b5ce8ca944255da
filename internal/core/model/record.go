package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is an open, ordered mapping from field name to Value. Fields keep
// the position of their first insertion.
type Record struct {
	keys   []string
	values map[string]Value
}

func NewRecord() Record {
	return Record{values: make(map[string]Value)}
}

// RecordOf builds a Record from alternating field/value pairs. Values go
// through FromAny, so plain Go scalars can be passed.
func RecordOf(pairs ...any) Record {
	r := NewRecord()
	for i := 0; i+1 < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			continue
		}
		if v, ok := pairs[i+1].(Value); ok {
			r.Set(name, v)
			continue
		}
		r.Set(name, FromAny(pairs[i+1]))
	}
	return r
}

// Get returns the field value, or Null when the field is absent.
func (r Record) Get(field string) Value {
	if r.values == nil {
		return Null
	}
	return r.values[field]
}

func (r Record) Has(field string) bool {
	_, ok := r.values[field]
	return ok
}

func (r *Record) Set(field string, v Value) {
	if r.values == nil {
		r.values = make(map[string]Value)
	}
	if _, ok := r.values[field]; !ok {
		r.keys = append(r.keys, field)
	}
	r.values[field] = v
}

func (r *Record) Delete(field string) {
	if _, ok := r.values[field]; !ok {
		return
	}
	delete(r.values, field)
	for i, k := range r.keys {
		if k == field {
			r.keys = append(r.keys[:i:i], r.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in insertion order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

func (r Record) Len() int { return len(r.keys) }

func (r Record) Clone() Record {
	c := Record{
		keys:   make([]string, len(r.keys)),
		values: make(map[string]Value, len(r.values)),
	}
	copy(c.keys, r.keys)
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// ID is the string form of the "id" field.
func (r Record) ID() string { return r.Get("id").String() }

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := r.values[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*r = NewRecord()
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record must be a JSON object, got %v", tok)
	}

	out := NewRecord()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected record key %v", tok)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		out.Set(key, FromAny(raw))
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}
