package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Fields is a partial or full set of record attributes stored as JSONB.
type Fields map[string]interface{}

// Value implements driver.Valuer. Nil and empty maps are stored as '{}'.
// The JSON is sent as text so Postgres can cast it to jsonb.
func (f Fields) Value() (driver.Value, error) {
	if len(f) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(map[string]interface{}(f))
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (f *Fields) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*f = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan fields: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*f = nil
		return nil
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan fields: %w", err)
	}
	*f = out
	return nil
}

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// String returns the value under key when it is a non-empty string.
func (f Fields) String(key string) (string, bool) {
	v, ok := f[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
