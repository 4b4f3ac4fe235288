package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONList is a list column stored as JSON text.
//
// The stored text is kept verbatim: it is what backups carry and what a restore
// writes back, so a value survives export/restore byte for byte. Use Decode and
// NewJSONList to move between the stored form and Go values.
type JSONList struct {
	Raw   string
	Valid bool
}

// NewJSONList encodes v as a JSON list column
func NewJSONList(v interface{}) (JSONList, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return JSONList{}, fmt.Errorf("encode json list: %w", err)
	}
	if !isJSONArray(data) {
		return JSONList{}, fmt.Errorf("encode json list: %s is not a list", data)
	}
	return JSONList{Raw: string(data), Valid: true}, nil
}

// EmptyJSONList returns the stored form of an empty list
func EmptyJSONList() JSONList {
	return JSONList{Raw: "[]", Valid: true}
}

// Decode unmarshals the stored text into v. A NULL or blank column decodes as
// an empty list.
func (l JSONList) Decode(v interface{}) error {
	if !l.Valid || l.Raw == "" {
		return json.Unmarshal([]byte("[]"), v)
	}
	return json.Unmarshal([]byte(l.Raw), v)
}

// Items decodes the list into untyped values, for API responses
func (l JSONList) Items() ([]interface{}, error) {
	items := []interface{}{}
	if err := l.Decode(&items); err != nil {
		return nil, err
	}
	return items, nil
}

// MarshalJSON emits the stored text as a JSON string, or null
func (l JSONList) MarshalJSON() ([]byte, error) {
	if !l.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(l.Raw)
}

// UnmarshalJSON accepts the stored form (a string), null, or a literal list.
// A literal list is kept in its compact encoding.
func (l *JSONList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case bytes.Equal(data, []byte("null")):
		*l = JSONList{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*l = JSONList{Raw: raw, Valid: true}
		return nil
	case isJSONArray(data):
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		*l = JSONList{Raw: buf.String(), Valid: true}
		return nil
	default:
		return fmt.Errorf("json list must be a string, a list or null, got %s", truncate(data, 32))
	}
}

// Scan implements sql.Scanner
func (l *JSONList) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*l = JSONList{}
	case string:
		*l = JSONList{Raw: v, Valid: true}
	case []byte:
		*l = JSONList{Raw: string(v), Valid: true}
	default:
		return fmt.Errorf("cannot scan %T into JSONList", value)
	}
	return nil
}

// Value implements driver.Valuer
func (l JSONList) Value() (driver.Value, error) {
	if !l.Valid {
		return nil, nil
	}
	return l.Raw, nil
}

func isJSONArray(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '[' && json.Valid(data)
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
