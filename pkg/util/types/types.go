package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONObject is a wrapper type to support JSONB database operations on a JSON object.
// Nil values are stored as "{}".
type JSONObject map[string]interface{}

// Value returns the JSON encoding of o.
func (o JSONObject) Value() (driver.Value, error) {
	if o == nil {
		return json.Marshal(make(map[string]interface{}))
	}

	return json.Marshal(map[string]interface{}(o))
}

// Scan decodes a JSONB column into o.
func (o *JSONObject) Scan(src interface{}) error {
	var source []byte
	switch t := src.(type) {
	case string:
		source = []byte(t)
	case []byte:
		source = t
	case nil:
		*o = make(JSONObject)
		return nil
	default:
		return errors.New("incompatible type for JSONObject")
	}

	if len(source) == 0 {
		*o = make(JSONObject)
		return nil
	}

	result := make(map[string]interface{})
	if err := json.Unmarshal(source, &result); err != nil {
		return err
	}
	*o = result

	return nil
}

// Copy returns a shallow copy of o.
func (o JSONObject) Copy() JSONObject {
	result := make(JSONObject, len(o))
	for key, value := range o {
		result[key] = value
	}

	return result
}

// JSONRaw is a JSONB column kept in its encoded form.
type JSONRaw json.RawMessage

// Value returns r, or "null" when r is empty.
func (r JSONRaw) Value() (driver.Value, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}

	return []byte(r), nil
}

// Scan copies the column bytes into r.
func (r *JSONRaw) Scan(src interface{}) error {
	switch t := src.(type) {
	case string:
		*r = JSONRaw(t)
	case []byte:
		*r = append((*r)[0:0], t...)
	case nil:
		*r = nil
	default:
		return errors.New("incompatible type for JSONRaw")
	}

	return nil
}

// MarshalJSON returns r as is.
func (r JSONRaw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}

	return r, nil
}

// UnmarshalJSON stores a copy of data.
func (r *JSONRaw) UnmarshalJSON(data []byte) error {
	*r = append((*r)[0:0], data...)

	return nil
}
