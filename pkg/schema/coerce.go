package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
)

var datetimeLayouts = []string{
	DateTimeFormat,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// Coerce converts value into the canonical representation of t.
func Coerce(t Type, value interface{}) (interface{}, error) {
	switch t {
	case Boolean:
		return coerceBoolean(value)
	case Date:
		return coerceDate(value)
	case DateTime:
		return coerceDateTime(value)
	case File:
		return coerceFile(value)
	case Float:
		return coerceFloat(value)
	case Integer:
		return coerceInteger(value)
	case JSON:
		return coerceJSON(value)
	case String:
		return coerceString(value)
	case Text:
		if b, ok := value.([]byte); ok {
			return string(b), nil
		}
		return coerceString(value)
	}

	return nil, fmt.Errorf("unknown parameter type '%v'", t)
}

// CoerceLiteral converts a stringified literal, such as a default or an option value, into t.
func CoerceLiteral(t Type, literal string) (interface{}, error) {
	return Coerce(t, literal)
}

func coerceBoolean(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			return true, nil
		case "0", "false", "f", "no", "n", "off":
			return false, nil
		}
	case float64:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case json.Number:
		if v.String() == "0" || v.String() == "1" {
			return v.String() == "1", nil
		}
	case int:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	}

	return nil, errors.New("value could not be parsed to a boolean")
}

func coerceInteger(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return int64(v), nil
		}
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i, nil
		}
	}

	return nil, errors.New("value is not a valid integer")
}

func coerceFloat(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, nil
		}
	}

	return nil, errors.New("value is not a valid float")
}

func coerceDate(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case time.Time:
		return v.Format(DateFormat), nil
	case string:
		if d, err := time.Parse(DateFormat, strings.TrimSpace(v)); err == nil {
			return d.Format(DateFormat), nil
		}
	}

	return nil, fmt.Errorf("invalid date format, expected %v", "YYYY-MM-DD")
}

func coerceDateTime(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(DateTimeFormat), nil
	case string:
		trimmed := strings.TrimSpace(v)
		for _, layout := range datetimeLayouts {
			if d, err := time.Parse(layout, trimmed); err == nil {
				return d.UTC().Format(DateTimeFormat), nil
			}
		}
	}

	return nil, fmt.Errorf("invalid datetime format, expected %v", "YYYY-MM-DDTHH:MM:SSZ")
}

func coerceString(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int:
		return strconv.Itoa(v), nil
	case json.Number:
		return v.String(), nil
	}

	return nil, errors.New("value is not a valid string")
}

// coerceFile accepts a URL or the name of a file already placed in the object store.
func coerceFile(value interface{}) (interface{}, error) {
	v, ok := value.(string)
	if !ok || strings.TrimSpace(v) == "" {
		return nil, errors.New("value must be a file URL or an uploaded file name")
	}

	if strings.Contains(v, "://") && !govalidator.IsRequestURL(v) {
		return nil, errors.New("value is not a valid file URL")
	}

	return v, nil
}

// coerceJSON parses stringified JSON. Structured values are returned unchanged.
func coerceJSON(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		var parsed interface{}
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return nil, fmt.Errorf("invalid JSON: %v", err)
		}
		return parsed, nil
	case []byte:
		var parsed interface{}
		if err := json.Unmarshal(v, &parsed); err != nil {
			return nil, fmt.Errorf("invalid JSON: %v", err)
		}
		return parsed, nil
	}

	return value, nil
}
