// Package template substitutes {{name.field}} references in workflow step parameter templates.
//
// Values in the context are JSON text and are inserted verbatim, so a reference that stands
// where a JSON value is expected produces that value. A reference that is the entire content
// of a JSON string ("{{first.result}}") replaces the string, quotes included. A reference
// embedded in a longer string inserts the unquoted content of a JSON string value.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Context maps dotted references, such as "parameters.count" or "first.result", to JSON text.
type Context map[string]string

// Set binds the JSON encoding of value to reference.
func (c Context) Set(reference string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c[reference] = string(data)

	return nil
}

type tokenKind int

const (
	textToken tokenKind = iota
	referenceToken
)

type token struct {
	kind  tokenKind
	value string
	// quoted is true when the reference is the only content of a JSON string.
	quoted bool
	// inString is true when the reference sits inside a JSON string with other content.
	inString bool
}

// SyntaxError describes a malformed template.
type SyntaxError struct {
	Offset  int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template syntax error at offset %v: %v", e.Offset, e.Message)
}

// References returns every reference used in tmpl, in order of appearance.
func References(tmpl string) ([]string, error) {
	tokens, err := tokenize(tmpl)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0)
	for _, t := range tokens {
		if t.kind == referenceToken {
			result = append(result, t.value)
		}
	}

	return result, nil
}

// Render resolves every reference in tmpl against ctx. An empty template renders as "{}".
func Render(tmpl string, ctx Context) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		return "{}", nil
	}

	tokens, err := tokenize(tmpl)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, t := range tokens {
		if t.kind == textToken {
			sb.WriteString(t.value)
			continue
		}

		value, ok := ctx[t.value]
		if !ok {
			return "", fmt.Errorf("undefined template reference '%v'", t.value)
		}

		switch {
		case t.quoted:
			if json.Valid([]byte(value)) {
				sb.WriteString(value)
			} else {
				sb.WriteString(quote(value))
			}
		case t.inString:
			sb.WriteString(stringContent(value))
		default:
			sb.WriteString(value)
		}
	}

	return sb.String(), nil
}

// quote returns s as a JSON string literal.
func quote(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

// stringContent returns the escaped content of a JSON string literal, or s escaped as string content.
func stringContent(s string) string {
	var decoded string
	if err := json.Unmarshal([]byte(s), &decoded); err == nil {
		s = decoded
	}
	literal := quote(s)

	return literal[1 : len(literal)-1]
}

func tokenize(tmpl string) ([]token, error) {
	tokens := make([]token, 0)
	var text strings.Builder
	inString := false
	escaped := false

	flush := func() {
		if text.Len() > 0 {
			tokens = append(tokens, token{kind: textToken, value: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(tmpl); {
		if strings.HasPrefix(tmpl[i:], "{{") {
			end := strings.Index(tmpl[i+2:], "}}")
			if end < 0 {
				return nil, &SyntaxError{Offset: i, Message: "unterminated reference"}
			}
			reference := strings.TrimSpace(tmpl[i+2 : i+2+end])
			if !validReference(reference) {
				return nil, &SyntaxError{Offset: i, Message: fmt.Sprintf("invalid reference '%v'", reference)}
			}
			next := i + 2 + end + 2

			t := token{kind: referenceToken, value: reference}
			if inString {
				current := text.String()
				wholeString := strings.HasSuffix(current, `"`) && !strings.HasSuffix(current, `\"`) &&
					next < len(tmpl) && tmpl[next] == '"'
				if wholeString {
					text.Reset()
					text.WriteString(strings.TrimSuffix(current, `"`))
					t.quoted = true
					next++
					inString = false
				} else {
					t.inString = true
				}
			}

			flush()
			tokens = append(tokens, t)
			i = next
			continue
		}

		c := tmpl[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		}
		text.WriteByte(c)
		i++
	}
	flush()

	return tokens, nil
}

func validReference(reference string) bool {
	if reference == "" {
		return false
	}

	for _, part := range strings.Split(reference, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
				return false
			}
		}
	}

	return true
}
