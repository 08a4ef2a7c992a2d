package template

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_RawValue(t *testing.T) {
	ctx := Context{"first.result": "42"}

	result, err := Render(`{"prop1": {{first.result}}}`, ctx)
	require.Nil(t, err)
	assert.Equal(t, `{"prop1": 42}`, result)
}

func TestRender_Whitespace(t *testing.T) {
	ctx := Context{"first.result": "42"}

	result, err := Render(`{"prop1": {{ first.result }}}`, ctx)
	require.Nil(t, err)
	assert.Equal(t, `{"prop1": 42}`, result)
}

func TestRender_Parameters(t *testing.T) {
	ctx := Context{}
	require.Nil(t, ctx.Set("parameters.wfprop1", 7))
	require.Nil(t, ctx.Set("parameters.name", "demo"))

	result, err := Render(`{"prop1": {{parameters.wfprop1}}, "label": {{parameters.name}}}`, ctx)
	require.Nil(t, err)

	parsed := map[string]interface{}{}
	require.Nil(t, json.Unmarshal([]byte(result), &parsed))
	assert.Equal(t, float64(7), parsed["prop1"])
	assert.Equal(t, "demo", parsed["label"])
}

func TestRender_QuotedReferenceUnquotes(t *testing.T) {
	ctx := Context{
		"first.result":  "42",
		"second.result": `{"a": [1, 2]}`,
		"third.result":  `"x"`,
	}

	result, err := Render(`{"a": "{{first.result}}", "b": "{{second.result}}", "c": "{{third.result}}"}`, ctx)
	require.Nil(t, err)
	assert.Equal(t, `{"a": 42, "b": {"a": [1, 2]}, "c": "x"}`, result)
}

func TestRender_QuotedReferenceInvalidJSON(t *testing.T) {
	ctx := Context{"first.result": `hello "world"`}

	result, err := Render(`{"a": "{{first.result}}"}`, ctx)
	require.Nil(t, err)
	assert.Equal(t, `{"a": "hello \"world\""}`, result)
}

func TestRender_EmbeddedInString(t *testing.T) {
	ctx := Context{"parameters.name": `"demo"`, "first.result": "3"}

	result, err := Render(`{"label": "run-{{parameters.name}}-{{first.result}}"}`, ctx)
	require.Nil(t, err)
	assert.Equal(t, `{"label": "run-demo-3"}`, result)
}

func TestRender_Empty(t *testing.T) {
	result, err := Render("  ", Context{})

	assert.Nil(t, err)
	assert.Equal(t, "{}", result)
}

func TestRender_UndefinedReference(t *testing.T) {
	_, err := Render(`{"prop1": {{missing.result}}}`, Context{})

	assert.EqualError(t, err, "undefined template reference 'missing.result'")
}

func TestRender_SyntaxErrors(t *testing.T) {
	_, err := Render(`{"prop1": {{first.result}`, Context{})
	assert.IsType(t, &SyntaxError{}, err)

	_, err = Render(`{"prop1": {{first..result}}}`, Context{})
	assert.IsType(t, &SyntaxError{}, err)

	_, err = Render(`{"prop1": {{first-step.result}}}`, Context{})
	assert.IsType(t, &SyntaxError{}, err)
}

func TestReferences(t *testing.T) {
	references, err := References(`{"a": {{first.result}}, "b": "{{parameters.x}}"}`)

	assert.Nil(t, err)
	assert.Equal(t, []string{"first.result", "parameters.x"}, references)
}
