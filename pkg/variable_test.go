package v1

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string {
	return &s
}

func TestMaskOutput(t *testing.T) {
	variables := []*Variable{
		{Name: "secret", Value: "hide me", Protect: true},
	}

	masked := MaskOutput("I say hide me and Hide me", variables)

	assert.Equal(t, 0, strings.Count(masked, "hide me"))
	assert.Equal(t, 1, strings.Count(masked, "Hide me"))
	assert.Equal(t, "I say ******** and Hide me", masked)
}

func TestMaskOutput_ShortValuesAreKept(t *testing.T) {
	variables := []*Variable{
		{Name: "short", Value: "abcd", Protect: true},
		{Name: "long", Value: "abcde", Protect: true},
	}

	assert.Equal(t, "abcd ********", MaskOutput("abcd abcde", variables))
}

func TestMaskOutput_UnprotectedValuesAreKept(t *testing.T) {
	variables := []*Variable{
		{Name: "public", Value: "visible value", Protect: false},
	}

	assert.Equal(t, "a visible value", MaskOutput("a visible value", variables))
}

func TestShadowVariables(t *testing.T) {
	variables := []*Variable{
		{Name: "region", Value: "team", TeamID: strPtr("team-1")},
		{Name: "token", Value: "team-token", TeamID: strPtr("team-1")},
		{Name: "region", Value: "env", EnvironmentID: strPtr("env-1")},
	}

	result := shadowVariables(variables)

	assert.Len(t, result, 2)
	assert.Equal(t, map[string]string{"region": "env", "token": "team-token"}, VariableValues(result))
}
