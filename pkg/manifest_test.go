package v1

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"testing"

	"github.com/onepanelio/functionary/pkg/schema"
	"github.com/onepanelio/functionary/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mathManifest = `version: 1.0
package:
  name: math
  display_name: Math
  summary: Arithmetic helpers
  language: python
  functions:
  - name: add
    summary: Adds two numbers
    return_type: integer
    variables:
    - API_TOKEN
    parameters:
    - name: a
      type: integer
      required: true
    - name: b
      type: integer
      default: 2
  - name: greet
    parameters:
    - name: greeting
      type: string
      options:
      - name: Hello
        value: hello
      - name: Hi
        value: hi
`

func packageArchive(t *testing.T, files map[string]string) []byte {
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.Nil(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.Nil(t, err)
	}
	require.Nil(t, tw.Close())
	require.Nil(t, gz.Close())

	return buf.Bytes()
}

func TestParsePackageDefinition(t *testing.T) {
	definition, err := ParsePackageDefinition([]byte(mathManifest))
	require.Nil(t, err)

	assert.Equal(t, "1.0", definition.Version)
	assert.Equal(t, "math", definition.Package.Name)
	assert.Equal(t, "python", definition.Package.Language)
	require.NotNil(t, definition.Package.DisplayName)
	assert.Equal(t, "Math", *definition.Package.DisplayName)
	require.Len(t, definition.Package.Functions, 2)

	add := definition.Package.Functions[0]
	assert.Equal(t, "add", add.Name)
	assert.Equal(t, []string{"API_TOKEN"}, add.Variables)
	require.Len(t, add.Parameters, 2)
	assert.Equal(t, schema.Integer, add.Parameters[0].Type)
	assert.True(t, add.Parameters[0].Required)
	require.NotNil(t, add.Parameters[1].Default)
	assert.Equal(t, "2", *add.Parameters[1].Default)

	greet := definition.Package.Functions[1]
	require.Len(t, greet.Parameters, 1)
	assert.Equal(t, []schema.Option{{Name: "Hello", Value: "hello"}, {Name: "Hi", Value: "hi"}}, greet.Parameters[0].Options)
}

func TestParsePackageDefinition_DefaultVersion(t *testing.T) {
	definition, err := ParsePackageDefinition([]byte(`package:
  name: tools
  language: javascript
  functions:
  - name: ping
`))
	require.Nil(t, err)
	assert.Equal(t, "1.0", definition.Version)
	assert.Empty(t, definition.Package.Functions[0].Parameters)
}

func TestParsePackageDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		message  string
	}{
		{"not a mapping", "- a\n- b\n", "must be a mapping"},
		{"unknown version", "version: '9.9'\npackage:\n  name: x\n  language: python\n  functions: []\n", "unsupported package definition version"},
		{"missing package", "version: '1.0'\n", "package"},
		{"missing language", "package:\n  name: x\n  functions: []\n", "language"},
		{"unsupported language", "package:\n  name: x\n  language: cobol\n  functions: []\n", "unsupported language cobol"},
		{"bad parameter type", "package:\n  name: x\n  language: python\n  functions:\n  - name: f\n    parameters:\n    - name: p\n      type: decimal\n", "type"},
		{"duplicate function", "package:\n  name: x\n  language: python\n  functions:\n  - name: f\n  - name: f\n", "function f is defined more than once"},
		{"bad default", "package:\n  name: x\n  language: python\n  functions:\n  - name: f\n    parameters:\n    - name: p\n      type: integer\n      default: abc\n", "function f"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParsePackageDefinition([]byte(test.manifest))
			require.Error(t, err)
			assert.True(t, errors.Is(err, util.ErrInvalidPackage))
			assert.Contains(t, err.Error(), test.message)
		})
	}
}

func TestExtractPackageDefinition(t *testing.T) {
	contents := packageArchive(t, map[string]string{
		"package.yaml": mathManifest,
		"main.py":      "print('hi')",
	})

	definition, err := ExtractPackageDefinition(contents)
	require.Nil(t, err)
	assert.Equal(t, "math", definition.Package.Name)
}

func TestExtractPackageDefinition_MissingManifest(t *testing.T) {
	contents := packageArchive(t, map[string]string{"main.py": "print('hi')"})

	_, err := ExtractPackageDefinition(contents)
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrInvalidPackage))
	assert.Contains(t, err.Error(), "package.yaml not found")
}

func TestExtractPackageDefinition_NotAnArchive(t *testing.T) {
	_, err := ExtractPackageDefinition([]byte("plain text"))
	assert.True(t, errors.Is(err, util.ErrInvalidPackage))
}

func TestFunctionManifest_Parameters(t *testing.T) {
	definition, err := ParsePackageDefinition([]byte(mathManifest))
	require.Nil(t, err)

	parameters := definition.Package.Functions[0].parameters()
	require.Len(t, parameters, 2)
	assert.Equal(t, "a", parameters[0].Name)
	assert.Equal(t, schema.Integer, parameters[0].Type)

	_, err = parametersSchema("add", parameters)
	assert.Nil(t, err)
}
