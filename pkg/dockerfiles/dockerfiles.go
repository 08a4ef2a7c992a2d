// Package dockerfiles renders the Dockerfile used to build the image of a package, by language.
package dockerfiles

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*.Dockerfile
var files embed.FS

var templates = template.Must(template.ParseFS(files, "templates/*.Dockerfile"))

// Values are substituted into every template.
type Values struct {
	// Registry prefixes base images when set, e.g. registry.local:5000.
	Registry string
}

// Supported returns true if a Dockerfile exists for language.
func Supported(language string) bool {
	return templates.Lookup(name(language)) != nil
}

// Render returns the Dockerfile for language.
func Render(language string, values Values) ([]byte, error) {
	tmpl := templates.Lookup(name(language))
	if tmpl == nil {
		return nil, fmt.Errorf("unsupported language %q", language)
	}

	buf := &bytes.Buffer{}
	if err := tmpl.Execute(buf, values); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func name(language string) string {
	return language + ".Dockerfile"
}
