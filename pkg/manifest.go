package v1

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/onepanelio/functionary/pkg/dockerfiles"
	"github.com/onepanelio/functionary/pkg/schema"
	"github.com/onepanelio/functionary/pkg/util"
	"github.com/onepanelio/functionary/pkg/util/archive"
	"github.com/santhosh-tekuri/jsonschema/v5"
	yamlv2 "gopkg.in/yaml.v2"
)

const (
	manifestName             = "package.yaml"
	manifestSizeLimit        = 1 << 20
	defaultDefinitionVersion = "1.0"
)

//go:embed manifests/package_definition_1.0.json
var packageDefinitionSchemaV1 string

var definitionSchemas = map[string]*jsonschema.Schema{
	"1.0": jsonschema.MustCompileString("package_definition_1.0.json", packageDefinitionSchemaV1),
}

// PackageDefinition is the content of the package.yaml of a package archive.
type PackageDefinition struct {
	Version string          `json:"version" yaml:"version"`
	Package PackageManifest `json:"package" yaml:"package"`
}

type PackageManifest struct {
	Name        string             `json:"name" yaml:"name"`
	DisplayName *string            `json:"display_name,omitempty" yaml:"display_name"`
	Summary     *string            `json:"summary,omitempty" yaml:"summary"`
	Description *string            `json:"description,omitempty" yaml:"description"`
	Language    string             `json:"language" yaml:"language"`
	Functions   []FunctionManifest `json:"functions" yaml:"functions"`
}

type FunctionManifest struct {
	Name        string              `json:"name" yaml:"name"`
	DisplayName *string             `json:"display_name,omitempty" yaml:"display_name"`
	Summary     *string             `json:"summary,omitempty" yaml:"summary"`
	Description *string             `json:"description,omitempty" yaml:"description"`
	ReturnType  *string             `json:"return_type,omitempty" yaml:"return_type"`
	Variables   []string            `json:"variables,omitempty" yaml:"variables"`
	Parameters  []ParameterManifest `json:"parameters,omitempty" yaml:"parameters"`
}

type ParameterManifest struct {
	Name        string          `json:"name" yaml:"name"`
	DisplayName *string         `json:"display_name,omitempty" yaml:"display_name"`
	Description *string         `json:"description,omitempty" yaml:"description"`
	Type        schema.Type     `json:"type" yaml:"type"`
	Required    bool            `json:"required" yaml:"required"`
	Default     *string         `json:"default,omitempty" yaml:"default"`
	Options     []schema.Option `json:"options,omitempty" yaml:"options"`
}

// parameters converts the declared parameters of the function.
func (f *FunctionManifest) parameters() []*Parameter {
	result := make([]*Parameter, 0, len(f.Parameters))
	for _, p := range f.Parameters {
		result = append(result, &Parameter{
			Name:        p.Name,
			DisplayName: p.DisplayName,
			Description: p.Description,
			Type:        p.Type,
			Required:    p.Required,
			Default:     p.Default,
			Options:     p.Options,
		})
	}

	return result
}

func invalidPackage(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %v", util.ErrInvalidPackage, fmt.Sprintf(format, args...))
}

// ExtractPackageDefinition reads and parses the package.yaml of a gzipped package archive.
// Every returned error wraps util.ErrInvalidPackage.
func ExtractPackageDefinition(contents []byte) (*PackageDefinition, error) {
	manifest, err := archive.ReadFile(contents, manifestName, manifestSizeLimit)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return nil, invalidPackage("%v not found", manifestName)
		}
		if errors.Is(err, archive.ErrNotRegular) {
			return nil, invalidPackage("%v found, but is not a regular file", manifestName)
		}
		return nil, invalidPackage("%v", err)
	}

	return ParsePackageDefinition(manifest)
}

// ParsePackageDefinition validates manifest against the schema of its version and decodes it.
func ParsePackageDefinition(manifest []byte) (*PackageDefinition, error) {
	raw, err := yaml.YAMLToJSON(manifest)
	if err != nil {
		return nil, invalidPackage("%v is not valid yaml: %v", manifestName, err)
	}

	var document interface{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, invalidPackage("%v is not valid yaml: %v", manifestName, err)
	}
	fields, ok := document.(map[string]interface{})
	if !ok {
		return nil, invalidPackage("%v must be a mapping", manifestName)
	}

	// The version is read as written, an unquoted 1.0 is not the number 1.
	header := struct {
		Version string `yaml:"version"`
	}{}
	if err := yamlv2.Unmarshal(manifest, &header); err != nil {
		return nil, invalidPackage("%v has an invalid version: %v", manifestName, err)
	}
	version := defaultDefinitionVersion
	if header.Version != "" {
		version = header.Version
	}
	fields["version"] = version
	definitionSchema, ok := definitionSchemas[version]
	if !ok {
		return nil, invalidPackage("unsupported package definition version %v", version)
	}
	if err := definitionSchema.Validate(document); err != nil {
		return nil, invalidPackage("%v", describeSchemaError(err))
	}

	definition := &PackageDefinition{}
	if err := yamlv2.Unmarshal(manifest, definition); err != nil {
		return nil, invalidPackage("%v could not be decoded: %v", manifestName, err)
	}
	definition.Version = version

	if err := definition.validate(); err != nil {
		return nil, err
	}

	return definition, nil
}

// validate checks what the schema can not express.
func (d *PackageDefinition) validate() error {
	if !dockerfiles.Supported(d.Package.Language) {
		return invalidPackage("unsupported language %v", d.Package.Language)
	}

	seen := make(map[string]bool)
	for i := range d.Package.Functions {
		function := &d.Package.Functions[i]
		if seen[function.Name] {
			return invalidPackage("function %v is defined more than once", function.Name)
		}
		seen[function.Name] = true

		if _, err := parametersSchema(function.Name, function.parameters()); err != nil {
			return invalidPackage("function %v: %v", function.Name, err)
		}
	}

	return nil
}

func describeSchemaError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}

	var messages []string
	for _, cause := range leafErrors(ve) {
		location := cause.InstanceLocation
		if location == "" {
			location = "/"
		}
		messages = append(messages, location+": "+cause.Message)
	}

	return "package.yaml is invalid: " + strings.Join(messages, "; ")
}

func leafErrors(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}

	var result []*jsonschema.ValidationError
	for _, cause := range ve.Causes {
		result = append(result, leafErrors(cause)...)
	}

	return result
}
