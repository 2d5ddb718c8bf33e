// Package registry loads entity types from schema files.
package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	js "github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/normalize"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var metaSchema []byte

const metaSchemaURL = "https://shopmonkey.io/entitydb/schema.json"

// Format is the encoding of a schema file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromFilename returns the format for the file extension.
func FormatFromFilename(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unsupported schema file extension: %s", filename)
}

// File is the layout of a schema file.
type File struct {
	Entities []*internal.EntityType `json:"entities" yaml:"entities" toml:"entities"`
}

var (
	compileOnce sync.Once
	compiled    *js.Schema
	compileErr  error
)

func validator() (*js.Schema, error) {
	compileOnce.Do(func() {
		compiler := js.NewCompiler()
		if err := compiler.AddResource(metaSchemaURL, bytes.NewReader(metaSchema)); err != nil {
			compileErr = fmt.Errorf("error adding schema: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile(metaSchemaURL)
	})
	return compiled, compileErr
}

// toJSON decodes the document and re-encodes it as json so every format is validated and
// decoded the same way.
func toJSON(buf []byte, format Format) ([]byte, error) {
	var doc any
	switch format {
	case FormatJSON:
		return buf, nil
	case FormatYAML:
		if err := yaml.Unmarshal(buf, &doc); err != nil {
			return nil, fmt.Errorf("error decoding yaml: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(buf, &doc); err != nil {
			return nil, fmt.Errorf("error decoding toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported schema format: %s", format)
	}
	res, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("error converting %s to json: %w", format, err)
	}
	return res, nil
}

// Decode reads, validates and cross checks a schema file.
func Decode(r io.Reader, format Format) (*internal.Schema, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading schema: %w", err)
	}
	jbuf, err := toJSON(buf, format)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(jbuf))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("error decoding schema: %w", err)
	}
	schema, err := validator()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		if ve, ok := err.(*js.ValidationError); ok {
			return nil, fmt.Errorf("invalid schema: %#v", ve)
		}
		return nil, fmt.Errorf("error validating schema: %w", err)
	}
	var file File
	dec = json.NewDecoder(bytes.NewReader(jbuf))
	dec.UseNumber()
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("error decoding schema: %w", err)
	}
	res, err := internal.NewSchema(file.Entities)
	if err != nil {
		return nil, err
	}
	if err := coerceDefaults(res); err != nil {
		return nil, err
	}
	return res, nil
}

// coerceDefaults converts literal defaults into the canonical value of the field kind.
func coerceDefaults(schema *internal.Schema) error {
	for _, entity := range schema.Entities() {
		for _, f := range entity.Fields {
			if f.Default == nil || f.Generator() != "" {
				continue
			}
			v, err := normalize.Coerce(entity, f.Name, f, f.Default)
			if err != nil {
				return fmt.Errorf("entity %s: invalid default for %s: %w", entity.Name, f.Name, err)
			}
			f.Default = v
		}
	}
	return nil
}

// Encode writes the schema in the format.
func Encode(w io.Writer, schema internal.SchemaRegistry, format Format) error {
	file := File{Entities: schema.Entities()}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(file)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(file); err != nil {
			return err
		}
		return enc.Close()
	case FormatTOML:
		return toml.NewEncoder(w).Encode(file)
	}
	return fmt.Errorf("unsupported schema format: %s", format)
}
