package registry

import (
	"bytes"
	"fmt"
	"os"

	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/util"
)

// NewFileRegistry creates a new schema registry from a json, yaml or toml file.
func NewFileRegistry(schemaFile string) (*internal.Schema, error) {
	if !util.Exists(schemaFile) {
		return nil, fmt.Errorf("schema file does not exist: %s", schemaFile)
	}
	format, err := FormatFromFilename(schemaFile)
	if err != nil {
		return nil, err
	}
	buf, err := os.ReadFile(schemaFile)
	if err != nil {
		return nil, fmt.Errorf("error opening schema file: %w", err)
	}
	schema, err := Decode(bytes.NewReader(buf), format)
	if err != nil {
		return nil, fmt.Errorf("error loading schema file %s: %w", schemaFile, err)
	}
	return schema, nil
}
