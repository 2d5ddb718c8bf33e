// Package schema holds the schema files shipped with entitydb.
package schema

import (
	"bytes"
	_ "embed"

	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/registry"
)

// DemoYAML is the users and posts schema used by the demo command.
//
//go:embed demo.yaml
var DemoYAML []byte

// DemoSQL creates the demo tables in postgres.
//
//go:embed demo.sql
var DemoSQL string

// Demo returns the loaded demo schema.
func Demo() (*internal.Schema, error) {
	return registry.Decode(bytes.NewReader(DemoYAML), registry.FormatYAML)
}
