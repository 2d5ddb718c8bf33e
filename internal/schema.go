package internal

import (
	"fmt"
	"sort"
	"strings"
)

// FieldKind is the primitive kind of a scalar field.
type FieldKind string

const (
	FieldKindString   FieldKind = "String"
	FieldKindInt      FieldKind = "Int"
	FieldKindFloat    FieldKind = "Float"
	FieldKindBoolean  FieldKind = "Boolean"
	FieldKindDateTime FieldKind = "DateTime"
	FieldKindJSON     FieldKind = "JSON"
)

// Valid returns true if the kind is one of the supported kinds.
func (k FieldKind) Valid() bool {
	switch k {
	case FieldKindString, FieldKindInt, FieldKindFloat, FieldKindBoolean, FieldKindDateTime, FieldKindJSON:
		return true
	}
	return false
}

// Cardinality describes which side of a relation holds the foreign key.
type Cardinality string

const (
	// OneToMany is a relation where the foreign key lives on the target entity.
	OneToMany Cardinality = "one-to-many"
	// ManyToOne is a relation where the foreign key lives on the owning entity.
	ManyToOne Cardinality = "many-to-one"
)

// Default value generators which can be used as the default of a scalar field.
const (
	DefaultAutoincrement = "autoincrement()"
	DefaultUUID          = "uuid()"
	DefaultULID          = "ulid()"
	DefaultNow           = "now()"
)

// ScalarField is a primitive field of an entity.
type ScalarField struct {
	Name     string    `json:"name" yaml:"name" toml:"name"`
	Column   string    `json:"column,omitempty" yaml:"column,omitempty" toml:"column,omitempty"`
	Kind     FieldKind `json:"kind" yaml:"kind" toml:"kind"`
	Nullable bool      `json:"nullable,omitempty" yaml:"nullable,omitempty" toml:"nullable,omitempty"`
	Unique   bool      `json:"unique,omitempty" yaml:"unique,omitempty" toml:"unique,omitempty"`
	ID       bool      `json:"id,omitempty" yaml:"id,omitempty" toml:"id,omitempty"`
	Default  any       `json:"default,omitempty" yaml:"default,omitempty" toml:"default,omitempty"`
}

// ColumnName returns the database column for the field.
func (f *ScalarField) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// Generator returns the default generator name or an empty string if the default is a literal (or missing).
func (f *ScalarField) Generator() string {
	if s, ok := f.Default.(string); ok {
		switch s {
		case DefaultAutoincrement, DefaultUUID, DefaultULID, DefaultNow:
			return s
		}
	}
	return ""
}

// BackendGenerated returns true if the backend assigns the value on insert.
func (f *ScalarField) BackendGenerated() bool {
	return f.Generator() == DefaultAutoincrement
}

// Required returns true if a create request must supply a value for the field.
func (f *ScalarField) Required() bool {
	return !f.Nullable && f.Default == nil
}

// RelationField links an entity to another entity.
type RelationField struct {
	Name        string      `json:"name" yaml:"name" toml:"name"`
	Target      string      `json:"target" yaml:"target" toml:"target"`
	Cardinality Cardinality `json:"cardinality" yaml:"cardinality" toml:"cardinality"`
	ForeignKey  string      `json:"foreignKey" yaml:"foreignKey" toml:"foreignKey"`
}

// IsList returns true if the relation resolves to a list of rows.
func (r *RelationField) IsList() bool {
	return r.Cardinality == OneToMany
}

// EntityType is a registered record schema. It must not be modified once the schema is built.
type EntityType struct {
	Name      string           `json:"name" yaml:"name" toml:"name"`
	Table     string           `json:"table,omitempty" yaml:"table,omitempty" toml:"table,omitempty"`
	Fields    []*ScalarField   `json:"fields" yaml:"fields" toml:"fields"`
	Relations []*RelationField `json:"relations,omitempty" yaml:"relations,omitempty" toml:"relations,omitempty"`

	fields    map[string]*ScalarField
	relations map[string]*RelationField
	targets   map[string]*EntityType
	pk        *ScalarField
}

// TableName returns the table which stores the entity.
func (e *EntityType) TableName() string {
	if e.Table != "" {
		return e.Table
	}
	return strings.ToLower(e.Name)
}

// Field returns the scalar field by name.
func (e *EntityType) Field(name string) (*ScalarField, bool) {
	f, ok := e.fields[name]
	return f, ok
}

// Relation returns the relation field by name.
func (e *EntityType) Relation(name string) (*RelationField, bool) {
	r, ok := e.relations[name]
	return r, ok
}

// Target returns the entity type a relation points to.
func (e *EntityType) Target(relation string) *EntityType {
	return e.targets[relation]
}

// PrimaryKey returns the primary key field.
func (e *EntityType) PrimaryKey() *ScalarField {
	return e.pk
}

// UniqueFields returns the fields which carry a uniqueness constraint, including the primary key, in declaration order.
func (e *EntityType) UniqueFields() []*ScalarField {
	var res []*ScalarField
	for _, f := range e.Fields {
		if f.Unique || f.ID {
			res = append(res, f)
		}
	}
	return res
}

// FieldByColumn returns the scalar field stored in the column.
func (e *EntityType) FieldByColumn(column string) (*ScalarField, bool) {
	for _, f := range e.Fields {
		if strings.EqualFold(f.ColumnName(), column) {
			return f, true
		}
	}
	return nil, false
}

func (e *EntityType) index() error {
	if e.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	e.fields = make(map[string]*ScalarField)
	e.relations = make(map[string]*RelationField)
	e.targets = make(map[string]*EntityType)
	e.pk = nil
	for _, f := range e.Fields {
		if f.Name == "" {
			return fmt.Errorf("entity %s: field name is required", e.Name)
		}
		if !f.Kind.Valid() {
			return fmt.Errorf("entity %s: field %s has invalid kind %q", e.Name, f.Name, f.Kind)
		}
		if _, ok := e.fields[f.Name]; ok {
			return fmt.Errorf("entity %s: duplicate field %s", e.Name, f.Name)
		}
		if f.ID {
			if e.pk != nil {
				return fmt.Errorf("entity %s: multiple id fields (%s, %s)", e.Name, e.pk.Name, f.Name)
			}
			e.pk = f
		}
		if err := checkGenerator(f); err != nil {
			return fmt.Errorf("entity %s: %w", e.Name, err)
		}
		e.fields[f.Name] = f
	}
	if e.pk == nil {
		return fmt.Errorf("entity %s: missing id field", e.Name)
	}
	for _, r := range e.Relations {
		if r.Name == "" {
			return fmt.Errorf("entity %s: relation name is required", e.Name)
		}
		if _, ok := e.fields[r.Name]; ok {
			return fmt.Errorf("entity %s: relation %s collides with a field", e.Name, r.Name)
		}
		if _, ok := e.relations[r.Name]; ok {
			return fmt.Errorf("entity %s: duplicate relation %s", e.Name, r.Name)
		}
		e.relations[r.Name] = r
	}
	return nil
}

func checkGenerator(f *ScalarField) error {
	switch f.Generator() {
	case DefaultAutoincrement:
		if f.Kind != FieldKindInt {
			return fmt.Errorf("field %s: %s requires an Int field", f.Name, DefaultAutoincrement)
		}
	case DefaultUUID, DefaultULID:
		if f.Kind != FieldKindString {
			return fmt.Errorf("field %s: %s requires a String field", f.Name, f.Default)
		}
	case DefaultNow:
		if f.Kind != FieldKindDateTime {
			return fmt.Errorf("field %s: %s requires a DateTime field", f.Name, DefaultNow)
		}
	}
	return nil
}

// SchemaRegistry is the interface for looking up entity types.
type SchemaRegistry interface {

	// Entity returns the entity type by name.
	Entity(name string) (*EntityType, bool)

	// Entities returns all entity types sorted by name.
	Entities() []*EntityType
}

// Schema is an immutable set of entity types which have been cross checked.
type Schema struct {
	entities map[string]*EntityType
	sorted   []*EntityType
}

var _ SchemaRegistry = (*Schema)(nil)

// Entity returns the entity type by name.
func (s *Schema) Entity(name string) (*EntityType, bool) {
	e, ok := s.entities[name]
	return e, ok
}

// Entities returns all entity types sorted by name.
func (s *Schema) Entities() []*EntityType {
	return s.sorted
}

// NewSchema indexes the entity types and checks that every relation is consistent.
func NewSchema(entities []*EntityType) (*Schema, error) {
	s := &Schema{entities: make(map[string]*EntityType)}
	tables := make(map[string]string)
	for _, e := range entities {
		if err := e.index(); err != nil {
			return nil, err
		}
		if _, ok := s.entities[e.Name]; ok {
			return nil, fmt.Errorf("duplicate entity %s", e.Name)
		}
		if other, ok := tables[e.TableName()]; ok {
			return nil, fmt.Errorf("entity %s: table %s already used by %s", e.Name, e.TableName(), other)
		}
		tables[e.TableName()] = e.Name
		s.entities[e.Name] = e
		s.sorted = append(s.sorted, e)
	}
	for _, e := range s.sorted {
		for _, r := range e.Relations {
			target, ok := s.entities[r.Target]
			if !ok {
				return nil, fmt.Errorf("entity %s: relation %s targets unknown entity %s", e.Name, r.Name, r.Target)
			}
			var fk *ScalarField
			var referenced *ScalarField
			switch r.Cardinality {
			case OneToMany:
				fk, ok = target.Field(r.ForeignKey)
				referenced = e.pk
			case ManyToOne:
				fk, ok = e.Field(r.ForeignKey)
				referenced = target.pk
			default:
				return nil, fmt.Errorf("entity %s: relation %s has invalid cardinality %q", e.Name, r.Name, r.Cardinality)
			}
			if !ok {
				return nil, fmt.Errorf("entity %s: relation %s foreign key %s not found", e.Name, r.Name, r.ForeignKey)
			}
			if fk.ID {
				return nil, fmt.Errorf("entity %s: relation %s foreign key %s cannot be a primary key", e.Name, r.Name, r.ForeignKey)
			}
			if fk.Kind != referenced.Kind {
				return nil, fmt.Errorf("entity %s: relation %s foreign key %s is %s but references %s", e.Name, r.Name, r.ForeignKey, fk.Kind, referenced.Kind)
			}
			e.targets[r.Name] = target
		}
	}
	sort.Slice(s.sorted, func(i, j int) bool {
		return s.sorted[i].Name < s.sorted[j].Name
	})
	return s, nil
}
