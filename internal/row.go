package internal

// Row is a persisted instance of an entity type.
type Row struct {
	Entity *EntityType
	Values map[string]any
}

// NewRow returns an empty row for the entity.
func NewRow(entity *EntityType) *Row {
	return &Row{Entity: entity, Values: make(map[string]any, len(entity.Fields))}
}

// PrimaryKey returns the primary key value of the row.
func (r *Row) PrimaryKey() any {
	return r.Values[r.Entity.PrimaryKey().Name]
}

// Get returns the value of a scalar field.
func (r *Row) Get(name string) any {
	return r.Values[name]
}

// Links holds the rows linked to a parent row during a create, keyed by relation name.
type Links map[string][]*Row

// Add appends the rows to the relation.
func (l Links) Add(relation string, rows ...*Row) {
	l[relation] = append(l[relation], rows...)
}
