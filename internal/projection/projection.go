// Package projection shapes created rows into result objects.
package projection

import (
	"context"
	"fmt"

	"github.com/shopmonkeyus/entitydb/internal"
)

// Lookup reads a row by primary key, it returns nil if the row does not exist.
type Lookup func(ctx context.Context, entity *internal.EntityType, pk any) (*internal.Row, error)

// Scalars returns every scalar field of the row in declaration order.
func Scalars(row *internal.Row) *Object {
	o := NewObject()
	for _, f := range row.Entity.Fields {
		o.Set(f.Name, row.Values[f.Name])
	}
	return o
}

// Project shapes the row according to the select spec. A nil spec returns all scalars and no
// relations. Relation rows are taken from links, a many-to-one relation which was not linked in
// the same call is resolved through lookup using the foreign key value.
func Project(ctx context.Context, row *internal.Row, spec internal.SelectSpec, links internal.Links, lookup Lookup) (*Object, error) {
	var relations []string
	var o *Object
	switch s := spec.(type) {
	case nil:
		return Scalars(row), nil
	case *internal.Select:
		o = NewObject()
		for _, name := range s.Fields {
			o.Set(name, row.Values[name])
		}
		relations = s.Relations
	case *internal.Include:
		o = Scalars(row)
		relations = s.Relations
	default:
		return nil, fmt.Errorf("unsupported select spec %T", spec)
	}
	for _, name := range relations {
		val, err := relation(ctx, row, name, links, lookup)
		if err != nil {
			return nil, err
		}
		o.Set(name, val)
	}
	return o, nil
}

func relation(ctx context.Context, row *internal.Row, name string, links internal.Links, lookup Lookup) (any, error) {
	entity := row.Entity
	rel, ok := entity.Relation(name)
	if !ok {
		return nil, &internal.UnknownFieldError{Entity: entity.Name, Path: name}
	}
	linked := links[name]
	if rel.IsList() {
		list := make([]*Object, 0, len(linked))
		for _, r := range linked {
			list = append(list, Scalars(r))
		}
		return list, nil
	}
	if len(linked) > 0 {
		return Scalars(linked[0]), nil
	}
	fk := row.Values[rel.ForeignKey]
	if fk == nil || lookup == nil {
		return nil, nil
	}
	target, err := lookup(ctx, entity.Target(name), fk)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, nil
	}
	return Scalars(target), nil
}

// Rows shapes each row of a batch with the same spec.
func Rows(ctx context.Context, rows []*internal.Row, spec internal.SelectSpec, lookup Lookup) ([]*Object, error) {
	res := make([]*Object, 0, len(rows))
	for _, row := range rows {
		o, err := Project(ctx, row, spec, nil, lookup)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, nil
}
