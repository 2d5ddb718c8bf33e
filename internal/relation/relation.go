// Package relation resolves the relation directives of a create request into foreign key writes.
package relation

import (
	"context"
	"fmt"

	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/writer"
	"github.com/shopmonkeyus/go-common/logger"
)

// Resolver creates a row together with its nested creates and connects.
type Resolver struct {
	logger logger.Logger
	writer *writer.Executor
}

// New returns a resolver which inserts rows with the executor.
func New(log logger.Logger, executor *writer.Executor) *Resolver {
	return &Resolver{logger: log.WithPrefix("[relation]"), writer: executor}
}

// Create inserts the row of the request and resolves its relations. Rows referenced through a
// many-to-one relation are created or looked up first so the foreign key can be set on insert,
// rows of a one-to-many relation are created or re-pointed after the parent exists. The returned
// links hold the rows linked to the parent, by relation name, in link order.
func (r *Resolver) Create(ctx context.Context, txn internal.Txn, req *internal.CreateRequest) (*internal.Row, internal.Links, error) {
	entity := req.Entity
	links := make(internal.Links)
	values := make(map[string]any, len(req.Scalars)+len(req.Relations))
	for k, v := range req.Scalars {
		values[k] = v
	}

	for _, rel := range entity.Relations {
		directive, ok := req.Relations[rel.Name]
		if !ok || rel.Cardinality != internal.ManyToOne {
			continue
		}
		target, err := r.resolveParent(ctx, txn, entity, rel, directive)
		if err != nil {
			return nil, nil, err
		}
		values[rel.ForeignKey] = target.PrimaryKey()
		links.Add(rel.Name, target)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	row, err := r.writer.Insert(ctx, txn, entity, values)
	if err != nil {
		return nil, nil, err
	}

	for _, rel := range entity.Relations {
		directive, ok := req.Relations[rel.Name]
		if !ok || rel.Cardinality != internal.OneToMany {
			continue
		}
		children, err := r.resolveChildren(ctx, txn, entity, rel, row.PrimaryKey(), directive)
		if err != nil {
			return nil, nil, err
		}
		// an empty list is still a link so the projection shows []
		links[rel.Name] = append(links[rel.Name], children...)
	}
	return row, links, nil
}

// resolveParent returns the row a many-to-one relation points at.
func (r *Resolver) resolveParent(ctx context.Context, txn internal.Txn, entity *internal.EntityType, rel *internal.RelationField, directive internal.RelationDirective) (*internal.Row, error) {
	target := entity.Target(rel.Name)
	switch d := directive.(type) {
	case *internal.CreateNested:
		if len(d.Requests) != 1 {
			return nil, &internal.InvalidRelationDirectiveError{Entity: entity.Name, Path: rel.Name, Reason: "many-to-one relation requires exactly one object to create"}
		}
		row, _, err := r.Create(ctx, txn, d.Requests[0])
		if err != nil {
			return nil, err
		}
		return row, nil
	case *internal.Connect:
		if len(d.Keys) != 1 {
			return nil, &internal.InvalidRelationDirectiveError{Entity: entity.Name, Path: rel.Name, Reason: "many-to-one relation requires exactly one reference to connect"}
		}
		row, err := txn.LookupByPrimaryKey(ctx, target, d.Keys[0])
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, &internal.DanglingReferenceError{Entity: target.Name, Key: d.Keys[0]}
		}
		r.logger.Trace("connected %s %v to new %s", target.Name, d.Keys[0], entity.Name)
		return row, nil
	default:
		return nil, fmt.Errorf("unsupported relation directive %T", directive)
	}
}

// resolveChildren creates or re-points the rows of a one-to-many relation to the parent.
func (r *Resolver) resolveChildren(ctx context.Context, txn internal.Txn, entity *internal.EntityType, rel *internal.RelationField, parent any, directive internal.RelationDirective) ([]*internal.Row, error) {
	target := entity.Target(rel.Name)
	switch d := directive.(type) {
	case *internal.CreateNested:
		rows := make([]*internal.Row, 0, len(d.Requests))
		for _, child := range d.Requests {
			scalars := make(map[string]any, len(child.Scalars)+1)
			for k, v := range child.Scalars {
				scalars[k] = v
			}
			scalars[rel.ForeignKey] = parent
			row, _, err := r.Create(ctx, txn, &internal.CreateRequest{
				Entity:    child.Entity,
				Scalars:   scalars,
				Relations: child.Relations,
			})
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		return rows, nil
	case *internal.Connect:
		rows := make([]*internal.Row, 0, len(d.Keys))
		for _, key := range d.Keys {
			existing, err := txn.LookupByPrimaryKey(ctx, target, key)
			if err != nil {
				return nil, err
			}
			if existing == nil {
				return nil, &internal.DanglingReferenceError{Entity: target.Name, Key: key}
			}
			if err := txn.UpdateForeignKey(ctx, target, existing.PrimaryKey(), rel.ForeignKey, parent); err != nil {
				return nil, err
			}
			row, err := txn.LookupByPrimaryKey(ctx, target, existing.PrimaryKey())
			if err != nil {
				return nil, err
			}
			if row == nil {
				return nil, &internal.DanglingReferenceError{Entity: target.Name, Key: key}
			}
			r.logger.Trace("connected %s %v to %s %v", target.Name, key, entity.Name, parent)
			rows = append(rows, row)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unsupported relation directive %T", directive)
	}
}
