// Package normalize turns raw create payloads into typed requests.
package normalize

import (
	"fmt"
	"sort"

	"github.com/shopmonkeyus/entitydb/internal"
)

const (
	keyCreate  = "create"
	keyConnect = "connect"
)

// nestedScope describes the fields of a nested create which are owned by the parent relation.
type nestedScope struct {
	foreignKey string
	relations  map[string]bool
}

func join(path string, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Create validates data against the entity and returns a create request. The select and include
// maps are optional, supplying both is an error.
func Create(entity *internal.EntityType, data map[string]any, selectRaw map[string]any, includeRaw map[string]any) (*internal.CreateRequest, error) {
	req, err := create(entity, data, "", nil)
	if err != nil {
		return nil, err
	}
	spec, err := Projection(entity, selectRaw, includeRaw)
	if err != nil {
		return nil, err
	}
	req.Select = spec
	return req, nil
}

func create(entity *internal.EntityType, data map[string]any, path string, scope *nestedScope) (*internal.CreateRequest, error) {
	req := &internal.CreateRequest{
		Entity:    entity,
		Scalars:   make(map[string]any),
		Relations: make(map[string]internal.RelationDirective),
	}
	for _, key := range sortedKeys(data) {
		value := data[key]
		p := join(path, key)
		if field, ok := entity.Field(key); ok {
			if scope != nil && scope.foreignKey == key {
				return nil, &internal.InvalidRelationDirectiveError{Entity: entity.Name, Path: p, Reason: "foreign key is set by the parent relation"}
			}
			v, err := Coerce(entity, p, field, value)
			if err != nil {
				return nil, err
			}
			req.Scalars[key] = v
			continue
		}
		if rel, ok := entity.Relation(key); ok {
			if scope != nil && scope.relations[key] {
				return nil, &internal.InvalidRelationDirectiveError{Entity: entity.Name, Path: p, Reason: "relation is set by the parent relation"}
			}
			d, err := directive(entity, rel, value, p)
			if err != nil {
				return nil, err
			}
			req.Relations[key] = d
			continue
		}
		return nil, &internal.UnknownFieldError{Entity: entity.Name, Path: p}
	}

	// many-to-one directives own their foreign key scalar
	owned := make(map[string]string)
	for _, rel := range entity.Relations {
		if _, ok := req.Relations[rel.Name]; !ok || rel.Cardinality != internal.ManyToOne {
			continue
		}
		p := join(path, rel.Name)
		if _, ok := req.Scalars[rel.ForeignKey]; ok {
			return nil, &internal.InvalidRelationDirectiveError{Entity: entity.Name, Path: p, Reason: fmt.Sprintf("cannot be combined with %s", rel.ForeignKey)}
		}
		if other, ok := owned[rel.ForeignKey]; ok {
			return nil, &internal.InvalidRelationDirectiveError{Entity: entity.Name, Path: p, Reason: fmt.Sprintf("cannot be combined with %s", other)}
		}
		owned[rel.ForeignKey] = rel.Name
	}

	for _, field := range entity.Fields {
		if _, ok := req.Scalars[field.Name]; ok {
			continue
		}
		if _, ok := owned[field.Name]; ok {
			continue
		}
		if scope != nil && scope.foreignKey == field.Name {
			continue
		}
		v, ok, err := DefaultValue(entity, field)
		if err != nil {
			return nil, err
		}
		if ok {
			req.Scalars[field.Name] = v
			continue
		}
		if field.Required() {
			return nil, &internal.MissingRequiredFieldError{Entity: entity.Name, Path: join(path, field.Name)}
		}
	}
	return req, nil
}

func directive(entity *internal.EntityType, rel *internal.RelationField, value any, path string) (internal.RelationDirective, error) {
	invalid := func(reason string) error {
		return &internal.InvalidRelationDirectiveError{Entity: entity.Name, Path: path, Reason: reason}
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, invalid("expected an object with create or connect")
	}
	createVal, hasCreate := obj[keyCreate]
	connectVal, hasConnect := obj[keyConnect]
	switch {
	case hasCreate && hasConnect:
		return nil, invalid("create and connect cannot be combined")
	case !hasCreate && !hasConnect:
		return nil, invalid("expected one of create or connect")
	case len(obj) != 1:
		for _, key := range sortedKeys(obj) {
			if key != keyCreate && key != keyConnect {
				return nil, invalid(fmt.Sprintf("unexpected key %s", key))
			}
		}
	}
	target := entity.Target(rel.Name)
	if hasCreate {
		return nestedCreate(entity, rel, target, createVal, join(path, keyCreate))
	}
	return connect(entity, rel, target, connectVal, join(path, keyConnect))
}

func nestedCreate(entity *internal.EntityType, rel *internal.RelationField, target *internal.EntityType, value any, path string) (internal.RelationDirective, error) {
	var payloads []map[string]any
	switch v := value.(type) {
	case map[string]any:
		payloads = []map[string]any{v}
	case []map[string]any:
		payloads = v
	case []any:
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, &internal.InvalidRelationDirectiveError{Entity: entity.Name, Path: fmt.Sprintf("%s[%d]", path, i), Reason: "expected an object"}
			}
			payloads = append(payloads, obj)
		}
	default:
		return nil, &internal.InvalidRelationDirectiveError{Entity: entity.Name, Path: path, Reason: "expected an object or a list of objects"}
	}
	var scope *nestedScope
	if rel.Cardinality == internal.OneToMany {
		scope = &nestedScope{foreignKey: rel.ForeignKey, relations: make(map[string]bool)}
		for _, inverse := range target.Relations {
			if inverse.Cardinality == internal.ManyToOne && inverse.Target == entity.Name && inverse.ForeignKey == rel.ForeignKey {
				scope.relations[inverse.Name] = true
			}
		}
	} else if len(payloads) != 1 {
		return nil, &internal.InvalidRelationDirectiveError{Entity: entity.Name, Path: path, Reason: "expected exactly one object"}
	}
	directive := &internal.CreateNested{Requests: make([]*internal.CreateRequest, 0, len(payloads))}
	for i, payload := range payloads {
		p := path
		if _, ok := value.(map[string]any); !ok {
			p = fmt.Sprintf("%s[%d]", path, i)
		}
		req, err := create(target, payload, p, scope)
		if err != nil {
			return nil, err
		}
		directive.Requests = append(directive.Requests, req)
	}
	return directive, nil
}

func connect(entity *internal.EntityType, rel *internal.RelationField, target *internal.EntityType, value any, path string) (internal.RelationDirective, error) {
	var refs []any
	switch v := value.(type) {
	case []any:
		refs = v
	case []map[string]any:
		for _, ref := range v {
			refs = append(refs, ref)
		}
	default:
		refs = []any{v}
	}
	if rel.Cardinality == internal.ManyToOne && len(refs) != 1 {
		return nil, &internal.InvalidRelationDirectiveError{Entity: entity.Name, Path: path, Reason: "expected exactly one reference"}
	}
	pk := target.PrimaryKey()
	directive := &internal.Connect{Keys: make([]any, 0, len(refs))}
	seen := make(map[string]bool, len(refs))
	for i, ref := range refs {
		p := path
		if len(refs) > 1 {
			p = fmt.Sprintf("%s[%d]", path, i)
		}
		raw := ref
		if obj, ok := ref.(map[string]any); ok {
			v, found := obj[pk.Name]
			if !found || len(obj) != 1 {
				return nil, &internal.InvalidRelationDirectiveError{Entity: entity.Name, Path: p, Reason: fmt.Sprintf("malformed reference, expected {%s: value}", pk.Name)}
			}
			raw = v
		}
		key, err := Coerce(target, join(p, pk.Name), pk, raw)
		if err != nil || key == nil {
			return nil, &internal.InvalidRelationDirectiveError{Entity: entity.Name, Path: p, Reason: fmt.Sprintf("malformed reference, %s must be a %s", pk.Name, pk.Kind)}
		}
		// a row is linked once no matter how often it is referenced
		id := fmt.Sprintf("%T:%v", key, key)
		if seen[id] {
			continue
		}
		seen[id] = true
		directive.Keys = append(directive.Keys, key)
	}
	return directive, nil
}

// Projection validates the select and include maps. It returns nil when neither is supplied.
func Projection(entity *internal.EntityType, selectRaw map[string]any, includeRaw map[string]any) (internal.SelectSpec, error) {
	if selectRaw != nil && includeRaw != nil {
		return nil, &internal.SelectIncludeConflictError{Entity: entity.Name}
	}
	if selectRaw != nil {
		chosen, err := chosenKeys(entity, "select", selectRaw, true)
		if err != nil {
			return nil, err
		}
		spec := &internal.Select{}
		for _, f := range entity.Fields {
			if chosen[f.Name] {
				spec.Fields = append(spec.Fields, f.Name)
			}
		}
		for _, r := range entity.Relations {
			if chosen[r.Name] {
				spec.Relations = append(spec.Relations, r.Name)
			}
		}
		return spec, nil
	}
	if includeRaw != nil {
		chosen, err := chosenKeys(entity, "include", includeRaw, false)
		if err != nil {
			return nil, err
		}
		spec := &internal.Include{}
		for _, r := range entity.Relations {
			if chosen[r.Name] {
				spec.Relations = append(spec.Relations, r.Name)
			}
		}
		return spec, nil
	}
	return nil, nil
}

func chosenKeys(entity *internal.EntityType, prefix string, raw map[string]any, allowScalars bool) (map[string]bool, error) {
	chosen := make(map[string]bool)
	for _, key := range sortedKeys(raw) {
		p := join(prefix, key)
		_, isField := entity.Field(key)
		_, isRelation := entity.Relation(key)
		if !isRelation && (!isField || !allowScalars) {
			return nil, &internal.UnknownFieldError{Entity: entity.Name, Path: p}
		}
		on, ok := raw[key].(bool)
		if !ok {
			return nil, &internal.TypeMismatchError{Entity: entity.Name, Path: p, Expected: internal.FieldKindBoolean, Value: raw[key]}
		}
		if on {
			chosen[key] = true
		}
	}
	return chosen, nil
}

// Batch validates each row of a batch create. Relations are not permitted in batch mode and the
// optional select may only name scalar fields.
func Batch(entity *internal.EntityType, rows []map[string]any, skipDuplicates bool, selectRaw map[string]any) (*internal.BatchCreateRequest, error) {
	batch := &internal.BatchCreateRequest{
		Entity:         entity,
		Rows:           make([]map[string]any, 0, len(rows)),
		SkipDuplicates: skipDuplicates,
	}
	for i, row := range rows {
		path := fmt.Sprintf("data[%d]", i)
		for _, key := range sortedKeys(row) {
			if _, ok := entity.Relation(key); ok {
				return nil, &internal.InvalidRelationDirectiveError{Entity: entity.Name, Path: join(path, key), Reason: "relations are not supported in batch mode"}
			}
		}
		req, err := create(entity, row, path, nil)
		if err != nil {
			return nil, err
		}
		batch.Rows = append(batch.Rows, req.Scalars)
	}
	spec, err := Projection(entity, selectRaw, nil)
	if err != nil {
		return nil, err
	}
	if sel, ok := spec.(*internal.Select); ok && len(sel.Relations) > 0 {
		return nil, &internal.InvalidRelationDirectiveError{Entity: entity.Name, Path: join("select", sel.Relations[0]), Reason: "relations cannot be selected in batch mode"}
	}
	batch.Select = spec
	return batch, nil
}
