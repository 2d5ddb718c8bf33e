package sqldriver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopmonkeyus/entitydb/internal"
)

// Violation is a constraint violation reported by the database.
type Violation struct {
	// Column or index name reported by the database, may be empty.
	Column string
	// Value reported by the database, may be empty.
	Value string
}

// AsError attempts to extract an error implementing T from the error chain.
func AsError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.UnwrapOnce(err)
	}
	return target, false
}

// ContainsAny returns true if s contains any of the substrings.
func ContainsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsConnectionError returns true if the error is a transport level failure.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if _, ok := AsError[net.Error](err); ok {
		return true
	}
	return ContainsAny(err.Error(), "connection refused", "broken pipe", "connection reset by peer", "bad connection")
}

// FindUniqueField resolves the field and value of a unique violation. The column and value
// reported by the database are matched against the rows which were being inserted.
func FindUniqueField(entity *internal.EntityType, rows []map[string]any, v Violation) (string, any) {
	var field *internal.ScalarField
	if v.Column != "" {
		field = fieldForIndex(entity, v.Column)
	}
	if field != nil {
		if v.Value != "" {
			for _, row := range rows {
				if val, ok := row[field.Name]; ok && val != nil && fmt.Sprint(val) == v.Value {
					return field.Name, val
				}
			}
			return field.Name, v.Value
		}
		if len(rows) == 1 {
			return field.Name, rows[0][field.Name]
		}
		return field.Name, nil
	}
	if v.Value != "" {
		for _, row := range rows {
			for _, f := range entity.UniqueFields() {
				if val, ok := row[f.Name]; ok && val != nil && fmt.Sprint(val) == v.Value {
					return f.Name, val
				}
			}
		}
	}
	if unique := entity.UniqueFields(); len(unique) == 1 && len(rows) == 1 {
		return unique[0].Name, rows[0][unique[0].Name]
	}
	return "", nil
}

// fieldForIndex maps a column, qualified column or index name to a unique field.
func fieldForIndex(entity *internal.EntityType, name string) *internal.ScalarField {
	name = strings.Trim(name, "`\"[] ")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if f, ok := entity.FieldByColumn(name); ok {
		return f
	}
	lower := strings.ToLower(name)
	for _, f := range entity.UniqueFields() {
		col := strings.ToLower(f.ColumnName())
		if strings.HasSuffix(lower, "_"+col) || strings.HasSuffix(lower, "_"+col+"_key") || strings.HasSuffix(lower, "_"+col+"_unique") || strings.HasPrefix(lower, col+"_") {
			return f
		}
	}
	return nil
}

// danglingForInsert returns the dangling reference error for a foreign key violation on insert.
func danglingForInsert(entity *internal.EntityType, rows []map[string]any) error {
	for _, rel := range entity.Relations {
		if rel.Cardinality != internal.ManyToOne {
			continue
		}
		for _, row := range rows {
			if val, ok := row[rel.ForeignKey]; ok && val != nil {
				return &internal.DanglingReferenceError{Entity: rel.Target, Key: val}
			}
		}
	}
	return &internal.DanglingReferenceError{Entity: entity.Name}
}

// classify maps a database error into the error taxonomy.
func (t *Txn) classify(ctx context.Context, op string, entity *internal.EntityType, rows []map[string]any, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if v, ok := t.dialect.UniqueViolation(err); ok {
		field, value := FindUniqueField(entity, rows, v)
		if field != "" && value == nil && len(rows) > 1 && t.dialect.CanProbe() {
			value = t.lookupDuplicate(ctx, entity, rows, field)
		}
		return &internal.UniqueConstraintError{Entity: entity.Name, Field: field, Value: value}
	}
	if t.dialect.ForeignKeyViolation(err) {
		return danglingForInsert(entity, rows)
	}
	if IsConnectionError(err) || t.dialect.ConnectionError(err) {
		return internal.NewBackendUnavailableError(op, err)
	}
	return fmt.Errorf("error executing %s on %s: %w", op, entity.TableName(), err)
}
