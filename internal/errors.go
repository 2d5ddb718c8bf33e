package internal

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error codes returned to callers.
const (
	CodeUnknownEntity         = "unknown_entity"
	CodeUnknownField          = "unknown_field"
	CodeTypeMismatch          = "type_mismatch"
	CodeRequired              = "required"
	CodeInvalidRelation       = "invalid_relation"
	CodeSelectIncludeConflict = "select_include_conflict"
	CodeRefNotFound           = "ref_not_found"
	CodeUniqueViolation       = "unique_violation"
	CodeBackendUnavailable    = "backend_unavailable"
)

// ErrBackendStopped is returned when the backend has been stopped and a transaction is requested.
var ErrBackendStopped = errors.New("backend stopped")

// ValidationError is a caller fixable error detected before any write.
type ValidationError interface {
	error
	// Field is the path of the offending field, empty if not field specific.
	Field() string
	// Code is a stable machine readable code.
	Code() string
}

// UnknownEntityError is returned when the entity type is not registered.
type UnknownEntityError struct {
	Entity string
}

func (e *UnknownEntityError) Error() string { return fmt.Sprintf("unknown entity: %s", e.Entity) }
func (e *UnknownEntityError) Field() string { return "" }
func (e *UnknownEntityError) Code() string  { return CodeUnknownEntity }

// UnknownFieldError is returned for a key which is not a field or relation of the entity.
type UnknownFieldError struct {
	Entity string
	Path   string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %s on %s", e.Path, e.Entity)
}
func (e *UnknownFieldError) Field() string { return e.Path }
func (e *UnknownFieldError) Code() string  { return CodeUnknownField }

// TypeMismatchError is returned when a value does not match the kind of the field.
type TypeMismatchError struct {
	Entity   string
	Path     string
	Expected FieldKind
	Value    any
}

func (e *TypeMismatchError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("field %s on %s cannot be null", e.Path, e.Entity)
	}
	return fmt.Sprintf("field %s on %s expects %s, got %T", e.Path, e.Entity, e.Expected, e.Value)
}
func (e *TypeMismatchError) Field() string { return e.Path }
func (e *TypeMismatchError) Code() string  { return CodeTypeMismatch }

// MissingRequiredFieldError is returned when a required field without a default is absent.
type MissingRequiredFieldError struct {
	Entity string
	Path   string
}

func (e *MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("missing required field %s on %s", e.Path, e.Entity)
}
func (e *MissingRequiredFieldError) Field() string { return e.Path }
func (e *MissingRequiredFieldError) Code() string  { return CodeRequired }

// InvalidRelationDirectiveError is returned for a relation payload which is not exactly one create or connect directive.
type InvalidRelationDirectiveError struct {
	Entity string
	Path   string
	Reason string
}

func (e *InvalidRelationDirectiveError) Error() string {
	return fmt.Sprintf("invalid relation directive %s on %s: %s", e.Path, e.Entity, e.Reason)
}
func (e *InvalidRelationDirectiveError) Field() string { return e.Path }
func (e *InvalidRelationDirectiveError) Code() string  { return CodeInvalidRelation }

// SelectIncludeConflictError is returned when both select and include are supplied.
type SelectIncludeConflictError struct {
	Entity string
}

func (e *SelectIncludeConflictError) Error() string {
	return fmt.Sprintf("select and include cannot be combined on %s", e.Entity)
}
func (e *SelectIncludeConflictError) Field() string { return "" }
func (e *SelectIncludeConflictError) Code() string  { return CodeSelectIncludeConflict }

// DanglingReferenceError is returned when a connect references a row which does not exist.
type DanglingReferenceError struct {
	Entity string
	Key    any
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("no %s found with key %v", e.Entity, e.Key)
}
func (e *DanglingReferenceError) Code() string { return CodeRefNotFound }

// UniqueConstraintError is returned when an insert violates a uniqueness constraint.
type UniqueConstraintError struct {
	Entity string
	Field  string
	Value  any
}

func (e *UniqueConstraintError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("unique constraint violated on %s", e.Entity)
	}
	return fmt.Sprintf("unique constraint violated on %s.%s for value %v", e.Entity, e.Field, e.Value)
}
func (e *UniqueConstraintError) Code() string { return CodeUniqueViolation }

// BackendUnavailableError is returned when the storage backend cannot be reached.
type BackendUnavailableError struct {
	Op  string
	Err error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable during %s: %s", e.Op, e.Err)
}
func (e *BackendUnavailableError) Unwrap() error { return e.Err }
func (e *BackendUnavailableError) Code() string  { return CodeBackendUnavailable }

// NewBackendUnavailableError wraps err with a stack unless it is already classified.
func NewBackendUnavailableError(op string, err error) error {
	var bu *BackendUnavailableError
	if errors.As(err, &bu) {
		return err
	}
	return &BackendUnavailableError{Op: op, Err: errors.WithStackDepth(err, 1)}
}

// IsValidationError returns true if err is a ValidationError.
func IsValidationError(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

// IsDanglingReferenceError returns true if err is a DanglingReferenceError.
func IsDanglingReferenceError(err error) bool {
	var e *DanglingReferenceError
	return errors.As(err, &e)
}

// IsUniqueConstraintError returns true if err is a UniqueConstraintError.
func IsUniqueConstraintError(err error) bool {
	var e *UniqueConstraintError
	return errors.As(err, &e)
}

// IsBackendUnavailableError returns true if err is a BackendUnavailableError.
func IsBackendUnavailableError(err error) bool {
	var e *BackendUnavailableError
	return errors.As(err, &e)
}

// ErrorCode returns the stable code for err or "internal" if it is not part of the taxonomy.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return "internal"
}
