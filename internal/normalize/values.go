package normalize

import (
	"crypto/rand"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopmonkeyus/entitydb/internal"
)

var (
	entropyLock sync.Mutex
	entropy     = ulid.Monotonic(rand.Reader, 0)
)

func newULID() string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Coerce converts v into the canonical Go value for the field kind:
// string, int64, float64, bool, time.Time (UTC) or, for JSON, the value itself.
func Coerce(entity *internal.EntityType, path string, field *internal.ScalarField, v any) (any, error) {
	mismatch := &internal.TypeMismatchError{Entity: entity.Name, Path: path, Expected: field.Kind, Value: v}
	if v == nil {
		if field.Nullable {
			return nil, nil
		}
		return nil, mismatch
	}
	switch field.Kind {
	case internal.FieldKindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case internal.FieldKindInt:
		if i, ok := toInt64(v); ok {
			return i, nil
		}
	case internal.FieldKindFloat:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case internal.FieldKindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case internal.FieldKindDateTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return parsed.UTC(), nil
			}
		}
	case internal.FieldKindJSON:
		if _, err := json.Marshal(v); err == nil {
			return v, nil
		}
	}
	return nil, mismatch
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return uintToInt64(uint64(n))
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return uintToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt64(f)
		}
	}
	return 0, false
}

func uintToInt64(n uint64) (int64, bool) {
	if n > math.MaxInt64 {
		return 0, false
	}
	return int64(n), true
}

func floatToInt64(f float64) (int64, bool) {
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// DefaultValue returns the default for the field. It returns false if the field has no default
// or the default is assigned by the backend.
func DefaultValue(entity *internal.EntityType, field *internal.ScalarField) (any, bool, error) {
	if field.Default == nil {
		return nil, false, nil
	}
	switch field.Generator() {
	case internal.DefaultAutoincrement:
		return nil, false, nil
	case internal.DefaultUUID:
		return uuid.NewString(), true, nil
	case internal.DefaultULID:
		return newULID(), true, nil
	case internal.DefaultNow:
		return time.Now().UTC(), true, nil
	}
	v, err := Coerce(entity, field.Name, field, field.Default)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}
