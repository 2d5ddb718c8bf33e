package sqldriver

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopmonkeyus/entitydb/internal"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// Columns returns the fields present in values in declaration order.
func Columns(entity *internal.EntityType, values map[string]any) []*internal.ScalarField {
	var res []*internal.ScalarField
	for _, f := range entity.Fields {
		if _, ok := values[f.Name]; ok {
			res = append(res, f)
		}
	}
	return res
}

// ColumnKey returns a key which is equal for rows with the same set of columns.
func ColumnKey(fields []*internal.ScalarField) string {
	var sb strings.Builder
	for _, f := range fields {
		sb.WriteString(f.Name)
		sb.WriteByte(0)
	}
	return sb.String()
}

// BindValue converts a canonical value into a value which can be passed to a sql driver.
func BindValue(field *internal.ScalarField, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if field.Kind == internal.FieldKindJSON {
		buf, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("error encoding %s: %w", field.Name, err)
		}
		return string(buf), nil
	}
	return v, nil
}

// Convert converts a value scanned from a sql driver into the canonical value for the field.
func Convert(field *internal.ScalarField, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if buf, ok := raw.([]byte); ok {
		raw = string(buf)
	}
	switch field.Kind {
	case internal.FieldKindString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return fmt.Sprint(raw), nil
	case internal.FieldKindInt:
		switch v := raw.(type) {
		case int64:
			return v, nil
		case int32:
			return int64(v), nil
		case int:
			return int64(v), nil
		case uint64:
			return int64(v), nil
		case float64:
			return int64(v), nil
		case string:
			return strconv.ParseInt(v, 10, 64)
		}
	case internal.FieldKindFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			return strconv.ParseFloat(v, 64)
		}
	case internal.FieldKindBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case string:
			return strconv.ParseBool(v)
		}
	case internal.FieldKindDateTime:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, v); err == nil {
					return t.UTC(), nil
				}
			}
		}
	case internal.FieldKindJSON:
		if s, ok := raw.(string); ok {
			var v any
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil, fmt.Errorf("error decoding %s: %w", field.Name, err)
			}
			return v, nil
		}
		return raw, nil
	}
	return nil, fmt.Errorf("cannot convert %T to %s for field %s", raw, field.Kind, field.Name)
}

// ConvertKey converts a key returned by the database (RETURNING, OUTPUT or LastInsertId) into the primary key kind.
func ConvertKey(entity *internal.EntityType, raw any) (any, error) {
	return Convert(entity.PrimaryKey(), raw)
}
