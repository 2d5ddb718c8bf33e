package projection

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Object is a result object which keeps its keys in insertion order when encoded.
type Object struct {
	keys   []string
	values map[string]any
}

var _ json.Marshaler = (*Object)(nil)
var _ msgpack.CustomEncoder = (*Object)(nil)

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{values: make(map[string]any)}
}

// Set sets the value of the key, a new key is appended after the existing keys.
func (o *Object) Set(key string, val any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = val
}

// Get returns the value of the key.
func (o *Object) Get(key string) (any, bool) {
	val, ok := o.values[key]
	return val, ok
}

// Keys returns the keys in order.
func (o *Object) Keys() []string {
	return o.keys
}

// Len returns the number of keys.
func (o *Object) Len() int {
	return len(o.keys)
}

// Map returns the object as a plain map, nested objects included.
func (o *Object) Map() map[string]any {
	res := make(map[string]any, len(o.keys))
	for _, key := range o.keys {
		switch val := o.values[key].(type) {
		case *Object:
			if val == nil {
				res[key] = nil
			} else {
				res[key] = val.Map()
			}
		case []*Object:
			list := make([]map[string]any, len(val))
			for i, item := range val {
				list[i] = item.Map()
			}
			res[key] = list
		default:
			res[key] = val
		}
	}
	return res
}

func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(o.values[key])
		if err != nil {
			return nil, fmt.Errorf("error encoding %s: %w", key, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *Object) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(len(o.keys)); err != nil {
		return err
	}
	for _, key := range o.keys {
		if err := enc.EncodeString(key); err != nil {
			return err
		}
		if err := enc.Encode(o.values[key]); err != nil {
			return fmt.Errorf("error encoding %s: %w", key, err)
		}
	}
	return nil
}
