// Package valuetree implements the tagged-variant JSON tree used to hold a
// wallet object in memory. It exists so the reconciliation engine can
// deep-merge and structurally compare trees without round-tripping through
// encoding/json's map[string]interface{} (which loses the ability to tell
// "absent" from "null" and to walk arrays/objects uniformly).
package valuetree

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies the shape of a Value.
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

// Value is a single node of a wallet object tree. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

func (v Value) Kind() Kind { return v.kind }

func NullValue() Value           { return Value{kind: Null} }
func BoolValue(b bool) Value     { return Value{kind: Bool, b: b} }
func NumberValue(n float64) Value { return Value{kind: Number, n: n} }
func StringValue(s string) Value { return Value{kind: String, s: s} }

func ArrayValue(items ...Value) Value {
	return Value{kind: Array, arr: append([]Value(nil), items...)}
}

// ObjectValue builds an Object node from a map, copying it defensively.
func ObjectValue(fields map[string]Value) Value {
	obj := make(map[string]Value, len(fields))
	for k, v := range fields {
		obj[k] = v
	}
	return Value{kind: Object, obj: obj}
}

// EmptyObject returns a fresh, empty Object node.
func EmptyObject() Value {
	return Value{kind: Object, obj: map[string]Value{}}
}

func (v Value) Bool() (bool, bool) {
	if v.kind != Bool {
		return false, false
	}
	return v.b, true
}

func (v Value) String() (string, bool) {
	if v.kind != String {
		return "", false
	}
	return v.s, true
}

func (v Value) Number() (float64, bool) {
	if v.kind != Number {
		return 0, false
	}
	return v.n, true
}

// Field looks up a key on an Object node. Returns false if v is not an
// Object or the key is absent.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	f, ok := v.obj[key]
	return f, ok
}

// Keys returns the sorted field names of an Object node, or nil otherwise.
func (v Value) Keys() []string {
	if v.kind != Object {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WithField returns a copy of v (which must be an Object, or Null standing
// in for "not yet created") with key set to val.
func (v Value) WithField(key string, val Value) Value {
	obj := map[string]Value{}
	if v.kind == Object {
		for k, f := range v.obj {
			obj[k] = f
		}
	}
	obj[key] = val
	return Value{kind: Object, obj: obj}
}

// WithoutField returns a copy of v with key removed. A no-op if v is not an
// Object or the key is absent.
func (v Value) WithoutField(key string) Value {
	if v.kind != Object {
		return v
	}
	if _, ok := v.obj[key]; !ok {
		return v
	}
	obj := make(map[string]Value, len(v.obj)-1)
	for k, f := range v.obj {
		if k != key {
			obj[k] = f
		}
	}
	return Value{kind: Object, obj: obj}
}

// Equal reports whether v and other are structurally identical.
func Equal(v, other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case Bool:
		return v.b == other.b
	case Number:
		return v.n == other.n
	case String:
		return v.s == other.s
	case Array:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !Equal(v.arr[i], other.arr[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, f := range v.obj {
			of, ok := other.obj[k]
			if !ok || !Equal(f, of) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case Null:
		return []byte("null"), nil
	case Bool:
		return json.Marshal(v.b)
	case Number:
		return json.Marshal(v.n)
	case String:
		return json.Marshal(v.s)
	case Array:
		return json.Marshal(v.arr)
	case Object:
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("valuetree: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = fromInterface(raw)
	return nil
}

func fromInterface(raw interface{}) Value {
	switch x := raw.(type) {
	case nil:
		return NullValue()
	case bool:
		return BoolValue(x)
	case float64:
		return NumberValue(x)
	case string:
		return StringValue(x)
	case []interface{}:
		items := make([]Value, len(x))
		for i, e := range x {
			items[i] = fromInterface(e)
		}
		return Value{kind: Array, arr: items}
	case map[string]interface{}:
		obj := make(map[string]Value, len(x))
		for k, e := range x {
			obj[k] = fromInterface(e)
		}
		return Value{kind: Object, obj: obj}
	default:
		return NullValue()
	}
}
