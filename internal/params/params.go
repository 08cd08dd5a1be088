// Package params holds the untyped parameter object of a query request and
// the explicit, per-type extraction the handlers use on it. Nothing is
// coerced implicitly: a value of the wrong JSON type is an error.
package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrNotObject = errors.New("params must be a JSON object")
	ErrType      = errors.New("unexpected parameter type")
)

// Redacted replaces sensitive values in audit documents.
const Redacted = "<redacted>"

// SensitiveKeys are never written to the audit trail verbatim.
var SensitiveKeys = []string{"vector", "embedding", "payload", "content"}

type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	List
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case List:
		return "list"
	case Object:
		return "object"
	}
	return "unknown"
}

// Value is one decoded JSON value.
type Value struct {
	kind Kind
	b    bool
	num  json.Number
	str  string
	list []Value
	obj  map[string]Value
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) List() []Value {
	return v.list
}

// Float returns a numeric value as float64.
func (v Value) Float() (float64, error) {
	if v.kind != Number {
		return 0, fmt.Errorf("%w: want number, got %s", ErrType, v.kind)
	}
	f, err := v.num.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: %q is not a finite number", ErrType, v.num)
	}
	return f, nil
}

// Interface converts the value back to plain Go types for encoding.
func (v Value) Interface() any {
	switch v.kind {
	case Bool:
		return v.b
	case Number:
		return v.num
	case String:
		return v.str
	case List:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case Object:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.Interface()
		}
		return out
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromAny(raw)
	return nil
}

func fromAny(raw any) Value {
	switch x := raw.(type) {
	case bool:
		return Value{kind: Bool, b: x}
	case json.Number:
		return Value{kind: Number, num: x}
	case string:
		return Value{kind: String, str: x}
	case []any:
		list := make([]Value, len(x))
		for i, item := range x {
			list[i] = fromAny(item)
		}
		return Value{kind: List, list: list}
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, item := range x {
			obj[k] = fromAny(item)
		}
		return Value{kind: Object, obj: obj}
	}
	return Value{kind: Null}
}

// Params is the "params" object of a query request.
type Params map[string]Value

// Parse decodes raw into Params. Absent or null params yield an empty set.
func Parse(raw json.RawMessage) (Params, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Params{}, nil
	}

	var v Value
	if err := v.UnmarshalJSON(trimmed); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if v.kind != Object {
		return nil, ErrNotObject
	}
	return Params(v.obj), nil
}

// Lookup returns the value under key, treating null as absent.
func (p Params) Lookup(key string) (Value, bool) {
	v, ok := p[key]
	if !ok || v.kind == Null {
		return Value{}, false
	}
	return v, true
}

// String returns the string under key, or "" when absent.
func (p Params) String(key string) (string, error) {
	v, ok := p.Lookup(key)
	if !ok {
		return "", nil
	}
	if v.kind != String {
		return "", fmt.Errorf("%w: %s must be a string, got %s", ErrType, key, v.kind)
	}
	return v.str, nil
}

// Int returns the integer under key, or def when absent. Integral numbers and
// base-10 integer strings are accepted; anything else is an error.
func (p Params) Int(key string, def int64) (int64, error) {
	v, ok := p.Lookup(key)
	if !ok {
		return def, nil
	}

	switch v.kind {
	case Number:
		if n, err := v.num.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		if f != math.Trunc(f) || f >= 1<<63 || f < math.MinInt64 {
			return 0, fmt.Errorf("%w: %s must be an integer, got %s", ErrType, key, v.num)
		}
		return int64(f), nil
	case String:
		n, err := strconv.ParseInt(strings.TrimSpace(v.str), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrType, key, v.str)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %s must be an integer, got %s", ErrType, key, v.kind)
}

// Sanitized returns a plain copy suitable for the audit trail, with every
// sensitive key replaced by Redacted.
func (p Params) Sanitized() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		if isSensitive(k) {
			out[k] = Redacted
			continue
		}
		out[k] = v.Interface()
	}
	return out
}

func isSensitive(key string) bool {
	for _, s := range SensitiveKeys {
		if key == s {
			return true
		}
	}
	return false
}

// Clamp bounds n to [lo, hi].
func Clamp(n, lo, hi int64) int64 {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
