// Package plistval implements the tagged-union property-list value
// model used by the bundle engine (CodeResources, Info.plist, merged
// entitlements) and its styled XML writer.
//
// Decoding is delegated to howett.net/plist, which already
// self-detects XML and binary plist (format 0/1) and round-trips
// interface{} scalars, time.Time and []byte. Encoding is hand-written
// so the project controls the line-wrap budget Apple's own plist
// writer uses, which the upstream library's MarshalIndent does not
// reproduce.
package plistval

import (
	"fmt"
	"sort"
)

// Kind identifies which of the eight plist scalar/container kinds a
// Value holds.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindReal
	KindBool
	KindData
	KindDate
	KindArray
	KindDict
)

// Value is a tagged union over the plist data model. Exactly one of
// the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind Kind

	Str   string
	Int   int64
	Real  float64
	Bool  bool
	Data  []byte
	Date  string // RFC3339; kept as string to avoid importing time for a write-only field
	Array []Value
	Dict  map[string]Value
}

func String(s string) Value        { return Value{Kind: KindString, Str: s} }
func Int(i int64) Value            { return Value{Kind: KindInt, Int: i} }
func Real(f float64) Value         { return Value{Kind: KindReal, Real: f} }
func Bool(b bool) Value            { return Value{Kind: KindBool, Bool: b} }
func Data(d []byte) Value          { return Value{Kind: KindData, Data: d} }
func Array(v ...Value) Value       { return Value{Kind: KindArray, Array: v} }
func Dict(m map[string]Value) Value { return Value{Kind: KindDict, Dict: m} }

// FromInterface converts the interface{} tree howett.net/plist decodes
// into (map[string]interface{}, []interface{}, string, int64, float64,
// bool, []byte) into a Value tree. Unknown types are rejected rather
// than silently dropped.
func FromInterface(v interface{}) (Value, error) {
	switch t := v.(type) {
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case []byte:
		return Data(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint64:
		return Int(int64(t)), nil
	case float64:
		return Real(t), nil
	case float32:
		return Real(float64(t)), nil
	case []interface{}:
		out := make([]Value, len(t))
		for i, e := range t {
			cv, err := FromInterface(e)
			if err != nil {
				return Value{}, fmt.Errorf("array[%d]: %w", i, err)
			}
			out[i] = cv
		}
		return Array(out...), nil
	case map[string]interface{}:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			cv, err := FromInterface(e)
			if err != nil {
				return Value{}, fmt.Errorf("dict[%q]: %w", k, err)
			}
			out[k] = cv
		}
		return Dict(out), nil
	default:
		return Value{}, fmt.Errorf("plistval: unsupported decoded type %T", v)
	}
}

// ToInterface converts back to the plain interface{} tree, suitable
// for handing to howett.net/plist.Marshal when the styled writer isn't
// needed (e.g. binary output).
func (v Value) ToInterface() interface{} {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return v.Int
	case KindReal:
		return v.Real
	case KindBool:
		return v.Bool
	case KindData:
		return v.Data
	case KindArray:
		out := make([]interface{}, len(v.Array))
		for i, e := range v.Array {
			out[i] = e.ToInterface()
		}
		return out
	case KindDict:
		out := make(map[string]interface{}, len(v.Dict))
		for k, e := range v.Dict {
			out[k] = e.ToInterface()
		}
		return out
	default:
		return nil
	}
}

// DictGet fetches a key from a KindDict value, returning ok=false if
// v isn't a dict or the key is absent.
func (v Value) DictGet(key string) (Value, bool) {
	if v.Kind != KindDict {
		return Value{}, false
	}
	e, ok := v.Dict[key]
	return e, ok
}

// SortedKeys returns a dict's keys in ascending order, for stable
// iteration when emitting XML.
func (v Value) SortedKeys() []string {
	if v.Kind != KindDict {
		return nil
	}
	keys := make([]string, 0, len(v.Dict))
	for k := range v.Dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
