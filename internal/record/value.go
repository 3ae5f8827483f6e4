// Package record implements the self-delimiting tagged-value wire format
// used to frame individual archive records inside a chunk stream.
//
// The wire format is msgpack: every value begins with a single format byte
// that announces its own length (or, for small integers, is the value
// itself). That self-description is what lets internal/unpacker resume
// decoding at an arbitrary byte offset after data loss.
package record

import "fmt"

// Kind identifies which alternative of Value is populated.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindBytes
	KindString
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// MapEntry is one key/value pair of a Value of KindMap. Order is the
// order the pairs were encoded or decoded in; it is not significant for
// equality.
type MapEntry struct {
	Key   Value
	Value Value
}

// Value is a tagged union over the record types a record stream can carry.
// It is deliberately not a native Go map/slice-of-any so that decoding
// never needs reflection and every accessor is a direct field read.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Bytes []byte
	Str   string
	Array []Value
	Map   []MapEntry
}

func Nil() Value                 { return Value{Kind: KindNil} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value          { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value      { return Value{Kind: KindFloat, Float: f} }
func Bytes(b []byte) Value       { return Value{Kind: KindBytes, Bytes: b} }
func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Array(vs ...Value) Value    { return Value{Kind: KindArray, Array: vs} }
func Map(es ...MapEntry) Value   { return Value{Kind: KindMap, Map: es} }
func Entry(k, v Value) MapEntry  { return MapEntry{Key: k, Value: v} }

// IsNil reports whether v is the nil value.
func (v Value) IsNil() bool { return v.Kind == KindNil }

// Equal reports whether a and b have the same kind and contents. Map
// comparison is order-sensitive by entry position, matching how the codec
// happens to decode them; two maps holding the same pairs in different
// orders compare unequal here even though the wire format treats map key
// order as insignificant.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNil:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindBytes:
		return bytesEqual(a.Bytes, b.Bytes)
	case KindString:
		return a.Str == b.Str
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Equal(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for i := range a.Map {
			if !Equal(a.Map[i].Key, b.Map[i].Key) || !Equal(a.Map[i].Value, b.Map[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.Bytes))
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	case KindArray:
		return fmt.Sprintf("array(%d)", len(v.Array))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(v.Map))
	default:
		return "invalid"
	}
}
