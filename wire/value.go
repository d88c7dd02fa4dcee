// Package wire implements the envelope wire format: a 16-byte destination, a
// 16-byte source, a 64-byte signature, and a MessagePack-encoded payload
// array, plus the tagged fields-map variant tree carried inside it.
package wire

import "fmt"

// Kind tags the dynamic type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindStr
	KindBytes
	KindArray
	KindMap
)

// MapKey is a fields-map key: either a small non-negative integer or a
// string, matching the spec's Map<IntOrStr, Value>.
type MapKey struct {
	IsString bool
	Int      int64
	Str      string
}

// IntKey builds an integer MapKey.
func IntKey(i int64) MapKey { return MapKey{Int: i} }

// StrKey builds a string MapKey.
func StrKey(s string) MapKey { return MapKey{IsString: true, Str: s} }

func (k MapKey) String() string {
	if k.IsString {
		return k.Str
	}
	return fmt.Sprintf("%d", k.Int)
}

// Value is the tagged variant tree used for the fields map and its nested
// structured content. Only one of the typed fields is meaningful, selected
// by Kind.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Bytes []byte
	Array []Value
	Map   map[MapKey]Value
}

func Null() Value                  { return Value{Kind: KindNull} }
func Bool(b bool) Value            { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value            { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value        { return Value{Kind: KindFloat, Float: f} }
func Str(s string) Value           { return Value{Kind: KindStr, Str: s} }
func Bytes(b []byte) Value         { return Value{Kind: KindBytes, Bytes: b} }
func Array(vs []Value) Value       { return Value{Kind: KindArray, Array: vs} }
func Map(m map[MapKey]Value) Value { return Value{Kind: KindMap, Map: m} }

// IsNull reports whether v is the Null variant.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Equal compares two values for deep equality, matching the round-trip law
// that encode-then-decode yields an equal value.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindStr:
		return a.Str == b.Str
	case KindBytes:
		return bytesEqual(a.Bytes, b.Bytes)
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
		for k, av := range a.Map {
			bv, ok := b.Map[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
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

// Reserved fields-map keys, per the spec's §3 data model.
const (
	FieldAttachments = 5   // ordered (filename, bytes) pairs
	FieldOpaqueBlob  = 112 // collaborator-specific opaque blob
)

// IsStructuredContentKey reports whether key falls in the reserved
// structured-content range 1-15 (embedded messages, telemetry, images,
// threading, commands, renderer, events, refs).
func IsStructuredContentKey(key int64) bool { return key >= 1 && key <= 15 }

// IsCustomDebugKey reports whether key falls in the reserved custom/debug
// range 251-255.
func IsCustomDebugKey(key int64) bool { return key >= 251 && key <= 255 }

// Attachment is one (filename, bytes) pair held under FieldAttachments.
type Attachment struct {
	Name string
	Data []byte
}
