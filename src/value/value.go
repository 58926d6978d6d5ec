// Package value implements the dynamic-typed data tree that build
// descriptions are loaded into: a tagged union of scalars, ordered sequences
// and insertion-ordered mappings (spec.md §9).
package value

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which shape a Value holds.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
	KindSeq
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindSeq:
		return "list"
	case KindMap:
		return "dict"
	default:
		return "unknown"
	}
}

// A Value is one node of the loaded build-description tree. The zero Value
// is an empty string, matching the zero value of the underlying scalar.
type Value struct {
	kind Kind
	str  string
	i    int
	b    bool
	seq  []Value
	m    *Map
}

// String constructs a string-valued Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int constructs an int-valued Value.
func Int(i int) Value { return Value{kind: KindInt, i: i} }

// Bool constructs a bool-valued Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Seq constructs a sequence-valued Value from the given ordered elements.
func Seq(elems ...Value) Value { return Value{kind: KindSeq, seq: elems} }

// MapValue constructs a mapping-valued Value from an already-built Map.
func MapValue(m *Map) Value { return Value{kind: KindMap, m: m} }

// Kind returns which shape this Value holds.
func (v Value) Kind() Kind { return v.kind }

// IsTruthy reports whether this value is truthy in condition-expression
// evaluation (spec.md §4.1): non-empty strings, non-zero ints, true bools,
// non-empty sequences and non-empty maps are truthy.
func (v Value) IsTruthy() bool {
	switch v.kind {
	case KindString:
		return v.str != ""
	case KindInt:
		return v.i != 0
	case KindBool:
		return v.b
	case KindSeq:
		return len(v.seq) > 0
	case KindMap:
		return v.m != nil && v.m.Len() > 0
	}
	return false
}

// AsString returns the string form of a scalar value, or ok=false for
// sequences and maps.
func (v Value) AsString() (string, bool) {
	switch v.kind {
	case KindString:
		return v.str, true
	case KindInt:
		return strconv.Itoa(v.i), true
	case KindBool:
		return strconv.FormatBool(v.b), true
	}
	return "", false
}

// AsInt returns the int form of an int or numeric-string value.
func (v Value) AsInt() (int, bool) {
	if v.kind == KindInt {
		return v.i, true
	}
	if v.kind == KindString {
		if n, err := strconv.Atoi(v.str); err == nil {
			return n, true
		}
	}
	return 0, false
}

// AsSeq returns the elements of a sequence value. A scalar is treated as a
// single-element sequence, matching the Expression Engine's "list expansion"
// contract (spec.md §4.1): callers that need "the list of sources", say,
// shouldn't have to special-case a BuildFile author who wrote a bare string.
func (v Value) AsSeq() []Value {
	switch v.kind {
	case KindSeq:
		return v.seq
	case KindMap:
		return nil
	default:
		return []Value{v}
	}
}

// AsMap returns the underlying Map, or nil if this isn't a map value.
func (v Value) AsMap() *Map {
	if v.kind == KindMap {
		return v.m
	}
	return nil
}

// String implements fmt.Stringer, rendering the value the way it would
// appear when spliced back into a textual substitution.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.Itoa(v.i)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindSeq:
		parts := make([]string, len(v.seq))
		for i, e := range v.seq {
			parts[i] = e.String()
		}
		return strings.Join(parts, " ")
	case KindMap:
		return fmt.Sprintf("<dict with %d keys>", v.m.Len())
	}
	return ""
}

// Equal reports deep equality between two values, used by the Expression
// Engine's fixpoint check (spec.md §8: "a second Evaluate pass ... is a
// no-op").
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindString:
		return a.str == b.str
	case KindInt:
		return a.i == b.i
	case KindBool:
		return a.b == b.b
	case KindSeq:
		if len(a.seq) != len(b.seq) {
			return false
		}
		for i := range a.seq {
			if !Equal(a.seq[i], b.seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return a.m.Equal(b.m)
	}
	return true
}
