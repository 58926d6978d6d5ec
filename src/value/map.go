package value

import "golang.org/x/exp/slices"

// A Map is an insertion-ordered string-keyed mapping. Several merge rules in
// the Merger (spec.md §4.3) depend on iteration order, so this is not backed
// by a plain Go map.
type Map struct {
	keys   []string
	values map[string]Value
}

// NewMap constructs an empty ordered map.
func NewMap() *Map {
	return &Map{values: map[string]Value{}}
}

// Get returns the value for key and whether it was present.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Set inserts or overwrites key. Insertion order is preserved: re-setting an
// existing key does not move it.
func (m *Map) Set(key string, v Value) {
	if _, present := m.values[key]; !present {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Delete removes key, if present.
func (m *Map) Delete(key string) {
	if _, present := m.values[key]; !present {
		return
	}
	delete(m.values, key)
	if i := slices.Index(m.keys, key); i >= 0 {
		m.keys = slices.Delete(m.keys, i, i+1)
	}
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Equal reports whether two maps have the same keys, in the same order,
// with deeply-equal values.
func (m *Map) Equal(other *Map) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i, k := range m.Keys() {
		if other.Keys()[i] != k {
			return false
		}
		a, _ := m.Get(k)
		b, _ := other.Get(k)
		if !Equal(a, b) {
			return false
		}
	}
	return true
}

// Clone returns a shallow copy of m whose key order and top-level entries can
// be mutated independently of the original.
func (m *Map) Clone() *Map {
	c := NewMap()
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		c.Set(k, v)
	}
	return c
}
