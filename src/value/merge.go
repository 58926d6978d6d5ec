package value

import "strings"

// MergeInto merges src into dst in place, applying the key-suffix operators
// named in spec.md §4.1/§4.3:
//
//   - a key suffixed with "+" prepends its (list) value to dst's existing
//     value for the base key;
//   - a key suffixed with "?" sets the base key only if dst doesn't already
//     have it;
//   - a key suffixed with "=" replaces dst's value for the base key outright,
//     even when the default rule for that shape would otherwise concatenate;
//   - otherwise: scalars overwrite, sequences concatenate in appearance
//     order, and mappings merge recursively.
//
// This one function backs both the Merger's target_defaults/inherit_from
// application and the Expression Engine's conditions/target_conditions
// branch merging, since both need the identical discipline (spec.md §4.3).
func MergeInto(dst *Map, src *Map) {
	for _, key := range src.Keys() {
		srcVal, _ := src.Get(key)
		base, op := splitKeySuffix(key)
		switch op {
		case '+':
			mergePrepend(dst, base, srcVal)
		case '?':
			if _, present := dst.Get(base); !present {
				dst.Set(base, srcVal)
			}
		case '=':
			dst.Set(base, srcVal)
		default:
			mergeDefault(dst, base, srcVal)
		}
	}
}

func splitKeySuffix(key string) (base string, op byte) {
	if key == "" {
		return key, 0
	}
	last := key[len(key)-1]
	switch last {
	case '+', '?', '=':
		return key[:len(key)-1], last
	}
	return key, 0
}

func mergePrepend(dst *Map, base string, srcVal Value) {
	existing, present := dst.Get(base)
	if !present {
		dst.Set(base, srcVal)
		return
	}
	combined := append(append([]Value{}, srcVal.AsSeq()...), existing.AsSeq()...)
	dst.Set(base, Seq(combined...))
}

func mergeDefault(dst *Map, base string, srcVal Value) {
	existing, present := dst.Get(base)
	if !present {
		dst.Set(base, srcVal)
		return
	}
	if existing.Kind() == KindMap && srcVal.Kind() == KindMap {
		merged := existing.m.Clone()
		MergeInto(merged, srcVal.m)
		dst.Set(base, MapValue(merged))
		return
	}
	if existing.Kind() == KindSeq || srcVal.Kind() == KindSeq {
		combined := append(append([]Value{}, existing.AsSeq()...), srcVal.AsSeq()...)
		dst.Set(base, Seq(combined...))
		return
	}
	// Two scalars: the incoming (src) value overwrites.
	dst.Set(base, srcVal)
}

// HasSuffixOp reports whether key carries one of the merge-operator suffixes,
// for callers that need to check the base key instead of the literal one.
func HasSuffixOp(key string) bool {
	_, op := splitKeySuffix(key)
	return op != 0
}

// BaseKey strips a trailing merge-operator suffix, if any.
func BaseKey(key string) string {
	base, _ := splitKeySuffix(key)
	return base
}

// ExclusionKey reports whether key is the "!"-suffixed sources-exclusion
// sibling of base (spec.md §3's "sources... possibly with ! exclusion
// sibling").
func ExclusionKey(key string) (base string, isExclusion bool) {
	if strings.HasSuffix(key, "!") {
		return strings.TrimSuffix(key, "!"), true
	}
	return key, false
}
