// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package mkfs implements option resolution and geometry derivation for
// formatting XFS filesystems.
//
// The package is split into three layers: a declarative option schema with
// conflict rules, a resolution context which validates command line input
// against the schema, and a derivation pipeline which turns the resolved
// options plus probed device topology into a complete filesystem geometry.
package mkfs

import "strconv"

// Kind is the type tag of a Value.
type Kind uint8

// Value kinds.
const (
	KindInvalid Kind = iota
	KindInt
	KindUint
	KindBool
	KindString
)

// Value is a tagged scalar used uniformly for sub-option values, defaults
// and flag values.
//
// Comparing a string Value with a numeric one reports "not equal" rather
// than panicking, so schema code never needs to type-switch.
type Value struct {
	s    string
	i    int64
	u    uint64
	b    bool
	kind Kind
}

// IntValue returns a signed integer Value.
func IntValue(v int64) Value { return Value{kind: KindInt, i: v} }

// UintValue returns an unsigned integer Value.
func UintValue(v uint64) Value { return Value{kind: KindUint, u: v} }

// BoolValue returns a boolean Value.
func BoolValue(v bool) Value { return Value{kind: KindBool, b: v} }

// StringValue returns a string Value.
func StringValue(v string) Value { return Value{kind: KindString, s: v} }

// Kind returns the type tag of the Value.
func (v Value) Kind() Kind { return v.kind }

// IsValid returns true unless the Value is the zero (invalid) Value.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) isNumeric() bool {
	return v.kind == KindInt || v.kind == KindUint || v.kind == KindBool
}

// Uint64 coerces the Value to an unsigned integer.
//
// Booleans map to 0/1, negative integers and strings map to 0.
func (v Value) Uint64() uint64 {
	switch v.kind {
	case KindUint:
		return v.u
	case KindInt:
		if v.i < 0 {
			return 0
		}

		return uint64(v.i)
	case KindBool:
		if v.b {
			return 1
		}

		return 0
	default:
		return 0
	}
}

// String renders the Value for diagnostics.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUint:
		return strconv.FormatUint(v.u, 10)
	default:
		return "<invalid>"
	}
}

// Equal reports whether two Values hold the same value.
//
// Numeric kinds (including bool) compare by magnitude, so UintValue(1)
// equals BoolValue(true). A string never equals a numeric.
func (v Value) Equal(o Value) bool {
	if v.kind == KindString || o.kind == KindString {
		return v.kind == o.kind && v.s == o.s
	}

	if !v.isNumeric() || !o.isNumeric() {
		return false
	}

	if v.kind == KindInt && v.i < 0 || o.kind == KindInt && o.i < 0 {
		return v.kind == KindInt && o.kind == KindInt && v.i == o.i
	}

	return v.Uint64() == o.Uint64()
}

// Cmp compares two Values, returning -1, 0 or 1 and whether the pair is
// comparable at all. Strings are only comparable with strings.
func (v Value) Cmp(o Value) (int, bool) {
	if v.kind == KindString && o.kind == KindString {
		switch {
		case v.s < o.s:
			return -1, true
		case v.s > o.s:
			return 1, true
		default:
			return 0, true
		}
	}

	if !v.isNumeric() || !o.isNumeric() {
		return 0, false
	}

	a, b := v.Uint64(), o.Uint64()

	switch {
	case a < b:
		return -1, true
	case a > b:
		return 1, true
	default:
		return 0, true
	}
}
