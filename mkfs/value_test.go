// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mkfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xfskit/go-mkfs/mkfs"
)

func TestValueEqual(t *testing.T) {
	for _, test := range []struct { //nolint:govet
		name     string
		a, b     mkfs.Value
		expected bool
	}{
		{
			name:     "uint equal",
			a:        mkfs.UintValue(42),
			b:        mkfs.UintValue(42),
			expected: true,
		},
		{
			name:     "uint not equal",
			a:        mkfs.UintValue(42),
			b:        mkfs.UintValue(43),
			expected: false,
		},
		{
			name:     "bool vs uint",
			a:        mkfs.BoolValue(true),
			b:        mkfs.UintValue(1),
			expected: true,
		},
		{
			name:     "int vs uint",
			a:        mkfs.IntValue(7),
			b:        mkfs.UintValue(7),
			expected: true,
		},
		{
			name:     "negative int vs uint zero",
			a:        mkfs.IntValue(-1),
			b:        mkfs.UintValue(0),
			expected: false,
		},
		{
			name:     "string vs numeric",
			a:        mkfs.StringValue("1"),
			b:        mkfs.UintValue(1),
			expected: false,
		},
		{
			name:     "string equal",
			a:        mkfs.StringValue("ci"),
			b:        mkfs.StringValue("ci"),
			expected: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, test.a.Equal(test.b))
			assert.Equal(t, test.expected, test.b.Equal(test.a))
		})
	}
}

func TestValueCmp(t *testing.T) {
	cmp, ok := mkfs.UintValue(1).Cmp(mkfs.UintValue(2))
	assert.True(t, ok)
	assert.Equal(t, -1, cmp)

	cmp, ok = mkfs.BoolValue(true).Cmp(mkfs.UintValue(0))
	assert.True(t, ok)
	assert.Equal(t, 1, cmp)

	_, ok = mkfs.StringValue("a").Cmp(mkfs.UintValue(1))
	assert.False(t, ok)

	cmp, ok = mkfs.StringValue("a").Cmp(mkfs.StringValue("b"))
	assert.True(t, ok)
	assert.Equal(t, -1, cmp)
}

func TestValueCoercion(t *testing.T) {
	assert.EqualValues(t, 1, mkfs.BoolValue(true).Uint64())
	assert.EqualValues(t, 0, mkfs.BoolValue(false).Uint64())
	assert.EqualValues(t, 0, mkfs.IntValue(-5).Uint64())
	assert.EqualValues(t, 0, mkfs.StringValue("12").Uint64())

	assert.False(t, mkfs.Value{}.IsValid())
	assert.True(t, mkfs.UintValue(0).IsValid())

	assert.Equal(t, "true", mkfs.BoolValue(true).String())
	assert.Equal(t, "12", mkfs.UintValue(12).String())
}
