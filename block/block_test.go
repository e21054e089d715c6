// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package block_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xfskit/go-mkfs/block"
)

func TestImageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image")

	d, err := block.Create(path, 64*1024*1024)
	require.NoError(t, err)

	t.Cleanup(func() { d.Close() }) //nolint:errcheck

	assert.Equal(t, path, d.Path())
	assert.False(t, d.IsBlockDevice())

	size, err := d.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 64*1024*1024, size)

	logical, physical := d.SectorSizes()
	assert.EqualValues(t, 512, logical)
	assert.EqualValues(t, 512, physical)

	sunit, swidth := d.StripeGeometry()
	assert.Zero(t, sunit)
	assert.Zero(t, swidth)

	ro, err := d.IsReadOnly()
	require.NoError(t, err)
	assert.False(t, ro)

	// discard is advisory and a no-op for image files
	discarded, err := d.Discard()
	require.NoError(t, err)
	assert.False(t, discarded)
}

func TestOpenMissing(t *testing.T) {
	_, err := block.Open(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestSignature(t *testing.T) {
	for _, test := range []struct { //nolint:govet
		name     string
		offset   int64
		value    []byte
		expected string
	}{
		{name: "xfs", offset: 0, value: []byte("XFSB"), expected: "xfs"},
		{name: "ext4", offset: 1080, value: []byte{0x53, 0xef}, expected: "ext"},
		{name: "gpt", offset: 512, value: []byte("EFI PART"), expected: "gpt"},
		{name: "swap", offset: 4086, value: []byte("SWAPSPACE2"), expected: "swap"},
		{name: "mbr", offset: 510, value: []byte{0x55, 0xaa}, expected: "dos"},
	} {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "image")

			d, err := block.Create(path, 1024*1024)
			require.NoError(t, err)

			t.Cleanup(func() { d.Close() }) //nolint:errcheck

			_, err = d.File().WriteAt(test.value, test.offset)
			require.NoError(t, err)

			name, err := d.Signature()
			require.NoError(t, err)
			require.NotNil(t, name)
			assert.Equal(t, test.expected, *name)
		})
	}
}

func TestSignatureClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image")

	d, err := block.Create(path, 1024*1024)
	require.NoError(t, err)

	t.Cleanup(func() { d.Close() }) //nolint:errcheck

	signature, err := d.Signature()
	require.NoError(t, err)
	assert.Nil(t, signature)
}

func TestWipeRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image")

	d, err := block.Create(path, 1024*1024)
	require.NoError(t, err)

	t.Cleanup(func() { d.Close() }) //nolint:errcheck

	_, err = d.File().WriteAt([]byte("XFSB"), 0)
	require.NoError(t, err)

	require.NoError(t, d.WipeRange(0, 4096))

	buf := make([]byte, 4)
	_, err = d.File().ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4), buf)

	signature, err := d.Signature()
	require.NoError(t, err)
	assert.Nil(t, signature)
}

func TestCreateReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image")

	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o644))

	d, err := block.Open(path)
	require.NoError(t, err)

	t.Cleanup(func() { d.Close() }) //nolint:errcheck

	size, err := d.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 4096, size)
}
