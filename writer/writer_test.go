// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package writer_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xfskit/go-mkfs/block"
	"github.com/xfskit/go-mkfs/mkfs"
	"github.com/xfskit/go-mkfs/writer"
)

func image(t *testing.T, size uint64) *block.Device {
	t.Helper()

	d, err := block.Create(filepath.Join(t.TempDir(), "image"), size)
	require.NoError(t, err)

	t.Cleanup(func() { d.Close() }) //nolint:errcheck

	return d
}

func geometry(t *testing.T, d *block.Device) *mkfs.Geometry {
	t.Helper()

	cfg := mkfs.NewConfig()
	require.NoError(t, cfg.SetDevice(d.Path()))

	size, err := d.Size()
	require.NoError(t, err)

	g, err := mkfs.Derive(cfg, mkfs.Topology{
		DataSize:   size >> 9,
		DataIsFile: true,
	})
	require.NoError(t, err)

	return g
}

func TestPrepare(t *testing.T) {
	d := image(t, 512<<20)

	// plant signatures at both ends
	_, err := d.File().WriteAt([]byte("XFSB"), 0)
	require.NoError(t, err)
	_, err = d.File().WriteAt([]byte("XFSB"), (512<<20)-4096)
	require.NoError(t, err)

	target := writer.Target{
		Geometry: geometry(t, d),
		Data:     d,
	}

	require.NoError(t, target.Prepare(writer.WithLogger(zaptest.NewLogger(t))))

	signature, err := d.Signature()
	require.NoError(t, err)
	assert.Nil(t, signature)

	buf := make([]byte, 4)
	_, err = d.File().ReadAt(buf, (512<<20)-4096)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4), buf)
}

func TestValidate(t *testing.T) {
	d := image(t, 512<<20)
	g := geometry(t, d)

	t.Run("internal log with log device", func(t *testing.T) {
		target := writer.Target{Geometry: g, Data: d, Log: d}
		assert.ErrorIs(t, target.Validate(), writer.ErrTarget)
	})

	t.Run("missing data device", func(t *testing.T) {
		target := writer.Target{Geometry: g}
		assert.ErrorIs(t, target.Validate(), writer.ErrTarget)
	})

	t.Run("realtime device without realtime section", func(t *testing.T) {
		target := writer.Target{Geometry: g, Data: d, Rt: d}
		assert.ErrorIs(t, target.Validate(), writer.ErrTarget)
	})

	t.Run("ok", func(t *testing.T) {
		target := writer.Target{Geometry: g, Data: d}
		assert.NoError(t, target.Validate())
	})
}

func TestLoadProto(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proto")
	require.NoError(t, os.WriteFile(path, []byte("/\n0 0\nd--777 0 0\n$\n"), 0o644))

	p, err := writer.LoadProto(path)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Contents)

	_, err = writer.LoadProto(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
