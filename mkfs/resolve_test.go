// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mkfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xfskit/go-mkfs/mkfs"
)

// apply runs a sequence of option arguments ("b:size=4096" style, the
// letter split off before the colon) against a fresh Config.
func apply(t *testing.T, args ...string) (*mkfs.Config, error) {
	t.Helper()

	cfg := mkfs.NewConfig()

	for _, arg := range args {
		if err := cfg.ApplyOption(arg[0], arg[2:]); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func TestResolveRespecification(t *testing.T) {
	_, err := apply(t, "d:agcount=4", "d:agcount=4")
	require.ErrorIs(t, err, mkfs.ErrRespecified)

	// respecification within a single argument counts too
	_, err = apply(t, "d:agcount=4,agcount=8")
	require.ErrorIs(t, err, mkfs.ErrRespecified)

	// string and numeric phases of a two-phase sub-option are tracked
	// separately, but each still fires on its own
	_, err = apply(t, "n:version=2", "n:version=2")
	require.ErrorIs(t, err, mkfs.ErrRespecified)
}

func TestResolveUnconditionalConflicts(t *testing.T) {
	for _, test := range []struct {
		name string
		args []string
	}{
		{name: "block log and size", args: []string{"b:log=12", "b:size=4096"}},
		{name: "agcount and agsize", args: []string{"d:agcount=4", "d:agsize=1g"}},
		{name: "sunit and su", args: []string{"d:sunit=128", "d:su=64k"}},
		{name: "noalign and sw", args: []string{"d:noalign", "d:sw=4"}},
		{name: "inode log and size", args: []string{"i:log=9", "i:size=512"}},
		{name: "internal and logdev", args: []string{"l:internal", "l:logdev=/dev/sdb1"}},
		{name: "agnum and external log", args: []string{"l:agnum=2", "l:name=/dev/sdb1"}},
		{name: "sector log and size", args: []string{"s:log=9", "s:size=512"}},
		{name: "rtdev and rmapbt", args: []string{"m:rmapbt=1", "r:rtdev=/dev/sdc"}},
		{name: "rtdev then rmapbt", args: []string{"r:rtdev=/dev/sdc", "m:rmapbt=1"}},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := apply(t, test.args...)
			assert.ErrorIs(t, err, mkfs.ErrConflict)
		})
	}
}

func TestResolveValueConditionedConflicts(t *testing.T) {
	for _, test := range []struct { //nolint:govet
		name      string
		args      []string
		expectErr bool
	}{
		{name: "v1 log then crc", args: []string{"l:version=1", "m:crc=1"}, expectErr: true},
		{name: "crc then v1 log", args: []string{"m:crc=1", "l:version=1"}, expectErr: true},
		{name: "crc off then finobt", args: []string{"m:crc=0", "m:finobt=1"}, expectErr: true},
		{name: "finobt then crc off", args: []string{"m:finobt=1", "m:crc=0"}, expectErr: true},
		{name: "ftype off then crc", args: []string{"n:ftype=0", "m:crc=1"}, expectErr: true},
		{name: "crc then sparse off is fine", args: []string{"m:crc=1", "i:sparse=0"}, expectErr: false},
		{name: "crc off then sparse", args: []string{"m:crc=0", "i:sparse=1"}, expectErr: true},
		{name: "crc off alone is fine", args: []string{"m:crc=0"}, expectErr: false},
		{name: "crc off with v1 log is fine", args: []string{"m:crc=0", "l:version=1"}, expectErr: false},
		{name: "align off then crc", args: []string{"i:align=0", "m:crc=1"}, expectErr: true},
		{name: "lazy-count off then crc", args: []string{"l:lazy-count=0", "m:crc=1"}, expectErr: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := apply(t, test.args...)

			if test.expectErr {
				assert.ErrorIs(t, err, mkfs.ErrConflict)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveValidation(t *testing.T) {
	for _, test := range []struct { //nolint:govet
		name        string
		args        []string
		expectedErr error
	}{
		{name: "flag needs value", args: []string{"d:agcount"}, expectedErr: mkfs.ErrNeedsValue},
		{name: "uuid needs value", args: []string{"m:uuid"}, expectedErr: mkfs.ErrNeedsValue},
		{name: "not a number", args: []string{"d:agcount=four"}, expectedErr: mkfs.ErrIllegalValue},
		{name: "trailing garbage", args: []string{"d:agcount=4x4"}, expectedErr: mkfs.ErrIllegalValue},
		{name: "below minimum", args: []string{"b:log=8"}, expectedErr: mkfs.ErrIllegalValue},
		{name: "above maximum", args: []string{"b:log=17"}, expectedErr: mkfs.ErrIllegalValue},
		{name: "not a power of two", args: []string{"b:size=3000"}, expectedErr: mkfs.ErrIllegalValue},
		{name: "inode size too big", args: []string{"i:size=4096"}, expectedErr: mkfs.ErrIllegalValue},
		{name: "unknown sub-option", args: []string{"d:frobnicate=1"}, expectedErr: mkfs.ErrUnknownOption},
		{name: "bad uuid", args: []string{"m:uuid=not-a-uuid"}, expectedErr: mkfs.ErrIllegalValue},
		{name: "naming version range", args: []string{"n:version=3"}, expectedErr: mkfs.ErrIllegalValue},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := apply(t, test.args...)
			assert.ErrorIs(t, err, test.expectedErr)
		})
	}
}

func TestResolveSuffixes(t *testing.T) {
	// the 'b' suffix needs the block size resolved first
	_, err := apply(t, "d:agsize=16384b")
	require.ErrorIs(t, err, mkfs.ErrBlockSizeNotSet)

	cfg, err := apply(t, "b:size=4096", "d:agsize=16384b")
	require.NoError(t, err)
	assert.EqualValues(t, 16384*4096, cfg.Value(mkfs.OptData, mkfs.DAgSize))

	// same for 's' and the data sector size
	_, err = apply(t, "d:su=128s")
	require.ErrorIs(t, err, mkfs.ErrSectorSizeNotSet)

	cfg, err = apply(t, "d:sectsize=512", "d:su=128s")
	require.NoError(t, err)
	assert.EqualValues(t, 128*512, cfg.Value(mkfs.OptData, mkfs.DSU))
}

func TestResolveCrossFill(t *testing.T) {
	cfg, err := apply(t, "b:size=4096")
	require.NoError(t, err)
	assert.EqualValues(t, 12, cfg.Value(mkfs.OptBlock, mkfs.BLog))

	cfg, err = apply(t, "b:log=13")
	require.NoError(t, err)
	assert.EqualValues(t, 8192, cfg.Value(mkfs.OptBlock, mkfs.BSize))

	// -d sectsize fills the -s twins and the sector log
	cfg, err = apply(t, "d:sectsize=2048")
	require.NoError(t, err)
	assert.EqualValues(t, 11, cfg.Value(mkfs.OptData, mkfs.DSectLog))
	assert.EqualValues(t, 2048, cfg.Value(mkfs.OptSector, mkfs.SSectSize))

	// -s sectsize travels to -d and -l
	cfg, err = apply(t, "s:sectsize=4096")
	require.NoError(t, err)
	assert.EqualValues(t, 4096, cfg.Value(mkfs.OptData, mkfs.DSectSize))
	assert.EqualValues(t, 4096, cfg.Value(mkfs.OptLog, mkfs.LSectSize))
	assert.EqualValues(t, 12, cfg.Value(mkfs.OptData, mkfs.DSectLog))

	// inode perblock stays for the derivation, log/size fill each other
	cfg, err = apply(t, "i:size=512")
	require.NoError(t, err)
	assert.EqualValues(t, 9, cfg.Value(mkfs.OptInode, mkfs.ILog))

	cfg, err = apply(t, "n:log=13")
	require.NoError(t, err)
	assert.EqualValues(t, 8192, cfg.Value(mkfs.OptNaming, mkfs.NSize))
}

func TestResolveSectorInterlock(t *testing.T) {
	// -s sectsize followed by -s log is rejected, whichever came first
	_, err := apply(t, "s:sectsize=512", "s:log=9")
	require.ErrorIs(t, err, mkfs.ErrConflict)

	_, err = apply(t, "s:log=9", "s:sectsize=512")
	require.ErrorIs(t, err, mkfs.ErrConflict)

	// the interlock also covers the -l spelling of the log sector size
	_, err = apply(t, "l:sectsize=1024", "s:log=10")
	require.ErrorIs(t, err, mkfs.ErrConflict)
}

func TestResolveLogDevice(t *testing.T) {
	cfg, err := apply(t, "l:logdev=/dev/sdb1")
	require.NoError(t, err)

	assert.Equal(t, "/dev/sdb1", cfg.LogName())
	assert.EqualValues(t, 0, cfg.Value(mkfs.OptLog, mkfs.LInternal))

	// logdev and name are the same sub-option underneath
	_, err = apply(t, "l:logdev=/dev/sdb1", "l:name=/dev/sdb2")
	require.ErrorIs(t, err, mkfs.ErrRespecified)
}

func TestResolveNamingVersionCI(t *testing.T) {
	cfg, err := apply(t, "n:version=ci")
	require.NoError(t, err)

	// ci leaves the directory version at its default
	assert.EqualValues(t, 2, cfg.Value(mkfs.OptNaming, mkfs.NVersion))
}

func TestResolveFlagValues(t *testing.T) {
	cfg, err := apply(t, "d:file", "d:noalign")
	require.NoError(t, err)

	assert.EqualValues(t, 1, cfg.Value(mkfs.OptData, mkfs.DFile))
	assert.EqualValues(t, 1, cfg.Value(mkfs.OptData, mkfs.DNoalign))

	// rmapbt and reflink default their bare flags to off
	cfg, err = apply(t, "m:rmapbt,reflink")
	require.NoError(t, err)

	assert.EqualValues(t, 0, cfg.Value(mkfs.OptMeta, mkfs.MRmapBt))
	assert.EqualValues(t, 0, cfg.Value(mkfs.OptMeta, mkfs.MReflink))
}

func TestResolveUUIDAndLabel(t *testing.T) {
	cfg, err := apply(t, "m:uuid=6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	require.NoError(t, err)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", cfg.UUID().String())

	require.NoError(t, cfg.SetLabel("scratch"))
	assert.Equal(t, "scratch", cfg.Label())

	err = cfg.SetLabel("waaaaaay-too-long-label")
	require.ErrorIs(t, err, mkfs.ErrIllegalValue)
}

func TestResolveSchemaBug(t *testing.T) {
	// string-only sub-options have no numeric domain
	cfg := mkfs.NewConfig()

	_, err := cfg.ResolveValue(mkfs.OptData, mkfs.DName, "x")
	require.ErrorIs(t, err, mkfs.ErrSchemaBug)
}

func TestResolveDevice(t *testing.T) {
	cfg := mkfs.NewConfig()
	require.NoError(t, cfg.SetDevice("/dev/sda3"))

	assert.Equal(t, "/dev/sda3", cfg.DataName())

	// positional device and -d name are the same slot
	err := cfg.ApplyOption('d', "name=/dev/sdb")
	require.ErrorIs(t, err, mkfs.ErrRespecified)
}
