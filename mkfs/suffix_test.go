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

func TestParseSize(t *testing.T) {
	for _, test := range []struct { //nolint:govet
		name        string
		blockSize   uint64
		sectorSize  uint64
		in          string
		expected    uint64
		expectedErr error
	}{
		{
			name:     "plain decimal",
			in:       "4096",
			expected: 4096,
		},
		{
			name:     "hex",
			in:       "0x1000",
			expected: 4096,
		},
		{
			name:     "octal",
			in:       "0755",
			expected: 493,
		},
		{
			name:     "kilobytes",
			in:       "64k",
			expected: 64 * 1024,
		},
		{
			name:     "kilobytes uppercase",
			in:       "2K",
			expected: 2048,
		},
		{
			name:     "megabytes",
			in:       "10m",
			expected: 10 * 1024 * 1024,
		},
		{
			name:     "gigabytes",
			in:       "1g",
			expected: 1 << 30,
		},
		{
			name:     "terabytes",
			in:       "2t",
			expected: 2 << 40,
		},
		{
			name:     "petabytes",
			in:       "1p",
			expected: 1 << 50,
		},
		{
			name:     "exabytes",
			in:       "1e",
			expected: 1 << 60,
		},
		{
			name:      "blocks",
			blockSize: 4096,
			in:        "4b",
			expected:  16384,
		},
		{
			name:       "sectors",
			sectorSize: 512,
			in:         "3s",
			expected:   1536,
		},
		{
			name:        "blocks without block size",
			in:          "4b",
			expectedErr: mkfs.ErrBlockSizeNotSet,
		},
		{
			name:        "sectors without sector size",
			in:          "2s",
			expectedErr: mkfs.ErrSectorSizeNotSet,
		},
		{
			name:        "empty",
			in:          "",
			expectedErr: mkfs.ErrMalformedNumber,
		},
		{
			name:        "bare suffix",
			in:          "k",
			expectedErr: mkfs.ErrMalformedNumber,
		},
		{
			name:        "two suffix characters",
			in:          "12kb",
			expectedErr: mkfs.ErrMalformedNumber,
		},
		{
			name:        "unknown suffix",
			in:          "1x",
			expectedErr: mkfs.ErrMalformedNumber,
		},
		{
			name:        "negative",
			in:          "-5",
			expectedErr: mkfs.ErrMalformedNumber,
		},
		{
			name:        "digits overflow",
			in:          "99999999999999999999",
			expectedErr: mkfs.ErrNumberRange,
		},
		{
			name:        "multiplication overflow",
			in:          "16e",
			expectedErr: mkfs.ErrNumberRange,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			v, err := mkfs.ParseSize(test.blockSize, test.sectorSize, test.in)

			if test.expectedErr != nil {
				require.ErrorIs(t, err, test.expectedErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.expected, v)
		})
	}
}
