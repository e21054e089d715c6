// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mkfs

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
)

// Suffix parser errors.
var (
	// ErrMalformedNumber indicates input which is not a number with at most
	// one trailing unit letter.
	ErrMalformedNumber = errors.New("malformed numeric value")

	// ErrNumberRange indicates a value which overflows 64 bits, either in
	// the digits themselves or after applying the unit multiplier.
	ErrNumberRange = errors.New("numeric value out of range")

	// ErrBlockSizeNotSet is returned for a 'b' suffix before the filesystem
	// block size is known.
	ErrBlockSizeNotSet = errors.New("block size must be provided prior to using 'b' suffix")

	// ErrSectorSizeNotSet is returned for an 's' suffix before the sector
	// size is known.
	ErrSectorSizeNotSet = errors.New("sector size must be provided prior to using 's' suffix")
)

// unit multipliers, each one 1024 times the previous
const sizeSuffixes = "kmgtpe"

// ParseSize parses a byte count with an optional single-letter unit suffix.
//
// The numeric core accepts base prefixes like the C strtoull with base 0:
// plain decimal, 0x hex, leading-zero octal. Recognized suffixes are 'b'
// (filesystem blocks), 's' (sectors) and the case-insensitive scale letters
// k, m, g, t, p, e. The 'b' and 's' suffixes require the respective size to
// be already known (non-zero).
func ParseSize(blockSize, sectorSize uint64, s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrMalformedNumber)
	}

	// fast path: no suffix at all
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	} else if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("%w: %q", ErrNumberRange, s)
	}

	digits, suffix := s[:len(s)-1], s[len(s)-1]

	v, err := strconv.ParseUint(digits, 0, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%w: %q", ErrNumberRange, s)
		}

		return 0, fmt.Errorf("%w: %q", ErrMalformedNumber, s)
	}

	switch suffix {
	case 'b':
		if blockSize == 0 {
			return 0, ErrBlockSizeNotSet
		}

		return mulCheck(v, blockSize, s)
	case 's':
		if sectorSize == 0 {
			return 0, ErrSectorSizeNotSet
		}

		return mulCheck(v, sectorSize, s)
	}

	lower := suffix | 0x20

	for i := 0; i < len(sizeSuffixes); i++ {
		if lower != sizeSuffixes[i] {
			continue
		}

		for j := 0; j <= i; j++ {
			if v, err = mulCheck(v, 1024, s); err != nil {
				return 0, err
			}
		}

		return v, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrMalformedNumber, s)
}

func mulCheck(a, b uint64, s string) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %q", ErrNumberRange, s)
	}

	return lo, nil
}
