// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mkfs

const (
	multidiskAGLog   = 5
	nomultidiskAGLog = 2
)

func terabytes(count uint64, blockLog uint) uint64 { return count << (40 - blockLog) }
func gigabytes(count uint64, blockLog uint) uint64 { return count << (30 - blockLog) }
func megabytes(count uint64, blockLog uint) uint64 { return count << (20 - blockLog) }

// maxAGBlocks is the largest allocation group size in blocks; one less than
// the 1 TiB limit so AG byte counts stay below it.
func maxAGBlocks(blockLog uint) uint64 {
	return (AGMaxBytes >> blockLog) - 1
}

func minAGBytesBlocks(blockLog uint) uint64 {
	return AGMinBytes >> blockLog
}

// defaultAGGeometry picks the allocation group size and count when neither
// was given explicitly.
//
// Big filesystems cap the AG at its maximum so growfs has headroom. A
// filesystem on striped storage gets many small AGs to spread the
// allocators across the disks; a single spindle gets four.
func defaultAGGeometry(dblocks uint64, blockLog uint, multidisk bool) (agsize, agcount uint64) {
	max := maxAGBlocks(blockLog)

	var shift uint

	switch {
	case dblocks >= terabytes(32, blockLog):
		agsize = max

		return agsize, divRoundUp(dblocks, agsize)
	case !multidisk:
		switch {
		case dblocks >= terabytes(4, blockLog):
			agsize = max

			return agsize, divRoundUp(dblocks, agsize)
		case dblocks >= megabytes(128, blockLog):
			shift = nomultidiskAGLog
		default:
			// single AG for tiny filesystems
			shift = 0
		}
	default:
		shift = multidiskAGLog

		if dblocks <= gigabytes(512, blockLog) {
			shift--
		}

		if dblocks <= gigabytes(8, blockLog) {
			shift--
		}

		if dblocks < megabytes(128, blockLog) {
			shift--
		}

		if dblocks < megabytes(64, blockLog) {
			shift--
		}

		if dblocks < megabytes(32, blockLog) {
			shift--
		}
	}

	agsize = dblocks >> shift
	if dblocks&((1<<shift)-1) != 0 && agsize < max {
		agsize++
	}

	return agsize, divRoundUp(dblocks, agsize)
}

func divRoundUp(a, b uint64) uint64 {
	return (a + b - 1) / b
}
