// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mkfs

const (
	// logOpHeaderSize is the per-buffer log overhead: the op header plus
	// the buffer log format header.
	logOpHeaderSize = 128

	// logRecordSize is the in-core log record buffer size; a v2 log writes
	// one record header per buffer worth of reservation.
	logRecordSize = 32 * 1024

	// logBuffers and logBufferMaxSize bound the in-core record buffers
	// whose committed contents hold log space on top of the open
	// transactions.
	logBuffers       = 8
	logBufferMaxSize = 256 * 1024
)

// btreeHeight returns the worst-case number of levels of a btree indexing
// n records, assuming half-full nodes of the given fanout.
func btreeHeight(n, fanout uint64) uint64 {
	if fanout < 2 {
		fanout = 2
	}

	levels := uint64(1)

	for n > fanout {
		n = divRoundUp(n, fanout)
		levels++
	}

	return levels
}

// bufRes is the reservation for n logged buffers of the given size, each
// carrying its own log format header.
func bufRes(n, size uint64) uint64 {
	return n * (size + logOpHeaderSize)
}

// logMinBlocks computes the smallest log, in filesystem blocks, which can
// host the largest single transaction.
//
// The candidates mirror the big permanent reservations: truncating a
// fragmented inode, an extent-allocating write, and inode chunk creation.
// Each counts the metadata buffers a worst-case btree split chain dirties,
// doubled for the rolling-transaction duplicate, plus one record header per
// record buffer of reservation for v2 logs. No single transaction may
// consume more than half the log, and the in-core record buffers need
// committed space of their own on top of that.
func logMinBlocks(agBlocks uint64, blockLog, inodeLog, sectLog, dirBlockLog uint, logVersion int, logSUnit uint64, f Features) uint64 {
	blockSize := uint64(1) << blockLog
	inodeSize := uint64(1) << inodeLog
	sectSize := uint64(1) << sectLog
	dirBlockSize := uint64(1) << dirBlockLog

	// half-full fanout of the 16-byte-record space btrees
	fanout := blockSize / 32

	allocLevels := btreeHeight(agBlocks, fanout)
	// bmap depth is bounded by the on-disk format, not the filesystem at
	// hand: the reservation must stay valid as files grow
	bmapLevels := btreeHeight(uint64(1)<<(63-blockLog), fanout)
	inoLevels := btreeHeight(agBlocks/InodesPerChunk, fanout)

	inodeRes := inodeSize + logOpHeaderSize

	// freeing one extent can split both free space btrees and dirties
	// the AGF and AGFL
	freeExtent := bufRes(2*allocLevels, blockSize) + bufRes(2, sectSize)

	truncate := inodeRes + bufRes(4*bmapLevels, blockSize) + 4*freeExtent
	write := inodeRes + bufRes(2*bmapLevels, blockSize) + freeExtent + bufRes(1, sectSize)
	create := inodeRes + InodesPerChunk*inodeSize +
		bufRes(inoLevels+allocLevels, blockSize) + bufRes(2, sectSize) +
		bufRes(6, dirBlockSize)

	if f.FInoBt {
		create += bufRes(inoLevels, blockSize)
	}

	if f.RmapBt {
		truncate += bufRes(2*allocLevels, blockSize)
		write += bufRes(2*allocLevels, blockSize)
	}

	if f.Reflink {
		truncate += bufRes(2*allocLevels, blockSize)
	}

	res := truncate
	if write > res {
		res = write
	}

	if create > res {
		res = create
	}

	// rolling transactions keep two reservations live
	res *= 2

	if logVersion == 2 {
		res += (res/logRecordSize + 1) * 512
	}

	// half-the-log limit plus the record buffer space
	bytes := 2*res + logBuffers*logBufferMaxSize

	blocks := divRoundUp(bytes, blockSize)

	if logSUnit > 1 {
		// record headers occupy two extra stripe units
		blocks = divRoundUp(blocks, logSUnit)*logSUnit + 2*logSUnit
	}

	return blocks
}
