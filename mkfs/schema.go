// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mkfs

import (
	"math"

	"github.com/siderolabs/gen/xslices"
)

// Filesystem limits.
const (
	MinBlockSizeLog  = 9
	MaxBlockSizeLog  = 16
	MinBlockSize     = 1 << MinBlockSizeLog
	MaxBlockSize     = 1 << MaxBlockSizeLog
	MinCRCBlockSize  = 1 << (MinBlockSizeLog + 1)
	DfltBlockSizeLog = 12

	MinSectorSizeLog = 9
	MaxSectorSizeLog = 15
	MinSectorSize    = 1 << MinSectorSizeLog
	MaxSectorSize    = 1 << MaxSectorSizeLog

	MinInodeSizeLog     = 8
	MaxInodeSizeLog     = 11
	MinInodeSize        = 1 << MinInodeSizeLog
	MaxInodeSize        = 1 << MaxInodeSizeLog
	DfltInodeSizeLog    = 8
	DfltCRCInodeSizeLog = 9
	MinInodePerBlock    = 2
	InodesPerChunk      = 64
	InodeBigClusterSize = 8192
	DfltIMaxPct         = 25

	MinRecDirBlockLog = 12

	AGMinBytes    = 1 << 24 // 16 MiB
	AGMaxBytes    = 1 << 40 // 1 TiB
	MinAGBlocks   = 64
	MaxAGNumber   = (1 << 32) - 2
	MinDataBlocks = 300

	MinLogBlocksLimit = 512
	MaxLogBlocksLimit = 1024 * 1024
	MinLogBytes       = 10 * 1024 * 1024
	MaxLogBytes       = 2 * 1024 * 1024 * 1024
	DfltLogFactor     = 5
	MaxLogRecordSize  = 256 * 1024

	MinRtExtSize = 4 * 1024
	MaxRtExtSize = 1024 * 1024 * 1024

	// BBShift is the log of the basic (512-byte) block all device sizes
	// are expressed in.
	BBShift = 9
	BBSize  = 1 << BBShift

	// MaxLabelLength is the superblock label capacity.
	MaxLabelLength = 12
)

// OptName identifies one of the fixed top-level command line options.
type OptName int

// Top-level options, in option table order.
const (
	OptBlock    OptName = iota // -b
	OptData                    // -d
	OptInode                   // -i
	OptLog                     // -l
	OptNaming                  // -n
	OptRealtime                // -r
	OptSector                  // -s
	OptMeta                    // -m

	numOpts
)

// Letter returns the command line letter of the option.
func (o OptName) Letter() byte {
	return "bdilnrsm"[o]
}

// Sub-options of -b.
const (
	BLog = iota
	BSize
)

// Sub-options of -d.
const (
	DAgCount = iota
	DFile
	DName
	DSize
	DSUnit
	DSWidth
	DAgSize
	DSU
	DSW
	DSectLog
	DSectSize
	DNoalign
	DRtInherit
	DProjInherit
	DExtszInherit
)

// Sub-options of -i.
const (
	IAlign = iota
	ILog
	IMaxPct
	IPerBlock
	ISize
	IAttr
	IProjID32Bit
	ISparse
)

// Sub-options of -l.
const (
	LAgNum = iota
	LInternal
	LSize
	LVersion
	LSUnit
	LSU
	LDev
	LSectLog
	LSectSize
	LFile
	LName
	LLazyCount
)

// Sub-options of -n.
const (
	NLog = iota
	NSize
	NVersion
	NFtype
)

// Sub-options of -r.
const (
	RExtSize = iota
	RSize
	RDev
	RFile
	RName
	RNoalign
)

// Sub-options of -s.
const (
	SLog = iota
	SSectLog
	SSize
	SSectSize
)

// Sub-options of -m.
const (
	MCrc = iota
	MFinobt
	MUUID
	MRmapBt
	MReflink
)

// conflict links a sub-option to another sub-option it cannot be combined
// with.
//
// When testValues is false the rule is unconditional: the pair may not both
// appear on the command line. When true, the rule fires only if the
// referenced sub-option holds invalid while the one being resolved is given
// at.
type conflict struct {
	opt        OptName
	sub        int
	testValues bool
	invalid    uint64
	at         uint64
	message    string
}

// subOption is one immutable row of the option schema.
type subOption struct {
	name      string
	conflicts []conflict
	minVal    uint64
	maxVal    uint64
	flag      Value // implied by a bare flag; invalid Value means a value is required
	def       Value // effective default before any input
	convert   bool  // suffixed size, not a plain number
	isPow2    bool
}

// needsValue marks sub-options which cannot be given as bare flags.
var needsValue = Value{}

type option struct {
	name byte
	subs []subOption
}

const (
	crcForcesV2Logs     = "V2 logs are required for CRC enabled filesystems."
	crcForcesAlign      = "Inodes always aligned for CRC enabled filesystems."
	crcForcesProjID32   = "32 bit Project IDs always enabled on CRC enabled filesystems."
	crcForcesAttr2      = "V2 attribute format always enabled on CRC enabled filesystems."
	crcForcesLazyCount  = "Lazy superblock counters always enabled for CRC enabled filesystems."
	crcNeededForFinobt  = "Finobt not supported without CRC support."
	crcNeededForRmapBt  = "rmapbt not supported without CRC support."
	crcNeededForReflink = "reflink not supported without CRC support."
	crcNeededForSparse  = "Sparse inodes not supported without CRC support."
	crcForcesFtype      = "Cannot disable ftype with crcs enabled."
	rmapBtNeedsNoRt     = "rmapbt not supported with realtime devices."
)

// exclusive builds the unconditional both-ways conflict rows used by
// mutually exclusive sub-option pairs.
func exclusive(opt OptName, subs ...int) []conflict {
	out := make([]conflict, 0, len(subs))

	for _, s := range subs {
		out = append(out, conflict{opt: opt, sub: s})
	}

	return out
}

func crcRule(invalid, at uint64, message string) conflict {
	return conflict{
		opt:        OptMeta,
		sub:        MCrc,
		testValues: true,
		invalid:    invalid,
		at:         at,
		message:    message,
	}
}

// schema is the full option table. It is never mutated; per-run state lives
// in Config.
var schema = [numOpts]option{
	OptBlock: {
		name: 'b',
		subs: []subOption{
			BLog: {
				name:      "log",
				conflicts: exclusive(OptBlock, BSize),
				minVal:    MinBlockSizeLog,
				maxVal:    MaxBlockSizeLog,
				flag:      needsValue,
			},
			BSize: {
				name:      "size",
				conflicts: exclusive(OptBlock, BLog),
				minVal:    MinBlockSize,
				maxVal:    MaxBlockSize,
				flag:      needsValue,
				convert:   true,
				isPow2:    true,
			},
		},
	},
	OptData: {
		name: 'd',
		subs: []subOption{
			DAgCount: {
				name:      "agcount",
				conflicts: exclusive(OptData, DAgSize),
				minVal:    1,
				maxVal:    MaxAGNumber,
				flag:      needsValue,
			},
			DFile: {
				name:   "file",
				maxVal: 1,
				flag:   UintValue(1),
			},
			DName: {
				name: "name",
				flag: needsValue,
			},
			DSize: {
				name:    "size",
				convert: true,
				minVal:  AGMinBytes,
				maxVal:  math.MaxInt64,
				flag:    needsValue,
			},
			DSUnit: {
				name:      "sunit",
				conflicts: exclusive(OptData, DNoalign, DSU, DSW),
				maxVal:    math.MaxUint32,
				flag:      needsValue,
			},
			DSWidth: {
				name:      "swidth",
				conflicts: exclusive(OptData, DNoalign, DSU, DSW),
				maxVal:    math.MaxUint32,
				flag:      needsValue,
			},
			DAgSize: {
				name:      "agsize",
				conflicts: exclusive(OptData, DAgCount),
				convert:   true,
				minVal:    AGMinBytes,
				maxVal:    AGMaxBytes,
				flag:      needsValue,
			},
			DSU: {
				name:      "su",
				conflicts: exclusive(OptData, DNoalign, DSUnit, DSWidth),
				convert:   true,
				maxVal:    math.MaxUint32,
				flag:      needsValue,
			},
			DSW: {
				name:      "sw",
				conflicts: exclusive(OptData, DNoalign, DSUnit, DSWidth),
				maxVal:    math.MaxUint32,
				flag:      needsValue,
			},
			DSectLog: {
				name:      "sectlog",
				conflicts: exclusive(OptData, DSectSize),
				minVal:    MinSectorSizeLog,
				maxVal:    MaxSectorSizeLog,
				flag:      needsValue,
			},
			DSectSize: {
				name:      "sectsize",
				conflicts: exclusive(OptData, DSectLog),
				convert:   true,
				isPow2:    true,
				minVal:    MinSectorSize,
				maxVal:    MaxSectorSize,
				flag:      needsValue,
			},
			DNoalign: {
				name:      "noalign",
				conflicts: exclusive(OptData, DSU, DSW, DSUnit, DSWidth),
				maxVal:    1,
				flag:      UintValue(1),
			},
			DRtInherit: {
				name:   "rtinherit",
				maxVal: 1,
				flag:   UintValue(1),
			},
			DProjInherit: {
				name:   "projinherit",
				maxVal: math.MaxUint32,
				flag:   needsValue,
			},
			DExtszInherit: {
				name:   "extszinherit",
				maxVal: math.MaxUint32,
				flag:   needsValue,
			},
		},
	},
	OptInode: {
		name: 'i',
		subs: []subOption{
			IAlign: {
				name:      "align",
				conflicts: []conflict{crcRule(1, 0, crcForcesAlign)},
				maxVal:    1,
				flag:      UintValue(1),
				def:       UintValue(1),
			},
			ILog: {
				name:      "log",
				conflicts: exclusive(OptInode, IPerBlock, ISize),
				minVal:    MinInodeSizeLog,
				maxVal:    MaxInodeSizeLog,
				flag:      needsValue,
			},
			IMaxPct: {
				name:   "maxpct",
				maxVal: 100,
				flag:   needsValue,
			},
			IPerBlock: {
				name:      "perblock",
				conflicts: exclusive(OptInode, ILog, ISize),
				isPow2:    true,
				minVal:    MinInodePerBlock,
				maxVal:    MaxBlockSize / MinInodeSize,
				flag:      needsValue,
			},
			ISize: {
				name:      "size",
				conflicts: exclusive(OptInode, IPerBlock, ILog),
				isPow2:    true,
				minVal:    MinInodeSize,
				maxVal:    MaxInodeSize,
				flag:      needsValue,
			},
			IAttr: {
				name:      "attr",
				conflicts: []conflict{crcRule(1, 1, crcForcesAttr2)},
				maxVal:    2,
				flag:      needsValue,
				def:       UintValue(2),
			},
			IProjID32Bit: {
				name:      "projid32bit",
				conflicts: []conflict{crcRule(1, 0, crcForcesProjID32)},
				maxVal:    1,
				flag:      UintValue(1),
				def:       UintValue(1),
			},
			ISparse: {
				name:      "sparse",
				conflicts: []conflict{crcRule(0, 1, crcNeededForSparse)},
				maxVal:    1,
				flag:      UintValue(1),
			},
		},
	},
	OptLog: {
		name: 'l',
		subs: []subOption{
			LAgNum: {
				name:      "agnum",
				conflicts: exclusive(OptLog, LDev, LName),
				maxVal:    math.MaxUint32,
				flag:      needsValue,
			},
			LInternal: {
				name:      "internal",
				conflicts: exclusive(OptLog, LFile, LDev, LName),
				maxVal:    1,
				flag:      UintValue(1),
				def:       UintValue(1),
			},
			LSize: {
				name:    "size",
				convert: true,
				minVal:  2 * 1024 * 1024,
				maxVal:  MaxLogBytes,
				flag:    needsValue,
			},
			LVersion: {
				name:      "version",
				conflicts: []conflict{crcRule(1, 1, crcForcesV2Logs)},
				minVal:    1,
				maxVal:    2,
				flag:      needsValue,
				def:       UintValue(2),
			},
			LSUnit: {
				name:      "sunit",
				conflicts: exclusive(OptLog, LSU),
				minVal:    1,
				maxVal:    MaxLogRecordSize / BBSize,
				flag:      needsValue,
			},
			LSU: {
				name:      "su",
				conflicts: exclusive(OptLog, LSUnit),
				convert:   true,
				minVal:    BBSize,
				maxVal:    MaxLogRecordSize,
				flag:      needsValue,
			},
			LDev: {
				name:      "logdev",
				conflicts: exclusive(OptLog, LAgNum, LInternal),
				flag:      needsValue,
			},
			LSectLog: {
				name:      "sectlog",
				conflicts: exclusive(OptLog, LSectSize),
				minVal:    MinSectorSizeLog,
				maxVal:    MaxSectorSizeLog,
				flag:      needsValue,
			},
			LSectSize: {
				name:      "sectsize",
				conflicts: exclusive(OptLog, LSectLog),
				convert:   true,
				isPow2:    true,
				minVal:    MinSectorSize,
				maxVal:    MaxSectorSize,
				flag:      needsValue,
			},
			LFile: {
				name:      "file",
				conflicts: exclusive(OptLog, LInternal),
				maxVal:    1,
				flag:      UintValue(1),
			},
			LName: {
				name:      "name",
				conflicts: exclusive(OptLog, LAgNum, LInternal),
				flag:      needsValue,
			},
			LLazyCount: {
				name:      "lazy-count",
				conflicts: []conflict{crcRule(1, 0, crcForcesLazyCount)},
				maxVal:    1,
				flag:      UintValue(1),
				def:       UintValue(1),
			},
		},
	},
	OptNaming: {
		name: 'n',
		subs: []subOption{
			NLog: {
				name:      "log",
				conflicts: exclusive(OptNaming, NSize),
				minVal:    MinRecDirBlockLog,
				maxVal:    MaxBlockSizeLog,
				flag:      needsValue,
			},
			NSize: {
				name:      "size",
				conflicts: exclusive(OptNaming, NLog),
				convert:   true,
				isPow2:    true,
				minVal:    1 << MinRecDirBlockLog,
				maxVal:    MaxBlockSize,
				flag:      needsValue,
			},
			NVersion: {
				name:   "version",
				minVal: 2,
				maxVal: 2,
				flag:   needsValue,
				def:    UintValue(2),
			},
			NFtype: {
				name:      "ftype",
				conflicts: []conflict{crcRule(1, 0, crcForcesFtype)},
				maxVal:    1,
				flag:      UintValue(1),
				def:       UintValue(1),
			},
		},
	},
	OptRealtime: {
		name: 'r',
		subs: []subOption{
			RExtSize: {
				name:    "extsize",
				convert: true,
				minVal:  MinRtExtSize,
				maxVal:  MaxRtExtSize,
				flag:    needsValue,
			},
			RSize: {
				name:    "size",
				convert: true,
				maxVal:  math.MaxInt64,
				flag:    needsValue,
			},
			RDev: {
				name: "rtdev",
				conflicts: []conflict{
					{opt: OptMeta, sub: MRmapBt, message: rmapBtNeedsNoRt},
				},
				flag: needsValue,
			},
			RFile: {
				name:   "file",
				maxVal: 1,
				flag:   UintValue(1),
			},
			RName: {
				name: "name",
				conflicts: []conflict{
					{opt: OptMeta, sub: MRmapBt, message: rmapBtNeedsNoRt},
				},
				flag: needsValue,
			},
			RNoalign: {
				name:   "noalign",
				maxVal: 1,
				flag:   UintValue(1),
			},
		},
	},
	OptSector: {
		name: 's',
		subs: []subOption{
			SLog: {
				name:      "log",
				conflicts: exclusive(OptSector, SSize, SSectSize),
				minVal:    MinSectorSizeLog,
				maxVal:    MaxSectorSizeLog,
				flag:      needsValue,
			},
			SSectLog: {
				name:      "sectlog",
				conflicts: exclusive(OptSector, SSize, SSectSize),
				minVal:    MinSectorSizeLog,
				maxVal:    MaxSectorSizeLog,
				flag:      needsValue,
			},
			SSize: {
				name:      "size",
				conflicts: exclusive(OptSector, SLog, SSectLog),
				convert:   true,
				isPow2:    true,
				minVal:    MinSectorSize,
				maxVal:    MaxSectorSize,
				flag:      needsValue,
			},
			SSectSize: {
				name:      "sectsize",
				conflicts: exclusive(OptSector, SLog, SSectLog),
				convert:   true,
				isPow2:    true,
				minVal:    MinSectorSize,
				maxVal:    MaxSectorSize,
				flag:      needsValue,
			},
		},
	},
	OptMeta: {
		name: 'm',
		subs: []subOption{
			MCrc: {
				name: "crc",
				conflicts: []conflict{
					{opt: OptLog, sub: LVersion, testValues: true, invalid: 1, at: 1, message: crcForcesV2Logs},
					{opt: OptInode, sub: IAlign, testValues: true, invalid: 0, at: 1, message: crcForcesAlign},
					{opt: OptInode, sub: IProjID32Bit, testValues: true, invalid: 0, at: 1, message: crcForcesProjID32},
					{opt: OptInode, sub: IAttr, testValues: true, invalid: 1, at: 1, message: crcForcesAttr2},
					{opt: OptLog, sub: LLazyCount, testValues: true, invalid: 0, at: 1, message: crcForcesLazyCount},
					{opt: OptMeta, sub: MFinobt, testValues: true, invalid: 1, at: 0, message: crcNeededForFinobt},
					{opt: OptMeta, sub: MRmapBt, testValues: true, invalid: 1, at: 0, message: crcNeededForRmapBt},
					{opt: OptMeta, sub: MReflink, testValues: true, invalid: 1, at: 0, message: crcNeededForReflink},
					{opt: OptInode, sub: ISparse, testValues: true, invalid: 1, at: 0, message: crcNeededForSparse},
					{opt: OptNaming, sub: NFtype, testValues: true, invalid: 0, at: 1, message: crcForcesFtype},
				},
				maxVal: 1,
				flag:   UintValue(1),
				def:    UintValue(1),
			},
			MFinobt: {
				name:      "finobt",
				conflicts: []conflict{crcRule(0, 1, crcNeededForFinobt)},
				maxVal:    1,
				flag:      UintValue(1),
				def:       UintValue(1),
			},
			MUUID: {
				name: "uuid",
				flag: needsValue,
			},
			MRmapBt: {
				name: "rmapbt",
				conflicts: []conflict{
					crcRule(0, 1, crcNeededForRmapBt),
					{opt: OptRealtime, sub: RDev, message: rmapBtNeedsNoRt},
					{opt: OptRealtime, sub: RName, message: rmapBtNeedsNoRt},
				},
				maxVal: 1,
				flag:   UintValue(0),
			},
			MReflink: {
				name:      "reflink",
				conflicts: []conflict{crcRule(0, 1, crcNeededForReflink)},
				maxVal:    1,
				flag:      UintValue(0),
			},
		},
	},
}

// SubOptionNames returns the sub-option names of an option, in table order.
// The CLI uses it for usage text.
func SubOptionNames(opt OptName) []string {
	return xslices.Map(schema[opt].subs, func(s subOption) string { return s.name })
}

// optByLetter maps a command line letter back to its option, reporting
// false for letters outside the table.
func optByLetter(letter byte) (OptName, bool) {
	for i := OptName(0); i < numOpts; i++ {
		if schema[i].name == letter {
			return i, true
		}
	}

	return 0, false
}
