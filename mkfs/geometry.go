// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mkfs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Geometry derivation errors.
var (
	// ErrInvalidGeometry indicates resolved options which cannot produce
	// a valid filesystem layout.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrDeviceSize indicates a subvolume size which does not fit the
	// underlying device.
	ErrDeviceSize = errors.New("subvolume size does not fit device")
)

// Topology carries the probed device characteristics the derivation
// consumes. All device sizes and stripe values are in 512-byte blocks.
type Topology struct {
	// DataSize, LogSize and RtSize are the usable sizes of the data,
	// external log and realtime devices. Zero means no such device.
	DataSize uint64
	LogSize  uint64
	RtSize   uint64

	// LogicalSectorSize and PhysicalSectorSize are in bytes; zero when
	// unknown.
	LogicalSectorSize  uint64
	PhysicalSectorSize uint64

	// stripe geometry of the data and realtime volumes
	DataSUnit  uint64
	DataSWidth uint64
	RtSWidth   uint64

	DataIsFile bool
	LogIsFile  bool
	RtIsFile   bool
}

// Geometry is the fully derived filesystem layout. The writer consumes it
// as-is and re-derives nothing.
type Geometry struct {
	UUID  uuid.UUID
	Label string

	BlockSize uint64
	BlockLog  uint

	SectSize uint64
	SectLog  uint

	LogSectSize uint64
	LogSectLog  uint

	DataBlocks uint64
	AGSize     uint64
	AGCount    uint64
	AGBlockLog uint // log2 roundup of AGSize, for FSB encoding

	InodeSize      uint64
	InodeLog       uint
	InodesPerBlock uint64
	IMaxPct        uint64

	DirBlockSize uint64
	DirBlockLog  uint

	// stripe geometry in filesystem blocks
	DataSUnit  uint64
	DataSWidth uint64
	LogSUnit   uint64

	InternalLog   bool
	LogBlocks     uint64
	MinLogBlocks  uint64
	LogAG         uint64
	LogStartBlock uint64 // AG-relative start, 0 for external logs
	// LogAligned reports that stripe alignment pushed the log start past
	// the preallocated AG metadata; the writer frees the padding range
	// [LogPaddingStart, LogStartBlock) separately.
	LogAligned      bool
	LogPaddingStart uint64

	RtBlocks       uint64
	RtExtents      uint64
	RtExtBlocks    uint64
	RtBitmapBlocks uint64

	Features  Features
	RootInode RootInodeAttrs

	DataDevice string
	LogDevice  string
	RtDevice   string
}

// Options configure the derivation.
type Options struct {
	Logger *zap.Logger
}

// Option customizes derivation behavior.
type Option func(*Options)

// WithLogger sets the logger for derivation warnings. Default is no logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Derive turns resolved options plus device topology into a complete
// filesystem geometry.
//
// The pipeline mirrors the option dependencies: block size first, sector
// sizes against the device, feature coupling, inode and directory sizes,
// subvolume sizes, stripe factors, allocation group layout, then log sizing
// and placement, realtime last. Invalid combinations return errors wrapping
// ErrInvalidGeometry or ErrDeviceSize; non-fatal oddities are logged.
func Derive(cfg *Config, top Topology, opts ...Option) (*Geometry, error) {
	options := Options{
		Logger: zap.NewNop(),
	}

	for _, o := range opts {
		o(&options)
	}

	d := &deriver{
		cfg:    cfg,
		top:    top,
		logger: options.Logger,
	}

	for _, stage := range []func() error{
		d.blockSize,
		d.sectorSizes,
		d.featureCoupling,
		d.dirBlockSize,
		d.explicitSizes,
		d.rtExtentSize,
		d.inodeSize,
		d.stripeFactors,
		d.deviceSizes,
		d.logDevice,
		d.dataBlocks,
		d.rtBlocks,
		d.agGeometry,
		d.imaxpct,
		d.logSize,
		d.logPlacement,
	} {
		if err := stage(); err != nil {
			return nil, err
		}
	}

	return d.assemble(), nil
}

type deriver struct {
	cfg    *Config
	top    Topology
	logger *zap.Logger

	feat Features

	dblocks     uint64
	logblocks   uint64
	rtblocks    uint64
	rtextblocks uint64
	rtextents   uint64
	nbmblocks   uint64

	dsize     uint64 // masked device sizes, 512-byte blocks
	logBBsize uint64
	rtsize    uint64

	minLogBlocks uint64
	logAG        uint64
	logStartAGB  uint64
	lalign       bool
	prealloc     uint64

	logDeviceName string
	rtDeviceName  string
}

func (d *deriver) val(opt OptName, sub int) uint64 { return d.cfg.Value(opt, sub) }

func (d *deriver) set(opt OptName, sub int, v uint64) { d.cfg.SetValue(opt, sub, v) }

func (d *deriver) blockLog() uint  { return uint(d.val(OptBlock, BLog)) }
func (d *deriver) blockSz() uint64 { return d.val(OptBlock, BSize) }

// dtobt converts 512-byte blocks to filesystem blocks, truncating.
func (d *deriver) dtobt(bb uint64) uint64 {
	return bb >> (d.blockLog() - BBShift)
}

func bbtob(bb uint64) uint64 { return bb << BBShift }
func btobbt(b uint64) uint64 { return b >> BBShift }

// ceilLog2 returns the smallest l with 1<<l >= v.
func ceilLog2(v uint64) uint {
	l := uint(highbit(v))
	if v&(v-1) != 0 {
		l++
	}

	return l
}

func (d *deriver) blockSize() error {
	if !d.cfg.Seen(OptBlock, BLog) && !d.cfg.Seen(OptBlock, BSize) {
		d.set(OptBlock, BLog, DfltBlockSizeLog)
		d.set(OptBlock, BSize, 1<<DfltBlockSizeLog)
	}

	d.feat = d.cfg.features()

	if d.blockSz() < MinBlockSize || d.blockSz() > MaxBlockSize {
		return fmt.Errorf("illegal block size %d: %w", d.blockSz(), ErrInvalidGeometry)
	}

	if d.feat.CRC && d.blockSz() < MinCRCBlockSize {
		return fmt.Errorf("minimum block size for CRC enabled filesystems is %d bytes: %w",
			MinCRCBlockSize, ErrInvalidGeometry)
	}

	// -n ftype=0 alone conflicts with the crc default; the explicit pair
	// was already caught at parse time
	if d.feat.CRC && !d.feat.DirFtype {
		return fmt.Errorf("cannot disable ftype with crcs enabled: %w", ErrInvalidGeometry)
	}

	return nil
}

//nolint:gocyclo
func (d *deriver) sectorSizes() error {
	cfg := d.cfg

	if !cfg.dataSectLogExplicit() && !cfg.dataSectSizeExplicit() {
		d.set(OptData, DSectLog, MinSectorSizeLog)
		d.set(OptData, DSectSize, MinSectorSize)
	}

	if !cfg.logSectLogExplicit() && !cfg.logSectSizeExplicit() {
		d.set(OptLog, LSectLog, d.val(OptData, DSectLog))
		d.set(OptLog, LSectSize, d.val(OptData, DSectSize))
	}

	ssExplicit := cfg.dataSectSizeExplicit()
	lsector := d.top.LogicalSectorSize

	if !ssExplicit {
		// prefer the physical sector size of the device unless the
		// requested block size is smaller, then fall back to logical
		psector := d.top.PhysicalSectorSize
		if psector == 0 {
			psector = lsector
		}

		if psector == 0 {
			psector = MinSectorSize
		}

		d.set(OptData, DSectSize, psector)

		if d.blockSz() < psector && d.blockSz() >= lsector && lsector != 0 {
			d.logger.Warn("block size smaller than device physical sector size, switching to logical sector size",
				zap.Uint64("block_size", d.blockSz()),
				zap.Uint64("physical_sector_size", psector),
				zap.Uint64("logical_sector_size", lsector))

			d.set(OptData, DSectSize, lsector)
		}

		d.set(OptData, DSectLog, highbit(d.val(OptData, DSectSize)))

		if d.val(OptLog, LInternal) != 0 {
			d.set(OptLog, LSectSize, d.val(OptData, DSectSize))
			d.set(OptLog, LSectLog, d.val(OptData, DSectLog))
		}
	}

	sectSize := d.val(OptData, DSectSize)

	if sectSize < MinSectorSize || sectSize > MaxSectorSize || sectSize > d.blockSz() {
		if ssExplicit {
			return fmt.Errorf("illegal sector size %d: %w", sectSize, ErrInvalidGeometry)
		}

		return fmt.Errorf("block size %d cannot be smaller than logical sector size %d: %w",
			d.blockSz(), lsector, ErrInvalidGeometry)
	}

	if sectSize < lsector {
		return fmt.Errorf("illegal sector size %d, hw sector is %d: %w",
			sectSize, lsector, ErrInvalidGeometry)
	}

	logSectSize := d.val(OptLog, LSectSize)

	switch {
	case logSectSize < MinSectorSize || logSectSize > MaxSectorSize || logSectSize > d.blockSz():
		return fmt.Errorf("illegal log sector size %d: %w", logSectSize, ErrInvalidGeometry)
	case logSectSize > MinSectorSize && d.val(OptLog, LSU) == 0 && d.val(OptLog, LSUnit) == 0:
		d.set(OptLog, LSU, d.blockSz())
		d.set(OptLog, LVersion, 2)
		d.feat.LogVersion = 2
	}

	return nil
}

//nolint:gocyclo
func (d *deriver) featureCoupling() error {
	cfg := d.cfg

	if d.feat.CRC {
		if (cfg.Seen(OptInode, ISize) || cfg.Seen(OptInode, ILog)) &&
			d.val(OptInode, ILog) < DfltCRCInodeSizeLog {
			return fmt.Errorf("minimum inode size for CRCs is %d bytes: %w",
				1<<DfltCRCInodeSizeLog, ErrInvalidGeometry)
		}

		if !d.feat.InodeAlign {
			return fmt.Errorf("inodes always aligned for CRC enabled filesystems: %w", ErrInvalidGeometry)
		}

		if !d.feat.LazySBCounters {
			return fmt.Errorf("lazy superblock counters always enabled for CRC enabled filesystems: %w", ErrInvalidGeometry)
		}

		if d.feat.LogVersion != 2 {
			return fmt.Errorf("v2 logs always enabled for CRC enabled filesystems: %w", ErrInvalidGeometry)
		}

		if d.feat.AttrVersion != 2 {
			return fmt.Errorf("v2 attribute format always enabled on CRC enabled filesystems: %w", ErrInvalidGeometry)
		}

		if !d.feat.ProjID32Bit {
			return fmt.Errorf("32 bit project IDs always enabled on CRC enabled filesystems: %w", ErrInvalidGeometry)
		}
	} else {
		// features riding on the v5 format drop out silently when they
		// were never asked for, and error when they were
		if d.feat.FInoBt && cfg.Seen(OptMeta, MFinobt) {
			return fmt.Errorf("finobt not supported without CRC support: %w", ErrInvalidGeometry)
		}

		d.feat.FInoBt = false
		d.set(OptMeta, MFinobt, 0)

		if d.feat.SparseInodes {
			return fmt.Errorf("sparse inodes not supported without CRC support: %w", ErrInvalidGeometry)
		}

		if d.feat.RmapBt {
			return fmt.Errorf("rmapbt not supported without CRC support: %w", ErrInvalidGeometry)
		}

		if d.feat.Reflink {
			return fmt.Errorf("reflink not supported without CRC support: %w", ErrInvalidGeometry)
		}
	}

	if d.feat.RmapBt && d.cfg.rtName != "" {
		return fmt.Errorf("rmapbt not supported with realtime devices: %w", ErrInvalidGeometry)
	}

	return nil
}

func (d *deriver) dirBlockSize() error {
	if d.cfg.Seen(OptNaming, NSize) || d.cfg.Seen(OptNaming, NLog) {
		if d.val(OptNaming, NSize) < d.blockSz() || d.val(OptNaming, NSize) > MaxBlockSize {
			return fmt.Errorf("illegal directory block size %d: %w",
				d.val(OptNaming, NSize), ErrInvalidGeometry)
		}

		return nil
	}

	if d.blockSz() < 1<<MinRecDirBlockLog {
		d.set(OptNaming, NLog, MinRecDirBlockLog)
	} else {
		d.set(OptNaming, NLog, uint64(d.blockLog()))
	}

	d.set(OptNaming, NSize, 1<<d.val(OptNaming, NLog))

	return nil
}

// explicitSizes turns -d/-l/-r size= byte counts into block counts, with
// truncation warnings for non-multiples.
func (d *deriver) explicitSizes() error {
	type subvol struct {
		opt    OptName
		sub    int
		name   string
		blocks *uint64
	}

	for _, sv := range []subvol{
		{OptData, DSize, "data", &d.dblocks},
		{OptLog, LSize, "log", &d.logblocks},
		{OptRealtime, RSize, "rt", &d.rtblocks},
	} {
		size := d.val(sv.opt, sv.sub)
		if size == 0 {
			continue
		}

		if size%MinBlockSize != 0 {
			return fmt.Errorf("illegal %s length %d, not a multiple of %d: %w",
				sv.name, size, MinBlockSize, ErrInvalidGeometry)
		}

		*sv.blocks = size >> d.blockLog()

		if size%d.blockSz() != 0 {
			d.logger.Warn("length not a multiple of the block size, truncated",
				zap.String("subvolume", sv.name),
				zap.Uint64("length", size),
				zap.Uint64("block_size", d.blockSz()),
				zap.Uint64("truncated", *sv.blocks<<d.blockLog()))
		}
	}

	return nil
}

func (d *deriver) rtExtentSize() error {
	if extsize := d.val(OptRealtime, RExtSize); extsize != 0 {
		if extsize%d.blockSz() != 0 {
			return fmt.Errorf("illegal rt extent size %d, not a multiple of %d: %w",
				extsize, d.blockSz(), ErrInvalidGeometry)
		}

		d.rtextblocks = extsize >> d.blockLog()

		return nil
	}

	// without an explicit extent size, pick up the realtime volume
	// stripe width when it lines up with the block size
	var rswidth uint64

	if d.val(OptRealtime, RNoalign) == 0 && !d.top.RtIsFile &&
		!(d.val(OptRealtime, RSize) == 0 && d.top.DataIsFile) {
		rswidth = d.top.RtSWidth
	}

	if d.val(OptRealtime, RNoalign) == 0 && rswidth != 0 && bbtob(rswidth)%d.blockSz() == 0 {
		rswidth = d.dtobt(rswidth)
		extsize := rswidth << d.blockLog()

		if extsize >= MinRtExtSize && extsize <= MaxRtExtSize {
			d.set(OptRealtime, RExtSize, extsize)
			d.rtextblocks = rswidth
		}
	}

	if d.rtextblocks == 0 {
		if d.blockSz() < MinRtExtSize {
			d.rtextblocks = MinRtExtSize >> d.blockLog()
		} else {
			d.rtextblocks = 1
		}
	}

	return nil
}

func (d *deriver) inodeSize() error {
	cfg := d.cfg

	switch {
	case cfg.Seen(OptInode, IPerBlock):
		d.set(OptInode, ILog, uint64(d.blockLog())-highbit(d.val(OptInode, IPerBlock)))
		d.set(OptInode, ISize, 1<<d.val(OptInode, ILog))
	case !cfg.Seen(OptInode, ILog) && !cfg.Seen(OptInode, ISize):
		if d.feat.CRC {
			d.set(OptInode, ILog, DfltCRCInodeSizeLog)
		} else {
			d.set(OptInode, ILog, DfltInodeSizeLog)
		}

		d.set(OptInode, ISize, 1<<d.val(OptInode, ILog))
	}

	if d.feat.CRC && d.val(OptInode, ILog) < DfltCRCInodeSizeLog {
		return fmt.Errorf("minimum inode size for CRCs is %d bytes: %w",
			1<<DfltCRCInodeSizeLog, ErrInvalidGeometry)
	}

	isize := d.val(OptInode, ISize)

	if isize > d.blockSz()/MinInodePerBlock || isize < MinInodeSize || isize > MaxInodeSize {
		maxsz := d.blockSz() / MinInodePerBlock
		if maxsz > MaxInodeSize {
			maxsz = MaxInodeSize
		}

		return fmt.Errorf("illegal inode size %d, allowable size with %d byte blocks is between %d and %d: %w",
			isize, d.blockSz(), MinInodeSize, maxsz, ErrInvalidGeometry)
	}

	return nil
}

//nolint:gocyclo
func (d *deriver) stripeFactors() error {
	if (d.val(OptLog, LSU) != 0 || d.val(OptLog, LSUnit) != 0) && d.feat.LogVersion == 1 {
		d.logger.Warn("log stripe unit specified, using v2 logs")

		d.feat.LogVersion = 2
		d.set(OptLog, LVersion, 2)
	}

	dsunit := d.val(OptData, DSUnit)
	dswidth := d.val(OptData, DSWidth)
	lsunit := d.val(OptLog, LSUnit)
	dsu := d.val(OptData, DSU)
	dsw := d.val(OptData, DSW)
	lsu := d.val(OptLog, LSU)

	if (dsunit != 0) != (dswidth != 0) {
		return fmt.Errorf("both data sunit and data swidth options must be specified: %w", ErrInvalidGeometry)
	}

	if dsu != 0 || dsw != 0 {
		if (dsu != 0) != (dsw != 0) {
			return fmt.Errorf("both data su and data sw options must be specified: %w", ErrInvalidGeometry)
		}

		if dsu%d.val(OptData, DSectSize) != 0 {
			return fmt.Errorf("data su must be a multiple of the sector size (%d): %w",
				d.val(OptData, DSectSize), ErrInvalidGeometry)
		}

		dsunit = btobbt(dsu)
		dswidth = dsunit * dsw
	}

	if dsunit != 0 && dswidth%dsunit != 0 {
		return fmt.Errorf("data stripe width (%d) must be a multiple of the data stripe unit (%d): %w",
			dswidth, dsunit, ErrInvalidGeometry)
	}

	if lsu != 0 {
		lsunit = btobbt(lsu)
	}

	if lsu%d.blockSz() != 0 || bbtob(lsunit)%d.blockSz() != 0 {
		return fmt.Errorf("log stripe unit (%d) must be a multiple of the block size (%d): %w",
			bbtob(lsunit), d.blockSz(), ErrInvalidGeometry)
	}

	d.set(OptData, DSUnit, dsunit)
	d.set(OptData, DSWidth, dswidth)
	d.set(OptLog, LSUnit, lsunit)

	return nil
}

// deviceSizes masks the probed device sizes down to whole sectors (and at
// least 1024-byte granularity, the device size resolution).
func (d *deriver) deviceSizes() error {
	sectorMask := ^uint64(0) << (max64(d.val(OptData, DSectLog), 10) - BBShift)

	d.dsize = d.top.DataSize & sectorMask
	d.rtsize = d.top.RtSize & sectorMask
	d.logBBsize = d.top.LogSize & (^uint64(0) << (max64(d.val(OptLog, LSectLog), 10) - BBShift))

	return nil
}

func (d *deriver) logDevice() error {
	cfg := d.cfg

	if !cfg.Seen(OptLog, LInternal) && !cfg.StrSeen(OptLog, LName) {
		if cfg.logName == "" {
			d.set(OptLog, LInternal, 1)
		} else {
			d.set(OptLog, LInternal, 0)
		}
	}

	switch {
	case cfg.logName != "":
		d.logDeviceName = cfg.logName
	case d.val(OptLog, LInternal) != 0:
		d.logDeviceName = "internal log"
	default:
		return fmt.Errorf("no log subvolume or internal log: %w", ErrInvalidGeometry)
	}

	if cfg.rtName != "" {
		d.rtDeviceName = cfg.rtName
	} else {
		d.rtDeviceName = "none"
	}

	return nil
}

func (d *deriver) dataBlocks() error {
	switch {
	case d.val(OptData, DSize) != 0 && d.dsize > 0 && d.dblocks > d.dtobt(d.dsize):
		return fmt.Errorf("size %s specified for data subvolume is too large, maximum is %d blocks: %w",
			d.cfg.Raw(OptData, DSize), d.dtobt(d.dsize), ErrDeviceSize)
	case d.val(OptData, DSize) == 0 && d.dsize > 0:
		d.dblocks = d.dtobt(d.dsize)
	case d.val(OptData, DSize) == 0:
		return fmt.Errorf("can't get size of data subvolume: %w", ErrDeviceSize)
	}

	if d.dblocks < MinDataBlocks {
		return fmt.Errorf("size %d of data subvolume is too small, minimum %d blocks: %w",
			d.dblocks, MinDataBlocks, ErrInvalidGeometry)
	}

	if d.val(OptLog, LInternal) != 0 && d.cfg.logName != "" {
		return fmt.Errorf("can't have both external and internal logs: %w", ErrInvalidGeometry)
	}

	if d.val(OptLog, LInternal) != 0 && d.val(OptData, DSectSize) != d.val(OptLog, LSectSize) {
		return fmt.Errorf("data and log sector sizes must be equal for internal logs: %w", ErrInvalidGeometry)
	}

	return nil
}

func (d *deriver) rtBlocks() error {
	switch {
	case d.val(OptRealtime, RSize) != 0 && d.rtsize > 0 && d.rtblocks > d.dtobt(d.rtsize):
		return fmt.Errorf("size %s specified for rt subvolume is too large, maximum is %d blocks: %w",
			d.cfg.Raw(OptRealtime, RSize), d.dtobt(d.rtsize), ErrDeviceSize)
	case d.val(OptRealtime, RSize) == 0 && d.rtsize > 0:
		d.rtblocks = d.dtobt(d.rtsize)
	case d.val(OptRealtime, RSize) != 0 && d.cfg.rtName == "":
		return fmt.Errorf("size specified for non-existent rt subvolume: %w", ErrDeviceSize)
	}

	if d.cfg.rtName != "" {
		d.rtextents = d.rtblocks / d.rtextblocks
		d.nbmblocks = divRoundUp(d.rtextents, 8*d.blockSz())
	} else {
		d.rtblocks = 0
		d.rtextents = 0
		d.nbmblocks = 0
	}

	return nil
}

//nolint:gocyclo,cyclop
func (d *deriver) agGeometry() error {
	cfg := d.cfg

	blockLog := d.blockLog()
	minAG := minAGBytesBlocks(blockLog)
	maxAG := maxAGBlocks(blockLog)

	dasize := cfg.Seen(OptData, DAgSize)
	daflag := cfg.Seen(OptData, DAgCount)

	// pick up the volume stripe geometry unless alignment is off or the
	// values were given explicitly
	if d.val(OptData, DNoalign) == 0 {
		if d.val(OptData, DSUnit) != 0 {
			if d.top.DataSUnit != 0 && d.top.DataSUnit != d.val(OptData, DSUnit) {
				d.logger.Warn("specified data stripe unit is not the same as the volume stripe unit",
					zap.Uint64("specified", d.val(OptData, DSUnit)),
					zap.Uint64("volume", d.top.DataSUnit))
			}

			if d.top.DataSWidth != 0 && d.top.DataSWidth != d.val(OptData, DSWidth) {
				d.logger.Warn("specified data stripe width is not the same as the volume stripe width",
					zap.Uint64("specified", d.val(OptData, DSWidth)),
					zap.Uint64("volume", d.top.DataSWidth))
			}
		} else {
			// adopted defaults may be dropped again if they don't
			// line up, so mark them as such
			d.set(OptData, DSUnit, d.top.DataSUnit)
			d.set(OptData, DSWidth, d.top.DataSWidth)
			d.set(OptData, DNoalign, 1)
		}
	}

	switch {
	case dasize:
		if d.val(OptData, DAgSize)%d.blockSz() != 0 {
			return fmt.Errorf("agsize (%d) not a multiple of fs blk size (%d): %w",
				d.val(OptData, DAgSize), d.blockSz(), ErrInvalidGeometry)
		}

		d.set(OptData, DAgSize, d.val(OptData, DAgSize)/d.blockSz())
		d.set(OptData, DAgCount, divRoundUp(d.dblocks, d.val(OptData, DAgSize)))
	case daflag:
		d.set(OptData, DAgSize, divRoundUp(d.dblocks, d.val(OptData, DAgCount)))
	default:
		multidisk := d.val(OptData, DSUnit) != 0 || d.val(OptData, DSWidth) != 0
		agsize, agcount := defaultAGGeometry(d.dblocks, blockLog, multidisk)

		d.set(OptData, DAgSize, agsize)
		d.set(OptData, DAgCount, agcount)
	}

	dsunit := d.val(OptData, DSUnit)
	dswidth := d.val(OptData, DSWidth)

	if dsunit != 0 && bbtob(dsunit)%d.blockSz() == 0 &&
		dswidth != 0 && bbtob(dswidth)%d.blockSz() == 0 {
		// from 512-byte blocks to fs blocks
		dsunit = d.dtobt(dsunit)
		dswidth = d.dtobt(dswidth)
		d.set(OptData, DSUnit, dsunit)
		d.set(OptData, DSWidth, dswidth)

		if d.val(OptData, DAgSize)%dsunit != 0 {
			// round up to a stripe unit boundary, or back down
			// when that overflows the AG size limit
			tmpAgsize := divRoundUp(d.val(OptData, DAgSize), dsunit) * dsunit
			if tmpAgsize > maxAG {
				tmpAgsize = d.val(OptData, DAgSize) / dsunit * dsunit
			}

			if tmpAgsize >= minAG && tmpAgsize <= maxAG {
				d.set(OptData, DAgSize, tmpAgsize)

				if !daflag {
					d.set(OptData, DAgCount, divRoundUp(d.dblocks, tmpAgsize))
				}

				if dasize {
					d.logger.Warn("agsize rounded to stripe boundary",
						zap.Uint64("agsize", d.val(OptData, DAgSize)),
						zap.Uint64("swidth", dswidth))
				}
			} else if d.val(OptData, DNoalign) != 0 {
				dsunit = 0
				dswidth = 0
				d.set(OptData, DSUnit, 0)
				d.set(OptData, DSWidth, 0)
			} else {
				if err := d.validateAGGeometry(); err != nil {
					return err
				}

				return fmt.Errorf("agsize (%d blocks) cannot be aligned to the stripe unit (%d blocks): %w",
					d.val(OptData, DAgSize), dsunit, ErrInvalidGeometry)
			}
		}

		if dswidth != 0 && d.val(OptData, DAgSize)%dswidth == 0 && d.val(OptData, DAgCount) > 1 {
			// all AGs would start on the same disk of the stripe;
			// shrinking the AG by one stripe unit staggers them
			tmpAgsize := d.val(OptData, DAgSize) - dsunit
			if tmpAgsize < minAG {
				tmpAgsize = d.val(OptData, DAgSize) + dsunit
				if d.dblocks < d.val(OptData, DAgSize) {
					tmpAgsize = d.val(OptData, DAgSize)
				}
			}

			if daflag || dasize {
				d.logger.Warn("AG size is a multiple of stripe width, all AGs aligned on the same disk",
					zap.Uint64("suggested_agsize", tmpAgsize))
			} else {
				d.set(OptData, DAgSize, tmpAgsize)
				d.set(OptData, DAgCount, divRoundUp(d.dblocks, tmpAgsize))

				if rem := d.dblocks % d.val(OptData, DAgSize); rem != 0 && rem < minAG {
					d.dblocks = (d.val(OptData, DAgCount) - 1) * d.val(OptData, DAgSize)
					d.set(OptData, DAgCount, d.val(OptData, DAgCount)-1)
				}
			}
		}
	} else {
		if d.val(OptData, DNoalign) != 0 {
			d.set(OptData, DSUnit, 0)
			d.set(OptData, DSWidth, 0)
		} else {
			return fmt.Errorf("stripe unit (%d) or stripe width (%d) is not a multiple of the block size (%d): %w",
				bbtob(dsunit), bbtob(dswidth), d.blockSz(), ErrInvalidGeometry)
		}
	}

	// drop a runt last AG
	if rem := d.dblocks % d.val(OptData, DAgSize); rem != 0 && rem < minAG {
		d.dblocks = (d.val(OptData, DAgCount) - 1) * d.val(OptData, DAgSize)
		d.set(OptData, DAgCount, d.val(OptData, DAgCount)-1)
	}

	return d.validateAGGeometry()
}

func (d *deriver) validateAGGeometry() error {
	blockLog := d.blockLog()
	agsize := d.val(OptData, DAgSize)
	agcount := d.val(OptData, DAgCount)

	if agsize < minAGBytesBlocks(blockLog) {
		return fmt.Errorf("agsize (%d blocks) too small, need at least %d blocks: %w",
			agsize, minAGBytesBlocks(blockLog), ErrInvalidGeometry)
	}

	if agsize > maxAGBlocks(blockLog) {
		return fmt.Errorf("agsize (%d blocks) too big, maximum is %d blocks: %w",
			agsize, maxAGBlocks(blockLog), ErrInvalidGeometry)
	}

	if agsize > d.dblocks {
		return fmt.Errorf("agsize (%d blocks) too big, data area is %d blocks: %w",
			agsize, d.dblocks, ErrInvalidGeometry)
	}

	if rem := d.dblocks % agsize; rem != 0 && rem < minAGBytesBlocks(blockLog) {
		return fmt.Errorf("last AG size %d blocks too small, minimum size is %d blocks: %w",
			rem, minAGBytesBlocks(blockLog), ErrInvalidGeometry)
	}

	if agcount > MaxAGNumber+1 {
		return fmt.Errorf("%d allocation groups is too many, maximum is %d: %w",
			agcount, uint64(MaxAGNumber)+1, ErrInvalidGeometry)
	}

	return nil
}

func (d *deriver) imaxpct() error {
	if d.cfg.Seen(OptInode, IMaxPct) {
		return nil
	}

	blockLog := d.blockLog()

	switch {
	case d.dblocks < terabytes(1, blockLog):
		d.set(OptInode, IMaxPct, DfltIMaxPct)
	case d.dblocks < terabytes(50, blockLog):
		d.set(OptInode, IMaxPct, 5)
	default:
		d.set(OptInode, IMaxPct, 1)
	}

	return nil
}

//nolint:gocyclo,cyclop
func (d *deriver) logSize() error {
	cfg := d.cfg
	blockLog := d.blockLog()

	if d.val(OptLog, LSUnit) != 0 {
		d.set(OptLog, LSUnit, d.dtobt(d.val(OptLog, LSUnit)))
	} else if d.feat.LogVersion == 2 && d.val(OptLog, LInternal) != 0 && d.val(OptData, DSUnit) != 0 {
		// both now in fs blocks
		d.set(OptLog, LSUnit, d.val(OptData, DSUnit))
	}

	if d.feat.LogVersion == 2 && d.val(OptLog, LSUnit)*d.blockSz() > MaxLogRecordSize {
		if cfg.Seen(OptLog, LSU) || cfg.Seen(OptLog, LSUnit) {
			d.logger.Warn("log stripe unit is too large, adjusted to 32KiB",
				zap.Uint64("bytes", d.val(OptLog, LSUnit)*d.blockSz()),
				zap.Uint64("maximum", MaxLogRecordSize))
		}

		d.set(OptLog, LSUnit, (32*1024)>>blockLog)
	}

	d.minLogBlocks = logMinBlocks(
		d.val(OptData, DAgSize),
		blockLog,
		uint(d.val(OptInode, ILog)),
		uint(d.val(OptData, DSectLog)),
		uint(d.val(OptNaming, NLog)),
		d.feat.LogVersion,
		d.val(OptLog, LSUnit),
		d.feat,
	)

	d.minLogBlocks = max64(MinLogBlocksLimit, d.minLogBlocks)

	if d.val(OptLog, LSize) == 0 && d.dblocks >= gigabytes(1, blockLog) {
		d.minLogBlocks = max64(d.minLogBlocks, MinLogBytes>>blockLog)
	}

	internal := d.val(OptLog, LInternal) != 0

	switch {
	case d.val(OptLog, LSize) != 0 && d.logBBsize > 0 && d.logblocks > d.dtobt(d.logBBsize):
		return fmt.Errorf("size %s specified for log subvolume is too large, maximum is %d blocks: %w",
			cfg.Raw(OptLog, LSize), d.dtobt(d.logBBsize), ErrDeviceSize)
	case d.val(OptLog, LSize) == 0 && d.logBBsize > 0:
		d.logblocks = d.dtobt(d.logBBsize)
	case d.val(OptLog, LSize) != 0 && cfg.logName == "" && !internal:
		return fmt.Errorf("size specified for non-existent log subvolume: %w", ErrDeviceSize)
	case internal && d.val(OptLog, LSize) != 0 && d.logblocks >= d.dblocks:
		return fmt.Errorf("size %d too large for internal log: %w", d.logblocks, ErrInvalidGeometry)
	case !internal && cfg.logName == "":
		d.logblocks = 0
	case internal && d.val(OptLog, LSize) == 0:
		switch {
		case d.dblocks < gigabytes(1, blockLog):
			// tiny filesystems get minimum sized logs
			d.logblocks = d.minLogBlocks
		case d.dblocks < gigabytes(16, blockLog):
			d.logblocks = min64(MinLogBytes>>blockLog, d.minLogBlocks*DfltLogFactor)
		default:
			// 2048:1 ratio of filesystem size to log size, which
			// tops out the 2GB log at a 4TB filesystem
			d.logblocks = (d.dblocks << blockLog) / 2048 >> blockLog
		}

		d.logblocks = max64(d.minLogBlocks, d.logblocks)

		// the log must fit wholly within an AG
		if d.logblocks >= d.val(OptData, DAgSize) {
			d.logblocks = d.minLogBlocks
		}

		d.logblocks = min64(d.logblocks, MaxLogBlocksLimit)
		if d.logblocks<<blockLog > MaxLogBytes {
			d.logblocks = MaxLogBytes >> blockLog
		}
	}

	return d.validateLogSize()
}

func (d *deriver) validateLogSize() error {
	blockLog := d.blockLog()

	if d.logblocks < d.minLogBlocks {
		return fmt.Errorf("log size %d blocks too small, minimum size is %d blocks: %w",
			d.logblocks, d.minLogBlocks, ErrInvalidGeometry)
	}

	if d.logblocks > MaxLogBlocksLimit {
		return fmt.Errorf("log size %d blocks too large, maximum size is %d blocks: %w",
			d.logblocks, uint64(MaxLogBlocksLimit), ErrInvalidGeometry)
	}

	if d.logblocks<<blockLog > MaxLogBytes {
		return fmt.Errorf("log size %d bytes too large, maximum size is %d bytes: %w",
			d.logblocks<<blockLog, uint64(MaxLogBytes), ErrInvalidGeometry)
	}

	return nil
}

// preallocBlocks is the number of blocks at the front of an AG taken by
// static metadata: the sector-sized headers plus the btree roots.
func (d *deriver) preallocBlocks() uint64 {
	agflBlock := (3 * d.val(OptData, DSectSize)) >> d.blockLog()
	blocks := agflBlock + 4 // bno, cnt, ino roots and the first free block

	if d.feat.FInoBt {
		blocks++
	}

	if d.feat.RmapBt {
		blocks++
	}

	if d.feat.Reflink {
		blocks++
	}

	return blocks
}

// agMaxUsable is the biggest single extent an AG can hold once headers,
// btree roots and the free list reserve are accounted for.
func (d *deriver) agMaxUsable() uint64 {
	blocks := divRoundUp(4*d.val(OptData, DSectSize), d.blockSz())
	blocks += 4 // AGFL reserve
	blocks += 3 // bno, cnt, ino roots

	if d.feat.FInoBt {
		blocks++
	}

	if d.feat.RmapBt {
		blocks++
	}

	if d.feat.Reflink {
		blocks++
	}

	return d.val(OptData, DAgSize) - blocks
}

//nolint:gocyclo
func (d *deriver) logPlacement() error {
	cfg := d.cfg
	agsize := d.val(OptData, DAgSize)
	lsizeExplicit := cfg.Seen(OptLog, LSize)

	if d.val(OptLog, LInternal) == 0 {
		if lsunit := d.val(OptLog, LSUnit); lsunit != 0 {
			if err := d.fixupLogStripeUnit(lsizeExplicit, lsunit); err != nil {
				return err
			}
		}

		return d.validateLogSize()
	}

	d.prealloc = d.preallocBlocks()

	// readjust an automatically sized log to fit within an AG
	if !lsizeExplicit {
		d.logblocks = min64(d.logblocks, d.agMaxUsable())

		if err := d.validateLogSize(); err != nil {
			return err
		}
	}

	if d.logblocks > agsize-d.prealloc {
		return fmt.Errorf("internal log size %d too large, must fit in allocation group: %w",
			d.logblocks, ErrInvalidGeometry)
	}

	if cfg.Seen(OptLog, LAgNum) {
		if d.val(OptLog, LAgNum) >= d.val(OptData, DAgCount) {
			return fmt.Errorf("log ag number %d too large, must be less than %d: %w",
				d.val(OptLog, LAgNum), d.val(OptData, DAgCount), ErrInvalidGeometry)
		}
	} else {
		d.set(OptLog, LAgNum, d.val(OptData, DAgCount)/2)
	}

	d.logAG = d.val(OptLog, LAgNum)
	d.logStartAGB = d.prealloc

	sunit := d.val(OptLog, LSUnit)
	if sunit == 0 {
		sunit = d.val(OptData, DSUnit)
	}

	if sunit != 0 {
		agBlockLog := ceilLog2(agsize)
		logstart := d.logAG<<agBlockLog | d.logStartAGB

		if logstart%sunit != 0 {
			logstart = divRoundUp(logstart, sunit) * sunit
			d.lalign = true
		}

		if err := d.fixupLogStripeUnit(lsizeExplicit, sunit); err != nil {
			return err
		}

		d.logStartAGB = logstart & (1<<agBlockLog - 1)

		if d.logblocks > agsize-d.logStartAGB {
			return fmt.Errorf("due to stripe alignment, the internal log size %d is too large, must fit within an allocation group: %w",
				d.logblocks, ErrInvalidGeometry)
		}
	}

	return d.validateLogSize()
}

func (d *deriver) fixupLogStripeUnit(lsizeExplicit bool, sunit uint64) error {
	if d.logblocks%sunit == 0 {
		return nil
	}

	if lsizeExplicit {
		return fmt.Errorf("log size %d is not a multiple of the log stripe unit %d: %w",
			d.logblocks, sunit, ErrInvalidGeometry)
	}

	tmp := divRoundUp(d.logblocks, sunit) * sunit

	// if rounding up pushed past the maximum, round down instead
	if tmp > MaxLogBlocksLimit || tmp<<d.blockLog() > MaxLogBytes {
		tmp = d.logblocks / sunit * sunit
	}

	d.logblocks = tmp

	return nil
}

func (d *deriver) assemble() *Geometry {
	agsize := d.val(OptData, DAgSize)

	g := &Geometry{
		UUID:  d.cfg.fsUUID,
		Label: d.cfg.label,

		BlockSize: d.blockSz(),
		BlockLog:  d.blockLog(),

		SectSize: d.val(OptData, DSectSize),
		SectLog:  uint(d.val(OptData, DSectLog)),

		LogSectSize: d.val(OptLog, LSectSize),
		LogSectLog:  uint(d.val(OptLog, LSectLog)),

		DataBlocks: d.dblocks,
		AGSize:     agsize,
		AGCount:    d.val(OptData, DAgCount),
		AGBlockLog: ceilLog2(agsize),

		InodeSize:      d.val(OptInode, ISize),
		InodeLog:       uint(d.val(OptInode, ILog)),
		InodesPerBlock: d.blockSz() / d.val(OptInode, ISize),
		IMaxPct:        d.val(OptInode, IMaxPct),

		DirBlockSize: d.val(OptNaming, NSize),
		DirBlockLog:  uint(d.val(OptNaming, NLog)),

		DataSUnit:  d.val(OptData, DSUnit),
		DataSWidth: d.val(OptData, DSWidth),
		LogSUnit:   d.val(OptLog, LSUnit),

		InternalLog:   d.val(OptLog, LInternal) != 0,
		LogBlocks:     d.logblocks,
		MinLogBlocks:  d.minLogBlocks,
		LogAG:         d.logAG,
		LogStartBlock: d.logStartAGB,
		LogAligned:    d.lalign,

		RtBlocks:       d.rtblocks,
		RtExtents:      d.rtextents,
		RtExtBlocks:    d.rtextblocks,
		RtBitmapBlocks: d.nbmblocks,

		Features:  d.feat,
		RootInode: d.cfg.rootInodeAttrs(),

		DataDevice: d.cfg.dataName,
		LogDevice:  d.logDeviceName,
		RtDevice:   d.rtDeviceName,
	}

	if d.lalign {
		g.LogPaddingStart = d.prealloc
	}

	return g
}

func b2i(b bool) int {
	if b {
		return 1
	}

	return 0
}

// Describe renders the classic mkfs geometry summary block.
func (g *Geometry) Describe() string {
	return fmt.Sprintf(
		"meta-data=%-22s isize=%-6d agcount=%d, agsize=%d blks\n"+
			"         =%-22s sectsz=%-5d attr=%d, projid32bit=%d\n"+
			"         =%-22s crc=%-8d finobt=%d, sparse=%d, rmapbt=%d, reflink=%d\n"+
			"data     =%-22s bsize=%-6d blocks=%d, imaxpct=%d\n"+
			"         =%-22s sunit=%-6d swidth=%d blks\n"+
			"naming   =version %-14d bsize=%-6d ascii-ci=%d ftype=%d\n"+
			"log      =%-22s bsize=%-6d blocks=%d, version=%d\n"+
			"         =%-22s sectsz=%-5d sunit=%d blks, lazy-count=%d\n"+
			"realtime =%-22s extsz=%-6d blocks=%d, rtextents=%d\n",
		g.DataDevice, g.InodeSize, g.AGCount, g.AGSize,
		"", g.SectSize, g.Features.AttrVersion, b2i(g.Features.ProjID32Bit),
		"", b2i(g.Features.CRC), b2i(g.Features.FInoBt), b2i(g.Features.SparseInodes),
		b2i(g.Features.RmapBt), b2i(g.Features.Reflink),
		"", g.BlockSize, g.DataBlocks, g.IMaxPct,
		"", g.DataSUnit, g.DataSWidth,
		g.Features.DirVersion, g.DirBlockSize, b2i(g.Features.CaseInsensitive), b2i(g.Features.DirFtype),
		g.LogDevice, g.BlockSize, g.LogBlocks, g.Features.LogVersion,
		"", g.LogSectSize, g.LogSUnit, b2i(g.Features.LazySBCounters),
		g.RtDevice, g.RtExtBlocks<<g.BlockLog, g.RtBlocks, g.RtExtents,
	)
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}

	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}

	return b
}
