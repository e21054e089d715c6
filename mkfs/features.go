// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mkfs

// Features is the superblock feature bundle the writer stamps into the
// filesystem. Defaults are the modern ones: CRC-enabled v5 format with
// free inode btree, v2 logs, v2 attributes and lazy superblock counters.
type Features struct {
	CRC             bool
	FInoBt          bool
	SparseInodes    bool
	RmapBt          bool
	Reflink         bool
	DirFtype        bool
	InodeAlign      bool
	ProjID32Bit     bool
	LazySBCounters  bool
	CaseInsensitive bool
	LogVersion      int
	AttrVersion     int
	DirVersion      int
}

// features snapshots the effective feature set from the resolved options.
func (c *Config) features() Features {
	return Features{
		CRC:             c.Value(OptMeta, MCrc) != 0,
		FInoBt:          c.Value(OptMeta, MFinobt) != 0,
		SparseInodes:    c.Value(OptInode, ISparse) != 0,
		RmapBt:          c.Value(OptMeta, MRmapBt) != 0,
		Reflink:         c.Value(OptMeta, MReflink) != 0,
		DirFtype:        c.Value(OptNaming, NFtype) != 0,
		InodeAlign:      c.Value(OptInode, IAlign) != 0,
		ProjID32Bit:     c.Value(OptInode, IProjID32Bit) != 0,
		LazySBCounters:  c.Value(OptLog, LLazyCount) != 0,
		CaseInsensitive: c.nci,
		LogVersion:      int(c.Value(OptLog, LVersion)),
		AttrVersion:     int(c.Value(OptInode, IAttr)),
		DirVersion:      int(c.Value(OptNaming, NVersion)),
	}
}

// rootInodeAttrs snapshots the root inode attribute flags from -d.
func (c *Config) rootInodeAttrs() RootInodeAttrs {
	return RootInodeAttrs{
		RtInherit:    c.Value(OptData, DRtInherit) != 0,
		ProjInherit:  c.Seen(OptData, DProjInherit),
		ProjID:       uint32(c.Value(OptData, DProjInherit)),
		ExtSzInherit: c.Seen(OptData, DExtszInherit),
		ExtSize:      uint32(c.Value(OptData, DExtszInherit)),
	}
}
