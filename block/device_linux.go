// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package block

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Open opens a block device or image file read-write.
//
// Block devices are opened with O_EXCL so a device which is mounted or
// otherwise claimed fails straight away.
func Open(path string) (*Device, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	isBlock := st.Mode()&os.ModeDevice != 0 && st.Mode()&os.ModeCharDevice == 0

	flags := os.O_RDWR | unix.O_CLOEXEC
	if isBlock {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		if isBlock && errors.Is(err, unix.EBUSY) {
			return nil, fmt.Errorf("%s contains a mounted filesystem or is in use: %w", path, err)
		}

		return nil, err
	}

	return &Device{
		f:       f,
		path:    path,
		isBlock: isBlock,
	}, nil
}

// Create creates (or truncates to size) an image file backing a filesystem.
func Create(path string, size uint64) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|unix.O_CLOEXEC, 0o666)
	if err != nil {
		return nil, err
	}

	if err = f.Truncate(int64(size)); err != nil {
		f.Close() //nolint:errcheck

		return nil, err
	}

	return &Device{
		f:    f,
		path: path,
	}, nil
}

// Size returns the device size in bytes.
func (d *Device) Size() (uint64, error) {
	if !d.isBlock {
		st, err := d.f.Stat()
		if err != nil {
			return 0, err
		}

		return uint64(st.Size()), nil
	}

	var devsize uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&devsize))); errno != 0 {
		return 0, errno
	}

	return devsize, nil
}

// SectorSizes returns the logical and physical sector sizes in bytes.
// Image files report the basic 512-byte sector for both.
func (d *Device) SectorSizes() (logical, physical uint64) {
	if !d.isBlock {
		return SectorSize, SectorSize
	}

	var lsz int
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), uintptr(unix.BLKSSZGET), uintptr(unsafe.Pointer(&lsz))); errno == 0 && lsz > 0 {
		logical = uint64(lsz)
	} else {
		logical = SectorSize
	}

	var psz uint
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), uintptr(unix.BLKPBSZGET), uintptr(unsafe.Pointer(&psz))); errno == 0 && psz > 0 {
		physical = uint64(psz)
	} else {
		physical = logical
	}

	return logical, physical
}

// StripeGeometry returns the stripe unit and width of the underlying volume
// in 512-byte blocks, both zero when the device carries no stripe hints.
//
// The kernel exports RAID geometry as the minimum and optimal I/O sizes in
// the queue directory of the whole disk.
func (d *Device) StripeGeometry() (sunit, swidth uint64) {
	if !d.isBlock {
		return 0, 0
	}

	queue, err := d.queueSysFsPath()
	if err != nil {
		return 0, 0
	}

	minIO := readSysFsUint(filepath.Join(queue, "minimum_io_size"))
	optIO := readSysFsUint(filepath.Join(queue, "optimal_io_size"))

	logical, _ := d.SectorSizes()

	// a minimum I/O equal to the sector size just restates the sector
	// size, not a stripe
	if minIO <= logical || optIO == 0 {
		return 0, 0
	}

	if minIO%SectorSize != 0 || optIO%SectorSize != 0 || optIO%minIO != 0 {
		return 0, 0
	}

	return minIO / SectorSize, optIO / SectorSize
}

// IsReadOnly reports whether the device rejects writes.
func (d *Device) IsReadOnly() (bool, error) {
	if !d.isBlock {
		return false, nil
	}

	var flags int
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), unix.BLKROGET, uintptr(unsafe.Pointer(&flags))); errno != 0 {
		return false, errno
	}

	return flags != 0, nil
}

func (d *Device) sysFsPath() (string, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(d.f.Fd()), &st); err != nil {
		return "", err
	}

	return fmt.Sprintf("/sys/dev/block/%d:%d", unix.Major(st.Rdev), unix.Minor(st.Rdev)), nil
}

// queueSysFsPath resolves the request queue directory, walking up from a
// partition to its whole disk.
func (d *Device) queueSysFsPath() (string, error) {
	sysFsPath, err := d.sysFsPath()
	if err != nil {
		return "", err
	}

	if _, err = os.Stat(filepath.Join(sysFsPath, "queue")); err == nil {
		return filepath.Join(sysFsPath, "queue"), nil
	}

	if _, err = os.Stat(filepath.Join(sysFsPath, "partition")); err != nil {
		return "", fmt.Errorf("no request queue for %s", d.path)
	}

	resolved, err := filepath.EvalSymlinks(sysFsPath)
	if err != nil {
		return "", err
	}

	return filepath.Join(filepath.Dir(resolved), "queue"), nil
}

func readSysFsUint(path string) uint64 {
	contents, err := os.ReadFile(path)
	if err != nil {
		return 0
	}

	v, err := strconv.ParseUint(strings.TrimSpace(string(contents)), 10, 64)
	if err != nil {
		return 0
	}

	return v
}
