// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package block

import (
	"io"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Discard asks the device to discard its whole contents.
//
// BLKDISCARD is implemented via TRIM on SSDs and is advisory: it might or
// might not zero the contents, and devices without discard support just
// report so.
func (d *Device) Discard() (bool, error) {
	if !d.isBlock {
		return false, nil
	}

	size, err := d.Size()
	if err != nil {
		return false, err
	}

	r := [2]uint64{0, size}

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), unix.BLKDISCARD, uintptr(unsafe.Pointer(&r[0]))); errno != 0 {
		if errno == unix.EOPNOTSUPP {
			return false, nil
		}

		return false, errno
	}

	runtime.KeepAlive(d)

	return true, nil
}

// WipeRange zeroes the device range [start, start+length).
//
// Block devices get BLKZEROOUT, which the kernel may satisfy with a
// write-zeroes command; everything else is zeroed from userland.
func (d *Device) WipeRange(start, length uint64) error {
	if d.isBlock {
		r := [2]uint64{start, length}

		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), unix.BLKZEROOUT, uintptr(unsafe.Pointer(&r[0]))); errno == 0 {
			runtime.KeepAlive(d)

			return nil
		}
	}

	if _, err := d.f.Seek(int64(start), io.SeekStart); err != nil {
		return err
	}

	_, err := io.CopyN(d.f, zeroReader{}, int64(length))

	return err
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)

	return len(p), nil
}
