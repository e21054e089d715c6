// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package block opens the devices a filesystem is created on and probes the
// characteristics the geometry derivation needs: size, sector sizes and
// stripe geometry.
package block

import "os"

// SectorSize is the basic 512-byte block device sizes are measured in.
const SectorSize = 512

// Device is an open data, log or realtime device, either a real block
// device or an image file.
type Device struct {
	f       *os.File
	path    string
	isBlock bool
}

// Path returns the path the device was opened from.
func (d *Device) Path() string {
	return d.path
}

// IsBlockDevice reports whether this is a real block device rather than an
// image file.
func (d *Device) IsBlockDevice() bool {
	return d.isBlock
}

// File returns the underlying file for direct I/O by the writer.
func (d *Device) File() *os.File {
	return d.f
}

// Close closes the underlying file.
func (d *Device) Close() error {
	return d.f.Close()
}
