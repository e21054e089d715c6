// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package block

import (
	"bytes"
	"io"

	"github.com/siderolabs/go-pointer"
)

// magic is one known on-disk signature.
type magic struct {
	name   string
	value  []byte
	offset int
}

func (m *magic) matches(buf []byte) bool {
	if len(buf) < m.offset+len(m.value) {
		return false
	}

	return bytes.Equal(buf[m.offset:m.offset+len(m.value)], m.value)
}

// signatures lists the filesystem and partition table magics which make a
// device count as already in use. Offsets follow the respective on-disk
// formats; GPT headers appear at LBA 1 for both 512 and 4096 byte sectors.
var signatures = []magic{
	{name: "xfs", value: []byte("XFSB"), offset: 0},
	{name: "ext", value: []byte{0x53, 0xef}, offset: 1024 + 56},
	{name: "btrfs", value: []byte("_BHRfS_M"), offset: 64*1024 + 64},
	{name: "gpt", value: []byte("EFI PART"), offset: 512},
	{name: "gpt", value: []byte("EFI PART"), offset: 4096},
	{name: "luks", value: []byte{'L', 'U', 'K', 'S', 0xba, 0xbe}, offset: 0},
	{name: "lvm2", value: []byte("LVM2 001"), offset: 512 + 24},
	{name: "swap", value: []byte("SWAPSPACE2"), offset: 4096 - 10},
	{name: "swap", value: []byte("SWAP-SPACE"), offset: 4096 - 10},
	{name: "squashfs", value: []byte("hsqs"), offset: 0},
	{name: "iso9660", value: []byte("CD001"), offset: 32769},
	{name: "dos", value: []byte{0x55, 0xaa}, offset: 510},
}

// signatureBufSize covers the largest magic offset.
const signatureBufSize = 128 * 1024

// Signature returns the name of an existing filesystem or partition table
// signature on the device, nil when the device looks clean. The formatter
// refuses to overwrite one without the force flag.
func (d *Device) Signature() (*string, error) {
	size, err := d.Size()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, min(size, signatureBufSize))

	if _, err := d.f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}

	return matchSignature(buf), nil
}

func matchSignature(buf []byte) *string {
	for i := range signatures {
		if signatures[i].matches(buf) {
			return pointer.To(signatures[i].name)
		}
	}

	return nil
}
