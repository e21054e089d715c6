// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package writer is the contract between the geometry derivation and the
// on-disk formatter: it bundles the derived layout with the opened devices
// and performs the preparation steps which must happen before the first
// metadata write.
package writer

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/xfskit/go-mkfs/block"
	"github.com/xfskit/go-mkfs/mkfs"
)

// ErrTarget indicates a geometry/device mismatch.
var ErrTarget = errors.New("invalid format target")

// wipeSize is how much to zero at each end of a device so nothing
// recognizes the previous contents: enough for any superblock, partition
// table or RAID metadata living near the edges.
const wipeSize = 128 * 1024

// Target bundles the derived geometry with the devices it will be written
// to. The writer consumes the geometry as-is and re-derives nothing.
type Target struct {
	Geometry *mkfs.Geometry

	Data *block.Device
	Log  *block.Device // nil for internal logs
	Rt   *block.Device // nil without a realtime section

	// Proto is the optional protofile with the initial contents.
	Proto *Proto
}

// Options configure target preparation.
type Options struct {
	Logger  *zap.Logger
	Discard bool
}

// Option customizes target preparation.
type Option func(*Options)

// WithLogger sets the logger. Default is no logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithDiscard controls discarding the devices before the wipe. Enabled by
// default; the CLI disables it for -K.
func WithDiscard(discard bool) Option {
	return func(o *Options) {
		o.Discard = discard
	}
}

// Validate checks that the devices match what the geometry expects.
func (t *Target) Validate() error {
	if t.Geometry == nil || t.Data == nil {
		return fmt.Errorf("missing geometry or data device: %w", ErrTarget)
	}

	if t.Geometry.InternalLog && t.Log != nil {
		return fmt.Errorf("log device given for an internal log: %w", ErrTarget)
	}

	if !t.Geometry.InternalLog && t.Log == nil {
		return fmt.Errorf("external log requires a log device: %w", ErrTarget)
	}

	if (t.Geometry.RtBlocks != 0) != (t.Rt != nil) {
		return fmt.Errorf("realtime section and realtime device must come together: %w", ErrTarget)
	}

	return nil
}

// Prepare clears stale signatures from all the devices, optionally
// discarding them first.
func (t *Target) Prepare(opts ...Option) error {
	options := Options{
		Logger:  zap.NewNop(),
		Discard: true,
	}

	for _, o := range opts {
		o(&options)
	}

	if err := t.Validate(); err != nil {
		return err
	}

	for _, dev := range []*block.Device{t.Data, t.Log, t.Rt} {
		if dev == nil {
			continue
		}

		if options.Discard {
			discarded, err := dev.Discard()
			if err != nil {
				return fmt.Errorf("discarding %s: %w", dev.Path(), err)
			}

			if discarded {
				options.Logger.Info("discarded device contents", zap.String("device", dev.Path()))
			}
		}

		if err := wipeEnds(dev); err != nil {
			return fmt.Errorf("wiping %s: %w", dev.Path(), err)
		}
	}

	return nil
}

// wipeEnds zeroes the head and tail of the device.
func wipeEnds(d *block.Device) error {
	size, err := d.Size()
	if err != nil {
		return err
	}

	if err = d.WipeRange(0, min(size, wipeSize)); err != nil {
		return err
	}

	if size >= 2*wipeSize {
		return d.WipeRange(size-wipeSize, wipeSize)
	}

	return nil
}

// Proto is a protofile describing the initial filesystem contents. The
// grammar is interpreted by the on-disk formatter; here it is only read and
// carried along.
type Proto struct {
	Contents []byte
}

// LoadProto reads a protofile.
func LoadProto(path string) (*Proto, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	return &Proto{Contents: contents}, nil
}
