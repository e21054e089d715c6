// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mkfs

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/google/uuid"
)

// RootInodeAttrs are the attribute flags stamped on the root inode, from
// the -d rtinherit/projinherit/extszinherit sub-options.
type RootInodeAttrs struct {
	ProjID       uint32
	ExtSize      uint32
	RtInherit    bool
	ProjInherit  bool
	ExtSzInherit bool
}

func highbit(v uint64) uint64 {
	return uint64(bits.Len64(v) - 1)
}

// ApplyOption parses one command line option argument, a comma separated
// list of name or name=value sub-options, into the Config.
//
// Coupled sub-options are cross-filled: giving a size fills the matching
// log and vice versa, and the sector size travels between -d, -l and -s so
// later stages only ever read one of the twins.
func (c *Config) ApplyOption(letter byte, arg string) error {
	opt, ok := optByLetter(letter)
	if !ok {
		return fmt.Errorf("-%c: %w", letter, ErrUnknownOption)
	}

	for _, token := range strings.Split(arg, ",") {
		name, value, _ := strings.Cut(token, "=")

		sub := -1

		for i, so := range schema[opt].subs {
			if so.name == name {
				sub = i

				break
			}
		}

		if sub < 0 {
			return fmt.Errorf("-%c %s: %w", letter, name, ErrUnknownOption)
		}

		if err := c.applySub(opt, sub, value); err != nil {
			return err
		}
	}

	return nil
}

//nolint:gocyclo
func (c *Config) applySub(opt OptName, sub int, value string) error {
	switch opt {
	case OptBlock:
		v, err := c.ResolveValue(opt, sub, value)
		if err != nil {
			return err
		}

		if sub == BLog {
			c.SetValue(OptBlock, BSize, 1<<v)
		} else {
			c.SetValue(OptBlock, BLog, highbit(v))
		}

		return nil
	case OptData:
		return c.applyData(sub, value)
	case OptInode:
		v, err := c.ResolveValue(opt, sub, value)
		if err != nil {
			return err
		}

		switch sub {
		case ILog:
			c.SetValue(OptInode, ISize, 1<<v)
		case ISize:
			c.SetValue(OptInode, ILog, highbit(v))
		}

		return nil
	case OptLog:
		return c.applyLog(sub, value)
	case OptNaming:
		return c.applyNaming(sub, value)
	case OptRealtime:
		return c.applyRealtime(sub, value)
	case OptSector:
		return c.applySector(sub, value)
	case OptMeta:
		return c.applyMeta(sub, value)
	}

	return fmt.Errorf("option index %d: %w", opt, ErrSchemaBug)
}

func (c *Config) applyData(sub int, value string) error {
	if sub == DName {
		name, err := c.ResolveString(OptData, DName, value)
		if err != nil {
			return err
		}

		c.dataName = name
		c.SetValue(OptData, DName, 1)

		return nil
	}

	v, err := c.ResolveValue(OptData, sub, value)
	if err != nil {
		return err
	}

	switch sub {
	case DSectLog:
		// the sector size can arrive via -d or -s, so the twins on
		// both options are kept in sync; later stages read only the
		// -d pair
		c.SetValue(OptSector, SLog, v)
		c.SetValue(OptSector, SSectLog, v)
		c.SetValue(OptData, DSectSize, 1<<v)
		c.SetValue(OptSector, SSectSize, 1<<v)
		c.SetValue(OptSector, SSize, 1<<v)
	case DSectSize:
		c.SetValue(OptSector, SSize, v)
		c.SetValue(OptSector, SSectSize, v)
		c.SetValue(OptData, DSectLog, highbit(v))
		c.SetValue(OptSector, SLog, highbit(v))
		c.SetValue(OptSector, SSectLog, highbit(v))
	}

	return nil
}

func (c *Config) applyLog(sub int, value string) error {
	if sub == LName || sub == LDev {
		name, err := c.ResolveString(OptLog, LName, value)
		if err != nil {
			return err
		}

		c.logName = name
		c.SetValue(OptLog, LInternal, 0)
		c.SetValue(OptLog, LName, 1)
		c.SetValue(OptLog, LDev, 1)

		return nil
	}

	v, err := c.ResolveValue(OptLog, sub, value)
	if err != nil {
		return err
	}

	switch sub {
	case LSectLog:
		c.SetValue(OptLog, LSectSize, 1<<v)
	case LSectSize:
		c.SetValue(OptLog, LSectLog, highbit(v))
	}

	return nil
}

func (c *Config) applyNaming(sub int, value string) error {
	if sub == NVersion {
		// two-phase sub-option: "ci" is handled as a string, anything
		// else runs through numeric validation
		s, err := c.ResolveString(OptNaming, NVersion, value)
		if err != nil {
			return err
		}

		if strings.EqualFold(s, "ci") {
			c.nci = true

			return nil
		}

		_, err = c.ResolveValue(OptNaming, NVersion, value)

		return err
	}

	v, err := c.ResolveValue(OptNaming, sub, value)
	if err != nil {
		return err
	}

	switch sub {
	case NLog:
		c.SetValue(OptNaming, NSize, 1<<v)
	case NSize:
		c.SetValue(OptNaming, NLog, highbit(v))
	}

	return nil
}

func (c *Config) applyRealtime(sub int, value string) error {
	if sub == RName || sub == RDev {
		name, err := c.ResolveString(OptRealtime, RName, value)
		if err != nil {
			return err
		}

		c.rtName = name
		c.SetValue(OptRealtime, RName, 1)
		c.SetValue(OptRealtime, RDev, 1)

		return nil
	}

	_, err := c.ResolveValue(OptRealtime, sub, value)

	return err
}

func (c *Config) applySector(sub int, value string) error {
	switch sub {
	case SLog, SSectLog:
		if c.logSectSizeExplicit() {
			return c.conflictError(OptSector, SSectLog, conflict{opt: OptSector, sub: SSectSize})
		}

		v, err := c.ResolveValue(OptSector, SSectLog, value)
		if err != nil {
			return err
		}

		c.SetValue(OptSector, SLog, v)
		c.SetValue(OptData, DSectLog, v)
		c.SetValue(OptLog, LSectLog, v)
		c.SetValue(OptData, DSectSize, 1<<v)
		c.SetValue(OptSector, SSize, 1<<v)
		c.SetValue(OptSector, SSectSize, 1<<v)
		c.SetValue(OptLog, LSectSize, 1<<v)
	case SSize, SSectSize:
		if c.logSectLogExplicit() {
			return c.conflictError(OptSector, SSectSize, conflict{opt: OptSector, sub: SSectLog})
		}

		v, err := c.ResolveValue(OptSector, SSectSize, value)
		if err != nil {
			return err
		}

		c.SetValue(OptSector, SSize, v)
		c.SetValue(OptData, DSectSize, v)
		c.SetValue(OptLog, LSectSize, v)
		c.SetValue(OptData, DSectLog, highbit(v))
		c.SetValue(OptSector, SLog, highbit(v))
		c.SetValue(OptSector, SSectLog, highbit(v))
		c.SetValue(OptLog, LSectLog, highbit(v))
	}

	return nil
}

func (c *Config) applyMeta(sub int, value string) error {
	if sub == MUUID {
		if value == "" {
			return fmt.Errorf("-m uuid: %w", ErrNeedsValue)
		}

		if _, err := c.ResolveString(OptMeta, MUUID, value); err != nil {
			return err
		}

		id, err := uuid.Parse(value)
		if err != nil {
			return c.illegalValue(OptMeta, MUUID, value, "not a valid UUID")
		}

		c.fsUUID = id
		c.SetValue(OptMeta, MUUID, 1)

		return nil
	}

	_, err := c.ResolveValue(OptMeta, sub, value)

	return err
}

// SetDevice records the positional data device argument.
func (c *Config) SetDevice(name string) error {
	s, err := c.ResolveString(OptData, DName, name)
	if err != nil {
		return err
	}

	c.dataName = s

	return nil
}

// SetLabel records the filesystem label, at most MaxLabelLength bytes.
func (c *Config) SetLabel(label string) error {
	if len(label) > MaxLabelLength {
		return fmt.Errorf("label %q longer than %d bytes: %w", label, MaxLabelLength, ErrIllegalValue)
	}

	c.label = label

	return nil
}

// DataName returns the data device path.
func (c *Config) DataName() string { return c.dataName }

// LogName returns the external log device path, if any.
func (c *Config) LogName() string { return c.logName }

// RtName returns the realtime device path, if any.
func (c *Config) RtName() string { return c.rtName }

// Label returns the filesystem label.
func (c *Config) Label() string { return c.label }

// UUID returns the filesystem UUID, generated unless -m uuid= was given.
func (c *Config) UUID() uuid.UUID { return c.fsUUID }

// sector size explicitness, folding the -d/-l/-s entry points together

func (c *Config) dataSectLogExplicit() bool {
	return c.Seen(OptData, DSectLog) || c.Seen(OptSector, SSectLog)
}

func (c *Config) dataSectSizeExplicit() bool {
	return c.Seen(OptData, DSectSize) || c.Seen(OptSector, SSectSize)
}

func (c *Config) logSectLogExplicit() bool {
	return c.Seen(OptLog, LSectLog) || c.Seen(OptSector, SSectLog)
}

func (c *Config) logSectSizeExplicit() bool {
	return c.Seen(OptLog, LSectSize) || c.Seen(OptSector, SSectSize)
}
