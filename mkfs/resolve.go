// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mkfs

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"

	"github.com/google/uuid"
)

// Resolution errors.
var (
	// ErrSchemaBug marks impossible states in the option table itself
	// rather than bad user input.
	ErrSchemaBug = errors.New("option table inconsistency, this is a bug")

	// ErrRespecified indicates a sub-option given more than once.
	ErrRespecified = errors.New("option respecified")

	// ErrConflict indicates two sub-options which cannot be combined.
	ErrConflict = errors.New("conflicting options")

	// ErrNeedsValue indicates a bare flag for a sub-option which requires
	// an explicit value.
	ErrNeedsValue = errors.New("option requires a value")

	// ErrIllegalValue indicates a value outside the sub-option's domain.
	ErrIllegalValue = errors.New("illegal value")

	// ErrUnknownOption indicates an option or sub-option name outside the
	// table.
	ErrUnknownOption = errors.New("unknown option")
)

// subState is the mutable per-run state of one sub-option.
type subState struct {
	value   Value
	raw     string
	seen    bool
	strSeen bool
}

// Config accumulates resolved options for a single mkfs invocation.
//
// The zero Config is not usable; NewConfig seeds every sub-option with its
// schema default.
type Config struct {
	state [numOpts][]subState

	dataName string
	logName  string
	rtName   string

	label  string
	fsUUID uuid.UUID

	// ASCII case-insensitive naming, from -n version=ci
	nci bool
}

// NewConfig returns a Config with every sub-option at its default value.
func NewConfig() *Config {
	c := &Config{fsUUID: uuid.New()}

	for opt := OptName(0); opt < numOpts; opt++ {
		c.state[opt] = make([]subState, len(schema[opt].subs))

		for sub := range schema[opt].subs {
			c.state[opt][sub].value = schema[opt].subs[sub].def
		}
	}

	return c
}

func (c *Config) sub(opt OptName, sub int) (*subOption, *subState, error) {
	if opt < 0 || opt >= numOpts || sub < 0 || sub >= len(schema[opt].subs) {
		return nil, nil, fmt.Errorf("%w: sub-option index %d out of range for -%c", ErrSchemaBug, sub, schema[opt].name)
	}

	return &schema[opt].subs[sub], &c.state[opt][sub], nil
}

// Value returns the effective numeric value of a sub-option, defaults
// included.
func (c *Config) Value(opt OptName, sub int) uint64 {
	return c.state[opt][sub].value.Uint64()
}

// SetValue overrides a sub-option value without marking it user-supplied.
// Cross-filled twins (size from log and the like) go through here.
func (c *Config) SetValue(opt OptName, sub int, v uint64) {
	c.state[opt][sub].value = UintValue(v)
}

// Seen reports whether the sub-option was given a numeric value on the
// command line.
func (c *Config) Seen(opt OptName, sub int) bool {
	return c.state[opt][sub].seen
}

// StrSeen reports whether the sub-option was given in its string phase.
func (c *Config) StrSeen(opt OptName, sub int) bool {
	return c.state[opt][sub].strSeen
}

// Raw returns the exact user input last recorded for the sub-option.
func (c *Config) Raw(opt OptName, sub int) string {
	return c.state[opt][sub].raw
}

// checkOpt performs respecification tracking and the unconditional conflict
// scan. Numeric and string resolution keep separate seen bits so two-phase
// sub-options (-n version) can legally be touched once by each.
func (c *Config) checkOpt(opt OptName, sub int, strPhase bool) error {
	so, st, err := c.sub(opt, sub)
	if err != nil {
		return err
	}

	if strPhase {
		if st.strSeen {
			return fmt.Errorf("-%c %s: %w", schema[opt].name, so.name, ErrRespecified)
		}

		st.strSeen = true
	} else {
		if st.seen {
			return fmt.Errorf("-%c %s: %w", schema[opt].name, so.name, ErrRespecified)
		}

		st.seen = true
	}

	for _, cf := range so.conflicts {
		if cf.testValues {
			continue
		}

		other := &c.state[cf.opt][cf.sub]
		if other.seen || other.strSeen {
			return c.conflictError(opt, sub, cf)
		}
	}

	return nil
}

// checkValueConflicts runs the value-conditioned conflict rules against a
// freshly parsed value. A rule fires only when the referenced sub-option was
// explicitly supplied with the offending value.
func (c *Config) checkValueConflicts(opt OptName, sub int, v uint64) error {
	so := &schema[opt].subs[sub]

	for _, cf := range so.conflicts {
		if !cf.testValues {
			continue
		}

		other := &c.state[cf.opt][cf.sub]
		if (other.seen || other.strSeen) && other.value.Uint64() == cf.invalid && v == cf.at {
			return c.conflictError(opt, sub, cf)
		}
	}

	return nil
}

func (c *Config) conflictError(opt OptName, sub int, cf conflict) error {
	err := fmt.Errorf("cannot specify both -%c %s and -%c %s: %w",
		schema[cf.opt].name, schema[cf.opt].subs[cf.sub].name,
		schema[opt].name, schema[opt].subs[sub].name,
		ErrConflict)

	if cf.message != "" {
		err = fmt.Errorf("%s %w", cf.message, err)
	}

	return err
}

// ResolveValue validates and records a numeric sub-option.
//
// raw may be empty for flag-style sub-options, in which case the schema flag
// value applies. The returned value is also stored as the sub-option's
// effective value.
func (c *Config) ResolveValue(opt OptName, sub int, raw string) (uint64, error) {
	so, st, err := c.sub(opt, sub)
	if err != nil {
		return 0, err
	}

	if err = c.checkOpt(opt, sub, false); err != nil {
		return 0, err
	}

	st.raw = raw

	if raw == "" {
		if !so.flag.IsValid() {
			return 0, fmt.Errorf("-%c %s: %w", schema[opt].name, so.name, ErrNeedsValue)
		}

		st.value = so.flag

		return so.flag.Uint64(), nil
	}

	if so.minVal == 0 && so.maxVal == 0 {
		return 0, fmt.Errorf("-%c %s has undefined minval/maxval: %w", schema[opt].name, so.name, ErrSchemaBug)
	}

	var v uint64

	if so.convert {
		v, err = ParseSize(c.Value(OptBlock, BSize), c.Value(OptData, DSectSize), raw)
		if err != nil {
			return 0, fmt.Errorf("-%c %s: %w", schema[opt].name, so.name, err)
		}
	} else {
		v, err = strconv.ParseUint(raw, 0, 64)
		if err != nil {
			return 0, c.illegalValue(opt, sub, raw, "not a valid number")
		}
	}

	if err = c.checkValueConflicts(opt, sub, v); err != nil {
		return 0, err
	}

	if v < so.minVal {
		return 0, c.illegalValue(opt, sub, raw, "value is too small")
	}

	if v > so.maxVal {
		return 0, c.illegalValue(opt, sub, raw, "value is too large")
	}

	if so.isPow2 && bits.OnesCount64(v) != 1 {
		return 0, c.illegalValue(opt, sub, raw, "value must be a power of 2")
	}

	st.value = UintValue(v)

	return v, nil
}

// ResolveString validates and records a string sub-option. Whether the value
// gets a numeric marker alongside is up to the caller, matching the split
// between the string and numeric phases.
func (c *Config) ResolveString(opt OptName, sub int, raw string) (string, error) {
	so, st, err := c.sub(opt, sub)
	if err != nil {
		return "", err
	}

	if err = c.checkOpt(opt, sub, true); err != nil {
		return "", err
	}

	if raw == "" {
		return "", fmt.Errorf("-%c %s: %w", schema[opt].name, so.name, ErrNeedsValue)
	}

	st.raw = raw

	return raw, nil
}

func (c *Config) illegalValue(opt OptName, sub int, raw, why string) error {
	return fmt.Errorf("value %q for -%c %s: %s: %w",
		raw, schema[opt].name, schema[opt].subs[sub].name, why, ErrIllegalValue)
}
