// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Command mkfsxfs resolves mkfs options into a complete XFS geometry,
// prints it, and prepares the target devices for the on-disk writer.
package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xfskit/go-mkfs/block"
	"github.com/xfskit/go-mkfs/mkfs"
	"github.com/xfskit/go-mkfs/writer"
)

const version = "1.0.0"

var cmdFlags struct {
	Block    []string
	Data     []string
	Inode    []string
	Log      []string
	Metadata []string
	Naming   []string
	Realtime []string
	Sector   []string

	Label        string
	ProtoFile    string
	DefaultsFile string

	Force      bool
	ForceAlias bool
	NoDiscard  bool
	DryRun     bool
	Quiet      bool
}

// option flags in the order they are applied, matching the option table.
var optionOrder = []struct {
	opt    mkfs.OptName
	values *[]string
}{
	{mkfs.OptBlock, &cmdFlags.Block},
	{mkfs.OptData, &cmdFlags.Data},
	{mkfs.OptInode, &cmdFlags.Inode},
	{mkfs.OptLog, &cmdFlags.Log},
	{mkfs.OptNaming, &cmdFlags.Naming},
	{mkfs.OptRealtime, &cmdFlags.Realtime},
	{mkfs.OptSector, &cmdFlags.Sector},
	{mkfs.OptMeta, &cmdFlags.Metadata},
}

var rootCmd = &cobra.Command{
	Use:     "mkfsxfs [options] device",
	Short:   "derive and lay out an XFS filesystem geometry",
	Args:    cobra.MaximumNArgs(1),
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args)
	},
}

func subOptUsage(what string, opt mkfs.OptName) string {
	return fmt.Sprintf("%s sub-options: %s", what, strings.Join(mkfs.SubOptionNames(opt), ","))
}

func init() {
	flags := rootCmd.Flags()

	flags.StringArrayVarP(&cmdFlags.Block, "block", "b", nil, subOptUsage("block size", mkfs.OptBlock))
	flags.StringArrayVarP(&cmdFlags.Data, "data", "d", nil, subOptUsage("data section", mkfs.OptData))
	flags.StringArrayVarP(&cmdFlags.Inode, "inode", "i", nil, subOptUsage("inode", mkfs.OptInode))
	flags.StringArrayVarP(&cmdFlags.Log, "log", "l", nil, subOptUsage("log section", mkfs.OptLog))
	flags.StringArrayVarP(&cmdFlags.Metadata, "metadata", "m", nil, subOptUsage("metadata", mkfs.OptMeta))
	flags.StringArrayVarP(&cmdFlags.Naming, "naming", "n", nil, subOptUsage("naming", mkfs.OptNaming))
	flags.StringArrayVarP(&cmdFlags.Realtime, "realtime", "r", nil, subOptUsage("realtime section", mkfs.OptRealtime))
	flags.StringArrayVarP(&cmdFlags.Sector, "sector", "s", nil, subOptUsage("sector size", mkfs.OptSector))

	flags.StringVarP(&cmdFlags.Label, "label", "L", "", "filesystem label, at most 12 characters")
	flags.StringVarP(&cmdFlags.ProtoFile, "proto", "p", "", "protofile describing the initial contents")
	flags.StringVar(&cmdFlags.DefaultsFile, "defaults", "", "file with site default sub-options, applied before the command line")

	flags.BoolVarP(&cmdFlags.Force, "force", "f", false, "overwrite existing filesystem or partition table signatures")
	flags.BoolVarP(&cmdFlags.ForceAlias, "force-overwrite", "C", false, "historic alias for -f")
	flags.MarkHidden("force-overwrite") //nolint:errcheck
	flags.BoolVarP(&cmdFlags.NoDiscard, "no-discard", "K", false, "do not discard the device contents")
	flags.BoolVarP(&cmdFlags.DryRun, "no-write", "N", false, "print the derived geometry without touching the devices")
	flags.BoolVarP(&cmdFlags.Quiet, "quiet", "q", false, "suppress the geometry summary")

	flags.BoolP("version", "V", false, "print the version number")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg := mkfs.NewConfig()

	if cmdFlags.DefaultsFile != "" {
		if err := applyDefaultsFile(cfg, cmdFlags.DefaultsFile); err != nil {
			return err
		}
	}

	for _, group := range optionOrder {
		for _, arg := range *group.values {
			if err := cfg.ApplyOption(group.opt.Letter(), arg); err != nil {
				return err
			}
		}
	}

	if cmdFlags.Label != "" {
		if err := cfg.SetLabel(cmdFlags.Label); err != nil {
			return err
		}
	}

	if len(args) > 0 {
		if err := cfg.SetDevice(args[0]); err != nil {
			return err
		}
	}

	if cfg.DataName() == "" {
		return errors.New("no device name given in argument list")
	}

	var proto *writer.Proto

	if cmdFlags.ProtoFile != "" {
		var err error

		if proto, err = writer.LoadProto(cmdFlags.ProtoFile); err != nil {
			return err
		}
	}

	logger := zap.Must(zap.NewDevelopment())
	defer logger.Sync() //nolint:errcheck

	devices, top, err := openDevices(cfg)
	if err != nil {
		return err
	}

	defer devices.close()

	geometry, err := mkfs.Derive(cfg, top, mkfs.WithLogger(logger))
	if err != nil {
		return err
	}

	if cmdFlags.DryRun {
		fmt.Print(geometry.Describe())

		return nil
	}

	if !cmdFlags.Quiet {
		fmt.Print(geometry.Describe())
	}

	target := writer.Target{
		Geometry: geometry,
		Data:     devices.data,
		Log:      devices.log,
		Rt:       devices.rt,
		Proto:    proto,
	}

	return target.Prepare(writer.WithDiscard(!cmdFlags.NoDiscard), writer.WithLogger(logger))
}

// applyDefaultsFile feeds a site defaults file through the option resolver
// as if its entries preceded the command line. Keys are section.suboption
// pairs, e.g. "metadata.crc" or "data.agcount".
func applyDefaultsFile(cfg *mkfs.Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading defaults file: %w", err)
	}

	sections := map[string]mkfs.OptName{
		"block":    mkfs.OptBlock,
		"data":     mkfs.OptData,
		"inode":    mkfs.OptInode,
		"log":      mkfs.OptLog,
		"metadata": mkfs.OptMeta,
		"naming":   mkfs.OptNaming,
		"realtime": mkfs.OptRealtime,
		"sector":   mkfs.OptSector,
	}

	keys := v.AllKeys()
	sort.Strings(keys)

	for _, key := range keys {
		section, sub, ok := strings.Cut(key, ".")
		if !ok {
			return fmt.Errorf("defaults file entry %q is not a section.suboption pair", key)
		}

		opt, ok := sections[section]
		if !ok {
			return fmt.Errorf("defaults file entry %q: unknown section %q", key, section)
		}

		if err := cfg.ApplyOption(opt.Letter(), sub+"="+v.GetString(key)); err != nil {
			return fmt.Errorf("defaults file entry %q: %w", key, err)
		}
	}

	return nil
}

type deviceSet struct {
	data *block.Device
	log  *block.Device
	rt   *block.Device
}

func (s *deviceSet) close() {
	for _, d := range []*block.Device{s.data, s.log, s.rt} {
		if d != nil {
			d.Close() //nolint:errcheck
		}
	}
}

//nolint:gocyclo
func openDevices(cfg *mkfs.Config) (*deviceSet, mkfs.Topology, error) {
	var (
		devices deviceSet
		top     mkfs.Topology
		err     error
	)

	isFile := cfg.Value(mkfs.OptData, mkfs.DFile) != 0

	if isFile && cfg.Value(mkfs.OptData, mkfs.DSize) == 0 {
		return nil, top, errors.New("if -d file then size is required")
	}

	devices.data, err = openSubvol(cfg.DataName(), isFile, cfg.Value(mkfs.OptData, mkfs.DSize))
	if err != nil {
		return nil, top, err
	}

	top.DataIsFile = !devices.data.IsBlockDevice()
	top.LogicalSectorSize, top.PhysicalSectorSize = devices.data.SectorSizes()
	top.DataSUnit, top.DataSWidth = devices.data.StripeGeometry()

	if top.DataSize, err = deviceBlocks(devices.data); err != nil {
		devices.close()

		return nil, top, err
	}

	if cfg.LogName() != "" {
		logIsFile := cfg.Value(mkfs.OptLog, mkfs.LFile) != 0

		devices.log, err = openSubvol(cfg.LogName(), logIsFile, cfg.Value(mkfs.OptLog, mkfs.LSize))
		if err != nil {
			devices.close()

			return nil, top, err
		}

		top.LogIsFile = !devices.log.IsBlockDevice()

		if top.LogSize, err = deviceBlocks(devices.log); err != nil {
			devices.close()

			return nil, top, err
		}
	}

	if cfg.RtName() != "" {
		rtIsFile := cfg.Value(mkfs.OptRealtime, mkfs.RFile) != 0

		devices.rt, err = openSubvol(cfg.RtName(), rtIsFile, cfg.Value(mkfs.OptRealtime, mkfs.RSize))
		if err != nil {
			devices.close()

			return nil, top, err
		}

		top.RtIsFile = !devices.rt.IsBlockDevice()
		_, top.RtSWidth = devices.rt.StripeGeometry()

		if top.RtSize, err = deviceBlocks(devices.rt); err != nil {
			devices.close()

			return nil, top, err
		}
	}

	return &devices, top, nil
}

func openSubvol(name string, isFile bool, createSize uint64) (*block.Device, error) {
	var (
		dev *block.Device
		err error
	)

	if isFile {
		dev, err = block.Create(name, createSize)
	} else {
		dev, err = block.Open(name)
	}

	if err != nil {
		return nil, err
	}

	if ro, roErr := dev.IsReadOnly(); roErr == nil && ro {
		dev.Close() //nolint:errcheck

		return nil, fmt.Errorf("%s is write-protected, cannot write to it", name)
	}

	if !cmdFlags.Force && !cmdFlags.ForceAlias {
		signature, sigErr := dev.Signature()
		if sigErr != nil {
			dev.Close() //nolint:errcheck

			return nil, sigErr
		}

		if signature != nil {
			dev.Close() //nolint:errcheck

			return nil, fmt.Errorf("%s appears to contain an existing filesystem or partition table (%s); use the -f option to force overwrite", name, *signature)
		}
	}

	return dev, nil
}

func deviceBlocks(d *block.Device) (uint64, error) {
	size, err := d.Size()
	if err != nil {
		return 0, err
	}

	return size >> 9, nil
}
