package main

import (
	"context"
	"fmt"
	"os"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/extdj/dj/pkg/actions"
	"github.com/extdj/dj/pkg/engine"
)

var (
	flagMD5      bool
	flagCat      bool
	flagInfo     bool
	flagCatInfo  bool
	flagCRC      bool
	flagList     bool
	flagDirect   bool
	flagProfile  bool
	flagMaxInodes int
	flagMaxBlocks int
	flagCoalesce  int
)

var rootCmd = &cobra.Command{
	Use:           "dj DEVICE DIRECTORY",
	Short:         "Traverse an ext2/3/4 image in physical-disk order and stream its files to an action",
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDJ,
}

func addRunFlags() {
	f := rootCmd.Flags()
	f.BoolVar(&flagMD5, "md5", false, "print an md5 digest per file")
	f.BoolVar(&flagCat, "cat", false, "write every file's content to stdout")
	f.BoolVar(&flagInfo, "info", false, "print a path/size table")
	f.BoolVar(&flagCatInfo, "cat-info", false, "print a path/size/md5 table")
	f.BoolVar(&flagCRC, "crc", false, "reserved, not implemented")
	f.BoolVar(&flagList, "list", false, "print every reachable file's path")
	f.BoolVar(&flagDirect, "direct", false, "use O_DIRECT reads")
	f.BoolVar(&flagProfile, "profile", false, "report progress and a seek-cost summary")
	f.IntVarP(&flagMaxInodes, "max-inodes", "i", 0, "maximum simultaneously open inodes (0 = default)")
	f.IntVarP(&flagMaxBlocks, "max-blocks", "b", 0, "queued-block budget across all open inodes, carried for parity with the original implementation (0 = default); its admission check is disabled there and here")
	f.IntVarP(&flagCoalesce, "coalesce-distance", "c", 0, "largest physical gap, in blocks, that two block runs may straddle and still share one stripe read (default 1; an explicit 0 allows adjacent runs only)")
}

func selectAction() (actions.Action, error) {
	set := 0
	for _, b := range []bool{flagMD5, flagCat, flagInfo, flagCatInfo, flagCRC, flagList} {
		if b {
			set++
		}
	}
	if set > 1 {
		return nil, errors.New("only one of --md5, --cat, --info, --cat-info, --crc, --list may be given")
	}

	switch {
	case flagMD5:
		return &actions.MD5Sum{}, nil
	case flagCat:
		return actions.NewCat(os.Stdout), nil
	case flagInfo:
		return actions.NewInfo(false, nil), nil
	case flagCatInfo:
		return actions.NewInfo(true, os.Stdout), nil
	case flagCRC:
		return nil, errors.New("CRC action is reserved")
	case flagList:
		return actions.NewList(os.Stdout), nil
	default:
		return actions.NewList(os.Stdout), nil
	}
}

func runDJ(cmd *cobra.Command, args []string) error {
	device, target := args[0], args[1]

	action, err := selectAction()
	if err != nil {
		return err
	}

	fs, err := engine.NewExtfsFileSystem(device)
	if err != nil {
		return err
	}
	defer fs.Close()

	cfg := engine.Config{
		Direct:  flagDirect,
		Profile: flagProfile,
		Logger:  log,
	}
	if flagMaxInodes > 0 {
		cfg.MaxInodes = flagMaxInodes
	}
	if flagMaxBlocks > 0 {
		cfg.MaxBlocks = flagMaxBlocks
	}
	// -c/--coalesce-distance 0 is a legal, meaningful value (adjacent-only
	// striping), so "was it given at all" has to come from Changed, not
	// from comparing against the flag's zero value.
	if cmd.Flags().Changed("coalesce-distance") {
		if flagCoalesce < 0 {
			return errors.New("coalesce-distance must be >= 0")
		}
		cfg.CoalesceDistance = engine.Uint64Ptr(uint64(flagCoalesce))
	}

	if flagProfile && log != nil {
		cfg.Progress = log.NewProgress("scanning", "blocks", 0)
	}

	stats, err := engine.Run(context.Background(), fs, device, target, action.Callback, cfg)
	if err != nil {
		return err
	}

	if err := action.Finish(os.Stdout); err != nil {
		return err
	}

	if flagProfile {
		seekPct := 0.0
		if stats.BlocksRead > 0 {
			seekPct = float64(stats.StripesRead) / float64(stats.BlocksRead) * 100
		}
		fmt.Fprintf(os.Stderr, "inodes=%d blocks=%d stripes=%d bytes=%s seek%%=%.1f run=%s\n",
			stats.InodesSeen, stats.BlocksRead, stats.StripesRead,
			bytefmt.ByteSize(stats.BytesDelivered), seekPct, runID)
	}

	return nil
}
