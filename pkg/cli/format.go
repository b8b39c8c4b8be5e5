package cli

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"os"

	"github.com/cloudfoundry/bytefmt"
	"github.com/spf13/cobra"

	"github.com/vorteil/ext2srv/pkg/ext2"
	"github.com/vorteil/ext2srv/pkg/vdisk"
)

var formatCmd = &cobra.Command{
	Use:   "format IMAGE",
	Short: "Write a fresh file-system onto a backing file.",
	Long: `Format creates the backing file if necessary and writes a complete
file-system onto it: boot block, redundant superblock and group descriptor
copies, bitmaps, inode tables, and an empty root directory. Anything
previously on the image is lost.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {

		size, err := bytefmt.ToBytes(flagSize)
		if err != nil {
			log.Errorf("couldn't parse value of --size: %v", err)
			os.Exit(1)
		}

		disk, err := vdisk.Open(args[0], int64(size))
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

		cache := vdisk.NewCache(disk, 64)
		defer cache.Close()

		_, err = ext2.New(&ext2.Args{
			Cache:       cache,
			Logger:      log,
			VolumeLabel: flagVolumeLabel,
			ForceFormat: true,
		})
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

		log.Printf("formatted %s", args[0])

	},
}
