package cli

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudfoundry/bytefmt"
	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"

	"github.com/vorteil/ext2srv/pkg/ext2"
	"github.com/vorteil/ext2srv/pkg/vdisk"
)

// inspectCmd summarizes the metadata of an existing image without modifying
// it.
var inspectCmd = &cobra.Command{
	Use:   "inspect IMAGE",
	Short: "Summarize the information in a file-system image's metadata.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {

		fi, err := os.Stat(args[0])
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

		disk, err := vdisk.Open(args[0], fi.Size())
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

		cache := vdisk.NewCache(disk, 64)
		defer cache.Close()

		fs, err := ext2.Mount(cache, log)
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

		sb := fs.Superblock()

		log.Printf("Type:             \text2")
		log.Printf("Volume name:      \t%s", strings.TrimRight(string(sb.VolumeName[:]), "\x00"))
		log.Printf("Block size:       \t%s", bytefmt.ByteSize(uint64(1024)<<sb.BlockSize))
		log.Printf("Blocks allocated: \t%d / %d", sb.TotalBlocks-sb.UnallocatedBlocks, sb.TotalBlocks)
		log.Printf("Inodes allocated: \t%d / %d", sb.TotalInodes-sb.UnallocatedInodes, sb.TotalInodes)
		log.Printf("Block groups:     \t%d", fs.Layout().Groups)
		log.Printf("  Max blocks each:\t%d", sb.BlocksPerGroup)
		log.Printf("  Max inodes each:\t%d", sb.InodesPerGroup)
		log.Printf("Last mount time:  \t%s", time.Unix(int64(sb.LastMountTime), 0))
		log.Printf("Last written time:\t%s", time.Unix(int64(sb.LastWrittenTime), 0))

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"GROUP", "FREE BLOCKS", "FREE INODES", "DIRS"})
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		table.SetColumnSeparator("")

		for g, desc := range fs.GroupDescriptors() {
			table.Append([]string{
				strconv.Itoa(g),
				strconv.Itoa(int(desc.UnallocatedBlocks)),
				strconv.Itoa(int(desc.UnallocatedInodes)),
				strconv.Itoa(int(desc.Directories)),
			})
		}

		table.Render()

	},
}
