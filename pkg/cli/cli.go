package cli

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vorteil/ext2srv/pkg/elog"
)

var log elog.View

var (
	flagJSON    bool
	flagVerbose bool
	flagDebug   bool

	flagConfig      string
	flagDisk        string
	flagSize        string
	flagPort        string
	flagUserlist    string
	flagCacheSlots  int
	flagVolumeLabel string
	flagForce       bool
)

// RootCommand is the top of the ext2srv command tree.
var RootCommand = &cobra.Command{
	Use:   "ext2srv",
	Short: "Serve an ext2 file-system image over a line-oriented TCP shell",
	Long: `ext2srv keeps a complete ext2-compatible file-system inside a single
backing file and exposes POSIX-shaped operations on it through a small
command shell spoken over TCP.`,
}

// InitializeCommands wires flags and logging into the command tree. It must
// be called exactly once before RootCommand.Execute.
func InitializeCommands() {

	RootCommand.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	RootCommand.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	RootCommand.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "enable json output")

	RootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {

		logger := &elog.CLI{}

		if flagJSON {
			logger.DisableTTY = true
			logrus.SetFormatter(&logrus.JSONFormatter{})
		} else {
			logrus.SetFormatter(logger)
		}

		logrus.SetLevel(logrus.TraceLevel)

		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}

		log = logger

		return nil
	}

	addServeFlags(serveCmd)
	formatCmd.Flags().StringVar(&flagSize, "size", "64M", "size of the backing file")
	formatCmd.Flags().StringVar(&flagVolumeLabel, "label", "ext2srv", "volume label stamped into the superblock")

	RootCommand.AddCommand(serveCmd)
	RootCommand.AddCommand(formatCmd)
	RootCommand.AddCommand(inspectCmd)
	RootCommand.AddCommand(clientCmd)

}
