package cli

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"os"

	"github.com/cloudfoundry/bytefmt"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vorteil/ext2srv/pkg/ext2"
	"github.com/vorteil/ext2srv/pkg/server"
	"github.com/vorteil/ext2srv/pkg/shell"
	"github.com/vorteil/ext2srv/pkg/vdisk"
	"github.com/vorteil/ext2srv/pkg/vfs"
)

const configFileName = ".ext2srv"

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagConfig, "config", "", "path to a config file (defaults to ~/.ext2srv.yaml)")
	cmd.Flags().StringVar(&flagDisk, "disk", "disk.img", "path to the backing file")
	cmd.Flags().StringVar(&flagSize, "size", "64M", "size of the backing file if it needs to be created")
	cmd.Flags().StringVar(&flagPort, "port", server.DefaultPort, "TCP port to listen on")
	cmd.Flags().StringVar(&flagUserlist, "userlist", "userlist.txt", "path to the user list file")
	cmd.Flags().IntVar(&flagCacheSlots, "cache-entries", 8, "number of blocks held by the page cache")
	cmd.Flags().StringVar(&flagVolumeLabel, "label", "ext2srv", "volume label stamped into the superblock when formatting")
	cmd.Flags().BoolVar(&flagForce, "force-format", false, "format the backing file even if it holds a valid file-system")
}

// initConfig loads settings from a config file through viper. Flags set
// explicitly on the command line override file values.
func initConfig(cmd *cobra.Command) {

	if flagConfig != "" {
		viper.SetConfigFile(flagConfig)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(configFileName)
	}

	if err := viper.ReadInConfig(); err != nil {
		log.Debugf("%s", err.Error())
		log.Debugf("using default configuration")
		return
	}

	log.Debugf("using config file: %s", viper.ConfigFileUsed())

	apply := func(flag string, target *string) {
		if !cmd.Flags().Changed(flag) && viper.IsSet(flag) {
			*target = viper.GetString(flag)
		}
	}

	apply("disk", &flagDisk)
	apply("size", &flagSize)
	apply("port", &flagPort)
	apply("userlist", &flagUserlist)
	apply("label", &flagVolumeLabel)

	if !cmd.Flags().Changed("cache-entries") && viper.IsSet("cache-entries") {
		flagCacheSlots = viper.GetInt("cache-entries")
	}

}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the file-system image over TCP.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {

		initConfig(cmd)

		size, err := bytefmt.ToBytes(flagSize)
		if err != nil {
			log.Errorf("couldn't parse value of --size: %v", err)
			os.Exit(1)
		}

		disk, err := vdisk.Open(flagDisk, int64(size))
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

		cache := vdisk.NewCache(disk, flagCacheSlots)
		defer cache.Close()

		fs, err := ext2.New(&ext2.Args{
			Cache:       cache,
			Logger:      log,
			VolumeLabel: flagVolumeLabel,
			ForceFormat: flagForce,
		})
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

		users, err := shell.LoadUsers(flagUserlist)
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

		srv := server.New(vfs.New(fs), users, log)

		err = srv.Serve(":" + flagPort)
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

	},
}
