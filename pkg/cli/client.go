package cli

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vorteil/ext2srv/pkg/server"
)

var clientCmd = &cobra.Command{
	Use:   "client ADDRESS",
	Short: "Connect to a running server and run commands interactively.",
	Long: `Client connects to a running server and pumps command lines from
standard input, printing each reply. Log in first:

    login <user> <password>`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {

		client, err := server.Dial(args[0])
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
		defer client.Close()

		err = client.Run(os.Stdin, os.Stdout)
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

	},
}
