package main

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"os"

	"github.com/vorteil/ext2srv/pkg/cli"
)

func main() {

	cli.InitializeCommands()

	err := cli.RootCommand.Execute()
	if err != nil {
		os.Exit(1)
	}

}
