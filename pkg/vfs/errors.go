package vfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"github.com/pkg/errors"

	"github.com/vorteil/ext2srv/pkg/ext2"
)

// Error kinds surfaced at the VFS boundary. Callers match these with
// errors.Cause to decide how to render a failure.
var (
	ErrNotFound          = errors.New("no such file or directory")
	ErrExists            = errors.New("file exists")
	ErrNotDirectory      = errors.New("not a directory")
	ErrIsDirectory       = errors.New("is a directory")
	ErrNotEmpty          = errors.New("directory not empty")
	ErrInvalid           = errors.New("invalid argument")
	ErrBadFileDescriptor = errors.New("bad file descriptor")
	ErrNameTooLong       = errors.New("file name too long")
	ErrIsRoot            = errors.New("operation not permitted on the root directory")

	// ErrNoSpace propagates the engine's allocator exhaustion.
	ErrNoSpace = ext2.ErrNoSpace
)
