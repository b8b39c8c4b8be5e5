package vdisk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"os"

	"github.com/pkg/errors"
)

// BlockSize is the fixed size of every block on a Disk. The file-system
// layered on top of this package assumes 1 KiB blocks throughout.
const BlockSize = 1024

// syncWriteInterval bounds how many block writes can occur between durability
// hints to the operating system.
const syncWriteInterval = 4096

// Disk is a fixed-size random-access store of BlockSize blocks backed by a
// file on the host file-system.
type Disk struct {
	f      *os.File
	blocks int64
	writes int
}

// Open opens the backing file at path, creating it and zero-extending it to
// size bytes if it does not already exist. An existing file smaller than size
// is extended; an existing larger file keeps its length and the extra space
// is ignored.
func Open(path string, size int64) (*Disk, error) {

	if size < BlockSize {
		return nil, errors.Errorf("disk size %d is smaller than a single block", size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open backing file '%s'", path)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "failed to stat backing file '%s'", path)
	}

	if fi.Size() < size {
		err = f.Truncate(size)
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(err, "failed to extend backing file '%s'", path)
		}
	}

	return &Disk{
		f:      f,
		blocks: size / BlockSize,
	}, nil

}

// Blocks returns the total number of blocks on the disk.
func (d *Disk) Blocks() int64 {
	return d.blocks
}

// ReadBlock copies block n into buf. The buffer must be at least BlockSize
// bytes long.
func (d *Disk) ReadBlock(n int64, buf []byte) error {

	if n < 0 || n >= d.blocks {
		return errors.Errorf("block %d out of range (disk has %d blocks)", n, d.blocks)
	}

	_, err := d.f.ReadAt(buf[:BlockSize], n*BlockSize)
	if err != nil {
		return errors.Wrapf(err, "failed to read block %d", n)
	}

	return nil

}

// WriteBlock copies buf over block n. The buffer must be at least BlockSize
// bytes long.
func (d *Disk) WriteBlock(n int64, buf []byte) error {

	if n < 0 || n >= d.blocks {
		return errors.Errorf("block %d out of range (disk has %d blocks)", n, d.blocks)
	}

	_, err := d.f.WriteAt(buf[:BlockSize], n*BlockSize)
	if err != nil {
		return errors.Wrapf(err, "failed to write block %d", n)
	}

	d.writes++
	if d.writes >= syncWriteInterval {
		d.writes = 0
		err = d.f.Sync()
		if err != nil {
			return errors.Wrap(err, "failed to sync backing file")
		}
	}

	return nil

}

// Sync flushes all written blocks through to persistent storage.
func (d *Disk) Sync() error {
	d.writes = 0
	return errors.Wrap(d.f.Sync(), "failed to sync backing file")
}

// Close syncs and closes the backing file.
func (d *Disk) Close() error {

	err := d.Sync()
	if err != nil {
		_ = d.f.Close()
		return err
	}

	return errors.Wrap(d.f.Close(), "failed to close backing file")

}
