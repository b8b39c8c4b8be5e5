package ext2

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"

	"github.com/pkg/errors"
)

// Entries returns every live entry in a directory inode, in storage order.
// Duplicate '.' and '..' records appearing beyond the first block (written by
// older tools that re-initialized appended directory blocks) are suppressed.
func (fs *Filesystem) Entries(ino uint32) ([]Dirent, error) {

	blocks, err := fs.InodeBlocks(ino)
	if err != nil {
		return nil, err
	}

	var entries []Dirent
	buf := make([]byte, BlockSize)

	for i, block := range blocks {

		err = fs.cache.ReadBlock(int64(block), buf)
		if err != nil {
			return nil, err
		}

		for _, e := range direntBlockEntries(buf) {
			if i > 0 && (e.Name == "." || e.Name == "..") {
				continue
			}
			entries = append(entries, e)
		}

	}

	return entries, nil

}

// AddEntry inserts a new entry into the directory, growing it by one data
// block if every existing block is too full.
func (fs *Filesystem) AddEntry(ino uint32, e Dirent) error {

	if len(e.Name) > MaxNameLength {
		return errors.Errorf("name '%s' exceeds %d bytes", e.Name, MaxNameLength)
	}

	blocks, err := fs.InodeBlocks(ino)
	if err != nil {
		return err
	}

	buf := make([]byte, BlockSize)

	for _, block := range blocks {

		err = fs.cache.ReadBlock(int64(block), buf)
		if err != nil {
			return err
		}

		if insertDirent(buf, e) {
			return fs.cache.WriteBlock(int64(block), buf)
		}

	}

	block, err := fs.AddBlock(ino)
	if err != nil {
		return err
	}

	initEmptyDirentBlock(buf)
	if !insertDirent(buf, e) {
		panic(fmt.Sprintf("cannot insert entry '%s' into an empty directory block", e.Name))
	}

	err = fs.cache.WriteBlock(int64(block), buf)
	if err != nil {
		return err
	}

	inode, err := fs.ReadInode(ino)
	if err != nil {
		return err
	}
	inode.SizeLower += BlockSize
	return fs.WriteInode(ino, inode)

}

// RemoveEntry deletes the directory entry referring to target. The caller
// guarantees the entry is neither '.' nor '..'.
func (fs *Filesystem) RemoveEntry(ino uint32, target uint32) error {

	blocks, err := fs.InodeBlocks(ino)
	if err != nil {
		return err
	}

	buf := make([]byte, BlockSize)

	for _, block := range blocks {

		err = fs.cache.ReadBlock(int64(block), buf)
		if err != nil {
			return err
		}

		if removeDirent(buf, target) {
			return fs.cache.WriteBlock(int64(block), buf)
		}

	}

	panic(fmt.Sprintf("directory inode %d has no entry for inode %d", ino, target))

}

// RewriteEntry points the entry with the given name inside a single directory
// data block at a different inode.
func (fs *Filesystem) RewriteEntry(block uint32, name string, target uint32) error {

	buf := make([]byte, BlockSize)
	err := fs.cache.ReadBlock(int64(block), buf)
	if err != nil {
		return err
	}

	for offset := 0; offset < len(buf); {
		hdr := readDirentHeader(buf, offset)
		if hdr.inode != 0 && string(buf[offset+direntHeaderSize:offset+direntHeaderSize+hdr.nameLen]) == name {
			writeDirent(buf, offset, Dirent{Inode: target, Type: hdr.ftype, Name: name}, hdr.recLen)
			return fs.cache.WriteBlock(int64(block), buf)
		}
		offset += hdr.recLen
	}

	return errors.Errorf("directory block %d has no entry named '%s'", block, name)

}

// CreateDirectory allocates a new directory inode with its first data block
// initialized to '.' and '..'. The caller is responsible for inserting the
// entry into the parent and bumping the parent's link count.
func (fs *Filesystem) CreateDirectory(parent uint32) (uint32, error) {

	ino, err := fs.Ialloc()
	if err != nil {
		return 0, err
	}

	g, _ := fs.layout.InodeGroup(int64(ino))

	blocks, err := fs.Balloc(g, 1)
	if err != nil {
		ifreeErr := fs.Ifree(ino)
		if ifreeErr != nil {
			return 0, ifreeErr
		}
		return 0, err
	}

	inode := fs.InitInode(DefaultDirPermissions, 0, 0)
	inode.SizeLower = BlockSize
	inode.Sectors = BlockSize / SectorSize
	inode.DirectPointer[0] = blocks[0]

	err = fs.WriteInode(ino, inode)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, BlockSize)
	initDirentBlock(buf, ino, parent)
	err = fs.cache.WriteBlock(int64(blocks[0]), buf)
	if err != nil {
		return 0, err
	}

	fs.bgdt[g].Directories++
	err = fs.writeAccounting()
	if err != nil {
		return 0, err
	}

	return ino, nil

}
