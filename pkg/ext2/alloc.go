package ext2

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"

	"github.com/vorteil/ext2srv/pkg/vdisk"
)

// Ialloc finds a free inode, marks it used, and returns its number. Reserved
// inode numbers below FirstFreeInode are never handed out.
func (fs *Filesystem) Ialloc() (uint32, error) {

	for g := int64(0); g < fs.layout.Groups; g++ {

		bm, buf, err := fs.inodeBitmap(g)
		if err != nil {
			return 0, err
		}

		from := 0
		for {

			i := bm.Next(from, false)
			if i == vdisk.NoBit {
				break
			}

			ino := uint32(g*fs.layout.InodesPerGroup + int64(i) + 1)
			if ino < FirstFreeInode {
				from = i + 1
				continue
			}

			bm.Set(i)
			err = fs.writeInodeBitmap(g, buf)
			if err != nil {
				return 0, err
			}

			fs.super.UnallocatedInodes--
			fs.bgdt[g].UnallocatedInodes--
			err = fs.writeAccounting()
			if err != nil {
				return 0, err
			}

			return ino, nil

		}

	}

	return 0, ErrNoSpace

}

// Ifree releases an inode and every block reachable through its pointer tree,
// including the indirect pointer blocks themselves. Freeing a reserved inode
// is a no-op.
func (fs *Filesystem) Ifree(ino uint32) error {

	if ino < FirstFreeInode {
		return nil
	}

	inode, err := fs.ReadInode(ino)
	if err != nil {
		return err
	}

	data, meta, err := fs.inodeBlockTree(inode)
	if err != nil {
		return err
	}

	for _, b := range data {
		err = fs.Bfree(b)
		if err != nil {
			return err
		}
	}
	for _, b := range meta {
		err = fs.Bfree(b)
		if err != nil {
			return err
		}
	}

	g, index := fs.layout.InodeGroup(int64(ino))

	bm, buf, err := fs.inodeBitmap(g)
	if err != nil {
		return err
	}

	bm.Reset(int(index))
	err = fs.writeInodeBitmap(g, buf)
	if err != nil {
		return err
	}

	fs.super.UnallocatedInodes++
	fs.bgdt[g].UnallocatedInodes++
	if InodeIsDirectory(inode) {
		fs.bgdt[g].Directories--
	}

	return fs.writeAccounting()

}

// Balloc allocates n blocks, preferring the given group but walking all
// groups cyclically until the request is satisfied. The returned indices are
// absolute block numbers. If the device cannot satisfy the request the
// partial allocation is rolled back and ErrNoSpace is returned.
func (fs *Filesystem) Balloc(preferredGroup int64, n int) ([]uint32, error) {

	var allocated []uint32

	for k := int64(0); k < fs.layout.Groups && len(allocated) < n; k++ {

		g := (preferredGroup + k) % fs.layout.Groups

		bm, buf, err := fs.blockBitmap(g)
		if err != nil {
			return nil, err
		}

		changed := false
		from := 0
		for len(allocated) < n {

			i := bm.Next(from, false)
			if i == vdisk.NoBit {
				break
			}

			bm.Set(i)
			changed = true
			from = i + 1
			allocated = append(allocated, uint32(fs.layout.GroupFirstBlock(g)+int64(i)))
			fs.super.UnallocatedBlocks--
			fs.bgdt[g].UnallocatedBlocks--

		}

		if changed {
			err = fs.writeBlockBitmap(g, buf)
			if err != nil {
				return nil, err
			}
		}

	}

	if len(allocated) < n {
		for _, b := range allocated {
			err := fs.Bfree(b)
			if err != nil {
				return nil, err
			}
		}
		return nil, ErrNoSpace
	}

	err := fs.writeAccounting()
	if err != nil {
		return nil, err
	}

	return allocated, nil

}

// ballocOne allocates a single zero-filled block.
func (fs *Filesystem) ballocOne(preferredGroup int64) (uint32, error) {

	blocks, err := fs.Balloc(preferredGroup, 1)
	if err != nil {
		return 0, err
	}

	zero := make([]byte, BlockSize)
	err = fs.cache.WriteBlock(int64(blocks[0]), zero)
	if err != nil {
		return 0, err
	}

	return blocks[0], nil

}

// Bfree releases a single block. Freeing block 0 is a no-op so that pointer
// walks can pass unassigned slots through without checking.
func (fs *Filesystem) Bfree(block uint32) error {

	if block == 0 {
		return nil
	}

	g, offset := fs.layout.BlockGroup(int64(block))

	if g >= fs.layout.Groups {
		panic(fmt.Sprintf("freeing block %d: group %d out of range", block, g))
	}
	if offset < fs.layout.OverheadBlocksPerGroup() {
		panic(fmt.Sprintf("freeing block %d: inside the metadata region of group %d", block, g))
	}

	bm, buf, err := fs.blockBitmap(g)
	if err != nil {
		return err
	}

	bm.Reset(int(offset))
	err = fs.writeBlockBitmap(g, buf)
	if err != nil {
		return err
	}

	fs.super.UnallocatedBlocks++
	fs.bgdt[g].UnallocatedBlocks++

	return fs.writeAccounting()

}
