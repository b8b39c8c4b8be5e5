package ext2

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// inodeLocation maps an inode number to the block of the inode table that
// holds it and the record slot within that block.
func (fs *Filesystem) inodeLocation(ino uint32) (block int64, slot int64) {

	if ino < 1 {
		panic(fmt.Sprintf("inode number %d out of range", ino))
	}

	g, index := fs.layout.InodeGroup(int64(ino))
	if g >= fs.layout.Groups {
		panic(fmt.Sprintf("inode number %d out of range (group %d)", ino, g))
	}

	block = fs.layout.InodeTableBlock(g) + index/InodesPerBlock
	slot = index % InodesPerBlock
	return

}

// ReadInode loads inode number ino from the inode table.
func (fs *Filesystem) ReadInode(ino uint32) (*Inode, error) {

	block, slot := fs.inodeLocation(ino)

	buf := make([]byte, BlockSize)
	err := fs.cache.ReadBlock(block, buf)
	if err != nil {
		return nil, err
	}

	inode := new(Inode)
	err = binary.Read(bytes.NewReader(buf[slot*InodeSize:(slot+1)*InodeSize]), binary.LittleEndian, inode)
	if err != nil {
		return nil, err
	}

	return inode, nil

}

// WriteInode stores inode number ino into the inode table. It does not touch
// the inode bitmap.
func (fs *Filesystem) WriteInode(ino uint32, inode *Inode) error {

	block, slot := fs.inodeLocation(ino)

	buf := make([]byte, BlockSize)
	err := fs.cache.ReadBlock(block, buf)
	if err != nil {
		return err
	}

	w := new(bytes.Buffer)
	err = binary.Write(w, binary.LittleEndian, inode)
	if err != nil {
		return err
	}
	copy(buf[slot*InodeSize:(slot+1)*InodeSize], w.Bytes())

	return fs.cache.WriteBlock(block, buf)

}

// InitInode returns a fresh inode with the given mode and ownership and all
// timestamps set to now. Directories start with two links ('.' plus the
// parent's entry); everything else starts with one.
func (fs *Filesystem) InitInode(mode uint16, uid uint16, gid uint16) *Inode {

	now := uint32(time.Now().Unix())

	inode := &Inode{
		Permissions:      mode,
		UID:              uid,
		GID:              gid,
		LastAccessTime:   now,
		CreationTime:     now,
		ModificationTime: now,
		Links:            1,
	}

	if InodeIsDirectory(inode) {
		inode.Links = 2
	}

	return inode

}

// collectBlocks recursively gathers the data blocks reachable through a
// pointer block. Pointer blocks visited along the way are appended to meta. A
// zero pointer terminates the walk; the engine allocates blocks densely, so
// nothing can exist beyond the first unassigned slot.
func (fs *Filesystem) collectBlocks(addr uint32, level int, data *[]uint32, meta *[]uint32) (bool, error) {

	if addr == 0 {
		return false, nil
	}

	if level == 0 {
		*data = append(*data, addr)
		return true, nil
	}

	*meta = append(*meta, addr)

	buf := make([]byte, BlockSize)
	err := fs.cache.ReadBlock(int64(addr), buf)
	if err != nil {
		return false, err
	}

	for i := 0; i < pointersPerBlock; i++ {
		p := binary.LittleEndian.Uint32(buf[i*pointerSize:])
		more, err := fs.collectBlocks(p, level-1, data, meta)
		if err != nil {
			return false, err
		}
		if !more {
			return false, nil
		}
	}

	return true, nil

}

// inodeBlockTree walks an inode's pointer tree and returns its data blocks in
// file order alongside the indirect pointer blocks that hold the tree
// together.
func (fs *Filesystem) inodeBlockTree(inode *Inode) (data []uint32, meta []uint32, err error) {

	more := true

	for i := 0; more && i < maxDirectPointers; i++ {
		more, err = fs.collectBlocks(inode.DirectPointer[i], 0, &data, &meta)
		if err != nil {
			return nil, nil, err
		}
	}

	if more {
		more, err = fs.collectBlocks(inode.SinglyIndirect, 1, &data, &meta)
		if err != nil {
			return nil, nil, err
		}
	}

	if more {
		more, err = fs.collectBlocks(inode.DoublyIndirect, 2, &data, &meta)
		if err != nil {
			return nil, nil, err
		}
	}

	if more {
		_, err = fs.collectBlocks(inode.TriplyIndirect, 3, &data, &meta)
		if err != nil {
			return nil, nil, err
		}
	}

	return data, meta, nil

}

// InodeBlocks returns the data blocks assigned to an inode, in file order.
func (fs *Filesystem) InodeBlocks(ino uint32) ([]uint32, error) {

	inode, err := fs.ReadInode(ino)
	if err != nil {
		return nil, err
	}

	data, _, err := fs.inodeBlockTree(inode)
	return data, err

}

// addBlockIndirect finds the first unassigned slot beneath the pointer block
// at addr, lazily allocating deeper pointer blocks as needed, and assigns a
// fresh zero-filled data block there. It reports false if the subtree is
// full.
func (fs *Filesystem) addBlockIndirect(addr uint32, level int, group int64) (uint32, bool, error) {

	buf := make([]byte, BlockSize)
	err := fs.cache.ReadBlock(int64(addr), buf)
	if err != nil {
		return 0, false, err
	}

	for i := 0; i < pointersPerBlock; i++ {

		p := binary.LittleEndian.Uint32(buf[i*pointerSize:])

		if p == 0 {

			if level == 1 {
				block, err := fs.ballocOne(group)
				if err != nil {
					return 0, false, err
				}
				binary.LittleEndian.PutUint32(buf[i*pointerSize:], block)
				err = fs.cache.WriteBlock(int64(addr), buf)
				if err != nil {
					return 0, false, err
				}
				return block, true, nil
			}

			next, err := fs.ballocOne(group)
			if err != nil {
				return 0, false, err
			}
			binary.LittleEndian.PutUint32(buf[i*pointerSize:], next)
			err = fs.cache.WriteBlock(int64(addr), buf)
			if err != nil {
				return 0, false, err
			}
			return fs.addBlockIndirect(next, level-1, group)

		}

		if level > 1 {
			block, ok, err := fs.addBlockIndirect(p, level-1, group)
			if err != nil {
				return 0, false, err
			}
			if ok {
				return block, true, nil
			}
		}

	}

	return 0, false, nil

}

// AddBlock assigns one more zero-filled data block to the inode, filling the
// first unused direct slot before descending into the indirect trees. It
// returns the address of the new block.
func (fs *Filesystem) AddBlock(ino uint32) (uint32, error) {

	group, _ := fs.layout.InodeGroup(int64(ino))

	inode, err := fs.ReadInode(ino)
	if err != nil {
		return 0, err
	}

	grew := func(block uint32) (uint32, error) {
		inode.Sectors += BlockSize / SectorSize
		err = fs.WriteInode(ino, inode)
		if err != nil {
			return 0, err
		}
		return block, nil
	}

	for i := 0; i < maxDirectPointers; i++ {
		if inode.DirectPointer[i] == 0 {
			block, err := fs.ballocOne(group)
			if err != nil {
				return 0, err
			}
			inode.DirectPointer[i] = block
			return grew(block)
		}
	}

	indirects := []struct {
		addr  *uint32
		level int
	}{
		{&inode.SinglyIndirect, 1},
		{&inode.DoublyIndirect, 2},
		{&inode.TriplyIndirect, 3},
	}

	for _, ind := range indirects {

		if *ind.addr == 0 {
			next, err := fs.ballocOne(group)
			if err != nil {
				return 0, err
			}
			*ind.addr = next
			inode.Sectors += BlockSize / SectorSize
			err = fs.WriteInode(ino, inode)
			if err != nil {
				return 0, err
			}
		}

		block, ok, err := fs.addBlockIndirect(*ind.addr, ind.level, group)
		if err != nil {
			return 0, err
		}
		if ok {
			return grew(block)
		}

	}

	return 0, errors.Wrap(ErrNoSpace, "inode pointer tree is full")

}
