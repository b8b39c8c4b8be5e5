package ext2

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"github.com/pkg/errors"
)

// Layout describes the physical geometry of a file-system: how many block
// groups it has and how the blocks within each group are divided between
// metadata and data.
//
// Every group is laid out as:
//
//	first+0            superblock copy
//	first+1 ..         group descriptor table
//	first+1+gdt        block bitmap
//	first+2+gdt        inode bitmap
//	first+3+gdt ..     inode table
//	rest               data blocks
//
// where first = group*BlocksPerGroup + 1.
type Layout struct {
	Groups             int64
	BlocksPerGroup     int64
	TrailingBlocks     int64
	GDTBlocks          int64
	InodesPerGroup     int64
	InodeTableBlocks   int64
	DataBlocksPerGroup int64
}

// CalculateLayout derives the file-system geometry from the size of the
// backing device. Each group is sized to the maximum its block bitmap can
// cover (8 bits per bitmap byte). A trailing partial group too small to hold
// a full bitmap's worth of blocks is left unused.
func CalculateLayout(diskSize int64, blockSize int64) (*Layout, error) {

	if blockSize != BlockSize {
		return nil, errors.Errorf("unsupported block size %d: this file-system is built around %d byte blocks", blockSize, int64(BlockSize))
	}

	totalBlocks := diskSize / blockSize

	// block 0 is the boot area and belongs to no group
	availableBlocks := totalBlocks - 1

	blocksPerGroup := 8 * blockSize
	groups := availableBlocks / blocksPerGroup
	trailing := availableBlocks - groups*blocksPerGroup

	if groups < 1 {
		return nil, errors.Errorf("disk size %d is too small to hold a single full block group (%d bytes)", diskSize, (blocksPerGroup+1)*blockSize)
	}

	gdtBlocks := divide(groups*DescriptorSize, blockSize)

	// Inodes per group is the largest m such that the inode table and the
	// data blocks those inodes are expected to describe both fit within the
	// non-reserved portion of the group.
	remaining := (blocksPerGroup - 3 - gdtBlocks) * blockSize
	inodesPerGroup := remaining / (bytesPerInode + InodeSize)

	if inodesPerGroup > 8*blockSize {
		inodesPerGroup = 8 * blockSize
	}

	inodeTableBlocks := divide(inodesPerGroup*InodeSize, blockSize)
	dataBlocksPerGroup := blocksPerGroup - 3 - gdtBlocks - inodeTableBlocks

	l := &Layout{
		Groups:             groups,
		BlocksPerGroup:     blocksPerGroup,
		TrailingBlocks:     trailing,
		GDTBlocks:          gdtBlocks,
		InodesPerGroup:     inodesPerGroup,
		InodeTableBlocks:   inodeTableBlocks,
		DataBlocksPerGroup: dataBlocksPerGroup,
	}

	if 3+l.GDTBlocks+l.InodeTableBlocks+l.DataBlocksPerGroup != l.BlocksPerGroup {
		return nil, errors.New("group layout calculation does not add up to a whole group")
	}

	return l, nil

}

// OverheadBlocksPerGroup returns the number of blocks at the start of each
// group reserved for metadata.
func (l *Layout) OverheadBlocksPerGroup() int64 {
	return 3 + l.GDTBlocks + l.InodeTableBlocks
}

// TotalInodes returns the number of inodes across all groups.
func (l *Layout) TotalInodes() int64 {
	return l.Groups * l.InodesPerGroup
}

// GroupFirstBlock returns the block index of the first block of group g (its
// superblock copy).
func (l *Layout) GroupFirstBlock(g int64) int64 {
	return g*l.BlocksPerGroup + 1
}

// GDTBlock returns the block index of the first group descriptor table block
// of group g.
func (l *Layout) GDTBlock(g int64) int64 {
	return l.GroupFirstBlock(g) + blocksPerSuperblock
}

// BlockBitmapBlock returns the block index of the block bitmap of group g.
func (l *Layout) BlockBitmapBlock(g int64) int64 {
	return l.GDTBlock(g) + l.GDTBlocks
}

// InodeBitmapBlock returns the block index of the inode bitmap of group g.
func (l *Layout) InodeBitmapBlock(g int64) int64 {
	return l.BlockBitmapBlock(g) + blocksPerBlockBitmap
}

// InodeTableBlock returns the block index of the first inode table block of
// group g.
func (l *Layout) InodeTableBlock(g int64) int64 {
	return l.InodeBitmapBlock(g) + blocksPerInodeBitmap
}

// DataBlock returns the block index of the first data block of group g.
func (l *Layout) DataBlock(g int64) int64 {
	return l.InodeTableBlock(g) + l.InodeTableBlocks
}

// BlockGroup maps an absolute block index to its group and its bit position
// within that group's block bitmap.
func (l *Layout) BlockGroup(block int64) (group int64, offset int64) {
	group = (block - 1) / l.BlocksPerGroup
	offset = (block - 1) % l.BlocksPerGroup
	return
}

// InodeGroup maps a 1-based inode number to its group and its index within
// that group's slice of the inode table.
func (l *Layout) InodeGroup(ino int64) (group int64, index int64) {
	group = (ino - 1) / l.InodesPerGroup
	index = (ino - 1) % l.InodesPerGroup
	return
}
