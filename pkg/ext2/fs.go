package ext2

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/vorteil/ext2srv/pkg/elog"
	"github.com/vorteil/ext2srv/pkg/vdisk"
)

// ErrNoSpace is returned when the allocators cannot satisfy a request.
var ErrNoSpace = errors.New("no space left on device")

// Filesystem is an ext2 file-system engine operating on a block device
// through a page cache. It is not safe for concurrent use; callers serialize
// access externally.
type Filesystem struct {
	cache  *vdisk.Cache
	log    elog.View
	layout *Layout
	super  Superblock
	bgdt   []BlockGroupDescriptorTableEntry
}

// Args organizes the inputs necessary to create a new Filesystem.
type Args struct {
	Cache       *vdisk.Cache
	Logger      elog.View
	VolumeLabel string

	// ForceFormat formats the device even if it already contains a valid
	// file-system.
	ForceFormat bool
}

// New mounts the file-system found on the device, or formats a fresh one if
// the device does not contain anything recognizable.
func New(args *Args) (*Filesystem, error) {

	layout, err := CalculateLayout(args.Cache.Blocks()*BlockSize, BlockSize)
	if err != nil {
		return nil, err
	}

	fs := &Filesystem{
		cache:  args.Cache,
		log:    args.Logger,
		layout: layout,
	}

	if !args.ForceFormat {
		err = fs.mount()
		if err == nil {
			fs.super.LastMountTime = uint32(time.Now().Unix())
			fs.super.MountsSinceCheck++
			err = fs.writeAccounting()
			if err != nil {
				return nil, err
			}
			return fs, nil
		}
		fs.log.Warnf("cannot mount device: %v", err)
		fs.log.Warnf("formatting device")
		fs.layout = layout
	}

	err = fs.Format(args.VolumeLabel)
	if err != nil {
		return nil, err
	}

	return fs, nil

}

// Mount opens an existing file-system without the format fallback. It fails
// if the device does not contain a valid file-system.
func Mount(cache *vdisk.Cache, logger elog.View) (*Filesystem, error) {

	layout, err := CalculateLayout(cache.Blocks()*BlockSize, BlockSize)
	if err != nil {
		return nil, err
	}

	fs := &Filesystem{
		cache:  cache,
		log:    logger,
		layout: layout,
	}

	err = fs.mount()
	if err != nil {
		return nil, err
	}

	return fs, nil

}

// Superblock returns the in-memory copy of the primary superblock.
func (fs *Filesystem) Superblock() *Superblock {
	return &fs.super
}

// Layout returns the geometry of the mounted file-system.
func (fs *Filesystem) Layout() *Layout {
	return fs.layout
}

// GroupDescriptors returns the in-memory copy of the group descriptor table.
func (fs *Filesystem) GroupDescriptors() []BlockGroupDescriptorTableEntry {
	return fs.bgdt
}

func (fs *Filesystem) mount() error {

	buf := make([]byte, BlockSize)
	err := fs.cache.ReadBlock(1, buf)
	if err != nil {
		return err
	}

	var sb Superblock
	err = binary.Read(bytes.NewReader(buf), binary.LittleEndian, &sb)
	if err != nil {
		return err
	}

	if sb.Signature != Signature {
		return errors.New("superblock doesn't contain a valid ext file-system signature (magic number)")
	}
	if 1024<<sb.BlockSize != BlockSize {
		return errors.Errorf("unsupported block size %d", 1024<<sb.BlockSize)
	}
	if sb.FirstDataBlock != 1 {
		return errors.Errorf("unexpected first data block %d", sb.FirstDataBlock)
	}
	if sb.InodesPerGroup == 0 || int64(sb.InodesPerGroup) > 8*BlockSize {
		return errors.Errorf("inodes per group %d exceeds what an inode bitmap can cover", sb.InodesPerGroup)
	}
	if sb.BlocksPerGroup != 8*BlockSize {
		return errors.Errorf("unexpected blocks per group %d", sb.BlocksPerGroup)
	}
	if sb.FirstInode != FirstFreeInode {
		return errors.Errorf("unexpected first non-reserved inode %d", sb.FirstInode)
	}
	if sb.InodeSize != InodeSize {
		return errors.Errorf("unsupported inode size %d", sb.InodeSize)
	}

	fs.super = sb

	// trust the superblock's geometry over the device size
	fs.layout = &Layout{
		Groups:           int64(sb.TotalInodes / sb.InodesPerGroup),
		BlocksPerGroup:   int64(sb.BlocksPerGroup),
		InodesPerGroup:   int64(sb.InodesPerGroup),
		GDTBlocks:        divide(int64(sb.TotalInodes/sb.InodesPerGroup)*DescriptorSize, BlockSize),
		InodeTableBlocks: divide(int64(sb.InodesPerGroup)*InodeSize, BlockSize),
	}
	fs.layout.DataBlocksPerGroup = fs.layout.BlocksPerGroup - 3 - fs.layout.GDTBlocks - fs.layout.InodeTableBlocks

	err = fs.readBGDT()
	if err != nil {
		return err
	}

	fs.log.Debugf("mounted file-system: %d groups, %d blocks per group, %d inodes per group",
		fs.layout.Groups, fs.layout.BlocksPerGroup, fs.layout.InodesPerGroup)

	return nil

}

func (fs *Filesystem) readBGDT() error {

	buf := make([]byte, fs.layout.GDTBlocks*BlockSize)
	for i := int64(0); i < fs.layout.GDTBlocks; i++ {
		err := fs.cache.ReadBlock(2+i, buf[i*BlockSize:(i+1)*BlockSize])
		if err != nil {
			return err
		}
	}

	fs.bgdt = make([]BlockGroupDescriptorTableEntry, fs.layout.Groups)
	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, fs.bgdt)

}

// writeSuperblockCopy writes the superblock to the first block of group g,
// stamping the copy's group number.
func (fs *Filesystem) writeSuperblockCopy(g int64) error {

	fs.super.SuperblockGroup = uint16(g)
	defer func() {
		fs.super.SuperblockGroup = 0
	}()

	buf := new(bytes.Buffer)
	err := binary.Write(buf, binary.LittleEndian, &fs.super)
	if err != nil {
		return err
	}

	return fs.cache.WriteBlock(fs.layout.GroupFirstBlock(g), buf.Bytes())

}

// writeBGDTCopy writes the group descriptor table to group g.
func (fs *Filesystem) writeBGDTCopy(g int64) error {

	buf := new(bytes.Buffer)
	err := binary.Write(buf, binary.LittleEndian, fs.bgdt)
	if err != nil {
		return err
	}

	buf.Write(bytes.Repeat([]byte{0}, int(fs.layout.GDTBlocks*BlockSize)-buf.Len()))

	data := buf.Bytes()
	for i := int64(0); i < fs.layout.GDTBlocks; i++ {
		err = fs.cache.WriteBlock(fs.layout.GDTBlock(g)+i, data[i*BlockSize:(i+1)*BlockSize])
		if err != nil {
			return err
		}
	}

	return nil

}

// writeAccounting writes the primary superblock and group descriptor table so
// that allocation counters on disk stay consistent with every bitmap flip.
// The redundant copies in other groups are refreshed on Sync.
func (fs *Filesystem) writeAccounting() error {

	err := fs.writeSuperblockCopy(0)
	if err != nil {
		return err
	}

	return fs.writeBGDTCopy(0)

}

// writeMetadataCopies refreshes the superblock and group descriptor table
// copies in every group.
func (fs *Filesystem) writeMetadataCopies() error {

	for g := int64(0); g < fs.layout.Groups; g++ {
		err := fs.writeSuperblockCopy(g)
		if err != nil {
			return err
		}
		err = fs.writeBGDTCopy(g)
		if err != nil {
			return err
		}
	}

	return nil

}

// Sync refreshes the redundant metadata copies and flushes all cached writes
// through to persistent storage.
func (fs *Filesystem) Sync() error {

	fs.super.LastWrittenTime = uint32(time.Now().Unix())

	err := fs.writeMetadataCopies()
	if err != nil {
		return err
	}

	return fs.cache.FlushAll()

}

// ReadBlock copies a data block into buf through the page cache.
func (fs *Filesystem) ReadBlock(block uint32, buf []byte) error {
	return fs.cache.ReadBlock(int64(block), buf)
}

// WriteBlock replaces a data block with buf through the page cache.
func (fs *Filesystem) WriteBlock(block uint32, buf []byte) error {
	return fs.cache.WriteBlock(int64(block), buf)
}

// blockBitmap loads the block bitmap of group g.
func (fs *Filesystem) blockBitmap(g int64) (vdisk.Bitmap, []byte, error) {

	buf := make([]byte, BlockSize)
	err := fs.cache.ReadBlock(fs.layout.BlockBitmapBlock(g), buf)
	if err != nil {
		return vdisk.Bitmap{}, nil, err
	}

	return vdisk.NewBitmap(buf, int(fs.layout.BlocksPerGroup)), buf, nil

}

func (fs *Filesystem) writeBlockBitmap(g int64, buf []byte) error {
	return fs.cache.WriteBlock(fs.layout.BlockBitmapBlock(g), buf)
}

// inodeBitmap loads the inode bitmap of group g.
func (fs *Filesystem) inodeBitmap(g int64) (vdisk.Bitmap, []byte, error) {

	buf := make([]byte, BlockSize)
	err := fs.cache.ReadBlock(fs.layout.InodeBitmapBlock(g), buf)
	if err != nil {
		return vdisk.Bitmap{}, nil, err
	}

	return vdisk.NewBitmap(buf, int(fs.layout.InodesPerGroup)), buf, nil

}

func (fs *Filesystem) writeInodeBitmap(g int64, buf []byte) error {
	return fs.cache.WriteBlock(fs.layout.InodeBitmapBlock(g), buf)
}

// Format writes a fresh file-system onto the device: boot block, redundant
// superblock and descriptor copies, zeroed bitmaps and inode tables, and a
// root directory at inode 2.
func (fs *Filesystem) Format(label string) error {

	l := fs.layout

	fs.log.Infof("formatting device: %d groups of %d blocks, %d inodes per group",
		l.Groups, l.BlocksPerGroup, l.InodesPerGroup)
	if l.TrailingBlocks > 0 {
		fs.log.Debugf("ignoring %d trailing blocks too few to form a group", l.TrailingBlocks)
	}

	zero := make([]byte, BlockSize)

	boot := make([]byte, BlockSize)
	copy(boot, bootBlockText)
	err := fs.cache.WriteBlock(0, boot)
	if err != nil {
		return err
	}

	now := uint32(time.Now().Unix())

	fs.super = Superblock{
		TotalInodes:         uint32(l.TotalInodes()),
		TotalBlocks:         uint32(l.Groups*l.BlocksPerGroup + 1),
		UnallocatedBlocks:   uint32(l.Groups * l.DataBlocksPerGroup),
		UnallocatedInodes:   uint32(l.TotalInodes()),
		FirstDataBlock:      1,
		BlockSize:           0,
		FragmentSize:        0,
		BlocksPerGroup:      uint32(l.BlocksPerGroup),
		FragmentsPerGroup:   uint32(l.BlocksPerGroup),
		InodesPerGroup:      uint32(l.InodesPerGroup),
		LastMountTime:       now,
		LastWrittenTime:     now,
		MountsCheckInterval: mountsCheckInterval,
		Signature:           Signature,
		State:               StateClean,
		ErrorProtocol:       ErrorsContinue,
		TimeLastCheck:       now,
		OS:                  OSLinux,
		FirstInode:          FirstFreeInode,
		InodeSize:           InodeSize,
	}

	id := uuid.New()
	copy(fs.super.UUID[:], id[:])
	copy(fs.super.VolumeName[:], label)

	fs.bgdt = make([]BlockGroupDescriptorTableEntry, l.Groups)
	for g := int64(0); g < l.Groups; g++ {
		fs.bgdt[g] = BlockGroupDescriptorTableEntry{
			BlockBitmapBlockAddr: uint32(l.BlockBitmapBlock(g)),
			InodeBitmapBlockAddr: uint32(l.InodeBitmapBlock(g)),
			InodeTableBlockAddr:  uint32(l.InodeTableBlock(g)),
			UnallocatedBlocks:    uint16(l.DataBlocksPerGroup),
			UnallocatedInodes:    uint16(l.InodesPerGroup),
		}
	}

	progress := fs.log.NewProgress("Formatting device", "%", l.Groups)
	defer progress.Finish(true)

	for g := int64(0); g < l.Groups; g++ {

		err = fs.writeSuperblockCopy(g)
		if err != nil {
			return err
		}

		err = fs.writeBGDTCopy(g)
		if err != nil {
			return err
		}

		// block bitmap: only the metadata region starts out allocated
		buf := make([]byte, BlockSize)
		bm := vdisk.NewBitmap(buf, int(l.BlocksPerGroup))
		for i := int64(0); i < l.OverheadBlocksPerGroup(); i++ {
			bm.Set(int(i))
		}
		err = fs.writeBlockBitmap(g, buf)
		if err != nil {
			return err
		}

		err = fs.writeInodeBitmap(g, zero)
		if err != nil {
			return err
		}

		for i := int64(0); i < l.InodeTableBlocks; i++ {
			err = fs.cache.WriteBlock(l.InodeTableBlock(g)+i, zero)
			if err != nil {
				return err
			}
		}

		progress.Increment(1)

	}

	err = fs.createRootDirectory()
	if err != nil {
		return err
	}

	return fs.Sync()

}

// createRootDirectory allocates inode 2 and its first data block, containing
// the '.' and '..' entries which both refer back to the root itself.
func (fs *Filesystem) createRootDirectory() error {

	bm, buf, err := fs.inodeBitmap(0)
	if err != nil {
		return err
	}

	bm.Set(RootDirInode - 1)
	err = fs.writeInodeBitmap(0, buf)
	if err != nil {
		return err
	}

	fs.super.UnallocatedInodes--
	fs.bgdt[0].UnallocatedInodes--
	fs.bgdt[0].Directories++

	blocks, err := fs.Balloc(0, 1)
	if err != nil {
		return err
	}

	inode := fs.InitInode(DefaultDirPermissions, 0, 0)
	inode.SizeLower = BlockSize
	inode.Sectors = BlockSize / SectorSize
	inode.DirectPointer[0] = blocks[0]

	err = fs.WriteInode(RootDirInode, inode)
	if err != nil {
		return err
	}

	block := make([]byte, BlockSize)
	initDirentBlock(block, RootDirInode, RootDirInode)
	err = fs.cache.WriteBlock(int64(blocks[0]), block)
	if err != nil {
		return err
	}

	return fs.writeAccounting()

}
