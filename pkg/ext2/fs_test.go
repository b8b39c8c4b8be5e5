package ext2

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/ext2srv/pkg/elog"
	"github.com/vorteil/ext2srv/pkg/vdisk"
)

func testLogger() elog.View {
	return &elog.CLI{
		DisableTTY: true,
	}
}

func newTestFilesystem(t *testing.T, size int64) (*Filesystem, string, func()) {

	t.Helper()

	dir, err := ioutil.TempDir("", "ext2-test")
	require.NoError(t, err)

	path := filepath.Join(dir, "disk.img")

	disk, err := vdisk.Open(path, size)
	require.NoError(t, err)

	cache := vdisk.NewCache(disk, 64)

	fs, err := New(&Args{
		Cache:       cache,
		Logger:      testLogger(),
		VolumeLabel: "test",
	})
	require.NoError(t, err)

	return fs, path, func() {
		cache.Close()
		os.RemoveAll(dir)
	}

}

func TestFormatGeometry(t *testing.T) {

	fs, _, cleanup := newTestFilesystem(t, 64*1024*1024+3*1024)
	defer cleanup()

	sb := fs.Superblock()

	assert.Equal(t, uint16(Signature), sb.Signature)
	assert.Equal(t, uint32(1), sb.FirstDataBlock)
	assert.Equal(t, uint32(FirstFreeInode), sb.FirstInode)
	assert.Equal(t, uint16(InodeSize), sb.InodeSize)
	assert.Equal(t, uint32(8192), sb.BlocksPerGroup)
	assert.Equal(t, int64(8), fs.Layout().Groups)

	// the root directory must exist, be a directory, and contain '.' and '..'
	// referring back to itself
	root, err := fs.ReadInode(RootDirInode)
	require.NoError(t, err)
	assert.True(t, InodeIsDirectory(root))

	entries, err := fs.Entries(RootDirInode)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ".", entries[0].Name)
	assert.Equal(t, uint32(RootDirInode), entries[0].Inode)
	assert.Equal(t, "..", entries[1].Name)
	assert.Equal(t, uint32(RootDirInode), entries[1].Inode)

}

func TestRemountPreservesFilesystem(t *testing.T) {

	fs, path, cleanup := newTestFilesystem(t, 64*1024*1024)
	defer cleanup()

	ino, err := fs.CreateDirectory(RootDirInode)
	require.NoError(t, err)
	require.NoError(t, fs.AddEntry(RootDirInode, Dirent{Inode: ino, Type: FTypeDir, Name: "home"}))
	require.NoError(t, fs.Sync())

	// reopen the same backing file without reformatting
	disk, err := vdisk.Open(path, 64*1024*1024)
	require.NoError(t, err)
	cache := vdisk.NewCache(disk, 64)
	defer cache.Close()

	fs2, err := New(&Args{
		Cache:  cache,
		Logger: testLogger(),
	})
	require.NoError(t, err)

	assert.Equal(t, fs.Superblock().UUID, fs2.Superblock().UUID, "remount must not reformat a valid file-system")

	entries, err := fs2.Entries(RootDirInode)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "home", entries[2].Name)
	assert.Equal(t, ino, entries[2].Inode)

}

func TestIallocNeverRepeats(t *testing.T) {

	fs, _, cleanup := newTestFilesystem(t, 64*1024*1024)
	defer cleanup()

	seen := make(map[uint32]bool)

	for i := 0; i < 200; i++ {
		ino, err := fs.Ialloc()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ino, uint32(FirstFreeInode))
		assert.False(t, seen[ino], "inode %d returned twice", ino)
		seen[ino] = true
	}

	// free one and it must be the next one handed out again
	require.NoError(t, fs.Ifree(FirstFreeInode))
	ino, err := fs.Ialloc()
	require.NoError(t, err)
	assert.Equal(t, uint32(FirstFreeInode), ino)

}

func TestBallocNeverRepeats(t *testing.T) {

	fs, _, cleanup := newTestFilesystem(t, 64*1024*1024)
	defer cleanup()

	seen := make(map[uint32]bool)

	blocks, err := fs.Balloc(0, 500)
	require.NoError(t, err)
	require.Len(t, blocks, 500)

	for _, b := range blocks {
		assert.False(t, seen[b], "block %d returned twice", b)
		seen[b] = true

		g, offset := fs.Layout().BlockGroup(int64(b))
		assert.GreaterOrEqual(t, offset, fs.Layout().OverheadBlocksPerGroup(),
			"block %d is inside the metadata region of group %d", b, g)
	}

	// free a block and allocate again: the freed block must be reusable
	require.NoError(t, fs.Bfree(blocks[0]))
	again, err := fs.Balloc(0, 1)
	require.NoError(t, err)
	assert.Equal(t, blocks[0], again[0])

}

func TestAllocationAccounting(t *testing.T) {

	fs, _, cleanup := newTestFilesystem(t, 64*1024*1024)
	defer cleanup()

	freeBlocks := fs.Superblock().UnallocatedBlocks
	freeInodes := fs.Superblock().UnallocatedInodes

	blocks, err := fs.Balloc(0, 10)
	require.NoError(t, err)
	assert.Equal(t, freeBlocks-10, fs.Superblock().UnallocatedBlocks)

	ino, err := fs.Ialloc()
	require.NoError(t, err)
	assert.Equal(t, freeInodes-1, fs.Superblock().UnallocatedInodes)

	for _, b := range blocks {
		require.NoError(t, fs.Bfree(b))
	}
	require.NoError(t, fs.Ifree(ino))

	assert.Equal(t, freeBlocks, fs.Superblock().UnallocatedBlocks)
	assert.Equal(t, freeInodes, fs.Superblock().UnallocatedInodes)

}

func TestAddBlockGrowsThroughIndirection(t *testing.T) {

	fs, _, cleanup := newTestFilesystem(t, 64*1024*1024)
	defer cleanup()

	ino, err := fs.Ialloc()
	require.NoError(t, err)
	require.NoError(t, fs.WriteInode(ino, fs.InitInode(DefaultFilePermissions, 0, 0)))

	// twelve direct blocks
	for i := 0; i < maxDirectPointers; i++ {
		_, err = fs.AddBlock(ino)
		require.NoError(t, err)
	}

	inode, err := fs.ReadInode(ino)
	require.NoError(t, err)
	assert.Zero(t, inode.SinglyIndirect, "no indirection needed for 12 blocks")

	// the thirteenth block forces a single-indirect pointer block
	_, err = fs.AddBlock(ino)
	require.NoError(t, err)

	inode, err = fs.ReadInode(ino)
	require.NoError(t, err)
	assert.NotZero(t, inode.SinglyIndirect, "block 13 must hang off the single indirect")
	assert.Zero(t, inode.DoublyIndirect)

	blocks, err := fs.InodeBlocks(ino)
	require.NoError(t, err)
	assert.Len(t, blocks, 13)

	// filling the single indirect forces the double
	for i := 0; i < pointersPerBlock; i++ {
		_, err = fs.AddBlock(ino)
		require.NoError(t, err)
	}

	inode, err = fs.ReadInode(ino)
	require.NoError(t, err)
	assert.NotZero(t, inode.DoublyIndirect, "block 12+256+1 must hang off the double indirect")

	blocks, err = fs.InodeBlocks(ino)
	require.NoError(t, err)
	assert.Len(t, blocks, 13+pointersPerBlock)

	require.NoError(t, fs.Ifree(ino))

}

func TestIfreeReleasesWholeTree(t *testing.T) {

	fs, _, cleanup := newTestFilesystem(t, 64*1024*1024)
	defer cleanup()

	freeBlocks := fs.Superblock().UnallocatedBlocks
	freeInodes := fs.Superblock().UnallocatedInodes

	ino, err := fs.Ialloc()
	require.NoError(t, err)
	require.NoError(t, fs.WriteInode(ino, fs.InitInode(DefaultFilePermissions, 0, 0)))

	// deep enough to involve a single-indirect pointer block
	for i := 0; i < 20; i++ {
		_, err = fs.AddBlock(ino)
		require.NoError(t, err)
	}

	require.NoError(t, fs.Ifree(ino))

	assert.Equal(t, freeBlocks, fs.Superblock().UnallocatedBlocks,
		"freeing the inode must release data and pointer blocks alike")
	assert.Equal(t, freeInodes, fs.Superblock().UnallocatedInodes)

}

func TestDirectoryGrowth(t *testing.T) {

	fs, _, cleanup := newTestFilesystem(t, 64*1024*1024)
	defer cleanup()

	dir, err := fs.CreateDirectory(RootDirInode)
	require.NoError(t, err)
	require.NoError(t, fs.AddEntry(RootDirInode, Dirent{Inode: dir, Type: FTypeDir, Name: "big"}))

	// 300 names at 16 bytes a record is far more than one block
	for i := 0; i < 300; i++ {
		ino, err := fs.Ialloc()
		require.NoError(t, err)
		require.NoError(t, fs.WriteInode(ino, fs.InitInode(DefaultFilePermissions, 0, 0)))
		require.NoError(t, fs.AddEntry(dir, Dirent{Inode: ino, Type: FTypeRegularFile, Name: fmt.Sprintf("f%03d", i)}))
	}

	entries, err := fs.Entries(dir)
	require.NoError(t, err)
	require.Len(t, entries, 302)

	inode, err := fs.ReadInode(dir)
	require.NoError(t, err)
	blocks, err := fs.InodeBlocks(dir)
	require.NoError(t, err)
	assert.Greater(t, len(blocks), 1, "300 entries cannot fit in one block")
	assert.Equal(t, uint32(len(blocks)*BlockSize), inode.SizeLower)

	// remove half, then the freed space must absorb a fresh round of inserts
	// without growing the directory again
	for i := 0; i < 300; i += 2 {
		var target uint32
		for _, e := range entries {
			if e.Name == fmt.Sprintf("f%03d", i) {
				target = e.Inode
			}
		}
		require.NotZero(t, target)
		require.NoError(t, fs.RemoveEntry(dir, target))
		require.NoError(t, fs.Ifree(target))
	}

	entries, err = fs.Entries(dir)
	require.NoError(t, err)
	require.Len(t, entries, 152)

	grown := len(blocks)

	for i := 0; i < 150; i++ {
		ino, err := fs.Ialloc()
		require.NoError(t, err)
		require.NoError(t, fs.WriteInode(ino, fs.InitInode(DefaultFilePermissions, 0, 0)))
		require.NoError(t, fs.AddEntry(dir, Dirent{Inode: ino, Type: FTypeRegularFile, Name: fmt.Sprintf("g%03d", i)}))
	}

	entries, err = fs.Entries(dir)
	require.NoError(t, err)
	require.Len(t, entries, 302)

	blocks, err = fs.InodeBlocks(dir)
	require.NoError(t, err)
	assert.Equal(t, grown, len(blocks), "reinserting into reclaimed space must not grow the directory")

}
