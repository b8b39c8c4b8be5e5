package ext2

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

// Various ext2 format constants.
const (
	Signature        = 0xEF53
	SectorSize       = 512
	BlockSize        = 1024
	SuperblockOffset = 1024
	InodeSize        = 128
	InodesPerBlock   = BlockSize / InodeSize
	DescriptorSize   = 32

	blocksPerSuperblock  = 1
	blocksPerBlockBitmap = 1
	blocksPerInodeBitmap = 1

	pointerSize       = 4
	maxDirectPointers = 12
	pointersPerBlock  = BlockSize / pointerSize

	dentryNameAlignment = 4

	// RootDirInode is the inode number of the root directory. Inode numbers
	// are 1-based; inodes 1..10 are reserved.
	RootDirInode   = 2
	FirstFreeInode = 11

	// MaxNameLength bounds the length of a single directory entry name.
	MaxNameLength = 255

	// bytesPerInode is the assumed average file size used to derive how many
	// inodes each block group carries.
	bytesPerInode = 2048

	InodeTypeDirectory   = 0x4000
	InodeTypeRegularFile = 0x8000
	InodeTypeMask        = 0xF000
	InodePermissionsMask = 0777

	DefaultDirPermissions  = InodeTypeDirectory | 0755
	DefaultFilePermissions = InodeTypeRegularFile | 0644

	// FTYPE constants identify file types in directory entries without
	// requiring inode lookups.
	FTypeRegularFile = 0x1
	FTypeDir         = 0x2

	StateClean     = 1
	ErrorsContinue = 1
	OSLinux        = 0

	mountsCheckInterval = 1024
)

// bootBlockText is stamped into block 0 at format time. Block 0 is otherwise
// unused by the file-system.
const bootBlockText = "EXT2 BOOT AREA -- FILE-SYSTEM METADATA BEGINS AT BLOCK 1"

// Superblock is the structure of a superblock as written to the disk. It
// occupies a full 1 KiB block; a copy lives at the first block of every block
// group.
type Superblock struct {
	TotalInodes         uint32
	TotalBlocks         uint32
	ReservedBlocks      uint32
	UnallocatedBlocks   uint32
	UnallocatedInodes   uint32
	FirstDataBlock      uint32
	BlockSize           uint32
	FragmentSize        uint32
	BlocksPerGroup      uint32
	FragmentsPerGroup   uint32
	InodesPerGroup      uint32
	LastMountTime       uint32
	LastWrittenTime     uint32
	MountsSinceCheck    uint16
	MountsCheckInterval uint16
	Signature           uint16
	State               uint16
	ErrorProtocol       uint16
	VersionMinor        uint16
	TimeLastCheck       uint32
	TimeCheckInterval   uint32
	OS                  uint32
	VersionMajor        uint32
	SuperUser           uint16
	SuperGroup          uint16
	FirstInode          uint32
	InodeSize           uint16
	SuperblockGroup     uint16
	FeatureCompat       uint32
	FeatureIncompat     uint32
	FeatureROCompat     uint32
	UUID                [16]byte
	VolumeName          [16]byte
	LastMounted         [64]byte
	AlgorithmBitmap     uint32
	PreallocBlocks      uint8
	PreallocDirBlocks   uint8
	_                   uint16
	_                   [816]byte
}

// BlockGroupDescriptorTableEntry is the structure of an ext block group
// descriptor table entry.
type BlockGroupDescriptorTableEntry struct {
	BlockBitmapBlockAddr uint32
	InodeBitmapBlockAddr uint32
	InodeTableBlockAddr  uint32
	UnallocatedBlocks    uint16
	UnallocatedInodes    uint16
	Directories          uint16
	_                    [14]byte
}

// Inode is the structure of an inode as written to the disk.
type Inode struct {
	Permissions      uint16
	UID              uint16
	SizeLower        uint32
	LastAccessTime   uint32
	CreationTime     uint32
	ModificationTime uint32
	DeletionTime     uint32
	GID              uint16
	Links            uint16
	Sectors          uint32
	Flags            uint32
	OSV              uint32
	DirectPointer    [12]uint32
	SinglyIndirect   uint32
	DoublyIndirect   uint32
	TriplyIndirect   uint32
	GenNo            uint32
	FileACL          uint32
	SizeUpper        uint32
	FragAddr         uint32
	OSStuff          [12]byte
}

// InodeIsDirectory returns true if the permission bits in the inode represent
// a directory.
func InodeIsDirectory(inode *Inode) bool {
	return inode.Permissions&InodeTypeMask == InodeTypeDirectory
}

// InodeIsRegularFile returns true if the permission bits in the inode
// represent a regular file.
func InodeIsRegularFile(inode *Inode) bool {
	return inode.Permissions&InodeTypeMask == InodeTypeRegularFile
}

func divide(a, b int64) int64 {
	return (a + b - 1) / b
}

func align(a, b int64) int64 {
	return divide(a, b) * b
}
