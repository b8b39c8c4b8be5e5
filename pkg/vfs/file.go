package vfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/vorteil/ext2srv/pkg/ext2"
)

// Access-mode flags accepted by Open. The values mirror the POSIX open(2)
// flags.
const (
	ReadOnly  = 0x0
	WriteOnly = 0x1
	ReadWrite = 0x2
	Create    = 0x40

	accessModeMask = 0x3
)

// fileDescription is one slot in the open-file table. A slot with inode 0 is
// free.
type fileDescription struct {
	ino    uint32
	offset int64
	flags  int
}

func readable(flags int) bool {
	mode := flags & accessModeMask
	return mode == ReadOnly || mode == ReadWrite
}

func writable(flags int) bool {
	mode := flags & accessModeMask
	return mode == WriteOnly || mode == ReadWrite
}

// fd returns the open-file description behind a descriptor, or
// ErrBadFileDescriptor if the descriptor is out of range, reserved, or
// closed.
func (v *VFS) fd(fd int) (*fileDescription, error) {

	if fd < 3 || fd >= len(v.files) || v.files[fd].ino == 0 {
		return nil, errors.Wrapf(ErrBadFileDescriptor, "fd %d", fd)
	}

	return &v.files[fd], nil

}

// Open opens the regular file at path and returns a small non-negative file
// descriptor. With the Create flag set, a missing file is created first; an
// existing file is opened as-is.
func (v *VFS) Open(path string, flags int) (int, error) {

	if flags&^(accessModeMask|Create) != 0 || flags&accessModeMask == accessModeMask {
		return -1, errors.Wrapf(ErrInvalid, "open flags %#x", flags)
	}

	if flags&Create != 0 {
		err := v.Create(path)
		if err != nil && errors.Cause(err) != ErrExists {
			return -1, err
		}
	}

	ino, err := v.resolve(path)
	if err != nil {
		return -1, errors.Wrapf(err, "open '%s'", path)
	}

	inode, err := v.fs.ReadInode(ino)
	if err != nil {
		return -1, err
	}
	if !ext2.InodeIsRegularFile(inode) {
		return -1, errors.Wrapf(ErrIsDirectory, "open '%s'", path)
	}

	fd := 3
	for ; fd < len(v.files); fd++ {
		if v.files[fd].ino == 0 {
			break
		}
	}
	if fd == len(v.files) {
		v.files = append(v.files, fileDescription{})
	}

	v.files[fd] = fileDescription{
		ino:   ino,
		flags: flags,
	}

	return fd, nil

}

// Close releases a file descriptor.
func (v *VFS) Close(fd int) error {

	_, err := v.fd(fd)
	if err != nil {
		return err
	}

	v.files[fd] = fileDescription{}
	return nil

}

// Read copies up to len(p) bytes from the file's current offset into p,
// bounded by the file size, and advances the offset by the amount read.
func (v *VFS) Read(fd int, p []byte) (int, error) {

	desc, err := v.fd(fd)
	if err != nil {
		return 0, err
	}

	if !readable(desc.flags) {
		return 0, errors.Wrapf(ErrInvalid, "fd %d is not open for reading", fd)
	}

	if len(p) == 0 {
		return 0, nil
	}

	inode, err := v.fs.ReadInode(desc.ino)
	if err != nil {
		return 0, err
	}

	size := int64(inode.SizeLower)
	if desc.offset >= size {
		return 0, nil
	}

	n := int64(len(p))
	if desc.offset+n > size {
		n = size - desc.offset
	}

	blocks, err := v.fs.InodeBlocks(desc.ino)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, ext2.BlockSize)
	copied := int64(0)

	for copied < n {

		pos := desc.offset + copied
		index := pos / ext2.BlockSize
		within := pos % ext2.BlockSize

		chunk := int64(ext2.BlockSize) - within
		if chunk > n-copied {
			chunk = n - copied
		}

		if blocks[index] == 0 {
			for i := range buf {
				buf[i] = 0
			}
		} else {
			err = v.fs.ReadBlock(blocks[index], buf)
			if err != nil {
				return int(copied), err
			}
		}

		copy(p[copied:copied+chunk], buf[within:within+chunk])
		copied += chunk

	}

	desc.offset += n

	inode.LastAccessTime = uint32(time.Now().Unix())
	err = v.fs.WriteInode(desc.ino, inode)
	if err != nil {
		return int(n), err
	}

	return int(n), nil

}

// Write copies p into the file at its current offset, allocating blocks as
// needed and extending the file size, then advances the offset.
func (v *VFS) Write(fd int, p []byte) (int, error) {

	desc, err := v.fd(fd)
	if err != nil {
		return 0, err
	}

	if !writable(desc.flags) {
		return 0, errors.Wrapf(ErrInvalid, "fd %d is not open for writing", fd)
	}

	if len(p) == 0 {
		return 0, nil
	}

	n := int64(len(p))
	lastBlock := (desc.offset + n - 1) / ext2.BlockSize

	blocks, err := v.fs.InodeBlocks(desc.ino)
	if err != nil {
		return 0, err
	}

	if int64(len(blocks)) <= lastBlock {
		for i := int64(len(blocks)); i <= lastBlock; i++ {
			_, err = v.fs.AddBlock(desc.ino)
			if err != nil {
				return 0, errors.Wrap(err, "extending file")
			}
		}
		blocks, err = v.fs.InodeBlocks(desc.ino)
		if err != nil {
			return 0, err
		}
	}

	buf := make([]byte, ext2.BlockSize)
	copied := int64(0)

	for copied < n {

		pos := desc.offset + copied
		index := pos / ext2.BlockSize
		within := pos % ext2.BlockSize

		chunk := int64(ext2.BlockSize) - within
		if chunk > n-copied {
			chunk = n - copied
		}

		if chunk < ext2.BlockSize {
			err = v.fs.ReadBlock(blocks[index], buf)
			if err != nil {
				return int(copied), err
			}
		}

		copy(buf[within:within+chunk], p[copied:copied+chunk])

		err = v.fs.WriteBlock(blocks[index], buf)
		if err != nil {
			return int(copied), err
		}

		copied += chunk

	}

	inode, err := v.fs.ReadInode(desc.ino)
	if err != nil {
		return int(n), err
	}

	if desc.offset+n > int64(inode.SizeLower) {
		inode.SizeLower = uint32(desc.offset + n)
	}

	now := uint32(time.Now().Unix())
	inode.LastAccessTime = now
	inode.ModificationTime = now

	err = v.fs.WriteInode(desc.ino, inode)
	if err != nil {
		return int(n), err
	}

	desc.offset += n
	return int(n), nil

}

// Lseek repositions the file offset of a descriptor. Whence is one of
// io.SeekStart, io.SeekCurrent, or io.SeekEnd (relative to the file size).
func (v *VFS) Lseek(fd int, offset int64, whence int) (int64, error) {

	desc, err := v.fd(fd)
	if err != nil {
		return -1, err
	}

	var abs int64

	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = desc.offset + offset
	case io.SeekEnd:
		inode, err := v.fs.ReadInode(desc.ino)
		if err != nil {
			return -1, err
		}
		abs = int64(inode.SizeLower) + offset
	default:
		return -1, errors.Wrapf(ErrInvalid, "whence %d", whence)
	}

	if abs < 0 {
		return -1, errors.Wrapf(ErrInvalid, "offset %d", abs)
	}

	desc.offset = abs
	return abs, nil

}

// Fstat returns the metadata of the file behind a descriptor.
func (v *VFS) Fstat(fd int) (*Stat, error) {

	desc, err := v.fd(fd)
	if err != nil {
		return nil, err
	}

	inode, err := v.fs.ReadInode(desc.ino)
	if err != nil {
		return nil, err
	}

	st := statInode(desc.ino, inode)
	return &st, nil

}
