package ext2

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"
	"unsafe"
)

type zeroReader struct{}

func (z zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

var zeroes zeroReader

func offsetOf(obj, field interface{}) int {

	err := binary.Read(zeroes, binary.LittleEndian, obj)
	if err != nil {
		panic(err)
	}

	ptr := (*uint8)(unsafe.Pointer(reflect.ValueOf(field).Pointer()))
	val := *ptr
	*ptr = 0xFF

	buf := new(bytes.Buffer)
	err = binary.Write(buf, binary.LittleEndian, obj)
	if err != nil {
		panic(err)
	}

	*ptr = val
	data := buf.Bytes()

	for i, b := range data {
		if b != 0 {
			return i
		}
	}

	return 0

}

func TestSuperblockStruct(t *testing.T) {

	// check that the struct is the correct size
	sb := &Superblock{}
	size := binary.Size(sb)

	if size != BlockSize {
		t.Errorf("struct Superblock is the wrong size -- expect %d but got %d", BlockSize, size)
	}

	// check that a couple of the fields are at the correct offsets
	var offset int

	offset = offsetOf(sb, &sb.Signature)
	if offset != 56 {
		t.Errorf("struct Superblock has been corrupted (Signature is at offset %d, expect 56)", offset)
	}

	offset = offsetOf(sb, &sb.FirstInode)
	if offset != 84 {
		t.Errorf("struct Superblock has been corrupted (FirstInode is at offset %d, expect 84)", offset)
	}

	offset = offsetOf(sb, &sb.InodeSize)
	if offset != 88 {
		t.Errorf("struct Superblock has been corrupted (InodeSize is at offset %d, expect 88)", offset)
	}

	offset = offsetOf(sb, &sb.UUID)
	if offset != 104 {
		t.Errorf("struct Superblock has been corrupted (UUID is at offset %d, expect 104)", offset)
	}

	offset = offsetOf(sb, &sb.VolumeName)
	if offset != 120 {
		t.Errorf("struct Superblock has been corrupted (VolumeName is at offset %d, expect 120)", offset)
	}

}

func TestBlockGroupDescriptorStruct(t *testing.T) {

	bgd := &BlockGroupDescriptorTableEntry{}
	size := binary.Size(bgd)

	if size != DescriptorSize {
		t.Errorf("struct BlockGroupDescriptorTableEntry is the wrong size -- expect %d but got %d", DescriptorSize, size)
	}

	offset := offsetOf(bgd, &bgd.Directories)
	if offset != 16 {
		t.Errorf("struct BlockGroupDescriptorTableEntry has been corrupted (Directories is at offset %d, expect 16)", offset)
	}

}

func TestInodeStruct(t *testing.T) {

	inode := &Inode{}
	size := binary.Size(inode)

	if size != InodeSize {
		t.Errorf("struct Inode is the wrong size -- expect %d but got %d", InodeSize, size)
	}

	var offset int

	offset = offsetOf(inode, &inode.SizeLower)
	if offset != 4 {
		t.Errorf("struct Inode has been corrupted (SizeLower is at offset %d, expect 4)", offset)
	}

	offset = offsetOf(inode, &inode.DirectPointer)
	if offset != 40 {
		t.Errorf("struct Inode has been corrupted (DirectPointer is at offset %d, expect 40)", offset)
	}

	offset = offsetOf(inode, &inode.SinglyIndirect)
	if offset != 88 {
		t.Errorf("struct Inode has been corrupted (SinglyIndirect is at offset %d, expect 88)", offset)
	}

}

func TestInodeTypeChecks(t *testing.T) {

	dir := &Inode{Permissions: DefaultDirPermissions}
	if !InodeIsDirectory(dir) || InodeIsRegularFile(dir) {
		t.Errorf("directory mode misidentified")
	}

	reg := &Inode{Permissions: DefaultFilePermissions}
	if !InodeIsRegularFile(reg) || InodeIsDirectory(reg) {
		t.Errorf("regular file mode misidentified")
	}

}
