package ext2

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"encoding/binary"
	"fmt"
)

// Dirent is the decoded form of a single directory entry.
type Dirent struct {
	Inode uint32
	Type  uint8
	Name  string
}

const direntHeaderSize = 8

// direntLength returns the minimum record length able to hold an entry with
// the given name: an 8-byte header, the name, a NUL, padded to 4 bytes.
func direntLength(name string) int {
	return direntHeaderSize + int(align(int64(len(name)+1), dentryNameAlignment))
}

type direntHeader struct {
	inode   uint32
	recLen  int
	nameLen int
	ftype   uint8
}

func readDirentHeader(block []byte, offset int) direntHeader {

	hdr := direntHeader{
		inode:   binary.LittleEndian.Uint32(block[offset:]),
		recLen:  int(binary.LittleEndian.Uint16(block[offset+4:])),
		nameLen: int(block[offset+6]),
		ftype:   block[offset+7],
	}

	if hdr.recLen < direntHeaderSize || hdr.recLen%dentryNameAlignment != 0 ||
		offset+hdr.recLen > len(block) || direntHeaderSize+hdr.nameLen > hdr.recLen {
		panic(fmt.Sprintf("corrupt directory entry at offset %d: rec_len=%d name_len=%d", offset, hdr.recLen, hdr.nameLen))
	}

	return hdr

}

func writeDirent(block []byte, offset int, e Dirent, recLen int) {

	region := block[offset : offset+recLen]
	for i := range region {
		region[i] = 0
	}

	binary.LittleEndian.PutUint32(region, e.Inode)
	binary.LittleEndian.PutUint16(region[4:], uint16(recLen))
	region[6] = uint8(len(e.Name))
	region[7] = e.Type
	copy(region[direntHeaderSize:], e.Name)

}

// direntBlockEntries decodes every live entry in a directory data block.
// Tombstones (inode 0) are skipped.
func direntBlockEntries(block []byte) []Dirent {

	var entries []Dirent

	for offset := 0; offset < len(block); {
		hdr := readDirentHeader(block, offset)
		if hdr.inode != 0 {
			entries = append(entries, Dirent{
				Inode: hdr.inode,
				Type:  hdr.ftype,
				Name:  string(block[offset+direntHeaderSize : offset+direntHeaderSize+hdr.nameLen]),
			})
		}
		offset += hdr.recLen
	}

	return entries

}

// insertDirent places e into the first slot in the block able to hold it:
// either a tombstone large enough to be overwritten in place, or the slack at
// the end of a live entry, which is split off into a new record. It returns
// false if no slot has enough room.
func insertDirent(block []byte, e Dirent) bool {

	need := direntLength(e.Name)

	for offset := 0; offset < len(block); {

		hdr := readDirentHeader(block, offset)

		if hdr.inode == 0 {
			if hdr.recLen >= need {
				writeDirent(block, offset, e, hdr.recLen)
				return true
			}
		} else {
			used := direntHeaderSize + int(align(int64(hdr.nameLen+1), dentryNameAlignment))
			slack := hdr.recLen - used
			if slack >= need {
				binary.LittleEndian.PutUint16(block[offset+4:], uint16(used))
				writeDirent(block, offset+used, e, slack)
				return true
			}
		}

		offset += hdr.recLen

	}

	return false

}

// removeDirent deletes the entry referring to ino from the block. The freed
// space is merged into the preceding entry's record length, or left behind as
// a tombstone when the match is the first record in the block. It returns
// false if no entry matches.
func removeDirent(block []byte, ino uint32) bool {

	prev := -1

	for offset := 0; offset < len(block); {

		hdr := readDirentHeader(block, offset)

		if hdr.inode == ino {

			name := string(block[offset+direntHeaderSize : offset+direntHeaderSize+hdr.nameLen])
			if name == "." || name == ".." {
				panic(fmt.Sprintf("attempt to remove '%s' from a directory block", name))
			}

			if prev < 0 {
				binary.LittleEndian.PutUint32(block[offset:], 0)
				block[offset+6] = 0
				block[offset+7] = 0
			} else {
				prevLen := int(binary.LittleEndian.Uint16(block[prev+4:]))
				binary.LittleEndian.PutUint16(block[prev+4:], uint16(prevLen+hdr.recLen))
				binary.LittleEndian.PutUint32(block[offset:], 0)
				binary.LittleEndian.PutUint16(block[offset+4:], 0)
			}

			return true

		}

		prev = offset
		offset += hdr.recLen

	}

	return false

}

// initDirentBlock formats a fresh first block for a directory: a '.' entry
// referring to the directory itself and a '..' entry consuming the remainder
// of the block.
func initDirentBlock(block []byte, self uint32, parent uint32) {

	for i := range block {
		block[i] = 0
	}

	writeDirent(block, 0, Dirent{Inode: self, Type: FTypeDir, Name: "."}, 12)
	writeDirent(block, 12, Dirent{Inode: parent, Type: FTypeDir, Name: ".."}, len(block)-12)

}

// initEmptyDirentBlock formats a block appended to a grown directory: one
// tombstone covering the whole block, ready to be overwritten by inserts.
func initEmptyDirentBlock(block []byte) {

	for i := range block {
		block[i] = 0
	}

	binary.LittleEndian.PutUint16(block[4:], uint16(len(block)))

}
