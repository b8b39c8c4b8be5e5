package ext2

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"encoding/binary"
	"fmt"
	"testing"
)

// direntChainCovers checks the fundamental dirent block invariant: record
// lengths chain across exactly the whole block with no gaps and no short
// records.
func direntChainCovers(t *testing.T, block []byte) {

	t.Helper()

	total := 0
	for offset := 0; offset < len(block); {
		hdr := readDirentHeader(block, offset)
		if hdr.recLen < direntLength(string(block[offset+direntHeaderSize:offset+direntHeaderSize+hdr.nameLen])) && hdr.inode != 0 {
			t.Fatalf("record at offset %d is shorter than its minimum length", offset)
		}
		total += hdr.recLen
		offset += hdr.recLen
	}

	if total != len(block) {
		t.Fatalf("record lengths sum to %d -- expect %d", total, len(block))
	}

}

func TestDirentLength(t *testing.T) {

	if direntLength(".") != 12 {
		t.Errorf("dirent length calculation is broken for '.' -- expect 12 but got %d", direntLength("."))
	}

	if direntLength("..") != 12 {
		t.Errorf("dirent length calculation is broken for '..' -- expect 12 but got %d", direntLength(".."))
	}

	if direntLength("abc") != 12 {
		t.Errorf("dirent length calculation is broken for 'abc' -- expect 12 but got %d", direntLength("abc"))
	}

	if direntLength("abcd") != 16 {
		t.Errorf("dirent length calculation is broken for 'abcd' -- expect 16 but got %d", direntLength("abcd"))
	}

}

func TestInitDirentBlock(t *testing.T) {

	block := make([]byte, BlockSize)
	initDirentBlock(block, 2, 2)

	direntChainCovers(t, block)

	entries := direntBlockEntries(block)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries -- got %d", len(entries))
	}

	if entries[0].Name != "." || entries[0].Inode != 2 {
		t.Errorf("first entry is not '.' -> 2")
	}

	if entries[1].Name != ".." || entries[1].Inode != 2 {
		t.Errorf("second entry is not '..' -> 2")
	}

	if binary.LittleEndian.Uint16(block[4:]) != 12 {
		t.Errorf("'.' record length must be 12")
	}

	if int(binary.LittleEndian.Uint16(block[16:])) != BlockSize-12 {
		t.Errorf("'..' record must absorb the remainder of the block")
	}

}

func TestInitEmptyDirentBlock(t *testing.T) {

	block := make([]byte, BlockSize)
	initEmptyDirentBlock(block)

	direntChainCovers(t, block)

	if len(direntBlockEntries(block)) != 0 {
		t.Errorf("empty block must enumerate no entries")
	}

}

func TestInsertDirent(t *testing.T) {

	block := make([]byte, BlockSize)
	initDirentBlock(block, 2, 2)

	ok := insertDirent(block, Dirent{Inode: 12, Type: FTypeRegularFile, Name: "hello.txt"})
	if !ok {
		t.Fatalf("insert into a fresh directory block failed")
	}

	direntChainCovers(t, block)

	entries := direntBlockEntries(block)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries -- got %d", len(entries))
	}

	if entries[2].Name != "hello.txt" || entries[2].Inode != 12 || entries[2].Type != FTypeRegularFile {
		t.Errorf("inserted entry decoded incorrectly: %+v", entries[2])
	}

}

func TestInsertDirentIntoTombstone(t *testing.T) {

	block := make([]byte, BlockSize)
	initEmptyDirentBlock(block)

	ok := insertDirent(block, Dirent{Inode: 15, Type: FTypeDir, Name: "sub"})
	if !ok {
		t.Fatalf("insert into an empty directory block failed")
	}

	direntChainCovers(t, block)

	entries := direntBlockEntries(block)
	if len(entries) != 1 || entries[0].Name != "sub" {
		t.Fatalf("expected the inserted entry -- got %+v", entries)
	}

}

func TestInsertDirentUntilFull(t *testing.T) {

	block := make([]byte, BlockSize)
	initDirentBlock(block, 2, 2)

	n := 0
	for {
		if !insertDirent(block, Dirent{Inode: uint32(100 + n), Type: FTypeRegularFile, Name: fmt.Sprintf("f%03d", n)}) {
			break
		}
		n++
		direntChainCovers(t, block)
	}

	// 24 bytes of './..' then 16-byte records, with the last record absorbing
	// whatever slack is left over
	expect := (BlockSize - 24) / 16
	if n != expect {
		t.Errorf("expected %d inserts before the block fills -- got %d", expect, n)
	}

}

func TestRemoveDirent(t *testing.T) {

	block := make([]byte, BlockSize)
	initDirentBlock(block, 2, 2)

	for i := 0; i < 5; i++ {
		if !insertDirent(block, Dirent{Inode: uint32(100 + i), Type: FTypeRegularFile, Name: fmt.Sprintf("f%d", i)}) {
			t.Fatalf("insert %d failed", i)
		}
	}

	before := direntBlockEntries(block)

	if !removeDirent(block, 102) {
		t.Fatalf("remove failed to find the entry")
	}

	direntChainCovers(t, block)

	after := direntBlockEntries(block)
	if len(after) != len(before)-1 {
		t.Fatalf("expected %d entries after removal -- got %d", len(before)-1, len(after))
	}

	for _, e := range after {
		if e.Inode == 102 {
			t.Errorf("removed entry still enumerable")
		}
	}

	if removeDirent(block, 102) {
		t.Errorf("removing a missing entry must report false")
	}

}

func TestInsertReclaimsRemovedSpace(t *testing.T) {

	block := make([]byte, BlockSize)
	initDirentBlock(block, 2, 2)

	// fill the block completely
	n := 0
	for insertDirent(block, Dirent{Inode: uint32(100 + n), Type: FTypeRegularFile, Name: fmt.Sprintf("f%03d", n)}) {
		n++
	}

	// delete one entry in the middle, then a same-sized insert must succeed
	if !removeDirent(block, 105) {
		t.Fatalf("remove failed")
	}

	if !insertDirent(block, Dirent{Inode: 999, Type: FTypeRegularFile, Name: "g000"}) {
		t.Fatalf("insert did not reclaim the removed entry's space")
	}

	direntChainCovers(t, block)

}

func TestDirentRoundTrip(t *testing.T) {

	block := make([]byte, BlockSize)
	initDirentBlock(block, 2, 2)

	before := direntBlockEntries(block)

	if !insertDirent(block, Dirent{Inode: 50, Type: FTypeRegularFile, Name: "transient"}) {
		t.Fatalf("insert failed")
	}
	if !removeDirent(block, 50) {
		t.Fatalf("remove failed")
	}

	after := direntBlockEntries(block)

	if len(before) != len(after) {
		t.Fatalf("insert followed by delete changed the enumerable set")
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("entry %d changed: %+v != %+v", i, before[i], after[i])
		}
	}

}
