package vdisk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"container/list"
)

// Cache is a fixed-capacity fully-associative write-back cache of whole
// blocks sitting between the file-system engine and a Disk. It is not safe
// for concurrent use; serialization is the caller's responsibility.
type Cache struct {
	disk     *Disk
	capacity int

	// recency orders cached blocks with the most-recently-used at the front;
	// index maps a block number to its element in that list.
	recency *list.List
	index   map[int64]*list.Element
}

type cacheEntry struct {
	block int64
	dirty bool
	data  []byte
}

// NewCache wraps disk with a write-back LRU cache holding up to entries
// blocks at a time.
func NewCache(disk *Disk, entries int) *Cache {

	if entries < 1 {
		entries = 1
	}

	return &Cache{
		disk:     disk,
		capacity: entries,
		recency:  list.New(),
		index:    make(map[int64]*list.Element),
	}

}

// Blocks returns the total number of blocks on the underlying disk.
func (c *Cache) Blocks() int64 {
	return c.disk.Blocks()
}

func (c *Cache) evict() error {

	elem := c.recency.Back()
	entry := elem.Value.(*cacheEntry)

	if entry.dirty {
		err := c.disk.WriteBlock(entry.block, entry.data)
		if err != nil {
			return err
		}
	}

	c.recency.Remove(elem)
	delete(c.index, entry.block)
	return nil

}

// lookup returns the cache slot holding block n, loading it from the disk
// (and evicting the least-recently-used slot if necessary) on a miss. The
// slot is promoted to most-recently-used either way.
func (c *Cache) lookup(n int64) (*cacheEntry, error) {

	if elem, ok := c.index[n]; ok {
		c.recency.MoveToFront(elem)
		return elem.Value.(*cacheEntry), nil
	}

	if c.recency.Len() >= c.capacity {
		err := c.evict()
		if err != nil {
			return nil, err
		}
	}

	entry := &cacheEntry{
		block: n,
		data:  make([]byte, BlockSize),
	}

	err := c.disk.ReadBlock(n, entry.data)
	if err != nil {
		return nil, err
	}

	c.index[n] = c.recency.PushFront(entry)
	return entry, nil

}

// ReadBlock copies block n into buf, loading it through the cache.
func (c *Cache) ReadBlock(n int64, buf []byte) error {

	entry, err := c.lookup(n)
	if err != nil {
		return err
	}

	copy(buf[:BlockSize], entry.data)
	return nil

}

// WriteBlock replaces the cached contents of block n with buf and marks the
// slot dirty. The write reaches the disk on eviction or flush.
func (c *Cache) WriteBlock(n int64, buf []byte) error {

	entry, err := c.lookup(n)
	if err != nil {
		return err
	}

	copy(entry.data, buf[:BlockSize])
	entry.dirty = true
	return nil

}

// Flush writes block n through to the disk if it is cached and dirty.
func (c *Cache) Flush(n int64) error {

	elem, ok := c.index[n]
	if !ok {
		return nil
	}

	entry := elem.Value.(*cacheEntry)
	if !entry.dirty {
		return nil
	}

	err := c.disk.WriteBlock(entry.block, entry.data)
	if err != nil {
		return err
	}

	entry.dirty = false
	return nil

}

// FlushAll writes every dirty slot through to the disk and then syncs it.
func (c *Cache) FlushAll() error {

	for elem := c.recency.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*cacheEntry)
		if !entry.dirty {
			continue
		}
		err := c.disk.WriteBlock(entry.block, entry.data)
		if err != nil {
			return err
		}
		entry.dirty = false
	}

	return c.disk.Sync()

}

// Close flushes the cache and closes the underlying disk.
func (c *Cache) Close() error {

	err := c.FlushAll()
	if err != nil {
		_ = c.disk.Close()
		return err
	}

	return c.disk.Close()

}
