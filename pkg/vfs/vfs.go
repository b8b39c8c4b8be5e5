package vfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/vorteil/ext2srv/pkg/ext2"
)

// VFS layers POSIX-shaped file and directory operations over an ext2 engine.
// All paths crossing this boundary are absolute; relative path handling
// belongs to the caller. A VFS is not safe for concurrent use; callers
// serialize access externally.
type VFS struct {
	fs    *ext2.Filesystem
	files []fileDescription
}

// Stat is the portable subset of an inode's metadata.
type Stat struct {
	Ino        uint32
	Mode       uint16
	Size       int64
	Links      uint16
	UID        uint16
	GID        uint16
	AccessTime time.Time
	ModTime    time.Time
	ChangeTime time.Time
}

// IsDir returns true if the stat describes a directory.
func (st *Stat) IsDir() bool {
	return st.Mode&ext2.InodeTypeMask == ext2.InodeTypeDirectory
}

// ListEntry pairs a directory entry with the metadata of the inode it refers
// to.
type ListEntry struct {
	Name string
	Stat Stat
}

// Existence results returned by Exists.
const (
	Missing     = -1
	RegularFile = 0
	Directory   = 1
)

// New returns a VFS over the given file-system. Descriptors 0 through 2 are
// reserved for the standard streams and never handed out.
func New(fs *ext2.Filesystem) *VFS {
	return &VFS{
		fs:    fs,
		files: make([]fileDescription, 3),
	}
}

// Sync flushes all pending writes through to the backing device.
func (v *VFS) Sync() error {
	return v.fs.Sync()
}

// splitPath breaks an absolute path into its components, skipping empty ones.
func splitPath(path string) ([]string, error) {

	if !strings.HasPrefix(path, "/") {
		return nil, errors.Wrapf(ErrInvalid, "path '%s' is not absolute", path)
	}

	var components []string
	for _, c := range strings.Split(path, "/") {
		if c == "" {
			continue
		}
		components = append(components, c)
	}

	return components, nil

}

// lookup finds the named entry within a directory inode. It returns
// ErrNotFound if no entry matches and ErrNotDirectory if dir is not a
// directory at all.
func (v *VFS) lookup(dir uint32, name string) (uint32, error) {

	inode, err := v.fs.ReadInode(dir)
	if err != nil {
		return 0, err
	}
	if !ext2.InodeIsDirectory(inode) {
		return 0, errors.Wrapf(ErrNotDirectory, "'%s'", name)
	}

	entries, err := v.fs.Entries(dir)
	if err != nil {
		return 0, err
	}

	for _, e := range entries {
		if e.Name == name {
			return e.Inode, nil
		}
	}

	return 0, errors.Wrapf(ErrNotFound, "'%s'", name)

}

// resolve walks an absolute path down from the root and returns the inode it
// refers to.
func (v *VFS) resolve(path string) (uint32, error) {

	components, err := splitPath(path)
	if err != nil {
		return 0, err
	}

	ino := uint32(ext2.RootDirInode)
	for _, c := range components {
		ino, err = v.lookup(ino, c)
		if err != nil {
			return 0, errors.Wrapf(err, "resolving '%s'", path)
		}
	}

	return ino, nil

}

// resolveParent resolves all but the last component of a path and returns the
// parent directory's inode alongside the leaf name.
func (v *VFS) resolveParent(path string) (uint32, string, error) {

	components, err := splitPath(path)
	if err != nil {
		return 0, "", err
	}

	if len(components) == 0 {
		return 0, "", errors.Wrapf(ErrIsRoot, "'%s'", path)
	}

	ino := uint32(ext2.RootDirInode)
	for _, c := range components[:len(components)-1] {
		ino, err = v.lookup(ino, c)
		if err != nil {
			return 0, "", errors.Wrapf(err, "resolving '%s'", path)
		}
	}

	inode, err := v.fs.ReadInode(ino)
	if err != nil {
		return 0, "", err
	}
	if !ext2.InodeIsDirectory(inode) {
		return 0, "", errors.Wrapf(ErrNotDirectory, "resolving '%s'", path)
	}

	return ino, components[len(components)-1], nil

}

// Mkdir creates the directory at path, creating missing intermediate
// directories along the way. It fails with ErrExists if the final component
// already exists.
func (v *VFS) Mkdir(path string) error {

	components, err := splitPath(path)
	if err != nil {
		return err
	}

	if len(components) == 0 {
		return errors.Wrapf(ErrExists, "'/'")
	}

	ino := uint32(ext2.RootDirInode)
	created := false

	for _, c := range components {

		if len(c) > ext2.MaxNameLength {
			return errors.Wrapf(ErrNameTooLong, "'%s'", c)
		}

		next, err := v.lookup(ino, c)
		if err == nil {

			inode, err := v.fs.ReadInode(next)
			if err != nil {
				return err
			}
			if !ext2.InodeIsDirectory(inode) {
				return errors.Wrapf(ErrNotDirectory, "'%s'", c)
			}

			ino = next
			created = false
			continue

		}
		if errors.Cause(err) != ErrNotFound {
			return err
		}

		next, err = v.fs.CreateDirectory(ino)
		if err != nil {
			return errors.Wrapf(err, "mkdir '%s'", path)
		}

		err = v.fs.AddEntry(ino, ext2.Dirent{Inode: next, Type: ext2.FTypeDir, Name: c})
		if err != nil {
			return errors.Wrapf(err, "mkdir '%s'", path)
		}

		parent, err := v.fs.ReadInode(ino)
		if err != nil {
			return err
		}
		parent.Links++
		err = v.fs.WriteInode(ino, parent)
		if err != nil {
			return err
		}

		ino = next
		created = true

	}

	if !created {
		return errors.Wrapf(ErrExists, "mkdir '%s'", path)
	}

	return nil

}

// Create makes an empty regular file at path. Intermediate directories must
// already exist.
func (v *VFS) Create(path string) error {

	parent, name, err := v.resolveParent(path)
	if err != nil {
		return err
	}

	if len(name) > ext2.MaxNameLength {
		return errors.Wrapf(ErrNameTooLong, "'%s'", name)
	}

	_, err = v.lookup(parent, name)
	if err == nil {
		return errors.Wrapf(ErrExists, "create '%s'", path)
	}
	if errors.Cause(err) != ErrNotFound {
		return err
	}

	ino, err := v.fs.Ialloc()
	if err != nil {
		return errors.Wrapf(err, "create '%s'", path)
	}

	err = v.fs.WriteInode(ino, v.fs.InitInode(ext2.DefaultFilePermissions, 0, 0))
	if err != nil {
		return err
	}

	err = v.fs.AddEntry(parent, ext2.Dirent{Inode: ino, Type: ext2.FTypeRegularFile, Name: name})
	if err != nil {
		return errors.Wrapf(err, "create '%s'", path)
	}

	return nil

}

// Unlink removes the regular file at path and frees its inode and data
// blocks.
func (v *VFS) Unlink(path string) error {

	parent, name, err := v.resolveParent(path)
	if err != nil {
		return err
	}

	ino, err := v.lookup(parent, name)
	if err != nil {
		return errors.Wrapf(err, "unlink '%s'", path)
	}

	inode, err := v.fs.ReadInode(ino)
	if err != nil {
		return err
	}
	if !ext2.InodeIsRegularFile(inode) {
		return errors.Wrapf(ErrIsDirectory, "unlink '%s'", path)
	}

	err = v.fs.RemoveEntry(parent, ino)
	if err != nil {
		return err
	}

	return v.fs.Ifree(ino)

}

// Rmdir removes the directory at path. The directory must be empty and must
// not be the root.
func (v *VFS) Rmdir(path string) error {

	parent, name, err := v.resolveParent(path)
	if err != nil {
		return err
	}

	ino, err := v.lookup(parent, name)
	if err != nil {
		return errors.Wrapf(err, "rmdir '%s'", path)
	}

	if ino == ext2.RootDirInode {
		return errors.Wrapf(ErrIsRoot, "rmdir '%s'", path)
	}

	inode, err := v.fs.ReadInode(ino)
	if err != nil {
		return err
	}
	if !ext2.InodeIsDirectory(inode) {
		return errors.Wrapf(ErrNotDirectory, "rmdir '%s'", path)
	}

	entries, err := v.fs.Entries(ino)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name != "." && e.Name != ".." {
			return errors.Wrapf(ErrNotEmpty, "rmdir '%s'", path)
		}
	}

	err = v.fs.RemoveEntry(parent, ino)
	if err != nil {
		return err
	}

	err = v.fs.Ifree(ino)
	if err != nil {
		return err
	}

	parentInode, err := v.fs.ReadInode(parent)
	if err != nil {
		return err
	}
	parentInode.Links--
	return v.fs.WriteInode(parent, parentInode)

}

// Rename moves the file or directory at src to dst, which must not already
// exist. The inode is unchanged; only directory entries move.
func (v *VFS) Rename(src string, dst string) error {

	srcParent, srcName, err := v.resolveParent(src)
	if err != nil {
		return err
	}

	ino, err := v.lookup(srcParent, srcName)
	if err != nil {
		return errors.Wrapf(err, "mv '%s'", src)
	}

	dstParent, dstName, err := v.resolveParent(dst)
	if err != nil {
		return err
	}

	if len(dstName) > ext2.MaxNameLength {
		return errors.Wrapf(ErrNameTooLong, "'%s'", dstName)
	}

	_, err = v.lookup(dstParent, dstName)
	if err == nil {
		return errors.Wrapf(ErrExists, "mv '%s' to '%s'", src, dst)
	}
	if errors.Cause(err) != ErrNotFound {
		return err
	}

	inode, err := v.fs.ReadInode(ino)
	if err != nil {
		return err
	}

	ftype := uint8(ext2.FTypeRegularFile)
	if ext2.InodeIsDirectory(inode) {
		ftype = ext2.FTypeDir
	}

	err = v.fs.RemoveEntry(srcParent, ino)
	if err != nil {
		return err
	}

	err = v.fs.AddEntry(dstParent, ext2.Dirent{Inode: ino, Type: ftype, Name: dstName})
	if err != nil {
		return errors.Wrapf(err, "mv '%s' to '%s'", src, dst)
	}

	// a moved directory's '..' entry and the parents' link counts need to
	// follow it to its new home
	if ftype == ext2.FTypeDir && srcParent != dstParent {

		err = v.repointDotDot(ino, dstParent)
		if err != nil {
			return err
		}

		from, err := v.fs.ReadInode(srcParent)
		if err != nil {
			return err
		}
		from.Links--
		err = v.fs.WriteInode(srcParent, from)
		if err != nil {
			return err
		}

		to, err := v.fs.ReadInode(dstParent)
		if err != nil {
			return err
		}
		to.Links++
		err = v.fs.WriteInode(dstParent, to)
		if err != nil {
			return err
		}

	}

	return nil

}

// repointDotDot rewrites a moved directory's '..' entry to refer to its new
// parent.
func (v *VFS) repointDotDot(dir uint32, parent uint32) error {

	blocks, err := v.fs.InodeBlocks(dir)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return nil
	}

	return v.fs.RewriteEntry(blocks[0], "..", parent)

}

// statInode packages an inode's metadata.
func statInode(ino uint32, inode *ext2.Inode) Stat {
	return Stat{
		Ino:        ino,
		Mode:       inode.Permissions,
		Size:       int64(inode.SizeLower),
		Links:      inode.Links,
		UID:        inode.UID,
		GID:        inode.GID,
		AccessTime: time.Unix(int64(inode.LastAccessTime), 0),
		ModTime:    time.Unix(int64(inode.ModificationTime), 0),
		ChangeTime: time.Unix(int64(inode.CreationTime), 0),
	}
}

// Stat returns the metadata of the file or directory at path.
func (v *VFS) Stat(path string) (*Stat, error) {

	ino, err := v.resolve(path)
	if err != nil {
		return nil, err
	}

	inode, err := v.fs.ReadInode(ino)
	if err != nil {
		return nil, err
	}

	st := statInode(ino, inode)
	return &st, nil

}

// Exists reports whether path refers to something: Missing, RegularFile, or
// Directory.
func (v *VFS) Exists(path string) int {

	st, err := v.Stat(path)
	if err != nil {
		return Missing
	}

	if st.IsDir() {
		return Directory
	}

	if st.Mode&ext2.InodeTypeMask == ext2.InodeTypeRegularFile {
		return RegularFile
	}

	return Missing

}

// List returns the entries of the directory at path along with each entry's
// inode metadata.
func (v *VFS) List(path string) ([]ListEntry, error) {

	ino, err := v.resolve(path)
	if err != nil {
		return nil, err
	}

	inode, err := v.fs.ReadInode(ino)
	if err != nil {
		return nil, err
	}
	if !ext2.InodeIsDirectory(inode) {
		return nil, errors.Wrapf(ErrNotDirectory, "ls '%s'", path)
	}

	entries, err := v.fs.Entries(ino)
	if err != nil {
		return nil, err
	}

	list := make([]ListEntry, 0, len(entries))
	for _, e := range entries {
		child, err := v.fs.ReadInode(e.Inode)
		if err != nil {
			return nil, err
		}
		list = append(list, ListEntry{
			Name: e.Name,
			Stat: statInode(e.Inode, child),
		})
	}

	return list, nil

}

// RealPath normalizes a path by resolving every component against the
// file-system, collapsing '.' and '..'. Walking '..' above the root is
// clamped at the root.
func (v *VFS) RealPath(path string) (string, error) {

	components, err := splitPath(path)
	if err != nil {
		return "", err
	}

	var stack []string
	ino := uint32(ext2.RootDirInode)

	for _, c := range components {

		switch c {
		case ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
				ino = ext2.RootDirInode
				for _, s := range stack {
					ino, err = v.lookup(ino, s)
					if err != nil {
						return "", err
					}
				}
			}
			continue
		}

		next, err := v.lookup(ino, c)
		if err != nil {
			return "", errors.Wrapf(err, "resolving '%s'", path)
		}

		stack = append(stack, c)
		ino = next

	}

	return "/" + strings.Join(stack, "/"), nil

}
