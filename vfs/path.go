package vfs

import (
	"strings"

	"github.com/nanokern/corekit"
)

// Resolver walks paths against a root/cwd pair and the process-wide inode
// cache and mount table, crossing mount points transparently the way
// spec.md §4.8 describes.
type Resolver struct {
	cache  *Cache
	mounts *MountTable
}

// NewResolver creates a path resolver bound to the given caches.
func NewResolver(cache *Cache, mounts *MountTable) *Resolver {
	return &Resolver{cache: cache, mounts: mounts}
}

// Lookup resolves path against cwd (root if path is absolute), returning a
// cloned, caller-owned reference to the target inode. "." and ".." are
// handled structurally; a directory inode that is a mount point is
// substituted by the mounted filesystem's root transparently on descent,
// and the reverse substitution happens on ".." when mount.MountParent is
// set.
func (r *Resolver) Lookup(cwd *Inode, path string) (*Inode, error) {
	if path == "" {
		return nil, kernel.ENOENT
	}

	cur := cwd
	if strings.HasPrefix(path, "/") {
		root, ok := r.mounts.Root()
		if !ok {
			return nil, kernel.ENOENT
		}
		var err error
		cur, err = r.rootInode(root)
		if err != nil {
			return nil, err
		}
	} else {
		cur = cur.Clone()
	}

	for _, comp := range strings.Split(path, "/") {
		if comp == "" || comp == "." {
			continue
		}
		next, err := r.step(cur, comp)
		cur.Release()
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// rootInode returns a cloned reference to a superblock's root directory.
func (r *Resolver) rootInode(sb *Superblock) (*Inode, error) {
	return r.cache.GetOrInsert(sb.Device, 0, func() (*Inode, error) {
		return sb.GetInode(0)
	})
}

// step descends from dir into comp, crossing mount points both ways.
func (r *Resolver) step(dir *Inode, comp string) (*Inode, error) {
	if !dir.IsDir() {
		return nil, kernel.ENOTDIR
	}

	// Crossing out of a mounted filesystem's root back to the mount point.
	if comp == ".." && dir.MountParent != nil {
		dir = dir.MountParent
	}

	var target *Inode
	for i := 0; ; i++ {
		de, err := dir.Ops.GetDirEntry(dir, i)
		if err == kernel.ENOENT {
			return nil, kernel.ENOENT
		}
		if err != nil {
			return nil, err
		}
		if de.Name == comp {
			in, err := r.cache.GetOrInsert(dir.Device, de.Inode, func() (*Inode, error) {
				return dir.Superblock.GetInode(de.Inode)
			})
			if err != nil {
				return nil, err
			}
			target = in
			break
		}
	}

	// Descending across a mount point: substitute the mounted root.
	if sb, ok := r.mounts.Lookup(target); ok {
		target.Release()
		return r.rootInode(sb)
	}
	return target, nil
}

// Split separates the final path component (the name to create/unlink)
// from its parent directory path, mirroring the dirname/basename split
// spec.md's create/unlink operations need.
func Split(path string) (dir, name string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ".", path
	}
	if idx == 0 {
		return "/", path[1:]
	}
	return path[:idx], path[idx+1:]
}
