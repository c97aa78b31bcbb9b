package vfs

import "github.com/nanokern/corekit/sync2"

// Inode is the in-memory representation of a filesystem object of spec.md
// §3: reference-counted, with an opaque filesystem-specific payload and a
// back-pointer to the superblock that owns it. An inode marked as a mount
// point stores the mounted superblock's root so path resolution can cross
// it transparently.
type Inode struct {
	refs sync2.RefCount

	Device     int // minor number of the owning block device
	Ino        uint64
	Mode       InodeMode
	Perm       uint32 // permission bits, independent of the Mode type bits
	Size       int64
	Atime      int64 // seconds since epoch
	Mtime      int64 // seconds since epoch
	Superblock *Superblock
	Ops        InodeOps
	Payload    interface{} // filesystem-specific state

	// MountedRoot is non-nil when this inode is a mount point: path
	// resolution substitutes it transparently (spec.md §4.8).
	MountedRoot *Inode
	// MountParent is set on the root inode of a mounted filesystem, the
	// back-link ".." traversal needs to step out of the mount (spec.md §4.8).
	MountParent *Inode

	// Major/Minor identify the device when Mode is a device node.
	Major, Minor int
}

// NewInode wraps an inode freshly produced by a filesystem driver with a
// starting refcount of 1 (the caller's reference).
func NewInode(sb *Superblock, ino uint64, mode InodeMode, ops InodeOps) *Inode {
	return &Inode{refs: sync2.NewRefCount(), Superblock: sb, Ino: ino, Mode: mode, Ops: ops}
}

// Clone increments the inode's reference count and returns it, mirroring
// spec.md §3's "reference-counted via clone/release".
func (in *Inode) Clone() *Inode {
	in.refs.Retain()
	return in
}

// Release decrements the reference count, returning the new value so
// callers (the inode cache) know when to evict.
func (in *Inode) Release() int32 {
	return in.refs.Release()
}

// RefCount reports the current reference count, for tests and is_busy
// checks.
func (in *Inode) RefCount() int32 {
	return in.refs.Count()
}

func (in *Inode) IsDir() bool  { return in.Mode&ModeDirectory != 0 }
func (in *Inode) IsChar() bool { return in.Mode&ModeCharDevice != 0 }
func (in *Inode) IsBlock() bool { return in.Mode&ModeBlockDevice != 0 }
func (in *Inode) IsFIFO() bool { return in.Mode&ModeFIFO != 0 }

// Cache is the process-wide inode cache of spec.md §9, keyed by
// (device, inode-number) so repeated lookups of the same object share a
// single in-memory Inode and refcount.
type Cache struct {
	entries map[cacheKey]*Inode
}

type cacheKey struct {
	device int
	ino    uint64
}

// NewCache creates an empty inode cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]*Inode)}
}

// GetOrInsert returns the cached inode for (device, ino) if present
// (cloning it), otherwise inserts and returns fresh.
func (c *Cache) GetOrInsert(device int, ino uint64, fresh func() (*Inode, error)) (*Inode, error) {
	key := cacheKey{device, ino}
	if in, ok := c.entries[key]; ok {
		return in.Clone(), nil
	}
	in, err := fresh()
	if err != nil {
		return nil, err
	}
	c.entries[key] = in
	return in.Clone(), nil
}

// Forget drops the cache's own reference to an inode once its refcount
// would otherwise reach zero; callers still hold their own reference and
// must Release it separately.
func (c *Cache) Forget(in *Inode) {
	key := cacheKey{in.Device, in.Ino}
	if cur, ok := c.entries[key]; ok && cur == in {
		delete(c.entries, key)
	}
}
