// Package ramfs is a minimal in-memory filesystem driver, the kind of
// fixture spec.md §6's filesystem contract asks implementers to supply:
// concrete on-disk formats (FAT16, ext2) are named Non-goals, but the VFS
// core still needs at least one real driver to mount, read, write, and
// create through for demos and tests.
//
// Inodes and directory entries live in a small map-backed table guarded by
// a mutex rather than anything parsed off the wire.
package ramfs

import (
	"sync"

	"github.com/nanokern/corekit"
	"github.com/nanokern/corekit/vfs"
)

// Device is an in-memory BlockDevice: BlockSize-byte slots backing a
// single ramfs instance. It exists so ramfs can be mounted through the
// same vfs.BlockDeviceRegistry path a real disk driver would use.
type Device struct {
	mu     sync.Mutex
	blocks map[int][]byte
}

// NewDevice creates an empty in-memory block device.
func NewDevice() *Device {
	return &Device{blocks: make(map[int][]byte)}
}

func (d *Device) Open(minor int) error  { return nil }
func (d *Device) Close(minor int) error { return nil }

func (d *Device) Read(minor, firstBlock, blocks int, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < blocks; i++ {
		block := d.blocks[firstBlock+i]
		copy(buf[i*vfs.BlockSize:(i+1)*vfs.BlockSize], block)
	}
	return nil
}

func (d *Device) Write(minor, firstBlock, blocks int, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < blocks; i++ {
		b := make([]byte, vfs.BlockSize)
		copy(b, buf[i*vfs.BlockSize:(i+1)*vfs.BlockSize])
		d.blocks[firstBlock+i] = b
	}
	return nil
}

func (d *Device) SectorSize() int { return vfs.BlockSize }

// node is one ramfs inode: either a directory (entries) or a regular file
// (data), never both.
type node struct {
	mu      sync.Mutex
	ino     uint64
	mode    vfs.InodeMode
	data    []byte
	entries []vfs.Dirent
}

// Driver is the ramfs filesystem driver: it always probes true (any device
// may host a fresh ramfs) and manufactures its superblock lazily.
type Driver struct {
	mu    sync.Mutex
	nodes map[uint64]*node
	next  uint64
}

// New creates a ramfs driver pre-seeded with an empty root directory
// (inode 0).
func New() *Driver {
	d := &Driver{nodes: make(map[uint64]*node)}
	root := &node{ino: 0, mode: vfs.ModeDirectory}
	root.entries = []vfs.Dirent{{Name: ".", Inode: 0}, {Name: "..", Inode: 0}}
	d.nodes[0] = root
	d.next = 1
	return d
}

// Probe always succeeds: ramfs has no on-disk format to validate.
func (d *Driver) Probe(dev vfs.BlockDevice, minor int) bool { return true }

// GetSuperblock returns a Superblock whose GetInode resolves ramfs's
// in-memory node table and whose InodeOps dispatch back into d.
func (d *Driver) GetSuperblock(dev vfs.BlockDevice, minor int) (*vfs.Superblock, error) {
	sb := &vfs.Superblock{Device: minor, Driver: d}
	sb.GetInode = func(ino uint64) (*vfs.Inode, error) {
		d.mu.Lock()
		n, ok := d.nodes[ino]
		d.mu.Unlock()
		if !ok {
			return nil, kernel.ENOENT
		}
		in := vfs.NewInode(sb, ino, n.mode, d)
		in.Device = minor
		n.mu.Lock()
		in.Size = int64(len(n.data))
		n.mu.Unlock()
		return in, nil
	}
	return sb, nil
}

func (d *Driver) get(ino uint64) (*node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[ino]
	if !ok {
		return nil, kernel.ENOENT
	}
	return n, nil
}

// Read copies from the file's in-memory buffer at offset.
func (d *Driver) Read(in *vfs.Inode, offset int64, buf []byte) (int, error) {
	n, err := d.get(in.Ino)
	if err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if offset >= int64(len(n.data)) {
		return 0, nil
	}
	c := copy(buf, n.data[offset:])
	return c, nil
}

// Write extends the file's in-memory buffer as needed and copies in.
func (d *Driver) Write(in *vfs.Inode, offset int64, buf []byte) (int, error) {
	n, err := d.get(in.Ino)
	if err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	end := offset + int64(len(buf))
	if end > int64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[offset:end], buf)
	in.Size = int64(len(n.data))
	return len(buf), nil
}

// Trunc resizes the file's in-memory buffer.
func (d *Driver) Trunc(in *vfs.Inode, size int64) error {
	n, err := d.get(in.Ino)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if size <= int64(len(n.data)) {
		n.data = n.data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, n.data)
		n.data = grown
	}
	in.Size = size
	return nil
}

// GetDirEntry returns the index'th entry of a directory inode.
func (d *Driver) GetDirEntry(in *vfs.Inode, index int) (vfs.Dirent, error) {
	n, err := d.get(in.Ino)
	if err != nil {
		return vfs.Dirent{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if index < 0 || index >= len(n.entries) {
		return vfs.Dirent{}, kernel.ENOENT
	}
	return n.entries[index], nil
}

// Create adds a new named entry under dir, allocating a fresh inode.
func (d *Driver) Create(dir *vfs.Inode, name string, mode vfs.InodeMode) (*vfs.Inode, error) {
	parent, err := d.get(dir.Ino)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	ino := d.next
	d.next++
	child := &node{ino: ino, mode: mode}
	if mode&vfs.ModeDirectory != 0 {
		child.entries = []vfs.Dirent{{Name: ".", Inode: ino}, {Name: "..", Inode: dir.Ino}}
	}
	d.nodes[ino] = child
	d.mu.Unlock()

	parent.mu.Lock()
	for _, e := range parent.entries {
		if e.Name == name {
			parent.mu.Unlock()
			return nil, kernel.EEXIST
		}
	}
	parent.entries = append(parent.entries, vfs.Dirent{Name: name, Inode: ino})
	parent.mu.Unlock()

	return vfs.NewInode(dir.Superblock, ino, mode, d), nil
}

// Unlink removes a named entry from dir.
func (d *Driver) Unlink(dir *vfs.Inode, name string, flags int) error {
	parent, err := d.get(dir.Ino)
	if err != nil {
		return err
	}
	parent.mu.Lock()
	defer parent.mu.Unlock()
	for i, e := range parent.entries {
		if e.Name == name {
			parent.entries = append(parent.entries[:i], parent.entries[i+1:]...)
			d.mu.Lock()
			delete(d.nodes, e.Inode)
			d.mu.Unlock()
			return nil
		}
	}
	return kernel.ENOENT
}
