package vfs

import (
	"sync"

	"github.com/nanokern/corekit"
)

// Superblock is the in-memory handle for a mounted filesystem (spec.md §3):
// an inode factory plus the bookkeeping a mount needs to know whether it
// can be safely unmounted.
type Superblock struct {
	Device int
	Driver FilesystemDriver
	dev    BlockDevice

	mu       sync.Mutex
	busyRefs int // open files referencing inodes on this superblock

	GetInode func(ino uint64) (*Inode, error)
}

// IsBusy reports whether any open file currently references an inode on
// this superblock (spec.md §4.8: "Unmount requires is_busy(
// superblock) false"). A process's current working directory is not
// counted.
func (sb *Superblock) IsBusy() bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.busyRefs > 0
}

func (sb *Superblock) pin()   { sb.mu.Lock(); sb.busyRefs++; sb.mu.Unlock() }
func (sb *Superblock) unpin() { sb.mu.Lock(); sb.busyRefs--; sb.mu.Unlock() }

// MountTable maps mount-point inodes to the superblocks mounted there
// (spec.md §9's "mount table... process-wide singleton").
type MountTable struct {
	mu     sync.Mutex
	mounts map[*Inode]*Superblock
	root   *Superblock
}

// NewMountTable creates an empty mount table.
func NewMountTable() *MountTable {
	return &MountTable{mounts: make(map[*Inode]*Superblock)}
}

// MountRoot installs the root filesystem's superblock (spec.md §4.8: "Root
// mount uses inode=null").
func (t *MountTable) MountRoot(sb *Superblock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = sb
}

// Root returns the root superblock, if one has been mounted.
func (t *MountTable) Root() (*Superblock, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root, t.root != nil
}

// Mount implements spec.md §4.8's fs_mount: probes driver against dev,
// rejects a mount point that is already mounted, non-directory, or whose
// device is already mounted somewhere.
func (t *MountTable) Mount(mountPoint *Inode, dev BlockDevice, minor int, driver FilesystemDriver) (*Superblock, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if mountPoint != nil && !mountPoint.IsDir() {
		return nil, kernel.ENOTDIR
	}
	if mountPoint != nil {
		if _, ok := t.mounts[mountPoint]; ok {
			return nil, kernel.EEXIST
		}
	}
	for _, sb := range t.mounts {
		if sb.Device == minor {
			return nil, kernel.EBUSY
		}
	}
	if t.root != nil && t.root.Device == minor {
		return nil, kernel.EBUSY
	}
	if !driver.Probe(dev, minor) {
		return nil, kernel.EINVAL
	}
	sb, err := driver.GetSuperblock(dev, minor)
	if err != nil {
		return nil, err
	}
	if mountPoint != nil {
		t.mounts[mountPoint] = sb
	} else {
		t.root = sb
	}
	return sb, nil
}

// Lookup returns the superblock mounted at inode, if any.
func (t *MountTable) Lookup(mountPoint *Inode) (*Superblock, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sb, ok := t.mounts[mountPoint]
	return sb, ok
}

// Unmount removes the mount at mountPoint if its superblock is not busy
// (spec.md §4.8).
func (t *MountTable) Unmount(mountPoint *Inode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	sb, ok := t.mounts[mountPoint]
	if !ok {
		return kernel.EINVAL
	}
	if sb.IsBusy() {
		return kernel.EBUSY
	}
	delete(t.mounts, mountPoint)
	return nil
}
