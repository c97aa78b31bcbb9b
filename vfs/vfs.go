package vfs

import (
	"sync"

	"github.com/nanokern/corekit"
)

// VFS bundles the process-wide filesystem singletons of spec.md §9 (block
// device registry, block cache, inode cache, mount table) behind the
// top-level operation set spec.md §4 describes. It is the filesystem
// analogue of netstack.Stack: constructed explicitly, with no package-level
// global state.
type VFS struct {
	Devices  *BlockDeviceRegistry
	Blocks   *BlockCache
	Inodes   *Cache
	Mounts   *MountTable
	Resolver *Resolver
	Metrics  *Metrics
}

// New creates an empty VFS with a block cache of the given capacity
// (BlockCacheCapacity if zero).
func New(blockCacheCapacity int) *VFS {
	devices := NewBlockDeviceRegistry()
	mounts := NewMountTable()
	inodes := NewCache()
	return &VFS{
		Devices:  devices,
		Blocks:   NewBlockCache(devices, blockCacheCapacity),
		Inodes:   inodes,
		Mounts:   mounts,
		Resolver: NewResolver(inodes, mounts),
		Metrics:  NewMetrics(),
	}
}

// Mount probes driver against the device registered as minor and, on
// success, installs its superblock at mountPoint (nil for the root mount).
func (v *VFS) Mount(mountPoint *Inode, minor int, driver FilesystemDriver) (*Superblock, error) {
	dev, err := v.Devices.Get(minor)
	if err != nil {
		return nil, err
	}
	sb, err := v.Mounts.Mount(mountPoint, dev, minor, driver)
	if err != nil {
		return nil, err
	}
	if mountPoint != nil {
		// Link the mounted filesystem's root back to its mount point so
		// ".." can step out of the mount (spec.md §4.8).
		root, err := v.Inodes.GetOrInsert(sb.Device, 0, func() (*Inode, error) {
			return sb.GetInode(0)
		})
		if err != nil {
			return nil, err
		}
		root.MountParent = mountPoint.Clone()
		root.Release()
	}
	v.Metrics.MountsActive.Inc()
	return sb, nil
}

// Unmount removes the mount at mountPoint, refusing if it is busy.
func (v *VFS) Unmount(mountPoint *Inode) error {
	if err := v.Mounts.Unmount(mountPoint); err != nil {
		return err
	}
	v.Metrics.MountsActive.Dec()
	return nil
}

// Process is a single caller's view into the VFS: its own descriptor
// table, current working directory and umask (spec.md §3's per-process
// state, distinct from the filesystem-wide singletons above).
type Process struct {
	vfs *VFS

	mu    sync.Mutex
	umask uint32
	fds   *FDTable
}

// NewProcess creates a process rooted at the VFS's mounted root, with an
// empty descriptor table.
func NewProcess(v *VFS) (*Process, error) {
	root, ok := v.Mounts.Root()
	if !ok {
		return nil, kernel.ENOENT
	}
	cwd, err := root.GetInode(0)
	if err != nil {
		return nil, err
	}
	return &Process{vfs: v, fds: NewFDTable(cwd)}, nil
}

// Umask sets the process permission-creation mask and returns the
// previous value.
func (p *Process) Umask(mask uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.umask
	p.umask = mask
	return prev
}

func (p *Process) applyUmask(perm uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return perm &^ p.umask
}

// Chdir changes the process's current working directory to path.
func (p *Process) Chdir(path string) error {
	dir, err := p.vfs.Resolver.Lookup(p.fds.Cwd(), path)
	if err != nil {
		return err
	}
	if !dir.IsDir() {
		dir.Release()
		return kernel.ENOTDIR
	}
	p.fds.Chdir(dir)
	return nil
}

// Fchdir changes cwd to the directory already open on fd.
func (p *Process) Fchdir(fd int) error {
	f, err := p.fds.Get(fd)
	if err != nil {
		return err
	}
	if !f.Inode.IsDir() {
		return kernel.ENOTDIR
	}
	p.fds.Chdir(f.Inode.Clone())
	return nil
}

// Getcwd returns the process's current working directory inode without
// transferring ownership; callers needing the path string must walk it
// themselves via directory entries (no dentry cache is kept, per spec.md's
// stat-by-number design).
func (p *Process) Getcwd() *Inode {
	return p.fds.Cwd()
}

// Open resolves path and returns a new descriptor, creating the file if
// O_CREAT is set and it does not exist.
func (p *Process) Open(path string, flags OpenFlags, perm uint32) (int, error) {
	in, err := p.vfs.Resolver.Lookup(p.fds.Cwd(), path)
	if err == kernel.ENOENT && flags&O_CREAT != 0 {
		dirPath, name := Split(path)
		dir, derr := p.vfs.Resolver.Lookup(p.fds.Cwd(), dirPath)
		if derr != nil {
			return -1, derr
		}
		in, err = dir.Ops.Create(dir, name, ModeRegular)
		if err == nil {
			in.Perm = p.applyUmask(perm)
			created := in
			created.Device = dir.Device
			// Enter the new inode into the inode cache so later lookups
			// share this Inode (and its Perm) instead of a fresh copy.
			in, err = p.vfs.Inodes.GetOrInsert(created.Device, created.Ino, func() (*Inode, error) {
				return created, nil
			})
		}
		dir.Release()
	}
	if err != nil {
		return -1, err
	}
	if flags&O_TRUNC != 0 && flags.writable() {
		if terr := in.Ops.Trunc(in, 0); terr != nil {
			in.Release()
			return -1, terr
		}
	}
	of := newOpenFile(in, flags)
	if in.IsFIFO() {
		pipe, _ := in.Payload.(*Pipe)
		if pipe == nil {
			pipe = NewPipe()
			in.Payload = pipe
		}
		of.Pipe = pipe
		if flags.readable() {
			pipe.AddReader()
		}
		if flags.writable() {
			pipe.AddWriter()
		}
	}
	p.vfs.Metrics.OpenFiles.Inc()
	return p.fds.Install(of, flags), nil
}

// Openat resolves path relative to the directory open on dirfd.
func (p *Process) Openat(dirfd int, path string, flags OpenFlags, mode InodeMode) (int, error) {
	base := p.fds.Cwd()
	if dirfd >= 0 {
		f, err := p.fds.Get(dirfd)
		if err != nil {
			return -1, err
		}
		base = f.Inode
	}
	in, err := p.vfs.Resolver.Lookup(base, path)
	if err != nil {
		return -1, err
	}
	of := newOpenFile(in, flags)
	p.vfs.Metrics.OpenFiles.Inc()
	return p.fds.Install(of, flags), nil
}

// Close releases fd.
func (p *Process) Close(fd int) error {
	f, err := p.fds.Get(fd)
	if err != nil {
		return err
	}
	if f.Pipe != nil {
		if f.Flags.readable() {
			f.Pipe.DropReader()
		}
		if f.Flags.writable() {
			f.Pipe.DropWriter()
		}
	}
	if err := p.fds.Close(fd); err != nil {
		return err
	}
	p.vfs.Metrics.OpenFiles.Dec()
	return nil
}

// Read, Write, Lseek, Ftruncate dispatch to the descriptor's OpenFile.
func (p *Process) Read(fd int, buf []byte) (int, error) {
	f, err := p.fds.Get(fd)
	if err != nil {
		return 0, err
	}
	return f.Read(buf)
}

func (p *Process) Write(fd int, buf []byte) (int, error) {
	f, err := p.fds.Get(fd)
	if err != nil {
		return 0, err
	}
	return f.Write(buf)
}

func (p *Process) Lseek(fd int, offset int64, whence int) (int64, error) {
	f, err := p.fds.Get(fd)
	if err != nil {
		return 0, err
	}
	return f.Seek(offset, whence)
}

func (p *Process) Ftruncate(fd int, size int64) error {
	f, err := p.fds.Get(fd)
	if err != nil {
		return err
	}
	return f.Truncate(size)
}

// Readdir returns the index'th directory entry of the directory open on fd.
func (p *Process) Readdir(fd int, index int) (Dirent, error) {
	f, err := p.fds.Get(fd)
	if err != nil {
		return Dirent{}, err
	}
	if !f.Inode.IsDir() {
		return Dirent{}, kernel.ENOTDIR
	}
	return f.Inode.Ops.GetDirEntry(f.Inode, index)
}

// Pipe creates an anonymous pipe, returning (readfd, writefd).
func (p *Process) Pipe() (int, int, error) {
	pipe := NewPipe()
	in := NewInode(nil, 0, ModeFIFO, nil)
	in.Payload = pipe

	rf := newOpenFile(in.Clone(), O_RDONLY)
	rf.Pipe = pipe
	pipe.AddReader()

	wf := newOpenFile(in, O_WRONLY)
	wf.Pipe = pipe
	pipe.AddWriter()

	p.vfs.Metrics.OpenFiles.Add(2)
	return p.fds.Install(rf, O_RDONLY), p.fds.Install(wf, O_WRONLY), nil
}

// Dup, Dup2, Fcntl delegate to the descriptor table (spec.md §6's
// F_GETFD/F_SETFD/F_GETFL/F_SETFL/F_DUPFD).
func (p *Process) Dup(fd int) (int, error)     { return p.fds.Dup(fd) }
func (p *Process) Dup2(oldfd, newfd int) error { return p.fds.Dup2(oldfd, newfd) }
func (p *Process) FcntlSetCloexec(fd int, v bool) error {
	_, err := p.fds.FcntlCloexec(fd, true, v)
	return err
}
func (p *Process) FcntlGetCloexec(fd int) (bool, error) {
	return p.fds.FcntlCloexec(fd, false, false)
}
func (p *Process) FcntlGetFl(fd int) (OpenFlags, error) { return p.fds.FcntlGetFl(fd) }
func (p *Process) FcntlSetFl(fd int, flags OpenFlags) error {
	return p.fds.FcntlSetFl(fd, flags)
}
func (p *Process) FcntlDupFD(fd, minFD int) (int, error) { return p.fds.FcntlDupFD(fd, minFD) }

// FileInfo is a snapshot of inode metadata, copyable independently of the
// refcounted Inode it was taken from.
type FileInfo struct {
	Device int
	Ino    uint64
	Mode   InodeMode
	Perm   uint32
	Size   int64
	Atime  int64
	Mtime  int64
}

func infoOf(in *Inode) FileInfo {
	return FileInfo{
		Device: in.Device, Ino: in.Ino, Mode: in.Mode, Perm: in.Perm, Size: in.Size,
		Atime: in.Atime, Mtime: in.Mtime,
	}
}

// Stat returns the inode metadata for path.
func (p *Process) Stat(path string) (FileInfo, error) {
	in, err := p.vfs.Resolver.Lookup(p.fds.Cwd(), path)
	if err != nil {
		return FileInfo{}, err
	}
	defer in.Release()
	return infoOf(in), nil
}

// Fstat returns the inode metadata for an already-open descriptor.
func (p *Process) Fstat(fd int) (FileInfo, error) {
	f, err := p.fds.Get(fd)
	if err != nil {
		return FileInfo{}, err
	}
	return infoOf(f.Inode), nil
}

// Chmod sets the permission bits of the inode at path (the type bits in
// Mode are untouched).
func (p *Process) Chmod(path string, perm uint32) error {
	in, err := p.vfs.Resolver.Lookup(p.fds.Cwd(), path)
	if err != nil {
		return err
	}
	defer in.Release()
	in.Perm = perm
	return nil
}

// Utime sets the access and modification times (seconds since epoch) of
// the inode at path.
func (p *Process) Utime(path string, atime, mtime int64) error {
	in, err := p.vfs.Resolver.Lookup(p.fds.Cwd(), path)
	if err != nil {
		return err
	}
	defer in.Release()
	in.Atime = atime
	in.Mtime = mtime
	return nil
}

// IoctlOps is implemented by device inodes that handle device-specific
// control requests; filesystems whose inodes don't implement it answer
// every ioctl with ENOSYS.
type IoctlOps interface {
	Ioctl(in *Inode, req int, arg interface{}) (int, error)
}

// Ioctl dispatches a device-specific control request to fd's inode.
func (p *Process) Ioctl(fd int, req int, arg interface{}) (int, error) {
	f, err := p.fds.Get(fd)
	if err != nil {
		return 0, err
	}
	dev, ok := f.Inode.Ops.(IoctlOps)
	if !ok {
		return 0, kernel.ENOSYS
	}
	return dev.Ioctl(f.Inode, req, arg)
}

// Unlink removes a directory entry.
func (p *Process) Unlink(path string) error {
	dirPath, name := Split(path)
	dir, err := p.vfs.Resolver.Lookup(p.fds.Cwd(), dirPath)
	if err != nil {
		return err
	}
	defer dir.Release()
	return dir.Ops.Unlink(dir, name, 0)
}

// Mkdir creates a directory entry of type ModeDirectory.
func (p *Process) Mkdir(path string, perm uint32) error {
	dirPath, name := Split(path)
	dir, err := p.vfs.Resolver.Lookup(p.fds.Cwd(), dirPath)
	if err != nil {
		return err
	}
	defer dir.Release()
	in, err := dir.Ops.Create(dir, name, ModeDirectory)
	if err != nil {
		return err
	}
	in.Perm = p.applyUmask(perm)
	in.Release()
	return nil
}

// Isatty always reports false: this kernel has no tty driver (spec.md's
// Non-goals exclude terminal line discipline).
func (p *Process) Isatty(fd int) bool {
	_, err := p.fds.Get(fd)
	return err == nil && false
}
