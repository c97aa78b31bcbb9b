package vfs

import (
	"sync"

	"github.com/nanokern/corekit"
	"github.com/nanokern/corekit/sync2"
)

// OpenFlags mirror the subset of POSIX open(2) flags spec.md §4.7 names.
type OpenFlags int

const (
	O_RDONLY OpenFlags = 0
	O_WRONLY OpenFlags = 1 << (iota - 1)
	O_RDWR
	O_CREAT
	O_TRUNC
	O_APPEND
	O_NONBLOCK
	O_CLOEXEC
)

func (f OpenFlags) writable() bool { return f&(O_WRONLY|O_RDWR) != 0 }
func (f OpenFlags) readable() bool { return f&O_RDWR != 0 || f&O_WRONLY == 0 }

// OpenFile is a per-open-instance file description (spec.md §3): its own
// byte offset and flags, but a shared inode. Several file descriptors may
// point at the same OpenFile (after dup), and several OpenFiles may point
// at the same inode (after independent opens).
type OpenFile struct {
	refs sync2.RefCount

	mu     sync.Mutex
	Inode  *Inode
	Flags  OpenFlags
	offset int64

	// Pipe is non-nil when this open targets a FIFO; reads/writes are
	// dispatched there instead of through Inode.Ops.
	Pipe *Pipe
}

// newOpenFile wraps in with flags, pinning both the inode and (if set) the
// owning superblock's busy count.
func newOpenFile(in *Inode, flags OpenFlags) *OpenFile {
	if in.Superblock != nil {
		in.Superblock.pin()
	}
	return &OpenFile{refs: sync2.NewRefCount(), Inode: in, Flags: flags}
}

// Clone increments the open-file's reference count (shared across dup'd
// descriptors).
func (f *OpenFile) Clone() *OpenFile {
	f.refs.Retain()
	return f
}

// Release drops a reference, closing the underlying inode once the last
// descriptor referencing this open-file goes away.
func (f *OpenFile) Release() {
	if f.refs.Release() == 0 {
		if f.Inode.Superblock != nil {
			f.Inode.Superblock.unpin()
		}
		f.Inode.Release()
	}
}

// Read dispatches to the pipe or the inode's Read op, honoring and
// advancing the shared offset (spec.md §4.7: "read/write share a cursor
// across dup'd descriptors referencing the same open-file").
func (f *OpenFile) Read(buf []byte) (int, error) {
	if !f.Flags.readable() {
		return 0, kernel.EBADF
	}
	if f.Pipe != nil {
		return f.Pipe.Read(buf, f.Flags&O_NONBLOCK != 0)
	}
	f.mu.Lock()
	off := f.offset
	f.mu.Unlock()

	n, err := f.Inode.Ops.Read(f.Inode, off, buf)
	if n > 0 {
		f.mu.Lock()
		f.offset += int64(n)
		f.mu.Unlock()
	}
	return n, err
}

// Write dispatches to the pipe or the inode's Write op. O_APPEND seeks to
// the current size before each write, per POSIX append semantics.
func (f *OpenFile) Write(buf []byte) (int, error) {
	if !f.Flags.writable() {
		return 0, kernel.EBADF
	}
	if f.Pipe != nil {
		return f.Pipe.Write(buf, f.Flags&O_NONBLOCK != 0)
	}
	f.mu.Lock()
	if f.Flags&O_APPEND != 0 {
		f.offset = f.Inode.Size
	}
	off := f.offset
	f.mu.Unlock()

	n, err := f.Inode.Ops.Write(f.Inode, off, buf)
	if n > 0 {
		f.mu.Lock()
		f.offset += int64(n)
		if f.offset > f.Inode.Size {
			f.Inode.Size = f.offset
		}
		f.mu.Unlock()
	}
	return n, err
}

// Seek sets the byte offset per whence (0=set, 1=cur, 2=end), matching
// lseek(2).
func (f *OpenFile) Seek(offset int64, whence int) (int64, error) {
	if f.Pipe != nil {
		return 0, kernel.EINVAL
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var base int64
	switch whence {
	case 0:
		base = 0
	case 1:
		base = f.offset
	case 2:
		base = f.Inode.Size
	default:
		return 0, kernel.EINVAL
	}
	next := base + offset
	if next < 0 {
		return 0, kernel.EINVAL
	}
	f.offset = next
	return next, nil
}

// Truncate resizes the underlying inode's data (regular files only).
func (f *OpenFile) Truncate(size int64) error {
	if f.Pipe != nil {
		return kernel.EINVAL
	}
	if !f.Flags.writable() {
		return kernel.EBADF
	}
	return f.Inode.Ops.Trunc(f.Inode, size)
}
