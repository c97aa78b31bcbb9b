package vfs

import (
	"sync"

	"github.com/nanokern/corekit"
)

// FDTable is a process's file descriptor table (spec.md §3): a sparse
// array of open-file references plus per-descriptor close-on-exec flags
// and a current working directory.
//
// Descriptor numbers are allocated from the lowest free slot in a
// map+mutex table, the same shape netstack.SocketTable uses for socket
// handles.
type FDTable struct {
	mu      sync.Mutex
	entries map[int]*fdEntry
	next    int
	cwd     *Inode
}

type fdEntry struct {
	file    *OpenFile
	cloexec bool
}

// Fcntl command verbs (spec.md §6): F_GETFD/F_SETFD via FcntlCloexec,
// F_GETFL/F_SETFL via FcntlGetFl/FcntlSetFl, F_DUPFD via FcntlDupFD.
const (
	F_GETFD = 1
	F_SETFD = 2
	F_GETFL = 3
	F_SETFL = 4
	F_DUPFD = 5
)

// NewFDTable creates an empty descriptor table rooted at cwd (a cloned
// reference the table now owns).
func NewFDTable(cwd *Inode) *FDTable {
	return &FDTable{entries: make(map[int]*fdEntry), cwd: cwd}
}

// Install allocates the lowest unused descriptor number for file.
func (t *FDTable) Install(file *OpenFile, flags OpenFlags) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.lowestFreeLocked()
	t.entries[fd] = &fdEntry{file: file, cloexec: flags&O_CLOEXEC != 0}
	return fd
}

func (t *FDTable) lowestFreeLocked() int {
	for fd := 0; ; fd++ {
		if _, ok := t.entries[fd]; !ok {
			return fd
		}
	}
}

// Get returns the OpenFile for fd without transferring ownership.
func (t *FDTable) Get(fd int) (*OpenFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return nil, kernel.EBADF
	}
	return e.file, nil
}

// Close releases and removes fd.
func (t *FDTable) Close(fd int) error {
	t.mu.Lock()
	e, ok := t.entries[fd]
	if !ok {
		t.mu.Unlock()
		return kernel.EBADF
	}
	delete(t.entries, fd)
	t.mu.Unlock()
	e.file.Release()
	return nil
}

// Dup duplicates fd onto the lowest free descriptor, sharing the same
// OpenFile (and therefore the same cursor).
func (t *FDTable) Dup(fd int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return -1, kernel.EBADF
	}
	newfd := t.lowestFreeLocked()
	t.entries[newfd] = &fdEntry{file: e.file.Clone()}
	return newfd, nil
}

// Dup2 duplicates oldfd onto newfd, closing whatever newfd previously held.
func (t *FDTable) Dup2(oldfd, newfd int) error {
	t.mu.Lock()
	old, ok := t.entries[oldfd]
	if !ok {
		t.mu.Unlock()
		return kernel.EBADF
	}
	if oldfd == newfd {
		t.mu.Unlock()
		return nil
	}
	prev := t.entries[newfd]
	t.entries[newfd] = &fdEntry{file: old.file.Clone()}
	t.mu.Unlock()
	if prev != nil {
		prev.file.Release()
	}
	return nil
}

// FcntlCloexec gets or sets the close-on-exec flag for fd.
func (t *FDTable) FcntlCloexec(fd int, set bool, value bool) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return false, kernel.EBADF
	}
	if set {
		e.cloexec = value
	}
	return e.cloexec, nil
}

// fcntlMutableFlags is the subset of OpenFlags F_SETFL may change after
// open (spec.md §6: "only O_APPEND, O_NONBLOCK are settable").
const fcntlMutableFlags = O_APPEND | O_NONBLOCK

// FcntlGetFl returns fd's file-status flags (F_GETFL).
func (t *FDTable) FcntlGetFl(fd int) (OpenFlags, error) {
	t.mu.Lock()
	e, ok := t.entries[fd]
	t.mu.Unlock()
	if !ok {
		return 0, kernel.EBADF
	}
	e.file.mu.Lock()
	defer e.file.mu.Unlock()
	return e.file.Flags, nil
}

// FcntlSetFl replaces the mutable subset of fd's file-status flags
// (F_SETFL): only O_APPEND and O_NONBLOCK may change post-open.
func (t *FDTable) FcntlSetFl(fd int, flags OpenFlags) error {
	t.mu.Lock()
	e, ok := t.entries[fd]
	t.mu.Unlock()
	if !ok {
		return kernel.EBADF
	}
	e.file.mu.Lock()
	e.file.Flags = (e.file.Flags &^ fcntlMutableFlags) | (flags & fcntlMutableFlags)
	e.file.mu.Unlock()
	return nil
}

// FcntlDupFD duplicates fd onto the lowest free descriptor that is >= minFD
// (F_DUPFD), sharing the same OpenFile.
func (t *FDTable) FcntlDupFD(fd, minFD int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return -1, kernel.EBADF
	}
	newfd := minFD
	if newfd < 0 {
		newfd = 0
	}
	for {
		if _, taken := t.entries[newfd]; !taken {
			break
		}
		newfd++
	}
	t.entries[newfd] = &fdEntry{file: e.file.Clone()}
	return newfd, nil
}

// Chdir replaces the table's current working directory with dir (a cloned
// reference the table now owns), releasing the previous one.
func (t *FDTable) Chdir(dir *Inode) {
	t.mu.Lock()
	prev := t.cwd
	t.cwd = dir
	t.mu.Unlock()
	if prev != nil {
		prev.Release()
	}
}

// Cwd returns the table's current working directory without transferring
// ownership.
func (t *FDTable) Cwd() *Inode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cwd
}

// CloseOnExec releases every descriptor marked close-on-exec, as exec(2)
// would.
func (t *FDTable) CloseOnExec() {
	t.mu.Lock()
	var toClose []*OpenFile
	for fd, e := range t.entries {
		if e.cloexec {
			toClose = append(toClose, e.file)
			delete(t.entries, fd)
		}
	}
	t.mu.Unlock()
	for _, f := range toClose {
		f.Release()
	}
}
