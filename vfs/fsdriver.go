package vfs

// InodeMode bits, enough to distinguish the file-type categories spec.md
// names without modelling a full POSIX mode word.
type InodeMode uint32

const (
	ModeRegular InodeMode = 1 << iota
	ModeDirectory
	ModeCharDevice
	ModeBlockDevice
	ModeFIFO
	ModeSocket
)

// Dirent is one directory entry returned by Inode.GetDirEntry.
type Dirent struct {
	Name  string
	Inode uint64
}

// InodeOps is the filesystem contract's inode operation set (spec.md §6):
// read, write, trunc, get_direntry, create, unlink. Clone and release are
// methods of Inode itself.
type InodeOps interface {
	Read(in *Inode, offset int64, buf []byte) (int, error)
	Write(in *Inode, offset int64, buf []byte) (int, error)
	Trunc(in *Inode, size int64) error
	GetDirEntry(in *Inode, index int) (Dirent, error)
	Create(dir *Inode, name string, mode InodeMode) (*Inode, error)
	Unlink(dir *Inode, name string, flags int) error
}

// FilesystemDriver is the filesystem contract of spec.md §6: probe a device,
// then hand back a Superblock that can manufacture inodes.
type FilesystemDriver interface {
	Probe(dev BlockDevice, minor int) bool
	GetSuperblock(dev BlockDevice, minor int) (*Superblock, error)
}
