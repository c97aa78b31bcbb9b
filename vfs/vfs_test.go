package vfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanokern/corekit"
	"github.com/nanokern/corekit/vfs"
	"github.com/nanokern/corekit/vfs/ramfs"
)

func mountedProcess(t *testing.T) (*vfs.VFS, *vfs.Process) {
	t.Helper()
	v := vfs.New(0)
	dev := ramfs.NewDevice()
	v.Devices.Register(0, dev)
	_, err := v.Mount(nil, 0, ramfs.New())
	require.NoError(t, err)
	proc, err := vfs.NewProcess(v)
	require.NoError(t, err)
	return v, proc
}

func TestOpenCreateWriteReadRoundTrip(t *testing.T) {
	_, proc := mountedProcess(t)

	fd, err := proc.Open("/hello.txt", vfs.O_WRONLY|vfs.O_CREAT, 0o644)
	require.NoError(t, err)

	n, err := proc.Write(fd, []byte("hi there"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	require.NoError(t, proc.Close(fd))

	rfd, err := proc.Open("/hello.txt", vfs.O_RDONLY, 0)
	require.NoError(t, err)
	defer proc.Close(rfd)

	buf := make([]byte, 32)
	n, err = proc.Read(rfd, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi there", string(buf[:n]))
}

func TestStatReportsSizeAndPermissions(t *testing.T) {
	_, proc := mountedProcess(t)

	fd, err := proc.Open("/f", vfs.O_WRONLY|vfs.O_CREAT, 0o640)
	require.NoError(t, err)
	_, err = proc.Write(fd, []byte("abcde"))
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	info, err := proc.Stat("/f")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, uint32(0o640), info.Perm)
}

func TestUmaskAppliesOnCreate(t *testing.T) {
	_, proc := mountedProcess(t)
	proc.Umask(0o022)

	fd, err := proc.Open("/g", vfs.O_WRONLY|vfs.O_CREAT, 0o666)
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	info, err := proc.Stat("/g")
	require.NoError(t, err)
	assert.Equal(t, uint32(0o644), info.Perm)
}

func TestMkdirChdirAndRelativeLookup(t *testing.T) {
	_, proc := mountedProcess(t)

	require.NoError(t, proc.Mkdir("/sub", 0o755))
	require.NoError(t, proc.Chdir("/sub"))

	fd, err := proc.Open("inside", vfs.O_WRONLY|vfs.O_CREAT, 0o644)
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	info, err := proc.Stat("/sub/inside")
	require.NoError(t, err)
	assert.True(t, info.Mode&vfs.ModeRegular != 0)
}

func TestUnlinkRemovesEntry(t *testing.T) {
	_, proc := mountedProcess(t)

	fd, err := proc.Open("/doomed", vfs.O_WRONLY|vfs.O_CREAT, 0o644)
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	require.NoError(t, proc.Unlink("/doomed"))
	_, err = proc.Stat("/doomed")
	assert.Error(t, err)
}

func TestDupSharesOffset(t *testing.T) {
	_, proc := mountedProcess(t)

	fd, err := proc.Open("/shared", vfs.O_RDWR|vfs.O_CREAT, 0o644)
	require.NoError(t, err)
	_, err = proc.Write(fd, []byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, proc.Ftruncate(fd, 10))
	_, err = proc.Lseek(fd, 0, 0)
	require.NoError(t, err)

	dupfd, err := proc.Dup(fd)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := proc.Read(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, "01234", string(buf[:n]))

	// The dup shares the same OpenFile, so its cursor continues from where
	// fd left off rather than restarting at zero.
	n, err = proc.Read(dupfd, buf)
	require.NoError(t, err)
	assert.Equal(t, "56789", string(buf[:n]))
}

func TestMountAndCrossMountDotDot(t *testing.T) {
	v, proc := mountedProcess(t)

	require.NoError(t, proc.Mkdir("/tmp", 0o755))
	tmpDir, err := v.Resolver.Lookup(proc.Getcwd(), "/tmp")
	require.NoError(t, err)
	defer tmpDir.Release()

	tmpDev := ramfs.NewDevice()
	v.Devices.Register(1, tmpDev)
	_, err = v.Mount(tmpDir, 1, ramfs.New())
	require.NoError(t, err)

	fd, err := proc.Open("/tmp/test", vfs.O_WRONLY|vfs.O_CREAT, 0o644)
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	inTmp, err := v.Resolver.Lookup(proc.Getcwd(), "/tmp/test")
	require.NoError(t, err)
	defer inTmp.Release()
	assert.Equal(t, 1, inTmp.Device)
	assert.Equal(t, uint64(1), inTmp.Ino)

	back, err := v.Resolver.Lookup(proc.Getcwd(), "/tmp/..")
	require.NoError(t, err)
	defer back.Release()
	assert.Equal(t, 0, back.Device)
	assert.Equal(t, uint64(0), back.Ino)
}

func TestAnonymousPipeReadWriteAndClose(t *testing.T) {
	_, proc := mountedProcess(t)

	rfd, wfd, err := proc.Pipe()
	require.NoError(t, err)

	n, err := proc.Write(wfd, []byte("piped"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 16)
	n, err = proc.Read(rfd, buf)
	require.NoError(t, err)
	assert.Equal(t, "piped", string(buf[:n]))

	require.NoError(t, proc.Close(wfd))
	n, err = proc.Read(rfd, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "read after the write end closes should report EOF")
	require.NoError(t, proc.Close(rfd))
}

func TestFcntlGetSetFlTogglesNonblockAndAppend(t *testing.T) {
	_, proc := mountedProcess(t)

	fd, err := proc.Open("/flags", vfs.O_RDWR|vfs.O_CREAT, 0o644)
	require.NoError(t, err)
	defer proc.Close(fd)

	flags, err := proc.FcntlGetFl(fd)
	require.NoError(t, err)
	assert.Equal(t, vfs.OpenFlags(0), flags&vfs.O_NONBLOCK)

	require.NoError(t, proc.FcntlSetFl(fd, vfs.O_NONBLOCK|vfs.O_APPEND))

	flags, err = proc.FcntlGetFl(fd)
	require.NoError(t, err)
	assert.NotZero(t, flags&vfs.O_NONBLOCK)
	assert.NotZero(t, flags&vfs.O_APPEND)
	// O_RDWR from open must survive an F_SETFL that only names
	// O_APPEND/O_NONBLOCK in its argument.
	assert.NotZero(t, flags&vfs.O_RDWR)
}

func TestFcntlDupFDRespectsMinimum(t *testing.T) {
	_, proc := mountedProcess(t)

	fd, err := proc.Open("/dupmin", vfs.O_RDWR|vfs.O_CREAT, 0o644)
	require.NoError(t, err)
	defer proc.Close(fd)

	newfd, err := proc.FcntlDupFD(fd, 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, newfd, 10)
	defer proc.Close(newfd)

	_, err = proc.Write(newfd, []byte("x"))
	require.NoError(t, err)
}

func TestUtimeSetsAccessAndModTime(t *testing.T) {
	_, proc := mountedProcess(t)

	fd, err := proc.Open("/timed", vfs.O_WRONLY|vfs.O_CREAT, 0o644)
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	require.NoError(t, proc.Utime("/timed", 100, 200))

	info, err := proc.Stat("/timed")
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Atime)
	assert.Equal(t, int64(200), info.Mtime)
}

func TestIoctlOnPlainInodeReturnsENOSYS(t *testing.T) {
	_, proc := mountedProcess(t)

	fd, err := proc.Open("/plain", vfs.O_RDWR|vfs.O_CREAT, 0o644)
	require.NoError(t, err)
	defer proc.Close(fd)

	_, err = proc.Ioctl(fd, 0, nil)
	assert.ErrorIs(t, err, kernel.ENOSYS)
}

func TestUnmountBusyFails(t *testing.T) {
	v, proc := mountedProcess(t)

	require.NoError(t, proc.Mkdir("/tmp", 0o755))
	tmpDir, err := v.Resolver.Lookup(proc.Getcwd(), "/tmp")
	require.NoError(t, err)
	defer tmpDir.Release()

	tmpDev := ramfs.NewDevice()
	v.Devices.Register(1, tmpDev)
	_, err = v.Mount(tmpDir, 1, ramfs.New())
	require.NoError(t, err)

	fd, err := proc.Open("/tmp/held", vfs.O_WRONLY|vfs.O_CREAT, 0o644)
	require.NoError(t, err)
	defer proc.Close(fd)

	assert.ErrorIs(t, v.Unmount(tmpDir), kernel.EBUSY)
}
