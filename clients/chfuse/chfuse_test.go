package chfuse

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	chfslib "github.com/AnishMulay/chfs/clients/library"
	"github.com/AnishMulay/chfs/clients/library/chfstest"
	"github.com/AnishMulay/chfs/internal/log_service"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrnoFor(t *testing.T) {
	tests := []struct {
		kind error
		want syscall.Errno
	}{
		{nil, 0},
		{chfslib.ErrNotFound, syscall.ENOENT},
		{chfslib.ErrAlreadyExists, syscall.EEXIST},
		{chfslib.ErrNotADirectory, syscall.ENOTDIR},
		{chfslib.ErrIsDirectory, syscall.EISDIR},
		{chfslib.ErrDirectoryNotEmpty, syscall.ENOTEMPTY},
		{chfslib.ErrInvalidHandle, syscall.EBADF},
		{chfslib.ErrInvalidArgument, syscall.EINVAL},
		{chfslib.ErrTimeout, syscall.ETIMEDOUT},
		{chfslib.ErrConnection, syscall.ENOTCONN},
		{chfslib.ErrState, syscall.ENOTCONN},
		{chfslib.ErrInternal, syscall.EIO},
		{errors.New("other"), syscall.EIO},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.kind), func(t *testing.T) {
			var err error
			if tt.kind != nil {
				err = fmt.Errorf("wrapped: %w", tt.kind)
			}
			assert.Equal(t, tt.want, errnoFor(err))
		})
	}
}

func TestFillAttr(t *testing.T) {
	mtime := time.Unix(1700000000, 5)
	st := chfslib.Stat{
		Ino:   42,
		Mode:  chfslib.S_IFREG | 0o640,
		Size:  1025,
		Nlink: 1,
		UID:   7,
		GID:   8,
		Atime: mtime,
		Mtime: mtime,
		Ctime: mtime,
	}
	var out fuse.Attr
	fillAttr(&out, st)

	assert.EqualValues(t, 42, out.Ino)
	assert.EqualValues(t, syscall.S_IFREG|0o640, out.Mode)
	assert.EqualValues(t, 1025, out.Size)
	assert.EqualValues(t, 3, out.Blocks)
	assert.EqualValues(t, 7, out.Uid)
	assert.EqualValues(t, 8, out.Gid)
	assert.EqualValues(t, mtime.Unix(), out.Mtime)
}

func newRoot(t *testing.T) *Node {
	t.Helper()
	root := NewRoot(chfstest.NewSession(t), log_service.Nop())
	fs.NewNodeFS(root, &fs.Options{})
	return root
}

// attach links a child into the tree the way the kernel bridge does
// after a successful lookup.
func attach(t *testing.T, parent *Node, name string, child *fs.Inode) *Node {
	t.Helper()
	require.NotNil(t, child)
	require.True(t, parent.AddChild(name, child, true))
	return child.Operations().(*Node)
}

func TestNodeOperations(t *testing.T) {
	ctx := t.Context()
	root := newRoot(t)

	var entry fuse.EntryOut
	ino, errno := root.Mkdir(ctx, "d", 0o755, &entry)
	require.Zero(t, errno)
	assert.True(t, entry.Mode&syscall.S_IFDIR != 0)
	dir := attach(t, root, "d", ino)
	assert.Equal(t, "/d", dir.path())

	ino, fh, _, errno := dir.Create(ctx, "f", uint32(os.O_RDWR), 0o644, &entry)
	require.Zero(t, errno)
	file := attach(t, dir, "f", ino)
	assert.Equal(t, "/d/f", file.path())

	data := []byte("through the kernel bridge")
	written, errno := fh.(fs.FileWriter).Write(ctx, data, 0)
	require.Zero(t, errno)
	assert.EqualValues(t, len(data), written)

	res, errno := fh.(fs.FileReader).Read(ctx, make([]byte, 64), 8)
	require.Zero(t, errno)
	got, status := res.Bytes(make([]byte, 64))
	require.True(t, status.Ok())
	assert.Equal(t, data[8:], got)

	var attr fuse.AttrOut
	require.Zero(t, file.Getattr(ctx, fh, &attr))
	assert.EqualValues(t, len(data), attr.Size)

	var in fuse.SetAttrIn
	in.Valid = fuse.FATTR_SIZE
	in.Size = 4
	require.Zero(t, file.Setattr(ctx, fh, &in, &attr))
	assert.EqualValues(t, 4, attr.Size)

	require.Zero(t, fh.(fs.FileFsyncer).Fsync(ctx, 0))
	require.Zero(t, fh.(fs.FileReleaser).Release(ctx))

	stream, errno := dir.Readdir(ctx)
	require.Zero(t, errno)
	var names []string
	for stream.HasNext() {
		e, errno := stream.Next()
		require.Zero(t, errno)
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"f"}, names)

	_, errno = dir.Lookup(ctx, "missing", &entry)
	assert.Equal(t, syscall.ENOENT, errno)
	assert.Equal(t, syscall.ENOTEMPTY, root.Rmdir(ctx, "d"))
	assert.Equal(t, syscall.EISDIR, root.Unlink(ctx, "d"))

	require.Zero(t, dir.Rename(ctx, "f", root, "g", 0))
	_, errno = root.Lookup(ctx, "g", &entry)
	require.Zero(t, errno)
	assert.EqualValues(t, 4, entry.Size)

	require.Zero(t, root.Unlink(ctx, "g"))
	require.Zero(t, root.Rmdir(ctx, "d"))
	_, errno = root.Lookup(ctx, "d", &entry)
	assert.Equal(t, syscall.ENOENT, errno)
}
