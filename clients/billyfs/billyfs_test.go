package billyfs

import (
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"testing"

	"github.com/AnishMulay/chfs/clients/library/chfstest"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forEachFS runs fn against memfs and CHFS so both are held to the
// same observable behavior.
func forEachFS(t *testing.T, fn func(t *testing.T, fs billy.Filesystem)) {
	t.Run("memfs", func(t *testing.T) {
		fn(t, memfs.New())
	})
	t.Run("chfs", func(t *testing.T) {
		fn(t, New(t.Context(), chfstest.NewSession(t)))
	})
}

func names(infos []os.FileInfo) []string {
	out := make([]string, 0, len(infos))
	for _, fi := range infos {
		out = append(out, fi.Name())
	}
	sort.Strings(out)
	return out
}

func TestWriteFileCreatesParents(t *testing.T) {
	forEachFS(t, func(t *testing.T, fs billy.Filesystem) {
		data := []byte("spans more than one sixteen byte chunk")
		require.NoError(t, util.WriteFile(fs, "a/b/c.txt", data, 0o644))

		got, err := util.ReadFile(fs, "a/b/c.txt")
		require.NoError(t, err)
		assert.Equal(t, data, got)

		fi, err := fs.Stat("a/b/c.txt")
		require.NoError(t, err)
		assert.Equal(t, "c.txt", fi.Name())
		assert.EqualValues(t, len(data), fi.Size())
		assert.False(t, fi.IsDir())

		fi, err = fs.Stat("a/b")
		require.NoError(t, err)
		assert.True(t, fi.IsDir())

		_, err = fs.Stat("a/missing")
		assert.True(t, os.IsNotExist(err), "got %v", err)
		_, err = fs.Open("a/missing")
		assert.True(t, os.IsNotExist(err), "got %v", err)
	})
}

func TestReadDirAndRemove(t *testing.T) {
	forEachFS(t, func(t *testing.T, fs billy.Filesystem) {
		require.NoError(t, fs.MkdirAll("d/sub", 0o755))
		require.NoError(t, util.WriteFile(fs, "d/f1", []byte("1"), 0o644))
		require.NoError(t, util.WriteFile(fs, "d/f2", []byte("22"), 0o644))

		infos, err := fs.ReadDir("d")
		require.NoError(t, err)
		assert.Equal(t, []string{"f1", "f2", "sub"}, names(infos))

		assert.Error(t, fs.Remove("d"))
		require.NoError(t, fs.Remove("d/f1"))
		require.NoError(t, fs.Remove("d/sub"))

		infos, err = fs.ReadDir("d")
		require.NoError(t, err)
		assert.Equal(t, []string{"f2"}, names(infos))

		require.NoError(t, util.RemoveAll(fs, "d"))
		_, err = fs.Stat("d")
		assert.True(t, os.IsNotExist(err), "got %v", err)
	})
}

func TestFileCursorAndTruncate(t *testing.T) {
	forEachFS(t, func(t *testing.T, fs billy.Filesystem) {
		f, err := fs.Create("f")
		require.NoError(t, err)

		n, err := f.Write([]byte("hello world"))
		require.NoError(t, err)
		assert.Equal(t, 11, n)

		pos, err := f.Seek(0, io.SeekStart)
		require.NoError(t, err)
		assert.Zero(t, pos)

		buf := make([]byte, 5)
		_, err = io.ReadFull(f, buf)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(buf))

		tail := make([]byte, 10)
		n, err = f.ReadAt(tail, 6)
		assert.Equal(t, 5, n)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, "world", string(tail[:n]))

		require.NoError(t, f.Truncate(5))
		require.NoError(t, f.Close())

		fi, err := fs.Stat("f")
		require.NoError(t, err)
		assert.EqualValues(t, 5, fi.Size())

		got, err := util.ReadFile(fs, "f")
		require.NoError(t, err)
		assert.Equal(t, "hello", string(got))
	})
}

func TestRenameAndTempFile(t *testing.T) {
	forEachFS(t, func(t *testing.T, fs billy.Filesystem) {
		require.NoError(t, util.WriteFile(fs, "src/a", []byte("payload"), 0o644))
		require.NoError(t, fs.MkdirAll("dst", 0o755))
		require.NoError(t, fs.Rename("src/a", "dst/b"))

		_, err := fs.Stat("src/a")
		assert.True(t, os.IsNotExist(err), "got %v", err)
		got, err := util.ReadFile(fs, "dst/b")
		require.NoError(t, err)
		assert.Equal(t, "payload", string(got))

		tmp, err := fs.TempFile("tmp", "pre")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(path.Base(tmp.Name()), "pre"), tmp.Name())
		require.NoError(t, tmp.Close())
		_, err = fs.Stat(tmp.Name())
		require.NoError(t, err)
	})
}

func TestChroot(t *testing.T) {
	forEachFS(t, func(t *testing.T, fs billy.Filesystem) {
		require.NoError(t, fs.MkdirAll("jail", 0o755))
		inner, err := fs.Chroot("jail")
		require.NoError(t, err)

		require.NoError(t, util.WriteFile(inner, "x/y", []byte("in"), 0o644))
		got, err := util.ReadFile(fs, "jail/x/y")
		require.NoError(t, err)
		assert.Equal(t, "in", string(got))
	})
}

func TestCHFSSpecifics(t *testing.T) {
	fs := New(t.Context(), chfstest.NewSession(t))

	assert.ErrorIs(t, fs.Symlink("a", "b"), billy.ErrNotSupported)
	_, err := fs.Readlink("b")
	assert.ErrorIs(t, err, billy.ErrNotSupported)
	assert.False(t, billy.CapabilityCheck(fs, billy.LockCapability))
	assert.Equal(t, "/", fs.Root())

	require.NoError(t, fs.MkdirAll("d", 0o755))
	_, err = fs.Open("d")
	assert.Error(t, err)
	_, err = fs.Chroot("missing")
	assert.True(t, os.IsNotExist(err), "got %v", err)

	f, err := fs.Create("once")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.NoError(t, f.Close())

	_, err = fs.OpenFile("once", os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	assert.True(t, os.IsExist(err), "got %v", err)

	require.NoError(t, util.WriteFile(fs, "file", []byte("x"), 0o644))
	assert.Error(t, fs.MkdirAll("file/below", 0o755))
}
