package chfstest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"testing"

	chfslib "github.com/AnishMulay/chfs/clients/library"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run runs the conformance scenarios against sessions from newSession.
// Each scenario works under its own fresh directory so a shared live
// server can be used.
func Run(t *testing.T, newSession func(t *testing.T) *chfslib.Session) {
	scenarios := []struct {
		name string
		fn   func(t *testing.T, s *chfslib.Session, dir string)
	}{
		{"RoundTrip", testRoundTrip},
		{"CursorSemantics", testCursorSemantics},
		{"OffsetIndependence", testOffsetIndependence},
		{"Truncate", testTruncate},
		{"EnumerationExactness", testEnumerationExactness},
		{"NegativeExistence", testNegativeExistence},
		{"CreateStatCloseOpenWritePRead", testCreateStatCloseOpenWritePRead},
		{"SeekSetCur", testSeekSetCur},
		{"UnlinkWhileOpen", testUnlinkWhileOpen},
		{"EarlyStopEnumeration", testEarlyStopEnumeration},
		{"DoubleClose", testDoubleClose},
		{"StaleDescriptor", testStaleDescriptor},
		{"ExclusiveCreate", testExclusiveCreate},
		{"SparseWrite", testSparseWrite},
		{"AppendMode", testAppendMode},
		{"Rename", testRename},
		{"OversizeRejected", testOversizeRejected},
	}

	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			s := newSession(t)
			ctx := context.Background()
			dir := "/chfstest-" + uuid.NewString()
			require.NoError(t, s.Mkdir(ctx, dir, 0o755))
			t.Cleanup(func() { removeAll(ctx, s, dir) })
			sc.fn(t, s, dir)
		})
	}
}

// removeAll deletes dir recursively, best effort.
func removeAll(ctx context.Context, s *chfslib.Session, dir string) {
	var children []chfslib.DirEntry
	for e, err := range s.ReadDir(ctx, dir) {
		if err != nil {
			return
		}
		children = append(children, e)
	}
	for _, e := range children {
		p := dir + "/" + e.Name
		if e.Stat.IsDir() {
			removeAll(ctx, s, p)
		} else {
			_ = s.Unlink(ctx, p)
		}
	}
	_ = s.Rmdir(ctx, dir)
}

func writeFile(t *testing.T, s *chfslib.Session, path string, data []byte) {
	t.Helper()
	ctx := context.Background()
	fd, err := s.Create(ctx, path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	n, err := s.Write(ctx, fd, data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, s.Close(ctx, fd))
}

func readAll(t *testing.T, s *chfslib.Session, fd int, size int) []byte {
	t.Helper()
	buf := make([]byte, size)
	n, err := s.PRead(context.Background(), fd, buf, 0)
	require.NoError(t, err)
	return buf[:n]
}

func testRoundTrip(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	path := dir + "/roundtrip"
	data := bytes.Repeat([]byte("0123456789abcdef"), 5)
	data = append(data, "tail"...)
	writeFile(t, s, path, data)

	fd, err := s.Open(ctx, path, os.O_RDONLY)
	require.NoError(t, err)
	defer s.Close(ctx, fd)

	got := make([]byte, len(data)+10)
	n, err := s.Read(ctx, fd, got)
	require.NoError(t, err)
	assert.Equal(t, data, got[:n])

	n, err = s.Read(ctx, fd, got)
	require.NoError(t, err)
	assert.Zero(t, n)

	st, err := s.Stat(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), st.Size)
	assert.True(t, st.IsRegular())
}

func testCursorSemantics(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	fd, err := s.Create(ctx, dir+"/cursor", os.O_RDWR, 0)
	require.NoError(t, err)
	defer s.Close(ctx, fd)

	_, err = s.Write(ctx, fd, []byte("hello "))
	require.NoError(t, err)
	_, err = s.Write(ctx, fd, []byte("world"))
	require.NoError(t, err)

	pos, err := s.Tell(fd)
	require.NoError(t, err)
	assert.EqualValues(t, 11, pos)

	_, err = s.Seek(ctx, fd, 0, chfslib.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := s.Read(ctx, fd, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	n, err = s.Read(ctx, fd, buf)
	require.NoError(t, err)
	assert.Equal(t, " worl", string(buf[:n]))

	n, err = s.Read(ctx, fd, buf)
	require.NoError(t, err)
	assert.Equal(t, "d", string(buf[:n]))

	pos, err = s.Tell(fd)
	require.NoError(t, err)
	assert.EqualValues(t, 11, pos)
}

func testOffsetIndependence(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	path := dir + "/offsets"
	writeFile(t, s, path, []byte("abcdefghij"))

	fd1, err := s.Open(ctx, path, os.O_RDWR)
	require.NoError(t, err)
	defer s.Close(ctx, fd1)
	fd2, err := s.Open(ctx, path, os.O_RDWR)
	require.NoError(t, err)
	defer s.Close(ctx, fd2)

	buf := make([]byte, 4)
	_, err = s.Read(ctx, fd1, buf)
	require.NoError(t, err)

	n, err := s.Read(ctx, fd2, buf)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf[:n]))

	_, err = s.PWrite(ctx, fd1, []byte("XY"), 8)
	require.NoError(t, err)
	pos, err := s.Tell(fd1)
	require.NoError(t, err)
	assert.EqualValues(t, 4, pos)

	n, err = s.PRead(ctx, fd2, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "ghXY", string(buf[:n]))
	pos, err = s.Tell(fd2)
	require.NoError(t, err)
	assert.EqualValues(t, 4, pos)

	_, err = s.PRead(ctx, fd2, buf, -1)
	assert.ErrorIs(t, err, chfslib.ErrInvalidArgument)
	_, err = s.PWrite(ctx, fd2, buf, -1)
	assert.ErrorIs(t, err, chfslib.ErrInvalidArgument)
}

func testTruncate(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	path := dir + "/trunc"
	writeFile(t, s, path, []byte("0123456789012345678901234567890123456789"))

	require.NoError(t, s.Truncate(ctx, path, 5))
	st, err := s.Stat(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, 5, st.Size)

	require.NoError(t, s.Truncate(ctx, path, 20))
	fd, err := s.Open(ctx, path, os.O_RDONLY)
	require.NoError(t, err)
	defer s.Close(ctx, fd)
	want := append([]byte("01234"), make([]byte, 15)...)
	assert.Equal(t, want, readAll(t, s, fd, 64))

	assert.ErrorIs(t, s.Truncate(ctx, path, -1), chfslib.ErrInvalidArgument)
	assert.ErrorIs(t, s.Truncate(ctx, dir+"/missing", 0), chfslib.ErrNotFound)

	require.NoError(t, s.Ftruncate(ctx, fd, 2))
	st, err = s.Fstat(ctx, fd)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.Size)
}

func testEnumerationExactness(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	var want []string
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("dir%02d", i)
		require.NoError(t, s.Mkdir(ctx, dir+"/"+name, 0))
		want = append(want, name)
	}
	writeFile(t, s, dir+"/file", []byte("x"))
	want = append(want, "file")

	var got []string
	var dirs, files int
	for e, err := range s.ReadDir(ctx, dir) {
		require.NoError(t, err)
		assert.NotContains(t, []string{".", ".."}, e.Name)
		got = append(got, e.Name)
		if e.Stat.IsDir() {
			dirs++
			assert.Equal(t, uint32(chfslib.S_IFDIR|0o755), e.Stat.Mode)
		} else {
			files++
			assert.EqualValues(t, 1, e.Stat.Size)
		}
	}
	assert.ElementsMatch(t, want, got)
	assert.True(t, slices.IsSorted(got))
	assert.Equal(t, 10, dirs)
	assert.Equal(t, 1, files)

	var again []string
	require.NoError(t, s.ReadDirFunc(ctx, dir, func(name string, _ chfslib.Stat, _ int64) bool {
		again = append(again, name)
		return true
	}))
	assert.Equal(t, got, again)
}

func testNegativeExistence(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	file := dir + "/gone"
	sub := dir + "/gonedir"
	writeFile(t, s, file, []byte("bye"))
	require.NoError(t, s.Mkdir(ctx, sub, 0o700))

	require.NoError(t, s.Unlink(ctx, file))
	_, err := s.Stat(ctx, file)
	assert.ErrorIs(t, err, chfslib.ErrNotFound)
	assert.ErrorIs(t, s.Unlink(ctx, file), chfslib.ErrNotFound)

	require.NoError(t, s.Rmdir(ctx, sub))
	_, err = s.Stat(ctx, sub)
	assert.ErrorIs(t, err, chfslib.ErrNotFound)

	ok, err := s.Access(ctx, sub)
	require.NoError(t, err)
	assert.False(t, ok)

	for e, err := range s.ReadDir(ctx, dir) {
		require.NoError(t, err)
		t.Errorf("unexpected entry %q", e.Name)
	}

	_, err = s.Open(ctx, file, os.O_RDONLY)
	assert.ErrorIs(t, err, chfslib.ErrNotFound)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func testCreateStatCloseOpenWritePRead(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	path := dir + "/scenario"

	fd, err := s.Create(ctx, path, os.O_WRONLY, 0o640)
	require.NoError(t, err)
	st, err := s.Stat(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, 0, st.Size)
	assert.Equal(t, uint32(chfslib.S_IFREG|0o640), st.Mode)
	require.NoError(t, s.Close(ctx, fd))

	// Access mode is recorded, not enforced.
	fd, err = s.Open(ctx, path, os.O_RDONLY)
	require.NoError(t, err)
	defer s.Close(ctx, fd)
	n, err := s.Write(ctx, fd, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	buf := make([]byte, 3)
	n, err = s.PRead(ctx, fd, buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "ylo", string(buf[:n]))
}

func testSeekSetCur(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	path := dir + "/seek"
	writeFile(t, s, path, []byte("0123456789"))

	fd, err := s.Open(ctx, path, os.O_RDWR)
	require.NoError(t, err)
	defer s.Close(ctx, fd)

	pos, err := s.Seek(ctx, fd, 4, chfslib.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 4, pos)

	pos, err = s.Seek(ctx, fd, 2, chfslib.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 6, pos)

	buf := make([]byte, 2)
	_, err = s.Read(ctx, fd, buf)
	require.NoError(t, err)
	assert.Equal(t, "67", string(buf))

	pos, err = s.Seek(ctx, fd, -3, chfslib.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 7, pos)

	_, err = s.Seek(ctx, fd, -100, chfslib.SeekCurrent)
	assert.ErrorIs(t, err, chfslib.ErrInvalidArgument)
	_, err = s.Seek(ctx, fd, 0, 42)
	assert.ErrorIs(t, err, chfslib.ErrInvalidArgument)

	pos, err = s.Seek(ctx, fd, 100, chfslib.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 100, pos)
	st, err := s.Stat(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, 10, st.Size)
}

func testUnlinkWhileOpen(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	path := dir + "/orphan"
	writeFile(t, s, path, []byte("still readable"))

	fd, err := s.Open(ctx, path, os.O_RDWR)
	require.NoError(t, err)
	require.NoError(t, s.Unlink(ctx, path))

	_, err = s.Stat(ctx, path)
	assert.ErrorIs(t, err, chfslib.ErrNotFound)

	assert.Equal(t, "still readable", string(readAll(t, s, fd, 64)))
	_, err = s.PWrite(ctx, fd, []byte("!"), 14)
	require.NoError(t, err)
	st, err := s.Fstat(ctx, fd)
	require.NoError(t, err)
	assert.EqualValues(t, 15, st.Size)
	assert.EqualValues(t, 0, st.Nlink)

	require.NoError(t, s.Close(ctx, fd))
}

func testEarlyStopEnumeration(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		writeFile(t, s, fmt.Sprintf("%s/f%d", dir, i), nil)
	}

	var seen []string
	for e, err := range s.ReadDir(ctx, dir) {
		require.NoError(t, err)
		seen = append(seen, e.Name)
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"f0", "f1"}, seen)

	var resumed []string
	require.NoError(t, s.ReadDirFunc(ctx, dir, func(name string, _ chfslib.Stat, off int64) bool {
		resumed = append(resumed, name)
		return len(resumed) < 3
	}))
	assert.Len(t, resumed, 3)

	var rest []string
	for e, err := range s.ReadDirFrom(ctx, dir, 3) {
		require.NoError(t, err)
		rest = append(rest, e.Name)
	}
	assert.Equal(t, []string{"f3", "f4"}, rest)

	for _, err := range s.ReadDir(ctx, dir+"/f0") {
		assert.ErrorIs(t, err, chfslib.ErrNotADirectory)
	}
	for _, err := range s.ReadDir(ctx, dir+"/missing") {
		assert.ErrorIs(t, err, chfslib.ErrNotFound)
	}
}

func testDoubleClose(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	fd, err := s.Create(ctx, dir+"/dbl", os.O_RDWR, 0)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx, fd))
	assert.ErrorIs(t, s.Close(ctx, fd), chfslib.ErrInvalidHandle)

	_, err = s.Write(ctx, fd, []byte("x"))
	assert.ErrorIs(t, err, chfslib.ErrInvalidHandle)
	_, err = s.Read(ctx, -1, make([]byte, 1))
	assert.ErrorIs(t, err, chfslib.ErrInvalidHandle)
}

func testStaleDescriptor(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	writeFile(t, s, dir+"/a", []byte("aaaa"))
	writeFile(t, s, dir+"/b", []byte("bbbb"))

	stale, err := s.Open(ctx, dir+"/a", os.O_RDONLY)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx, stale))

	fresh, err := s.Open(ctx, dir+"/b", os.O_RDONLY)
	require.NoError(t, err)
	defer s.Close(ctx, fresh)
	assert.NotEqual(t, stale, fresh)

	_, err = s.Read(ctx, stale, make([]byte, 4))
	assert.ErrorIs(t, err, chfslib.ErrInvalidHandle)

	assert.Equal(t, "bbbb", string(readAll(t, s, fresh, 4)))
}

func testExclusiveCreate(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	path := dir + "/excl"

	fd, err := s.Create(ctx, path, os.O_RDWR|os.O_EXCL, 0)
	require.NoError(t, err)
	_, err = s.Write(ctx, fd, []byte("keep"))
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx, fd))

	_, err = s.Create(ctx, path, os.O_RDWR|os.O_EXCL, 0)
	assert.ErrorIs(t, err, chfslib.ErrAlreadyExists)
	assert.True(t, errors.Is(err, os.ErrExist))

	_, err = s.Open(ctx, path, os.O_RDWR|os.O_CREATE|os.O_EXCL)
	assert.ErrorIs(t, err, chfslib.ErrAlreadyExists)

	fd, err = s.Open(ctx, path, os.O_RDWR|os.O_CREATE)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(readAll(t, s, fd, 8)))
	require.NoError(t, s.Close(ctx, fd))

	fd, err = s.Create(ctx, path, os.O_RDWR, 0)
	require.NoError(t, err)
	st, err := s.Fstat(ctx, fd)
	require.NoError(t, err)
	assert.EqualValues(t, 0, st.Size)
	require.NoError(t, s.Close(ctx, fd))

	assert.ErrorIs(t, s.Mkdir(ctx, path, 0), chfslib.ErrAlreadyExists)
	assert.ErrorIs(t, s.Mkdir(ctx, dir+"/no/such", 0), chfslib.ErrNotFound)
	assert.ErrorIs(t, s.Unlink(ctx, dir), chfslib.ErrIsDirectory)
	assert.ErrorIs(t, s.Rmdir(ctx, path), chfslib.ErrNotADirectory)
}

func testSparseWrite(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	fd, err := s.Create(ctx, dir+"/sparse", os.O_RDWR, 0)
	require.NoError(t, err)
	defer s.Close(ctx, fd)

	_, err = s.PWrite(ctx, fd, []byte("end"), 40)
	require.NoError(t, err)

	got := readAll(t, s, fd, 64)
	require.Len(t, got, 43)
	assert.Equal(t, make([]byte, 40), got[:40])
	assert.Equal(t, "end", string(got[40:]))
}

func testAppendMode(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	path := dir + "/log"
	writeFile(t, s, path, []byte("one\n"))

	fd, err := s.Open(ctx, path, os.O_WRONLY|os.O_APPEND)
	require.NoError(t, err)
	defer s.Close(ctx, fd)

	other, err := s.Open(ctx, path, os.O_WRONLY)
	require.NoError(t, err)
	defer s.Close(ctx, other)

	_, err = s.Write(ctx, fd, []byte("two\n"))
	require.NoError(t, err)
	_, err = s.PWrite(ctx, other, []byte("three\n"), 8)
	require.NoError(t, err)
	_, err = s.Write(ctx, fd, []byte("four\n"))
	require.NoError(t, err)

	assert.Equal(t, "one\ntwo\nthree\nfour\n", string(readAll(t, s, fd, 64)))
}

func testRename(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	writeFile(t, s, dir+"/src", []byte("data"))
	require.NoError(t, s.Mkdir(ctx, dir+"/sub", 0))

	require.NoError(t, s.Rename(ctx, dir+"/src", dir+"/sub/dst"))
	_, err := s.Stat(ctx, dir+"/src")
	assert.ErrorIs(t, err, chfslib.ErrNotFound)
	st, err := s.Stat(ctx, dir+"/sub/dst")
	require.NoError(t, err)
	assert.EqualValues(t, 4, st.Size)

	require.NoError(t, s.Chmod(ctx, dir+"/sub/dst", 0o600))
	st, err = s.Stat(ctx, dir+"/sub/dst")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.FileMode())

	assert.ErrorIs(t, s.Rmdir(ctx, dir+"/sub"), chfslib.ErrDirectoryNotEmpty)
}

func testOversizeRejected(t *testing.T, s *chfslib.Session, dir string) {
	ctx := context.Background()
	fd, err := s.Create(ctx, dir+"/big", os.O_RDWR, 0)
	require.NoError(t, err)
	defer s.Close(ctx, fd)

	_, err = s.PWrite(ctx, fd, []byte("xyz"), math.MaxInt64-1)
	assert.ErrorIs(t, err, chfslib.ErrInvalidArgument)
	_, err = s.PWrite(ctx, fd, []byte("x"), 1<<50)
	assert.ErrorIs(t, err, chfslib.ErrInvalidArgument)

	_, err = s.Seek(ctx, fd, math.MaxInt64-1, chfslib.SeekStart)
	require.NoError(t, err)
	_, err = s.Write(ctx, fd, []byte("xyz"))
	assert.ErrorIs(t, err, chfslib.ErrInvalidArgument)

	assert.ErrorIs(t, s.Ftruncate(ctx, fd, 1<<50), chfslib.ErrInvalidArgument)
	assert.ErrorIs(t, s.Truncate(ctx, dir+"/big", 1<<50), chfslib.ErrInvalidArgument)

	st, err := s.Fstat(ctx, fd)
	require.NoError(t, err)
	assert.EqualValues(t, 0, st.Size)
}
