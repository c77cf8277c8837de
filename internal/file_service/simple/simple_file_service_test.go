package simple

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"testing"

	"github.com/AnishMulay/chfs/internal/chunk_service/localdisc"
	fsvc "github.com/AnishMulay/chfs/internal/file_service"
	"github.com/AnishMulay/chfs/internal/log_service"
	"github.com/AnishMulay/chfs/internal/metadata_replicator/journal"
	pms "github.com/AnishMulay/chfs/internal/metadata_service"
	"github.com/AnishMulay/chfs/internal/metadata_service/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileService(t *testing.T, opts ...inmemory.Option) (*SimpleFileService, string) {
	t.Helper()
	ls := log_service.Nop()
	dir := t.TempDir()
	chunks, err := localdisc.NewLocalDiscChunkService(dir, ls)
	require.NoError(t, err)
	opts = append([]inmemory.Option{inmemory.WithChunkSize(4)}, opts...)
	ms := inmemory.NewInMemoryMetadataService(journal.NewJournalReplicator("", ls), ls, opts...)
	s := NewSimpleFileService(ms, chunks, ls)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s, dir
}

func countChunks(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestWriteReadAcrossChunks(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileService(t)

	attrs, err := s.Create(ctx, "/f", 0o644, 0, 0, false)
	require.NoError(t, err)

	data := []byte("hello, chunked world")
	n, err := s.Write(ctx, attrs.InodeID, 0, data)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), n)

	got, err := s.Read(ctx, attrs.InodeID, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	got, err = s.Read(ctx, attrs.InodeID, 5, 6)
	require.NoError(t, err)
	assert.Equal(t, ", chun", string(got))

	_, err = s.Write(ctx, attrs.InodeID, 3, []byte("XY"))
	require.NoError(t, err)
	got, err = s.Read(ctx, attrs.InodeID, 0, 7)
	require.NoError(t, err)
	assert.Equal(t, "helXY, ", string(got))

	got, err = s.Read(ctx, attrs.InodeID, int64(len(data)), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSparseWriteZeroFills(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileService(t)

	attrs, err := s.Create(ctx, "/sparse", 0o644, 0, 0, false)
	require.NoError(t, err)
	_, err = s.Write(ctx, attrs.InodeID, 0, []byte("ab"))
	require.NoError(t, err)
	_, err = s.Write(ctx, attrs.InodeID, 10, []byte("z"))
	require.NoError(t, err)

	st, err := s.StatPath(ctx, "/sparse")
	require.NoError(t, err)
	assert.EqualValues(t, 11, st.Size)

	got, err := s.Read(ctx, attrs.InodeID, 0, 11)
	require.NoError(t, err)
	want := append([]byte("ab"), make([]byte, 8)...)
	want = append(want, 'z')
	assert.Equal(t, want, got)
}

func TestTruncateShrinkThenGrowReadsZeros(t *testing.T) {
	ctx := context.Background()
	s, dir := newFileService(t)

	attrs, err := s.Create(ctx, "/t", 0o644, 0, 0, false)
	require.NoError(t, err)
	_, err = s.Write(ctx, attrs.InodeID, 0, []byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 3, countChunks(t, dir))

	require.NoError(t, s.Truncate(ctx, attrs.InodeID, 5))
	assert.Equal(t, 2, countChunks(t, dir))

	require.NoError(t, s.Truncate(ctx, attrs.InodeID, 9))
	got, err := s.Read(ctx, attrs.InodeID, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, []byte{'0', '1', '2', '3', '4', 0, 0, 0, 0}, got)

	assert.ErrorIs(t, s.Truncate(ctx, attrs.InodeID, -1), pms.ErrInvalid)
	require.NoError(t, s.Truncate(ctx, attrs.InodeID, 0))
	assert.Equal(t, 0, countChunks(t, dir))
}

func TestOpenFlags(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileService(t)

	_, err := s.Open(ctx, "/missing", fsvc.OpenFlags{}, 0, 0, 0)
	assert.ErrorIs(t, err, pms.ErrNotFound)

	attrs, err := s.Open(ctx, "/new", fsvc.OpenFlags{Create: true}, 0o600, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0o600), attrs.Mode)
	_, err = s.Write(ctx, attrs.InodeID, 0, []byte("keep"))
	require.NoError(t, err)

	again, err := s.Open(ctx, "/new", fsvc.OpenFlags{Create: true}, 0o644, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, attrs.InodeID, again.InodeID)
	assert.EqualValues(t, 4, again.Size)

	_, err = s.Open(ctx, "/new", fsvc.OpenFlags{Create: true, Exclusive: true}, 0o644, 0, 0)
	assert.ErrorIs(t, err, pms.ErrAlreadyExists)

	trunc, err := s.Open(ctx, "/new", fsvc.OpenFlags{Truncate: true}, 0, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, trunc.Size)

	_, err = s.Mkdir(ctx, "/d", 0o755, 0, 0)
	require.NoError(t, err)
	_, err = s.Create(ctx, "/d", 0o644, 0, 0, false)
	assert.ErrorIs(t, err, pms.ErrIsDir)

	_, err = s.Open(ctx, "/nodir/x", fsvc.OpenFlags{Create: true}, 0o644, 0, 0)
	assert.ErrorIs(t, err, pms.ErrNotFound)
}

func TestUnlinkWhileOpen(t *testing.T) {
	ctx := context.Background()
	s, dir := newFileService(t)

	attrs, err := s.Create(ctx, "/u", 0o644, 0, 0, false)
	require.NoError(t, err)
	_, err = s.Write(ctx, attrs.InodeID, 0, []byte("still here"))
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, "/u"))
	_, err = s.StatPath(ctx, "/u")
	assert.ErrorIs(t, err, pms.ErrNotFound)

	got, err := s.Read(ctx, attrs.InodeID, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, "still here", string(got))

	_, err = s.Write(ctx, attrs.InodeID, 10, []byte("!"))
	require.NoError(t, err)
	assert.Positive(t, countChunks(t, dir))

	require.NoError(t, s.Release(ctx, attrs.InodeID))
	assert.Equal(t, 0, countChunks(t, dir))

	_, err = s.GetAttr(ctx, attrs.InodeID)
	assert.ErrorIs(t, err, pms.ErrNotFound)
}

func TestRemoveCollectsChunks(t *testing.T) {
	ctx := context.Background()
	s, dir := newFileService(t)

	attrs, err := s.Create(ctx, "/r", 0o644, 0, 0, false)
	require.NoError(t, err)
	_, err = s.Write(ctx, attrs.InodeID, 0, bytes.Repeat([]byte("x"), 9))
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, attrs.InodeID))
	assert.Equal(t, 3, countChunks(t, dir))

	require.NoError(t, s.Remove(ctx, "/r"))
	assert.Equal(t, 0, countChunks(t, dir))

	assert.ErrorIs(t, s.Remove(ctx, "/r"), pms.ErrNotFound)
	assert.ErrorIs(t, s.Remove(ctx, "/"), pms.ErrIsDir)
}

func TestNamespaceOperations(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileService(t)

	_, err := s.Mkdir(ctx, "/a", 0o755, 0, 0)
	require.NoError(t, err)
	_, err = s.Mkdir(ctx, "/a", 0o755, 0, 0)
	assert.ErrorIs(t, err, pms.ErrAlreadyExists)
	_, err = s.Mkdir(ctx, "/missing/b", 0o755, 0, 0)
	assert.ErrorIs(t, err, pms.ErrNotFound)

	f, err := s.Create(ctx, "/a/f", 0o644, 0, 0, true)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, f.InodeID))

	assert.ErrorIs(t, s.Rmdir(ctx, "/a"), pms.ErrNotEmpty)
	assert.ErrorIs(t, s.Rmdir(ctx, "/a/f"), pms.ErrNotDir)

	require.NoError(t, s.Rename(ctx, "/a/f", "/g"))
	_, err = s.StatPath(ctx, "/g")
	require.NoError(t, err)
	require.NoError(t, s.Rmdir(ctx, "/a"))

	mode := uint32(0o600)
	st, err := s.SetAttr(ctx, "/g", &mode, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0o600), st.Mode)

	entries, _, eof, err := s.ReadDirPlus(ctx, "/", 0, 10)
	require.NoError(t, err)
	assert.True(t, eof)
	require.Len(t, entries, 1)
	assert.Equal(t, "g", entries[0].Name)

	_, _, _, err = s.ReadDirPlus(ctx, "/g", 0, 10)
	assert.ErrorIs(t, err, pms.ErrNotDir)

	require.NoError(t, s.Fsync(ctx, f.InodeID))
	assert.ErrorIs(t, s.Fsync(ctx, "nope"), pms.ErrNotFound)
}

func TestWriteAndTruncateBeyondMaxFileSize(t *testing.T) {
	ctx := context.Background()
	s, dir := newFileService(t, inmemory.WithMaxFileSize(64))

	attrs, err := s.Create(ctx, "/big", 0o644, 0, 0, false)
	require.NoError(t, err)

	_, err = s.Write(ctx, attrs.InodeID, math.MaxInt64-1, []byte("xyz"))
	assert.ErrorIs(t, err, pms.ErrInvalid)
	_, err = s.Write(ctx, attrs.InodeID, 1<<50, []byte("x"))
	assert.ErrorIs(t, err, pms.ErrInvalid)
	_, err = s.Write(ctx, attrs.InodeID, 62, []byte("xyz"))
	assert.ErrorIs(t, err, pms.ErrInvalid)
	assert.ErrorIs(t, s.Truncate(ctx, attrs.InodeID, 65), pms.ErrInvalid)
	assert.ErrorIs(t, s.Truncate(ctx, attrs.InodeID, math.MaxInt64), pms.ErrInvalid)

	got, err := s.GetAttr(ctx, attrs.InodeID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.Size)
	assert.Equal(t, 0, countChunks(t, dir))

	_, err = s.Write(ctx, attrs.InodeID, 61, []byte("xyz"))
	require.NoError(t, err)
	require.NoError(t, s.Truncate(ctx, attrs.InodeID, 64))

	data, err := s.Read(ctx, attrs.InodeID, 10, math.MaxInt64)
	require.NoError(t, err)
	assert.Len(t, data, 54)
}

func TestTruncateGrowThenShrinkWithoutChunks(t *testing.T) {
	ctx := context.Background()
	s, dir := newFileService(t)

	attrs, err := s.Create(ctx, "/hole", 0o644, 0, 0, false)
	require.NoError(t, err)
	require.NoError(t, s.Truncate(ctx, attrs.InodeID, 40))
	require.NoError(t, s.Truncate(ctx, attrs.InodeID, 10))

	got, err := s.Read(ctx, attrs.InodeID, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 10), got)
	assert.Equal(t, 0, countChunks(t, dir))
}

func TestInodeLocksReleasedAfterUse(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileService(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			attrs, err := s.Create(ctx, fmt.Sprintf("/l%d", i), 0o644, 0, 0, false)
			if !assert.NoError(t, err) {
				return
			}
			_, err = s.Write(ctx, attrs.InodeID, 0, []byte("payload"))
			assert.NoError(t, err)
			_, err = s.Read(ctx, attrs.InodeID, 0, 7)
			assert.NoError(t, err)
			assert.NoError(t, s.Truncate(ctx, attrs.InodeID, 3))
			assert.NoError(t, s.Release(ctx, attrs.InodeID))
		}()
	}
	wg.Wait()

	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	assert.Empty(t, s.locks)
}
