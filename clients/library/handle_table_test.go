package chfslib

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleTableAllocateLookupRelease(t *testing.T) {
	tbl := newHandleTable()

	a := &openFile{path: "/a"}
	b := &openFile{path: "/b"}
	fdA, err := tbl.allocate(a)
	require.NoError(t, err)
	fdB, err := tbl.allocate(b)
	require.NoError(t, err)
	assert.Equal(t, firstUserFD, fdA)
	assert.Equal(t, firstUserFD+1, fdB)

	got, ok := tbl.lookup(fdB)
	require.True(t, ok)
	assert.Same(t, b, got)

	released, ok := tbl.release(fdA)
	require.True(t, ok)
	assert.Same(t, a, released)
	_, ok = tbl.release(fdA)
	assert.False(t, ok)
	assert.Equal(t, 1, tbl.count())
}

func TestHandleTableStaleDescriptorAfterReuse(t *testing.T) {
	tbl := newHandleTable()

	old, err := tbl.allocate(&openFile{path: "/old"})
	require.NoError(t, err)
	_, ok := tbl.release(old)
	require.True(t, ok)

	reused := &openFile{path: "/new"}
	fd, err := tbl.allocate(reused)
	require.NoError(t, err)
	assert.NotEqual(t, old, fd)

	idxOld, _, _ := decodeFD(old)
	idxNew, gen, _ := decodeFD(fd)
	assert.Equal(t, idxOld, idxNew)
	assert.EqualValues(t, 1, gen)

	_, ok = tbl.lookup(old)
	assert.False(t, ok)
	got, ok := tbl.lookup(fd)
	require.True(t, ok)
	assert.Same(t, reused, got)
}

func TestHandleTableRejectsGarbage(t *testing.T) {
	tbl := newHandleTable()
	_, err := tbl.allocate(&openFile{})
	require.NoError(t, err)

	for _, fd := range []int{-1, 0, 1, 2, firstUserFD + 5, firstUserFD + 1<<slotBits} {
		_, ok := tbl.lookup(fd)
		assert.False(t, ok, fd)
	}
}

func TestHandleTableGenerationWraps(t *testing.T) {
	tbl := newHandleTable()
	var fd int
	for i := 0; i <= genMask+1; i++ {
		var err error
		fd, err = tbl.allocate(&openFile{})
		require.NoError(t, err)
		_, ok := tbl.release(fd)
		require.True(t, ok)
	}
	assert.Positive(t, fd)
	assert.LessOrEqual(t, fd, 1<<31-1)
}

func TestHandleTableDrain(t *testing.T) {
	tbl := newHandleTable()
	fds := map[int]string{}
	for _, p := range []string{"/a", "/b", "/c"} {
		fd, err := tbl.allocate(&openFile{path: p})
		require.NoError(t, err)
		fds[fd] = p
	}
	_, ok := tbl.release(firstUserFD + 1)
	require.True(t, ok)
	delete(fds, firstUserFD+1)

	drained := tbl.drain()
	require.Len(t, drained, 2)
	for fd, f := range drained {
		assert.Equal(t, fds[fd], f.path)
		_, ok := tbl.lookup(fd)
		assert.False(t, ok)
	}
	assert.Zero(t, tbl.count())
}

func TestHandleTableConcurrent(t *testing.T) {
	tbl := newHandleTable()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				fd, err := tbl.allocate(&openFile{})
				if !assert.NoError(t, err) {
					return
				}
				_, ok := tbl.release(fd)
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, tbl.count())
}
