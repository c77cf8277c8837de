package chfuse

import (
	"context"
	"syscall"

	chfslib "github.com/AnishMulay/chfs/clients/library"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// handle wraps a session descriptor. The kernel supplies offsets, so
// only positional reads and writes are used.
type handle struct {
	session *chfslib.Session
	fd      int
}

var (
	_ fs.FileHandle   = (*handle)(nil)
	_ fs.FileReader   = (*handle)(nil)
	_ fs.FileWriter   = (*handle)(nil)
	_ fs.FileFsyncer  = (*handle)(nil)
	_ fs.FileFlusher  = (*handle)(nil)
	_ fs.FileReleaser = (*handle)(nil)
)

func (h *handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.session.PRead(ctx, h.fd, dest, off)
	if err != nil {
		return nil, errnoFor(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.session.PWrite(ctx, h.fd, data, off)
	if err != nil {
		return 0, errnoFor(err)
	}
	return uint32(n), 0
}

func (h *handle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return errnoFor(h.session.Fsync(ctx, h.fd))
}

// Flush is a no-op; writes are sent to the server as they happen.
func (h *handle) Flush(ctx context.Context) syscall.Errno {
	return 0
}

func (h *handle) Release(ctx context.Context) syscall.Errno {
	return errnoFor(h.session.Close(ctx, h.fd))
}
