package chfslib

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"

	pms "github.com/AnishMulay/chfs/internal/metadata_service"
	srv "github.com/AnishMulay/chfs/internal/server"
)

// Whence values for Seek.
const (
	SeekStart   = io.SeekStart
	SeekCurrent = io.SeekCurrent
	SeekEnd     = io.SeekEnd
)

// Read reads up to len(p) bytes at the cursor and advances it by the
// number read. Reading at or past end of file returns 0 and no error.
func (s *Session) Read(ctx context.Context, fd int, p []byte) (int, error) {
	f, err := s.handle("read", fd)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := s.pread(ctx, "read", f, p, f.offset)
	f.offset += int64(n)
	return n, err
}

// Write writes p at the cursor, or at end of file under O_APPEND, and
// advances the cursor past the written bytes.
func (s *Session) Write(ctx context.Context, fd int, p []byte) (int, error) {
	f, err := s.handle("write", fd)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.flags&os.O_APPEND != 0 {
		attrs, err := s.getattr(ctx, "write", f)
		if err != nil {
			return 0, err
		}
		f.offset = attrs.Size
	}

	n, err := s.pwrite(ctx, "write", f, p, f.offset)
	f.offset += int64(n)
	return n, err
}

// PRead reads at off without moving the cursor.
func (s *Session) PRead(ctx context.Context, fd int, p []byte, off int64) (int, error) {
	f, err := s.handle("pread", fd)
	if err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, newError("pread", f.path, ErrInvalidArgument, fmt.Errorf("negative offset %d", off))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return s.pread(ctx, "pread", f, p, off)
}

// PWrite writes at off without moving the cursor. Writing past end of
// file extends it and zero-fills the gap.
func (s *Session) PWrite(ctx context.Context, fd int, p []byte, off int64) (int, error) {
	f, err := s.handle("pwrite", fd)
	if err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, newError("pwrite", f.path, ErrInvalidArgument, fmt.Errorf("negative offset %d", off))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return s.pwrite(ctx, "pwrite", f, p, off)
}

// Seek sets the cursor relative to whence and returns the new position.
// Seeking past end of file does not extend it.
func (s *Session) Seek(ctx context.Context, fd int, delta int64, whence int) (int64, error) {
	f, err := s.handle("seek", fd)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var base int64
	switch whence {
	case SeekStart:
	case SeekCurrent:
		base = f.offset
	case SeekEnd:
		attrs, err := s.getattr(ctx, "seek", f)
		if err != nil {
			return 0, err
		}
		base = attrs.Size
	default:
		return 0, newError("seek", f.path, ErrInvalidArgument, fmt.Errorf("invalid whence %d", whence))
	}

	pos := base + delta
	if pos < 0 {
		return 0, newError("seek", f.path, ErrInvalidArgument, fmt.Errorf("negative position %d", pos))
	}
	f.offset = pos
	return pos, nil
}

// Tell returns the cursor of fd.
func (s *Session) Tell(fd int) (int64, error) {
	f, err := s.handle("tell", fd)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset, nil
}

// Close releases fd. The descriptor is invalid afterwards even if the
// server-side release fails.
func (s *Session) Close(ctx context.Context, fd int) error {
	backend, handles, err := s.live("close", "")
	if err != nil {
		return err
	}
	f, ok := handles.release(fd)
	if !ok {
		return newError("close", fmt.Sprintf("fd %d", fd), ErrInvalidHandle, nil)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return s.release(ctx, backend, f)
}

// Fsync asks the server to flush fd's file. Writes are already
// write-through.
func (s *Session) Fsync(ctx context.Context, fd int) error {
	f, err := s.handle("fsync", fd)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err = s.call(ctx, "fsync", f.path, srv.MsgFsync, srv.FsyncRequest{InodeID: f.inodeID})
	return err
}

// Ftruncate resizes the file open on fd. The cursor is left alone.
func (s *Session) Ftruncate(ctx context.Context, fd int, size int64) error {
	f, err := s.handle("ftruncate", fd)
	if err != nil {
		return err
	}
	if size < 0 {
		return newError("ftruncate", f.path, ErrInvalidArgument, fmt.Errorf("negative size %d", size))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err = s.call(ctx, "ftruncate", f.path, srv.MsgTruncate, srv.TruncateRequest{InodeID: f.inodeID, Size: size})
	return err
}

// Fstat stats the inode behind fd; it keeps working after unlink.
func (s *Session) Fstat(ctx context.Context, fd int) (Stat, error) {
	f, err := s.handle("fstat", fd)
	if err != nil {
		return Stat{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	attrs, err := s.getattr(ctx, "fstat", f)
	if err != nil {
		return Stat{}, err
	}
	return statFrom(attrs), nil
}

func (s *Session) getattr(ctx context.Context, op string, f *openFile) (*pms.Attributes, error) {
	var attrs pms.Attributes
	if err := s.callJSON(ctx, op, f.path, srv.MsgGetAttr, srv.GetAttrRequest{InodeID: f.inodeID}, &attrs); err != nil {
		return nil, err
	}
	return &attrs, nil
}

func (s *Session) pread(ctx context.Context, op string, f *openFile, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	resp, err := s.call(ctx, op, f.path, srv.MsgRead, srv.ReadRequest{InodeID: f.inodeID, Offset: off, Length: int64(len(p))})
	if err != nil {
		return 0, err
	}
	return copy(p, resp.Body), nil
}

func (s *Session) pwrite(ctx context.Context, op string, f *openFile, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off > math.MaxInt64-int64(len(p)) {
		return 0, newError(op, f.path, ErrInvalidArgument, fmt.Errorf("write of %d bytes at offset %d overflows file size", len(p), off))
	}
	var out srv.WriteResponse
	if err := s.callJSON(ctx, op, f.path, srv.MsgWrite, srv.WriteRequest{InodeID: f.inodeID, Offset: off, Data: p}, &out); err != nil {
		return 0, err
	}
	return int(out.Written), nil
}
