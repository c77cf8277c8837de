package chfslib

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	pms "github.com/AnishMulay/chfs/internal/metadata_service"
	srv "github.com/AnishMulay/chfs/internal/server"
)

// Stat returns fresh metadata for path.
func (s *Session) Stat(ctx context.Context, path string) (Stat, error) {
	p, err := s.resolve("stat", path)
	if err != nil {
		return Stat{}, err
	}
	var attrs pms.Attributes
	if err := s.callJSON(ctx, "stat", p, srv.MsgStatPath, srv.StatPathRequest{Path: p}, &attrs); err != nil {
		return Stat{}, err
	}
	return statFrom(&attrs), nil
}

// Access reports whether path exists.
func (s *Session) Access(ctx context.Context, path string) (bool, error) {
	_, err := s.Stat(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Create creates path, or truncates it if it exists, and opens it in a
// single round trip. With O_EXCL an existing path fails with
// ErrAlreadyExists.
func (s *Session) Create(ctx context.Context, path string, flags int, mode uint32) (int, error) {
	p, err := s.resolve("create", path)
	if err != nil {
		return -1, err
	}
	if _, _, ok := splitParentAndName(p); !ok {
		return -1, newError("create", p, ErrIsDirectory, nil)
	}
	uid, gid := owner()
	var attrs pms.Attributes
	err = s.callJSON(ctx, "create", p, srv.MsgCreate, srv.CreateRequest{
		Path:      p,
		Mode:      permBits(mode, defaultFileMode),
		UID:       uid,
		GID:       gid,
		Exclusive: flags&os.O_EXCL != 0,
	}, &attrs)
	if err != nil {
		return -1, err
	}
	return s.install(ctx, "create", p, &attrs, flags|os.O_CREATE)
}

// Open opens path. Without O_CREATE a missing path fails with
// ErrNotFound; O_TRUNC empties an existing file.
func (s *Session) Open(ctx context.Context, path string, flags int) (int, error) {
	return s.OpenFile(ctx, path, flags, 0)
}

// OpenFile is Open with the mode used when O_CREATE creates the file.
func (s *Session) OpenFile(ctx context.Context, path string, flags int, mode uint32) (int, error) {
	p, err := s.resolve("open", path)
	if err != nil {
		return -1, err
	}
	uid, gid := owner()
	var attrs pms.Attributes
	err = s.callJSON(ctx, "open", p, srv.MsgOpen, srv.OpenRequest{
		Path:      p,
		Create:    flags&os.O_CREATE != 0,
		Exclusive: flags&os.O_CREATE != 0 && flags&os.O_EXCL != 0,
		Truncate:  flags&os.O_TRUNC != 0,
		Mode:      permBits(mode, defaultFileMode),
		UID:       uid,
		GID:       gid,
	}, &attrs)
	if err != nil {
		return -1, err
	}
	return s.install(ctx, "open", p, &attrs, flags)
}

// install puts a server-pinned inode in the handle table, dropping the
// pin again if no descriptor can be allocated.
func (s *Session) install(ctx context.Context, op, p string, attrs *pms.Attributes, flags int) (int, error) {
	backend, handles, err := s.live(op, p)
	if err != nil {
		return -1, err
	}
	f := &openFile{inodeID: attrs.InodeID, path: p, flags: flags}
	fd, err := handles.allocate(f)
	if err != nil {
		_ = s.release(ctx, backend, f)
		return -1, newError(op, p, ErrInvalidArgument, err)
	}
	return fd, nil
}

// Truncate resizes path. Shrinking discards data, growing zero-fills.
func (s *Session) Truncate(ctx context.Context, path string, size int64) error {
	p, err := s.resolve("truncate", path)
	if err != nil {
		return err
	}
	if size < 0 {
		return newError("truncate", p, ErrInvalidArgument, fmt.Errorf("negative size %d", size))
	}
	var lk srv.LookupPathResponse
	if err := s.callJSON(ctx, "truncate", p, srv.MsgLookupPath, srv.LookupPathRequest{Path: p}, &lk); err != nil {
		return err
	}
	_, err = s.call(ctx, "truncate", p, srv.MsgTruncate, srv.TruncateRequest{InodeID: lk.InodeID, Size: size})
	return err
}

// Unlink removes the file at path. Descriptors already open on it keep
// working until closed.
func (s *Session) Unlink(ctx context.Context, path string) error {
	p, err := s.resolve("unlink", path)
	if err != nil {
		return err
	}
	if _, _, ok := splitParentAndName(p); !ok {
		return newError("unlink", p, ErrIsDirectory, nil)
	}
	_, err = s.call(ctx, "unlink", p, srv.MsgRemove, srv.RemoveRequest{Path: p})
	return err
}

func (s *Session) Mkdir(ctx context.Context, path string, mode uint32) error {
	p, err := s.resolve("mkdir", path)
	if err != nil {
		return err
	}
	if _, _, ok := splitParentAndName(p); !ok {
		return newError("mkdir", p, ErrAlreadyExists, nil)
	}
	uid, gid := owner()
	_, err = s.call(ctx, "mkdir", p, srv.MsgMkdir, srv.MkdirRequest{
		Path: p,
		Mode: permBits(mode, defaultDirMode),
		UID:  uid,
		GID:  gid,
	})
	return err
}

// Rmdir removes an empty directory. The entry is gone when Rmdir returns.
func (s *Session) Rmdir(ctx context.Context, path string) error {
	p, err := s.resolve("rmdir", path)
	if err != nil {
		return err
	}
	if _, _, ok := splitParentAndName(p); !ok {
		return newError("rmdir", p, ErrInvalidArgument, fmt.Errorf("cannot remove the root directory"))
	}
	_, err = s.call(ctx, "rmdir", p, srv.MsgRmdir, srv.RmdirRequest{Path: p})
	return err
}

// Rename moves oldPath to newPath, replacing a compatible target.
func (s *Session) Rename(ctx context.Context, oldPath, newPath string) error {
	src, err := s.resolve("rename", oldPath)
	if err != nil {
		return err
	}
	dst, err := s.resolve("rename", newPath)
	if err != nil {
		return err
	}
	_, err = s.call(ctx, "rename", src, srv.MsgRename, srv.RenameRequest{SrcPath: src, DstPath: dst})
	return err
}

func (s *Session) Chmod(ctx context.Context, path string, mode uint32) error {
	p, err := s.resolve("chmod", path)
	if err != nil {
		return err
	}
	perm := mode & 0o7777
	_, err = s.call(ctx, "chmod", p, srv.MsgSetAttr, srv.SetAttrRequest{Path: p, Mode: &perm})
	return err
}

// Chtimes sets access and modification times. Zero times are left
// unchanged.
func (s *Session) Chtimes(ctx context.Context, path string, atime, mtime time.Time) error {
	p, err := s.resolve("chtimes", path)
	if err != nil {
		return err
	}
	req := srv.SetAttrRequest{Path: p}
	if !atime.IsZero() {
		v := atime.UnixNano()
		req.ATime = &v
	}
	if !mtime.IsZero() {
		v := mtime.UnixNano()
		req.MTime = &v
	}
	_, err = s.call(ctx, "chtimes", p, srv.MsgSetAttr, req)
	return err
}

func owner() (uint32, uint32) {
	uid, gid := os.Getuid(), os.Getgid()
	if uid < 0 {
		uid = 0
	}
	if gid < 0 {
		gid = 0
	}
	return uint32(uid), uint32(gid)
}
