// Package chfuse mounts a CHFS session as a FUSE filesystem.
package chfuse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"syscall"

	chfslib "github.com/AnishMulay/chfs/clients/library"
	"github.com/AnishMulay/chfs/internal/log_service"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Node is a file or directory. Its path is derived from its position
// in the kernel-visible tree, so renames need no bookkeeping here.
type Node struct {
	fs.Inode

	session *chfslib.Session
	ls      log_service.LogService
}

var (
	_ fs.InodeEmbedder = (*Node)(nil)
	_ fs.NodeGetattrer = (*Node)(nil)
	_ fs.NodeSetattrer = (*Node)(nil)
	_ fs.NodeLookuper  = (*Node)(nil)
	_ fs.NodeReaddirer = (*Node)(nil)
	_ fs.NodeOpener    = (*Node)(nil)
	_ fs.NodeCreater   = (*Node)(nil)
	_ fs.NodeMkdirer   = (*Node)(nil)
	_ fs.NodeUnlinker  = (*Node)(nil)
	_ fs.NodeRmdirer   = (*Node)(nil)
	_ fs.NodeRenamer   = (*Node)(nil)
	_ fs.NodeStatfser  = (*Node)(nil)
)

// NewRoot returns the root node for s.
func NewRoot(s *chfslib.Session, ls log_service.LogService) *Node {
	return &Node{session: s, ls: ls}
}

// Mount mounts s at mountPoint. The caller unmounts through the
// returned server; the session stays open until the caller terms it.
func Mount(mountPoint string, s *chfslib.Session, ls log_service.LogService, debug bool) (*fuse.Server, error) {
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return nil, fmt.Errorf("create mount point: %w", err)
	}

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName: "chfs",
			Name:   "chfs",
			Debug:  debug,
		},
		UID: uint32(os.Getuid()),
		GID: uint32(os.Getgid()),
	}

	server, err := fs.Mount(mountPoint, NewRoot(s, ls), opts)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	ls.Info(log_service.LogEvent{
		Message:  "CHFS mounted",
		Metadata: map[string]any{"mountPoint": mountPoint, "endpoint": s.Endpoint()},
	})
	return server, nil
}

func (n *Node) path(name ...string) string {
	return path.Join(append([]string{"/", n.Path(nil)}, name...)...)
}

func (n *Node) newChild(ctx context.Context, st chfslib.Stat) *fs.Inode {
	child := &Node{session: n.session, ls: n.ls}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: st.Mode & chfslib.S_IFMT, Ino: st.Ino})
}

func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	var (
		st  chfslib.Stat
		err error
	)
	if h, ok := fh.(*handle); ok {
		st, err = n.session.Fstat(ctx, h.fd)
	} else {
		st, err = n.session.Stat(ctx, n.path())
	}
	if err != nil {
		return n.errno("getattr", err)
	}
	fillAttr(&out.Attr, st)
	return 0
}

func (n *Node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	p := n.path()
	if size, ok := in.GetSize(); ok {
		var err error
		if h, ok := fh.(*handle); ok {
			err = n.session.Ftruncate(ctx, h.fd, int64(size))
		} else {
			err = n.session.Truncate(ctx, p, int64(size))
		}
		if err != nil {
			return n.errno("truncate", err)
		}
	}
	if mode, ok := in.GetMode(); ok {
		if err := n.session.Chmod(ctx, p, mode); err != nil {
			return n.errno("chmod", err)
		}
	}
	atime, aok := in.GetATime()
	mtime, mok := in.GetMTime()
	if aok || mok {
		st, err := n.session.Stat(ctx, p)
		if err != nil {
			return n.errno("chtimes", err)
		}
		if !aok {
			atime = st.Atime
		}
		if !mok {
			mtime = st.Mtime
		}
		if err := n.session.Chtimes(ctx, p, atime, mtime); err != nil {
			return n.errno("chtimes", err)
		}
	}
	return n.Getattr(ctx, fh, out)
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	st, err := n.session.Stat(ctx, n.path(name))
	if err != nil {
		return nil, n.errno("lookup", err)
	}
	fillAttr(&out.Attr, st)
	return n.newChild(ctx, st), 0
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	var entries []fuse.DirEntry
	for e, err := range n.session.ReadDir(ctx, n.path()) {
		if err != nil {
			return nil, n.errno("readdir", err)
		}
		entries = append(entries, fuse.DirEntry{
			Name: e.Name,
			Mode: e.Stat.Mode & chfslib.S_IFMT,
			Ino:  e.Stat.Ino,
		})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	fd, err := n.session.Open(ctx, n.path(), int(flags))
	if err != nil {
		return nil, 0, n.errno("open", err)
	}
	return &handle{session: n.session, fd: fd}, fuse.FOPEN_DIRECT_IO, 0
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	fd, err := n.session.OpenFile(ctx, n.path(name), int(flags)|os.O_CREATE, mode)
	if err != nil {
		return nil, nil, 0, n.errno("create", err)
	}
	h := &handle{session: n.session, fd: fd}
	st, err := n.session.Fstat(ctx, fd)
	if err != nil {
		_ = n.session.Close(ctx, fd)
		return nil, nil, 0, n.errno("create", err)
	}
	fillAttr(&out.Attr, st)
	return n.newChild(ctx, st), h, fuse.FOPEN_DIRECT_IO, 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.path(name)
	if err := n.session.Mkdir(ctx, p, mode); err != nil {
		return nil, n.errno("mkdir", err)
	}
	st, err := n.session.Stat(ctx, p)
	if err != nil {
		return nil, n.errno("mkdir", err)
	}
	fillAttr(&out.Attr, st)
	return n.newChild(ctx, st), 0
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.errno("unlink", n.session.Unlink(ctx, n.path(name)))
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.errno("rmdir", n.session.Rmdir(ctx, n.path(name)))
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags != 0 {
		return syscall.EINVAL
	}
	dst := path.Join("/", newParent.EmbeddedInode().Path(nil), newName)
	return n.errno("rename", n.session.Rename(ctx, n.path(name), dst))
}

// Statfs reports a large, mostly empty filesystem; CHFS has no quota.
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	out.Bsize = 4096
	out.Frsize = 4096
	out.NameLen = 255
	out.Blocks = 1 << 32
	out.Bfree = out.Blocks
	out.Bavail = out.Blocks
	return 0
}

func (n *Node) errno(op string, err error) syscall.Errno {
	if err == nil {
		return 0
	}
	e := errnoFor(err)
	if e == syscall.EIO || e == syscall.ENOTCONN || e == syscall.ETIMEDOUT {
		n.ls.Warn(log_service.LogEvent{
			Message:  "FUSE operation failed",
			Metadata: map[string]any{"op": op, "path": n.path(), "error": err.Error()},
		})
	}
	return e
}

// errnoFor maps a client error kind to the errno the kernel expects.
func errnoFor(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, chfslib.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, chfslib.ErrAlreadyExists):
		return syscall.EEXIST
	case errors.Is(err, chfslib.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, chfslib.ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, chfslib.ErrDirectoryNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, chfslib.ErrInvalidHandle):
		return syscall.EBADF
	case errors.Is(err, chfslib.ErrInvalidArgument):
		return syscall.EINVAL
	case errors.Is(err, chfslib.ErrTimeout):
		return syscall.ETIMEDOUT
	case errors.Is(err, chfslib.ErrConnection), errors.Is(err, chfslib.ErrState):
		return syscall.ENOTCONN
	default:
		return syscall.EIO
	}
}

func fillAttr(out *fuse.Attr, st chfslib.Stat) {
	out.Ino = st.Ino
	out.Mode = st.Mode
	out.Size = uint64(st.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Nlink = st.Nlink
	out.Owner = fuse.Owner{Uid: st.UID, Gid: st.GID}
	out.SetTimes(&st.Atime, &st.Mtime, &st.Ctime)
}
