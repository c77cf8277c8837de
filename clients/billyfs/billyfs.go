// Package billyfs exposes a CHFS session as a go-billy filesystem so
// billy-based tooling can run against CHFS unchanged.
package billyfs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	chfslib "github.com/AnishMulay/chfs/clients/library"
	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
)

// FS implements billy.Filesystem over a live session. Names are
// slash-separated and resolved against Root.
type FS struct {
	ctx     context.Context
	session *chfslib.Session
	root    string
}

var _ billy.Filesystem = (*FS)(nil)

// New returns a filesystem rooted at "/" of the session. ctx bounds
// every call made through it.
func New(ctx context.Context, s *chfslib.Session) *FS {
	return &FS{ctx: ctx, session: s, root: "/"}
}

func (f *FS) abs(name string) string {
	return path.Join("/", f.root, name)
}

func (f *FS) Create(filename string) (billy.File, error) {
	return f.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

func (f *FS) Open(filename string) (billy.File, error) {
	return f.OpenFile(filename, os.O_RDONLY, 0)
}

// OpenFile opens filename. O_CREATE also creates missing parent
// directories, as osfs does.
func (f *FS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	p := f.abs(filename)
	if flag&os.O_CREATE != 0 {
		if err := f.mkdirAll(path.Dir(p), 0o755); err != nil {
			return nil, pathError("open", filename, err)
		}
	}
	st, err := f.session.Stat(f.ctx, p)
	switch {
	case err == nil && st.IsDir():
		return nil, pathError("open", filename, chfslib.ErrIsDirectory)
	case err != nil && !errors.Is(err, chfslib.ErrNotFound):
		return nil, pathError("open", filename, err)
	}

	fd, err := f.session.OpenFile(f.ctx, p, flag, uint32(perm.Perm()))
	if err != nil {
		return nil, pathError("open", filename, err)
	}
	return &file{fs: f, fd: fd, name: filename}, nil
}

func (f *FS) Stat(filename string) (os.FileInfo, error) {
	p := f.abs(filename)
	st, err := f.session.Stat(f.ctx, p)
	if err != nil {
		return nil, pathError("stat", filename, err)
	}
	return newFileInfo(path.Base(p), st), nil
}

// Rename moves oldpath to newpath, creating newpath's parent if needed.
func (f *FS) Rename(oldpath, newpath string) error {
	dst := f.abs(newpath)
	if err := f.mkdirAll(path.Dir(dst), 0o755); err != nil {
		return pathError("rename", newpath, err)
	}
	if err := f.session.Rename(f.ctx, f.abs(oldpath), dst); err != nil {
		return pathError("rename", oldpath, err)
	}
	return nil
}

// Remove deletes a file or an empty directory.
func (f *FS) Remove(filename string) error {
	p := f.abs(filename)
	st, err := f.session.Stat(f.ctx, p)
	if err != nil {
		return pathError("remove", filename, err)
	}
	if st.IsDir() {
		err = f.session.Rmdir(f.ctx, p)
	} else {
		err = f.session.Unlink(f.ctx, p)
	}
	if err != nil {
		return pathError("remove", filename, err)
	}
	return nil
}

func (f *FS) Join(elem ...string) string {
	return path.Join(elem...)
}

// TempFile creates a new file in dir whose name starts with prefix.
func (f *FS) TempFile(dir, prefix string) (billy.File, error) {
	for range 8 {
		name := path.Join(dir, prefix+uuid.NewString()[:8])
		file, err := f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return file, err
	}
	return nil, pathError("tempfile", dir, fs.ErrExist)
}

func (f *FS) ReadDir(dirname string) ([]os.FileInfo, error) {
	var infos []os.FileInfo
	for e, err := range f.session.ReadDir(f.ctx, f.abs(dirname)) {
		if err != nil {
			return nil, pathError("readdir", dirname, err)
		}
		infos = append(infos, newFileInfo(e.Name, e.Stat))
	}
	return infos, nil
}

func (f *FS) MkdirAll(filename string, perm os.FileMode) error {
	if err := f.mkdirAll(f.abs(filename), uint32(perm.Perm())); err != nil {
		return pathError("mkdir", filename, err)
	}
	return nil
}

func (f *FS) mkdirAll(p string, mode uint32) error {
	if p == "/" {
		return nil
	}
	st, err := f.session.Stat(f.ctx, p)
	if err == nil {
		if !st.IsDir() {
			return chfslib.ErrNotADirectory
		}
		return nil
	}
	if !errors.Is(err, chfslib.ErrNotFound) {
		return err
	}
	if err := f.mkdirAll(path.Dir(p), mode); err != nil {
		return err
	}
	err = f.session.Mkdir(f.ctx, p, mode)
	if errors.Is(err, chfslib.ErrAlreadyExists) {
		return nil
	}
	return err
}

// Lstat is Stat; CHFS has no symbolic links.
func (f *FS) Lstat(filename string) (os.FileInfo, error) {
	return f.Stat(filename)
}

func (f *FS) Symlink(target, link string) error {
	return billy.ErrNotSupported
}

func (f *FS) Readlink(link string) (string, error) {
	return "", billy.ErrNotSupported
}

// Chroot returns a filesystem whose root is p under the current root.
func (f *FS) Chroot(p string) (billy.Filesystem, error) {
	root := f.abs(p)
	st, err := f.session.Stat(f.ctx, root)
	if err != nil {
		return nil, pathError("chroot", p, err)
	}
	if !st.IsDir() {
		return nil, pathError("chroot", p, chfslib.ErrNotADirectory)
	}
	return &FS{ctx: f.ctx, session: f.session, root: root}, nil
}

func (f *FS) Root() string {
	return f.root
}

// Capabilities reports what the CHFS backend supports. Locking is not
// among them.
func (f *FS) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability | billy.ReadAndWriteCapability |
		billy.SeekCapability | billy.TruncateCapability
}

// pathError rewraps err so os.IsNotExist and os.IsExist, which only look
// through *fs.PathError, recognize CHFS errors.
func pathError(op, name string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		err = fs.ErrNotExist
	case errors.Is(err, fs.ErrExist):
		err = fs.ErrExist
	}
	return &fs.PathError{Op: op, Path: strings.TrimPrefix(name, "/"), Err: err}
}

type fileInfo struct {
	name string
	st   chfslib.Stat
}

func newFileInfo(name string, st chfslib.Stat) *fileInfo {
	return &fileInfo{name: name, st: st}
}

func (i *fileInfo) Name() string       { return i.name }
func (i *fileInfo) Size() int64        { return i.st.Size }
func (i *fileInfo) Mode() os.FileMode  { return i.st.FileMode() }
func (i *fileInfo) ModTime() time.Time { return i.st.Mtime }
func (i *fileInfo) IsDir() bool        { return i.st.IsDir() }
func (i *fileInfo) Sys() any           { return i.st }
