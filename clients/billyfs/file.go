package billyfs

import (
	"io"
	"sync"

	"github.com/go-git/go-billy/v5"
)

// file is an open CHFS descriptor behind the billy.File interface.
type file struct {
	fs   *FS
	fd   int
	name string

	closeOnce sync.Once
	closeErr  error
}

var _ billy.File = (*file)(nil)

func (f *file) Name() string { return f.name }

func (f *file) Read(p []byte) (int, error) {
	n, err := f.fs.session.Read(f.fs.ctx, f.fd, p)
	if err != nil {
		return n, pathError("read", f.name, err)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.fs.session.PRead(f.fs.ctx, f.fd, p, off)
	if err != nil {
		return n, pathError("read", f.name, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *file) Write(p []byte) (int, error) {
	n, err := f.fs.session.Write(f.fs.ctx, f.fd, p)
	if err != nil {
		return n, pathError("write", f.name, err)
	}
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.fs.session.PWrite(f.fs.ctx, f.fd, p, off)
	if err != nil {
		return n, pathError("write", f.name, err)
	}
	return n, nil
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	pos, err := f.fs.session.Seek(f.fs.ctx, f.fd, offset, whence)
	if err != nil {
		return pos, pathError("seek", f.name, err)
	}
	return pos, nil
}

func (f *file) Truncate(size int64) error {
	if err := f.fs.session.Ftruncate(f.fs.ctx, f.fd, size); err != nil {
		return pathError("truncate", f.name, err)
	}
	return nil
}

// Close releases the descriptor on the first call only.
func (f *file) Close() error {
	f.closeOnce.Do(func() {
		if err := f.fs.session.Close(f.fs.ctx, f.fd); err != nil {
			f.closeErr = pathError("close", f.name, err)
		}
	})
	return f.closeErr
}

func (f *file) Lock() error   { return nil }
func (f *file) Unlock() error { return nil }
