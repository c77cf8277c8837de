package chfslib

import (
	"io/fs"
	"time"

	pms "github.com/AnishMulay/chfs/internal/metadata_service"
)

// POSIX file type bits carried in Stat.Mode.
const (
	S_IFMT  = 0o170000
	S_IFDIR = 0o040000
	S_IFREG = 0o100000
)

const (
	defaultFileMode = 0o644
	defaultDirMode  = 0o755
)

// Stat is a fresh snapshot of an inode's metadata. It is never cached.
type Stat struct {
	Ino   uint64
	Mode  uint32
	Size  int64
	Nlink uint32
	UID   uint32
	GID   uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

func (st Stat) IsRegular() bool { return st.Mode&S_IFMT == S_IFREG }
func (st Stat) IsDir() bool     { return st.Mode&S_IFMT == S_IFDIR }

// FileMode converts Mode to an fs.FileMode.
func (st Stat) FileMode() fs.FileMode {
	m := fs.FileMode(st.Mode & 0o777)
	if st.IsDir() {
		m |= fs.ModeDir
	}
	if st.Mode&0o4000 != 0 {
		m |= fs.ModeSetuid
	}
	if st.Mode&0o2000 != 0 {
		m |= fs.ModeSetgid
	}
	if st.Mode&0o1000 != 0 {
		m |= fs.ModeSticky
	}
	return m
}

func typeBits(t pms.InodeType) uint32 {
	if t == pms.TypeDirectory {
		return S_IFDIR
	}
	return S_IFREG
}

func statFrom(a *pms.Attributes) Stat {
	nlink := a.Nlink
	if nlink < 0 {
		nlink = 0
	}
	return Stat{
		Ino:   a.Ino,
		Mode:  typeBits(a.Type) | a.Mode&0o7777,
		Size:  a.Size,
		Nlink: uint32(nlink),
		UID:   a.UID,
		GID:   a.GID,
		Atime: a.AccessTime,
		Mtime: a.ModifyTime,
		Ctime: a.ChangeTime,
	}
}

// permBits keeps the permission bits of mode, substituting def for zero.
func permBits(mode uint32, def uint32) uint32 {
	if p := mode & 0o7777; p != 0 {
		return p
	}
	return def
}
