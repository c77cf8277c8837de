package chfslib

import (
	"context"
	"fmt"
	"iter"

	srv "github.com/AnishMulay/chfs/internal/server"
)

// DirEntry is one child of a directory. Offset resumes enumeration right
// after this entry.
type DirEntry struct {
	Name   string
	Stat   Stat
	Offset int64
}

// ReadDir enumerates the children of path in name order, excluding "."
// and "..". The sequence is lazy and restartable; breaking out of the
// loop stops it. An error is yielded once and ends the sequence.
func (s *Session) ReadDir(ctx context.Context, path string) iter.Seq2[DirEntry, error] {
	return s.ReadDirFrom(ctx, path, 0)
}

// ReadDirFrom is ReadDir resuming at offset, as returned in
// DirEntry.Offset.
func (s *Session) ReadDirFrom(ctx context.Context, path string, offset int64) iter.Seq2[DirEntry, error] {
	return func(yield func(DirEntry, error) bool) {
		p, err := s.resolve("readdir", path)
		if err != nil {
			yield(DirEntry{}, err)
			return
		}
		if offset < 0 {
			yield(DirEntry{}, newError("readdir", p, ErrInvalidArgument, fmt.Errorf("negative offset %d", offset)))
			return
		}

		cookie := int(offset)
		for {
			var page srv.ReadDirPlusResponse
			err := s.callJSON(ctx, "readdir", p, srv.MsgReadDirPlus, srv.ReadDirPlusRequest{
				Path:       p,
				Cookie:     cookie,
				MaxEntries: s.opts.readDirPage,
			}, &page)
			if err != nil {
				yield(DirEntry{}, err)
				return
			}

			for _, e := range page.Entries {
				if e.Name == "." || e.Name == ".." {
					continue
				}
				entry := DirEntry{Name: e.Name, Offset: int64(e.Cookie)}
				if e.Inode != nil {
					entry.Stat = statFrom(e.Inode)
				} else {
					entry.Stat.Mode = typeBits(e.Type)
				}
				if !yield(entry, nil) {
					return
				}
			}

			if page.EOF || len(page.Entries) == 0 || page.Cookie <= cookie {
				return
			}
			cookie = page.Cookie
		}
	}
}

// ReadDirFunc calls fn for each child of path until fn returns false.
func (s *Session) ReadDirFunc(ctx context.Context, path string, fn func(name string, st Stat, off int64) bool) error {
	for e, err := range s.ReadDir(ctx, path) {
		if err != nil {
			return err
		}
		if !fn(e.Name, e.Stat, e.Offset) {
			return nil
		}
	}
	return nil
}
