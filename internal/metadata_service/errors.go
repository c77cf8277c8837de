package metadata_service

import "errors"

// Errors returned by metadata services, mapped to POSIX concepts.
var (
	ErrNotFound      = errors.New("no such file or directory")
	ErrAlreadyExists = errors.New("file exists")
	ErrNotDir        = errors.New("not a directory")
	ErrIsDir         = errors.New("is a directory")
	ErrNotEmpty      = errors.New("directory not empty")
	ErrInvalid       = errors.New("invalid argument")
	ErrNotPinned     = errors.New("inode is not open")
)
