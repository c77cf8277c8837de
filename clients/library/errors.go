package chfslib

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/AnishMulay/chfs/internal/communication"
)

// Error kinds. Every error returned by a Session is an *Error whose Kind
// is one of these.
var (
	ErrConnection        = errors.New("connection failed")
	ErrState             = errors.New("session not in the required state")
	ErrNotFound          = errors.New("no such file or directory")
	ErrAlreadyExists     = errors.New("file exists")
	ErrNotADirectory     = errors.New("not a directory")
	ErrIsDirectory       = errors.New("is a directory")
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrInvalidHandle     = errors.New("bad file descriptor")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrTimeout           = errors.New("request timed out")
	ErrInternal          = errors.New("server error")
)

// Error records a failed operation, the path or descriptor it touched,
// its kind, and the underlying cause if any.
type Error struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("chfs: ")
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")
	kind := e.Kind.Error()
	b.WriteString(kind)
	if e.Err != nil && e.Err != e.Kind {
		if cause := strings.TrimPrefix(e.Err.Error(), kind+": "); cause != kind {
			b.WriteString(": ")
			b.WriteString(cause)
		}
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Is lets callers match against the io/fs sentinels as well.
func (e *Error) Is(target error) bool {
	switch target {
	case fs.ErrNotExist:
		return e.Kind == ErrNotFound
	case fs.ErrExist:
		return e.Kind == ErrAlreadyExists
	case fs.ErrInvalid:
		return e.Kind == ErrInvalidArgument || e.Kind == ErrInvalidHandle
	case fs.ErrClosed:
		return e.Kind == ErrState
	case os.ErrDeadlineExceeded:
		return e.Kind == ErrTimeout
	}
	return false
}

func newError(op, path string, kind, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

func kindForCode(code communication.SandCode) error {
	switch code {
	case communication.CodeNotFound:
		return ErrNotFound
	case communication.CodeAlreadyExists:
		return ErrAlreadyExists
	case communication.CodeNotDir:
		return ErrNotADirectory
	case communication.CodeIsDir:
		return ErrIsDirectory
	case communication.CodeNotEmpty:
		return ErrDirectoryNotEmpty
	case communication.CodeBadRequest, communication.CodeInvalid:
		return ErrInvalidArgument
	case communication.CodeUnavailable:
		return ErrConnection
	default:
		return ErrInternal
	}
}

func responseError(op, path string, resp *communication.Response) error {
	kind := kindForCode(resp.Code)
	var cause error
	if body := strings.TrimSpace(string(resp.Body)); body != "" && body != kind.Error() {
		cause = errors.New(body)
	}
	return newError(op, path, kind, cause)
}

func transportError(op, path string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(op, path, ErrTimeout, err)
	}
	return newError(op, path, ErrConnection, err)
}

// IsNotExist reports whether err is ErrNotFound.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotFound)
}

var (
	errEmptyPath    = errors.New("empty path")
	errRelativePath = errors.New("path must be absolute")
	errTableFull    = errors.New("too many open files")
)
