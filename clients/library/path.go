package chfslib

import (
	pathpkg "path"
	"strings"
)

// normalizePath cleans an absolute slash-separated path.
func normalizePath(op, path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", newError(op, path, ErrInvalidArgument, errEmptyPath)
	}
	if !strings.HasPrefix(trimmed, "/") {
		return "", newError(op, path, ErrInvalidArgument, errRelativePath)
	}
	return pathpkg.Clean(trimmed), nil
}

// splitParentAndName splits a cleaned path into its parent directory and
// leaf. The root has no leaf.
func splitParentAndName(path string) (string, string, bool) {
	if path == "/" {
		return "", "", false
	}
	return pathpkg.Dir(path), pathpkg.Base(path), true
}

// resolve checks the session is live, then normalizes path.
func (s *Session) resolve(op, path string) (string, error) {
	if _, _, err := s.live(op, path); err != nil {
		return "", err
	}
	return normalizePath(op, path)
}
