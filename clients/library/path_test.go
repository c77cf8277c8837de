package chfslib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"/", "/", false},
		{"/a/b/", "/a/b", false},
		{"//a//./b/../c", "/a/c", false},
		{"  /spaced ", "/spaced", false},
		{"/..", "/", false},
		{"", "", true},
		{"   ", "", true},
		{"relative/path", "", true},
		{"./x", "", true},
	}
	for _, tt := range tests {
		got, err := normalizePath("op", tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidArgument, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSplitParentAndName(t *testing.T) {
	parent, name, ok := splitParentAndName("/a/b/c")
	require.True(t, ok)
	assert.Equal(t, "/a/b", parent)
	assert.Equal(t, "c", name)

	parent, name, ok = splitParentAndName("/top")
	require.True(t, ok)
	assert.Equal(t, "/", parent)
	assert.Equal(t, "top", name)

	_, _, ok = splitParentAndName("/")
	assert.False(t, ok)
}
