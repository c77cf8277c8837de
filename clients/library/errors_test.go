package chfslib

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"testing"

	"github.com/AnishMulay/chfs/internal/communication"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForCode(t *testing.T) {
	tests := []struct {
		code communication.SandCode
		want error
	}{
		{communication.CodeNotFound, ErrNotFound},
		{communication.CodeAlreadyExists, ErrAlreadyExists},
		{communication.CodeNotDir, ErrNotADirectory},
		{communication.CodeIsDir, ErrIsDirectory},
		{communication.CodeNotEmpty, ErrDirectoryNotEmpty},
		{communication.CodeInvalid, ErrInvalidArgument},
		{communication.CodeBadRequest, ErrInvalidArgument},
		{communication.CodeUnavailable, ErrConnection},
		{communication.CodeInternal, ErrInternal},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := responseError("op", "/p", &communication.Response{Code: tt.code, Body: []byte("detail")})
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "detail")
		})
	}
}

func TestErrorMatchesFSSentinels(t *testing.T) {
	assert.ErrorIs(t, newError("stat", "/x", ErrNotFound, nil), fs.ErrNotExist)
	assert.ErrorIs(t, newError("mkdir", "/x", ErrAlreadyExists, nil), fs.ErrExist)
	assert.ErrorIs(t, newError("read", "", ErrInvalidHandle, nil), fs.ErrInvalid)
	assert.ErrorIs(t, newError("seek", "", ErrInvalidArgument, nil), fs.ErrInvalid)
	assert.ErrorIs(t, newError("read", "", ErrTimeout, nil), os.ErrDeadlineExceeded)
	assert.NotErrorIs(t, newError("stat", "/x", ErrNotFound, nil), fs.ErrExist)
	assert.True(t, IsNotExist(fmt.Errorf("wrapped: %w", newError("stat", "/x", ErrNotFound, nil))))
}

func TestTransportError(t *testing.T) {
	err := transportError("read", "/f", fmt.Errorf("%w: %w", communication.ErrMessageSendFailed, context.DeadlineExceeded))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = transportError("read", "/f", fmt.Errorf("%w: %w", communication.ErrMessageSendFailed, communication.ErrConnectionFailed))
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, communication.ErrConnectionFailed)

	var cerr *Error
	assert.True(t, errors.As(err, &cerr))
	assert.Equal(t, "read", cerr.Op)
	assert.Equal(t, "/f", cerr.Path)
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "chfs: stat /a: no such file or directory", newError("stat", "/a", ErrNotFound, nil).Error())
	assert.Equal(t, "chfs: term: session not in the required state: session is new",
		newError("term", "", ErrState, errors.New("session is new")).Error())
	assert.Equal(t, "chfs: open /a: no such file or directory",
		newError("open", "/a", ErrNotFound, errors.New("no such file or directory")).Error())
	assert.Equal(t, "chfs: pwrite /f: invalid argument: size 9 exceeds max file size 8",
		newError("pwrite", "/f", ErrInvalidArgument, errors.New("invalid argument: size 9 exceeds max file size 8")).Error())
}

func TestResponseErrorDropsRedundantBody(t *testing.T) {
	err := responseError("stat", "/missing", &communication.Response{
		Code: communication.CodeNotFound,
		Body: []byte("no such file or directory\n"),
	})
	assert.Equal(t, "chfs: stat /missing: no such file or directory", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.NoError(t, cerr.Err)
}
