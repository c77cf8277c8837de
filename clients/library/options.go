package chfslib

import (
	"time"

	"github.com/AnishMulay/chfs/internal/log_service"
	"github.com/AnishMulay/chfs/internal/log_service/zaplog"
	"github.com/google/uuid"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultReadDirPage    = 128
)

type options struct {
	requestTimeout time.Duration
	readDirPage    int
	ls             log_service.LogService
	backend        Backend
	clientID       string
}

type Option func(*options)

// WithRequestTimeout bounds every server round trip. Expiry surfaces as
// ErrTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

func WithLogService(ls log_service.LogService) Option {
	return func(o *options) {
		if ls != nil {
			o.ls = ls
		}
	}
}

// WithBackend makes Init use b instead of dialing the endpoint. The
// caller owns b; Term does not close it.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithClientID sets the From field of every request.
func WithClientID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.clientID = id
		}
	}
}

// WithReadDirPageSize sets how many entries each readdir round trip asks for.
func WithReadDirPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readDirPage = n
		}
	}
}

func defaultOptions() options {
	return options{
		requestTimeout: DefaultRequestTimeout,
		readDirPage:    DefaultReadDirPage,
		ls:             zaplog.NewNop(),
		clientID:       "chfslib-" + uuid.NewString(),
	}
}
