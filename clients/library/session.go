// Package chfslib is the CHFS client: a Session turns the server's
// path-based primitives into descriptors with cursors, explicit-offset
// I/O and lazy directory enumeration.
package chfslib

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/AnishMulay/chfs/internal/communication"
	"github.com/AnishMulay/chfs/internal/log_service"
	srv "github.com/AnishMulay/chfs/internal/server"
)

// EnvServer names the environment variable holding the default endpoint.
const EnvServer = "CHFS_SERVER"

type sessionState int

const (
	stateNew sessionState = iota
	stateLive
	stateTerminated
)

func (s sessionState) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateLive:
		return "live"
	default:
		return "terminated"
	}
}

// Session is one connection to a CHFS server and the descriptors opened
// through it. It is safe for concurrent use.
type Session struct {
	mu       sync.RWMutex
	state    sessionState
	endpoint string
	backend  Backend
	owned    bool
	handles  *handleTable

	opts options
}

func NewSession(opts ...Option) *Session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Session{opts: o, handles: newHandleTable()}
}

// Dial creates a session and initializes it against endpoint.
func Dial(ctx context.Context, endpoint string, opts ...Option) (*Session, error) {
	s := NewSession(opts...)
	if err := s.Init(ctx, endpoint); err != nil {
		return nil, err
	}
	return s, nil
}

// EndpointFromEnv returns $CHFS_SERVER.
func EndpointFromEnv() (string, error) {
	v := os.Getenv(EnvServer)
	if v == "" {
		return "", newError("env", EnvServer, ErrConnection, fmt.Errorf("%s is not set", EnvServer))
	}
	return v, nil
}

// Init connects to endpoint and verifies the server answers. A session
// that was terminated may be initialized again.
func (s *Session) Init(ctx context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateLive {
		return newError("init", endpoint, ErrState, fmt.Errorf("session already live on %s", s.endpoint))
	}

	backend, owned := s.opts.backend, false
	if backend == nil {
		b, err := dialBackend(ctx, endpoint, s.opts)
		if err != nil {
			return newError("init", endpoint, ErrConnection, err)
		}
		backend, owned = b, true
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.requestTimeout)
	defer cancel()
	var pong srv.PingResponse
	resp, err := backend.Call(pctx, srv.MsgPing, nil)
	if err == nil && resp.Code != communication.CodeOK {
		err = fmt.Errorf("ping returned %s", resp.Code)
	}
	if err == nil {
		if derr := json.Unmarshal(resp.Body, &pong); derr != nil {
			err = fmt.Errorf("undecodable ping reply: %w", derr)
		}
	}
	if err != nil {
		if owned {
			_ = backend.Close()
		}
		return newError("init", endpoint, ErrConnection, err)
	}

	s.endpoint = endpoint
	s.backend = backend
	s.owned = owned
	s.handles = newHandleTable()
	s.state = stateLive

	s.opts.ls.Info(log_service.LogEvent{
		Message:  "CHFS session initialized",
		Metadata: map[string]any{"endpoint": endpoint, "nodeId": pong.NodeID, "clientId": s.opts.clientID},
	})
	return nil
}

// Term closes every descriptor still open, releasing their server pins,
// and disconnects.
func (s *Session) Term(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateLive {
		state := s.state
		s.mu.Unlock()
		return newError("term", "", ErrState, fmt.Errorf("session is %s", state))
	}
	backend, owned, endpoint := s.backend, s.owned, s.endpoint
	open := s.handles.drain()
	s.state = stateTerminated
	s.backend = nil
	s.mu.Unlock()

	for fd, f := range open {
		f.mu.Lock()
		s.opts.ls.Warn(log_service.LogEvent{
			Message:  "Force-closing open handle on session termination",
			Metadata: map[string]any{"fd": fd, "path": f.path},
		})
		if err := s.release(ctx, backend, f); err != nil {
			s.opts.ls.Warn(log_service.LogEvent{
				Message:  "Failed to release handle",
				Metadata: map[string]any{"fd": fd, "path": f.path, "error": err.Error()},
			})
		}
		f.mu.Unlock()
	}

	s.opts.ls.Info(log_service.LogEvent{
		Message:  "CHFS session terminated",
		Metadata: map[string]any{"endpoint": endpoint, "forceClosed": len(open)},
	})

	if owned {
		if err := backend.Close(); err != nil {
			return newError("term", endpoint, ErrConnection, err)
		}
	}
	return nil
}

// Endpoint returns the endpoint of the last successful Init.
func (s *Session) Endpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoint
}

// OpenHandles reports how many descriptors are open.
func (s *Session) OpenHandles() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handles.count()
}

func (s *Session) live(op, path string) (Backend, *handleTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != stateLive {
		return nil, nil, newError(op, path, ErrState, fmt.Errorf("session is %s", s.state))
	}
	return s.backend, s.handles, nil
}

// call runs one request under the session's request timeout. Any non-OK
// reply becomes an *Error.
func (s *Session) call(ctx context.Context, op, path, msgType string, payload any) (*communication.Response, error) {
	backend, _, err := s.live(op, path)
	if err != nil {
		return nil, err
	}
	return s.callBackend(ctx, backend, op, path, msgType, payload)
}

func (s *Session) callBackend(ctx context.Context, backend Backend, op, path, msgType string, payload any) (*communication.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.requestTimeout)
	defer cancel()

	resp, err := backend.Call(ctx, msgType, payload)
	if err != nil {
		s.opts.ls.Debug(log_service.LogEvent{
			Message:  "Request failed",
			Metadata: map[string]any{"op": op, "path": path, "type": msgType, "error": err.Error()},
		})
		return nil, transportError(op, path, err)
	}
	if resp.Code != communication.CodeOK {
		return nil, responseError(op, path, resp)
	}
	return resp, nil
}

func (s *Session) callJSON(ctx context.Context, op, path, msgType string, payload, out any) error {
	resp, err := s.call(ctx, op, path, msgType, payload)
	if err != nil {
		return err
	}
	return decodeBody(op, path, resp, out)
}

func decodeBody(op, path string, resp *communication.Response, out any) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return newError(op, path, ErrInternal, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// handle resolves fd on a live session.
func (s *Session) handle(op string, fd int) (*openFile, error) {
	_, handles, err := s.live(op, "")
	if err != nil {
		return nil, err
	}
	f, ok := handles.lookup(fd)
	if !ok {
		return nil, newError(op, fmt.Sprintf("fd %d", fd), ErrInvalidHandle, nil)
	}
	return f, nil
}

func (s *Session) release(ctx context.Context, backend Backend, f *openFile) error {
	_, err := s.callBackend(ctx, backend, "close", f.path, srv.MsgRelease, srv.ReleaseRequest{InodeID: f.inodeID})
	return err
}

