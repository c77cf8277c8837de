package simple

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/AnishMulay/chfs/internal/communication"
	fsvc "github.com/AnishMulay/chfs/internal/file_service"
	"github.com/AnishMulay/chfs/internal/log_service"
	pms "github.com/AnishMulay/chfs/internal/metadata_service"
	"github.com/AnishMulay/chfs/internal/metrics"
	srv "github.com/AnishMulay/chfs/internal/server"
)

type SimpleServer struct {
	nodeID string
	comm   communication.Communicator
	fs     fsvc.FileService
	ls     log_service.LogService
}

func NewSimpleServer(nodeID string, comm communication.Communicator, fs fsvc.FileService, ls log_service.LogService) *SimpleServer {
	return &SimpleServer{
		nodeID: nodeID,
		comm:   comm,
		fs:     fs,
		ls:     ls,
	}
}

func (s *SimpleServer) Start() error {
	s.ls.Info(log_service.LogEvent{Message: "Starting CHFS server", Metadata: map[string]any{"nodeId": s.nodeID}})

	s.registerPayloads()

	if err := s.fs.Start(); err != nil {
		return fmt.Errorf("%w: %w", srv.ErrServerStartFailed, err)
	}

	if err := s.comm.Start(s.handleMessage); err != nil {
		_ = s.fs.Stop()
		return fmt.Errorf("%w: %w", srv.ErrServerStartFailed, err)
	}
	return nil
}

func (s *SimpleServer) Stop() error {
	s.ls.Info(log_service.LogEvent{Message: "Stopping CHFS server", Metadata: map[string]any{"nodeId": s.nodeID}})
	commErr := s.comm.Stop()
	if err := s.fs.Stop(); err != nil {
		s.ls.Error(log_service.LogEvent{Message: "Failed to stop file service", Metadata: map[string]any{"error": err.Error()}})
		return fmt.Errorf("%w: %w", srv.ErrServerStopFailed, err)
	}
	return commErr
}

// Address is the address the communicator actually listens on.
func (s *SimpleServer) Address() string {
	return s.comm.Address()
}

func (s *SimpleServer) registerPayloads() {
	s.comm.RegisterPayloadType(srv.MsgPing, nil)
	s.comm.RegisterPayloadType(srv.MsgFsInfo, nil)
	s.comm.RegisterPayloadType(srv.MsgFsStat, nil)

	s.comm.RegisterPayloadType(srv.MsgGetAttr, reflect.TypeOf(srv.GetAttrRequest{}))
	s.comm.RegisterPayloadType(srv.MsgLookupPath, reflect.TypeOf(srv.LookupPathRequest{}))
	s.comm.RegisterPayloadType(srv.MsgStatPath, reflect.TypeOf(srv.StatPathRequest{}))
	s.comm.RegisterPayloadType(srv.MsgSetAttr, reflect.TypeOf(srv.SetAttrRequest{}))

	s.comm.RegisterPayloadType(srv.MsgCreate, reflect.TypeOf(srv.CreateRequest{}))
	s.comm.RegisterPayloadType(srv.MsgOpen, reflect.TypeOf(srv.OpenRequest{}))
	s.comm.RegisterPayloadType(srv.MsgRelease, reflect.TypeOf(srv.ReleaseRequest{}))
	s.comm.RegisterPayloadType(srv.MsgRead, reflect.TypeOf(srv.ReadRequest{}))
	s.comm.RegisterPayloadType(srv.MsgWrite, reflect.TypeOf(srv.WriteRequest{}))
	s.comm.RegisterPayloadType(srv.MsgTruncate, reflect.TypeOf(srv.TruncateRequest{}))
	s.comm.RegisterPayloadType(srv.MsgFsync, reflect.TypeOf(srv.FsyncRequest{}))

	s.comm.RegisterPayloadType(srv.MsgRemove, reflect.TypeOf(srv.RemoveRequest{}))
	s.comm.RegisterPayloadType(srv.MsgMkdir, reflect.TypeOf(srv.MkdirRequest{}))
	s.comm.RegisterPayloadType(srv.MsgRmdir, reflect.TypeOf(srv.RmdirRequest{}))
	s.comm.RegisterPayloadType(srv.MsgRename, reflect.TypeOf(srv.RenameRequest{}))
	s.comm.RegisterPayloadType(srv.MsgReadDirPlus, reflect.TypeOf(srv.ReadDirPlusRequest{}))
}

func (s *SimpleServer) handleMessage(ctx context.Context, msg communication.Message) (*communication.Response, error) {
	start := time.Now()
	resp, err := s.dispatch(ctx, msg)
	code := communication.CodeInternal
	if resp != nil {
		code = resp.Code
	}
	metrics.RecordRequest(msg.Type, string(code), time.Since(start))
	return resp, err
}

func (s *SimpleServer) dispatch(ctx context.Context, msg communication.Message) (*communication.Response, error) {
	switch msg.Type {
	case srv.MsgPing:
		return s.respond(srv.PingResponse{NodeID: s.nodeID}, nil)

	case srv.MsgFsInfo:
		return s.respond(s.fs.GetFsInfo(ctx))

	case srv.MsgFsStat:
		return s.respond(s.fs.GetFsStat(ctx))

	case srv.MsgGetAttr:
		req, err := payload[srv.GetAttrRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(s.fs.GetAttr(ctx, req.InodeID))

	case srv.MsgLookupPath:
		req, err := payload[srv.LookupPathRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		id, err := s.fs.LookupPath(ctx, req.Path)
		return s.respond(srv.LookupPathResponse{InodeID: id}, err)

	case srv.MsgStatPath:
		req, err := payload[srv.StatPathRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(s.fs.StatPath(ctx, req.Path))

	case srv.MsgSetAttr:
		req, err := payload[srv.SetAttrRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(s.fs.SetAttr(ctx, req.Path, req.Mode, req.UID, req.GID, req.ATime, req.MTime))

	case srv.MsgCreate:
		req, err := payload[srv.CreateRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(s.fs.Create(ctx, req.Path, req.Mode, req.UID, req.GID, req.Exclusive))

	case srv.MsgOpen:
		req, err := payload[srv.OpenRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		flags := fsvc.OpenFlags{Create: req.Create, Exclusive: req.Exclusive, Truncate: req.Truncate}
		return s.respond(s.fs.Open(ctx, req.Path, flags, req.Mode, req.UID, req.GID))

	case srv.MsgRelease:
		req, err := payload[srv.ReleaseRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(nil, s.fs.Release(ctx, req.InodeID))

	case srv.MsgRead:
		req, err := payload[srv.ReadRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		data, err := s.fs.Read(ctx, req.InodeID, req.Offset, req.Length)
		if err != nil {
			return s.respond(nil, err)
		}
		return &communication.Response{Code: communication.CodeOK, Body: data}, nil

	case srv.MsgWrite:
		req, err := payload[srv.WriteRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		n, err := s.fs.Write(ctx, req.InodeID, req.Offset, req.Data)
		return s.respond(srv.WriteResponse{Written: n}, err)

	case srv.MsgTruncate:
		req, err := payload[srv.TruncateRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(nil, s.fs.Truncate(ctx, req.InodeID, req.Size))

	case srv.MsgFsync:
		req, err := payload[srv.FsyncRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(nil, s.fs.Fsync(ctx, req.InodeID))

	case srv.MsgRemove:
		req, err := payload[srv.RemoveRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(nil, s.fs.Remove(ctx, req.Path))

	case srv.MsgMkdir:
		req, err := payload[srv.MkdirRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(s.fs.Mkdir(ctx, req.Path, req.Mode, req.UID, req.GID))

	case srv.MsgRmdir:
		req, err := payload[srv.RmdirRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(nil, s.fs.Rmdir(ctx, req.Path))

	case srv.MsgRename:
		req, err := payload[srv.RenameRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(nil, s.fs.Rename(ctx, req.SrcPath, req.DstPath))

	case srv.MsgReadDirPlus:
		req, err := payload[srv.ReadDirPlusRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		entries, next, eof, err := s.fs.ReadDirPlus(ctx, req.Path, req.Cookie, req.MaxEntries)
		return s.respond(srv.ReadDirPlusResponse{Entries: entries, Cookie: next, EOF: eof}, err)

	default:
		return &communication.Response{
			Code: communication.CodeBadRequest,
			Body: []byte("unknown message type: " + msg.Type),
		}, nil
	}
}

func payload[T any](msg communication.Message) (T, error) {
	req, ok := msg.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", srv.ErrInvalidPayloadType, msg.Type)
	}
	return req, nil
}

// respond marshals data on success. Errors become a code plus the error
// text as body; they are never returned to the communicator.
func (s *SimpleServer) respond(data any, err error) (*communication.Response, error) {
	if err != nil {
		code := codeFor(err)
		if code == communication.CodeInternal {
			s.ls.Error(log_service.LogEvent{Message: "Request failed", Metadata: map[string]any{"error": err.Error()}})
		}
		return &communication.Response{Code: code, Body: []byte(err.Error())}, nil
	}

	if data == nil {
		return &communication.Response{Code: communication.CodeOK}, nil
	}

	bytes, err := json.Marshal(data)
	if err != nil {
		return &communication.Response{Code: communication.CodeInternal, Body: []byte(err.Error())}, nil
	}
	return &communication.Response{Code: communication.CodeOK, Body: bytes}, nil
}

func codeFor(err error) communication.SandCode {
	switch {
	case errors.Is(err, srv.ErrInvalidPayloadType):
		return communication.CodeBadRequest
	case errors.Is(err, pms.ErrNotFound):
		return communication.CodeNotFound
	case errors.Is(err, pms.ErrAlreadyExists):
		return communication.CodeAlreadyExists
	case errors.Is(err, pms.ErrNotDir):
		return communication.CodeNotDir
	case errors.Is(err, pms.ErrIsDir):
		return communication.CodeIsDir
	case errors.Is(err, pms.ErrNotEmpty):
		return communication.CodeNotEmpty
	case errors.Is(err, pms.ErrInvalid), errors.Is(err, pms.ErrNotPinned):
		return communication.CodeInvalid
	default:
		return communication.CodeInternal
	}
}

var _ srv.Server = (*SimpleServer)(nil)
