package grpccomm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"sync"

	"github.com/AnishMulay/chfs/internal/communication"
	"github.com/AnishMulay/chfs/internal/log_service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName       = "chfs.communication.MessageService"
	sendMessageMethod = "/" + serviceName + "/SendMessage"

	headerFrom = "x-chfs-from"
	headerType = "x-chfs-type"
	headerCode = "x-chfs-code"
)

type GRPCCommunicator struct {
	listenAddress string
	handler       communication.MessageHandler
	grpcServer    *grpc.Server
	listener      net.Listener
	ls            log_service.LogService
	payloads      *communication.PayloadRegistry

	dialOpts   []grpc.DialOption
	serverOpts []grpc.ServerOption

	clientLock sync.RWMutex
	clients    map[string]*grpc.ClientConn
	stopped    bool
	stopMutex  sync.RWMutex
}

type Option func(*GRPCCommunicator)

// WithDialOptions appends options used when dialing peers.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *GRPCCommunicator) { c.dialOpts = append(c.dialOpts, opts...) }
}

// WithServerOptions appends options for the embedded grpc.Server.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(c *GRPCCommunicator) { c.serverOpts = append(c.serverOpts, opts...) }
}

// WithListener serves on lis instead of listening on the configured address.
func WithListener(lis net.Listener) Option {
	return func(c *GRPCCommunicator) { c.listener = lis }
}

func NewGRPCCommunicator(addr string, ls log_service.LogService, opts ...Option) *GRPCCommunicator {
	c := &GRPCCommunicator{
		listenAddress: addr,
		ls:            ls,
		payloads:      communication.NewPayloadRegistry(),
		clients:       make(map[string]*grpc.ClientConn),
		dialOpts:      []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Address reports the bound address once started, the configured one before.
func (c *GRPCCommunicator) Address() string {
	if c.listener != nil {
		return c.listener.Addr().String()
	}
	return c.listenAddress
}

func (c *GRPCCommunicator) RegisterPayloadType(msgType string, payloadType reflect.Type) {
	c.payloads.Register(msgType, payloadType)
}

func (c *GRPCCommunicator) Start(handler communication.MessageHandler) error {
	c.ls.Info(log_service.LogEvent{
		Message:  "Starting GRPC communicator",
		Metadata: map[string]any{"address": c.listenAddress},
	})

	c.handler = handler
	c.grpcServer = grpc.NewServer(c.serverOpts...)
	c.grpcServer.RegisterService(&messageServiceDesc, &grpcServer{comm: c})

	if c.listener == nil {
		lis, err := net.Listen("tcp", c.listenAddress)
		if err != nil {
			c.ls.Error(log_service.LogEvent{
				Message:  "Failed to listen on address",
				Metadata: map[string]any{"address": c.listenAddress, "error": err.Error()},
			})
			return fmt.Errorf("%w: %v", communication.ErrListenFailed, err)
		}
		c.listener = lis
	}

	c.ls.Info(log_service.LogEvent{
		Message:  "GRPC communicator started successfully",
		Metadata: map[string]any{"address": c.Address()},
	})

	lis := c.listener
	go func() {
		if err := c.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			c.ls.Error(log_service.LogEvent{
				Message:  "GRPC server error",
				Metadata: map[string]any{"address": c.listenAddress, "error": err.Error()},
			})
		}
	}()
	return nil
}

// Stop shuts down the server side, if any, and closes every client
// connection. A stopped communicator can still Send; connections are
// re-established lazily.
func (c *GRPCCommunicator) Stop() error {
	c.stopMutex.Lock()
	defer c.stopMutex.Unlock()

	if c.grpcServer != nil && !c.stopped {
		c.ls.Info(log_service.LogEvent{
			Message:  "Stopping GRPC communicator",
			Metadata: map[string]any{"address": c.Address()},
		})
		c.grpcServer.GracefulStop()
		c.stopped = true
	}

	c.clientLock.Lock()
	var firstErr error
	for addr, conn := range c.clients {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.clients, addr)
	}
	c.clientLock.Unlock()

	if firstErr != nil {
		return fmt.Errorf("%w: %v", communication.ErrServerStopFailed, firstErr)
	}
	return nil
}

func (c *GRPCCommunicator) conn(to string) (*grpc.ClientConn, error) {
	c.clientLock.RLock()
	conn, ok := c.clients[to]
	c.clientLock.RUnlock()
	if ok {
		return conn, nil
	}

	c.clientLock.Lock()
	defer c.clientLock.Unlock()
	if conn, ok := c.clients[to]; ok {
		return conn, nil
	}

	c.ls.Debug(log_service.LogEvent{
		Message:  "Creating new GRPC client",
		Metadata: map[string]any{"to": to},
	})
	conn, err := grpc.NewClient(to, c.dialOpts...)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to create GRPC client",
			Metadata: map[string]any{"to": to, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %v", communication.ErrClientCreateFailed, err)
	}
	c.clients[to] = conn
	return conn, nil
}

func (c *GRPCCommunicator) Send(ctx context.Context, to string, msg communication.Message) (*communication.Response, error) {
	c.ls.Debug(log_service.LogEvent{
		Message:  "Sending GRPC message",
		Metadata: map[string]any{"to": to, "type": msg.Type, "from": msg.From},
	})

	conn, err := c.conn(to)
	if err != nil {
		return nil, err
	}

	payloadBytes, err := communication.EncodePayload(msg.Payload)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to marshal payload",
			Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
		})
		return nil, err
	}

	ctx = metadata.AppendToOutgoingContext(ctx, headerFrom, msg.From, headerType, msg.Type)
	in := wrapperspb.Bytes(payloadBytes)
	out := new(wrapperspb.BytesValue)
	var header metadata.MD

	if err := conn.Invoke(ctx, sendMessageMethod, in, out, grpc.Header(&header)); err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to send GRPC message",
			Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
		})
		return nil, classifySendError(ctx, err)
	}

	resp := &communication.Response{
		Code:    communication.CodeOK,
		Body:    out.GetValue(),
		Headers: make(map[string]string),
	}
	for k, v := range header {
		if len(v) == 0 {
			continue
		}
		if k == headerCode {
			resp.Code = communication.SandCode(v[0])
			continue
		}
		resp.Headers[k] = v[0]
	}

	c.ls.Debug(log_service.LogEvent{
		Message:  "GRPC message sent successfully",
		Metadata: map[string]any{"to": to, "type": msg.Type, "responseCode": resp.Code},
	})
	return resp, nil
}

// classifySendError keeps deadline and reachability failures recognizable
// through errors.Is for callers above the transport.
func classifySendError(ctx context.Context, err error) error {
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", communication.ErrMessageSendFailed, context.DeadlineExceeded)
	case codes.Canceled:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", communication.ErrMessageSendFailed, ctxErr)
		}
		return fmt.Errorf("%w: %w", communication.ErrMessageSendFailed, context.Canceled)
	case codes.Unavailable:
		return fmt.Errorf("%w: %w: %v", communication.ErrMessageSendFailed, communication.ErrConnectionFailed, err)
	default:
		return fmt.Errorf("%w: %v", communication.ErrMessageSendFailed, err)
	}
}

type messageServer interface {
	SendMessage(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

type grpcServer struct {
	comm *GRPCCommunicator
}

func (s *grpcServer) SendMessage(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s.comm.handler == nil {
		return nil, status.Error(codes.FailedPrecondition, communication.ErrHandlerNotSet.Error())
	}

	md, _ := metadata.FromIncomingContext(ctx)
	msg := communication.Message{
		From: first(md.Get(headerFrom)),
		Type: first(md.Get(headerType)),
	}

	payload, err := s.comm.payloads.Decode(msg.Type, in.GetValue())
	if err != nil {
		return s.reply(ctx, &communication.Response{
			Code: communication.CodeBadRequest,
			Body: []byte(err.Error()),
		})
	}
	msg.Payload = payload

	resp, err := s.comm.handler(ctx, msg)
	if err != nil {
		s.comm.ls.Error(log_service.LogEvent{
			Message:  "Message handler failed",
			Metadata: map[string]any{"type": msg.Type, "error": err.Error()},
		})
		resp = &communication.Response{Code: communication.CodeInternal, Body: []byte(err.Error())}
	}
	if resp == nil {
		resp = &communication.Response{Code: communication.CodeInternal, Body: []byte("handler returned nil response")}
	}
	return s.reply(ctx, resp)
}

func (s *grpcServer) reply(ctx context.Context, resp *communication.Response) (*wrapperspb.BytesValue, error) {
	md := metadata.Pairs(headerCode, string(resp.Code))
	for k, v := range resp.Headers {
		md.Append(k, v)
	}
	if err := grpc.SetHeader(ctx, md); err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(resp.Body), nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func sendMessageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(messageServer).SendMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: sendMessageMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(messageServer).SendMessage(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// The service carries one unary method whose request and response are
// protobuf BytesValue wrappers around the JSON payload; routing data travels
// in metadata.
var messageServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*messageServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendMessage",
			Handler:    sendMessageHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "communication.proto",
}

var _ communication.Communicator = (*GRPCCommunicator)(nil)
