package grpccomm

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/AnishMulay/chfs/internal/communication"
	"github.com/AnishMulay/chfs/internal/log_service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

type echoRequest struct {
	Text string `json:"text"`
}

func startBufconn(t *testing.T, handler communication.MessageHandler) *GRPCCommunicator {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})

	srv := NewGRPCCommunicator("bufnet", log_service.Nop(), WithListener(lis))
	srv.RegisterPayloadType("echo", reflect.TypeOf(echoRequest{}))
	srv.RegisterPayloadType("ping", nil)
	require.NoError(t, srv.Start(handler))

	client := NewGRPCCommunicator("", log_service.Nop(), WithDialOptions(dialer))
	t.Cleanup(func() {
		_ = client.Stop()
		_ = srv.Stop()
	})
	return client
}

func TestGRPCCommunicatorRoundTrip(t *testing.T) {
	client := startBufconn(t, func(ctx context.Context, msg communication.Message) (*communication.Response, error) {
		switch msg.Type {
		case "ping":
			assert.Nil(t, msg.Payload)
			return &communication.Response{Code: communication.CodeOK}, nil
		case "echo":
			req, ok := msg.Payload.(echoRequest)
			require.True(t, ok)
			return &communication.Response{
				Code:    communication.CodeOK,
				Body:    []byte(msg.From + ":" + req.Text),
				Headers: map[string]string{"x-extra": "1"},
			}, nil
		}
		return &communication.Response{Code: communication.CodeNotFound}, nil
	})

	ctx := context.Background()
	resp, err := client.Send(ctx, "passthrough:///bufnet", communication.Message{From: "tester", Type: "echo", Payload: echoRequest{Text: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, communication.CodeOK, resp.Code)
	assert.Equal(t, "tester:hi", string(resp.Body))
	assert.Equal(t, "1", resp.Headers["x-extra"])

	resp, err = client.Send(ctx, "passthrough:///bufnet", communication.Message{Type: "ping"})
	require.NoError(t, err)
	assert.Equal(t, communication.CodeOK, resp.Code)
}

func TestGRPCCommunicatorUnknownType(t *testing.T) {
	client := startBufconn(t, func(ctx context.Context, msg communication.Message) (*communication.Response, error) {
		return &communication.Response{Code: communication.CodeOK}, nil
	})

	resp, err := client.Send(context.Background(), "passthrough:///bufnet", communication.Message{Type: "bogus"})
	require.NoError(t, err)
	assert.Equal(t, communication.CodeBadRequest, resp.Code)
}

func TestGRPCCommunicatorHandlerErrorIsInternal(t *testing.T) {
	client := startBufconn(t, func(ctx context.Context, msg communication.Message) (*communication.Response, error) {
		return nil, errors.New("boom")
	})

	resp, err := client.Send(context.Background(), "passthrough:///bufnet", communication.Message{Type: "ping"})
	require.NoError(t, err)
	assert.Equal(t, communication.CodeInternal, resp.Code)
	assert.Equal(t, "boom", string(resp.Body))
}

func TestGRPCCommunicatorDeadline(t *testing.T) {
	client := startBufconn(t, func(ctx context.Context, msg communication.Message) (*communication.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Send(ctx, "passthrough:///bufnet", communication.Message{Type: "ping"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, communication.ErrMessageSendFailed)
}

func TestClassifySendErrorUnavailable(t *testing.T) {
	client := NewGRPCCommunicator("", log_service.Nop())
	defer client.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.Send(ctx, "127.0.0.1:1", communication.Message{Type: "ping"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, communication.ErrConnectionFailed) || errors.Is(err, context.DeadlineExceeded))
}
