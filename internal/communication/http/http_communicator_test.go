package httpcomm

import (
	"context"
	"net/http"
	"reflect"
	"testing"

	"github.com/AnishMulay/chfs/internal/communication"
	"github.com/AnishMulay/chfs/internal/log_service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoRequest struct {
	Text string `json:"text"`
}

func TestHTTPCommunicatorRoundTrip(t *testing.T) {
	srv := NewHTTPCommunicator("127.0.0.1:0", log_service.Nop(),
		WithRoute("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))
	srv.RegisterPayloadType("echo", reflect.TypeOf(echoRequest{}))
	require.NoError(t, srv.Start(func(ctx context.Context, msg communication.Message) (*communication.Response, error) {
		req := msg.Payload.(echoRequest)
		if req.Text == "missing" {
			return &communication.Response{Code: communication.CodeNotDir}, nil
		}
		return &communication.Response{Code: communication.CodeOK, Body: []byte(msg.From + ":" + req.Text)}, nil
	}))
	defer srv.Stop()

	client := NewHTTPCommunicator("", log_service.Nop())
	defer client.Stop()

	addr := "http://" + srv.Address()
	resp, err := client.Send(context.Background(), addr, communication.Message{From: "c", Type: "echo", Payload: echoRequest{Text: "x"}})
	require.NoError(t, err)
	assert.Equal(t, communication.CodeOK, resp.Code)
	assert.Equal(t, "c:x", string(resp.Body))

	resp, err = client.Send(context.Background(), srv.Address(), communication.Message{Type: "echo", Payload: echoRequest{Text: "missing"}})
	require.NoError(t, err)
	assert.Equal(t, communication.CodeNotDir, resp.Code)

	resp, err = client.Send(context.Background(), addr, communication.Message{Type: "nope"})
	require.NoError(t, err)
	assert.Equal(t, communication.CodeBadRequest, resp.Code)

	hresp, err := http.Get(addr + "/healthz")
	require.NoError(t, err)
	hresp.Body.Close()
	assert.Equal(t, http.StatusNoContent, hresp.StatusCode)
}

func TestHTTPCommunicatorConnectionRefused(t *testing.T) {
	client := NewHTTPCommunicator("", log_service.Nop())
	_, err := client.Send(context.Background(), "127.0.0.1:1", communication.Message{Type: "echo"})
	require.Error(t, err)
	assert.ErrorIs(t, err, communication.ErrConnectionFailed)
}
