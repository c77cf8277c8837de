package node

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/AnishMulay/chfs/internal/communication"
	httpcomm "github.com/AnishMulay/chfs/internal/communication/http"
	"github.com/AnishMulay/chfs/internal/config"
	"github.com/AnishMulay/chfs/internal/log_service"
	srv "github.com/AnishMulay/chfs/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	cfg.Transport = "http"
	cfg.DataDir = t.TempDir()
	cfg.Log.Backend = "localdisc"
	return cfg
}

func TestNodeServesHTTPAndMetrics(t *testing.T) {
	ctx := context.Background()
	n, err := Build(ctx, testConfig(t))
	require.NoError(t, err)
	require.NoError(t, n.Start(ctx))
	t.Cleanup(func() { _ = n.Stop(context.Background()) })

	client := httpcomm.NewHTTPCommunicator("", log_service.Nop())
	t.Cleanup(func() { _ = client.Stop() })

	resp, err := client.Send(ctx, n.Address(), communication.Message{Type: srv.MsgPing})
	require.NoError(t, err)
	assert.Equal(t, communication.CodeOK, resp.Code)
	assert.Contains(t, string(resp.Body), "chfs-1")

	mresp, err := http.Get("http://" + n.Address() + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	body, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "chfs_requests_total")
}

func TestNodeJournalSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	n, err := Build(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start(ctx))

	client := httpcomm.NewHTTPCommunicator("", log_service.Nop())
	t.Cleanup(func() { _ = client.Stop() })
	resp, err := client.Send(ctx, n.Address(), communication.Message{Type: srv.MsgMkdir, Payload: srv.MkdirRequest{Path: "/kept", Mode: 0o755}})
	require.NoError(t, err)
	require.Equal(t, communication.CodeOK, resp.Code)
	require.NoError(t, n.Stop(ctx))

	n2, err := Build(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, n2.Start(ctx))
	t.Cleanup(func() { _ = n2.Stop(context.Background()) })

	resp, err = client.Send(ctx, n2.Address(), communication.Message{Type: srv.MsgStatPath, Payload: srv.StatPathRequest{Path: "/kept"}})
	require.NoError(t, err)
	assert.Equal(t, communication.CodeOK, resp.Code)
}

func TestBuildRejectsBadS3(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "s3"
	cfg.Storage.S3.Bucket = ""
	_, err := Build(context.Background(), cfg)
	assert.Error(t, err)
}
