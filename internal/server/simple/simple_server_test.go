package simple

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/AnishMulay/chfs/internal/chunk_service/localdisc"
	"github.com/AnishMulay/chfs/internal/communication"
	grpccomm "github.com/AnishMulay/chfs/internal/communication/grpc"
	fsimple "github.com/AnishMulay/chfs/internal/file_service/simple"
	"github.com/AnishMulay/chfs/internal/log_service"
	"github.com/AnishMulay/chfs/internal/metadata_replicator/journal"
	pms "github.com/AnishMulay/chfs/internal/metadata_service"
	"github.com/AnishMulay/chfs/internal/metadata_service/inmemory"
	srv "github.com/AnishMulay/chfs/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const target = "passthrough:///bufnet"

func startServer(t *testing.T) *grpccomm.GRPCCommunicator {
	t.Helper()
	ls := log_service.Nop()

	chunks, err := localdisc.NewLocalDiscChunkService(t.TempDir(), ls)
	require.NoError(t, err)
	ms := inmemory.NewInMemoryMetadataService(journal.NewJournalReplicator("", ls), ls, inmemory.WithChunkSize(8))
	fs := fsimple.NewSimpleFileService(ms, chunks, ls)

	lis := bufconn.Listen(1 << 20)
	server := NewSimpleServer("node-1", grpccomm.NewGRPCCommunicator("bufnet", ls, grpccomm.WithListener(lis)), fs, ls)
	require.NoError(t, server.Start())

	client := grpccomm.NewGRPCCommunicator("", ls, grpccomm.WithDialOptions(
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	))
	t.Cleanup(func() {
		_ = client.Stop()
		_ = server.Stop()
	})
	return client
}

func call(t *testing.T, c *grpccomm.GRPCCommunicator, msgType string, payload any) *communication.Response {
	t.Helper()
	resp, err := c.Send(context.Background(), target, communication.Message{From: "test", Type: msgType, Payload: payload})
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *communication.Response) T {
	t.Helper()
	require.Equal(t, communication.CodeOK, resp.Code, string(resp.Body))
	var out T
	require.NoError(t, json.Unmarshal(resp.Body, &out))
	return out
}

func TestPing(t *testing.T) {
	c := startServer(t)
	pong := decode[srv.PingResponse](t, call(t, c, srv.MsgPing, nil))
	assert.Equal(t, "node-1", pong.NodeID)

	info := decode[pms.FileSystemInfo](t, call(t, c, srv.MsgFsInfo, nil))
	assert.EqualValues(t, 8, info.ChunkSize)
}

func TestFileLifecycle(t *testing.T) {
	c := startServer(t)

	attrs := decode[pms.Attributes](t, call(t, c, srv.MsgCreate, srv.CreateRequest{Path: "/f", Mode: 0o644}))
	assert.Equal(t, pms.TypeFile, attrs.Type)

	w := decode[srv.WriteResponse](t, call(t, c, srv.MsgWrite, srv.WriteRequest{InodeID: attrs.InodeID, Data: []byte("hello world")}))
	assert.EqualValues(t, 11, w.Written)

	resp := call(t, c, srv.MsgRead, srv.ReadRequest{InodeID: attrs.InodeID, Offset: 6, Length: 100})
	require.Equal(t, communication.CodeOK, resp.Code)
	assert.Equal(t, "world", string(resp.Body))

	resp = call(t, c, srv.MsgTruncate, srv.TruncateRequest{InodeID: attrs.InodeID, Size: 5})
	assert.Equal(t, communication.CodeOK, resp.Code)

	st := decode[pms.Attributes](t, call(t, c, srv.MsgStatPath, srv.StatPathRequest{Path: "/f"}))
	assert.EqualValues(t, 5, st.Size)

	lk := decode[srv.LookupPathResponse](t, call(t, c, srv.MsgLookupPath, srv.LookupPathRequest{Path: "/f"}))
	assert.Equal(t, attrs.InodeID, lk.InodeID)

	assert.Equal(t, communication.CodeOK, call(t, c, srv.MsgFsync, srv.FsyncRequest{InodeID: attrs.InodeID}).Code)
	assert.Equal(t, communication.CodeOK, call(t, c, srv.MsgRelease, srv.ReleaseRequest{InodeID: attrs.InodeID}).Code)
	assert.Equal(t, communication.CodeInvalid, call(t, c, srv.MsgRelease, srv.ReleaseRequest{InodeID: attrs.InodeID}).Code)
}

func TestDirectoryOperations(t *testing.T) {
	c := startServer(t)

	decode[pms.Attributes](t, call(t, c, srv.MsgMkdir, srv.MkdirRequest{Path: "/d", Mode: 0o755}))
	for _, name := range []string{"/d/b", "/d/a", "/d/c"} {
		attrs := decode[pms.Attributes](t, call(t, c, srv.MsgOpen, srv.OpenRequest{Path: name, Create: true, Mode: 0o644}))
		call(t, c, srv.MsgRelease, srv.ReleaseRequest{InodeID: attrs.InodeID})
	}

	page := decode[srv.ReadDirPlusResponse](t, call(t, c, srv.MsgReadDirPlus, srv.ReadDirPlusRequest{Path: "/d", MaxEntries: 2}))
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "a", page.Entries[0].Name)
	assert.False(t, page.EOF)

	page = decode[srv.ReadDirPlusResponse](t, call(t, c, srv.MsgReadDirPlus, srv.ReadDirPlusRequest{Path: "/d", Cookie: page.Cookie, MaxEntries: 2}))
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "c", page.Entries[0].Name)
	assert.True(t, page.EOF)

	assert.Equal(t, communication.CodeNotEmpty, call(t, c, srv.MsgRmdir, srv.RmdirRequest{Path: "/d"}).Code)
	assert.Equal(t, communication.CodeIsDir, call(t, c, srv.MsgRemove, srv.RemoveRequest{Path: "/d"}).Code)
	assert.Equal(t, communication.CodeNotDir, call(t, c, srv.MsgRmdir, srv.RmdirRequest{Path: "/d/a"}).Code)
	assert.Equal(t, communication.CodeOK, call(t, c, srv.MsgRename, srv.RenameRequest{SrcPath: "/d/a", DstPath: "/a"}).Code)

	mode := uint32(0o600)
	st := decode[pms.Attributes](t, call(t, c, srv.MsgSetAttr, srv.SetAttrRequest{Path: "/a", Mode: &mode}))
	assert.Equal(t, uint32(0o600), st.Mode)
}

func TestErrorCodes(t *testing.T) {
	c := startServer(t)

	tests := []struct {
		name    string
		msgType string
		payload any
		want    communication.SandCode
	}{
		{"stat missing", srv.MsgStatPath, srv.StatPathRequest{Path: "/nope"}, communication.CodeNotFound},
		{"open missing", srv.MsgOpen, srv.OpenRequest{Path: "/nope"}, communication.CodeNotFound},
		{"mkdir root", srv.MsgMkdir, srv.MkdirRequest{Path: "/", Mode: 0o755}, communication.CodeAlreadyExists},
		{"readdir negative cookie", srv.MsgReadDirPlus, srv.ReadDirPlusRequest{Path: "/", Cookie: -1}, communication.CodeInvalid},
		{"missing payload", srv.MsgGetAttr, nil, communication.CodeBadRequest},
		{"unknown type", "chfs_bogus", nil, communication.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, c, tt.msgType, tt.payload)
			assert.Equal(t, tt.want, resp.Code, string(resp.Body))
		})
	}
}
