// Package chfstest runs CHFS client conformance scenarios and starts
// in-process servers for them.
package chfstest

import (
	"context"
	"net"
	"testing"

	chfslib "github.com/AnishMulay/chfs/clients/library"
	"github.com/AnishMulay/chfs/internal/chunk_service/localdisc"
	"github.com/AnishMulay/chfs/internal/communication"
	grpccomm "github.com/AnishMulay/chfs/internal/communication/grpc"
	httpcomm "github.com/AnishMulay/chfs/internal/communication/http"
	fileservice "github.com/AnishMulay/chfs/internal/file_service/simple"
	"github.com/AnishMulay/chfs/internal/log_service"
	"github.com/AnishMulay/chfs/internal/metadata_replicator/journal"
	metadataservice "github.com/AnishMulay/chfs/internal/metadata_service/inmemory"
	simpleserver "github.com/AnishMulay/chfs/internal/server/simple"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

// SmallChunkSize makes multi-chunk paths reachable with short payloads.
const SmallChunkSize = 16

// MaxFileSize bounds files on test servers so oversize requests are
// rejected without allocating their chunk lists.
const MaxFileSize = 1 << 20

func startServer(t testing.TB, comm communication.Communicator) *simpleserver.SimpleServer {
	t.Helper()
	ls := log_service.Nop()

	chunks, err := localdisc.NewLocalDiscChunkService(t.TempDir(), ls)
	require.NoError(t, err)
	ms := metadataservice.NewInMemoryMetadataService(
		journal.NewJournalReplicator("", ls), ls,
		metadataservice.WithChunkSize(SmallChunkSize),
		metadataservice.WithMaxFileSize(MaxFileSize),
	)
	server := simpleserver.NewSimpleServer("chfstest", comm, fileservice.NewSimpleFileService(ms, chunks, ls), ls)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

// NewBufconnBackend starts a gRPC server on an in-memory listener and
// returns a backend connected to it.
func NewBufconnBackend(t testing.TB) chfslib.Backend {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	startServer(t, grpccomm.NewGRPCCommunicator("bufnet", log_service.Nop(), grpccomm.WithListener(lis)))

	client := grpccomm.NewGRPCCommunicator("", log_service.Nop(), grpccomm.WithDialOptions(
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	))
	b := chfslib.NewRemoteBackend(client, "passthrough:///bufnet", "chfstest")
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// StartHTTPServer serves CHFS over HTTP on a loopback port and returns
// its http:// endpoint.
func StartHTTPServer(t testing.TB) string {
	t.Helper()
	server := startServer(t, httpcomm.NewHTTPCommunicator("127.0.0.1:0", log_service.Nop()))
	return "http://" + server.Address()
}

// StartGRPCServer serves CHFS over gRPC on a loopback port and returns
// its host:port endpoint.
func StartGRPCServer(t testing.TB) string {
	t.Helper()
	server := startServer(t, grpccomm.NewGRPCCommunicator("127.0.0.1:0", log_service.Nop()))
	return server.Address()
}

// NewSession returns a live session on a fresh in-process bufconn server.
func NewSession(t testing.TB, opts ...chfslib.Option) *chfslib.Session {
	t.Helper()
	opts = append(opts, chfslib.WithBackend(NewBufconnBackend(t)))
	s, err := chfslib.Dial(context.Background(), "bufnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Term(context.Background()) })
	return s
}
