package chfslib

import (
	"context"
	"fmt"
	"net"
	"strings"

	clusteretcd "github.com/AnishMulay/chfs/internal/cluster_service/etcd"
	"github.com/AnishMulay/chfs/internal/communication"
	grpccomm "github.com/AnishMulay/chfs/internal/communication/grpc"
	httpcomm "github.com/AnishMulay/chfs/internal/communication/http"
	"github.com/AnishMulay/chfs/internal/config"
)

// Backend carries one request to a CHFS server and returns its reply.
// Non-OK codes are replies, not errors; errors mean the request never
// completed.
type Backend interface {
	Call(ctx context.Context, msgType string, payload any) (*communication.Response, error)
	Close() error
}

type remoteBackend struct {
	comm     communication.Communicator
	addr     string
	clientID string
}

// NewRemoteBackend sends every call through comm to addr.
func NewRemoteBackend(comm communication.Communicator, addr, clientID string) Backend {
	return &remoteBackend{comm: comm, addr: addr, clientID: clientID}
}

func (b *remoteBackend) Call(ctx context.Context, msgType string, payload any) (*communication.Response, error) {
	return b.comm.Send(ctx, b.addr, communication.Message{
		From:    b.clientID,
		Type:    msgType,
		Payload: payload,
	})
}

func (b *remoteBackend) Close() error {
	return b.comm.Stop()
}

const (
	schemeGRPC  = "grpc://"
	schemeHTTP  = "http://"
	schemeHTTPS = "https://"
	schemeEtcd  = "etcd://"
)

// dialBackend builds a backend for endpoint. Accepted forms are host:port
// and grpc://host:port (gRPC), http(s)://host:port (HTTP), and
// etcd://host:port[,host:port...] which picks a live node from the etcd
// registry and talks gRPC to it.
func dialBackend(ctx context.Context, endpoint string, o options) (Backend, error) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case endpoint == "":
		return nil, fmt.Errorf("empty endpoint")

	case strings.HasPrefix(endpoint, schemeHTTP), strings.HasPrefix(endpoint, schemeHTTPS):
		rest := endpoint[strings.Index(endpoint, "://")+3:]
		if err := checkHostPort(strings.TrimRight(rest, "/")); err != nil {
			return nil, err
		}
		return NewRemoteBackend(httpcomm.NewHTTPCommunicator("", o.ls), endpoint, o.clientID), nil

	case strings.HasPrefix(endpoint, schemeEtcd):
		endpoints := config.SplitList(strings.TrimPrefix(endpoint, schemeEtcd))
		if len(endpoints) == 0 {
			return nil, fmt.Errorf("etcd endpoint list is empty")
		}
		addr, err := clusteretcd.ResolveHealthyNode(ctx, endpoints, o.ls)
		if err != nil {
			return nil, err
		}
		return grpcBackend(addr, o)

	case strings.HasPrefix(endpoint, schemeGRPC):
		return grpcBackend(strings.TrimPrefix(endpoint, schemeGRPC), o)

	case strings.Contains(endpoint, "://"):
		return nil, fmt.Errorf("unsupported endpoint scheme in %q", endpoint)

	default:
		return grpcBackend(endpoint, o)
	}
}

func grpcBackend(addr string, o options) (Backend, error) {
	if err := checkHostPort(addr); err != nil {
		return nil, err
	}
	return NewRemoteBackend(grpccomm.NewGRPCCommunicator("", o.ls), addr, o.clientID), nil
}

func checkHostPort(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("malformed address %q: %w", addr, err)
	}
	if port == "" {
		return fmt.Errorf("malformed address %q: missing port", addr)
	}
	return nil
}
