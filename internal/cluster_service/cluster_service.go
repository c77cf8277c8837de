package cluster_service

import (
	"context"
	"errors"
	"time"
)

var ErrNoHealthyNodes = errors.New("no healthy nodes registered")

// NodeStatus represents the liveness state of a node.
type NodeStatus int

const (
	NodeStatusUnknown NodeStatus = iota
	NodeStatusAlive
	NodeStatusSuspect
	NodeStatusDown
)

func (s NodeStatus) String() string {
	switch s {
	case NodeStatusAlive:
		return "Alive"
	case NodeStatusSuspect:
		return "Suspect"
	case NodeStatusDown:
		return "Down"
	default:
		return "Unknown"
	}
}

// ClusterNode is the registered identity of a CHFS server.
type ClusterNode struct {
	ID       string            `json:"id"`
	Address  string            `json:"address"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NodeLiveness is the lease-bound runtime state of a node.
type NodeLiveness struct {
	NodeID        string     `json:"nodeId"`
	Status        NodeStatus `json:"status"`
	LeaseID       int64      `json:"leaseId"`
	LastRenewedAt time.Time  `json:"lastRenewedAt"`
}

type SafeNode struct {
	ID       string
	Address  string
	Status   NodeStatus
	Metadata map[string]string
}

type ClusterService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// RegisterNode publishes node and keeps its liveness lease alive
	// until Stop.
	RegisterNode(ctx context.Context, node ClusterNode) error

	// GetHealthyNodes returns the nodes that are currently Alive.
	GetHealthyNodes() ([]SafeNode, error)
	GetAllNodes() ([]SafeNode, error)

	Watch(callback func())
}
