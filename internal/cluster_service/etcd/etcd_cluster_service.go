package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	cluster "github.com/AnishMulay/chfs/internal/cluster_service"
	"github.com/AnishMulay/chfs/internal/log_service"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/exp/rand"
)

const (
	EtcdDialTimeout = 5 * time.Second
	LeaseTTL        = 5 // seconds
	PrefixRoot      = "/chfs/"
	PrefixConfig    = "/chfs/nodes/"
	PrefixLease     = "/chfs/leases/"
)

type EtcdClusterService struct {
	mu        sync.RWMutex
	client    *clientv3.Client
	endpoints []string
	ls        log_service.LogService

	selfNode cluster.ClusterNode
	leaseID  clientv3.LeaseID

	configCache   map[string]cluster.ClusterNode
	livenessCache map[string]cluster.NodeLiveness

	watchCallbacks []func()

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewEtcdClusterService(endpoints []string, ls log_service.LogService) *EtcdClusterService {
	return &EtcdClusterService{
		endpoints:     endpoints,
		ls:            ls,
		configCache:   make(map[string]cluster.ClusterNode),
		livenessCache: make(map[string]cluster.NodeLiveness),
		stopCh:        make(chan struct{}),
	}
}

func (s *EtcdClusterService) Start(ctx context.Context) error {
	s.ls.Info(log_service.LogEvent{Message: "Starting EtcdClusterService", Metadata: map[string]any{"endpoints": s.endpoints}})

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   s.endpoints,
		DialTimeout: EtcdDialTimeout,
		Context:     ctx,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to etcd: %w", err)
	}
	s.client = cli

	if err := s.syncState(ctx); err != nil {
		_ = cli.Close()
		return err
	}

	s.wg.Add(1)
	go s.watchLoop()

	return nil
}

func (s *EtcdClusterService) Stop(ctx context.Context) error {
	s.ls.Info(log_service.LogEvent{Message: "Stopping EtcdClusterService"})
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.client == nil {
		return nil
	}

	if s.leaseID != 0 {
		if _, err := s.client.Revoke(ctx, s.leaseID); err != nil {
			s.ls.Warn(log_service.LogEvent{Message: "Failed to revoke lease during shutdown", Metadata: map[string]any{"error": err.Error()}})
		}
	}

	err := s.client.Close()
	s.wg.Wait()
	return err
}

// RegisterNode writes the node's address under PrefixConfig and a leased
// liveness record under PrefixLease. The lease expires LeaseTTL seconds
// after the node stops heartbeating.
func (s *EtcdClusterService) RegisterNode(ctx context.Context, node cluster.ClusterNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selfNode = node

	cfg, err := json.Marshal(node)
	if err != nil {
		return err
	}
	if _, err := s.client.Put(ctx, PrefixConfig+node.ID, string(cfg)); err != nil {
		return fmt.Errorf("failed to put node config: %w", err)
	}
	s.configCache[node.ID] = node

	resp, err := s.client.Grant(ctx, LeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	s.leaseID = resp.ID

	liveness := cluster.NodeLiveness{
		NodeID:        node.ID,
		Status:        cluster.NodeStatusAlive,
		LeaseID:       int64(s.leaseID),
		LastRenewedAt: time.Now(),
	}
	val, _ := json.Marshal(liveness)

	if _, err := s.client.Put(ctx, PrefixLease+node.ID, string(val), clientv3.WithLease(s.leaseID)); err != nil {
		return fmt.Errorf("failed to put liveness key: %w", err)
	}
	s.livenessCache[node.ID] = liveness

	s.ls.Info(log_service.LogEvent{
		Message:  "Node registered in cluster",
		Metadata: map[string]any{"id": node.ID, "address": node.Address, "leaseID": s.leaseID},
	})

	s.wg.Add(1)
	go s.heartbeatLoop()

	return nil
}

func (s *EtcdClusterService) heartbeatLoop() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.client.KeepAlive(ctx, s.leaseID)
	if err != nil {
		s.ls.Error(log_service.LogEvent{Message: "Failed to start keepalive channel", Metadata: map[string]any{"error": err.Error()}})
		return
	}

	for {
		select {
		case <-s.stopCh:
			return
		case _, ok := <-ch:
			if !ok {
				s.ls.Error(log_service.LogEvent{Message: "Etcd keepalive channel closed unexpectedly"})
				return
			}
		}
	}
}

func (s *EtcdClusterService) syncState(ctx context.Context) error {
	respCfg, err := s.client.Get(ctx, PrefixConfig, clientv3.WithPrefix())
	if err != nil {
		return err
	}
	respLease, err := s.client.Get(ctx, PrefixLease, clientv3.WithPrefix())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kv := range respCfg.Kvs {
		s.applyLocked(string(kv.Key), kv.Value, false)
	}
	for _, kv := range respLease.Kvs {
		s.applyLocked(string(kv.Key), kv.Value, false)
	}
	return nil
}

func (s *EtcdClusterService) watchLoop() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchCh := s.client.Watch(ctx, PrefixRoot, clientv3.WithPrefix())

	for {
		select {
		case <-s.stopCh:
			return
		case resp, ok := <-watchCh:
			if !ok {
				return
			}
			for _, ev := range resp.Events {
				s.applyEvent(string(ev.Kv.Key), ev.Kv.Value, ev.Type == clientv3.EventTypeDelete)
			}
		}
	}
}

func (s *EtcdClusterService) applyEvent(key string, value []byte, deleted bool) {
	s.mu.Lock()
	s.applyLocked(key, value, deleted)
	s.mu.Unlock()

	s.notifyWatchers()
}

func (s *EtcdClusterService) applyLocked(key string, value []byte, deleted bool) {
	switch {
	case strings.HasPrefix(key, PrefixConfig) && len(key) > len(PrefixConfig):
		id := key[len(PrefixConfig):]
		if deleted {
			delete(s.configCache, id)
			return
		}
		var n cluster.ClusterNode
		if err := json.Unmarshal(value, &n); err == nil {
			s.configCache[n.ID] = n
		}

	case strings.HasPrefix(key, PrefixLease) && len(key) > len(PrefixLease):
		id := key[len(PrefixLease):]
		if deleted {
			if entry, ok := s.livenessCache[id]; ok {
				entry.Status = cluster.NodeStatusDown
				s.livenessCache[id] = entry
			}
			return
		}
		var l cluster.NodeLiveness
		if err := json.Unmarshal(value, &l); err == nil {
			s.livenessCache[l.NodeID] = l
		}
	}
}

func (s *EtcdClusterService) notifyWatchers() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cb := range s.watchCallbacks {
		go cb()
	}
}

func (s *EtcdClusterService) Watch(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchCallbacks = append(s.watchCallbacks, callback)
}

func (s *EtcdClusterService) GetHealthyNodes() ([]cluster.SafeNode, error) {
	all, err := s.GetAllNodes()
	if err != nil {
		return nil, err
	}
	nodes := all[:0]
	for _, n := range all {
		if n.Status == cluster.NodeStatusAlive {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

func (s *EtcdClusterService) GetAllNodes() ([]cluster.SafeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]cluster.SafeNode, 0, len(s.configCache))
	for id, cfg := range s.configCache {
		status := cluster.NodeStatusDown
		if l, ok := s.livenessCache[id]; ok {
			status = l.Status
		}
		nodes = append(nodes, cluster.SafeNode{
			ID:       cfg.ID,
			Address:  cfg.Address,
			Status:   status,
			Metadata: cfg.Metadata,
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// PickNode returns a random node from nodes.
func PickNode(nodes []cluster.SafeNode) (cluster.SafeNode, error) {
	if len(nodes) == 0 {
		return cluster.SafeNode{}, cluster.ErrNoHealthyNodes
	}
	return nodes[rand.Intn(len(nodes))], nil
}

// ResolveHealthyNode connects to etcd, picks one live CHFS server and
// returns its address.
func ResolveHealthyNode(ctx context.Context, endpoints []string, ls log_service.LogService) (string, error) {
	svc := NewEtcdClusterService(endpoints, ls)
	if err := svc.Start(ctx); err != nil {
		return "", err
	}
	defer func() { _ = svc.Stop(context.Background()) }()

	nodes, err := svc.GetHealthyNodes()
	if err != nil {
		return "", err
	}
	node, err := PickNode(nodes)
	if err != nil {
		return "", err
	}
	ls.Debug(log_service.LogEvent{Message: "Resolved CHFS node from etcd", Metadata: map[string]any{"id": node.ID, "address": node.Address}})
	return node.Address, nil
}

var _ cluster.ClusterService = (*EtcdClusterService)(nil)
