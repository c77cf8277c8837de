package etcd

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	cluster "github.com/AnishMulay/chfs/internal/cluster_service"
	"github.com/AnishMulay/chfs/internal/log_service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestApplyEventTracksLiveness(t *testing.T) {
	s := NewEtcdClusterService(nil, log_service.Nop())

	s.applyEvent(PrefixConfig+"n1", mustJSON(t, cluster.ClusterNode{ID: "n1", Address: "10.0.0.1:8080"}), false)
	s.applyEvent(PrefixConfig+"n2", mustJSON(t, cluster.ClusterNode{ID: "n2", Address: "10.0.0.2:8080"}), false)
	s.applyEvent(PrefixLease+"n1", mustJSON(t, cluster.NodeLiveness{NodeID: "n1", Status: cluster.NodeStatusAlive}), false)

	healthy, err := s.GetHealthyNodes()
	require.NoError(t, err)
	require.Len(t, healthy, 1)
	assert.Equal(t, "10.0.0.1:8080", healthy[0].Address)

	all, err := s.GetAllNodes()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, cluster.NodeStatusDown, all[1].Status)

	s.applyEvent(PrefixLease+"n1", nil, true)
	healthy, err = s.GetHealthyNodes()
	require.NoError(t, err)
	assert.Empty(t, healthy)

	s.applyEvent(PrefixConfig+"n2", nil, true)
	all, err = s.GetAllNodes()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestWatchCallbacksFire(t *testing.T) {
	s := NewEtcdClusterService(nil, log_service.Nop())
	var calls atomic.Int32
	s.Watch(func() { calls.Add(1) })

	s.applyEvent(PrefixConfig+"n1", mustJSON(t, cluster.ClusterNode{ID: "n1"}), false)
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestPickNode(t *testing.T) {
	_, err := PickNode(nil)
	assert.ErrorIs(t, err, cluster.ErrNoHealthyNodes)

	nodes := []cluster.SafeNode{{ID: "a", Address: "a:1"}, {ID: "b", Address: "b:1"}}
	for i := 0; i < 10; i++ {
		n, err := PickNode(nodes)
		require.NoError(t, err)
		assert.Contains(t, []string{"a:1", "b:1"}, n.Address)
	}
}

func TestStopWithoutStart(t *testing.T) {
	s := NewEtcdClusterService(nil, log_service.Nop())
	assert.NoError(t, s.Stop(t.Context()))
	assert.NoError(t, s.Stop(t.Context()))
}
