package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eligibleRecorder struct {
	mu     sync.Mutex
	counts []int
}

func (r *eligibleRecorder) record(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = append(r.counts, n)
}

func (r *eligibleRecorder) last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.counts) == 0 {
		return -1
	}
	return r.counts[len(r.counts)-1]
}

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestPeerTableTouch(t *testing.T) {
	rec := &eligibleRecorder{}
	table := NewPeerTable(testLogger(), time.Minute, rec.record, nil)
	defer table.Stop()

	assert.True(t, table.Touch(udpAddr(5001), "alpha", true))
	assert.False(t, table.Touch(udpAddr(5001), "alpha", true))
	assert.Equal(t, 1, rec.last())

	assert.True(t, table.Touch(udpAddr(5002), "bravo", false))
	assert.Equal(t, 2, table.Count())
	assert.Equal(t, 1, table.EligibleCount())
	assert.Len(t, table.EligibleAddrs(), 1)
	assert.Len(t, table.Addrs(), 2)

	table.Touch(udpAddr(5001), "alpha", false)
	assert.Equal(t, 0, rec.last())

	peer, ok := table.Get(udpAddr(5002).String())
	require.True(t, ok)
	assert.Equal(t, "bravo", peer.Name)
}

func TestPeerTableRemove(t *testing.T) {
	rec := &eligibleRecorder{}
	table := NewPeerTable(testLogger(), time.Minute, rec.record, nil)
	defer table.Stop()

	table.Touch(udpAddr(5001), "alpha", true)

	assert.True(t, table.Remove(udpAddr(5001).String()))
	assert.False(t, table.Remove(udpAddr(5001).String()))
	assert.Equal(t, 0, table.Count())
	assert.Equal(t, 0, rec.last())
}

func TestPeerTableSnapshotSorted(t *testing.T) {
	table := NewPeerTable(testLogger(), time.Minute, nil, nil)
	defer table.Stop()

	table.Touch(udpAddr(5003), "charlie", true)
	table.Touch(udpAddr(5001), "alpha", true)
	table.Touch(udpAddr(5002), "bravo", false)

	snapshot := table.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "alpha", snapshot[0].Name)
	assert.Equal(t, "bravo", snapshot[1].Name)
	assert.Equal(t, "charlie", snapshot[2].Name)
	assert.False(t, snapshot[1].Eligible)
}

func TestPeerTableExpiresSilentPeers(t *testing.T) {
	rec := &eligibleRecorder{}
	removed := make(chan string, 1)
	table := NewPeerTable(testLogger(), 50*time.Millisecond, rec.record, func(addr string) { removed <- addr })
	defer table.Stop()

	table.Touch(udpAddr(5001), "alpha", true)
	require.Equal(t, 1, rec.last())

	require.Eventually(t, func() bool { return table.Count() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, rec.last())

	select {
	case addr := <-removed:
		assert.Equal(t, udpAddr(5001).String(), addr)
	case <-time.After(time.Second):
		t.Fatal("removal callback not called")
	}
}

func TestPeerTableGetReturnsCopy(t *testing.T) {
	table := NewPeerTable(testLogger(), time.Minute, nil, nil)
	defer table.Stop()

	table.Touch(udpAddr(5001), "alpha", true)
	peer, ok := table.Get(udpAddr(5001).String())
	require.True(t, ok)

	table.Touch(udpAddr(5001), "alpha-renamed", false)

	assert.Equal(t, "alpha", peer.Name)
	assert.True(t, peer.Eligible)
	assert.Equal(t, udpAddr(5001).String(), peer.Address)

	_, ok = table.Get(udpAddr(5999).String())
	assert.False(t, ok)
}
