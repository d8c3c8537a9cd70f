package transport

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"
)

// Peer is a remote watch-party instance heard on the wire
type Peer struct {
	Name      string
	Addr      *net.UDPAddr
	Eligible  bool
	FirstSeen time.Time
	LastSeen  time.Time
}

// PeerInfo is a JSON-friendly peer snapshot
type PeerInfo struct {
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Eligible  bool      `json:"eligible"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

func (p *Peer) info(addr string) PeerInfo {
	return PeerInfo{
		Name:      p.Name,
		Address:   addr,
		Eligible:  p.Eligible,
		FirstSeen: p.FirstSeen,
		LastSeen:  p.LastSeen,
	}
}

// PeerTable tracks peers by address and expires the ones that go quiet.
// onChange is called with the number of live eligible peers after every
// change that could affect it. onRemove is called with the address of every
// peer that is removed or expires, before onChange.
type PeerTable struct {
	peers   map[string]*Peer
	mu      sync.RWMutex
	logger  *slog.Logger
	timeout time.Duration

	onChange func(eligible int)
	onRemove func(addr string)

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewPeerTable creates a table and starts its cleanup routine
func NewPeerTable(logger *slog.Logger, timeout time.Duration, onChange func(eligible int), onRemove func(addr string)) *PeerTable {
	ctx, cancel := context.WithCancel(context.Background())

	table := &PeerTable{
		peers:    make(map[string]*Peer),
		logger:   logger,
		timeout:  timeout,
		onChange: onChange,
		onRemove: onRemove,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go table.startCleanupRoutine()

	return table
}

// Touch records a hello from addr and reports whether the peer is new
func (t *PeerTable) Touch(addr *net.UDPAddr, name string, eligible bool) bool {
	key := addr.String()
	now := time.Now()

	t.mu.Lock()
	peer, exists := t.peers[key]
	changed := !exists
	if !exists {
		peer = &Peer{Addr: addr, FirstSeen: now}
		t.peers[key] = peer
	} else if peer.Eligible != eligible {
		changed = true
	}
	peer.Name = name
	peer.Eligible = eligible
	peer.LastSeen = now
	t.mu.Unlock()

	if !exists {
		t.logger.Info("Peer discovered",
			slog.String("peer", name),
			slog.String("address", key),
			slog.Bool("eligible", eligible),
		)
	}

	if changed {
		t.notify()
	}

	return !exists
}

// Get returns a copy of the peer at addr
func (t *PeerTable) Get(addr string) (PeerInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	peer, exists := t.peers[addr]
	if !exists {
		return PeerInfo{}, false
	}
	return peer.info(addr), true
}

// Remove forgets the peer at addr
func (t *PeerTable) Remove(addr string) bool {
	t.mu.Lock()
	peer, exists := t.peers[addr]
	delete(t.peers, addr)
	t.mu.Unlock()

	if !exists {
		return false
	}

	t.logger.Info("Peer removed",
		slog.String("peer", peer.Name),
		slog.String("address", addr),
		slog.Duration("known_for", time.Since(peer.FirstSeen)),
	)
	if t.onRemove != nil {
		t.onRemove(addr)
	}
	t.notify()

	return true
}

// Count returns the number of known peers
func (t *PeerTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// EligibleCount returns the number of known peers that accept sessions
func (t *PeerTable) EligibleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, peer := range t.peers {
		if peer.Eligible {
			count++
		}
	}
	return count
}

// EligibleAddrs returns the addresses of peers that accept sessions
func (t *PeerTable) EligibleAddrs() []*net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()

	addrs := make([]*net.UDPAddr, 0, len(t.peers))
	for _, peer := range t.peers {
		if peer.Eligible {
			addrs = append(addrs, peer.Addr)
		}
	}
	return addrs
}

// Addrs returns the addresses of every known peer
func (t *PeerTable) Addrs() []*net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()

	addrs := make([]*net.UDPAddr, 0, len(t.peers))
	for _, peer := range t.peers {
		addrs = append(addrs, peer.Addr)
	}
	return addrs
}

// Snapshot returns all peers sorted by address (for monitoring)
func (t *PeerTable) Snapshot() []PeerInfo {
	t.mu.RLock()
	infos := make([]PeerInfo, 0, len(t.peers))
	for key, peer := range t.peers {
		infos = append(infos, peer.info(key))
	}
	t.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Address < infos[j].Address })
	return infos
}

// Stop ends the cleanup routine
func (t *PeerTable) Stop() {
	t.cancel()
	<-t.cleanup
}

func (t *PeerTable) notify() {
	if t.onChange != nil {
		t.onChange(t.EligibleCount())
	}
}

// startCleanupRoutine runs in a separate goroutine to expire silent peers
func (t *PeerTable) startCleanupRoutine() {
	defer close(t.cleanup)

	interval := t.timeout / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.logger.Debug("Peer cleanup routine started",
		slog.Duration("timeout", t.timeout),
		slog.Duration("check_interval", interval),
	)

	for {
		select {
		case <-t.ctx.Done():
			t.logger.Debug("Peer cleanup routine stopping")
			return

		case <-ticker.C:
			t.expirePeers()
		}
	}
}

// expirePeers removes peers that have not been heard from within the timeout
func (t *PeerTable) expirePeers() {
	now := time.Now()
	expired := make([]string, 0)

	t.mu.RLock()
	for key, peer := range t.peers {
		if now.Sub(peer.LastSeen) > t.timeout {
			expired = append(expired, key)
		}
	}
	t.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	t.logger.Info("Expiring silent peers", slog.Int("expired_count", len(expired)))

	for _, key := range expired {
		t.Remove(key)
	}
}
