package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/watchparty-service/internal/config"
	"github.com/skypro1111/watchparty-service/internal/groupsession"
	"github.com/skypro1111/watchparty-service/internal/metrics"
	"github.com/skypro1111/watchparty-service/internal/protocol"
)

var (
	// ErrNotStarted is returned when the transport is used before Start
	ErrNotStarted = errors.New("udp transport not started")
	// ErrStopped is returned when the transport is used after Stop
	ErrStopped = errors.New("udp transport stopped")
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("udp transport already started")
)

// UDPTransport exchanges session packets with peers over UDP. It implements
// groupsession.Provider and groupsession.Eligibility: the instance is
// eligible while at least one live peer accepts sessions.
type UDPTransport struct {
	conn    *net.UDPConn
	config  *config.TransportConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Packet processing, sharded by session so per-session order is kept
	packetChans []chan *incomingPacket

	peers       *PeerTable
	staticPeers []*net.UDPAddr
	eligible    *groupsession.Signal[bool]
	eligibleMu  sync.Mutex

	sessions   map[uuid.UUID]*PeerSession
	sessionsMu sync.RWMutex

	inbound   chan groupsession.Session
	closeMu   sync.RWMutex
	closed    bool
	stopOnce  sync.Once
	startOnce sync.Once

	// Counters for GetStatistics
	packetsReceived  uint64
	packetsProcessed uint64
	packetsSent      uint64
	packetsDropped   uint64
	parseErrors      uint64
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewUDPTransport creates a transport. Configured peers are resolved here so
// a typo fails fast.
func NewUDPTransport(cfg *config.TransportConfig, logger *slog.Logger, m *metrics.Metrics) (*UDPTransport, error) {
	staticPeers := make([]*net.UDPAddr, 0, len(cfg.Peers))
	for _, peer := range cfg.Peers {
		addr, err := net.ResolveUDPAddr("udp", peer)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve peer address %s: %w", peer, err)
		}
		staticPeers = append(staticPeers, addr)
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		config:      cfg,
		logger:      logger,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
		staticPeers: staticPeers,
		eligible:    groupsession.NewSignal(false),
		sessions:    make(map[uuid.UUID]*PeerSession),
		inbound:     make(chan groupsession.Session, cfg.SessionBuffer),
	}

	t.packetChans = make([]chan *incomingPacket, cfg.Workers)
	for i := range t.packetChans {
		t.packetChans[i] = make(chan *incomingPacket, cfg.QueueSize)
	}

	return t, nil
}

// Start begins listening for UDP packets and sending heartbeats
func (t *UDPTransport) Start() error {
	err := ErrAlreadyStarted
	t.startOnce.Do(func() { err = t.start() })
	return err
}

func (t *UDPTransport) start() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(t.config.BindAddress, strconv.Itoa(t.config.Port)))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	t.conn = conn

	if err := t.conn.SetReadBuffer(t.config.BufferSize); err != nil {
		t.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", t.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	t.peers = NewPeerTable(t.logger, t.config.GetPeerTimeout(), t.onPeersChanged, t.onPeerRemoved)

	t.logger.Info("UDP transport started",
		slog.String("address", t.conn.LocalAddr().String()),
		slog.String("peer_name", t.config.PeerName),
		slog.Int("static_peers", len(t.staticPeers)),
		slog.Int("workers", len(t.packetChans)),
	)

	for i, ch := range t.packetChans {
		t.wg.Add(1)
		go t.packetProcessor(i, ch)
	}

	t.wg.Add(2)
	go t.receiveLoop()
	go t.heartbeatLoop()

	return nil
}

// Stop says goodbye to the peers, closes the socket and ends the session
// stream. Safe to call more than once.
func (t *UDPTransport) Stop() error {
	t.stopOnce.Do(t.stop)
	return nil
}

func (t *UDPTransport) stop() {
	t.logger.Info("Stopping UDP transport...")

	if t.conn != nil {
		// Let peers drop our eligibility without waiting for the timeout.
		goodbye := protocol.MarshalHello(t.config.PeerName, false)
		for _, addr := range t.heartbeatTargets() {
			t.send(goodbye, addr)
		}
	}

	t.cancel()

	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			t.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// The receive loop is the only writer to the packet channels.
	t.wg.Wait()

	if t.peers != nil {
		t.peers.Stop()
	}
	t.setEligible(false, 0)

	t.closeMu.Lock()
	t.closed = true
	close(t.inbound)
	t.closeMu.Unlock()

	stats := t.GetStatistics()
	t.logger.Info("UDP transport stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("packets_sent", stats.PacketsSent),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)
}

// LocalAddr returns the bound address, or nil before Start
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// AddPeer adds a heartbeat target at runtime and greets it immediately
func (t *UDPTransport) AddPeer(address string) error {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return fmt.Errorf("failed to resolve peer address %s: %w", address, err)
	}

	t.mu.Lock()
	t.staticPeers = append(t.staticPeers, addr)
	t.mu.Unlock()

	if t.conn != nil {
		t.send(protocol.MarshalHello(t.config.PeerName, true), addr)
	}

	return nil
}

// Peers returns a snapshot of the known peers
func (t *UDPTransport) Peers() []PeerInfo {
	if t.peers == nil {
		return nil
	}
	return t.peers.Snapshot()
}

func (t *UDPTransport) Sessions() <-chan groupsession.Session {
	return t.inbound
}

func (t *UDPTransport) OnEligibilityChange(fn func(bool)) groupsession.Subscription {
	return t.eligible.Subscribe(fn)
}

// Eligible reports whether a live peer currently accepts sessions
func (t *UDPTransport) Eligible() bool {
	return t.eligible.Value()
}

func (t *UDPTransport) Prepare(ctx context.Context, activity groupsession.Activity) groupsession.PrepareResult {
	if ctx.Err() != nil {
		return groupsession.PrepareCancelled
	}
	if !t.Eligible() {
		return groupsession.PrepareActivationDisabled
	}
	return groupsession.PrepareActivationPreferred
}

// Activate announces activity to every eligible peer in a new session and
// delivers that session on Sessions. It returns false when no peer is
// available to share with.
func (t *UDPTransport) Activate(ctx context.Context, activity groupsession.Activity) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if t.conn == nil {
		return false, ErrNotStarted
	}

	targets := t.peers.EligibleAddrs()
	if len(targets) == 0 {
		t.logger.Warn("No eligible peers to share activity with",
			slog.String("activity_id", activity.ID.String()),
		)
		return false, nil
	}

	sessionID := uuid.New()
	packet, err := protocol.MarshalActivity(protocol.PacketTypeAnnounce, sessionID, payloadFromActivity(activity))
	if err != nil {
		return false, fmt.Errorf("failed to encode announce: %w", err)
	}

	sent := 0
	for _, addr := range targets {
		if t.send(packet, addr) {
			sent++
		}
	}
	if sent == 0 {
		return false, fmt.Errorf("failed to announce session %s to %d peers", sessionID, len(targets))
	}

	session := newPeerSession(t, sessionID, &activity, "")
	t.rememberSession(session)

	t.logger.Info("Session announced",
		slog.String("session_id", session.ID()),
		slog.String("media_id", activity.MediaID),
		slog.Int("peers", sent),
	)

	if err := t.deliver(ctx, session); err != nil {
		t.forgetSession(sessionID)
		return false, err
	}

	return true, nil
}

// deliver hands a session to the consumer of Sessions
func (t *UDPTransport) deliver(ctx context.Context, session groupsession.Session) error {
	t.closeMu.RLock()
	defer t.closeMu.RUnlock()

	if t.closed {
		return ErrStopped
	}

	select {
	case t.inbound <- session:
		return nil
	case <-t.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// offer hands an inbound session to the consumer without blocking a worker
func (t *UDPTransport) offer(session groupsession.Session) bool {
	t.closeMu.RLock()
	defer t.closeMu.RUnlock()

	if t.closed {
		return false
	}

	select {
	case t.inbound <- session:
		return true
	default:
		return false
	}
}

func (t *UDPTransport) onPeersChanged(eligiblePeers int) {
	t.metrics.SetLivePeers(t.peers.Count())
	t.setEligible(eligiblePeers > 0, eligiblePeers)
}

// onPeerRemoved ends the sessions announced by a peer that went away and
// drops it from every other session's participants
func (t *UDPTransport) onPeerRemoved(addr string) {
	t.sessionsMu.RLock()
	orphaned := make([]*PeerSession, 0)
	others := make([]*PeerSession, 0, len(t.sessions))
	for _, session := range t.sessions {
		if session.origin == addr {
			orphaned = append(orphaned, session)
		} else {
			others = append(others, session)
		}
	}
	t.sessionsMu.RUnlock()

	for _, session := range others {
		session.removeParticipant(addr)
	}

	for _, session := range orphaned {
		t.logger.Info("Ending session of lost peer",
			slog.String("session_id", session.ID()),
			slog.String("remote_addr", addr),
		)
		session.end()
	}
}

func (t *UDPTransport) setEligible(eligible bool, eligiblePeers int) {
	t.eligibleMu.Lock()
	defer t.eligibleMu.Unlock()

	if t.eligible.Value() == eligible {
		return
	}

	t.logger.Info("Eligibility changed",
		slog.Bool("eligible", eligible),
		slog.Int("eligible_peers", eligiblePeers),
	)
	t.eligible.Send(eligible)
}

// receiveLoop is the main packet receiving loop
func (t *UDPTransport) receiveLoop() {
	defer t.wg.Done()
	defer func() {
		for _, ch := range t.packetChans {
			close(ch)
		}
	}()

	buffer := make([]byte, t.config.BufferSize)

	for {
		select {
		case <-t.ctx.Done():
			t.logger.Debug("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := t.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
			}
			t.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := t.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-t.ctx.Done():
				return
			default:
				t.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		t.mu.Lock()
		t.packetsReceived++
		t.mu.Unlock()
		t.metrics.RecordPacketReceived()

		// Copy out of the reused buffer
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case t.packetChans[t.shard(packetData)] <- packet:
		default:
			t.mu.Lock()
			t.packetsDropped++
			t.mu.Unlock()
			t.metrics.RecordPacketDropped()

			t.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// shard picks a worker from the first session ID byte
func (t *UDPTransport) shard(data []byte) int {
	if len(data) < protocol.HeaderSize {
		return 0
	}
	return int(data[3]) % len(t.packetChans)
}

// heartbeatLoop greets every static and known peer on each interval
func (t *UDPTransport) heartbeatLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.GetHeartbeatInterval())
	defer ticker.Stop()

	t.sendHeartbeat()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.sendHeartbeat()
		}
	}
}

func (t *UDPTransport) sendHeartbeat() {
	hello := protocol.MarshalHello(t.config.PeerName, true)
	for _, addr := range t.heartbeatTargets() {
		t.send(hello, addr)
	}
}

// heartbeatTargets merges static peers with peers that greeted us
func (t *UDPTransport) heartbeatTargets() []*net.UDPAddr {
	t.mu.RLock()
	targets := make([]*net.UDPAddr, len(t.staticPeers))
	copy(targets, t.staticPeers)
	t.mu.RUnlock()

	if t.peers == nil {
		return targets
	}

	seen := make(map[string]bool, len(targets))
	for _, addr := range targets {
		seen[addr.String()] = true
	}
	for _, addr := range t.peers.Addrs() {
		if !seen[addr.String()] {
			targets = append(targets, addr)
		}
	}
	return targets
}

// packetProcessor processes packets from one shard
func (t *UDPTransport) packetProcessor(workerID int, packets <-chan *incomingPacket) {
	defer t.wg.Done()

	t.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	for packet := range packets {
		t.handlePacket(packet, workerID)
	}

	t.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket processes a single incoming packet
func (t *UDPTransport) handlePacket(packet *incomingPacket, workerID int) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		t.mu.Lock()
		t.parseErrors++
		t.mu.Unlock()
		t.metrics.RecordParseError()

		t.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	t.mu.Lock()
	t.packetsProcessed++
	t.mu.Unlock()
	t.metrics.RecordPacketProcessed()

	header := parsed.Header
	from := packet.remoteAddr.String()

	switch header.PacketType {
	case protocol.PacketTypeHello:
		t.peers.Touch(packet.remoteAddr, parsed.Hello.GetPeerName(), parsed.Hello.IsEligible())

	case protocol.PacketTypeAnnounce:
		t.processAnnounce(header, parsed.Activity, packet.remoteAddr, workerID)

	case protocol.PacketTypeActivity:
		if session, ok := t.lookupSession(header.SessionID); ok {
			session.SetActivity(activityFromPayload(parsed.Activity))
			t.logger.Debug("Activity updated by peer",
				slog.String("session_id", session.ID()),
				slog.String("media_id", parsed.Activity.GetMediaID()),
				slog.String("remote_addr", from),
			)
		}

	case protocol.PacketTypeJoin:
		if session, ok := t.lookupSession(header.SessionID); ok {
			session.addParticipant(from)
			t.logger.Debug("Peer joined session",
				slog.String("session_id", session.ID()),
				slog.String("remote_addr", from),
			)
		}

	case protocol.PacketTypeLeave:
		if session, ok := t.lookupSession(header.SessionID); ok {
			if session.removeParticipant(from) {
				t.logger.Debug("Peer left session",
					slog.String("session_id", session.ID()),
					slog.String("remote_addr", from),
				)
			}
			// A remote session ends when the peer that announced it leaves.
			if session.origin == from {
				session.end()
			}
		}

	case protocol.PacketTypeInvalidate:
		if session, ok := t.lookupSession(header.SessionID); ok {
			t.logger.Info("Session invalidated by peer",
				slog.String("session_id", session.ID()),
				slog.String("remote_addr", from),
			)
			session.end()
		}
	}
}

// processAnnounce creates an inbound session for a remote activation
func (t *UDPTransport) processAnnounce(header *protocol.Header, payload *protocol.ActivityPayload, from *net.UDPAddr, workerID int) {
	if _, exists := t.lookupSession(header.SessionID); exists {
		t.logger.Debug("Duplicate announce ignored", slog.String("session_id", header.SessionID.String()))
		return
	}

	session := newPeerSession(t, header.SessionID, activityFromPayload(payload), from.String())

	if !t.offer(session) {
		t.mu.Lock()
		t.packetsDropped++
		t.mu.Unlock()
		t.metrics.RecordPacketDropped()

		t.logger.Warn("Session queue full, dropping announced session",
			slog.String("session_id", session.ID()),
			slog.String("remote_addr", from.String()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	t.rememberSession(session)

	t.logger.Info("Session announced by peer",
		slog.String("session_id", session.ID()),
		slog.String("media_id", payload.GetMediaID()),
		slog.String("title", payload.GetTitle()),
		slog.String("remote_addr", from.String()),
		slog.Int("worker_id", workerID),
	)
}

func (t *UDPTransport) rememberSession(s *PeerSession) {
	t.sessionsMu.Lock()
	t.sessions[s.uuid] = s
	t.sessionsMu.Unlock()
}

func (t *UDPTransport) forgetSession(id uuid.UUID) {
	t.sessionsMu.Lock()
	delete(t.sessions, id)
	t.sessionsMu.Unlock()
}

func (t *UDPTransport) lookupSession(id uuid.UUID) (*PeerSession, bool) {
	t.sessionsMu.RLock()
	defer t.sessionsMu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

// SessionCount returns the number of sessions the transport tracks
func (t *UDPTransport) SessionCount() int {
	t.sessionsMu.RLock()
	defer t.sessionsMu.RUnlock()
	return len(t.sessions)
}

func (t *UDPTransport) sendControl(ptype uint8, sessionID uuid.UUID) {
	packet, err := protocol.MarshalControl(ptype, sessionID)
	if err != nil {
		t.logger.Error("Failed to encode control packet", slog.String("error", err.Error()))
		return
	}
	t.broadcast(packet)
}

func (t *UDPTransport) sendActivity(ptype uint8, sessionID uuid.UUID, a groupsession.Activity) {
	packet, err := protocol.MarshalActivity(ptype, sessionID, payloadFromActivity(a))
	if err != nil {
		t.logger.Error("Failed to encode activity packet", slog.String("error", err.Error()))
		return
	}
	t.broadcast(packet)
}

func (t *UDPTransport) broadcast(packet []byte) {
	if t.conn == nil || t.peers == nil {
		return
	}
	for _, addr := range t.peers.Addrs() {
		t.send(packet, addr)
	}
}

// send writes one packet and reports success
func (t *UDPTransport) send(packet []byte, addr *net.UDPAddr) bool {
	if _, err := t.conn.WriteToUDP(packet, addr); err != nil {
		t.logger.Warn("Failed to send packet",
			slog.String("remote_addr", addr.String()),
			slog.String("error", err.Error()),
		)
		return false
	}

	t.mu.Lock()
	t.packetsSent++
	t.mu.Unlock()
	t.metrics.RecordPacketSent()

	return true
}

// GetStatistics returns current transport statistics
func (t *UDPTransport) GetStatistics() TransportStatistics {
	t.mu.RLock()
	stats := TransportStatistics{
		PacketsReceived:  t.packetsReceived,
		PacketsProcessed: t.packetsProcessed,
		PacketsSent:      t.packetsSent,
		PacketsDropped:   t.packetsDropped,
		ParseErrors:      t.parseErrors,
	}
	t.mu.RUnlock()

	if t.peers != nil {
		stats.LivePeers = uint64(t.peers.Count())
	}
	stats.Sessions = uint64(t.SessionCount())
	for _, ch := range t.packetChans {
		stats.QueueSize += uint64(len(ch))
		stats.QueueCapacity += uint64(cap(ch))
	}

	return stats
}

// TransportStatistics represents transport performance metrics
type TransportStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsSent      uint64 `json:"packets_sent"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	ParseErrors      uint64 `json:"parse_errors"`
	LivePeers        uint64 `json:"live_peers"`
	Sessions         uint64 `json:"sessions"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}
