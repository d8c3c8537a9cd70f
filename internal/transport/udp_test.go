package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/watchparty-service/internal/config"
	"github.com/skypro1111/watchparty-service/internal/groupsession"
	"github.com/skypro1111/watchparty-service/internal/metrics"
	"github.com/skypro1111/watchparty-service/internal/protocol"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTransportConfig(name string) *config.TransportConfig {
	return &config.TransportConfig{
		Mode:              config.TransportUDP,
		PeerName:          name,
		BindAddress:       "127.0.0.1",
		Port:              0,
		BufferSize:        65536,
		Workers:           2,
		QueueSize:         64,
		HeartbeatInterval: 0.02,
		PeerTimeout:       0.5,
		SessionBuffer:     4,
	}
}

func startTransport(t *testing.T, name string, m *metrics.Metrics) *UDPTransport {
	t.Helper()

	tr, err := NewUDPTransport(testTransportConfig(name), testLogger(), m)
	require.NoError(t, err)
	require.NoError(t, tr.Start())
	t.Cleanup(func() { _ = tr.Stop() })

	return tr
}

// pair starts two transports that know each other and waits until both are eligible
func pair(t *testing.T) (*UDPTransport, *UDPTransport) {
	t.Helper()

	a := startTransport(t, "alpha", nil)
	b := startTransport(t, "bravo", nil)

	require.NoError(t, a.AddPeer(b.LocalAddr().String()))
	require.NoError(t, b.AddPeer(a.LocalAddr().String()))

	require.Eventually(t, func() bool { return a.Eligible() && b.Eligible() }, waitFor, tick)

	return a, b
}

func receiveSession(t *testing.T, tr *UDPTransport) groupsession.Session {
	t.Helper()

	select {
	case s, ok := <-tr.Sessions():
		require.True(t, ok, "session stream closed")
		return s
	case <-time.After(waitFor):
		t.Fatal("no session delivered")
		return nil
	}
}

func TestNewUDPTransportRejectsBadPeer(t *testing.T) {
	cfg := testTransportConfig("alpha")
	cfg.Peers = []string{"not an address"}

	_, err := NewUDPTransport(cfg, testLogger(), nil)
	assert.Error(t, err)
}

func TestStartTwice(t *testing.T) {
	tr := startTransport(t, "alpha", nil)
	assert.ErrorIs(t, tr.Start(), ErrAlreadyStarted)
}

func TestPeersBecomeEligible(t *testing.T) {
	a, b := pair(t)

	peers := a.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "bravo", peers[0].Name)
	assert.Equal(t, b.LocalAddr().String(), peers[0].Address)
	assert.True(t, peers[0].Eligible)
}

func TestEligibilitySubscription(t *testing.T) {
	a := startTransport(t, "alpha", nil)
	b := startTransport(t, "bravo", nil)

	changes := make(chan bool, 8)
	sub := a.OnEligibilityChange(func(eligible bool) { changes <- eligible })
	defer sub.Cancel()

	require.False(t, <-changes, "subscription replays current value")

	require.NoError(t, b.AddPeer(a.LocalAddr().String()))

	select {
	case eligible := <-changes:
		assert.True(t, eligible)
	case <-time.After(waitFor):
		t.Fatal("eligibility never changed")
	}
}

func TestStoppedPeerDropsEligibility(t *testing.T) {
	a, b := pair(t)

	require.NoError(t, b.Stop())

	require.Eventually(t, func() bool { return !a.Eligible() }, waitFor, tick)
}

func TestPrepare(t *testing.T) {
	a := startTransport(t, "alpha", nil)
	activity := groupsession.NewActivity(groupsession.Media{ID: "m1"})

	assert.Equal(t, groupsession.PrepareActivationDisabled, a.Prepare(context.Background(), activity))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, groupsession.PrepareCancelled, a.Prepare(ctx, activity))
}

func TestActivateWithoutPeers(t *testing.T) {
	a := startTransport(t, "alpha", nil)

	ok, err := a.Activate(context.Background(), groupsession.NewActivity(groupsession.Media{ID: "m1"}))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestActivateBeforeStart(t *testing.T) {
	tr, err := NewUDPTransport(testTransportConfig("alpha"), testLogger(), nil)
	require.NoError(t, err)
	defer tr.Stop()

	ok, err := tr.Activate(context.Background(), groupsession.NewActivity(groupsession.Media{ID: "m1"}))
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.False(t, ok)
}

func TestActivateSharesSessionWithPeer(t *testing.T) {
	a, b := pair(t)

	media := groupsession.Media{ID: "wwdc2023-10149", Title: "Discover Observation in SwiftUI", URL: "https://example.com/10149"}
	activity := groupsession.NewActivity(media)

	ok, err := a.Activate(context.Background(), activity)
	require.NoError(t, err)
	require.True(t, ok)

	local := receiveSession(t, a)
	remote := receiveSession(t, b)

	assert.Equal(t, local.ID(), remote.ID())
	require.NotNil(t, remote.Activity())
	assert.Equal(t, activity.ID, remote.Activity().ID)
	assert.Equal(t, media.ID, remote.Activity().MediaID)
	assert.Equal(t, media.Title, remote.Activity().Title)
	assert.Equal(t, media.URL, remote.Activity().URL)

	assert.True(t, local.(*PeerSession).Local())
	assert.False(t, remote.(*PeerSession).Local())

	remote.Join()
	assert.Equal(t, groupsession.StateJoined, remote.State())
	require.Eventually(t, func() bool { return local.(*PeerSession).Participants() == 1 }, waitFor, tick)
}

func TestActivityUpdatePropagates(t *testing.T) {
	a, b := pair(t)

	ok, err := a.Activate(context.Background(), groupsession.NewActivity(groupsession.Media{ID: "first"}))
	require.NoError(t, err)
	require.True(t, ok)

	local := receiveSession(t, a).(*PeerSession)
	remote := receiveSession(t, b)

	next := groupsession.NewActivity(groupsession.Media{ID: "second", Title: "Next up"})
	local.UpdateActivity(next)

	require.Eventually(t, func() bool {
		a := remote.Activity()
		return a != nil && a.ID == next.ID && a.MediaID == "second"
	}, waitFor, tick)
}

func TestOriginLeaveInvalidatesRemoteSession(t *testing.T) {
	a, b := pair(t)

	ok, err := a.Activate(context.Background(), groupsession.NewActivity(groupsession.Media{ID: "m1"}))
	require.NoError(t, err)
	require.True(t, ok)

	local := receiveSession(t, a)
	remote := receiveSession(t, b)

	local.Join()
	remote.Join()
	local.Leave()

	assert.Equal(t, groupsession.StateInvalidated, local.State())
	require.Eventually(t, func() bool {
		return remote.State() == groupsession.StateInvalidated
	}, waitFor, tick)
	require.Eventually(t, func() bool { return b.SessionCount() == 0 }, waitFor, tick)
	assert.Equal(t, 0, a.SessionCount())
}

func TestSilentOriginPeerEndsItsSessions(t *testing.T) {
	b := startTransport(t, "bravo", nil)

	// A peer that announces a session and then goes quiet without leaving.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.WriteToUDP(protocol.MarshalHello("alpha", true), b.LocalAddr())
	require.NoError(t, err)
	require.Eventually(t, b.Eligible, waitFor, tick)

	sessionID := uuid.New()
	activity := groupsession.NewActivity(groupsession.Media{ID: "m1", Title: "Keynote"})
	announce, err := protocol.MarshalActivity(protocol.PacketTypeAnnounce, sessionID, payloadFromActivity(activity))
	require.NoError(t, err)
	_, err = conn.WriteToUDP(announce, b.LocalAddr())
	require.NoError(t, err)

	remote := receiveSession(t, b)
	assert.Equal(t, sessionID.String(), remote.ID())
	remote.Join()

	require.Eventually(t, func() bool {
		return remote.State() == groupsession.StateInvalidated
	}, waitFor, tick)
	assert.Equal(t, 0, b.SessionCount())
	assert.Empty(t, b.Peers())
	assert.False(t, b.Eligible())
}

func TestInvalidatePacketEndsSession(t *testing.T) {
	a, b := pair(t)

	ok, err := a.Activate(context.Background(), groupsession.NewActivity(groupsession.Media{ID: "m1"}))
	require.NoError(t, err)
	require.True(t, ok)

	local := receiveSession(t, a).(*PeerSession)
	remote := receiveSession(t, b)

	a.sendControl(protocol.PacketTypeInvalidate, local.uuid)

	require.Eventually(t, func() bool {
		return remote.State() == groupsession.StateInvalidated
	}, waitFor, tick)
}

func TestParseErrorsAreCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	tr := startTransport(t, "alpha", m)

	conn, err := net.DialUDP("udp", nil, tr.LocalAddr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0xFF, 0x00, 0x01})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tr.GetStatistics().ParseErrors == 1 }, waitFor, tick)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrors))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.PacketsReceived), 1.0)
}

func TestStopClosesSessionStream(t *testing.T) {
	tr, err := NewUDPTransport(testTransportConfig("alpha"), testLogger(), nil)
	require.NoError(t, err)
	require.NoError(t, tr.Start())

	require.NoError(t, tr.Stop())
	require.NoError(t, tr.Stop())

	_, ok := <-tr.Sessions()
	assert.False(t, ok)
	assert.False(t, tr.Eligible())
}
