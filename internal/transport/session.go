package transport

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/skypro1111/watchparty-service/internal/groupsession"
	"github.com/skypro1111/watchparty-service/internal/protocol"
)

// PeerSession is a session shared with peers over UDP. It is created either
// by a remote announce or by a local activation.
type PeerSession struct {
	*groupsession.BaseSession

	uuid      uuid.UUID
	transport *UDPTransport
	local     bool   // activated by this instance
	origin    string // announcing peer address, empty when local

	mu           sync.Mutex
	participants map[string]struct{}
}

func newPeerSession(t *UDPTransport, id uuid.UUID, activity *groupsession.Activity, origin string) *PeerSession {
	return &PeerSession{
		BaseSession:  groupsession.NewBaseSession(id.String(), activity),
		uuid:         id,
		transport:    t,
		local:        origin == "",
		origin:       origin,
		participants: make(map[string]struct{}),
	}
}

// Local reports whether this instance activated the session
func (s *PeerSession) Local() bool {
	return s.local
}

// Join marks the session joined and tells the peers
func (s *PeerSession) Join() {
	if !s.SetState(groupsession.StateJoined) {
		return
	}
	s.transport.sendControl(protocol.PacketTypeJoin, s.uuid)
}

// Leave tells the peers and ends the session locally
func (s *PeerSession) Leave() {
	if s.State() == groupsession.StateInvalidated {
		return
	}
	s.transport.sendControl(protocol.PacketTypeLeave, s.uuid)
	s.end()
}

// UpdateActivity replaces the shared activity and broadcasts it
func (s *PeerSession) UpdateActivity(a groupsession.Activity) {
	if s.State() == groupsession.StateInvalidated {
		return
	}
	s.SetActivity(&a)
	s.transport.sendActivity(protocol.PacketTypeActivity, s.uuid, a)
}

// Participants returns the number of remote peers that joined
func (s *PeerSession) Participants() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

func (s *PeerSession) addParticipant(addr string) {
	s.mu.Lock()
	s.participants[addr] = struct{}{}
	s.mu.Unlock()
}

// removeParticipant reports whether addr had joined the session
func (s *PeerSession) removeParticipant(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, joined := s.participants[addr]
	delete(s.participants, addr)
	return joined
}

// end invalidates the session and drops it from the transport
func (s *PeerSession) end() {
	if s.SetState(groupsession.StateInvalidated) {
		s.transport.logger.Debug("Session ended", slog.String("session_id", s.ID()))
	}
	s.transport.forgetSession(s.uuid)
}

func activityFromPayload(p *protocol.ActivityPayload) *groupsession.Activity {
	return &groupsession.Activity{
		ID:      p.ActivityID,
		MediaID: p.GetMediaID(),
		Title:   p.GetTitle(),
		URL:     p.GetURL(),
	}
}

func payloadFromActivity(a groupsession.Activity) *protocol.ActivityPayload {
	return protocol.NewActivityPayload(a.ID, a.MediaID, a.Title, a.URL)
}
