package coordinator

import (
	"encoding/json"
	"fmt"

	"github.com/skypro1111/watchparty-service/internal/groupsession"
)

// Phase identifies which variant of LifecycleState is active
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseJoining
	PhaseStarting
	PhaseActive
)

var phaseNames = map[Phase]string{
	PhaseIdle:     "idle",
	PhaseJoining:  "joining",
	PhaseStarting: "starting",
	PhaseActive:   "active",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// LifecycleState is the coordinator's published state. Session is set only
// in PhaseActive. Values are replaced wholesale, never mutated.
type LifecycleState struct {
	Phase   Phase
	Session groupsession.Session
}

func Idle() LifecycleState     { return LifecycleState{Phase: PhaseIdle} }
func Joining() LifecycleState  { return LifecycleState{Phase: PhaseJoining} }
func Starting() LifecycleState { return LifecycleState{Phase: PhaseStarting} }

// Active returns the state holding session
func Active(session groupsession.Session) LifecycleState {
	return LifecycleState{Phase: PhaseActive, Session: session}
}

// IsActive reports whether a session is held
func (s LifecycleState) IsActive() bool {
	return s.Phase == PhaseActive && s.Session != nil
}

func (s LifecycleState) String() string {
	if s.IsActive() {
		return fmt.Sprintf("active(%s)", s.Session.ID())
	}
	return s.Phase.String()
}

type lifecycleStateJSON struct {
	Phase        Phase                      `json:"phase"`
	SessionID    string                     `json:"session_id,omitempty"`
	SessionState *groupsession.SessionState `json:"session_state,omitempty"`
}

func (s LifecycleState) MarshalJSON() ([]byte, error) {
	out := lifecycleStateJSON{Phase: s.Phase}
	if s.IsActive() {
		st := s.Session.State()
		out.SessionID = s.Session.ID()
		out.SessionState = &st
	}
	return json.Marshal(out)
}

// Snapshot bundles every observable output at one instant
type Snapshot struct {
	State           LifecycleState         `json:"state"`
	CanStartSession bool                   `json:"can_start_session"`
	Activity        *groupsession.Activity `json:"activity"`
}

// Outcome reports how an outbound activation attempt ended. It is
// informational; the lifecycle state is the source of truth.
type Outcome string

const (
	OutcomeActivated    Outcome = "activated"
	OutcomeNotActivated Outcome = "not_activated"
	OutcomeFailed       Outcome = "failed"
	OutcomeDisabled     Outcome = "disabled"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeUnknown      Outcome = "unknown"
	OutcomeAborted      Outcome = "aborted"
	OutcomeSuperseded   Outcome = "superseded"
)
