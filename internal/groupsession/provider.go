package groupsession

import (
	"context"
	"fmt"
)

// PrepareResult classifies readiness to activate an activity. Values other
// than the declared constants are unrecognized and must be treated as such.
type PrepareResult int

const (
	PrepareActivationPreferred PrepareResult = iota
	PrepareActivationDisabled
	PrepareCancelled
)

func (r PrepareResult) String() string {
	switch r {
	case PrepareActivationPreferred:
		return "activation_preferred"
	case PrepareActivationDisabled:
		return "activation_disabled"
	case PrepareCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Provider is the group-communication capability the coordinator drives.
//
// Sessions returns the stream of sessions to observe. It carries both sessions
// started by other participants and sessions created by a successful Activate.
// The channel is closed when the provider stops producing sessions.
type Provider interface {
	Sessions() <-chan Session
	Prepare(ctx context.Context, activity Activity) PrepareResult
	Activate(ctx context.Context, activity Activity) (bool, error)
}

// Eligibility reports whether a collaborative session can currently be
// started. fn receives the current value on registration.
type Eligibility interface {
	OnEligibilityChange(fn func(bool)) Subscription
}
