package groupsession

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrProviderClosed is returned when delivering to a closed provider
var ErrProviderClosed = errors.New("session provider closed")

// LocalSession is an in-process session handle
type LocalSession struct {
	*BaseSession

	mu     sync.Mutex
	joins  int
	leaves int
}

// NewLocalSession creates a waiting session carrying activity
func NewLocalSession(activity *Activity) *LocalSession {
	return &LocalSession{BaseSession: NewBaseSession(uuid.NewString(), activity)}
}

func (s *LocalSession) Join() {
	s.mu.Lock()
	s.joins++
	s.mu.Unlock()

	s.SetState(StateJoined)
}

func (s *LocalSession) Leave() {
	s.mu.Lock()
	s.leaves++
	s.mu.Unlock()

	s.SetState(StateInvalidated)
}

// Invalidate ends the session as if a remote participant closed it
func (s *LocalSession) Invalidate() {
	s.SetState(StateInvalidated)
}

// JoinCount returns how many times Join was called
func (s *LocalSession) JoinCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joins
}

// LeaveCount returns how many times Leave was called
func (s *LocalSession) LeaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaves
}

// PrepareFunc overrides Loopback preparation
type PrepareFunc func(ctx context.Context, activity Activity) PrepareResult

// ActivateFunc overrides Loopback activation
type ActivateFunc func(ctx context.Context, activity Activity) (bool, error)

// Loopback is an in-process Provider and Eligibility source. By default
// Prepare prefers activation while eligible, and Activate creates a
// LocalSession and delivers it on Sessions.
type Loopback struct {
	sessions  chan Session
	done      chan struct{}
	closeMu   sync.RWMutex
	closeOnce sync.Once
	closed    bool

	eligible *Signal[bool]

	mu       sync.RWMutex
	prepare  PrepareFunc
	activate ActivateFunc
}

// NewLoopback creates a provider whose session stream buffers up to buffer sessions
func NewLoopback(buffer int) *Loopback {
	return &Loopback{
		sessions: make(chan Session, buffer),
		done:     make(chan struct{}),
		eligible: NewSignal(false),
	}
}

func (l *Loopback) Sessions() <-chan Session {
	return l.sessions
}

// Deliver pushes s onto the session stream
func (l *Loopback) Deliver(ctx context.Context, s Session) error {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()

	if l.closed {
		return ErrProviderClosed
	}

	select {
	case l.sessions <- s:
		return nil
	case <-l.done:
		return ErrProviderClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the session stream. Safe to call more than once.
func (l *Loopback) Close() {
	l.closeOnce.Do(func() {
		close(l.done)

		l.closeMu.Lock()
		defer l.closeMu.Unlock()
		l.closed = true
		close(l.sessions)
	})
}

// SetEligible updates the eligibility signal
func (l *Loopback) SetEligible(eligible bool) {
	if l.eligible.Value() == eligible {
		return
	}
	l.eligible.Send(eligible)
}

func (l *Loopback) OnEligibilityChange(fn func(bool)) Subscription {
	return l.eligible.Subscribe(fn)
}

// SetPrepareFunc replaces the preparation behaviour; nil restores the default
func (l *Loopback) SetPrepareFunc(fn PrepareFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prepare = fn
}

// SetActivateFunc replaces the activation behaviour; nil restores the default
func (l *Loopback) SetActivateFunc(fn ActivateFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activate = fn
}

func (l *Loopback) Prepare(ctx context.Context, activity Activity) PrepareResult {
	l.mu.RLock()
	fn := l.prepare
	l.mu.RUnlock()

	if fn != nil {
		return fn(ctx, activity)
	}

	if ctx.Err() != nil {
		return PrepareCancelled
	}
	if !l.eligible.Value() {
		return PrepareActivationDisabled
	}
	return PrepareActivationPreferred
}

func (l *Loopback) Activate(ctx context.Context, activity Activity) (bool, error) {
	l.mu.RLock()
	fn := l.activate
	l.mu.RUnlock()

	if fn != nil {
		return fn(ctx, activity)
	}

	s := NewLocalSession(&activity)
	if err := l.Deliver(ctx, s); err != nil {
		return false, err
	}
	return true, nil
}
