package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/watchparty-service/internal/dispatch"
	"github.com/skypro1111/watchparty-service/internal/groupsession"
	"github.com/skypro1111/watchparty-service/internal/metrics"
	"github.com/skypro1111/watchparty-service/internal/observable"
)

var (
	// ErrAlreadyObserving is returned by a second StartObservingState call
	ErrAlreadyObserving = errors.New("coordinator is already observing sessions")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("coordinator closed")
)

const defaultActivationTimeout = 30 * time.Second

// Config holds coordinator tuning
type Config struct {
	// ActivationTimeout bounds how long the coordinator stays in the starting
	// phase after a successful activation while waiting for the provider to
	// deliver the new session.
	ActivationTimeout time.Duration
}

// Coordinator is the single owner of the watch-together lifecycle. Construct
// one per process with New and release it with Close.
type Coordinator struct {
	provider    groupsession.Provider
	eligibility groupsession.Eligibility
	logger      *slog.Logger
	metrics     *metrics.Metrics

	activationTimeout time.Duration

	queue    *dispatch.Queue
	notify   *dispatch.Queue
	state    *observable.Value[LifecycleState]
	canStart *observable.Value[bool]
	activity *observable.Value[*groupsession.Activity]

	// Owned by the dispatch queue
	observers *observerSet
	attempt   *attempt

	mu             sync.Mutex
	observing      bool
	closed         bool
	eligibilitySub groupsession.Subscription
	listenerCancel context.CancelFunc
	listenerDone   chan struct{}
}

// New creates a coordinator in the idle state. eligibility and m may be nil.
func New(provider groupsession.Provider, eligibility groupsession.Eligibility, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Coordinator {
	if cfg.ActivationTimeout <= 0 {
		cfg.ActivationTimeout = defaultActivationTimeout
	}

	queue := dispatch.NewQueue(logger)
	notify := dispatch.NewQueue(logger)

	return &Coordinator{
		provider:          provider,
		eligibility:       eligibility,
		logger:            logger,
		metrics:           m,
		activationTimeout: cfg.ActivationTimeout,
		queue:             queue,
		notify:            notify,
		state:             observable.NewNotifyingValue(queue, notify, Idle()),
		canStart:          observable.NewNotifyingValue(queue, notify, false),
		activity:          observable.NewNotifyingValue[*groupsession.Activity](queue, notify, nil),
	}
}

// StartObservingState mirrors eligibility and starts the listener that
// installs every session delivered by the provider. Only the first call has
// an effect; later calls return ErrAlreadyObserving. Cancelling ctx stops the
// listener and releases the live observer set.
func (c *Coordinator) StartObservingState(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.observing {
		c.logger.Warn("StartObservingState called more than once, ignoring")
		return ErrAlreadyObserving
	}
	c.observing = true

	c.logger.Debug("Starting to observe session state")

	if c.eligibility != nil {
		c.eligibilitySub = c.eligibility.OnEligibilityChange(func(eligible bool) {
			c.queue.Async(func() { c.setCanStart(eligible) })
		})
	}

	listenCtx, cancel := context.WithCancel(ctx)
	c.listenerCancel = cancel
	c.listenerDone = make(chan struct{})

	go c.listen(listenCtx, c.listenerDone)

	return nil
}

// LeaveActivity asks the active session to leave. It does nothing unless the
// state is active. The transition to idle follows asynchronously from the
// session's invalidation.
func (c *Coordinator) LeaveActivity() {
	c.onQueue(func() {
		st := c.state.Get()
		if !st.IsActive() {
			c.logger.Debug("LeaveActivity ignored, no active session",
				slog.String("state", st.String()),
			)
			return
		}

		c.logger.Info("Leaving session", slog.String("session_id", st.Session.ID()))
		st.Session.Leave()
	})
}

// State returns the current lifecycle state
func (c *Coordinator) State() LifecycleState {
	return c.state.Get()
}

// CanStartSession reports the mirrored eligibility flag
func (c *Coordinator) CanStartSession() bool {
	return c.canStart.Get()
}

// CurrentActivity returns the activity of the active session, if any
func (c *Coordinator) CurrentActivity() *groupsession.Activity {
	return c.activity.Get()
}

// Snapshot returns all observable outputs
func (c *Coordinator) Snapshot() Snapshot {
	return Snapshot{
		State:           c.State(),
		CanStartSession: c.CanStartSession(),
		Activity:        c.CurrentActivity(),
	}
}

// SubscribeState delivers the current state and every later change to fn, in
// order, on the coordinator's notification goroutine. fn may call any other
// Coordinator method. The returned func unsubscribes.
func (c *Coordinator) SubscribeState(fn func(LifecycleState)) func() {
	return c.state.Subscribe(fn)
}

// SubscribeEligibility delivers the eligibility flag like SubscribeState
func (c *Coordinator) SubscribeEligibility(fn func(bool)) func() {
	return c.canStart.Subscribe(fn)
}

// SubscribeActivity delivers the current activity like SubscribeState
func (c *Coordinator) SubscribeActivity(fn func(*groupsession.Activity)) func() {
	return c.activity.Subscribe(fn)
}

// Close stops the listener, cancels any in-flight activation, releases the
// live observer set and stops the dispatch queue. Safe to call more than once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.listenerCancel
	done := c.listenerDone
	sub := c.eligibilitySub
	c.mu.Unlock()

	c.logger.Info("Stopping coordinator...")

	if cancel != nil {
		cancel()
		<-done
	}
	if sub != nil {
		sub.Cancel()
	}

	c.onQueue(func() {
		if a := c.attempt; a != nil {
			c.interrupt(a)
		}
		c.releaseObservers()
	})
	c.queue.Stop()
	c.notify.Close()

	c.logger.Info("Coordinator stopped", slog.String("final_state", c.state.Get().String()))
}

// listen consumes the provider's session stream for the lifetime of ctx
func (c *Coordinator) listen(ctx context.Context, done chan struct{}) {
	defer close(done)

	sessions := c.provider.Sessions()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Session listener stopping")
			c.onQueue(c.teardown)
			return

		case session, ok := <-sessions:
			if !ok {
				c.logger.Debug("Session stream ended")
				return
			}

			c.logger.Debug("Got new session", slog.String("session_id", session.ID()))
			c.onQueue(func() { c.install(session) })
		}
	}
}

// install replaces the live observer set with one bound to session and
// publishes it as active. Runs on the dispatch queue.
func (c *Coordinator) install(session groupsession.Session) {
	c.releaseObservers()
	c.detachAttempt()

	set := newObserverSet(session)

	// Installed before Join so an immediate invalidation is not missed.
	set.add(session.OnStateChange(func(st groupsession.SessionState) {
		if st != groupsession.StateInvalidated {
			return
		}
		c.queue.Async(func() { c.handleInvalidated(set) })
	}))

	session.Join()

	set.add(session.OnActivityChange(func(a *groupsession.Activity) {
		c.queue.Async(func() { c.handleActivity(set, a) })
	}))

	c.observers = set
	c.metrics.RecordSessionInstalled()
	if a := session.Activity(); a != c.activity.Get() {
		c.activity.Set(a)
	}
	c.publish(Active(session))
}

func (c *Coordinator) handleInvalidated(set *observerSet) {
	if c.observers != set {
		return
	}

	c.logger.Info("Session invalidated", slog.String("session_id", set.session.ID()))
	c.metrics.RecordSessionInvalidated()
	c.releaseObservers()
	c.publish(Idle())
}

func (c *Coordinator) handleActivity(set *observerSet, a *groupsession.Activity) {
	if c.observers != set || a == c.activity.Get() {
		return
	}

	if a != nil {
		c.logger.Debug("New activity", slog.String("activity", a.String()))
	} else {
		c.logger.Debug("New activity", slog.String("activity", "none"))
	}
	c.activity.Set(a)
}

// teardown runs when the listener is cancelled
func (c *Coordinator) teardown() {
	if c.observers == nil {
		return
	}
	c.releaseObservers()
	if c.state.Get().IsActive() {
		c.publish(Idle())
	}
}

func (c *Coordinator) releaseObservers() {
	if c.observers == nil {
		return
	}
	c.observers.release()
	c.observers = nil
	c.metrics.RecordObserverSetReleased()
}

func (c *Coordinator) setCanStart(eligible bool) {
	c.logger.Debug("canStartSession changed", slog.Bool("can_start_session", eligible))
	c.metrics.SetCanStartSession(eligible)
	c.canStart.Set(eligible)
}

// publish replaces the lifecycle state. Runs on the dispatch queue.
func (c *Coordinator) publish(st LifecycleState) {
	previous := c.state.Get()

	c.logger.Debug("Lifecycle state changed",
		slog.String("from", previous.String()),
		slog.String("to", st.String()),
	)

	if st.Phase == PhaseIdle && c.activity.Get() != nil {
		c.activity.Set(nil)
	}

	c.metrics.RecordTransition(st.Phase.String())
	c.state.Set(st)
}

// onQueue runs fn on the dispatch queue and waits for it. It reports false
// when the queue has already stopped.
func (c *Coordinator) onQueue(fn func()) bool {
	return c.queue.Sync(context.Background(), fn) == nil
}
