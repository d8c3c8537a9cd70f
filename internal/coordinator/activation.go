package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/skypro1111/watchparty-service/internal/groupsession"
	"github.com/skypro1111/watchparty-service/internal/logging"
)

// attempt tracks one outbound activation. Fields are only touched from the
// dispatch queue, except cancel which is safe anywhere.
type attempt struct {
	media   groupsession.Media
	started time.Time
	cancel  context.CancelFunc

	// activated is set once Activate succeeded and the attempt is waiting
	// for the provider to deliver the session.
	activated bool
	// interrupted is set when the attempt was cancelled before it resolved.
	interrupted bool
	timer       *time.Timer
}

// StartActivity proposes media as a new shared activity and drives it
// through preparation and activation. It blocks until the attempt resolves
// and never returns an error: every path ends in a defined lifecycle state,
// and the returned Outcome only describes how.
//
// The state passes through joining and starting. A successful activation
// leaves the state in starting until the provider delivers the activated
// session, which is then installed like any inbound session. If that does
// not happen within the activation timeout the state returns to idle.
//
// A call made while another attempt is in flight supersedes it. A call made
// while a session is active leaves that session first.
func (c *Coordinator) StartActivity(ctx context.Context, media groupsession.Media) Outcome {
	c.logger.Debug("StartActivity", slog.String("media_id", media.ID))

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := &attempt{media: media, started: time.Now(), cancel: cancel}
	if !c.onQueue(func() { c.begin(a) }) {
		return OutcomeAborted
	}

	// The state resolves as soon as ctx ends, even while a provider call
	// is still blocked.
	stop := context.AfterFunc(attemptCtx, func() {
		c.queue.Async(func() {
			if c.attempt == a && !a.activated {
				c.interrupt(a)
			}
		})
	})
	defer stop()

	activity := groupsession.NewActivity(media)

	result := c.provider.Prepare(attemptCtx, activity)
	if attemptCtx.Err() != nil {
		c.logger.Info("Activity activation interrupted during preparation",
			slog.String("media_id", media.ID),
		)
		return c.finish(a, OutcomeAborted)
	}

	switch result {
	case groupsession.PrepareActivationPreferred:
		return c.activate(attemptCtx, a, activity)

	case groupsession.PrepareActivationDisabled:
		c.logger.Error("Activity activation disabled", slog.String("media_id", media.ID))
		return c.finish(a, OutcomeDisabled)

	case groupsession.PrepareCancelled:
		c.logger.Error("Activity activation cancelled", slog.String("media_id", media.ID))
		return c.finish(a, OutcomeCancelled)

	default:
		logging.Fault(c.logger, "Prepare resulted in unrecognized outcome",
			slog.String("result", result.String()),
			slog.String("media_id", media.ID),
		)
		return c.finish(a, OutcomeUnknown)
	}
}

// CancelActivation aborts the in-flight outbound attempt, if any, and
// reports whether there was one.
func (c *Coordinator) CancelActivation() bool {
	cancelled := false

	c.onQueue(func() {
		a := c.attempt
		if a == nil {
			return
		}
		cancelled = true

		c.logger.Info("Cancelling activity activation", slog.String("media_id", a.media.ID))
		c.interrupt(a)
	})

	return cancelled
}

func (c *Coordinator) activate(ctx context.Context, a *attempt, activity groupsession.Activity) Outcome {
	if !c.advance(a, Starting()) {
		return c.finish(a, OutcomeSuperseded)
	}

	c.logger.Debug("Activating activity", slog.String("activity", activity.String()))

	ok, err := c.provider.Activate(ctx, activity)
	if err != nil {
		if ctx.Err() != nil {
			return c.finish(a, OutcomeAborted)
		}
		c.logger.Error("Failed to activate activity",
			slog.String("activity_id", activity.ID.String()),
			slog.String("error", err.Error()),
		)
		return c.finish(a, OutcomeFailed)
	}

	if !ok {
		c.logger.Error("Activity did not activate", slog.String("activity_id", activity.ID.String()))
		return c.finish(a, OutcomeNotActivated)
	}

	c.logger.Debug("Activity activated", slog.String("activity_id", activity.ID.String()))
	c.onQueue(func() { c.awaitSession(a) })
	c.metrics.RecordActivation(string(OutcomeActivated), time.Since(a.started).Seconds())

	return OutcomeActivated
}

// begin makes a the current attempt and publishes joining. Runs on the
// dispatch queue.
func (c *Coordinator) begin(a *attempt) {
	if prev := c.attempt; prev != nil {
		c.logger.Info("Superseding in-flight activity activation",
			slog.String("previous_media_id", prev.media.ID),
			slog.String("media_id", a.media.ID),
		)
		c.abandonAttempt()
	}

	if st := c.state.Get(); st.IsActive() {
		c.logger.Info("Leaving active session before starting a new activity",
			slog.String("session_id", st.Session.ID()),
		)
		c.releaseObservers()
		st.Session.Leave()
	}

	if c.state.Get().Phase != PhaseIdle {
		c.publish(Idle())
	}

	c.attempt = a
	c.publish(Joining())
}

// advance publishes st if a is still the current attempt
func (c *Coordinator) advance(a *attempt, st LifecycleState) bool {
	advanced := false
	c.onQueue(func() {
		if c.attempt != a {
			return
		}
		c.publish(st)
		advanced = true
	})
	return advanced
}

// finish resolves a to idle. If a was superseded or interrupted in the
// meantime nothing is published and the outcome becomes OutcomeSuperseded or
// OutcomeAborted.
func (c *Coordinator) finish(a *attempt, outcome Outcome) Outcome {
	ran := c.onQueue(func() {
		if c.attempt != a {
			if a.interrupted {
				outcome = OutcomeAborted
			} else {
				outcome = OutcomeSuperseded
			}
			return
		}
		c.attempt = nil
		c.publish(Idle())
	})
	if !ran {
		outcome = OutcomeAborted
	}

	c.metrics.RecordActivation(string(outcome), time.Since(a.started).Seconds())
	return outcome
}

// awaitSession arms the activation timeout for a successfully activated
// attempt. Runs on the dispatch queue.
func (c *Coordinator) awaitSession(a *attempt) {
	if c.attempt != a {
		// The activated session was already installed.
		return
	}

	a.activated = true
	a.timer = c.queue.After(c.activationTimeout, func() {
		if c.attempt != a {
			return
		}
		c.logger.Warn("Activated session was not delivered in time",
			slog.String("media_id", a.media.ID),
			slog.Duration("timeout", c.activationTimeout),
		)
		c.attempt = nil
		c.publish(Idle())
	})
}

// detachAttempt ends the current attempt because a session was installed.
// An attempt that has not reached activation yet is cancelled.
func (c *Coordinator) detachAttempt() {
	a := c.attempt
	if a == nil {
		return
	}
	if !a.activated {
		c.logger.Info("Session installed while activity activation was in flight",
			slog.String("media_id", a.media.ID),
		)
	}
	c.abandonAttempt()
}

// interrupt abandons a and returns the state to idle. An attempt still in
// flight records its outcome when the provider call returns; an activated one
// has no call left, so it is recorded here. Runs on the dispatch queue.
func (c *Coordinator) interrupt(a *attempt) {
	a.interrupted = true
	c.abandonAttempt()
	if a.activated {
		c.metrics.RecordActivation(string(OutcomeAborted), time.Since(a.started).Seconds())
	}
	c.publish(Idle())
}

// abandonAttempt cancels and forgets the current attempt
func (c *Coordinator) abandonAttempt() {
	a := c.attempt
	if a == nil {
		return
	}
	c.attempt = nil
	a.cancel()
	if a.timer != nil {
		a.timer.Stop()
	}
}
