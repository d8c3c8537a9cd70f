package groupsession

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalSubscribeReplaysCurrent(t *testing.T) {
	sig := NewSignal(3)

	var got []int
	sub := sig.Subscribe(func(v int) { got = append(got, v) })
	sig.Send(4)
	sub.Cancel()
	sub.Cancel()
	sig.Send(5)

	assert.Equal(t, []int{3, 4}, got)
	assert.Equal(t, 5, sig.Value())
	assert.Equal(t, 0, sig.SubscriberCount())
}

func TestBaseSessionInvalidatedIsTerminal(t *testing.T) {
	s := NewBaseSession("s1", nil)

	var states []SessionState
	s.OnStateChange(func(st SessionState) { states = append(states, st) })

	assert.True(t, s.SetState(StateJoined))
	assert.False(t, s.SetState(StateJoined), "same state is not a change")
	assert.True(t, s.SetState(StateInvalidated))
	assert.False(t, s.SetState(StateJoined))

	activity := NewActivity(Media{ID: "m1", Title: "Keynote"})
	s.SetActivity(&activity)

	assert.Equal(t, []SessionState{StateWaiting, StateJoined, StateInvalidated}, states)
	assert.Nil(t, s.Activity(), "activity is frozen after invalidation")
}

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{StateWaiting, "waiting"},
		{StateJoined, "joined"},
		{StateInvalidated, "invalidated"},
		{SessionState(9), "unknown(9)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestNewActivity(t *testing.T) {
	a := NewActivity(Media{ID: "wwdc21-10225", Title: "Meet GroupActivities", URL: "https://example.com/v"})
	b := NewActivity(Media{ID: "wwdc21-10225"})

	assert.Equal(t, "wwdc21-10225", a.MediaID)
	assert.Equal(t, "Meet GroupActivities", a.Title)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestLoopbackDefaultPrepare(t *testing.T) {
	l := NewLoopback(1)
	activity := NewActivity(Media{ID: "m"})

	assert.Equal(t, PrepareActivationDisabled, l.Prepare(context.Background(), activity))

	l.SetEligible(true)
	assert.Equal(t, PrepareActivationPreferred, l.Prepare(context.Background(), activity))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, PrepareCancelled, l.Prepare(ctx, activity))
}

func TestLoopbackActivateDeliversSession(t *testing.T) {
	l := NewLoopback(1)
	activity := NewActivity(Media{ID: "m", Title: "t"})

	ok, err := l.Activate(context.Background(), activity)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case s := <-l.Sessions():
		require.NotNil(t, s.Activity())
		assert.Equal(t, activity.ID, s.Activity().ID)
		assert.Equal(t, StateWaiting, s.State())
	case <-time.After(time.Second):
		t.Fatal("activated session was not delivered")
	}
}

func TestLoopbackOverrides(t *testing.T) {
	l := NewLoopback(1)
	failure := errors.New("activation refused")

	l.SetPrepareFunc(func(context.Context, Activity) PrepareResult { return PrepareResult(42) })
	l.SetActivateFunc(func(context.Context, Activity) (bool, error) { return false, failure })

	assert.Equal(t, "unknown(42)", l.Prepare(context.Background(), Activity{}).String())
	_, err := l.Activate(context.Background(), Activity{})
	assert.ErrorIs(t, err, failure)
}

func TestLoopbackClose(t *testing.T) {
	l := NewLoopback(0)
	l.Close()
	l.Close()

	_, open := <-l.Sessions()
	assert.False(t, open)
	assert.ErrorIs(t, l.Deliver(context.Background(), NewLocalSession(nil)), ErrProviderClosed)
}

func TestLoopbackEligibility(t *testing.T) {
	l := NewLoopback(0)

	var got []bool
	sub := l.OnEligibilityChange(func(b bool) { got = append(got, b) })
	defer sub.Cancel()

	l.SetEligible(true)
	l.SetEligible(true)
	l.SetEligible(false)

	assert.Equal(t, []bool{false, true, false}, got)
}

func TestLocalSessionJoinLeave(t *testing.T) {
	s := NewLocalSession(nil)

	s.Join()
	assert.Equal(t, StateJoined, s.State())
	s.Leave()
	s.Leave()

	assert.Equal(t, 1, s.JoinCount())
	assert.Equal(t, 2, s.LeaveCount())
	assert.Equal(t, StateInvalidated, s.State())
}
