package groupsession

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SessionState is the lifecycle of a session handle as reported by the
// group-communication layer.
type SessionState int

const (
	StateWaiting SessionState = iota
	StateJoined
	StateInvalidated
)

var sessionStateNames = map[SessionState]string{
	StateWaiting:     "waiting",
	StateJoined:      "joined",
	StateInvalidated: "invalidated",
}

func (s SessionState) String() string {
	if name, ok := sessionStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Media is the local thing the user wants to watch together
type Media struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// Activity is the payload shared inside a session. The coordinator treats it
// as opaque.
type Activity struct {
	ID      uuid.UUID `json:"id"`
	MediaID string    `json:"media_id"`
	Title   string    `json:"title"`
	URL     string    `json:"url,omitempty"`
}

// NewActivity builds an activity proposal for media
func NewActivity(m Media) Activity {
	return Activity{
		ID:      uuid.New(),
		MediaID: m.ID,
		Title:   m.Title,
		URL:     m.URL,
	}
}

func (a Activity) String() string {
	return fmt.Sprintf("Activity{ID:%s, MediaID:%q, Title:%q}", a.ID, a.MediaID, a.Title)
}

// Session is a handle on a joined or joinable collaborative session.
// State and activity subscriptions call fn with the current value on
// registration and then on every change, on whichever goroutine produced it.
type Session interface {
	ID() string
	State() SessionState
	Activity() *Activity
	Join()
	Leave()
	OnStateChange(fn func(SessionState)) Subscription
	OnActivityChange(fn func(*Activity)) Subscription
}

// BaseSession implements the observable half of Session. Transports embed it
// and add Join and Leave.
type BaseSession struct {
	id       string
	state    *Signal[SessionState]
	activity *Signal[*Activity]

	mu sync.Mutex
}

// NewBaseSession creates a session in the waiting state
func NewBaseSession(id string, activity *Activity) *BaseSession {
	return &BaseSession{
		id:       id,
		state:    NewSignal(StateWaiting),
		activity: NewSignal(activity),
	}
}

func (b *BaseSession) ID() string {
	return b.id
}

func (b *BaseSession) State() SessionState {
	return b.state.Value()
}

func (b *BaseSession) Activity() *Activity {
	return b.activity.Value()
}

func (b *BaseSession) OnStateChange(fn func(SessionState)) Subscription {
	return b.state.Subscribe(fn)
}

func (b *BaseSession) OnActivityChange(fn func(*Activity)) Subscription {
	return b.activity.Subscribe(fn)
}

// SetState moves the session to st. Invalidated is terminal; later changes
// are ignored and SetState reports false. Transitions are serialized, so
// subscribers must not change the state of the same session synchronously.
func (b *BaseSession) SetState(st SessionState) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.state.Value()
	if current == StateInvalidated || current == st {
		return false
	}

	b.state.Send(st)
	return true
}

// SetActivity publishes a new activity for the session
func (b *BaseSession) SetActivity(a *Activity) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Value() == StateInvalidated {
		return
	}
	b.activity.Send(a)
}

// ObserverCount returns the number of live state and activity subscriptions
func (b *BaseSession) ObserverCount() int {
	return b.state.SubscriberCount() + b.activity.SubscriberCount()
}
