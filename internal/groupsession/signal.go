package groupsession

import (
	"maps"
	"slices"
	"sync"
)

// Subscription is a live registration on a signal. Cancel releases it and is
// safe to call more than once.
type Subscription interface {
	Cancel()
}

type subscriptionFunc struct {
	once sync.Once
	fn   func()
}

func (s *subscriptionFunc) Cancel() {
	s.once.Do(s.fn)
}

// SubscriptionFunc adapts fn to a Subscription that runs fn at most once.
func SubscriptionFunc(fn func()) Subscription {
	return &subscriptionFunc{fn: fn}
}

// Signal holds a current value and pushes every change to its subscribers
// synchronously on the goroutine that sent it.
type Signal[T any] struct {
	mu      sync.Mutex
	current T
	subs    map[uint64]func(T)
	nextID  uint64
}

// NewSignal creates a signal holding initial
func NewSignal[T any](initial T) *Signal[T] {
	return &Signal[T]{
		current: initial,
		subs:    make(map[uint64]func(T)),
	}
}

// Value returns the current value
func (s *Signal[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe registers fn and immediately calls it with the current value.
func (s *Signal[T]) Subscribe(fn func(T)) Subscription {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	current := s.current
	s.mu.Unlock()

	fn(current)

	return SubscriptionFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	})
}

// Send stores v and calls every subscriber with it
func (s *Signal[T]) Send(v T) {
	s.mu.Lock()
	s.current = v
	handlers := make([]func(T), 0, len(s.subs))
	for _, id := range slices.Sorted(maps.Keys(s.subs)) {
		handlers = append(handlers, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(v)
	}
}

// SubscriberCount returns the number of live subscriptions
func (s *Signal[T]) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
