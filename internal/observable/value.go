package observable

import (
	"maps"
	"slices"
	"sync"

	"github.com/skypro1111/watchparty-service/internal/dispatch"
)

// Value is a push-updated value with a cached latest element.
// Get may be called from any goroutine. Set must be called from work running
// on the owning queue. Subscribers are notified on the notify queue, which may
// be the owning queue itself.
type Value[T any] struct {
	owner  *dispatch.Queue
	notify *dispatch.Queue

	mu      sync.RWMutex
	current T
	subs    map[uint64]func(T)
	nextID  uint64
}

// NewValue creates a value owned by queue that also notifies on queue
func NewValue[T any](queue *dispatch.Queue, initial T) *Value[T] {
	return NewNotifyingValue(queue, queue, initial)
}

// NewNotifyingValue creates a value owned by owner whose subscribers run on
// notify. Subscribers may then submit work to owner without deadlocking.
func NewNotifyingValue[T any](owner, notify *dispatch.Queue, initial T) *Value[T] {
	return &Value[T]{
		owner:   owner,
		notify:  notify,
		current: initial,
		subs:    make(map[uint64]func(T)),
	}
}

// Get returns the most recently published value
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Set replaces the value and notifies subscribers in registration order.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	v.current = x
	ids := slices.Sorted(maps.Keys(v.subs))
	v.mu.Unlock()

	v.deliver(ids, x)
}

// Subscribe registers fn. The current value is delivered first, then every
// later Set, in order. The returned func unsubscribes.
func (v *Value[T]) Subscribe(fn func(T)) (cancel func()) {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.mu.Unlock()

	v.owner.Async(func() {
		v.mu.Lock()
		v.subs[id] = fn
		current := v.current
		v.mu.Unlock()

		v.deliver([]uint64{id}, current)
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			v.remove(id)
			// Also catch a registration that has not run yet.
			v.owner.Async(func() {
				v.remove(id)
			})
		})
	}
}

// SubscriberCount returns the number of registered subscribers
func (v *Value[T]) SubscriberCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.subs)
}

// deliver calls the subscribers in ids that are still registered
func (v *Value[T]) deliver(ids []uint64, x T) {
	run := func() {
		for _, id := range ids {
			if fn, ok := v.handler(id); ok {
				fn(x)
			}
		}
	}

	if v.notify == v.owner {
		run()
		return
	}
	v.notify.Async(run)
}

func (v *Value[T]) handler(id uint64) (func(T), bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	fn, ok := v.subs[id]
	return fn, ok
}

func (v *Value[T]) remove(id uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.subs, id)
}
