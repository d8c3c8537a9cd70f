package coordinator

import (
	"github.com/skypro1111/watchparty-service/internal/groupsession"
)

// observerSet holds the subscriptions bound to one installed session.
// It is only touched from the dispatch queue.
type observerSet struct {
	session  groupsession.Session
	subs     []groupsession.Subscription
	released bool
}

func newObserverSet(session groupsession.Session) *observerSet {
	return &observerSet{session: session}
}

func (o *observerSet) add(sub groupsession.Subscription) {
	if o.released {
		sub.Cancel()
		return
	}
	o.subs = append(o.subs, sub)
}

// release cancels every subscription. Idempotent.
func (o *observerSet) release() {
	if o.released {
		return
	}
	o.released = true
	for _, sub := range o.subs {
		sub.Cancel()
	}
	o.subs = nil
}
