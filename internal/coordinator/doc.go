// Package coordinator owns the watch-together session lifecycle.
//
// A Coordinator listens for sessions delivered by a groupsession.Provider, drives
// outbound activation when the local user starts sharing, and publishes one
// lifecycle state (idle, joining, starting, active) together with the eligibility
// flag and the current shared activity. Every mutation and every notification runs
// on a single dispatch queue, so observers see one ordered sequence of states
// regardless of which goroutine produced the underlying signal.
package coordinator
