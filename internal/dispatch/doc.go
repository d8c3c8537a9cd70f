// Package dispatch provides a single-consumer execution queue.
// All work submitted to a Queue runs on one goroutine in submission order, which gives
// the rest of the service one consistent context for state mutation and notification.
package dispatch
