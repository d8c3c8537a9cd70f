// Package observable holds last-value-cached values whose changes are delivered to
// subscribers on a dispatch queue.
package observable
