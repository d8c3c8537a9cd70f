// Package protocol implements the binary packet format spoken between peers:
// a fixed header carrying type, payload length and session ID, followed by a
// hello or activity payload. Control packets (join, leave, invalidate) have none.
package protocol
