// Package server exposes the coordinator over HTTP: a JSON control API for starting,
// cancelling and leaving activities, monitoring endpoints, and a WebSocket feed that
// pushes a fresh state snapshot whenever the lifecycle changes.
package server
