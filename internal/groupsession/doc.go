// Package groupsession defines the capabilities the coordinator consumes from a
// group-communication layer: session handles with observable state and activity,
// a provider of inbound sessions with prepare/activate calls, and an eligibility source.
// It also ships Loopback, an in-process provider used for local runs and tests.
package groupsession
