// Package records classifies errors returned by a remote record store and helps
// callers recover from them: merging write conflicts and rescheduling operations
// the store asked to retry later. The session coordinator never calls it; it is
// available to components that persist records.
package records
