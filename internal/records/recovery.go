package records

import (
	"log/slog"
	"time"

	"github.com/skypro1111/watchparty-service/internal/dispatch"
	"github.com/skypro1111/watchparty-service/internal/logging"
)

// Resolver merges the locally written record with the one currently stored.
// Returning nil abandons the write.
type Resolver func(client, server *Record) *Record

// IsConflict reports whether err is a write conflict
func IsConflict(err error) bool {
	storeErr, ok := AsStoreError(err)
	return ok && storeErr.Code == CodeServerRecordChanged
}

// ResolveConflict hands both versions of a conflicting record to resolve and
// returns the merged record. Calling it with anything other than a conflict
// carrying both records is a programming error: it is logged at FAULT level
// and nil is returned.
func ResolveConflict(logger *slog.Logger, err error, resolve Resolver) *Record {
	storeErr, ok := AsStoreError(err)
	if !ok {
		logging.Fault(logger, "ResolveConflict called on an error that was not a store error",
			slog.String("error", errorString(err)),
		)
		return nil
	}

	if storeErr.Code != CodeServerRecordChanged {
		logging.Fault(logger, "ResolveConflict called on a store error that was not a conflict",
			slog.String("code", storeErr.Code.String()),
			slog.String("error", storeErr.Error()),
		)
		return nil
	}

	if storeErr.ClientRecord == nil {
		logging.Fault(logger, "Failed to obtain client record from conflict error",
			slog.String("error", storeErr.Error()),
		)
		return nil
	}

	if storeErr.ServerRecord == nil {
		logging.Fault(logger, "Failed to obtain server record from conflict error",
			slog.String("error", storeErr.Error()),
		)
		return nil
	}

	return resolve(storeErr.ClientRecord, storeErr.ServerRecord)
}

// PreferNewest keeps whichever record was modified last, favouring the
// server copy on ties
func PreferNewest(client, server *Record) *Record {
	if client.Modified.After(server.Modified) {
		merged := *client
		merged.ChangeTag = server.ChangeTag
		return &merged
	}
	return server
}

// RetryDelay returns how long the store asked the caller to wait before
// retrying. ok is false when err is not recoverable.
func RetryDelay(err error) (delay time.Duration, ok bool) {
	storeErr, isStore := AsStoreError(err)
	if !isStore || storeErr.RetryAfter <= 0 {
		return 0, false
	}
	return storeErr.RetryAfter, true
}

// RetryIfPossible schedules fn on queue after the delay carried by err and
// reports whether it did. Errors that are not store errors are ignored silently.
func RetryIfPossible(logger *slog.Logger, err error, queue *dispatch.Queue, fn func()) bool {
	if _, ok := AsStoreError(err); !ok {
		return false
	}

	delay, ok := RetryDelay(err)
	if !ok {
		logger.Error("Error is not recoverable", slog.String("error", err.Error()))
		return false
	}

	logger.Error("Error is recoverable, will retry",
		slog.Duration("retry_after", delay),
		slog.String("error", err.Error()),
	)

	queue.After(delay, fn)

	return true
}

func errorString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
