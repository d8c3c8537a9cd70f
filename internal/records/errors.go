package records

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies the kind of failure reported by the record store
type Code int

const (
	CodeUnknown Code = iota
	CodeServerRecordChanged
	CodeNetworkUnavailable
	CodeServiceUnavailable
	CodeRequestRateLimited
	CodeZoneBusy
	CodeNotAuthenticated
	CodeQuotaExceeded
)

var codeNames = map[Code]string{
	CodeUnknown:             "unknown",
	CodeServerRecordChanged: "server_record_changed",
	CodeNetworkUnavailable:  "network_unavailable",
	CodeServiceUnavailable:  "service_unavailable",
	CodeRequestRateLimited:  "request_rate_limited",
	CodeZoneBusy:            "zone_busy",
	CodeNotAuthenticated:    "not_authenticated",
	CodeQuotaExceeded:       "quota_exceeded",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Record is one versioned record held by the store
type Record struct {
	ID        string
	Type      string
	ChangeTag string
	Modified  time.Time
	Fields    map[string]interface{}
}

// StoreError is the error returned by record store operations.
// ClientRecord and ServerRecord are set for CodeServerRecordChanged.
// RetryAfter is non-zero when the store asked the caller to try again later.
type StoreError struct {
	Code         Code
	RetryAfter   time.Duration
	ClientRecord *Record
	ServerRecord *Record
	Err          error
}

func (e *StoreError) Error() string {
	msg := "record store error: " + e.Code.String()
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// AsStoreError extracts a *StoreError from err's chain
func AsStoreError(err error) (*StoreError, bool) {
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		return nil, false
	}
	return storeErr, true
}
