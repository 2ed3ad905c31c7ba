package sync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOffline       = errors.New("sync: remote store unreachable")
	ErrNotFound      = errors.New("sync: record not found")
	ErrDeleted       = errors.New("sync: record is pending deletion")
	ErrUnknownScope  = errors.New("sync: unknown scope")
	ErrEngineRunning = errors.New("sync: engine already running")
	ErrClosed        = errors.New("sync: coordinator closed")
	ErrNotPending    = errors.New("sync: record has nothing to push")
)

// RejectionError marks a permanent refusal by the remote store, e.g. a
// validation failure. Records rejected this way back off and are eventually
// dead-lettered. Every other remote error is treated as transient.
type RejectionError struct {
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote rejected request (%d): %s", e.StatusCode, e.Message)
	}
	return "remote rejected request: " + e.Message
}

// Reject builds a RejectionError without a transport status
func Reject(format string, args ...interface{}) error {
	return &RejectionError{Message: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err carries a RejectionError
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

// ItemError is the failure of one record in a cycle
type ItemError struct {
	LocalID string
	Op      Status
	Err     error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.LocalID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// CycleError is returned by a cycle that did not fully succeed. The report is
// still returned alongside it.
type CycleError struct {
	Scope Scope
	Err   error // errors.Join of every item and pull failure
}

func (e *CycleError) Error() string {
	msg := e.Err.Error()
	if n := strings.Count(msg, "\n") + 1; n > 1 {
		return fmt.Sprintf("sync %s: %d failures: %s", e.Scope, n, strings.ReplaceAll(msg, "\n", "; "))
	}
	return fmt.Sprintf("sync %s: %s", e.Scope, msg)
}

func (e *CycleError) Unwrap() error { return e.Err }
