package sync

import (
	"errors"
	"time"
)

// ItemResult is the push outcome of one record
type ItemResult struct {
	LocalID  string  `json:"local_id"`
	ServerID string  `json:"server_id,omitempty"`
	Op       Status  `json:"op"`
	Outcome  Outcome `json:"outcome"`
	Error    string  `json:"error,omitempty"`
}

// PullStats counts what the pull phase did with the fetched entities
type PullStats struct {
	Pages       int `json:"pages"`
	Fetched     int `json:"fetched"`
	Inserted    int `json:"inserted"`
	Overwritten int `json:"overwritten"`
	Removed     int `json:"removed"`
	Kept        int `json:"kept"`
	Deferred    int `json:"deferred"`
	Errors      int `json:"errors"`
}

// Changed is the number of local writes the pull caused
func (s PullStats) Changed() int {
	return s.Inserted + s.Overwritten + s.Removed
}

// CycleReport is the observable result of one sync cycle
type CycleReport struct {
	Scope          Scope         `json:"scope"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Offline        bool          `json:"offline,omitempty"`
	Items          []ItemResult  `json:"items"`
	Pull           PullStats     `json:"pull"`
	PullError      string        `json:"pull_error,omitempty"`
	CursorBefore   Cursor        `json:"cursor_before"`
	CursorAfter    Cursor        `json:"cursor_after"`
	CursorAdvanced bool          `json:"cursor_advanced"`
	// Completed is true once push and pull both ran, even if items failed
	Completed bool   `json:"completed"`
	Error     string `json:"error,omitempty"`
}

// Count returns the number of pushed items with the given outcome
func (r *CycleReport) Count(o Outcome) int {
	n := 0
	for _, it := range r.Items {
		if it.Outcome == o {
			n++
		}
	}
	return n
}

// Outstanding is the number of pending records the cycle did not send
// because they are backing off or dead-lettered
func (r *CycleReport) Outstanding() int {
	return r.Count(OutcomeSkipped) + r.Count(OutcomeParked)
}

// Succeeded reports whether every pending record was pushed and the pull
// fully merged
func (r *CycleReport) Succeeded() bool {
	return r.Completed && r.Error == "" && r.Outstanding() == 0
}

// failures collects per-item and pull errors of one cycle
type failures struct {
	errs []error
}

func (f *failures) add(err error) {
	if err != nil {
		f.errs = append(f.errs, err)
	}
}

func (f *failures) err(scope Scope) error {
	if len(f.errs) == 0 {
		return nil
	}
	return &CycleError{Scope: scope, Err: errors.Join(f.errs...)}
}
