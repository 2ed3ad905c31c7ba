package sync

import (
	"time"
)

// Cursor is the pull watermark of one scope
type Cursor struct {
	LastPullTimestamp time.Time `json:"last_pull_timestamp"`
}

// IsZero reports whether the scope was never pulled
func (c Cursor) IsZero() bool {
	return c.LastPullTimestamp.IsZero()
}

// Before reports whether c is strictly behind other
func (c Cursor) Before(other Cursor) bool {
	return c.LastPullTimestamp.Before(other.LastPullTimestamp)
}

// cursorTracker computes the value a cursor may advance to after one pull.
// It never mutates the stored cursor; the coordinator saves the result once.
type cursorTracker struct {
	start    Cursor
	maxSeen  time.Time
	reached  time.Time // end of the last fully merged page
	deferred time.Time // earliest LastModified of a deferred remote entity
	failed   bool
}

func newCursorTracker(start Cursor) *cursorTracker {
	return &cursorTracker{start: start}
}

func (t *cursorTracker) observe(e time.Time) {
	if e.After(t.maxSeen) {
		t.maxSeen = e
	}
}

func (t *cursorTracker) deferAt(e time.Time) {
	if t.deferred.IsZero() || e.Before(t.deferred) {
		t.deferred = e
	}
}

func (t *cursorTracker) fail() {
	t.failed = true
}

// pageDone marks every entity of a page as merged. A page without a Next
// value reaches the newest observed entity.
func (t *cursorTracker) pageDone(next Cursor) {
	target := next.LastPullTimestamp
	if target.IsZero() {
		target = t.maxSeen
	}
	if target.After(t.reached) {
		t.reached = target
	}
}

// next returns the cursor to persist and whether it moved forward. Since
// ListSince is inclusive, capping at the earliest deferred entity makes the
// next pull return it again.
func (t *cursorTracker) next() (Cursor, bool) {
	if t.failed {
		return t.start, false
	}
	target := t.reached
	if !t.deferred.IsZero() && t.deferred.Before(target) {
		target = t.deferred
	}
	if !target.After(t.start.LastPullTimestamp) {
		return t.start, false
	}
	return Cursor{LastPullTimestamp: target}, true
}
