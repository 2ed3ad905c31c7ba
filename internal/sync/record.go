package sync

import (
	"time"
)

// Record is the versioned unit exchanged between the local and remote stores.
// P is the entity payload and is opaque to the engine.
type Record[P any] struct {
	Scope        Scope     `json:"scope"`
	LocalID      string    `json:"local_id"`
	ServerID     string    `json:"server_id,omitempty"` // empty until the first create is acknowledged
	Status       Status    `json:"sync_status"`
	LastModified time.Time `json:"last_modified"`

	// IdempotencyKey is generated with the record and sent with every create
	// attempt, so a create retried after a crash maps to the same remote entity.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Retry bookkeeping for remote rejections
	Attempts       int        `json:"attempts,omitempty"`
	NextAttemptAt  time.Time  `json:"next_attempt_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	DeadLetteredAt *time.Time `json:"dead_lettered_at,omitempty"`

	Payload P `json:"payload"`
}

// HasServerID reports whether the remote store has acknowledged this record
func (r Record[P]) HasServerID() bool {
	return r.ServerID != ""
}

// DeadLettered reports whether the record exhausted its retry budget
func (r Record[P]) DeadLettered() bool {
	return r.DeadLetteredAt != nil
}

// BackingOff reports whether the record must wait before the next push attempt
func (r Record[P]) BackingOff(now time.Time) bool {
	return !r.NextAttemptAt.IsZero() && now.Before(r.NextAttemptAt)
}

func (r *Record[P]) clearRetry() {
	r.Attempts = 0
	r.NextAttemptAt = time.Time{}
	r.LastError = ""
	r.DeadLetteredAt = nil
}

// RemoteEntity is one entity as reported by the remote store during a pull
type RemoteEntity[P any] struct {
	ServerID     string    `json:"server_id"`
	LastModified time.Time `json:"last_modified"`
	Deleted      bool      `json:"deleted,omitempty"`
	Payload      P         `json:"payload"`
}

// Page is the result of one ListSince call
type Page[P any] struct {
	Entities []RemoteEntity[P] `json:"entities"`
	Next     Cursor            `json:"next_cursor"`
}

// DeadLetter describes a record that is no longer pushed automatically
type DeadLetter struct {
	Scope          Scope     `json:"scope"`
	LocalID        string    `json:"local_id"`
	ServerID       string    `json:"server_id,omitempty"`
	Status         Status    `json:"sync_status"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

func deadLetterOf[P any](r Record[P]) DeadLetter {
	dl := DeadLetter{
		Scope:     r.Scope,
		LocalID:   r.LocalID,
		ServerID:  r.ServerID,
		Status:    r.Status,
		Attempts:  r.Attempts,
		LastError: r.LastError,
	}
	if r.DeadLetteredAt != nil {
		dl.DeadLetteredAt = *r.DeadLetteredAt
	}
	return dl
}

// Clock supplies timestamps for local mutations
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the wall clock in UTC
var SystemClock Clock = systemClock{}

// nextModified returns a timestamp strictly after prev. Timestamps are kept at
// microsecond precision because both SQLite and PostgreSQL round-trip that.
func nextModified(prev, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		return prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return now
}
