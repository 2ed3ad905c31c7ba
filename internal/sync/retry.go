package sync

import (
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Minute
	DefaultMaxDelay    = time.Hour
)

// RetryPolicy bounds how often a rejected record is pushed again
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay" yaml:"max_delay"`
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Backoff returns the wait after the given number of rejections:
// base * 2^(attempts-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	p = p.withDefaults()
	if attempts <= 1 {
		return p.BaseDelay
	}
	delay := p.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.MaxDelay || delay <= 0 {
			return p.MaxDelay
		}
	}
	return delay
}

// rejectRecord records one more rejection on rec and reports whether the
// record is now dead-lettered
func rejectRecord[P any](p RetryPolicy, rec *Record[P], now time.Time, cause error) bool {
	p = p.withDefaults()
	rec.Attempts++
	rec.LastError = cause.Error()
	if rec.Attempts >= p.MaxAttempts {
		t := now
		rec.DeadLetteredAt = &t
		rec.NextAttemptAt = time.Time{}
		return true
	}
	rec.NextAttemptAt = now.Add(p.Backoff(rec.Attempts))
	return false
}
