package sync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Repository is the local mutation API of one entity type. Every mutation is
// written to the local store first and then schedules a background cycle.
type Repository[P any] struct {
	c        *Coordinator[P]
	autoSync bool
}

// NewRepository returns the repository backed by c's store and trigger
func NewRepository[P any](c *Coordinator[P]) *Repository[P] {
	return &Repository[P]{c: c, autoSync: true}
}

// NewLocalRepository returns a repository that writes to c's store but never
// schedules a cycle. Its pending records wait until sync is enabled.
func NewLocalRepository[P any](c *Coordinator[P]) *Repository[P] {
	return &Repository[P]{c: c}
}

// Coordinator returns the coordinator the repository triggers
func (r *Repository[P]) Coordinator() *Coordinator[P] {
	return r.c
}

// trigger schedules a cycle when the remote store is reachable. The returned
// task is nil while offline; the periodic timer or a reconnect picks the
// change up later.
func (r *Repository[P]) trigger(scope Scope) *Task {
	if !r.autoSync || !r.c.opts.Connectivity.IsAvailable() {
		return nil
	}
	return r.c.Trigger(scope)
}

// Create stores a new PendingCreate record
func (r *Repository[P]) Create(ctx context.Context, scope Scope, payload P) (Record[P], *Task, error) {
	id := r.c.opts.NewID()
	rec := Record[P]{
		Scope:          scope,
		LocalID:        id,
		Status:         StatusPendingCreate,
		LastModified:   nextModified(time.Time{}, r.c.opts.Clock.Now()),
		IdempotencyKey: r.c.opts.NewID(),
		Payload:        payload,
	}

	unlock := r.c.locks.lock(scope)
	err := r.c.store.Upsert(ctx, rec)
	unlock()
	if err != nil {
		return Record[P]{}, nil, fmt.Errorf("failed to create %s record: %w", scope.Entity, err)
	}
	return rec, r.trigger(scope), nil
}

// Update replaces the payload. Edits coalesce: a PendingCreate record stays
// PendingCreate and a Synced one becomes PendingUpdate.
func (r *Repository[P]) Update(ctx context.Context, scope Scope, localID string, payload P) (Record[P], *Task, error) {
	unlock := r.c.locks.lock(scope)
	rec, err := r.c.store.Get(ctx, scope, localID)
	if err != nil {
		unlock()
		return Record[P]{}, nil, err
	}

	switch rec.Status {
	case StatusPendingDelete:
		unlock()
		return Record[P]{}, nil, ErrDeleted
	case StatusSynced:
		rec.Status = StatusPendingUpdate
	case StatusPendingCreate, StatusPendingUpdate:
	}
	rec.Payload = payload
	rec.LastModified = nextModified(rec.LastModified, r.c.opts.Clock.Now())
	rec.clearRetry()

	err = r.c.store.Upsert(ctx, *rec)
	unlock()
	if err != nil {
		return Record[P]{}, nil, fmt.Errorf("failed to update %s: %w", localID, err)
	}
	return *rec, r.trigger(scope), nil
}

// Delete removes a never-pushed record immediately and turns any other into
// a PendingDelete tombstone. The returned task is nil when nothing needs to
// reach the remote store.
func (r *Repository[P]) Delete(ctx context.Context, scope Scope, localID string) (*Task, error) {
	unlock := r.c.locks.lock(scope)
	rec, err := r.c.store.Get(ctx, scope, localID)
	if err != nil {
		unlock()
		return nil, err
	}

	if rec.Status == StatusPendingDelete {
		unlock()
		return nil, ErrDeleted
	}

	if !rec.HasServerID() {
		err = r.c.store.Remove(ctx, scope, localID)
		unlock()
		if err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", localID, err)
		}
		return nil, nil
	}

	rec.Status = StatusPendingDelete
	rec.LastModified = nextModified(rec.LastModified, r.c.opts.Clock.Now())
	rec.clearRetry()
	err = r.c.store.Upsert(ctx, *rec)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", localID, err)
	}
	return r.trigger(scope), nil
}

// Get returns a record, including tombstones
func (r *Repository[P]) Get(ctx context.Context, scope Scope, localID string) (Record[P], error) {
	rec, err := r.c.store.Get(ctx, scope, localID)
	if err != nil {
		return Record[P]{}, err
	}
	return *rec, nil
}

// List returns the visible records of scope; tombstones are hidden
func (r *Repository[P]) List(ctx context.Context, scope Scope) ([]Record[P], error) {
	all, err := r.c.store.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, rec := range all {
		if rec.Status != StatusPendingDelete {
			out = append(out, rec)
		}
	}
	return out, nil
}

// IsNotFound reports whether err means the record does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
