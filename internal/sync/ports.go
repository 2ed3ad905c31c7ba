package sync

import (
	"context"
)

// LocalStore is the persistent record store the engine reads and writes.
// Each method must be crash-consistent for the single record it touches.
type LocalStore[P any] interface {
	// QueryPending returns the records of scope with the given status,
	// ordered by LastModified ascending.
	QueryPending(ctx context.Context, scope Scope, status Status) ([]Record[P], error)
	// Get returns ErrNotFound when no record has localID
	Get(ctx context.Context, scope Scope, localID string) (*Record[P], error)
	// GetByServerID returns nil, nil when no record carries serverID
	GetByServerID(ctx context.Context, scope Scope, serverID string) (*Record[P], error)
	Upsert(ctx context.Context, rec Record[P]) error
	// Remove is a no-op for unknown ids
	Remove(ctx context.Context, scope Scope, localID string) error
	List(ctx context.Context, scope Scope) ([]Record[P], error)
}

// CursorStore persists one pull watermark per scope
type CursorStore interface {
	// LoadCursor returns the zero Cursor when the scope was never pulled
	LoadCursor(ctx context.Context, scope Scope) (Cursor, error)
	SaveCursor(ctx context.Context, scope Scope, cursor Cursor) error
}

// RemoteClient is the transport to the authoritative store. Every call must be
// safe to retry. Permanent refusals are reported as *RejectionError.
type RemoteClient[P any] interface {
	Create(ctx context.Context, scope Scope, idempotencyKey string, payload P) (serverID string, err error)
	Update(ctx context.Context, scope Scope, serverID string, payload P) error
	Delete(ctx context.Context, scope Scope, serverID string) error
	// ListSince returns every entity with LastModified >= since
	ListSince(ctx context.Context, scope Scope, since Cursor) (Page[P], error)
}

// Connectivity reports whether the remote store is reachable right now
type Connectivity interface {
	IsAvailable() bool
}

// ConnectivityFunc adapts a plain function to Connectivity
type ConnectivityFunc func() bool

func (f ConnectivityFunc) IsAvailable() bool { return f() }

// AlwaysOnline is the Connectivity used when none is configured
var AlwaysOnline Connectivity = ConnectivityFunc(func() bool { return true })

// Entity is the per-type capability the generic engine is instantiated with
type Entity[P any] interface {
	Type() EntityType
	// PendingPayload returns what is sent to the remote store for rec
	PendingPayload(rec Record[P]) P
	// ApplyRemote merges a newer remote version into the local one and returns
	// the payload to store. local is the zero Record when no local match exists.
	ApplyRemote(local Record[P], remote RemoteEntity[P]) P
}

// Passthrough is the Entity for payloads without local-only state
type Passthrough[P any] struct {
	Kind EntityType
}

func (p Passthrough[P]) Type() EntityType { return p.Kind }

func (p Passthrough[P]) PendingPayload(rec Record[P]) P { return rec.Payload }

func (p Passthrough[P]) ApplyRemote(_ Record[P], remote RemoteEntity[P]) P { return remote.Payload }
