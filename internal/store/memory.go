package store

import (
	"context"
	"sort"
	gosync "sync"

	"github.com/xelth-com/taskchat-sync/internal/sync"
)

type recordKey struct {
	scope   sync.Scope
	localID string
}

// MemoryStore is a goroutine-safe in-memory LocalStore and CursorStore.
// It counts write events so callers can assert that an operation wrote nothing.
type MemoryStore[P any] struct {
	mu      gosync.RWMutex
	records map[recordKey]sync.Record[P]
	cursors map[sync.Scope]sync.Cursor
	writes  int

	// FailUpsert, when set, is consulted before every Upsert
	FailUpsert func(rec sync.Record[P]) error
}

var (
	_ sync.LocalStore[struct{}] = (*MemoryStore[struct{}])(nil)
	_ sync.CursorStore          = (*MemoryStore[struct{}])(nil)
)

// NewMemoryStore returns an empty store
func NewMemoryStore[P any]() *MemoryStore[P] {
	return &MemoryStore[P]{
		records: make(map[recordKey]sync.Record[P]),
		cursors: make(map[sync.Scope]sync.Cursor),
	}
}

// Writes returns the number of Upsert, Remove and SaveCursor calls that
// changed state
func (m *MemoryStore[P]) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryStore[P]) QueryPending(ctx context.Context, scope sync.Scope, status sync.Status) ([]sync.Record[P], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []sync.Record[P]
	for k, rec := range m.records {
		if k.scope == scope && rec.Status == status {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryStore[P]) Get(ctx context.Context, scope sync.Scope, localID string) (*sync.Record[P], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[recordKey{scope, localID}]
	if !ok {
		return nil, sync.ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore[P]) GetByServerID(ctx context.Context, scope sync.Scope, serverID string) (*sync.Record[P], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if serverID == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for k, rec := range m.records {
		if k.scope == scope && rec.ServerID == serverID {
			return &rec, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore[P]) Upsert(ctx context.Context, rec sync.Record[P]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailUpsert != nil {
		if err := m.FailUpsert(rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordKey{rec.Scope, rec.LocalID}] = rec
	m.writes++
	return nil
}

func (m *MemoryStore[P]) Remove(ctx context.Context, scope sync.Scope, localID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recordKey{scope, localID}
	if _, ok := m.records[k]; ok {
		delete(m.records, k)
		m.writes++
	}
	return nil
}

func (m *MemoryStore[P]) List(ctx context.Context, scope sync.Scope) ([]sync.Record[P], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []sync.Record[P]
	for k, rec := range m.records {
		if k.scope == scope {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryStore[P]) LoadCursor(ctx context.Context, scope sync.Scope) (sync.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return sync.Cursor{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursors[scope], nil
}

func (m *MemoryStore[P]) SaveCursor(ctx context.Context, scope sync.Scope, cursor sync.Cursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[scope] = cursor
	m.writes++
	return nil
}

func sortRecords[P any](recs []sync.Record[P]) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].LastModified.Equal(recs[j].LastModified) {
			return recs[i].LastModified.Before(recs[j].LastModified)
		}
		return recs[i].LocalID < recs[j].LocalID
	})
}
