package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xelth-com/taskchat-sync/internal/models"
	"github.com/xelth-com/taskchat-sync/internal/sync"
)

// GormStore keeps the records of one payload type in the sync_records table
type GormStore[P any] struct {
	db *gorm.DB
}

var _ sync.LocalStore[struct{}] = (*GormStore[struct{}])(nil)

// NewGormStore returns a store over an already migrated database
func NewGormStore[P any](db *gorm.DB) *GormStore[P] {
	return &GormStore[P]{db: db}
}

func (s *GormStore[P]) scoped(ctx context.Context, scope sync.Scope) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.SyncRecord{}).
		Where("entity_type = ? AND scope_key = ?", string(scope.Entity), scope.Key)
}

func (s *GormStore[P]) QueryPending(ctx context.Context, scope sync.Scope, status sync.Status) ([]sync.Record[P], error) {
	var rows []models.SyncRecord
	err := s.scoped(ctx, scope).
		Where("status = ?", status.String()).
		Order("last_modified ASC, local_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query %s records: %w", status, err)
	}
	return fromRows[P](rows)
}

func (s *GormStore[P]) Get(ctx context.Context, scope sync.Scope, localID string) (*sync.Record[P], error) {
	var row models.SyncRecord
	err := s.scoped(ctx, scope).Where("local_id = ?", localID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, sync.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec, err := fromRow[P](row)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore[P]) GetByServerID(ctx context.Context, scope sync.Scope, serverID string) (*sync.Record[P], error) {
	if serverID == "" {
		return nil, nil
	}
	var rows []models.SyncRecord
	err := s.scoped(ctx, scope).Where("server_id = ?", serverID).Limit(1).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	rec, err := fromRow[P](rows[0])
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore[P]) Upsert(ctx context.Context, rec sync.Record[P]) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_type"}, {Name: "scope_key"}, {Name: "local_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"server_id", "status", "last_modified", "idempotency_key", "attempts",
			"next_attempt_at", "last_error", "dead_lettered_at", "payload", "updated_at",
		}),
	}).Create(&row).Error
}

func (s *GormStore[P]) Remove(ctx context.Context, scope sync.Scope, localID string) error {
	return s.db.WithContext(ctx).
		Where("entity_type = ? AND scope_key = ? AND local_id = ?", string(scope.Entity), scope.Key, localID).
		Delete(&models.SyncRecord{}).Error
}

func (s *GormStore[P]) List(ctx context.Context, scope sync.Scope) ([]sync.Record[P], error) {
	var rows []models.SyncRecord
	if err := s.scoped(ctx, scope).Order("last_modified ASC, local_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromRows[P](rows)
}

func toRow[P any](rec sync.Record[P]) (models.SyncRecord, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return models.SyncRecord{}, fmt.Errorf("failed to encode payload of %s: %w", rec.LocalID, err)
	}
	row := models.SyncRecord{
		EntityType:     string(rec.Scope.Entity),
		ScopeKey:       rec.Scope.Key,
		LocalID:        rec.LocalID,
		ServerID:       rec.ServerID,
		Status:         rec.Status.String(),
		LastModified:   rec.LastModified,
		IdempotencyKey: rec.IdempotencyKey,
		Attempts:       rec.Attempts,
		LastError:      rec.LastError,
		DeadLetteredAt: rec.DeadLetteredAt,
		Payload:        datatypes.JSON(payload),
	}
	if !rec.NextAttemptAt.IsZero() {
		t := rec.NextAttemptAt
		row.NextAttemptAt = &t
	}
	return row, nil
}

func fromRow[P any](row models.SyncRecord) (sync.Record[P], error) {
	status, err := sync.ParseStatus(row.Status)
	if err != nil {
		return sync.Record[P]{}, fmt.Errorf("record %s: %w", row.LocalID, err)
	}
	rec := sync.Record[P]{
		Scope:          sync.NewScope(sync.EntityType(row.EntityType), row.ScopeKey),
		LocalID:        row.LocalID,
		ServerID:       row.ServerID,
		Status:         status,
		LastModified:   row.LastModified.UTC(),
		IdempotencyKey: row.IdempotencyKey,
		Attempts:       row.Attempts,
		LastError:      row.LastError,
	}
	if row.NextAttemptAt != nil {
		rec.NextAttemptAt = row.NextAttemptAt.UTC()
	}
	if row.DeadLetteredAt != nil {
		t := row.DeadLetteredAt.UTC()
		rec.DeadLetteredAt = &t
	}
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &rec.Payload); err != nil {
			return sync.Record[P]{}, fmt.Errorf("failed to decode payload of %s: %w", row.LocalID, err)
		}
	}
	return rec, nil
}

func fromRows[P any](rows []models.SyncRecord) ([]sync.Record[P], error) {
	out := make([]sync.Record[P], 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow[P](row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GormCursorStore keeps pull cursors in the sync_cursors table
type GormCursorStore struct {
	db *gorm.DB
}

var _ sync.CursorStore = (*GormCursorStore)(nil)

// NewGormCursorStore returns a cursor store over an already migrated database
func NewGormCursorStore(db *gorm.DB) *GormCursorStore {
	return &GormCursorStore{db: db}
}

func (s *GormCursorStore) LoadCursor(ctx context.Context, scope sync.Scope) (sync.Cursor, error) {
	var rows []models.SyncCursor
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND scope_key = ?", string(scope.Entity), scope.Key).
		Limit(1).Find(&rows).Error
	if err != nil {
		return sync.Cursor{}, fmt.Errorf("failed to load cursor of %s: %w", scope, err)
	}
	if len(rows) == 0 {
		return sync.Cursor{}, nil
	}
	return sync.Cursor{LastPullTimestamp: rows[0].LastPullTimestamp.UTC()}, nil
}

func (s *GormCursorStore) SaveCursor(ctx context.Context, scope sync.Scope, cursor sync.Cursor) error {
	row := models.SyncCursor{
		EntityType:        string(scope.Entity),
		ScopeKey:          scope.Key,
		LastPullTimestamp: cursor.LastPullTimestamp.UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_type"}, {Name: "scope_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_pull_timestamp", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save cursor of %s: %w", scope, err)
	}
	return nil
}
