package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/xelth-com/taskchat-sync/internal/models"
	"github.com/xelth-com/taskchat-sync/internal/sync"
)

// GormHistory writes one sync_history row per finished cycle
type GormHistory struct {
	db *gorm.DB
}

var _ sync.HistoryRecorder = (*GormHistory)(nil)

// NewGormHistory returns a history recorder over an already migrated database
func NewGormHistory(db *gorm.DB) *GormHistory {
	return &GormHistory{db: db}
}

// HistoryFromReport flattens a cycle report into a history row
func HistoryFromReport(r *sync.CycleReport) (models.SyncHistory, error) {
	detail, err := json.Marshal(r)
	if err != nil {
		return models.SyncHistory{}, fmt.Errorf("failed to encode report: %w", err)
	}
	h := models.SyncHistory{
		EntityType:     string(r.Scope.Entity),
		ScopeKey:       r.Scope.Key,
		StartedAt:      r.StartedAt,
		Duration:       int(r.Duration.Milliseconds()),
		Pushed:         r.Count(sync.OutcomeSucceeded),
		Failed:         r.Count(sync.OutcomeFailed),
		Rejected:       r.Count(sync.OutcomeRejected),
		DeadLettered:   r.Count(sync.OutcomeDeadLettered),
		Skipped:        r.Count(sync.OutcomeSkipped),
		Parked:         r.Count(sync.OutcomeParked),
		Inserted:       r.Pull.Inserted,
		Overwritten:    r.Pull.Overwritten,
		Removed:        r.Pull.Removed,
		Deferred:       r.Pull.Deferred,
		Errors:         r.Pull.Errors,
		CursorAdvanced: r.CursorAdvanced,
		ErrorDetail:    r.Error,
		Report:         datatypes.JSON(detail),
	}
	switch {
	case r.Offline:
		h.Status = models.HistoryStatusOffline
	case r.Succeeded():
		h.Status = models.HistoryStatusSuccess
	case r.Completed:
		h.Status = models.HistoryStatusPartial
	default:
		h.Status = models.HistoryStatusError
	}
	return h, nil
}

func (g *GormHistory) RecordCycle(ctx context.Context, report *sync.CycleReport) error {
	h, err := HistoryFromReport(report)
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Create(&h).Error
}

// Recent returns the newest history rows, optionally for one scope only
func (g *GormHistory) Recent(ctx context.Context, scope *sync.Scope, limit int) ([]models.SyncHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	q := g.db.WithContext(ctx).Order("started_at DESC, id DESC").Limit(limit)
	if scope != nil {
		q = q.Where("entity_type = ? AND scope_key = ?", string(scope.Entity), scope.Key)
	}
	var rows []models.SyncHistory
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
