package models

import (
	"time"

	"gorm.io/datatypes"
)

// Sync history statuses
const (
	HistoryStatusSuccess = "success"
	HistoryStatusPartial = "partial"
	HistoryStatusError   = "error"
	HistoryStatusOffline = "offline"
)

// SyncHistory records each finished sync cycle
type SyncHistory struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityType     string         `gorm:"column:entity_type;type:varchar(50);not null;index:idx_sync_history_scope,priority:1" json:"entityType"`
	ScopeKey       string         `gorm:"column:scope_key;type:varchar(255);not null;index:idx_sync_history_scope,priority:2" json:"scopeKey"`
	Status         string         `gorm:"column:status;not null;index" json:"status"` // "success", "partial", "error", "offline"
	StartedAt      time.Time      `gorm:"column:started_at;not null;index" json:"startedAt"`
	Duration       int            `gorm:"column:duration;default:0" json:"duration"` // milliseconds
	Pushed         int            `gorm:"column:pushed;default:0" json:"pushed"`
	Failed         int            `gorm:"column:failed;default:0" json:"failed"`
	Rejected       int            `gorm:"column:rejected;default:0" json:"rejected"`
	DeadLettered   int            `gorm:"column:dead_lettered;default:0" json:"deadLettered"`
	Skipped        int            `gorm:"column:skipped;default:0" json:"skipped"`
	Parked         int            `gorm:"column:parked;default:0" json:"parked"`
	Inserted       int            `gorm:"column:inserted;default:0" json:"inserted"`
	Overwritten    int            `gorm:"column:overwritten;default:0" json:"overwritten"`
	Removed        int            `gorm:"column:removed;default:0" json:"removed"`
	Deferred       int            `gorm:"column:deferred;default:0" json:"deferred"`
	Errors         int            `gorm:"column:errors;default:0" json:"errors"`
	CursorAdvanced bool           `gorm:"column:cursor_advanced;default:false" json:"cursorAdvanced"`
	ErrorDetail    string         `gorm:"column:error_detail;type:text" json:"errorDetail,omitempty"`
	Report         datatypes.JSON `gorm:"column:report" json:"report"` // full cycle report
	CreatedAt      time.Time      `gorm:"column:created_at" json:"-"`
}

// TableName specifies the table name
func (SyncHistory) TableName() string {
	return "sync_history"
}
