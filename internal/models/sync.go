package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SyncRecord is the persisted form of one entity record of any type.
// Payloads are stored as JSON so every entity family shares the table.
type SyncRecord struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	EntityType     string         `gorm:"type:varchar(50);not null;uniqueIndex:idx_sync_record_local,priority:1;index:idx_sync_record_server,priority:1;index:idx_sync_record_status,priority:1" json:"entityType"`
	ScopeKey       string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_sync_record_local,priority:2;index:idx_sync_record_server,priority:2;index:idx_sync_record_status,priority:2" json:"scopeKey"`
	LocalID        string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_sync_record_local,priority:3" json:"localId"`
	ServerID       string         `gorm:"type:varchar(255);index:idx_sync_record_server,priority:3" json:"serverId,omitempty"`
	Status         string         `gorm:"type:varchar(20);not null;index:idx_sync_record_status,priority:3" json:"syncStatus"`
	LastModified   time.Time      `gorm:"not null;index" json:"lastModified"`
	IdempotencyKey string         `gorm:"type:varchar(64)" json:"idempotencyKey,omitempty"`
	Attempts       int            `gorm:"default:0" json:"attempts"`
	NextAttemptAt  *time.Time     `json:"nextAttemptAt,omitempty"`
	LastError      string         `gorm:"type:text" json:"lastError,omitempty"`
	DeadLetteredAt *time.Time     `gorm:"index" json:"deadLetteredAt,omitempty"`
	Payload        datatypes.JSON `json:"payload"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// TableName specifies the table name
func (SyncRecord) TableName() string {
	return "sync_records"
}

// BeforeSave keeps timestamps in UTC at the precision both drivers round-trip
func (r *SyncRecord) BeforeSave(tx *gorm.DB) error {
	r.LastModified = r.LastModified.UTC().Truncate(time.Microsecond)
	return nil
}

// SyncCursor is the pull watermark of one scope
type SyncCursor struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	EntityType        string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_sync_cursor_scope,priority:1" json:"entityType"`
	ScopeKey          string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_sync_cursor_scope,priority:2" json:"scopeKey"`
	LastPullTimestamp time.Time `gorm:"not null" json:"lastPullTimestamp"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (SyncCursor) TableName() string {
	return "sync_cursors"
}
