package models

import "time"

// DeleteLog represents a record of physically deleted entities
type DeleteLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityKind string    `gorm:"type:varchar(20);not null;index" json:"entity_kind"` // "property" or "building"
	EntityID   string    `gorm:"type:varchar(36);not null;index" json:"entity_id"`
	Name       string    `gorm:"type:text" json:"name"`
	FlaggedAt  time.Time `gorm:"type:datetime" json:"flagged_at"`
	DeletedAt  time.Time `gorm:"type:datetime;not null;autoCreateTime;index" json:"deleted_at"`
	Reason     string    `gorm:"type:varchar(50);not null" json:"reason"`
}

// TableName specifies the table name
func (DeleteLog) TableName() string {
	return "delete_logs"
}

// DeleteReason constants
const (
	DeleteReasonEmptied   = "emptied"
	DeleteReasonExpired   = "expired_retention"
	DeleteReasonManual    = "manual_deletion"
	DeleteReasonDataClean = "data_cleanup"
)
