package models

import (
	"time"
)

// IngestQueue holds raw listing observations handed over by the scrape
// pipeline, waiting to be resolved into the canonical graph. Queueing keeps
// resolution off the intake request path and gives failed observations a
// retry schedule.
type IngestQueue struct {
	ID             int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	SourceSite     string `gorm:"type:varchar(50);not null;index:idx_queue_lookup" json:"source_site"`
	SitePropertyID string `gorm:"type:varchar(255);not null;index:idx_queue_lookup" json:"site_property_id"`
	URL            string `gorm:"type:text;not null" json:"url"`

	// 生の観測データ（JSON）
	Payload string `gorm:"type:text;not null" json:"payload"`

	Status      string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_status" json:"status"`
	Priority    int        `gorm:"default:0;index:idx_priority" json:"priority"`
	Attempts    int        `gorm:"default:0" json:"attempts"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	NextRetryAt *time.Time `gorm:"index:idx_retry" json:"next_retry_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName specifies the table name for GORM
func (IngestQueue) TableName() string {
	return "ingest_queue"
}

// Status constants
const (
	QueueStatusPending       = "pending"
	QueueStatusProcessing    = "processing"
	QueueStatusDone          = "done"
	QueueStatusFailed        = "failed"
	QueueStatusPermanentFail = "permanent_fail" // malformed payloads and other non-retryable failures
)

// MaxRetryAttempts before marking as permanently failed
const MaxRetryAttempts = 5

// GetNextRetryDelay calculates exponential backoff for retries
func GetNextRetryDelay(attempts int) time.Duration {
	// 1min, 5min, 15min, 1h, 4h
	delays := []time.Duration{
		1 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
		1 * time.Hour,
		4 * time.Hour,
	}

	if attempts >= len(delays) {
		return delays[len(delays)-1]
	}
	return delays[attempts]
}
