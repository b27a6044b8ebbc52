package models

import (
	"time"

	"github.com/google/uuid"
)

// PollingRecord holds the scheduling state for a transaction under background polling.
// Once Active is false the row is never reactivated.
type PollingRecord struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID  uuid.UUID  `gorm:"column:transaction_id;type:uuid;not null;uniqueIndex:polling_records_transaction_id_key"`
	Active         bool       `gorm:"column:active;not null;default:true;index:polling_records_active_next_poll_at_idx,priority:1"`
	RetryCount     int        `gorm:"column:retry_count;not null;default:0"`
	MaxRetries     int        `gorm:"column:max_retries;not null"`
	PollIntervalMs int64      `gorm:"column:poll_interval_ms;not null"`
	NextPollAt     *time.Time `gorm:"column:next_poll_at;index:polling_records_active_next_poll_at_idx,priority:2"`
	LastPolledAt   *time.Time `gorm:"column:last_polled_at"`
	LastError      *string    `gorm:"column:last_error"`
	StoppedAt      *time.Time `gorm:"column:stopped_at"`
	StopReason     *string    `gorm:"column:stop_reason"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// PollInterval returns the configured interval as a duration.
func (p PollingRecord) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}
