package polling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paysync/pkg/db/models"
)

// Repository persists polling records. Deactivation is one-way: no method flips
// an inactive row back to active.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.PollingRecord) error
	FindByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.PollingRecord, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.PollingRecord, error)
	MarkSuccess(ctx context.Context, id uuid.UUID, polledAt, nextPollAt time.Time) error
	MarkFailure(ctx context.Context, id uuid.UUID, retryCount int, polledAt, nextPollAt time.Time, lastError string) error
	Deactivate(ctx context.Context, transactionID uuid.UUID, reason string, at time.Time, lastError *string) (bool, error)
	CountActive(ctx context.Context) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a polling repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.PollingRecord) error {
	if record == nil {
		return errors.New("polling record is required")
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Active = true
	return r.db.WithContext(ctx).Create(record).Error
}

// FindByTransactionID returns nil, nil when the transaction has no polling record.
func (r *repository) FindByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.PollingRecord, error) {
	var record models.PollingRecord
	if err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListDue selects active records whose next poll is due or that were never scheduled.
func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.PollingRecord, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	var records []models.PollingRecord
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("(next_poll_at IS NULL OR next_poll_at <= ?)", now.UTC()).
		Order("next_poll_at ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// MarkSuccess resets the retry streak and schedules the next regular poll.
func (r *repository) MarkSuccess(ctx context.Context, id uuid.UUID, polledAt, nextPollAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PollingRecord{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]any{
			"retry_count":    0,
			"last_error":     gorm.Expr("NULL"),
			"last_polled_at": polledAt.UTC(),
			"next_poll_at":   nextPollAt.UTC(),
			"updated_at":     polledAt.UTC(),
		}).Error
}

// MarkFailure stores the new retry count and error, and schedules the backoff retry.
func (r *repository) MarkFailure(ctx context.Context, id uuid.UUID, retryCount int, polledAt, nextPollAt time.Time, lastError string) error {
	return r.db.WithContext(ctx).
		Model(&models.PollingRecord{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]any{
			"retry_count":    retryCount,
			"last_error":     lastError,
			"last_polled_at": polledAt.UTC(),
			"next_poll_at":   nextPollAt.UTC(),
			"updated_at":     polledAt.UTC(),
		}).Error
}

// Deactivate stops polling for the transaction. It reports whether this call flipped the row.
func (r *repository) Deactivate(ctx context.Context, transactionID uuid.UUID, reason string, at time.Time, lastError *string) (bool, error) {
	updates := map[string]any{
		"active":      false,
		"stop_reason": reason,
		"stopped_at":  at.UTC(),
		"updated_at":  at.UTC(),
	}
	if lastError != nil {
		updates["last_error"] = *lastError
	}
	res := r.db.WithContext(ctx).
		Model(&models.PollingRecord{}).
		Where("transaction_id = ? AND active = ?", transactionID, true).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.PollingRecord{}).
		Where("active = ?", true).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
