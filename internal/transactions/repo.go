package transactions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paysync/pkg/db/models"
	"github.com/angelmondragon/paysync/pkg/enums"
)

// Repository persists transactions. Status changes only go through TransitionStatus.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByGatewayID(ctx context.Context, gatewayTransactionID string) (*models.Transaction, error)
	SetGatewayID(ctx context.Context, id uuid.UUID, ref GatewayRef) error
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, fields TransitionFields) (bool, error)
}

// GatewayRef carries what the gateway returned when the remote object was created.
type GatewayRef struct {
	GatewayTransactionID string
	RedirectURL          *string
	CustomerID           *string
	ExpiresAt            *time.Time
}

// TransitionFields are written alongside a status change.
type TransitionFields struct {
	At        time.Time
	LastError *string
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transaction repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	if txn == nil {
		return errors.New("transaction is required")
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if txn.Status == "" {
		txn.Status = enums.TransactionStatusPending
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

// FindByID returns nil, nil when the transaction does not exist.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// FindByGatewayID returns nil, nil when no transaction carries the gateway id.
func (r *repository) FindByGatewayID(ctx context.Context, gatewayTransactionID string) (*models.Transaction, error) {
	if gatewayTransactionID == "" {
		return nil, nil
	}
	var txn models.Transaction
	if err := r.db.WithContext(ctx).
		Where("gateway_transaction_id = ?", gatewayTransactionID).
		First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (r *repository) SetGatewayID(ctx context.Context, id uuid.UUID, ref GatewayRef) error {
	if ref.GatewayTransactionID == "" {
		return errors.New("gateway transaction id is required")
	}
	updates := map[string]any{
		"gateway_transaction_id": ref.GatewayTransactionID,
		"updated_at":             time.Now().UTC(),
	}
	if ref.RedirectURL != nil {
		updates["redirect_url"] = *ref.RedirectURL
	}
	if ref.CustomerID != nil {
		updates["customer_id"] = *ref.CustomerID
	}
	if ref.ExpiresAt != nil {
		updates["expires_at"] = ref.ExpiresAt.UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TransitionStatus moves the row from one status to another in a single conditional
// update. Only the caller whose update matched the expected status gets true.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, fields TransitionFields) (bool, error) {
	at := fields.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	updates := map[string]any{
		"status":     to,
		"updated_at": at,
	}
	switch to {
	case enums.TransactionStatusSucceeded:
		updates["completed_at"] = at
	case enums.TransactionStatusCanceled, enums.TransactionStatusExpired:
		updates["canceled_at"] = at
	}
	if fields.LastError != nil {
		updates["last_error"] = *fields.LastError
	}

	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
