package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/paysync/pkg/enums"
)

// Metadata keys the reconciliation flow reads from Transaction.Metadata.
const (
	MetadataUpgradeType = "upgradeType"
	MetadataPlanType    = "planType"
	MetadataFamilyID    = "familyId"
	MetadataUserID      = "userId"
)

// Transaction is the local cache of one gateway payment attempt plus the business intent behind it.
type Transaction struct {
	ID                   uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	GatewayTransactionID *string                 `gorm:"column:gateway_transaction_id;uniqueIndex:transactions_gateway_transaction_id_key"`
	UserID               *uuid.UUID              `gorm:"column:user_id;type:uuid;index"`
	FamilyID             *uuid.UUID              `gorm:"column:family_id;type:uuid;index"`
	Kind                 enums.TransactionKind   `gorm:"column:kind;type:varchar(32);not null"`
	Status               enums.TransactionStatus `gorm:"column:status;type:varchar(32);not null;default:'pending'"`
	AmountCents          int64                   `gorm:"column:amount_cents;not null"`
	Currency             string                  `gorm:"column:currency;type:varchar(3);not null"`
	CustomerID           *string                 `gorm:"column:customer_id"`
	CustomerEmail        *string                 `gorm:"column:customer_email"`
	RedirectURL          *string                 `gorm:"column:redirect_url"`
	Metadata             datatypes.JSONMap       `gorm:"column:metadata"`
	LastError            *string                 `gorm:"column:last_error"`
	ExpiresAt            *time.Time              `gorm:"column:expires_at"`
	CompletedAt          *time.Time              `gorm:"column:completed_at"`
	CanceledAt           *time.Time              `gorm:"column:canceled_at"`
	CreatedAt            time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// MetadataString returns the string stored under key, or "" when absent or not a string.
func (t *Transaction) MetadataString(key string) string {
	if t == nil || t.Metadata == nil {
		return ""
	}
	value, ok := t.Metadata[key].(string)
	if !ok {
		return ""
	}
	return value
}
