package reconciliation

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paysync/pkg/db/models"
	"github.com/angelmondragon/paysync/pkg/enums"
)

// CreateTransactionInput describes a new payment attempt.
type CreateTransactionInput struct {
	Kind          enums.TransactionKind `validate:"required,oneof=checkout_session payment_intent subscription"`
	AmountCents   int64                 `validate:"gt=0"`
	Currency      string                `validate:"omitempty,len=3,alpha"`
	Description   string                `validate:"max=250"`
	UserID        *uuid.UUID
	FamilyID      *uuid.UUID
	CustomerID    string `validate:"max=255"`
	CustomerEmail string `validate:"omitempty,email"`
	SuccessURL    string `validate:"omitempty,url"`
	CancelURL     string `validate:"omitempty,url"`
	Metadata      map[string]string
}

// CreateTransactionResult is what the caller needs to complete the payment client side.
type CreateTransactionResult struct {
	TransactionID        uuid.UUID
	GatewayTransactionID string
	Status               enums.TransactionStatus
	ClientSecret         string
	RedirectURL          string
	ExpiresAt            *time.Time
}

// Outcome reports what a reconcile call did.
type Outcome struct {
	Transaction     *models.Transaction
	Previous        enums.TransactionStatus
	Current         enums.TransactionStatus
	Changed         bool
	SideEffectFired bool
}

// ConfirmResult is the structured answer of a synchronous embedded confirmation.
type ConfirmResult struct {
	Success bool                    `json:"success"`
	Status  enums.TransactionStatus `json:"status"`
	Error   string                  `json:"error,omitempty"`
}

// UpgradeConfirmation is handed to the Mailer after a plan upgrade.
type UpgradeConfirmation struct {
	TransactionID uuid.UUID
	FamilyID      uuid.UUID
	Email         string
	Plan          enums.FamilyPlan
	PlanType      enums.PlanType
	ExpiresAt     time.Time
	AmountCents   int64
	Currency      string
}
