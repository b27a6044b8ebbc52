package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paysync/api/responses"
	"github.com/angelmondragon/paysync/api/validators"
	"github.com/angelmondragon/paysync/internal/reconciliation"
	"github.com/angelmondragon/paysync/pkg/db/models"
	"github.com/angelmondragon/paysync/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysync/pkg/errors"
	"github.com/angelmondragon/paysync/pkg/logger"
)

// TransactionService is the reconciliation surface exposed over HTTP.
type TransactionService interface {
	CreateTransaction(ctx context.Context, input reconciliation.CreateTransactionInput) (*reconciliation.CreateTransactionResult, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ConfirmEmbeddedPayment(ctx context.Context, transactionID uuid.UUID, paymentMethodID string) reconciliation.ConfirmResult
}

type createTransactionRequest struct {
	Kind          string            `json:"kind" validate:"required,oneof=checkout_session payment_intent subscription"`
	AmountCents   int64             `json:"amountCents" validate:"gt=0"`
	Currency      string            `json:"currency" validate:"omitempty,len=3"`
	Description   string            `json:"description" validate:"max=250"`
	UserID        *uuid.UUID        `json:"userId"`
	FamilyID      *uuid.UUID        `json:"familyId"`
	CustomerID    string            `json:"customerId" validate:"max=255"`
	CustomerEmail string            `json:"customerEmail" validate:"omitempty,email"`
	SuccessURL    string            `json:"successUrl" validate:"omitempty,url"`
	CancelURL     string            `json:"cancelUrl" validate:"omitempty,url"`
	Metadata      map[string]string `json:"metadata"`
}

type createTransactionResponse struct {
	TransactionID        uuid.UUID               `json:"transactionId"`
	GatewayTransactionID string                  `json:"gatewayTransactionId,omitempty"`
	Status               enums.TransactionStatus `json:"status"`
	ClientSecret         string                  `json:"clientSecret,omitempty"`
	RedirectURL          string                  `json:"redirectUrl,omitempty"`
	ExpiresAt            *time.Time              `json:"expiresAt,omitempty"`
}

type confirmTransactionRequest struct {
	PaymentMethodID string `json:"paymentMethodId" validate:"max=255"`
}

type transactionView struct {
	ID                   uuid.UUID               `json:"id"`
	GatewayTransactionID *string                 `json:"gatewayTransactionId,omitempty"`
	Kind                 enums.TransactionKind   `json:"kind"`
	Status               enums.TransactionStatus `json:"status"`
	AmountCents          int64                   `json:"amountCents"`
	Amount               string                  `json:"amount"`
	Currency             string                  `json:"currency"`
	UserID               *uuid.UUID              `json:"userId,omitempty"`
	FamilyID             *uuid.UUID              `json:"familyId,omitempty"`
	CustomerEmail        *string                 `json:"customerEmail,omitempty"`
	RedirectURL          *string                 `json:"redirectUrl,omitempty"`
	LastError            *string                 `json:"lastError,omitempty"`
	Metadata             map[string]any          `json:"metadata,omitempty"`
	ExpiresAt            *time.Time              `json:"expiresAt,omitempty"`
	CompletedAt          *time.Time              `json:"completedAt,omitempty"`
	CanceledAt           *time.Time              `json:"canceledAt,omitempty"`
	CreatedAt            time.Time               `json:"createdAt"`
	UpdatedAt            time.Time               `json:"updatedAt"`
}

// CreateTransaction starts a payment attempt and returns what the client needs to finish it.
func CreateTransaction(svc TransactionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transaction service unavailable"))
			return
		}

		var req createTransactionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.CreateTransaction(ctx, reconciliation.CreateTransactionInput{
			Kind:          enums.TransactionKind(req.Kind),
			AmountCents:   req.AmountCents,
			Currency:      strings.TrimSpace(req.Currency),
			Description:   strings.TrimSpace(req.Description),
			UserID:        req.UserID,
			FamilyID:      req.FamilyID,
			CustomerID:    strings.TrimSpace(req.CustomerID),
			CustomerEmail: strings.TrimSpace(req.CustomerEmail),
			SuccessURL:    req.SuccessURL,
			CancelURL:     req.CancelURL,
			Metadata:      req.Metadata,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, createTransactionResponse{
			TransactionID:        result.TransactionID,
			GatewayTransactionID: result.GatewayTransactionID,
			Status:               result.Status,
			ClientSecret:         result.ClientSecret,
			RedirectURL:          result.RedirectURL,
			ExpiresAt:            result.ExpiresAt,
		})
	}
}

// GetTransaction returns the locally cached view of a transaction.
func GetTransaction(svc TransactionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transaction service unavailable"))
			return
		}

		id, err := validators.UUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		txn, err := svc.GetTransaction(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionView(txn))
	}
}

// ConfirmTransaction confirms an embedded payment. Payment failures are part of the
// 200 response body; only malformed requests are rejected.
func ConfirmTransaction(svc TransactionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transaction service unavailable"))
			return
		}

		id, err := validators.UUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req confirmTransactionRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		responses.WriteSuccess(w, svc.ConfirmEmbeddedPayment(ctx, id, req.PaymentMethodID))
	}
}

func newTransactionView(txn *models.Transaction) transactionView {
	view := transactionView{
		ID:                   txn.ID,
		GatewayTransactionID: txn.GatewayTransactionID,
		Kind:                 txn.Kind,
		Status:               txn.Status,
		AmountCents:          txn.AmountCents,
		Amount:               decimal.New(txn.AmountCents, -2).StringFixed(2),
		Currency:             txn.Currency,
		UserID:               txn.UserID,
		FamilyID:             txn.FamilyID,
		CustomerEmail:        txn.CustomerEmail,
		RedirectURL:          txn.RedirectURL,
		LastError:            txn.LastError,
		ExpiresAt:            txn.ExpiresAt,
		CompletedAt:          txn.CompletedAt,
		CanceledAt:           txn.CanceledAt,
		CreatedAt:            txn.CreatedAt,
		UpdatedAt:            txn.UpdatedAt,
	}
	if len(txn.Metadata) > 0 {
		view.Metadata = map[string]any(txn.Metadata)
	}
	return view
}
