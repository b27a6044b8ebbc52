package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/paysync/internal/gateway"
	"github.com/angelmondragon/paysync/internal/transactions"
	"github.com/angelmondragon/paysync/pkg/db/models"
	"github.com/angelmondragon/paysync/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysync/pkg/errors"
	"github.com/angelmondragon/paysync/pkg/logger"
	"github.com/angelmondragon/paysync/pkg/metrics"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultMaxRetries   = 5
	defaultInitialDelay = 10 * time.Second
	defaultCurrency     = "usd"
	defaultDescription  = "Payment"
)

// ErrTransactionNotFound is returned when a transaction id is unknown.
var ErrTransactionNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")

// pollingStore is the slice of the polling repository this service writes.
type pollingStore interface {
	Create(ctx context.Context, record *models.PollingRecord) error
	Deactivate(ctx context.Context, transactionID uuid.UUID, reason string, at time.Time, lastError *string) (bool, error)
}

// PlanUpgrader applies the plan change bought by a successful payment.
type PlanUpgrader interface {
	UpgradePlan(ctx context.Context, familyID uuid.UUID, plan enums.FamilyPlan, expiresAt time.Time) error
}

// Mailer sends the best-effort upgrade confirmation.
type Mailer interface {
	SendUpgradeConfirmation(ctx context.Context, confirmation UpgradeConfirmation) error
}

// PollingDefaults seed new polling records.
type PollingDefaults struct {
	Interval     time.Duration
	MaxRetries   int
	InitialDelay time.Duration
}

// ServiceParams configure the reconciliation service.
type ServiceParams struct {
	Logger          *logger.Logger
	Gateway         gateway.Client
	Transactions    transactions.Repository
	Polling         pollingStore
	Upgrader        PlanUpgrader
	Mailer          Mailer
	Metrics         *metrics.ReconciliationMetrics
	PollingDefaults PollingDefaults
	DefaultCurrency string
	Now             func() time.Time
}

// Service is the single writer of transaction status.
type Service struct {
	logg            *logger.Logger
	gateway         gateway.Client
	txns            transactions.Repository
	polling         pollingStore
	upgrader        PlanUpgrader
	mailer          Mailer
	metrics         *metrics.ReconciliationMetrics
	pollDefaults    PollingDefaults
	defaultCurrency string
	now             func() time.Time
	validate        *validator.Validate
}

// NewService builds a reconciliation service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Transactions == nil {
		return nil, fmt.Errorf("transaction repository required")
	}
	if params.Polling == nil {
		return nil, fmt.Errorf("polling repository required")
	}
	if params.Upgrader == nil {
		return nil, fmt.Errorf("plan upgrader required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	defaults := params.PollingDefaults
	if defaults.Interval <= 0 {
		defaults.Interval = defaultPollInterval
	}
	if defaults.MaxRetries <= 0 {
		defaults.MaxRetries = defaultMaxRetries
	}
	if defaults.InitialDelay <= 0 {
		defaults.InitialDelay = defaultInitialDelay
	}
	currency := strings.ToLower(strings.TrimSpace(params.DefaultCurrency))
	if currency == "" {
		currency = defaultCurrency
	}
	return &Service{
		logg:            params.Logger,
		gateway:         params.Gateway,
		txns:            params.Transactions,
		polling:         params.Polling,
		upgrader:        params.Upgrader,
		mailer:          params.Mailer,
		metrics:         params.Metrics,
		pollDefaults:    defaults,
		defaultCurrency: currency,
		now:             now,
		validate:        validator.New(),
	}, nil
}

// CreateTransaction persists a pending transaction, creates the remote gateway object and,
// for pollable kinds, starts polling.
func (s *Service) CreateTransaction(ctx context.Context, input CreateTransactionInput) (*CreateTransactionResult, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction request")
	}

	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	txn := &models.Transaction{
		ID:          uuid.New(),
		UserID:      input.UserID,
		FamilyID:    input.FamilyID,
		Kind:        input.Kind,
		Status:      enums.TransactionStatusPending,
		AmountCents: input.AmountCents,
		Currency:    currency,
		Metadata:    buildMetadata(input),
	}
	if input.CustomerID != "" {
		txn.CustomerID = &input.CustomerID
	}
	if input.CustomerEmail != "" {
		txn.CustomerEmail = &input.CustomerEmail
	}

	ctx = s.logg.WithTransactionID(ctx, txn.ID.String())
	if err := s.txns.Create(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist transaction")
	}

	gatewayMeta := stringMetadata(txn.Metadata)
	gatewayMeta["transactionId"] = txn.ID.String()

	result := &CreateTransactionResult{TransactionID: txn.ID, Status: txn.Status}
	ref := transactions.GatewayRef{}

	switch txn.Kind {
	case enums.TransactionKindCheckoutSession:
		sess, err := s.gateway.CreateCheckoutSession(ctx, gateway.CheckoutSessionInput{
			LineItems: []gateway.LineItem{{
				Name:            descriptionOrDefault(input.Description),
				UnitAmountCents: input.AmountCents,
				Quantity:        1,
			}},
			Currency:       currency,
			CustomerID:     input.CustomerID,
			CustomerEmail:  input.CustomerEmail,
			SuccessURL:     input.SuccessURL,
			CancelURL:      input.CancelURL,
			Metadata:       gatewayMeta,
			IdempotencyKey: txn.ID.String(),
		})
		if err != nil {
			return nil, s.failCreation(ctx, txn, err)
		}
		ref.GatewayTransactionID = sess.ID
		if sess.URL != "" {
			ref.RedirectURL = &sess.URL
		}
		if sess.CustomerID != "" {
			ref.CustomerID = &sess.CustomerID
		}
		ref.ExpiresAt = sess.ExpiresAt
		result.RedirectURL = sess.URL
		result.ExpiresAt = sess.ExpiresAt
	default:
		pi, err := s.gateway.CreatePaymentIntent(ctx, gateway.PaymentIntentInput{
			AmountCents:    input.AmountCents,
			Currency:       currency,
			CustomerID:     input.CustomerID,
			CustomerEmail:  input.CustomerEmail,
			Metadata:       gatewayMeta,
			IdempotencyKey: txn.ID.String(),
		})
		if err != nil {
			return nil, s.failCreation(ctx, txn, err)
		}
		ref.GatewayTransactionID = pi.ID
		if pi.CustomerID != "" {
			ref.CustomerID = &pi.CustomerID
		}
		result.ClientSecret = pi.ClientSecret
	}

	if err := s.txns.SetGatewayID(ctx, txn.ID, ref); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store gateway transaction id")
	}
	result.GatewayTransactionID = ref.GatewayTransactionID
	ctx = s.logg.WithGatewayID(ctx, ref.GatewayTransactionID)

	if txn.Kind.IsPollable() {
		next := s.now().Add(s.pollDefaults.InitialDelay)
		record := &models.PollingRecord{
			TransactionID:  txn.ID,
			MaxRetries:     s.pollDefaults.MaxRetries,
			PollIntervalMs: s.pollDefaults.Interval.Milliseconds(),
			NextPollAt:     &next,
		}
		if err := s.polling.Create(ctx, record); err != nil {
			// webhooks still converge the transaction without a polling record
			s.logg.Error(ctx, "failed to start polling", err)
		}
	}

	s.logg.Info(s.logg.WithField(ctx, "kind", string(txn.Kind)), "transaction created")
	return result, nil
}

// GetTransaction loads a transaction for direct queries.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, err := s.txns.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load transaction")
	}
	if txn == nil {
		return nil, ErrTransactionNotFound
	}
	return txn, nil
}

func (s *Service) failCreation(ctx context.Context, txn *models.Transaction, cause error) error {
	msg := cause.Error()
	if _, err := s.txns.TransitionStatus(ctx, txn.ID, enums.TransactionStatusPending, enums.TransactionStatusFailed, transactions.TransitionFields{
		At:        s.now(),
		LastError: &msg,
	}); err != nil {
		s.logg.Error(ctx, "failed to mark transaction failed after gateway error", err)
	}
	s.logg.Error(ctx, "gateway rejected transaction creation", cause)
	if pkgerrors.As(cause) != nil {
		return cause
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "create gateway payment")
}

func buildMetadata(input CreateTransactionInput) datatypes.JSONMap {
	meta := datatypes.JSONMap{}
	for key, value := range input.Metadata {
		meta[key] = value
	}
	if input.FamilyID != nil {
		meta[models.MetadataFamilyID] = input.FamilyID.String()
	}
	if input.UserID != nil {
		meta[models.MetadataUserID] = input.UserID.String()
	}
	return meta
}

func stringMetadata(meta datatypes.JSONMap) map[string]string {
	out := make(map[string]string, len(meta)+1)
	for key, value := range meta {
		if str, ok := value.(string); ok {
			out[key] = str
		}
	}
	return out
}

func descriptionOrDefault(description string) string {
	if trimmed := strings.TrimSpace(description); trimmed != "" {
		return trimmed
	}
	return defaultDescription
}
