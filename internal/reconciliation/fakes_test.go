package reconciliation

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/paysync/internal/gateway"
	"github.com/angelmondragon/paysync/internal/transactions"
	"github.com/angelmondragon/paysync/pkg/db/models"
	"github.com/angelmondragon/paysync/pkg/enums"
	"github.com/angelmondragon/paysync/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "reconciliation-test", Output: io.Discard})
}

type memoryTransactions struct {
	mu          sync.Mutex
	rows        map[uuid.UUID]models.Transaction
	transitions int
	// beforeTransition runs without the lock held, letting tests interleave writers.
	beforeTransition func()
}

func newMemoryTransactions() *memoryTransactions {
	return &memoryTransactions{rows: map[uuid.UUID]models.Transaction{}}
}

func (m *memoryTransactions) WithTx(*gorm.DB) transactions.Repository { return m }

func (m *memoryTransactions) Create(_ context.Context, txn *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}
	m.rows[txn.ID] = *txn
	return nil
}

func (m *memoryTransactions) FindByID(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *memoryTransactions) FindByGatewayID(_ context.Context, gatewayID string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.GatewayTransactionID != nil && *row.GatewayTransactionID == gatewayID {
			found := row
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memoryTransactions) SetGatewayID(_ context.Context, id uuid.UUID, ref transactions.GatewayRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	gid := ref.GatewayTransactionID
	row.GatewayTransactionID = &gid
	row.RedirectURL = ref.RedirectURL
	row.ExpiresAt = ref.ExpiresAt
	m.rows[id] = row
	return nil
}

func (m *memoryTransactions) TransitionStatus(_ context.Context, id uuid.UUID, from, to enums.TransactionStatus, fields transactions.TransitionFields) (bool, error) {
	if m.beforeTransition != nil {
		m.beforeTransition()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != from {
		return false, nil
	}
	at := fields.At
	row.Status = to
	switch to {
	case enums.TransactionStatusSucceeded:
		row.CompletedAt = &at
	case enums.TransactionStatusCanceled, enums.TransactionStatusExpired:
		row.CanceledAt = &at
	}
	if fields.LastError != nil {
		msg := *fields.LastError
		row.LastError = &msg
	}
	m.rows[id] = row
	m.transitions++
	return true, nil
}

func (m *memoryTransactions) get(id uuid.UUID) models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

func (m *memoryTransactions) seed(txn models.Transaction) uuid.UUID {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	m.mu.Lock()
	m.rows[txn.ID] = txn
	m.mu.Unlock()
	return txn.ID
}

type deactivation struct {
	transactionID uuid.UUID
	reason        string
}

type memoryPolling struct {
	mu            sync.Mutex
	records       map[uuid.UUID]models.PollingRecord
	deactivations []deactivation
	createErr     error
}

func newMemoryPolling() *memoryPolling {
	return &memoryPolling{records: map[uuid.UUID]models.PollingRecord{}}
}

func (m *memoryPolling) Create(_ context.Context, record *models.PollingRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record.Active = true
	m.records[record.TransactionID] = *record
	return nil
}

func (m *memoryPolling) Deactivate(_ context.Context, transactionID uuid.UUID, reason string, at time.Time, _ *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[transactionID]
	if ok && !record.Active {
		return false, nil
	}
	record.Active = false
	record.StopReason = &reason
	record.StoppedAt = &at
	m.records[transactionID] = record
	m.deactivations = append(m.deactivations, deactivation{transactionID: transactionID, reason: reason})
	return true, nil
}

type fakeGateway struct {
	mu             sync.Mutex
	checkoutStatus string
	intentStatus   string
	intentError    string
	getErr         error
	createErr      error
	confirmErr     error
	getCalls       int
	confirmCalls   int
	lastCheckout   gateway.CheckoutSessionInput
	lastIntent     gateway.PaymentIntentInput
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, input gateway.CheckoutSessionInput) (*gateway.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCheckout = input
	if f.createErr != nil {
		return nil, f.createErr
	}
	expires := time.Now().Add(24 * time.Hour)
	return &gateway.CheckoutSession{
		ID:          "cs_" + input.IdempotencyKey,
		URL:         "https://checkout.example/" + input.IdempotencyKey,
		Status:      "open",
		AmountTotal: input.LineItems[0].UnitAmountCents,
		Currency:    input.Currency,
		ExpiresAt:   &expires,
	}, nil
}

func (f *fakeGateway) CreatePaymentIntent(_ context.Context, input gateway.PaymentIntentInput) (*gateway.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastIntent = input
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &gateway.PaymentIntent{
		ID:           "pi_" + input.IdempotencyKey,
		ClientSecret: "pi_" + input.IdempotencyKey + "_secret",
		Status:       "requires_payment_method",
	}, nil
}

func (f *fakeGateway) ConfirmPaymentIntent(_ context.Context, id, _ string) (*gateway.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls++
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return &gateway.PaymentIntent{ID: id, Status: f.intentStatus, LastError: f.intentError}, nil
}

func (f *fakeGateway) GetCheckoutSession(_ context.Context, id string) (*gateway.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &gateway.CheckoutSession{ID: id, Status: f.checkoutStatus}, nil
}

func (f *fakeGateway) GetPaymentIntent(_ context.Context, id string) (*gateway.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &gateway.PaymentIntent{ID: id, Status: f.intentStatus, LastError: f.intentError}, nil
}

func (f *fakeGateway) ConstructEvent([]byte, string) (*stripe.Event, error) {
	return nil, gateway.ErrSignatureInvalid
}

type upgradeCall struct {
	familyID  uuid.UUID
	plan      enums.FamilyPlan
	expiresAt time.Time
}

type fakeUpgrader struct {
	mu    sync.Mutex
	calls []upgradeCall
	err   error
}

func (f *fakeUpgrader) UpgradePlan(_ context.Context, familyID uuid.UUID, plan enums.FamilyPlan, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, upgradeCall{familyID: familyID, plan: plan, expiresAt: expiresAt})
	return f.err
}

func (f *fakeUpgrader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []UpgradeConfirmation
	err  error
}

func (f *fakeMailer) SendUpgradeConfirmation(_ context.Context, confirmation UpgradeConfirmation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, confirmation)
	return f.err
}

var errGatewayDown = errors.New("gateway unavailable")
