package reconciliation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/datatypes"

	"github.com/angelmondragon/paysync/pkg/db/models"
	"github.com/angelmondragon/paysync/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysync/pkg/errors"
	"github.com/angelmondragon/paysync/pkg/metrics"
)

type harness struct {
	svc      *Service
	txns     *memoryTransactions
	polling  *memoryPolling
	gateway  *fakeGateway
	upgrader *fakeUpgrader
	mailer   *fakeMailer
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		txns:     newMemoryTransactions(),
		polling:  newMemoryPolling(),
		gateway:  &fakeGateway{intentStatus: "requires_payment_method", checkoutStatus: "open"},
		upgrader: &fakeUpgrader{},
		mailer:   &fakeMailer{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	svc, err := NewService(ServiceParams{
		Logger:       testLogger(),
		Gateway:      h.gateway,
		Transactions: h.txns,
		Polling:      h.polling,
		Upgrader:     h.upgrader,
		Mailer:       h.mailer,
		PollingDefaults: PollingDefaults{
			Interval:     30 * time.Second,
			MaxRetries:   5,
			InitialDelay: 10 * time.Second,
		},
		Now: func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) seed(kind enums.TransactionKind, status enums.TransactionStatus, planType string) uuid.UUID {
	familyID := uuid.New()
	email := "owner@example.com"
	id := uuid.New()
	gatewayID := "gw_" + id.String()
	h.txns.seed(models.Transaction{
		ID:                   id,
		GatewayTransactionID: &gatewayID,
		FamilyID:             &familyID,
		Kind:                 kind,
		Status:               status,
		AmountCents:          999,
		Currency:             "usd",
		CustomerEmail:        &email,
		Metadata: datatypes.JSONMap{
			models.MetadataUpgradeType: string(enums.UpgradeTypePlanUpgrade),
			models.MetadataPlanType:    planType,
		},
		CreatedAt: h.now,
	})
	h.polling.records[id] = models.PollingRecord{TransactionID: id, Active: true}
	return id
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)

	_, err = NewService(ServiceParams{Logger: testLogger(), Gateway: &fakeGateway{}, Transactions: newMemoryTransactions(), Polling: newMemoryPolling()})
	require.Error(t, err, "upgrader is required")
}

func TestReconcileSucceededFiresSideEffectOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.seed(enums.TransactionKindPaymentIntent, enums.TransactionStatusPending, "monthly")

	outcome, err := h.svc.Reconcile(ctx, id, "succeeded", metrics.SourcePoll)
	require.NoError(t, err)
	assert.True(t, outcome.Changed)
	assert.True(t, outcome.SideEffectFired)
	assert.Equal(t, enums.TransactionStatusPending, outcome.Previous)
	assert.Equal(t, enums.TransactionStatusSucceeded, outcome.Current)

	stored := h.txns.get(id)
	assert.Equal(t, enums.TransactionStatusSucceeded, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, stored.CompletedAt.Equal(h.now))

	require.Equal(t, 1, h.upgrader.count())
	call := h.upgrader.calls[0]
	assert.Equal(t, *stored.FamilyID, call.familyID)
	assert.Equal(t, enums.FamilyPlanPro, call.plan)
	assert.True(t, call.expiresAt.Equal(h.now.AddDate(0, 1, 0)))
	require.Len(t, h.mailer.sent, 1)
	assert.Equal(t, "owner@example.com", h.mailer.sent[0].Email)

	require.Len(t, h.polling.deactivations, 1)
	assert.Equal(t, "completed with status: succeeded", h.polling.deactivations[0].reason)

	// a second delivery of the same status changes nothing
	again, err := h.svc.Reconcile(ctx, id, "succeeded", metrics.SourceWebhook)
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.False(t, again.SideEffectFired)
	assert.Equal(t, 1, h.upgrader.count())
	assert.Len(t, h.mailer.sent, 1)
	assert.Equal(t, 1, h.txns.transitions)
}

func TestReconcileIsIdempotentForRepeatedObservations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.seed(enums.TransactionKindCheckoutSession, enums.TransactionStatusPending, "yearly")

	for i := 0; i < 5; i++ {
		_, err := h.svc.Reconcile(ctx, id, "complete", metrics.SourcePoll)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.txns.transitions)
	require.Equal(t, 1, h.upgrader.count())
	assert.True(t, h.upgrader.calls[0].expiresAt.Equal(h.now.AddDate(1, 0, 0)))
}

func TestReconcileRaceFiresSideEffectExactlyOnce(t *testing.T) {
	h := newHarness(t)
	id := h.seed(enums.TransactionKindPaymentIntent, enums.TransactionStatusPending, "monthly")

	var arrived sync.WaitGroup
	arrived.Add(2)
	var calls atomic.Int32
	h.txns.beforeTransition = func() {
		if calls.Add(1) <= 2 {
			arrived.Done()
			arrived.Wait()
		}
	}

	var wg sync.WaitGroup
	outcomes := make([]*Outcome, 2)
	for i, source := range []string{metrics.SourcePoll, metrics.SourceWebhook} {
		wg.Add(1)
		go func(i int, source string) {
			defer wg.Done()
			outcome, err := h.svc.Reconcile(context.Background(), id, "succeeded", source)
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i, source)
	}
	wg.Wait()

	assert.Equal(t, 1, h.upgrader.count())
	assert.Equal(t, enums.TransactionStatusSucceeded, h.txns.get(id).Status)
	changed := 0
	for _, outcome := range outcomes {
		require.NotNil(t, outcome)
		assert.Equal(t, enums.TransactionStatusSucceeded, outcome.Current)
		if outcome.Changed {
			changed++
		}
	}
	assert.Equal(t, 1, changed)
}

func TestReconcileLosingWriterRetriesForwardMove(t *testing.T) {
	h := newHarness(t)
	id := h.seed(enums.TransactionKindPaymentIntent, enums.TransactionStatusPending, "monthly")

	var once sync.Once
	h.txns.beforeTransition = func() {
		once.Do(func() {
			h.txns.mu.Lock()
			row := h.txns.rows[id]
			row.Status = enums.TransactionStatusProcessing
			h.txns.rows[id] = row
			h.txns.mu.Unlock()
		})
	}

	outcome, err := h.svc.Reconcile(context.Background(), id, "succeeded", metrics.SourceWebhook)
	require.NoError(t, err)
	assert.True(t, outcome.Changed)
	assert.Equal(t, enums.TransactionStatusProcessing, outcome.Previous)
	assert.Equal(t, enums.TransactionStatusSucceeded, outcome.Current)
	assert.Equal(t, 1, h.upgrader.count())
}

func TestReconcileTerminalStatusesNeverChange(t *testing.T) {
	terminal := []enums.TransactionStatus{
		enums.TransactionStatusSucceeded,
		enums.TransactionStatusFailed,
		enums.TransactionStatusCanceled,
		enums.TransactionStatusExpired,
		enums.TransactionStatusRefunded,
	}
	observed := []string{"open", "complete", "expired", "processing", "canceled", "succeeded", "refunded", "garbage"}

	for _, status := range terminal {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t)
			id := h.seed(enums.TransactionKindPaymentIntent, status, "monthly")
			for _, raw := range observed {
				outcome, err := h.svc.Reconcile(context.Background(), id, raw, metrics.SourcePoll)
				require.NoError(t, err)
				assert.False(t, outcome.Changed)
			}
			assert.Equal(t, status, h.txns.get(id).Status)
			assert.Zero(t, h.upgrader.count())
		})
	}
}

func TestReconcileDoesNotMoveBackwards(t *testing.T) {
	h := newHarness(t)
	id := h.seed(enums.TransactionKindPaymentIntent, enums.TransactionStatusProcessing, "monthly")

	outcome, err := h.svc.Reconcile(context.Background(), id, "requires_payment_method", metrics.SourcePoll)
	require.NoError(t, err)
	assert.False(t, outcome.Changed)
	assert.Equal(t, enums.TransactionStatusProcessing, h.txns.get(id).Status)
}

func TestReconcileUnknownTransaction(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Reconcile(context.Background(), uuid.New(), "succeeded", metrics.SourcePoll)
	require.ErrorIs(t, err, ErrTransactionNotFound)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSideEffectFailuresDoNotRollBackStatus(t *testing.T) {
	h := newHarness(t)
	h.upgrader.err = assert.AnError
	id := h.seed(enums.TransactionKindPaymentIntent, enums.TransactionStatusPending, "monthly")

	outcome, err := h.svc.Reconcile(context.Background(), id, "succeeded", metrics.SourcePoll)
	require.NoError(t, err)
	assert.True(t, outcome.Changed)
	assert.Equal(t, enums.TransactionStatusSucceeded, h.txns.get(id).Status)
	assert.Empty(t, h.mailer.sent, "no email after a failed upgrade")

	_, err = h.svc.Reconcile(context.Background(), id, "succeeded", metrics.SourcePoll)
	require.NoError(t, err)
	assert.Equal(t, 1, h.upgrader.count(), "side effects are not retried")
}

func TestEmailFailureIsBestEffort(t *testing.T) {
	h := newHarness(t)
	h.mailer.err = assert.AnError
	id := h.seed(enums.TransactionKindPaymentIntent, enums.TransactionStatusPending, "monthly")

	outcome, err := h.svc.Reconcile(context.Background(), id, "succeeded", metrics.SourcePoll)
	require.NoError(t, err)
	assert.True(t, outcome.SideEffectFired)
	assert.Equal(t, 1, h.upgrader.count())
	assert.Len(t, h.mailer.sent, 1)
}

func TestSideEffectSkippedWithoutRecognizedUpgrade(t *testing.T) {
	h := newHarness(t)
	id := h.seed(enums.TransactionKindPaymentIntent, enums.TransactionStatusPending, "monthly")
	h.txns.mu.Lock()
	row := h.txns.rows[id]
	row.Metadata = datatypes.JSONMap{models.MetadataUpgradeType: "gift_card"}
	h.txns.rows[id] = row
	h.txns.mu.Unlock()

	_, err := h.svc.Reconcile(context.Background(), id, "succeeded", metrics.SourcePoll)
	require.NoError(t, err)
	assert.Zero(t, h.upgrader.count())
}

func TestUnknownPlanTypeDefaultsToMonthly(t *testing.T) {
	h := newHarness(t)
	id := h.seed(enums.TransactionKindPaymentIntent, enums.TransactionStatusPending, "lifetime")

	_, err := h.svc.Reconcile(context.Background(), id, "succeeded", metrics.SourcePoll)
	require.NoError(t, err)
	require.Equal(t, 1, h.upgrader.count())
	assert.True(t, h.upgrader.calls[0].expiresAt.Equal(h.now.AddDate(0, 1, 0)))
}

func TestPlanExpiry(t *testing.T) {
	from := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, from.AddDate(0, 1, 0), PlanExpiry(from, enums.PlanTypeMonthly))
	assert.Equal(t, from.AddDate(1, 0, 0), PlanExpiry(from, enums.PlanTypeYearly))
	assert.Equal(t, from.AddDate(0, 1, 0), PlanExpiry(from, enums.PlanType("")))
}

func TestReconcileFromGateway(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	checkout := h.seed(enums.TransactionKindCheckoutSession, enums.TransactionStatusPending, "monthly")
	h.gateway.checkoutStatus = "expired"
	outcome, err := h.svc.ReconcileFromGateway(ctx, checkout, metrics.SourcePoll)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusExpired, outcome.Current)
	assert.NotNil(t, h.txns.get(checkout).CanceledAt)

	calls := h.gateway.getCalls
	_, err = h.svc.ReconcileFromGateway(ctx, checkout, metrics.SourcePoll)
	require.NoError(t, err)
	assert.Equal(t, calls, h.gateway.getCalls, "terminal transactions skip the gateway")

	intent := h.seed(enums.TransactionKindPaymentIntent, enums.TransactionStatusPending, "monthly")
	h.gateway.intentStatus = "requires_capture"
	outcome, err = h.svc.ReconcileFromGateway(ctx, intent, metrics.SourcePoll)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusProcessing, outcome.Current)

	h.gateway.getErr = errGatewayDown
	_, err = h.svc.ReconcileFromGateway(ctx, intent, metrics.SourcePoll)
	require.ErrorIs(t, err, errGatewayDown)
	assert.Equal(t, enums.TransactionStatusProcessing, h.txns.get(intent).Status)
}

func TestHandleEventPaymentFailed(t *testing.T) {
	h := newHarness(t)
	id := h.seed(enums.TransactionKindPaymentIntent, enums.TransactionStatusPending, "monthly")
	gatewayID := *h.txns.get(id).GatewayTransactionID

	err := h.svc.HandleEvent(context.Background(), &stripe.Event{
		ID:   "evt_failed",
		Type: stripe.EventTypePaymentIntentPaymentFailed,
		Data: &stripe.EventData{Object: map[string]interface{}{
			"id":                 gatewayID,
			"last_payment_error": map[string]interface{}{"message": "Your card was declined."},
		}},
	})
	require.NoError(t, err)

	stored := h.txns.get(id)
	assert.Equal(t, enums.TransactionStatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "Your card was declined.", *stored.LastError)
	require.Len(t, h.polling.deactivations, 1)
	assert.Equal(t, "completed with status: failed", h.polling.deactivations[0].reason)
	assert.False(t, h.polling.records[id].Active)
}

func TestHandleEventSucceededAndCheckoutCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	intent := h.seed(enums.TransactionKindPaymentIntent, enums.TransactionStatusPending, "monthly")
	require.NoError(t, h.svc.HandleEvent(ctx, &stripe.Event{
		ID:   "evt_pi",
		Type: stripe.EventTypePaymentIntentSucceeded,
		Data: &stripe.EventData{Object: map[string]interface{}{"id": *h.txns.get(intent).GatewayTransactionID}},
	}))
	assert.Equal(t, enums.TransactionStatusSucceeded, h.txns.get(intent).Status)

	checkout := h.seed(enums.TransactionKindCheckoutSession, enums.TransactionStatusPending, "monthly")
	require.NoError(t, h.svc.HandleEvent(ctx, &stripe.Event{
		ID:   "evt_cs",
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Object: map[string]interface{}{"id": *h.txns.get(checkout).GatewayTransactionID}},
	}))
	assert.Equal(t, enums.TransactionStatusSucceeded, h.txns.get(checkout).Status)
	assert.Equal(t, 2, h.upgrader.count())
}

func TestHandleEventIgnoresUnknownAndUnhandled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.HandleEvent(ctx, &stripe.Event{
		Type: stripe.EventTypePaymentIntentSucceeded,
		Data: &stripe.EventData{Object: map[string]interface{}{"id": "pi_unknown"}},
	}))
	require.NoError(t, h.svc.HandleEvent(ctx, &stripe.Event{
		Type: stripe.EventTypeInvoicePaymentSucceeded,
		Data: &stripe.EventData{Object: map[string]interface{}{"id": "in_1"}},
	}))
	require.NoError(t, h.svc.HandleEvent(ctx, &stripe.Event{
		Type: stripe.EventType("customer.created"),
		Data: &stripe.EventData{Object: map[string]interface{}{"id": "cus_1"}},
	}))
	assert.Zero(t, h.txns.transitions)

	err := h.svc.HandleEvent(ctx, &stripe.Event{Type: stripe.EventTypePaymentIntentSucceeded})
	require.Error(t, err)
}

func TestConfirmEmbeddedPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id := h.seed(enums.TransactionKindPaymentIntent, enums.TransactionStatusPending, "monthly")
	h.gateway.intentStatus = "succeeded"
	result := h.svc.ConfirmEmbeddedPayment(ctx, id, "pm_card_visa")
	assert.True(t, result.Success)
	assert.Equal(t, enums.TransactionStatusSucceeded, result.Status)
	assert.Empty(t, result.Error)
	assert.Equal(t, 1, h.upgrader.count())

	declined := h.seed(enums.TransactionKindPaymentIntent, enums.TransactionStatusPending, "monthly")
	h.gateway.intentStatus = "requires_payment_method"
	h.gateway.intentError = "Your card was declined."
	result = h.svc.ConfirmEmbeddedPayment(ctx, declined, "pm_card_chargeDeclined")
	assert.False(t, result.Success)
	assert.Equal(t, enums.TransactionStatusPending, result.Status)
	assert.Equal(t, "Your card was declined.", result.Error)

	broken := h.seed(enums.TransactionKindPaymentIntent, enums.TransactionStatusPending, "monthly")
	h.gateway.confirmErr = pkgerrors.Wrap(pkgerrors.CodeDependency, errGatewayDown, "confirm stripe payment intent")
	result = h.svc.ConfirmEmbeddedPayment(ctx, broken, "pm_card_visa")
	assert.False(t, result.Success)
	assert.Equal(t, enums.TransactionStatusPending, result.Status)
	assert.NotEmpty(t, result.Error)

	result = h.svc.ConfirmEmbeddedPayment(ctx, uuid.New(), "pm_card_visa")
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)

	checkout := h.seed(enums.TransactionKindCheckoutSession, enums.TransactionStatusPending, "monthly")
	result = h.svc.ConfirmEmbeddedPayment(ctx, checkout, "pm_card_visa")
	assert.False(t, result.Success)
}

func TestCreateTransactionPaymentIntent(t *testing.T) {
	h := newHarness(t)
	familyID := uuid.New()

	result, err := h.svc.CreateTransaction(context.Background(), CreateTransactionInput{
		Kind:          enums.TransactionKindPaymentIntent,
		AmountCents:   999,
		FamilyID:      &familyID,
		CustomerEmail: "owner@example.com",
		Metadata: map[string]string{
			models.MetadataUpgradeType: string(enums.UpgradeTypePlanUpgrade),
			models.MetadataPlanType:    string(enums.PlanTypeMonthly),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusPending, result.Status)
	assert.Equal(t, "pi_"+result.TransactionID.String(), result.GatewayTransactionID)
	assert.NotEmpty(t, result.ClientSecret)

	stored := h.txns.get(result.TransactionID)
	assert.Equal(t, "usd", stored.Currency)
	assert.Equal(t, familyID.String(), stored.MetadataString(models.MetadataFamilyID))
	assert.Equal(t, result.TransactionID.String(), h.gateway.lastIntent.Metadata["transactionId"])

	record, ok := h.polling.records[result.TransactionID]
	require.True(t, ok)
	assert.True(t, record.Active)
	assert.Equal(t, 5, record.MaxRetries)
	assert.Equal(t, int64(30000), record.PollIntervalMs)
	require.NotNil(t, record.NextPollAt)
	assert.True(t, record.NextPollAt.Equal(h.now.Add(10*time.Second)))
}

func TestCreateTransactionCheckoutAndSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	checkout, err := h.svc.CreateTransaction(ctx, CreateTransactionInput{
		Kind:        enums.TransactionKindCheckoutSession,
		AmountCents: 4999,
		Currency:    "EUR",
		Description: "Pro plan (yearly)",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, checkout.RedirectURL)
	assert.NotNil(t, checkout.ExpiresAt)
	assert.Equal(t, "eur", h.gateway.lastCheckout.Currency)
	assert.Equal(t, "Pro plan (yearly)", h.gateway.lastCheckout.LineItems[0].Name)

	sub, err := h.svc.CreateTransaction(ctx, CreateTransactionInput{
		Kind:        enums.TransactionKindSubscription,
		AmountCents: 999,
	})
	require.NoError(t, err)
	_, polled := h.polling.records[sub.TransactionID]
	assert.False(t, polled, "subscriptions are not polled")
}

func TestCreateTransactionValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CreateTransaction(context.Background(), CreateTransactionInput{
		Kind:        enums.TransactionKind("wire"),
		AmountCents: 0,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, h.txns.rows)
}

func TestCreateTransactionGatewayFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.gateway.createErr = errGatewayDown

	_, err := h.svc.CreateTransaction(context.Background(), CreateTransactionInput{
		Kind:        enums.TransactionKindPaymentIntent,
		AmountCents: 999,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	require.Len(t, h.txns.rows, 1)
	for _, row := range h.txns.rows {
		assert.Equal(t, enums.TransactionStatusFailed, row.Status)
		require.NotNil(t, row.LastError)
		assert.Contains(t, *row.LastError, "gateway unavailable")
	}
	assert.Empty(t, h.polling.records)
}

func TestCreateTransactionSurvivesPollingFailure(t *testing.T) {
	h := newHarness(t)
	h.polling.createErr = assert.AnError

	result, err := h.svc.CreateTransaction(context.Background(), CreateTransactionInput{
		Kind:        enums.TransactionKindPaymentIntent,
		AmountCents: 999,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.GatewayTransactionID)
}

func TestGetTransaction(t *testing.T) {
	h := newHarness(t)
	id := h.seed(enums.TransactionKindPaymentIntent, enums.TransactionStatusPending, "monthly")

	txn, err := h.svc.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, txn.ID)

	_, err = h.svc.GetTransaction(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}
