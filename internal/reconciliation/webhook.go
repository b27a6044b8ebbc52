package reconciliation

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/paysync/internal/gateway"
	"github.com/angelmondragon/paysync/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysync/pkg/errors"
	"github.com/angelmondragon/paysync/pkg/metrics"
)

// Webhook handling results, used as metric labels.
const (
	WebhookResultProcessed = "processed"
	WebhookResultIgnored   = "ignored"
	WebhookResultUnknownTx = "unknown_transaction"
	WebhookResultFailed    = "failed"
)

// HandleEvent reconciles a verified gateway event. Events for transactions this service
// never created are ignored. Any other error is returned so the gateway redelivers.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.Type),
	})

	var (
		status    enums.TransactionStatus
		lastError *string
	)
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		raw := event.GetObjectValue("status")
		if raw == "" {
			raw = string(stripe.CheckoutSessionStatusComplete)
		}
		status = gateway.MapStatus(raw)
	case stripe.EventTypePaymentIntentSucceeded:
		status = enums.TransactionStatusSucceeded
	case stripe.EventTypePaymentIntentPaymentFailed:
		status = enums.TransactionStatusFailed
		msg := event.GetObjectValue("last_payment_error", "message")
		if msg == "" {
			msg = "payment failed"
		}
		lastError = &msg
	case stripe.EventTypeInvoicePaymentSucceeded:
		s.metrics.IncWebhook(string(event.Type), WebhookResultIgnored)
		s.logg.Info(s.logg.WithField(ctx, "invoice_id", event.GetObjectValue("id")), "invoice payment succeeded")
		return nil
	default:
		s.metrics.IncWebhook(string(event.Type), WebhookResultIgnored)
		s.logg.Debug(ctx, "unhandled stripe event type")
		return nil
	}

	gatewayID := event.GetObjectValue("id")
	if gatewayID == "" {
		s.metrics.IncWebhook(string(event.Type), WebhookResultFailed)
		return pkgerrors.New(pkgerrors.CodeValidation, "event object id missing")
	}
	ctx = s.logg.WithGatewayID(ctx, gatewayID)

	txn, err := s.txns.FindByGatewayID(ctx, gatewayID)
	if err != nil {
		s.metrics.IncWebhook(string(event.Type), WebhookResultFailed)
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load transaction by gateway id")
	}
	if txn == nil {
		s.metrics.IncWebhook(string(event.Type), WebhookResultUnknownTx)
		s.logg.Warn(ctx, "webhook for unknown transaction ignored")
		return nil
	}

	if _, err := s.apply(ctx, txn.ID, status, lastError, metrics.SourceWebhook); err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			s.metrics.IncWebhook(string(event.Type), WebhookResultUnknownTx)
			return nil
		}
		s.metrics.IncWebhook(string(event.Type), WebhookResultFailed)
		return err
	}
	s.metrics.IncWebhook(string(event.Type), WebhookResultProcessed)
	return nil
}
