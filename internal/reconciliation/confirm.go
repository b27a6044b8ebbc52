package reconciliation

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/paysync/internal/gateway"
	"github.com/angelmondragon/paysync/pkg/enums"
	"github.com/angelmondragon/paysync/pkg/metrics"
)

// ConfirmEmbeddedPayment confirms a payment intent with the gateway and reconciles the
// answer immediately. Failures come back in the result, never as an error.
func (s *Service) ConfirmEmbeddedPayment(ctx context.Context, transactionID uuid.UUID, paymentMethodID string) ConfirmResult {
	ctx = s.logg.WithTransactionID(ctx, transactionID.String())

	txn, err := s.GetTransaction(ctx, transactionID)
	if err != nil {
		return ConfirmResult{Success: false, Error: err.Error()}
	}
	if txn.Kind == enums.TransactionKindCheckoutSession {
		return ConfirmResult{Success: false, Status: txn.Status, Error: "checkout sessions are confirmed on the hosted page"}
	}
	if txn.Status.IsTerminal() {
		return ConfirmResult{
			Success: txn.Status == enums.TransactionStatusSucceeded,
			Status:  txn.Status,
			Error:   terminalMessage(txn.Status),
		}
	}
	if txn.GatewayTransactionID == nil || *txn.GatewayTransactionID == "" {
		return ConfirmResult{Success: false, Status: txn.Status, Error: "transaction has no gateway reference yet"}
	}

	pi, err := s.gateway.ConfirmPaymentIntent(ctx, *txn.GatewayTransactionID, strings.TrimSpace(paymentMethodID))
	if err != nil {
		s.logg.Error(ctx, "payment confirmation failed", err)
		return ConfirmResult{Success: false, Status: txn.Status, Error: err.Error()}
	}

	var lastError *string
	if pi.LastError != "" {
		lastError = &pi.LastError
	}
	outcome, err := s.apply(ctx, transactionID, gateway.MapStatus(pi.Status), lastError, metrics.SourceConfirm)
	if err != nil {
		s.logg.Error(ctx, "reconcile after confirmation failed", err)
		return ConfirmResult{Success: false, Status: txn.Status, Error: err.Error()}
	}

	result := ConfirmResult{
		Success: outcome.Current == enums.TransactionStatusSucceeded || outcome.Current == enums.TransactionStatusProcessing,
		Status:  outcome.Current,
		Error:   pi.LastError,
	}
	if !result.Success && result.Error == "" {
		result.Error = "payment requires further action: " + pi.Status
	}
	return result
}

func terminalMessage(status enums.TransactionStatus) string {
	if status == enums.TransactionStatusSucceeded {
		return ""
	}
	return "transaction already " + string(status)
}
