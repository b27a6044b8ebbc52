package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paysync/internal/gateway"
	"github.com/angelmondragon/paysync/internal/transactions"
	"github.com/angelmondragon/paysync/pkg/db/models"
	"github.com/angelmondragon/paysync/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysync/pkg/errors"
)

// maxTransitionAttempts bounds re-reads after losing a compare-and-set to a concurrent writer.
const maxTransitionAttempts = 3

// Reconcile maps a raw gateway status and applies it to the transaction.
func (s *Service) Reconcile(ctx context.Context, transactionID uuid.UUID, rawStatus, source string) (*Outcome, error) {
	return s.apply(ctx, transactionID, gateway.MapStatus(rawStatus), nil, source)
}

// ReconcileFromGateway fetches the current gateway status for the transaction and applies it.
// Terminal transactions are returned as-is without a gateway call.
func (s *Service) ReconcileFromGateway(ctx context.Context, transactionID uuid.UUID, source string) (*Outcome, error) {
	txn, err := s.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status.IsTerminal() {
		return &Outcome{Transaction: txn, Previous: txn.Status, Current: txn.Status}, nil
	}
	if txn.GatewayTransactionID == nil || *txn.GatewayTransactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction has no gateway reference yet")
	}

	gatewayID := *txn.GatewayTransactionID
	ctx = s.logg.WithGatewayID(ctx, gatewayID)

	var (
		raw       string
		lastError *string
	)
	switch txn.Kind {
	case enums.TransactionKindCheckoutSession:
		sess, err := s.gateway.GetCheckoutSession(ctx, gatewayID)
		if err != nil {
			return nil, err
		}
		raw = sess.Status
	default:
		pi, err := s.gateway.GetPaymentIntent(ctx, gatewayID)
		if err != nil {
			return nil, err
		}
		raw = pi.Status
		if pi.LastError != "" {
			lastError = &pi.LastError
		}
	}

	return s.apply(ctx, transactionID, gateway.MapStatus(raw), lastError, source)
}

// apply is the single choke point for status writes. It persists a forward move with a
// conditional update and fires the success side effect only for the caller that won the
// move into succeeded.
func (s *Service) apply(ctx context.Context, transactionID uuid.UUID, next enums.TransactionStatus, lastError *string, source string) (*Outcome, error) {
	ctx = s.logg.WithTransactionID(ctx, transactionID.String())

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		txn, err := s.GetTransaction(ctx, transactionID)
		if err != nil {
			return nil, err
		}

		outcome := &Outcome{Transaction: txn, Previous: txn.Status, Current: txn.Status}
		// refunds are not reconciled from gateway observations
		if !txn.Status.CanTransition(next) || next == enums.TransactionStatusRefunded {
			s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
				"status":          string(txn.Status),
				"observed_status": string(next),
				"source":          source,
			}), "reconcile no-op")
			return outcome, nil
		}

		at := s.now()
		won, err := s.txns.TransitionStatus(ctx, transactionID, txn.Status, next, transactions.TransitionFields{
			At:        at,
			LastError: lastError,
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist transaction status")
		}
		if !won {
			continue
		}

		previous := txn.Status
		applyLocally(txn, next, at, lastError)
		outcome.Current = next
		outcome.Changed = true
		s.metrics.IncTransition(string(previous), string(next), source)
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"previous_status": string(previous),
			"status":          string(next),
			"source":          source,
		}), "transaction status updated")

		if next == enums.TransactionStatusSucceeded && previous != enums.TransactionStatusSucceeded {
			s.successSideEffect(ctx, txn)
			outcome.SideEffectFired = true
		}
		if next.IsTerminal() {
			s.stopPolling(ctx, transactionID, next, at)
		}
		return outcome, nil
	}

	txn, err := s.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	s.logg.Warn(ctx, "reconcile gave up after concurrent updates")
	return &Outcome{Transaction: txn, Previous: txn.Status, Current: txn.Status}, nil
}

func (s *Service) stopPolling(ctx context.Context, transactionID uuid.UUID, status enums.TransactionStatus, at time.Time) {
	if _, err := s.polling.Deactivate(ctx, transactionID, enums.PollStopReasonCompleted(status), at, nil); err != nil {
		// the scheduler deactivates terminal transactions on its next pass
		s.logg.Error(ctx, "failed to deactivate polling record", err)
	}
}

func applyLocally(txn *models.Transaction, status enums.TransactionStatus, at time.Time, lastError *string) {
	txn.Status = status
	txn.UpdatedAt = at
	switch status {
	case enums.TransactionStatusSucceeded:
		txn.CompletedAt = &at
	case enums.TransactionStatusCanceled, enums.TransactionStatusExpired:
		txn.CanceledAt = &at
	}
	if lastError != nil {
		txn.LastError = lastError
	}
}
