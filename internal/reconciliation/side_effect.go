package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paysync/pkg/db/models"
	"github.com/angelmondragon/paysync/pkg/enums"
)

const (
	sideEffectStepUpgrade = "plan_upgrade"
	sideEffectStepEmail   = "email"
)

// PlanExpiry returns when a plan bought at from lapses. Unknown plan types get a month.
func PlanExpiry(from time.Time, planType enums.PlanType) time.Time {
	if planType == enums.PlanTypeYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

// successSideEffect runs once per transaction, after the move into succeeded was persisted.
// Failures are logged and counted; they never undo the status change.
func (s *Service) successSideEffect(ctx context.Context, txn *models.Transaction) {
	upgrade := enums.UpgradeType(txn.MetadataString(models.MetadataUpgradeType))
	if !upgrade.IsValid() {
		s.logg.Info(ctx, "no upgrade requested for succeeded transaction")
		return
	}

	familyID, ok := familyIDFor(txn)
	if !ok {
		s.metrics.IncSideEffect(sideEffectStepUpgrade, "missing_family")
		s.logg.Warn(ctx, "plan upgrade requested without a family id")
		return
	}

	planType, err := enums.ParsePlanType(txn.MetadataString(models.MetadataPlanType))
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "plan_type", txn.MetadataString(models.MetadataPlanType)), "unrecognized plan type; defaulting to monthly")
		planType = enums.PlanTypeMonthly
	}

	expiresAt := PlanExpiry(s.now(), planType)
	ctx = s.logg.WithFields(ctx, map[string]any{
		"family_id":       familyID.String(),
		"plan_type":       string(planType),
		"plan_expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
	if err := s.upgrader.UpgradePlan(ctx, familyID, enums.FamilyPlanPro, expiresAt); err != nil {
		s.metrics.IncSideEffect(sideEffectStepUpgrade, "error")
		s.logg.Error(ctx, "plan upgrade failed", err)
		return
	}
	s.metrics.IncSideEffect(sideEffectStepUpgrade, "ok")
	s.logg.Info(ctx, "family plan upgraded")

	if s.mailer == nil || txn.CustomerEmail == nil || *txn.CustomerEmail == "" {
		return
	}
	if err := s.mailer.SendUpgradeConfirmation(ctx, UpgradeConfirmation{
		TransactionID: txn.ID,
		FamilyID:      familyID,
		Email:         *txn.CustomerEmail,
		Plan:          enums.FamilyPlanPro,
		PlanType:      planType,
		ExpiresAt:     expiresAt,
		AmountCents:   txn.AmountCents,
		Currency:      txn.Currency,
	}); err != nil {
		s.metrics.IncSideEffect(sideEffectStepEmail, "error")
		s.logg.Error(ctx, "upgrade confirmation email failed", err)
		return
	}
	s.metrics.IncSideEffect(sideEffectStepEmail, "ok")
}

func familyIDFor(txn *models.Transaction) (uuid.UUID, bool) {
	if txn.FamilyID != nil && *txn.FamilyID != uuid.Nil {
		return *txn.FamilyID, true
	}
	parsed, err := uuid.Parse(txn.MetadataString(models.MetadataFamilyID))
	if err != nil || parsed == uuid.Nil {
		return uuid.Nil, false
	}
	return parsed, true
}
