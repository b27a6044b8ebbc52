package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/paysync/api/responses"
	"github.com/angelmondragon/paysync/api/validators"
	"github.com/angelmondragon/paysync/internal/polling"
	"github.com/angelmondragon/paysync/internal/reconciliation"
	"github.com/angelmondragon/paysync/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysync/pkg/errors"
	"github.com/angelmondragon/paysync/pkg/logger"
)

// PollingScheduler is the operator surface of the polling scheduler.
type PollingScheduler interface {
	ForcePoll(ctx context.Context, transactionID uuid.UUID) (*reconciliation.Outcome, error)
	Status(ctx context.Context) polling.Status
}

type forcePollResponse struct {
	TransactionID   uuid.UUID               `json:"transactionId"`
	Previous        enums.TransactionStatus `json:"previousStatus"`
	Status          enums.TransactionStatus `json:"status"`
	Changed         bool                    `json:"changed"`
	SideEffectFired bool                    `json:"sideEffectFired"`
}

// ForcePoll reconciles one transaction against the gateway outside the schedule.
func ForcePoll(scheduler PollingScheduler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if scheduler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "polling scheduler unavailable"))
			return
		}

		id, err := validators.UUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		outcome, err := scheduler.ForcePoll(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, forcePollResponse{
			TransactionID:   id,
			Previous:        outcome.Previous,
			Status:          outcome.Current,
			Changed:         outcome.Changed,
			SideEffectFired: outcome.SideEffectFired,
		})
	}
}

// PollingStatus reports the scheduler's configuration and liveness.
func PollingStatus(scheduler PollingScheduler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if scheduler == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "polling scheduler unavailable"))
			return
		}
		responses.WriteSuccess(w, scheduler.Status(r.Context()))
	}
}
