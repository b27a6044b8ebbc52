package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/paysync/api/responses"
	pkgerrors "github.com/angelmondragon/paysync/pkg/errors"
	"github.com/angelmondragon/paysync/pkg/logger"
)

const maxPayloadBytes = 1 << 16

type StripeProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) (string, error)
}

type webhookAck struct {
	Received bool   `json:"received"`
	Result   string `json:"result"`
}

// StripeWebhook receives gateway events. The raw body is needed for signature verification.
func StripeWebhook(processor StripeProcessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if processor == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		result, err := processor.Process(ctx, payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, webhookAck{Received: true, Result: result})
	}
}
