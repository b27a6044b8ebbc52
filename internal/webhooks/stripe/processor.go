package stripewebhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/paysync/internal/gateway"
	pkgerrors "github.com/angelmondragon/paysync/pkg/errors"
	"github.com/angelmondragon/paysync/pkg/logger"
	"github.com/angelmondragon/paysync/pkg/metrics"
)

// Delivery results, used as metric labels.
const (
	ResultProcessed        = "processed"
	ResultDuplicate        = "duplicate"
	ResultSignatureInvalid = "signature_invalid"
	ResultFailed           = "failed"
)

type verifier interface {
	ConstructEvent(payload []byte, signature string) (*stripe.Event, error)
}

// EventHandler reconciles a verified event.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type ProcessorParams struct {
	Logger   *logger.Logger
	Verifier verifier
	Handler  EventHandler
	Guard    *Guard
	Metrics  *metrics.ReconciliationMetrics
}

// Processor verifies, dedupes and dispatches one webhook delivery.
type Processor struct {
	logg     *logger.Logger
	verifier verifier
	handler  EventHandler
	guard    *Guard
	metrics  *metrics.ReconciliationMetrics
}

func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "signature verifier required")
	}
	if params.Handler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event handler required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	return &Processor{
		logg:     params.Logger,
		verifier: params.Verifier,
		handler:  params.Handler,
		guard:    params.Guard,
		metrics:  params.Metrics,
	}, nil
}

// Process returns the delivery result. A signature failure touches no state and maps to
// SIGNATURE_INVALID; handler failures release the event so the gateway redelivers it.
func (p *Processor) Process(ctx context.Context, payload []byte, signature string) (string, error) {
	if signature == "" {
		p.metrics.IncWebhook("unknown", ResultSignatureInvalid)
		return ResultSignatureInvalid, pkgerrors.New(pkgerrors.CodeSignature, "stripe signature missing")
	}

	event, err := p.verifier.ConstructEvent(payload, signature)
	if err != nil {
		p.metrics.IncWebhook("unknown", ResultSignatureInvalid)
		if errors.Is(err, gateway.ErrSignatureInvalid) {
			return ResultSignatureInvalid, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "verify signature")
		}
		return ResultSignatureInvalid, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify signature")
	}

	eventType := string(event.Type)
	ctx = p.logg.WithFields(ctx, map[string]any{
		"event_id":   event.ID,
		"event_type": eventType,
	})

	duplicate, err := p.guard.Claim(ctx, event.ID)
	if err != nil {
		p.metrics.IncWebhook(eventType, ResultFailed)
		return ResultFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	}
	if duplicate {
		p.metrics.IncWebhook(eventType, ResultDuplicate)
		p.logg.Info(ctx, "duplicate stripe event acknowledged")
		return ResultDuplicate, nil
	}

	if err := p.handler.HandleEvent(ctx, event); err != nil {
		if relErr := p.guard.Release(ctx, event.ID); relErr != nil {
			p.logg.Error(ctx, "failed to release idempotency key", relErr)
		}
		return ResultFailed, err
	}

	p.logg.Info(ctx, fmt.Sprintf("stripe event %s processed", event.ID))
	return ResultProcessed, nil
}
