package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paysync/internal/reconciliation"
	"github.com/angelmondragon/paysync/pkg/logger"
)

const (
	defaultPublishTimeout = 5 * time.Second

	// EmailTemplateUpgradeConfirmation selects the confirmation template in the mail worker.
	EmailTemplateUpgradeConfirmation = "plan_upgrade_confirmation"
	eventTypeEmailRequested          = "email.requested"
)

// EmailRequest is the message body the mail worker consumes.
type EmailRequest struct {
	RequestID     string            `json:"requestId"`
	Template      string            `json:"template"`
	To            string            `json:"to"`
	TransactionID string            `json:"transactionId"`
	FamilyID      string            `json:"familyId"`
	Data          map[string]string `json:"data"`
	RequestedAt   time.Time         `json:"requestedAt"`
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// Mailer publishes confirmation email requests to Pub/Sub.
type Mailer struct {
	logg      *logger.Logger
	publisher publisher
	now       func() time.Time
}

// NewMailer wraps a Pub/Sub publisher handle.
func NewMailer(logg *logger.Logger, pub *gcppubsub.Publisher) (*Mailer, error) {
	if pub == nil {
		return nil, errors.New("notification publisher required")
	}
	return newMailer(logg, &gcpPublisher{Publisher: pub})
}

func newMailer(logg *logger.Logger, pub publisher) (*Mailer, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if pub == nil {
		return nil, errors.New("notification publisher required")
	}
	return &Mailer{logg: logg, publisher: pub, now: time.Now}, nil
}

// SendUpgradeConfirmation publishes one email request and waits for the broker ack.
func (m *Mailer) SendUpgradeConfirmation(ctx context.Context, confirmation reconciliation.UpgradeConfirmation) error {
	if strings.TrimSpace(confirmation.Email) == "" {
		return errors.New("recipient email required")
	}
	request := EmailRequest{
		RequestID:     uuid.NewString(),
		Template:      EmailTemplateUpgradeConfirmation,
		To:            confirmation.Email,
		TransactionID: confirmation.TransactionID.String(),
		FamilyID:      confirmation.FamilyID.String(),
		Data: map[string]string{
			"plan":      string(confirmation.Plan),
			"planType":  string(confirmation.PlanType),
			"expiresAt": confirmation.ExpiresAt.UTC().Format("January 2, 2006"),
			"amount":    FormatAmount(confirmation.AmountCents, confirmation.Currency),
		},
		RequestedAt: m.now().UTC(),
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal email request: %w", err)
	}

	msg := &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_id":       request.RequestID,
			"event_type":     eventTypeEmailRequested,
			"template":       request.Template,
			"transaction_id": request.TransactionID,
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := m.publisher.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	serverID, err := result.Get(publishCtx)
	if err != nil {
		return fmt.Errorf("publish email request: %w", err)
	}
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"message_id": serverID,
		"template":   request.Template,
	}), "confirmation email requested")
	return nil
}

// FormatAmount renders minor units as a major-unit amount with the upper-cased currency code.
func FormatAmount(amountCents int64, currency string) string {
	amount := decimal.New(amountCents, -2).StringFixed(2)
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		return amount
	}
	return amount + " " + code
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
