package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v84"
)

// ErrSignatureInvalid is returned when a webhook payload fails authenticity checks.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// Client is the typed surface the reconciliation flow needs from the payment gateway.
// Implementations hold no local state.
type Client interface {
	CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*CheckoutSession, error)
	CreatePaymentIntent(ctx context.Context, input PaymentIntentInput) (*PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, id, paymentMethodID string) (*PaymentIntent, error)
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	ConstructEvent(payload []byte, signature string) (*stripe.Event, error)
}

// LineItem is a single priced row on a hosted checkout page.
type LineItem struct {
	Name            string
	UnitAmountCents int64
	Quantity        int64
}

// CheckoutSessionInput describes a hosted checkout request.
type CheckoutSessionInput struct {
	LineItems      []LineItem
	Currency       string
	CustomerID     string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
}

// CheckoutSession is the gateway view of a hosted checkout.
type CheckoutSession struct {
	ID          string
	URL         string
	Status      string
	AmountTotal int64
	Currency    string
	CustomerID  string
	ExpiresAt   *time.Time
}

// PaymentIntentInput describes an embedded payment request.
type PaymentIntentInput struct {
	AmountCents    int64
	Currency       string
	CustomerID     string
	CustomerEmail  string
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentIntent is the gateway view of an embedded payment.
type PaymentIntent struct {
	ID             string
	ClientSecret   string
	Status         string
	CustomerID     string
	LatestChargeID string
	LastError      string
}
