package stripe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/paysync/internal/gateway"
	pkgerrors "github.com/angelmondragon/paysync/pkg/errors"
)

// Gateway returns the gateway.Client backed by this Stripe client.
func (c *Client) Gateway() gateway.Client {
	return &stripeGateway{client: c}
}

type stripeGateway struct {
	client *Client
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, input gateway.CheckoutSessionInput) (*gateway.CheckoutSession, error) {
	if len(input.LineItems) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line item is required")
	}
	params := g.checkoutParams(input)
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe checkout session")
	}
	return toCheckoutSession(sess), nil
}

func (g *stripeGateway) CreatePaymentIntent(ctx context.Context, input gateway.PaymentIntentInput) (*gateway.PaymentIntent, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(input.AmountCents),
		Currency: stripe.String(g.currency(input.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if input.CustomerID != "" {
		params.Customer = stripe.String(input.CustomerID)
	}
	if input.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(input.CustomerEmail)
	}
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe payment intent")
	}
	return toPaymentIntent(pi), nil
}

// ConfirmPaymentIntent treats a card decline that still carries the payment intent as a
// business outcome: the intent is returned with LastError set and no error.
func (g *stripeGateway) ConfirmPaymentIntent(ctx context.Context, id, paymentMethodID string) (*gateway.PaymentIntent, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	params := &stripe.PaymentIntentConfirmParams{}
	if paymentMethodID != "" {
		params.PaymentMethod = stripe.String(paymentMethodID)
	}
	params.Context = ctx

	pi, err := paymentintent.Confirm(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.PaymentIntent != nil {
			declined := toPaymentIntent(stripeErr.PaymentIntent)
			if declined.LastError == "" {
				declined.LastError = stripeErr.Msg
			}
			return declined, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm stripe payment intent")
	}
	return toPaymentIntent(pi), nil
}

func (g *stripeGateway) GetCheckoutSession(ctx context.Context, id string) (*gateway.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := session.Get(id, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe checkout session")
	}
	return toCheckoutSession(sess), nil
}

func (g *stripeGateway) GetPaymentIntent(ctx context.Context, id string) (*gateway.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe payment intent")
	}
	return toPaymentIntent(pi), nil
}

func (g *stripeGateway) ConstructEvent(payload []byte, signature string) (*stripe.Event, error) {
	return constructEvent(payload, signature, g.client.SigningSecret())
}

func constructEvent(payload []byte, signature, secret string) (*stripe.Event, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, gateway.ErrSignatureInvalid
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(gateway.ErrSignatureInvalid, err)
	}
	return &event, nil
}

func (g *stripeGateway) checkoutParams(input gateway.CheckoutSessionInput) *stripe.CheckoutSessionParams {
	currency := g.currency(input.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(firstNonEmpty(input.SuccessURL, g.client.successURL)),
		CancelURL:  stripe.String(firstNonEmpty(input.CancelURL, g.client.cancelURL)),
	}
	for _, item := range input.LineItems {
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
				UnitAmount: stripe.Int64(item.UnitAmountCents),
			},
			Quantity: stripe.Int64(quantity),
		})
	}
	if input.CustomerID != "" {
		params.Customer = stripe.String(input.CustomerID)
	} else if input.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(input.CustomerEmail)
	}
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}
	return params
}

func (g *stripeGateway) currency(requested string) string {
	if c := strings.ToLower(strings.TrimSpace(requested)); c != "" {
		return c
	}
	if g.client.defaultCurrency != "" {
		return g.client.defaultCurrency
	}
	return string(stripe.CurrencyUSD)
}

func toCheckoutSession(sess *stripe.CheckoutSession) *gateway.CheckoutSession {
	if sess == nil {
		return nil
	}
	out := &gateway.CheckoutSession{
		ID:          sess.ID,
		URL:         sess.URL,
		Status:      string(sess.Status),
		AmountTotal: sess.AmountTotal,
		Currency:    string(sess.Currency),
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.ExpiresAt > 0 {
		expires := time.Unix(sess.ExpiresAt, 0).UTC()
		out.ExpiresAt = &expires
	}
	return out
}

func toPaymentIntent(pi *stripe.PaymentIntent) *gateway.PaymentIntent {
	if pi == nil {
		return nil
	}
	out := &gateway.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	if pi.LatestCharge != nil {
		out.LatestChargeID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		out.LastError = pi.LastPaymentError.Msg
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
