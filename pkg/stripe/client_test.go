package stripe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/paysync/internal/gateway"
	"github.com/angelmondragon/paysync/pkg/config"
)

const testSecret = "whsec_test_secret"

func TestNewClientValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.StripeConfig
		ok   bool
	}{
		{name: "test key", cfg: config.StripeConfig{APIKey: "sk_test_123", Secret: testSecret, Env: "test"}, ok: true},
		{name: "restricted live key", cfg: config.StripeConfig{APIKey: "rk_live_123", Secret: testSecret, Env: "LIVE"}, ok: true},
		{name: "missing key", cfg: config.StripeConfig{Secret: testSecret, Env: "test"}},
		{name: "missing secret", cfg: config.StripeConfig{APIKey: "sk_test_123", Env: "test"}},
		{name: "live key in test env", cfg: config.StripeConfig{APIKey: "sk_live_123", Secret: testSecret, Env: "test"}},
		{name: "unknown env", cfg: config.StripeConfig{APIKey: "sk_test_123", Secret: testSecret, Env: "staging"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tc.cfg, nil)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error for %+v", tc.cfg)
			}
			if tc.ok && client.SigningSecret() != testSecret {
				t.Fatalf("expected signing secret to be kept")
			}
		})
	}
}

func TestConstructEventVerifiesSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","status":"succeeded"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})

	event, err := constructEvent(payload, signed.Header, testSecret)
	if err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if event.ID != "evt_1" || event.Type != stripe.EventTypePaymentIntentSucceeded {
		t.Fatalf("unexpected event %s %s", event.ID, event.Type)
	}
	if got := event.GetObjectValue("id"); got != "pi_1" {
		t.Fatalf("expected object id pi_1, got %q", got)
	}

	if _, err := constructEvent(payload, signed.Header, "whsec_other"); !errors.Is(err, gateway.ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for wrong secret, got %v", err)
	}
	if _, err := constructEvent(payload, "", testSecret); !errors.Is(err, gateway.ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for missing header, got %v", err)
	}
	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-3] = 'X'
	if _, err := constructEvent(tampered, signed.Header, testSecret); !errors.Is(err, gateway.ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for tampered payload, got %v", err)
	}
}

func TestToCheckoutSession(t *testing.T) {
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got := toCheckoutSession(&stripe.CheckoutSession{
		ID:          "cs_1",
		URL:         "https://checkout.stripe.com/c/cs_1",
		Status:      stripe.CheckoutSessionStatusOpen,
		AmountTotal: 999,
		Currency:    stripe.CurrencyUSD,
		Customer:    &stripe.Customer{ID: "cus_1"},
		ExpiresAt:   expires.Unix(),
	})
	if got.ID != "cs_1" || got.Status != "open" || got.AmountTotal != 999 || got.CustomerID != "cus_1" {
		t.Fatalf("unexpected conversion %+v", got)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry %s, got %v", expires, got.ExpiresAt)
	}
	if toCheckoutSession(nil) != nil {
		t.Fatalf("nil session should convert to nil")
	}
}

func TestToPaymentIntent(t *testing.T) {
	got := toPaymentIntent(&stripe.PaymentIntent{
		ID:               "pi_1",
		ClientSecret:     "pi_1_secret",
		Status:           stripe.PaymentIntentStatusRequiresPaymentMethod,
		LatestCharge:     &stripe.Charge{ID: "ch_1"},
		LastPaymentError: &stripe.Error{Msg: "Your card was declined."},
	})
	if got.Status != "requires_payment_method" || got.LatestChargeID != "ch_1" {
		t.Fatalf("unexpected conversion %+v", got)
	}
	if got.LastError != "Your card was declined." {
		t.Fatalf("expected last error to be carried, got %q", got.LastError)
	}
}

func TestCheckoutParamsDefaults(t *testing.T) {
	g := &stripeGateway{client: &Client{successURL: "https://app/success", cancelURL: "https://app/cancel", defaultCurrency: "usd"}}
	params := g.checkoutParams(gateway.CheckoutSessionInput{
		LineItems:     []gateway.LineItem{{Name: "Pro plan", UnitAmountCents: 999}},
		CustomerEmail: "owner@example.com",
		Metadata:      map[string]string{"planType": "monthly"},
	})
	if *params.SuccessURL != "https://app/success" || *params.CancelURL != "https://app/cancel" {
		t.Fatalf("expected configured redirect urls")
	}
	if len(params.LineItems) != 1 || *params.LineItems[0].Quantity != 1 {
		t.Fatalf("expected quantity to default to 1")
	}
	if *params.LineItems[0].PriceData.Currency != "usd" {
		t.Fatalf("expected default currency")
	}
	if *params.CustomerEmail != "owner@example.com" {
		t.Fatalf("expected customer email")
	}
	if params.Metadata["planType"] != "monthly" {
		t.Fatalf("expected metadata to be forwarded")
	}
}
