package enums

import "fmt"

// TransactionKind identifies which gateway object backs a transaction.
type TransactionKind string

const (
	TransactionKindCheckoutSession TransactionKind = "checkout_session"
	TransactionKindPaymentIntent   TransactionKind = "payment_intent"
	TransactionKindSubscription    TransactionKind = "subscription"
)

var validTransactionKinds = []TransactionKind{
	TransactionKindCheckoutSession,
	TransactionKindPaymentIntent,
	TransactionKindSubscription,
}

// String implements fmt.Stringer.
func (k TransactionKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known TransactionKind.
func (k TransactionKind) IsValid() bool {
	for _, candidate := range validTransactionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// IsPollable reports whether the background poller tracks this kind.
// Subscriptions are driven by invoice webhooks only.
func (k TransactionKind) IsPollable() bool {
	return k == TransactionKindCheckoutSession || k == TransactionKindPaymentIntent
}

// ParseTransactionKind converts raw input into a TransactionKind.
func ParseTransactionKind(value string) (TransactionKind, error) {
	for _, candidate := range validTransactionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction kind %q", value)
}
