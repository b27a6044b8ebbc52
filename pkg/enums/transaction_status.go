package enums

import "fmt"

// TransactionStatus tracks the local lifecycle of a gateway payment attempt.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusSucceeded  TransactionStatus = "succeeded"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCanceled   TransactionStatus = "canceled"
	TransactionStatusExpired    TransactionStatus = "expired"
	TransactionStatusRefunded   TransactionStatus = "refunded"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusProcessing,
	TransactionStatusSucceeded,
	TransactionStatusFailed,
	TransactionStatusCanceled,
	TransactionStatusExpired,
	TransactionStatusRefunded,
}

// String implements fmt.Stringer.
func (s TransactionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TransactionStatus.
func (s TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further reconciliation happens from this status.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusSucceeded,
		TransactionStatusFailed,
		TransactionStatusCanceled,
		TransactionStatusExpired,
		TransactionStatusRefunded:
		return true
	}
	return false
}

// IsSuccess reports whether the status counts as a completed payment.
func (s TransactionStatus) IsSuccess() bool {
	return s == TransactionStatusSucceeded
}

// rank orders statuses along the forward path; terminal statuses share the top rank.
func (s TransactionStatus) rank() int {
	switch s {
	case TransactionStatusPending:
		return 0
	case TransactionStatusProcessing:
		return 1
	case TransactionStatusRefunded:
		return 3
	}
	if s.IsTerminal() {
		return 2
	}
	return -1
}

// CanTransition reports whether moving from s to next is a forward move in the state machine.
// Terminal statuses only ever exit through succeeded -> refunded.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	if !s.IsValid() || !next.IsValid() || s == next {
		return false
	}
	if s.IsTerminal() {
		return s == TransactionStatusSucceeded && next == TransactionStatusRefunded
	}
	if next == TransactionStatusRefunded {
		return false
	}
	return next.rank() > s.rank()
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}
