package gateway

import (
	"strings"

	"github.com/angelmondragon/paysync/pkg/enums"
)

var statusTable = map[string]enums.TransactionStatus{
	"open":                    enums.TransactionStatusPending,
	"complete":                enums.TransactionStatusSucceeded,
	"expired":                 enums.TransactionStatusExpired,
	"requires_payment_method": enums.TransactionStatusPending,
	"requires_confirmation":   enums.TransactionStatusPending,
	"requires_action":         enums.TransactionStatusPending,
	"processing":              enums.TransactionStatusProcessing,
	"requires_capture":        enums.TransactionStatusProcessing,
	"canceled":                enums.TransactionStatusCanceled,
	"succeeded":               enums.TransactionStatusSucceeded,
}

// MapStatus translates the gateway's status vocabulary into a TransactionStatus.
// Unknown values map to pending.
func MapStatus(raw string) enums.TransactionStatus {
	if status, ok := statusTable[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return status
	}
	return enums.TransactionStatusPending
}
