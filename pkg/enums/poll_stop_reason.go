package enums

import "fmt"

// Stop reasons recorded on a deactivated polling record.
const (
	PollStopReasonTimeout             = "Polling timeout exceeded"
	PollStopReasonMaxRetries          = "Max retries exceeded"
	PollStopReasonTransactionNotFound = "transaction not found"
)

// PollStopReasonCompleted is the reason used when the transaction reached a terminal status.
func PollStopReasonCompleted(status TransactionStatus) string {
	return fmt.Sprintf("completed with status: %s", status)
}
