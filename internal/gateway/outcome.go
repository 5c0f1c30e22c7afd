package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// OutcomeStatus tags the result of one logical gateway call
type OutcomeStatus string

const (
	// OutcomeSucceeded means the gateway confirmed the operation. For charges
	// this requires a CAPTURED or AUTHORIZED status, or an INITIATED status
	// carrying a redirect URL for 3-D Secure flows.
	OutcomeSucceeded OutcomeStatus = "succeeded"

	// OutcomeTerminal means the gateway explicitly declined. Terminal results
	// carry a user-facing message derived from the decline-code table and are
	// never retried.
	OutcomeTerminal OutcomeStatus = "terminal"

	// OutcomeExhausted means the retry budget ran out without a definitive
	// answer. The charge may or may not exist on the remote side; callers
	// must reconcile before treating it as either success or failure.
	OutcomeExhausted OutcomeStatus = "exhausted"
)

// Outcome is the tagged result of one logical charge-or-query operation.
// Callers must branch on Status explicitly rather than guessing intent from
// an error value.
type Outcome struct {
	Status        OutcomeStatus
	ChargeID      string // External transaction id, empty when unknown
	GatewayStatus string // Raw gateway status for audit
	Fee           decimal.Decimal

	RequiresAction bool   // 3-D Secure / redirect flow pending
	RedirectURL    string // Where to send the payer when RequiresAction

	DeclineCode string // Gateway decline/error code on terminal outcomes
	UserMessage string // Safe to show to the end user
	Attempts    int
	LastError   string // Last transport error on exhausted outcomes

	Raw json.RawMessage // Full gateway payload for the audit trail
}

// Succeeded reports a confirmed gateway result
func (o *Outcome) Succeeded() bool {
	return o.Status == OutcomeSucceeded
}

// TerminalError is returned by non-charge operations when the gateway
// explicitly rejected the request. It is never retried.
type TerminalError struct {
	StatusCode  int
	Code        string
	Message     string // Gateway message, for logs only
	UserMessage string // From the decline-code table, safe to surface
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("gateway rejected request (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
}

// ExhaustedError is returned when the retry budget ran out without a
// definitive gateway answer. It must not be treated as a known failure.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gateway call exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// Gateway charge statuses. CAPTURED and AUTHORIZED confirm funds; INITIATED
// means the payer must complete a redirect step first.
const (
	StatusCaptured   = "CAPTURED"
	StatusAuthorized = "AUTHORIZED"
	StatusInitiated  = "INITIATED"
	StatusInProgress = "IN_PROGRESS"
	StatusDeclined   = "DECLINED"
	StatusRestricted = "RESTRICTED"
	StatusAbandoned  = "ABANDONED"
	StatusFailed     = "FAILED"
	StatusTimedOut   = "TIMED_OUT"
	StatusUnknown    = "UNKNOWN"
	StatusCancelled  = "CANCELLED"
)

// retryableStatusCodes is the allow-list of HTTP statuses worth retrying.
// Everything else terminates the call immediately.
var retryableStatusCodes = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// declineMessages maps gateway decline codes to user-facing messages. Raw
// gateway internals never reach the end user.
var declineMessages = map[string]string{
	"INSUFFICIENT_FUNDS":    "The payment was declined due to insufficient funds.",
	"CARD_DECLINED":         "Your card was declined. Please try a different card.",
	"EXPIRED_CARD":          "This card has expired. Please use a different card.",
	"INVALID_CVV":           "The security code entered is incorrect.",
	"INVALID_CARD_NUMBER":   "The card number entered is invalid.",
	"INVALID_CUSTOMER":      "The payment details could not be verified.",
	"RESTRICTED_CARD":       "This card cannot be used for this payment.",
	"AUTHENTICATION_FAILED": "Payment authentication failed. Please try again.",
	"PROCESSING_ERROR":      "The payment could not be processed. Please try again.",
}

// defaultDeclineMessage is used when no decline code matched the table
const defaultDeclineMessage = "Your payment could not be processed. Please try again or use a different payment method."

// userMessageForCode resolves a decline code to a user-facing message
func userMessageForCode(code string) string {
	if msg, ok := declineMessages[code]; ok {
		return msg
	}
	return defaultDeclineMessage
}
