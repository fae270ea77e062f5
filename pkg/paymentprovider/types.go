package paymentprovider

import "time"

// TransferRequest describes an immediate, non-reversible funds transfer.
type TransferRequest struct {
	// IdempotencyKey deduplicates retried requests; the same key submitted
	// twice must produce the same PaymentIntent rather than a second charge.
	IdempotencyKey string

	Amount             int64 // minor units (e.g. cents)
	Currency           string
	RecipientAccountID string
	Description        string
}

// HoldRequest describes a manual-capture authorization.
type HoldRequest struct {
	IdempotencyKey string

	Amount             int64 // maximum authorized amount, minor units
	Currency           string
	RecipientAccountID string
	Description        string
}

// PaymentIntent is the provider's record of a single payment operation,
// whether an immediate transfer or an escrow hold.
type PaymentIntent struct {
	PaymentIntentID string
	Status          IntentStatus
	Amount          int64 // authorized (hold) or transferred (immediate) amount
	CapturedAmount  int64 // set once a hold has been captured
	Currency        string
	CreatedAt       time.Time
}

// IntentStatus is the provider-side lifecycle state of a PaymentIntent.
type IntentStatus string

const (
	IntentSucceeded IntentStatus = "succeeded"
	IntentHeld      IntentStatus = "held"
	IntentCaptured  IntentStatus = "captured"
	IntentReleased  IntentStatus = "released"
)

// Balance reports available and pending funds for an account, used by the
// check_balance agent tool.
type Balance struct {
	AccountID string
	Available int64
	Pending   int64
	Currency  string
}
