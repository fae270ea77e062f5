// Package paymentprovider defines the Provider interface for payment
// backends used by the Payment Executor: immediate transfers and
// manual-capture escrow holds.
//
// Implementations must be safe for concurrent use.
package paymentprovider

import "context"

// Provider is the abstraction over any payment backend (a card/ACH
// processor, an internal ledger service, or similar).
type Provider interface {
	// Transfer moves funds immediately and irreversibly to RecipientAccountID.
	Transfer(ctx context.Context, req TransferRequest) (*PaymentIntent, error)

	// CreateHold authorizes up to Amount without moving funds. The returned
	// PaymentIntent has Status IntentHeld.
	CreateHold(ctx context.Context, req HoldRequest) (*PaymentIntent, error)

	// Capture captures funds against a held PaymentIntent. amount must not
	// exceed the intent's authorized Amount; the provider rejects the call
	// if the intent is not currently IntentHeld.
	Capture(ctx context.Context, paymentIntentID string, amount int64) (*PaymentIntent, error)

	// Release cancels a held PaymentIntent, returning the authorization to
	// the payer without moving funds. The provider rejects the call if the
	// intent is not currently IntentHeld.
	Release(ctx context.Context, paymentIntentID string) (*PaymentIntent, error)

	// Balance reports available and pending funds for accountID.
	Balance(ctx context.Context, accountID string) (*Balance, error)
}
