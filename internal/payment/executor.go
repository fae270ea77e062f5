// Package payment implements the Payment Executor: the three payment
// primitives the agent and verification tool loops call against an external
// payment provider — immediate transfer, escrow hold, and capture/release.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/handshake/negotiator/pkg/paymentprovider"
)

var (
	// ErrInvalidAmount is returned when amount <= 0.
	ErrInvalidAmount = errors.New("payment: amount must be positive")
	// ErrCurrencyRequired is returned when currency is empty.
	ErrCurrencyRequired = errors.New("payment: currency must be set")
	// ErrRecipientRequired is returned when the recipient account is empty.
	ErrRecipientRequired = errors.New("payment: recipient account must be set")
	// ErrHoldNotFound is returned when an operation names an unknown hold ID.
	ErrHoldNotFound = errors.New("payment: unknown escrow hold")
	// ErrHoldNotHeld is returned by Capture/Release when the hold is not
	// currently in the held state.
	ErrHoldNotHeld = errors.New("payment: escrow hold is not held")
	// ErrCaptureExceedsAuthorization is returned when a capture amount is
	// greater than the hold's authorized maximum.
	ErrCaptureExceedsAuthorization = errors.New("payment: capture amount exceeds authorized hold")
)

// TransferRequest describes an immediate, irreversible payment.
type TransferRequest struct {
	Amount             int64
	Currency           string
	RecipientAccountID string
	Description        string
}

// TransferResult is returned by ExecutePayment.
type TransferResult struct {
	Success         bool
	PaymentIntentID string
	TransferID      string
	Error           string
}

// HoldRequest describes a manual-capture escrow authorization.
type HoldRequest struct {
	Amount             int64 // worst-case maximum
	Currency           string
	RecipientAccountID string
	Description        string
}

// HoldStatus is the lifecycle state of an [EscrowHold]. Terminal states
// (captured, released) are sticky.
type HoldStatus string

const (
	HoldHeld      HoldStatus = "held"
	HoldCaptured  HoldStatus = "captured"
	HoldReleased  HoldStatus = "released"
)

// EscrowHold is the Executor's process-local record of a manual-capture
// payment intent. The provider remains the authoritative source of truth
// for the underlying intent's status.
type EscrowHold struct {
	HoldID              string
	Amount              int64 // authorized maximum
	Currency            string
	Status              HoldStatus
	PaymentIntentID     string
	RecipientAccountID  string
	CapturedAmount      int64
	CreatedAt           time.Time
}

// Executor wraps a [paymentprovider.Provider] with the validation,
// idempotency-key derivation, and process-local hold bookkeeping the agent
// and verification payment tools need.
type Executor struct {
	provider paymentprovider.Provider

	mu    sync.Mutex
	holds map[string]*EscrowHold
}

// New creates an Executor backed by provider.
func New(provider paymentprovider.Provider) *Executor {
	return &Executor{provider: provider, holds: make(map[string]*EscrowHold)}
}

func validate(amount int64, currency, recipient string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if currency == "" {
		return ErrCurrencyRequired
	}
	if recipient == "" {
		return ErrRecipientRequired
	}
	return nil
}

// idempotencyKey derives a stable key from recipient, amount, and the
// current time so retried calls within the same instant collapse to one
// provider-side operation, while later legitimately distinct calls to the
// same recipient/amount still get distinct keys.
func idempotencyKey(recipient string, amount int64) string {
	return fmt.Sprintf("%s:%d:%d", recipient, amount, time.Now().UnixNano())
}

// ExecutePayment creates a confirmed, immediate payment intent transferring
// req.Amount to req.RecipientAccountID.
func (e *Executor) ExecutePayment(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if err := validate(req.Amount, req.Currency, req.RecipientAccountID); err != nil {
		return TransferResult{Success: false, Error: err.Error()}, err
	}

	pi, err := e.provider.Transfer(ctx, paymentprovider.TransferRequest{
		IdempotencyKey:     idempotencyKey(req.RecipientAccountID, req.Amount),
		Amount:             req.Amount,
		Currency:           req.Currency,
		RecipientAccountID: req.RecipientAccountID,
		Description:        req.Description,
	})
	if err != nil {
		return TransferResult{Success: false, Error: err.Error()}, fmt.Errorf("payment: execute transfer: %w", err)
	}

	return TransferResult{
		Success:         true,
		PaymentIntentID: pi.PaymentIntentID,
		TransferID:      pi.PaymentIntentID,
	}, nil
}

// CreateEscrowHold authorizes req.Amount (the worst-case maximum) without
// moving funds, and registers a process-local [EscrowHold] with status
// HoldHeld.
func (e *Executor) CreateEscrowHold(ctx context.Context, req HoldRequest) (EscrowHold, error) {
	if err := validate(req.Amount, req.Currency, req.RecipientAccountID); err != nil {
		return EscrowHold{}, err
	}

	pi, err := e.provider.CreateHold(ctx, paymentprovider.HoldRequest{
		IdempotencyKey:     idempotencyKey(req.RecipientAccountID, req.Amount),
		Amount:             req.Amount,
		Currency:           req.Currency,
		RecipientAccountID: req.RecipientAccountID,
		Description:        req.Description,
	})
	if err != nil {
		return EscrowHold{}, fmt.Errorf("payment: create escrow hold: %w", err)
	}

	hold := EscrowHold{
		HoldID:             uuid.NewString(),
		Amount:             req.Amount,
		Currency:           req.Currency,
		Status:             HoldHeld,
		PaymentIntentID:    pi.PaymentIntentID,
		RecipientAccountID: req.RecipientAccountID,
		CreatedAt:          time.Now(),
	}

	e.mu.Lock()
	e.holds[hold.HoldID] = &hold
	e.mu.Unlock()

	return hold, nil
}

// Hold returns a copy of the process-local record for holdID.
func (e *Executor) Hold(holdID string) (EscrowHold, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.holds[holdID]
	if !ok {
		return EscrowHold{}, fmt.Errorf("%w: %s", ErrHoldNotFound, holdID)
	}
	return *h, nil
}

// CaptureEscrow captures amount against holdID. A nil amount captures the
// full authorization. Rejects with [ErrHoldNotHeld] if the hold is not
// currently held, and with [ErrCaptureExceedsAuthorization] if amount
// exceeds the authorized maximum.
func (e *Executor) CaptureEscrow(ctx context.Context, holdID string, amount *int64) (EscrowHold, error) {
	e.mu.Lock()
	h, ok := e.holds[holdID]
	if !ok {
		e.mu.Unlock()
		return EscrowHold{}, fmt.Errorf("%w: %s", ErrHoldNotFound, holdID)
	}
	if h.Status != HoldHeld {
		e.mu.Unlock()
		return EscrowHold{}, fmt.Errorf("%w: %s", ErrHoldNotHeld, holdID)
	}
	captureAmount := h.Amount
	if amount != nil {
		captureAmount = *amount
	}
	if captureAmount > h.Amount {
		e.mu.Unlock()
		return EscrowHold{}, fmt.Errorf("%w: %d > %d", ErrCaptureExceedsAuthorization, captureAmount, h.Amount)
	}
	paymentIntentID := h.PaymentIntentID
	e.mu.Unlock()

	pi, err := e.provider.Capture(ctx, paymentIntentID, captureAmount)
	if err != nil {
		return EscrowHold{}, fmt.Errorf("payment: capture escrow: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	h.Status = HoldCaptured
	h.CapturedAmount = pi.CapturedAmount
	return *h, nil
}

// ReleaseEscrow cancels holdID, returning the authorization without moving
// funds. Rejects with [ErrHoldNotHeld] if not currently held.
func (e *Executor) ReleaseEscrow(ctx context.Context, holdID string) (EscrowHold, error) {
	e.mu.Lock()
	h, ok := e.holds[holdID]
	if !ok {
		e.mu.Unlock()
		return EscrowHold{}, fmt.Errorf("%w: %s", ErrHoldNotFound, holdID)
	}
	if h.Status != HoldHeld {
		e.mu.Unlock()
		return EscrowHold{}, fmt.Errorf("%w: %s", ErrHoldNotHeld, holdID)
	}
	paymentIntentID := h.PaymentIntentID
	e.mu.Unlock()

	_, err := e.provider.Release(ctx, paymentIntentID)
	if err != nil {
		return EscrowHold{}, fmt.Errorf("payment: release escrow: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	h.Status = HoldReleased
	return *h, nil
}

// HoldByPaymentIntent looks up a hold by its provider-assigned payment
// intent ID, for callers (e.g. the release-escrow HTTP endpoint) that only
// know the intent ID and not the Executor's internal hold ID.
func (e *Executor) HoldByPaymentIntent(paymentIntentID string) (EscrowHold, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.holds {
		if h.PaymentIntentID == paymentIntentID {
			return *h, nil
		}
	}
	return EscrowHold{}, fmt.Errorf("%w: payment intent %s", ErrHoldNotFound, paymentIntentID)
}

// CaptureEscrowByPaymentIntent captures amount (nil for full authorization)
// against the hold matching paymentIntentID.
func (e *Executor) CaptureEscrowByPaymentIntent(ctx context.Context, paymentIntentID string, amount *int64) (EscrowHold, error) {
	h, err := e.HoldByPaymentIntent(paymentIntentID)
	if err != nil {
		return EscrowHold{}, err
	}
	return e.CaptureEscrow(ctx, h.HoldID, amount)
}

// Balance reports available and pending funds for accountID.
func (e *Executor) Balance(ctx context.Context, accountID string) (paymentprovider.Balance, error) {
	bal, err := e.provider.Balance(ctx, accountID)
	if err != nil {
		return paymentprovider.Balance{}, fmt.Errorf("payment: balance: %w", err)
	}
	return *bal, nil
}
