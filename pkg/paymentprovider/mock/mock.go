// Package mock provides an in-memory [paymentprovider.Provider] test double
// backed by a simple ledger, with injectable failures for exercising the
// Payment Executor's error paths.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/handshake/negotiator/pkg/paymentprovider"
)

// Provider is an in-memory stand-in for a real payment backend.
type Provider struct {
	mu sync.Mutex

	intents     map[string]*paymentprovider.PaymentIntent
	idempotency map[string]string // idempotency key -> payment intent ID
	balances    map[string]paymentprovider.Balance
	nextID      int

	// TransferErr, CaptureErr, ReleaseErr, HoldErr force the next matching
	// call to fail, then reset to nil. Useful for exercising the Payment
	// Executor's capture/release failure handling.
	TransferErr error
	HoldErr     error
	CaptureErr  error
	ReleaseErr  error
}

// New creates an empty mock Provider.
func New() *Provider {
	return &Provider{
		intents:     map[string]*paymentprovider.PaymentIntent{},
		idempotency: map[string]string{},
		balances:    map[string]paymentprovider.Balance{},
	}
}

// SetBalance seeds the balance reported for accountID.
func (p *Provider) SetBalance(accountID string, bal paymentprovider.Balance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bal.AccountID = accountID
	p.balances[accountID] = bal
}

// Intent returns a copy of the current state of paymentIntentID, if known.
func (p *Provider) Intent(paymentIntentID string) (paymentprovider.PaymentIntent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pi, ok := p.intents[paymentIntentID]
	if !ok {
		return paymentprovider.PaymentIntent{}, false
	}
	return *pi, true
}

func (p *Provider) allocateID() string {
	p.nextID++
	return fmt.Sprintf("pi_mock_%04d", p.nextID)
}

// Transfer implements paymentprovider.Provider.
func (p *Provider) Transfer(_ context.Context, req paymentprovider.TransferRequest) (*paymentprovider.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.TransferErr; err != nil {
		p.TransferErr = nil
		return nil, err
	}
	if existingID, ok := p.idempotency[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		existing := *p.intents[existingID]
		return &existing, nil
	}

	id := p.allocateID()
	pi := &paymentprovider.PaymentIntent{
		PaymentIntentID: id,
		Status:          paymentprovider.IntentSucceeded,
		Amount:          req.Amount,
		Currency:        req.Currency,
	}
	p.intents[id] = pi
	if req.IdempotencyKey != "" {
		p.idempotency[req.IdempotencyKey] = id
	}
	out := *pi
	return &out, nil
}

// CreateHold implements paymentprovider.Provider.
func (p *Provider) CreateHold(_ context.Context, req paymentprovider.HoldRequest) (*paymentprovider.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.HoldErr; err != nil {
		p.HoldErr = nil
		return nil, err
	}
	if existingID, ok := p.idempotency[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		existing := *p.intents[existingID]
		return &existing, nil
	}

	id := p.allocateID()
	pi := &paymentprovider.PaymentIntent{
		PaymentIntentID: id,
		Status:          paymentprovider.IntentHeld,
		Amount:          req.Amount,
		Currency:        req.Currency,
	}
	p.intents[id] = pi
	if req.IdempotencyKey != "" {
		p.idempotency[req.IdempotencyKey] = id
	}
	out := *pi
	return &out, nil
}

// Capture implements paymentprovider.Provider.
func (p *Provider) Capture(_ context.Context, paymentIntentID string, amount int64) (*paymentprovider.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.CaptureErr; err != nil {
		p.CaptureErr = nil
		return nil, err
	}
	pi, ok := p.intents[paymentIntentID]
	if !ok {
		return nil, fmt.Errorf("paymentprovider/mock: unknown payment intent %q", paymentIntentID)
	}
	if pi.Status != paymentprovider.IntentHeld {
		return nil, fmt.Errorf("paymentprovider/mock: payment intent %q is not held (status %s)", paymentIntentID, pi.Status)
	}
	if amount > pi.Amount {
		return nil, fmt.Errorf("paymentprovider/mock: capture amount %d exceeds authorized %d", amount, pi.Amount)
	}

	pi.Status = paymentprovider.IntentCaptured
	pi.CapturedAmount = amount
	out := *pi
	return &out, nil
}

// Release implements paymentprovider.Provider.
func (p *Provider) Release(_ context.Context, paymentIntentID string) (*paymentprovider.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ReleaseErr; err != nil {
		p.ReleaseErr = nil
		return nil, err
	}
	pi, ok := p.intents[paymentIntentID]
	if !ok {
		return nil, fmt.Errorf("paymentprovider/mock: unknown payment intent %q", paymentIntentID)
	}
	if pi.Status != paymentprovider.IntentHeld {
		return nil, fmt.Errorf("paymentprovider/mock: payment intent %q is not held (status %s)", paymentIntentID, pi.Status)
	}

	pi.Status = paymentprovider.IntentReleased
	out := *pi
	return &out, nil
}

// Balance implements paymentprovider.Provider.
func (p *Provider) Balance(_ context.Context, accountID string) (*paymentprovider.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bal, ok := p.balances[accountID]
	if !ok {
		return &paymentprovider.Balance{AccountID: accountID}, nil
	}
	out := bal
	return &out, nil
}
