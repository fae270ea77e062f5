// Package mock provides a scriptable [callprovider.Provider] test double.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/handshake/negotiator/pkg/callprovider"
)

// Provider is a test double that hands out Handles created via PlaceCall.
// Err, if set, causes every PlaceCall to fail with it for as long as it
// stays set.
type Provider struct {
	mu     sync.Mutex
	calls  []*Handle
	nextID int
	Err    error
}

// New creates an empty mock Provider.
func New() *Provider {
	return &Provider{}
}

// PlaceCall implements callprovider.Provider.
func (p *Provider) PlaceCall(_ context.Context, req callprovider.CallRequest) (callprovider.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	p.nextID++
	h := &Handle{
		id:      fmt.Sprintf("call_mock_%04d", p.nextID),
		request: req,
		status:  callprovider.CallInProgress,
	}
	p.calls = append(p.calls, h)
	return h, nil
}

// Calls returns every Handle created so far, in placement order.
func (p *Provider) Calls() []*Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Handle, len(p.calls))
	copy(out, p.calls)
	return out
}

// Handle is a scriptable callprovider.Handle. Test code calls Complete or
// Fail to transition it out of CallInProgress before Poll returns a result.
type Handle struct {
	id      string
	request callprovider.CallRequest

	mu     sync.Mutex
	status callprovider.CallStatus
	result *callprovider.CallResult
}

// CallID implements callprovider.Handle.
func (h *Handle) CallID() string { return h.id }

// Poll implements callprovider.Handle.
func (h *Handle) Poll(_ context.Context) (*callprovider.CallResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == callprovider.CallInProgress {
		return &callprovider.CallResult{Status: callprovider.CallInProgress}, nil
	}
	out := *h.result
	return &out, nil
}

// Complete transitions the call to CallDone with the given transcript and
// per-question answers.
func (h *Handle) Complete(transcript string, answers []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = callprovider.CallDone
	h.result = &callprovider.CallResult{
		Status:     callprovider.CallDone,
		Transcript: transcript,
		Answers:    answers,
	}
}

// Fail transitions the call to CallFailed.
func (h *Handle) Fail() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = callprovider.CallFailed
	h.result = &callprovider.CallResult{Status: callprovider.CallFailed}
}
