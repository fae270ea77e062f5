// Package mock provides a scriptable [llm.Provider] test double.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/handshake/negotiator/pkg/llm"
)

// Provider is a scriptable [llm.Provider]. Responses is consumed in FIFO
// order by successive Complete calls; once exhausted, Complete returns
// ErrExhausted.
type Provider struct {
	mu        sync.Mutex
	Responses []llm.CompletionResponse
	Requests  []llm.CompletionRequest // recorded for assertions
	Err       error                   // if set, returned instead of a response
}

// ErrExhausted is returned once all scripted responses have been consumed.
var ErrExhausted = fmt.Errorf("llm/mock: no more scripted responses")

// New creates a Provider that returns responses in order.
func New(responses ...llm.CompletionResponse) *Provider {
	return &Provider{Responses: responses}
}

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)

	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Responses) == 0 {
		return nil, ErrExhausted
	}
	resp := p.Responses[0]
	p.Responses = p.Responses[1:]
	return &resp, nil
}

// CallCount returns the number of Complete calls recorded so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}
