package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/handshake/negotiator/pkg/callprovider"
	"github.com/handshake/negotiator/pkg/llm"
	"github.com/handshake/negotiator/pkg/paymentprovider"
	"github.com/handshake/negotiator/pkg/sttprovider"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	llm     map[string]func(ProviderEntry) (llm.Provider, error)
	stt     map[string]func(ProviderEntry) (sttprovider.Provider, error)
	payment map[string]func(ProviderEntry) (paymentprovider.Provider, error)
	call    map[string]func(ProviderEntry) (callprovider.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:     make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt:     make(map[string]func(ProviderEntry) (sttprovider.Provider, error)),
		payment: make(map[string]func(ProviderEntry) (paymentprovider.Provider, error)),
		call:    make(map[string]func(ProviderEntry) (callprovider.Provider, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name. Subsequent calls
// with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (sttprovider.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterPayment registers a payment provider factory under name.
func (r *Registry) RegisterPayment(name string, factory func(ProviderEntry) (paymentprovider.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payment[name] = factory
}

// RegisterCall registers an outbound call provider factory under name.
func (r *Registry) RegisterCall(name string, factory func(ProviderEntry) (callprovider.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (sttprovider.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreatePayment instantiates a payment provider using the factory registered
// under entry.Name.
func (r *Registry) CreatePayment(entry ProviderEntry) (paymentprovider.Provider, error) {
	r.mu.RLock()
	factory, ok := r.payment[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: payment/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCall instantiates an outbound call provider using the factory
// registered under entry.Name.
func (r *Registry) CreateCall(entry ProviderEntry) (callprovider.Provider, error) {
	r.mu.RLock()
	factory, ok := r.call[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: call/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
