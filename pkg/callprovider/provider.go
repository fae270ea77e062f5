// Package callprovider defines the Provider interface for outbound
// AI-driven phone verification calls used by the Verification Driver's
// phone_verify tool.
//
// Implementations must be safe for concurrent use.
package callprovider

import "context"

// Handle represents a single in-flight outbound call.
type Handle interface {
	// Poll returns the current status and, once CallDone or CallFailed, the
	// final result. Poll may be called repeatedly; it does not block.
	Poll(ctx context.Context) (*CallResult, error)

	// CallID is a provider-assigned identifier for diagnostics and logging.
	CallID() string
}

// Provider is the abstraction over any outbound voice-call backend.
type Provider interface {
	// PlaceCall starts an outbound AI-driven call and returns immediately
	// with a Handle to poll for completion. The call asks req.Questions in
	// order and records the contact's responses.
	PlaceCall(ctx context.Context, req CallRequest) (Handle, error)
}
