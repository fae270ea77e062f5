// Package llm defines the Provider interface for Large Language Model
// backends used by the negotiation server.
//
// This package declares the narrow surface the rest of the server needs — a
// single-shot completion call with optional tool definitions and a
// StopReason the Agent Driver and Verification Driver tool loops can branch
// on. Concrete wire-format handling lives in provider-specific packages such
// as [github.com/handshake/negotiator/pkg/llm/openai].
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns an error only for failures that prevent any response from being
	// produced (auth failure, malformed request, context cancelled before a
	// response arrives). Model-level refusals or empty replies are not errors;
	// they surface as a CompletionResponse with StopReason set.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
