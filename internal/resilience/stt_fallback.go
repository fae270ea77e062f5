package resilience

import (
	"context"

	"github.com/handshake/negotiator/pkg/sttprovider"
)

// STTFallback implements [sttprovider.Provider] with automatic failover across
// multiple STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[sttprovider.Provider]
}

// Compile-time interface assertion.
var _ sttprovider.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary sttprovider.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider sttprovider.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a streaming transcription session against the first healthy
// provider. If the primary fails to start the stream, subsequent fallbacks are
// tried.
func (f *STTFallback) StartStream(ctx context.Context, cfg sttprovider.StreamConfig) (sttprovider.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p sttprovider.Provider) (sttprovider.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
