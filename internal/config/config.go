// Package config provides the configuration schema, loader, and provider
// registry for the handshake negotiation server.
package config

import "time"

// Config is the root configuration for the negotiation server. It is
// typically loaded from the environment using [Load].
type Config struct {
	Server      ServerConfig
	Providers   ProvidersConfig
	Trigger     TriggerConfig
	Negotiation NegotiationConfig
}

// ServerConfig holds network and logging settings for the server.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP+WS server listens on (e.g. ":8080").
	ListenAddr string

	// LogLevel controls verbosity.
	LogLevel LogLevel
}

// LogLevel is a validated logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level, or empty.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, "":
		return true
	default:
		return false
	}
}

// ProvidersConfig declares which provider implementation to use for each
// external collaborator. Each field selects a named provider registered in
// the [Registry].
type ProvidersConfig struct {
	LLM     ProviderEntry
	STT     ProviderEntry
	Payment ProviderEntry
	Call    ProviderEntry
}

// ProviderEntry is the common configuration block shared by all provider
// types. Name selects the registered constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "openai").
	Name string

	// APIKey is the authentication key for the provider's API.
	APIKey string

	// BaseURL overrides the provider's default API endpoint. Leave empty to
	// use the provider's built-in default.
	BaseURL string

	// Model selects a specific model within the provider (e.g. "gpt-4o-mini").
	Model string
}

// TriggerConfig configures the Trigger Detector's default behaviour.
type TriggerConfig struct {
	// DefaultKeyword is used until a room sets its own via the
	// set_trigger_keyword panel action.
	DefaultKeyword string

	// SemanticCheckEnabled toggles the periodic semantic LLM classifier
	// pass; disabling it leaves only keyword matching active.
	SemanticCheckEnabled bool

	// SemanticCheckInterval is how often the semantic classifier runs.
	SemanticCheckInterval time.Duration

	// WindowSize caps how many recent utterances are kept for keyword and
	// semantic evaluation.
	WindowSize int
}

// NegotiationConfig carries the negotiation engine's bounded protocol
// timers. [DefaultNegotiation] returns the server's contractual invariants;
// these fields exist so tests can shrink the timers rather than to change
// the deployed contract.
type NegotiationConfig struct {
	MaxRounds    int
	RoundTimeout time.Duration
	TotalTimeout time.Duration
}

// DefaultNegotiation returns the invariant negotiation timers.
func DefaultNegotiation() NegotiationConfig {
	return NegotiationConfig{
		MaxRounds:    5,
		RoundTimeout: 90 * time.Second,
		TotalTimeout: 300 * time.Second,
	}
}

// DefaultTrigger returns the default trigger detector configuration.
func DefaultTrigger() TriggerConfig {
	return TriggerConfig{
		DefaultKeyword:        "handshake",
		SemanticCheckEnabled:  true,
		SemanticCheckInterval: 10 * time.Second,
		WindowSize:            100,
	}
}
