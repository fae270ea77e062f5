package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":     {"openai"},
	"stt":     {"deepgram", "whisper"},
	"payment": {"stripe", "internal-ledger"},
	"call":    {"twilio-ai", "bland"},
}

// Load reads configuration from the process environment and returns a
// validated [Config]. Values are read directly with os.Getenv — config
// loading itself carries no engineering weight here; the Config struct and
// [Registry] indirection it feeds are what downstream code depends on.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			ListenAddr: envOr("HANDSHAKE_LISTEN_ADDR", ":8080"),
			LogLevel:   LogLevel(envOr("HANDSHAKE_LOG_LEVEL", string(LogLevelInfo))),
		},
		Providers: ProvidersConfig{
			LLM: ProviderEntry{
				Name:    envOr("HANDSHAKE_LLM_PROVIDER", "openai"),
				APIKey:  os.Getenv("HANDSHAKE_LLM_API_KEY"),
				BaseURL: os.Getenv("HANDSHAKE_LLM_BASE_URL"),
				Model:   envOr("HANDSHAKE_LLM_MODEL", "gpt-4o-mini"),
			},
			STT: ProviderEntry{
				Name:    envOr("HANDSHAKE_STT_PROVIDER", "deepgram"),
				APIKey:  os.Getenv("HANDSHAKE_STT_API_KEY"),
				BaseURL: os.Getenv("HANDSHAKE_STT_BASE_URL"),
				Model:   os.Getenv("HANDSHAKE_STT_MODEL"),
			},
			Payment: ProviderEntry{
				Name:    envOr("HANDSHAKE_PAYMENT_PROVIDER", "stripe"),
				APIKey:  os.Getenv("HANDSHAKE_PAYMENT_API_KEY"),
				BaseURL: os.Getenv("HANDSHAKE_PAYMENT_BASE_URL"),
			},
			Call: ProviderEntry{
				Name:    envOr("HANDSHAKE_CALL_PROVIDER", "twilio-ai"),
				APIKey:  os.Getenv("HANDSHAKE_CALL_API_KEY"),
				BaseURL: os.Getenv("HANDSHAKE_CALL_BASE_URL"),
			},
		},
		Trigger:     DefaultTrigger(),
		Negotiation: DefaultNegotiation(),
	}

	if v := os.Getenv("HANDSHAKE_TRIGGER_KEYWORD"); v != "" {
		cfg.Trigger.DefaultKeyword = v
	}
	if v := os.Getenv("HANDSHAKE_TRIGGER_SEMANTIC_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: HANDSHAKE_TRIGGER_SEMANTIC_ENABLED: %w", err)
		}
		cfg.Trigger.SemanticCheckEnabled = b
	}
	if v := os.Getenv("HANDSHAKE_TRIGGER_SEMANTIC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: HANDSHAKE_TRIGGER_SEMANTIC_INTERVAL: %w", err)
		}
		cfg.Trigger.SemanticCheckInterval = d
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server log level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("payment", cfg.Providers.Payment.Name)
	validateProviderName("call", cfg.Providers.Call.Name)

	if cfg.Providers.LLM.APIKey == "" {
		slog.Warn("no LLM provider API key configured; agent driver and document generation will fail at runtime")
	}
	if cfg.Providers.STT.APIKey == "" {
		slog.Warn("no STT provider API key configured; audio transcription will fail at runtime")
	}

	if cfg.Negotiation.MaxRounds <= 0 {
		errs = append(errs, fmt.Errorf("negotiation max rounds must be positive, got %d", cfg.Negotiation.MaxRounds))
	}
	if cfg.Negotiation.RoundTimeout <= 0 {
		errs = append(errs, fmt.Errorf("negotiation round timeout must be positive, got %s", cfg.Negotiation.RoundTimeout))
	}
	if cfg.Negotiation.TotalTimeout <= 0 {
		errs = append(errs, fmt.Errorf("negotiation total timeout must be positive, got %s", cfg.Negotiation.TotalTimeout))
	}
	if cfg.Trigger.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("trigger window size must be positive, got %d", cfg.Trigger.WindowSize))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
