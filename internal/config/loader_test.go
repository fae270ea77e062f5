package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handshake/negotiator/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"HANDSHAKE_LISTEN_ADDR", "HANDSHAKE_LOG_LEVEL",
		"HANDSHAKE_LLM_PROVIDER", "HANDSHAKE_LLM_API_KEY", "HANDSHAKE_LLM_MODEL",
		"HANDSHAKE_STT_PROVIDER", "HANDSHAKE_PAYMENT_PROVIDER", "HANDSHAKE_CALL_PROVIDER",
		"HANDSHAKE_TRIGGER_KEYWORD", "HANDSHAKE_TRIGGER_SEMANTIC_ENABLED", "HANDSHAKE_TRIGGER_SEMANTIC_INTERVAL",
	} {
		t.Setenv(k, "")
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, config.LogLevelInfo, cfg.Server.LogLevel)
	assert.Equal(t, "openai", cfg.Providers.LLM.Name)
	assert.Equal(t, 5, cfg.Negotiation.MaxRounds)
	assert.True(t, cfg.Trigger.SemanticCheckEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HANDSHAKE_LISTEN_ADDR", ":9090")
	t.Setenv("HANDSHAKE_LOG_LEVEL", "debug")
	t.Setenv("HANDSHAKE_TRIGGER_KEYWORD", "shake on it")
	t.Setenv("HANDSHAKE_TRIGGER_SEMANTIC_ENABLED", "false")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, config.LogLevelDebug, cfg.Server.LogLevel)
	assert.Equal(t, "shake on it", cfg.Trigger.DefaultKeyword)
	assert.False(t, cfg.Trigger.SemanticCheckEnabled)
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	t.Setenv("HANDSHAKE_LOG_LEVEL", "verbose")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
}

func TestLoad_InvalidSemanticEnabledFlag(t *testing.T) {
	t.Setenv("HANDSHAKE_TRIGGER_SEMANTIC_ENABLED", "not-a-bool")
	_, err := config.Load()
	require.Error(t, err)
}

func TestValidProviderNames(t *testing.T) {
	require.NotEmpty(t, config.ValidProviderNames)
	assert.Contains(t, config.ValidProviderNames["llm"], "openai")
}
