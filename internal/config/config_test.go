package config_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handshake/negotiator/internal/config"
	"github.com/handshake/negotiator/pkg/callprovider"
	"github.com/handshake/negotiator/pkg/llm"
	"github.com/handshake/negotiator/pkg/paymentprovider"
	"github.com/handshake/negotiator/pkg/sttprovider"
)

func TestLogLevel_IsValid(t *testing.T) {
	assert.True(t, config.LogLevelDebug.IsValid())
	assert.True(t, config.LogLevelInfo.IsValid())
	assert.True(t, config.LogLevel("").IsValid())
	assert.False(t, config.LogLevel("verbose").IsValid())
}

func TestDefaultNegotiation(t *testing.T) {
	neg := config.DefaultNegotiation()
	assert.Equal(t, 5, neg.MaxRounds)
}

func TestDefaultTrigger(t *testing.T) {
	trig := config.DefaultTrigger()
	assert.Equal(t, 100, trig.WindowSize)
	assert.True(t, trig.SemanticCheckEnabled)
}

func TestValidate_RejectsNonPositiveTimers(t *testing.T) {
	cfg := &config.Config{
		Server:      config.ServerConfig{LogLevel: config.LogLevelInfo},
		Negotiation: config.NegotiationConfig{MaxRounds: 0},
		Trigger:     config.DefaultTrigger(),
	}
	err := config.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max rounds")
}

// ── Registry ─────────────────────────────────────────────────────────────

type stubLLM struct{}

func (stubLLM) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{}, nil
}

type stubSTT struct{}

func (stubSTT) StartStream(context.Context, sttprovider.StreamConfig) (sttprovider.SessionHandle, error) {
	return nil, nil
}

type stubPayment struct{}

func (stubPayment) Transfer(context.Context, paymentprovider.TransferRequest) (*paymentprovider.PaymentIntent, error) {
	return nil, nil
}
func (stubPayment) CreateHold(context.Context, paymentprovider.HoldRequest) (*paymentprovider.PaymentIntent, error) {
	return nil, nil
}
func (stubPayment) Capture(context.Context, string, int64) (*paymentprovider.PaymentIntent, error) {
	return nil, nil
}
func (stubPayment) Release(context.Context, string) (*paymentprovider.PaymentIntent, error) {
	return nil, nil
}
func (stubPayment) Balance(context.Context, string) (*paymentprovider.Balance, error) {
	return nil, nil
}

type stubCall struct{}

func (stubCall) PlaceCall(context.Context, callprovider.CallRequest) (callprovider.Handle, error) {
	return nil, nil
}

func TestRegistry_CreateLLM(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) {
		return stubLLM{}, nil
	})

	p, err := reg.CreateLLM(config.ProviderEntry{Name: "openai"})
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = reg.CreateLLM(config.ProviderEntry{Name: "unknown"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrProviderNotRegistered))
}

func TestRegistry_CreateSTT(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterSTT("deepgram", func(config.ProviderEntry) (sttprovider.Provider, error) {
		return stubSTT{}, nil
	})

	p, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram"})
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestRegistry_CreatePayment(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterPayment("stripe", func(config.ProviderEntry) (paymentprovider.Provider, error) {
		return stubPayment{}, nil
	})

	p, err := reg.CreatePayment(config.ProviderEntry{Name: "stripe"})
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = reg.CreatePayment(config.ProviderEntry{Name: "nope"})
	require.ErrorIs(t, err, config.ErrProviderNotRegistered)
}

func TestRegistry_CreateCall(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterCall("twilio-ai", func(config.ProviderEntry) (callprovider.Provider, error) {
		return stubCall{}, nil
	})

	p, err := reg.CreateCall(config.ProviderEntry{Name: "twilio-ai"})
	require.NoError(t, err)
	assert.NotNil(t, p)
}
