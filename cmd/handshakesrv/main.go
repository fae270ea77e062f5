// Command handshakesrv is the entry point for the voice-to-contract
// negotiation server: it loads configuration, wires the LLM/STT/payment/call
// providers, constructs the room registry, and serves the HTTP+WebSocket API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/handshake/negotiator/internal/config"
	"github.com/handshake/negotiator/internal/health"
	"github.com/handshake/negotiator/internal/negotiation"
	"github.com/handshake/negotiator/internal/observe"
	"github.com/handshake/negotiator/internal/panel"
	"github.com/handshake/negotiator/internal/payment"
	"github.com/handshake/negotiator/internal/profile"
	"github.com/handshake/negotiator/internal/resilience"
	"github.com/handshake/negotiator/internal/room"
	"github.com/handshake/negotiator/internal/verification"
	"github.com/handshake/negotiator/pkg/callprovider"
	callmock "github.com/handshake/negotiator/pkg/callprovider/mock"
	"github.com/handshake/negotiator/pkg/llm"
	llmmock "github.com/handshake/negotiator/pkg/llm/mock"
	"github.com/handshake/negotiator/pkg/llm/openai"
	"github.com/handshake/negotiator/pkg/paymentprovider"
	paymentmock "github.com/handshake/negotiator/pkg/paymentprovider/mock"
	"github.com/handshake/negotiator/pkg/sttprovider"
	"github.com/handshake/negotiator/pkg/sttprovider/deepgram"
	sttmock "github.com/handshake/negotiator/pkg/sttprovider/mock"
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "handshakesrv: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("handshakesrv starting", "listen_addr", cfg.Server.ListenAddr, "log_level", cfg.Server.LogLevel)

	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceVersion: "dev"})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	providerReg := config.NewRegistry()
	registerProviderFactories(providerReg)

	llmProvider, err := providerReg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to create llm provider", "err", err)
		return 1
	}
	sttProvider, err := providerReg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to create stt provider", "err", err)
		return 1
	}
	paymentBackend, err := providerReg.CreatePayment(cfg.Providers.Payment)
	if err != nil {
		slog.Error("failed to create payment provider", "err", err)
		return 1
	}
	callBackend, err := providerReg.CreateCall(cfg.Providers.Call)
	if err != nil {
		slog.Error("failed to create call provider", "err", err)
		return 1
	}

	llmProvider = wrapLLMFallback(cfg.Providers.LLM.Name, llmProvider)
	sttProvider = wrapSTTFallback(cfg.Providers.STT.Name, sttProvider)

	paymentExec := payment.New(paymentBackend)
	verifyDriver := verification.New(llmProvider, paymentExec, callBackend, noTransactionSearch)
	panels := panel.New()

	roomRegistry := room.NewRegistry(room.Deps{
		LLM:          llmProvider,
		STT:          sttProvider,
		Payments:     paymentExec,
		Verification: verifyDriver,
		Panels:       panels,
		Profiles:     profile.NewStore(),
		NegotiationCfg: negotiation.Config{
			MaxRounds:    cfg.Negotiation.MaxRounds,
			RoundTimeout: cfg.Negotiation.RoundTimeout,
			TotalTimeout: cfg.Negotiation.TotalTimeout,
		},
		DefaultKeyword: cfg.Trigger.DefaultKeyword,
	})

	healthHandler := health.New(health.Checker{
		Name: "providers",
		Check: func(context.Context) error {
			if llmProvider == nil || sttProvider == nil {
				return errors.New("a required provider is not configured")
			}
			return nil
		},
	})

	mux := http.NewServeMux()
	healthHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", roomRegistry.Handler())

	metrics := observe.DefaultMetrics()
	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerProviderFactories wires the known provider names to their
// constructors. LLM and STT prefer a real backend when an API key is
// configured and fall back to the in-process mock otherwise, so the server
// boots and the room pipeline is fully exercisable without external
// credentials. Payment and call have no vendor SDK in the dependency set;
// every configured name for those two kinds resolves to the in-memory mock
// until a real integration is added.
func registerProviderFactories(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		if entry.APIKey == "" {
			return llmmock.New(), nil
		}
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) {
		return llmmock.New(), nil
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (sttprovider.Provider, error) {
		if entry.APIKey == "" {
			return sttmock.New(), nil
		}
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		return deepgram.New(entry.APIKey, opts...)
	})
	reg.RegisterSTT("mock", func(config.ProviderEntry) (sttprovider.Provider, error) {
		return sttmock.New(), nil
	})

	paymentMock := func(config.ProviderEntry) (paymentprovider.Provider, error) {
		return paymentmock.New(), nil
	}
	reg.RegisterPayment("mock", paymentMock)
	reg.RegisterPayment("stripe", paymentMock)
	reg.RegisterPayment("internal-ledger", paymentMock)

	callMock := func(config.ProviderEntry) (callprovider.Provider, error) {
		return callmock.New(), nil
	}
	reg.RegisterCall("mock", callMock)
	reg.RegisterCall("twilio-ai", callMock)
	reg.RegisterCall("bland", callMock)
}

// wrapLLMFallback puts provider behind a circuit breaker and, unless name is
// already the mock, registers the in-process mock as an automatic
// degraded-mode fallback, so a tripped breaker degrades the negotiation
// pipeline instead of stalling it.
func wrapLLMFallback(name string, provider llm.Provider) llm.Provider {
	fb := resilience.NewLLMFallback(provider, name, resilience.FallbackConfig{})
	if name != "mock" {
		fb.AddFallback("mock", llmmock.New())
	}
	return fb
}

// wrapSTTFallback is wrapLLMFallback's STT counterpart.
func wrapSTTFallback(name string, provider sttprovider.Provider) sttprovider.Provider {
	fb := resilience.NewSTTFallback(provider, name, resilience.FallbackConfig{})
	if name != "mock" {
		fb.AddFallback("mock", sttmock.New())
	}
	return fb
}

// noTransactionSearch backs the Verification Driver's check_payment_history
// tool until a real bank/ledger integration is wired in; it reports the tool
// as unavailable rather than fabricating transaction data.
func noTransactionSearch(_ context.Context, _ []string, _ int) ([]string, error) {
	return nil, errors.New("transaction search is not configured")
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
