package sttclient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/handshake/negotiator/pkg/sttprovider"
)

func TestNew_Defaults(t *testing.T) {
	provider := &countingProvider{}
	c, err := New(context.Background(), Config{Provider: provider})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	if c.maxRetries != defaultMaxRetries {
		t.Errorf("maxRetries = %d, want %d", c.maxRetries, defaultMaxRetries)
	}
	if c.backoff != defaultBackoff {
		t.Errorf("backoff = %v, want %v", c.backoff, defaultBackoff)
	}
	if c.maxBackoff != defaultMaxBackoff {
		t.Errorf("maxBackoff = %v, want %v", c.maxBackoff, defaultMaxBackoff)
	}
}

func TestNew_InitialStartStreamFailure(t *testing.T) {
	provider := &countingProvider{err: errors.New("unreachable")}
	_, err := New(context.Background(), Config{Provider: provider})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestClient_ForwardsTranscripts(t *testing.T) {
	provider := &countingProvider{}
	c, err := New(context.Background(), Config{Provider: provider})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	session := provider.sessions[0]
	session.PushFinal(sttprovider.Transcript{Text: "hello", IsFinal: true})

	select {
	case tr := <-c.Finals():
		if tr.Text != "hello" {
			t.Errorf("text = %q, want hello", tr.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for final transcript")
	}
}

func TestClient_ReconnectsOnSessionClose(t *testing.T) {
	provider := &countingProvider{}
	c, err := New(context.Background(), Config{
		Provider:   provider,
		Backoff:    time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
		MaxRetries: 5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	first := provider.sessions[0]
	_ = first.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if provider.startCount() >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if provider.startCount() < 2 {
		t.Fatalf("expected reconnection, StartStream called %d times", provider.startCount())
	}
}

func TestClient_ReconnectExhausted(t *testing.T) {
	provider := &failAfterFirstProvider{}
	c, err := New(context.Background(), Config{
		Provider:   provider,
		Backoff:    time.Millisecond,
		MaxBackoff: 2 * time.Millisecond,
		MaxRetries: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	_ = provider.sessions[0].Close()

	select {
	case err := <-c.Errors():
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Errorf("err = %v, want ErrReconnectExhausted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reconnect-exhausted error")
	}
}

// countingProvider hands out fresh mock sessions and records StartStream calls.
type countingProvider struct {
	err      error
	sessions []*mockSession
	count    atomic.Int32
}

func (p *countingProvider) StartStream(_ context.Context, cfg sttprovider.StreamConfig) (sttprovider.SessionHandle, error) {
	p.count.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	s := newMockSession(cfg)
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *countingProvider) startCount() int32 { return p.count.Load() }

// failAfterFirstProvider succeeds once then always fails, used to exercise
// reconnect exhaustion.
type failAfterFirstProvider struct {
	sessions []*mockSession
	started  bool
}

func (p *failAfterFirstProvider) StartStream(_ context.Context, cfg sttprovider.StreamConfig) (sttprovider.SessionHandle, error) {
	if !p.started {
		p.started = true
		s := newMockSession(cfg)
		p.sessions = append(p.sessions, s)
		return s, nil
	}
	return nil, errors.New("permanently down")
}

// mockSession is a minimal hand-rolled SessionHandle for reconnect testing.
type mockSession struct {
	cfg      sttprovider.StreamConfig
	partials chan sttprovider.Transcript
	finals   chan sttprovider.Transcript
	closed   atomic.Bool
}

func newMockSession(cfg sttprovider.StreamConfig) *mockSession {
	return &mockSession{
		cfg:      cfg,
		partials: make(chan sttprovider.Transcript, 4),
		finals:   make(chan sttprovider.Transcript, 4),
	}
}

func (s *mockSession) SendAudio([]byte) error { return nil }
func (s *mockSession) Partials() <-chan sttprovider.Transcript { return s.partials }
func (s *mockSession) Finals() <-chan sttprovider.Transcript   { return s.finals }
func (s *mockSession) SetKeywords([]sttprovider.KeywordBoost) error { return nil }
func (s *mockSession) PushFinal(t sttprovider.Transcript)   { s.finals <- t }
func (s *mockSession) PushPartial(t sttprovider.Transcript) { s.partials <- t }

func (s *mockSession) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.partials)
		close(s.finals)
	}
	return nil
}
