// Package mock provides a scriptable [sttprovider.Provider] test double.
package mock

import (
	"context"
	"sync"

	"github.com/handshake/negotiator/pkg/sttprovider"
)

// Provider is a test double that hands out Sessions created via NewSession.
type Provider struct {
	mu       sync.Mutex
	sessions []*Session
	Err      error // if set, StartStream fails with this error
}

// New creates an empty mock Provider.
func New() *Provider {
	return &Provider{}
}

// StartStream implements sttprovider.Provider.
func (p *Provider) StartStream(_ context.Context, cfg sttprovider.StreamConfig) (sttprovider.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	s := NewSession(cfg)
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Sessions returns every session started so far, in start order.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// Session is a scriptable sttprovider.SessionHandle. Test code calls
// PushFinal/PushPartial to feed transcripts to whatever is reading from
// Finals()/Partials().
type Session struct {
	Config sttprovider.StreamConfig

	mu       sync.Mutex
	closed   bool
	sent     [][]byte
	keywords []sttprovider.KeywordBoost

	partials chan sttprovider.Transcript
	finals   chan sttprovider.Transcript
}

// NewSession constructs a Session ready to accept audio and scripted pushes.
func NewSession(cfg sttprovider.StreamConfig) *Session {
	return &Session{
		Config:   cfg,
		partials: make(chan sttprovider.Transcript, 16),
		finals:   make(chan sttprovider.Transcript, 16),
	}
}

// SendAudio implements sttprovider.SessionHandle.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.sent = append(s.sent, cp)
	return nil
}

// SentChunks returns every chunk delivered via SendAudio so far.
func (s *Session) SentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Partials implements sttprovider.SessionHandle.
func (s *Session) Partials() <-chan sttprovider.Transcript { return s.partials }

// Finals implements sttprovider.SessionHandle.
func (s *Session) Finals() <-chan sttprovider.Transcript { return s.finals }

// PushPartial delivers a scripted partial transcript to the Partials channel.
func (s *Session) PushPartial(t sttprovider.Transcript) { s.partials <- t }

// PushFinal delivers a scripted final transcript to the Finals channel.
func (s *Session) PushFinal(t sttprovider.Transcript) { s.finals <- t }

// SetKeywords implements sttprovider.SessionHandle.
func (s *Session) SetKeywords(keywords []sttprovider.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords = keywords
	return nil
}

// Keywords returns the most recently set keyword list.
func (s *Session) Keywords() []sttprovider.KeywordBoost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keywords
}

// Close implements sttprovider.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
	return nil
}

type closedError struct{}

func (closedError) Error() string { return "sttprovider/mock: session closed" }

var errClosed = closedError{}
