// Package sttclient wraps an [sttprovider.Provider] with automatic stream
// reconnection. Real-time transcription sessions drop, expire, or hit
// transient provider errors; Client re-establishes the session with
// exponential backoff while presenting a single stable pair of transcript
// channels to callers.
package sttclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/handshake/negotiator/pkg/sttprovider"
)

// Default reconnection parameters. attempt 0..9 yields the sequence
// 2000, 4000, 8000, 16000, 30000, 30000, 30000, 30000, 30000, 30000 ms.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 2 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ErrReconnectExhausted is returned (via the Errors channel) when the client
// gives up after MaxRetries failed reconnection attempts.
var ErrReconnectExhausted = fmt.Errorf("sttclient: reconnection attempts exhausted")

// Config configures a [Client].
type Config struct {
	// Provider is the underlying STT backend.
	Provider sttprovider.Provider

	// Stream is the configuration passed to every StartStream call.
	Stream sttprovider.StreamConfig

	// MaxRetries is the maximum number of reconnection attempts after a
	// session failure before the client gives up. Defaults to 10.
	MaxRetries int

	// Backoff is the initial backoff duration, doubling each attempt up to
	// MaxBackoff. Defaults to 2s.
	Backoff time.Duration

	// MaxBackoff caps the backoff duration. Defaults to 30s.
	MaxBackoff time.Duration
}

// Client maintains a live transcription session against an
// [sttprovider.Provider], transparently reconnecting on session failure.
// Partials and Finals return channels that remain valid for the lifetime of
// the Client; they are re-pointed internally across reconnects.
//
// Client is safe for concurrent use.
type Client struct {
	provider   sttprovider.Provider
	streamCfg  sttprovider.StreamConfig
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration

	mu      sync.Mutex
	session sttprovider.SessionHandle
	closed  bool
	done    chan struct{}

	partials chan sttprovider.Transcript
	finals   chan sttprovider.Transcript
	errs     chan error
}

// New creates a [Client] and establishes the initial session. The returned
// Client owns a background goroutine that forwards transcripts from the
// active session and reconnects on failure; call Close to stop it.
func New(ctx context.Context, cfg Config) (*Client, error) {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	c := &Client{
		provider:   cfg.Provider,
		streamCfg:  cfg.Stream,
		maxRetries: maxRetries,
		backoff:    backoff,
		maxBackoff: maxBackoff,
		done:       make(chan struct{}),
		partials:   make(chan sttprovider.Transcript, 64),
		finals:     make(chan sttprovider.Transcript, 64),
		errs:       make(chan error, 1),
	}

	session, err := c.provider.StartStream(ctx, c.streamCfg)
	if err != nil {
		return nil, fmt.Errorf("sttclient: initial StartStream: %w", err)
	}
	c.session = session

	go c.pump(ctx, session)

	return c, nil
}

// SendAudio forwards a chunk of PCM audio to the active session. Returns an
// error if no session is currently established (mid-reconnect).
func (c *Client) SendAudio(chunk []byte) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return fmt.Errorf("sttclient: no active session")
	}
	return session.SendAudio(chunk)
}

// Partials returns the channel of interim (non-final) transcripts.
func (c *Client) Partials() <-chan sttprovider.Transcript { return c.partials }

// Finals returns the channel of finalized transcripts.
func (c *Client) Finals() <-chan sttprovider.Transcript { return c.finals }

// Errors returns a channel that receives [ErrReconnectExhausted] if
// reconnection permanently fails. Buffered with capacity 1; at most one
// error is ever delivered.
func (c *Client) Errors() <-chan error { return c.errs }

// Close tears down the active session and stops the background pump.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	session := c.session
	c.mu.Unlock()

	close(c.done)
	if session != nil {
		return session.Close()
	}
	return nil
}

// pump forwards transcripts from session until it closes, then reconnects.
func (c *Client) pump(ctx context.Context, session sttprovider.SessionHandle) {
	for {
		partials := session.Partials()
		finals := session.Finals()

		drained := false
		for !drained {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case t, ok := <-partials:
				if !ok {
					drained = true
					break
				}
				c.partials <- t
			case t, ok := <-finals:
				if !ok {
					drained = true
					break
				}
				c.finals <- t
			}
		}

		next, err := c.reconnect(ctx)
		if err != nil {
			select {
			case c.errs <- err:
			default:
			}
			return
		}
		session = next
	}
}

// reconnect attempts to establish a new session with exponential backoff.
func (c *Client) reconnect(ctx context.Context) (sttprovider.SessionHandle, error) {
	currentBackoff := c.backoff

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, fmt.Errorf("sttclient: closed during reconnect")
		default:
		}

		slog.Info("sttclient attempting reconnection",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"backoff", currentBackoff,
		)

		session, err := c.provider.StartStream(ctx, c.streamCfg)
		if err == nil {
			c.mu.Lock()
			c.session = session
			c.mu.Unlock()
			slog.Info("sttclient reconnection successful", "attempt", attempt+1)
			return session, nil
		}

		slog.Warn("sttclient reconnection attempt failed",
			"attempt", attempt+1, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, fmt.Errorf("sttclient: closed during reconnect")
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > c.maxBackoff {
			currentBackoff = c.maxBackoff
		}
	}

	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()

	return nil, ErrReconnectExhausted
}
