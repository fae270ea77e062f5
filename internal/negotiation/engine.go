package negotiation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNegotiationActive is returned by [Engine.CreateNegotiation] when the
// room already holds a non-terminal negotiation. First write wins; the
// losing caller (e.g. a simultaneous proposer) should surface this as a tool
// result so the model can recover.
var ErrNegotiationActive = errors.New("negotiation: a non-terminal negotiation already exists for this room")

// ErrUnknownNegotiation is returned when an operation names a negotiation ID
// the Engine does not recognise. Message-driven calls treat this as a silent
// no-op; callers that need a typed error use this sentinel.
var ErrUnknownNegotiation = errors.New("negotiation: unknown negotiation id")

// EventType discriminates the events emitted by an [Engine].
type EventType string

const (
	EventAgreed  EventType = "agreed"
	EventRejected EventType = "rejected"
	EventExpired EventType = "expired"
)

// Event is a state-machine transition notification, consumed by the Room
// Orchestrator to drive the Document Store and Panel Emitter.
type Event struct {
	Type        EventType
	Negotiation Negotiation
}

// Config tunes the bounds the Engine enforces. Zero fields fall back to the
// package defaults (5 rounds, 90s round timeout, 300s total timeout).
type Config struct {
	MaxRounds    int
	RoundTimeout time.Duration
	TotalTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.RoundTimeout <= 0 {
		c.RoundTimeout = DefaultRoundTimeout
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = DefaultTotalTimeout
	}
	return c
}

// Engine is the negotiation state machine for a single room. A room holds at
// most one non-terminal negotiation at a time; once terminal, the Engine
// keeps the negotiation around (for inspection) until replaced by a new
// CreateNegotiation call.
//
// Engine is safe for concurrent use. Negotiation transitions must be atomic
// relative to the room; the Engine's own mutex provides that, and the Room
// Orchestrator further serializes via its single supervising task.
type Engine struct {
	roomID string
	cfg    Config
	events chan Event

	mu           sync.Mutex
	current      *Negotiation
	roundTimer   *time.Timer
	totalTimer   *time.Timer
}

// New creates an [Engine] for roomID with the given configuration.
func New(roomID string, cfg Config) *Engine {
	return &Engine{
		roomID: roomID,
		cfg:    cfg.withDefaults(),
		events: make(chan Event, 16),
	}
}

// Events returns the channel of state-machine transition notifications.
func (e *Engine) Events() <-chan Event { return e.events }

// Current returns a snapshot of the active (possibly terminal) negotiation,
// or false if none has ever been created.
func (e *Engine) Current() (Negotiation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Negotiation{}, false
	}
	return e.current.Clone(), true
}

// CreateNegotiation starts a new negotiation with the proposer's initial
// Proposal. Fails with [ErrNegotiationActive] if a non-terminal negotiation
// already exists for this room.
func (e *Engine) CreateNegotiation(initiator, responder string, proposal Proposal) (Negotiation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil && !e.current.Status.Terminal() {
		return Negotiation{}, ErrNegotiationActive
	}

	now := time.Now()
	n := &Negotiation{
		ID:              uuid.NewString(),
		RoomID:          e.roomID,
		Status:          StatusProposed,
		Initiator:       initiator,
		Responder:       responder,
		CurrentProposal: proposal,
		MaxRounds:       e.cfg.MaxRounds,
		RoundTimeout:    e.cfg.RoundTimeout,
		TotalTimeout:    e.cfg.TotalTimeout,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	n.Rounds = append(n.Rounds, Round{
		Action:    ActionPropose,
		FromAgent: initiator,
		Proposal:  &proposal,
		At:        now,
	})
	e.current = n

	e.armTimersLocked()

	return n.Clone(), nil
}

// Counter appends a counter-proposal round. If the round limit is already
// reached, the negotiation expires with [ExpireRoundLimit] instead.
func (e *Engine) Counter(negotiationID, fromAgent string, proposal Proposal) (Negotiation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, terminal, err := e.activeLocked(negotiationID)
	if err != nil {
		return Negotiation{}, err
	}
	if terminal {
		return n.Clone(), nil
	}

	if len(n.Rounds) >= n.MaxRounds {
		e.expireLocked(n, ExpireRoundLimit)
		return n.Clone(), nil
	}

	n.Status = StatusCountering
	n.CurrentProposal = proposal
	n.UpdatedAt = time.Now()
	n.Rounds = append(n.Rounds, Round{
		Action:    ActionCounter,
		FromAgent: fromAgent,
		Proposal:  &proposal,
		At:        n.UpdatedAt,
	})
	e.resetRoundTimerLocked()

	return n.Clone(), nil
}

// Accept transitions the negotiation to accepted and emits [EventAgreed].
func (e *Engine) Accept(negotiationID, fromAgent string) (Negotiation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, terminal, err := e.activeLocked(negotiationID)
	if err != nil {
		return Negotiation{}, err
	}
	if terminal {
		return n.Clone(), nil
	}

	n.Status = StatusAccepted
	n.UpdatedAt = time.Now()
	n.Rounds = append(n.Rounds, Round{
		Action:    ActionAccept,
		FromAgent: fromAgent,
		At:        n.UpdatedAt,
	})
	e.stopTimersLocked()
	e.emitLocked(EventAgreed, n)

	return n.Clone(), nil
}

// Reject transitions the negotiation to rejected and emits [EventRejected].
func (e *Engine) Reject(negotiationID, fromAgent, reason string) (Negotiation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, terminal, err := e.activeLocked(negotiationID)
	if err != nil {
		return Negotiation{}, err
	}
	if terminal {
		return n.Clone(), nil
	}

	n.Status = StatusRejected
	n.RejectReason = reason
	n.UpdatedAt = time.Now()
	n.Rounds = append(n.Rounds, Round{
		Action:    ActionReject,
		FromAgent: fromAgent,
		Reason:    reason,
		At:        n.UpdatedAt,
	})
	e.stopTimersLocked()
	e.emitLocked(EventRejected, n)

	return n.Clone(), nil
}

// Destroy cancels any active negotiation's timers, expiring it with
// [ExpirePeerLeft]. Called on room teardown / peer-leave.
func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil && !e.current.Status.Terminal() {
		e.expireLocked(e.current, ExpirePeerLeft)
	}
	e.stopTimersLocked()
}

// activeLocked looks up negotiationID and reports whether it is the room's
// current negotiation, plus whether it is already terminal. Callers must
// leave a terminal negotiation untouched: terminal states are sticky. Must
// be called with e.mu held.
func (e *Engine) activeLocked(negotiationID string) (n *Negotiation, terminal bool, err error) {
	if e.current == nil || e.current.ID != negotiationID {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownNegotiation, negotiationID)
	}
	return e.current, e.current.Status.Terminal(), nil
}

// expireLocked transitions n to expired for the given reason and emits
// [EventExpired]. No-op if n is already terminal. Must be called with e.mu held.
func (e *Engine) expireLocked(n *Negotiation, reason ExpireReason) {
	if n.Status.Terminal() {
		return
	}
	n.Status = StatusExpired
	n.ExpireReason = reason
	n.UpdatedAt = time.Now()
	e.emitLocked(EventExpired, n)
}

// emitLocked sends an event without blocking the caller; the buffered
// channel absorbs bursts, and when it is full the new event is dropped
// rather than deadlocking the state machine.
func (e *Engine) emitLocked(t EventType, n *Negotiation) {
	select {
	case e.events <- Event{Type: t, Negotiation: n.Clone()}:
	default:
	}
}

// armTimersLocked starts both timers for a freshly created negotiation. Must
// be called with e.mu held.
func (e *Engine) armTimersLocked() {
	n := e.current
	e.roundTimer = time.AfterFunc(n.RoundTimeout, func() { e.onRoundTimeout(n.ID) })
	e.totalTimer = time.AfterFunc(n.TotalTimeout, func() { e.onTotalTimeout(n.ID) })
}

// resetRoundTimerLocked cancels and re-arms the round timer only. Must be
// called with e.mu held.
func (e *Engine) resetRoundTimerLocked() {
	if e.roundTimer != nil {
		e.roundTimer.Stop()
	}
	n := e.current
	e.roundTimer = time.AfterFunc(n.RoundTimeout, func() { e.onRoundTimeout(n.ID) })
}

// stopTimersLocked cancels both timers. Must be called with e.mu held.
func (e *Engine) stopTimersLocked() {
	if e.roundTimer != nil {
		e.roundTimer.Stop()
		e.roundTimer = nil
	}
	if e.totalTimer != nil {
		e.totalTimer.Stop()
		e.totalTimer = nil
	}
}

func (e *Engine) onRoundTimeout(negotiationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.current.ID != negotiationID {
		return
	}
	e.expireLocked(e.current, ExpireRoundTimeout)
}

func (e *Engine) onTotalTimeout(negotiationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.current.ID != negotiationID {
		return
	}
	e.expireLocked(e.current, ExpireTotalTimeout)
}
