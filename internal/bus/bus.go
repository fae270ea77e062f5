// Package bus implements the Inter-agent Bus: a bidirectional channel
// between the two AgentDrivers paired in a room, carrying negotiation
// proposal/counter/reject/accept messages between them. Every message is
// deep-copied on send. The Negotiation Engine does not observe the bus:
// each AgentDriver calls the Engine directly from its own tool calls, and
// the bus's Observer hook carries messages to the Room Orchestrator for
// panel fan-out.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/handshake/negotiator/internal/negotiation"
)

// MessageType discriminates the four message shapes the bus carries.
type MessageType string

const (
	MessageProposal MessageType = "agent_proposal"
	MessageCounter  MessageType = "agent_counter"
	MessageReject   MessageType = "agent_reject"
	MessageAccept   MessageType = "agent_accept"
)

// Message is one entry on the bus. Proposal is populated for
// MessageProposal/MessageCounter; Reason is populated for MessageReject.
type Message struct {
	Type          MessageType          `json:"type"`
	NegotiationID string               `json:"negotiationId"`
	FromAgent     string               `json:"fromAgent"`
	Proposal      *negotiation.Proposal `json:"proposal,omitempty"`
	Reason        string               `json:"reason,omitempty"`
}

// deepCopy returns a JSON round-trip copy of msg, so later mutation of the
// sender's in-memory object cannot affect the receiver.
func deepCopy(msg Message) (Message, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("bus: marshal message: %w", err)
	}
	var cp Message
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Message{}, fmt.Errorf("bus: unmarshal message: %w", err)
	}
	return cp, nil
}

// ErrUnknownAgent is returned when Send or Inbox names an agent that is not
// one of the bus's two participants.
var ErrUnknownAgent = errors.New("bus: unknown agent")

// Observer is called synchronously, in send order, for every message that
// crosses the bus — the hook the Room Orchestrator uses to push a
// negotiation panel update for the same traffic the peer agent sees. It
// does not drive the Negotiation Engine.
type Observer func(Message)

const inboxCapacity = 64

// Bus is the one-room, two-participant channel between paired AgentDrivers.
// Delivery is in-order and at-most-once within the process: no retries, no
// acknowledgements. A full inbox (a stalled or dead receiver) drops the
// message rather than block the sender, since the bus has no redelivery
// semantics to honor.
type Bus struct {
	agentA, agentB string
	inboxA, inboxB chan Message

	observers []Observer
}

// New creates a [Bus] pairing agentA and agentB.
func New(agentA, agentB string) *Bus {
	return &Bus{
		agentA: agentA,
		agentB: agentB,
		inboxA: make(chan Message, inboxCapacity),
		inboxB: make(chan Message, inboxCapacity),
	}
}

// Observe registers fn to be called for every message sent on the bus, in
// send order. Must be called before the bus starts carrying traffic the
// caller cares about observing; it is not safe to call concurrently with
// Send.
func (b *Bus) Observe(fn Observer) {
	b.observers = append(b.observers, fn)
}

// Inbox returns the receive channel for agent, or [ErrUnknownAgent].
func (b *Bus) Inbox(agent string) (<-chan Message, error) {
	switch agent {
	case b.agentA:
		return b.inboxA, nil
	case b.agentB:
		return b.inboxB, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agent)
	}
}

// Send delivers msg from msg.FromAgent to its paired peer. The peer's copy
// is independent of msg: later mutation by the caller has no effect on it.
// Send also invokes every registered observer with its own independent copy.
func (b *Bus) Send(msg Message) error {
	var recipient chan Message
	switch msg.FromAgent {
	case b.agentA:
		recipient = b.inboxB
	case b.agentB:
		recipient = b.inboxA
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAgent, msg.FromAgent)
	}

	cp, err := deepCopy(msg)
	if err != nil {
		return err
	}

	select {
	case recipient <- cp:
	default:
		// Inbox full: drop rather than block. The bus makes no delivery
		// guarantee beyond at-most-once.
	}

	for _, obs := range b.observers {
		obsCopy, err := deepCopy(msg)
		if err != nil {
			return err
		}
		obs(obsCopy)
	}

	return nil
}
