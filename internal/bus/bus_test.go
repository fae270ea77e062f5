package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handshake/negotiator/internal/negotiation"
)

func TestBus_SendDeliversToPeer(t *testing.T) {
	b := New("agent-a", "agent-b")

	proposal := negotiation.Proposal{Summary: "initial", TotalAmount: 1000}
	err := b.Send(Message{
		Type:          MessageProposal,
		NegotiationID: "neg-1",
		FromAgent:     "agent-a",
		Proposal:      &proposal,
	})
	require.NoError(t, err)

	inbox, err := b.Inbox("agent-b")
	require.NoError(t, err)

	select {
	case got := <-inbox:
		assert.Equal(t, MessageProposal, got.Type)
		assert.Equal(t, "neg-1", got.NegotiationID)
		assert.Equal(t, int64(1000), got.Proposal.TotalAmount)
	default:
		t.Fatal("expected message in agent-b's inbox")
	}

	// agent-a's own inbox is untouched.
	selfInbox, err := b.Inbox("agent-a")
	require.NoError(t, err)
	select {
	case m := <-selfInbox:
		t.Fatalf("unexpected message delivered to sender: %+v", m)
	default:
	}
}

func TestBus_DeepCopyIsolatesSender(t *testing.T) {
	b := New("agent-a", "agent-b")

	proposal := negotiation.Proposal{Summary: "initial", TotalAmount: 1000}
	require.NoError(t, b.Send(Message{
		Type:          MessageProposal,
		NegotiationID: "neg-1",
		FromAgent:     "agent-a",
		Proposal:      &proposal,
	}))

	// Mutate the sender's copy after sending.
	proposal.TotalAmount = 9999
	proposal.Summary = "mutated"

	inbox, _ := b.Inbox("agent-b")
	got := <-inbox
	assert.Equal(t, int64(1000), got.Proposal.TotalAmount)
	assert.Equal(t, "initial", got.Proposal.Summary)
}

func TestBus_UnknownAgent(t *testing.T) {
	b := New("agent-a", "agent-b")

	_, err := b.Inbox("agent-c")
	assert.ErrorIs(t, err, ErrUnknownAgent)

	err = b.Send(Message{FromAgent: "agent-c", Type: MessageAccept})
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestBus_ObserverSeesEveryMessageInOrder(t *testing.T) {
	b := New("agent-a", "agent-b")

	var seen []MessageType
	b.Observe(func(m Message) { seen = append(seen, m.Type) })

	require.NoError(t, b.Send(Message{FromAgent: "agent-a", Type: MessageProposal, NegotiationID: "n1"}))
	require.NoError(t, b.Send(Message{FromAgent: "agent-b", Type: MessageCounter, NegotiationID: "n1"}))
	require.NoError(t, b.Send(Message{FromAgent: "agent-a", Type: MessageAccept, NegotiationID: "n1"}))

	assert.Equal(t, []MessageType{MessageProposal, MessageCounter, MessageAccept}, seen)
}

func TestBus_ObserverIsolatedFromSenderMutation(t *testing.T) {
	b := New("agent-a", "agent-b")

	var captured Message
	b.Observe(func(m Message) { captured = m })

	proposal := negotiation.Proposal{TotalAmount: 500}
	require.NoError(t, b.Send(Message{
		FromAgent:     "agent-a",
		Type:          MessageProposal,
		NegotiationID: "n1",
		Proposal:      &proposal,
	}))
	proposal.TotalAmount = 1
	assert.Equal(t, int64(500), captured.Proposal.TotalAmount)
}

func TestBus_FullInboxDropsRatherThanBlocks(t *testing.T) {
	b := New("agent-a", "agent-b")

	for i := 0; i < inboxCapacity+5; i++ {
		err := b.Send(Message{FromAgent: "agent-a", Type: MessageCounter, NegotiationID: "n1"})
		require.NoError(t, err)
	}
	// No deadlock and no error; the send simply drops once the inbox fills.
}
