package document

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handshake/negotiator/internal/negotiation"
	"github.com/handshake/negotiator/pkg/llm"
	llmmock "github.com/handshake/negotiator/pkg/llm/mock"
)

func sampleNegotiation() negotiation.Negotiation {
	minAmt := int64(5000)
	maxAmt := int64(8000)
	return negotiation.Negotiation{
		ID:     "neg-1",
		RoomID: "room-1",
		Status: negotiation.StatusAccepted,
		CurrentProposal: negotiation.Proposal{
			Summary:  "website redesign",
			Currency: "GBP",
			LineItems: []negotiation.LineItem{
				{Description: "deposit", Amount: 2000, Type: negotiation.LineItemImmediate},
				{
					Description: "final delivery",
					Amount:      maxAmt,
					Type:        negotiation.LineItemEscrow,
					Condition:   "site passes acceptance review",
					MinAmount:   &minAmt,
					MaxAmount:   &maxAmt,
				},
			},
			TotalAmount: 10000,
			MilestoneSpecs: []negotiation.MilestoneSpec{
				{
					LineItemIndex:      1,
					Deliverables:       []string{"deployed site"},
					VerificationMethod: "screenshot review",
					CompletionCriteria: []string{"site is live", "passes accessibility check"},
				},
			},
		},
	}
}

func TestStore_GenerateDocument(t *testing.T) {
	provider := llmmock.New(llm.CompletionResponse{Content: "# Agreement\n...", StopReason: llm.StopEndTurn})
	s := New(provider)

	d, err := s.GenerateDocument(context.Background(), sampleNegotiation(), "alice", "bob", "some prior chat")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingSignatures, d.Status)
	assert.Equal(t, "# Agreement\n...", d.Content)
	assert.ElementsMatch(t, []string{"alice", "bob"}, d.Parties)
	require.Len(t, d.Milestones, 1)
	assert.Equal(t, int64(8000), d.Milestones[0].Amount)
	assert.Equal(t, []string{"site is live", "passes accessibility check"}, d.Milestones[0].CompletionCriteria)

	select {
	case ev := <-s.Events():
		assert.Equal(t, EventGenerated, ev.Type)
	default:
		t.Fatal("expected EventGenerated")
	}
}

func TestDeriveMilestones_FallbackCriterion(t *testing.T) {
	proposal := negotiation.Proposal{
		LineItems: []negotiation.LineItem{
			{Description: "milestone 1", Amount: 3000, Type: negotiation.LineItemConditional, Condition: "client approves draft"},
		},
	}
	ms := deriveMilestones(proposal)
	require.Len(t, ms, 1)
	assert.Equal(t, []string{"client approves draft"}, ms[0].CompletionCriteria)
}

func TestStore_Sign_QuorumAndIdempotency(t *testing.T) {
	provider := llmmock.New(llm.CompletionResponse{Content: "doc"})
	s := New(provider)
	d, err := s.GenerateDocument(context.Background(), sampleNegotiation(), "alice", "bob", "")
	require.NoError(t, err)
	<-s.Events()

	d, err = s.Sign(d.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingSignatures, d.Status)

	// Duplicate signature is a silent no-op.
	d2, err := s.Sign(d.ID, "alice")
	require.NoError(t, err)
	assert.Len(t, d2.Signatures, 1)

	d3, err := s.Sign(d.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusFullySigned, d3.Status)

	select {
	case ev := <-s.Events():
		assert.Equal(t, EventCompleted, ev.Type)
	default:
		t.Fatal("expected EventCompleted")
	}

	_, err = s.Sign(d.ID, "alice")
	assert.ErrorIs(t, err, ErrAlreadyFullySigned)
}

func TestStore_Sign_RejectsNonParty(t *testing.T) {
	provider := llmmock.New(llm.CompletionResponse{Content: "doc"})
	s := New(provider)
	d, err := s.GenerateDocument(context.Background(), sampleNegotiation(), "alice", "bob", "")
	require.NoError(t, err)

	_, err = s.Sign(d.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotParty)
}

func TestStore_Sign_UnknownDocument(t *testing.T) {
	s := New(llmmock.New())
	_, err := s.Sign("does-not-exist", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}
