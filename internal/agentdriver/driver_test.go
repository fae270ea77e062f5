package agentdriver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handshake/negotiator/internal/bus"
	"github.com/handshake/negotiator/internal/negotiation"
	"github.com/handshake/negotiator/internal/payment"
	"github.com/handshake/negotiator/internal/profile"
	"github.com/handshake/negotiator/pkg/llm"
	llmmock "github.com/handshake/negotiator/pkg/llm/mock"
	paymentmock "github.com/handshake/negotiator/pkg/paymentprovider/mock"
)

func TestDeriveRole(t *testing.T) {
	assert.Equal(t, RoleProposer, deriveRole("freelance web designer", ""))
	assert.Equal(t, RoleResponder, deriveRole("hiring client", ""))
	assert.Equal(t, RoleResponder, deriveRole("", ""))
}

func TestDriver_AnalyzeAndPropose_CreatesNegotiationAndSendsBusMessage(t *testing.T) {
	engine := negotiation.New("room-1", negotiation.Config{RoundTimeout: time.Hour, TotalTimeout: time.Hour})
	b := bus.New("alice", "bob")

	toolCall := llm.ToolCall{
		ID:   "call-1",
		Name: "analyze_and_propose",
		Arguments: `{"summary":"site build","currency":"GBP","lineItems":[{"description":"deposit","amount":2000,"type":"immediate"}]}`,
	}
	provider := llmmock.New(
		llm.CompletionResponse{StopReason: llm.StopToolUse, ToolCalls: []llm.ToolCall{toolCall}},
		llm.CompletionResponse{Content: "proposed", StopReason: llm.StopEndTurn},
	)

	var panelMsgs []string
	d := New(Deps{
		Profile:    profile.User{UserID: "alice", DisplayName: "Alice", Role: "freelance developer"},
		PeerUserID: "bob",
		LLM:        provider,
		Bus:        b,
		Engine:     engine,
		OnPanelMessage: func(kind, text string) { panelMsgs = append(panelMsgs, kind+":"+text) },
	})

	d.HandleFinalTranscript("alice", "let's do handshake for 2000")
	// Force an immediate flush instead of waiting on the real 2s timer.
	d.mu.Lock()
	d.batchTimer.Stop()
	d.mu.Unlock()
	d.flush()

	cur, ok := engine.Current()
	require.True(t, ok)
	assert.Equal(t, negotiation.StatusProposed, cur.Status)

	inbox, err := b.Inbox("bob")
	require.NoError(t, err)
	select {
	case msg := <-inbox:
		assert.Equal(t, bus.MessageProposal, msg.Type)
	default:
		t.Fatal("expected a proposal message on bob's inbox")
	}
}

func TestDriver_HandleTrigger_OnlyFiresOnce(t *testing.T) {
	provider := llmmock.New(
		llm.CompletionResponse{Content: "ack1", StopReason: llm.StopEndTurn},
		llm.CompletionResponse{Content: "ack2", StopReason: llm.StopEndTurn},
	)
	engine := negotiation.New("room-1", negotiation.Config{})
	d := New(Deps{
		Profile: profile.User{UserID: "alice", DisplayName: "Alice"},
		LLM:     provider,
		Engine:  engine,
	})

	d.HandleTrigger(TriggerEvent{Type: "keyword", Confidence: 1.0, Role: "unclear"}, "conversation so far")
	d.HandleTrigger(TriggerEvent{Type: "keyword", Confidence: 1.0, Role: "unclear"}, "more conversation")

	// Only the first trigger's completion should have been requested.
	assert.Equal(t, 1, provider.CallCount())
}

func TestDriver_RecursionExceeded_ReportsErrorPanelMessage(t *testing.T) {
	responses := make([]llm.CompletionResponse, 0, maxRecursionDepth+1)
	for i := 0; i < maxRecursionDepth+1; i++ {
		responses = append(responses, llm.CompletionResponse{
			StopReason: llm.StopToolUse,
			ToolCalls:  []llm.ToolCall{{ID: "c", Name: "send_message_to_user", Arguments: `{"text":"x"}`}},
		})
	}
	provider := llmmock.New(responses...)
	engine := negotiation.New("room-1", negotiation.Config{})

	var panelMsgs []string
	d := New(Deps{
		Profile: profile.User{UserID: "alice", DisplayName: "Alice"},
		LLM:     provider,
		Engine:  engine,
		OnPanelMessage: func(kind, text string) { panelMsgs = append(panelMsgs, kind) },
	})

	d.runTurn(context.Background(), "go")
	// At least one error panel message should have been emitted; the send_message_to_user
	// tool calls also emit "agent" messages along the way.
	var sawError bool
	for _, k := range panelMsgs {
		if k == "error" {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestDriver_HandleBusMessage_InjectsProposalAndEvaluates(t *testing.T) {
	engine := negotiation.New("room-1", negotiation.Config{RoundTimeout: time.Hour, TotalTimeout: time.Hour})
	n, err := engine.CreateNegotiation("alice", "bob", negotiation.Proposal{Summary: "s", TotalAmount: 1000, Currency: "GBP"})
	require.NoError(t, err)

	acceptCall := llm.ToolCall{
		ID:        "call-1",
		Name:      "evaluate_proposal",
		Arguments: `{"negotiationId":"` + n.ID + `","decision":"accept"}`,
	}
	provider := llmmock.New(
		llm.CompletionResponse{StopReason: llm.StopToolUse, ToolCalls: []llm.ToolCall{acceptCall}},
		llm.CompletionResponse{Content: "done", StopReason: llm.StopEndTurn},
	)
	b := bus.New("alice", "bob")

	d := New(Deps{
		Profile:    profile.User{UserID: "bob", DisplayName: "Bob"},
		PeerUserID: "alice",
		LLM:        provider,
		Bus:        b,
		Engine:     engine,
	})

	d.HandleBusMessage(bus.Message{
		Type: bus.MessageProposal, NegotiationID: n.ID, FromAgent: "alice", Proposal: &n.CurrentProposal,
	})

	cur, ok := engine.Current()
	require.True(t, ok)
	assert.Equal(t, negotiation.StatusAccepted, cur.Status)
}

func TestDriver_ExecutePayment_UsesPeerPayoutAccount(t *testing.T) {
	payProvider := paymentmock.New()
	executor := payment.New(payProvider)
	engine := negotiation.New("room-1", negotiation.Config{})

	toolCall := llm.ToolCall{
		ID:        "call-1",
		Name:      "execute_payment",
		Arguments: `{"amount":500,"currency":"GBP","description":"deposit"}`,
	}
	provider := llmmock.New(
		llm.CompletionResponse{StopReason: llm.StopToolUse, ToolCalls: []llm.ToolCall{toolCall}},
		llm.CompletionResponse{Content: "paid", StopReason: llm.StopEndTurn},
	)

	d := New(Deps{
		Profile:           profile.User{UserID: "alice", DisplayName: "Alice"},
		PeerPayoutAccount: "bob-account",
		LLM:               provider,
		Engine:            engine,
		Payments:          executor,
	})

	d.runTurn(context.Background(), "pay the deposit")

	intent, ok := payProvider.Intent("pi_mock_0001")
	require.True(t, ok, "expected the mock provider to have recorded a payment intent")
	assert.Equal(t, int64(500), intent.Amount)
	assert.Equal(t, "GBP", intent.Currency)
}
