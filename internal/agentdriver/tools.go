package agentdriver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/handshake/negotiator/internal/bus"
	"github.com/handshake/negotiator/internal/negotiation"
	"github.com/handshake/negotiator/internal/payment"
	"github.com/handshake/negotiator/internal/toolrunner"
	"github.com/handshake/negotiator/pkg/llm"
)

// buildRegistry wires the eight contractual tool names to this Driver's
// handlers.
func (d *Driver) buildRegistry() *toolrunner.Registry {
	reg := toolrunner.NewRegistry()
	reg.Register("analyze_and_propose", d.toolAnalyzeAndPropose)
	reg.Register("evaluate_proposal", d.toolEvaluateProposal)
	reg.Register("execute_payment", d.toolExecutePayment)
	reg.Register("create_escrow_hold", d.toolCreateEscrowHold)
	reg.Register("capture_escrow", d.toolCaptureEscrow)
	reg.Register("release_escrow", d.toolReleaseEscrow)
	reg.Register("check_balance", d.toolCheckBalance)
	reg.Register("send_message_to_user", d.toolSendMessageToUser)
	return reg
}

type proposalArgs struct {
	Summary        string                       `json:"summary"`
	LineItems      []negotiation.LineItem       `json:"lineItems"`
	Currency       string                       `json:"currency"`
	Conditions     []string                     `json:"conditions,omitempty"`
	FactorSummary  string                       `json:"factorSummary,omitempty"`
	Milestones     []negotiation.MilestoneSpec  `json:"milestones,omitempty"`
}

func (a proposalArgs) toProposal() negotiation.Proposal {
	var total int64
	for _, li := range a.LineItems {
		total += li.Amount
	}
	return negotiation.Proposal{
		Summary:        a.Summary,
		LineItems:      a.LineItems,
		TotalAmount:    total,
		Currency:       a.Currency,
		Conditions:     a.Conditions,
		FactorSummary:  a.FactorSummary,
		MilestoneSpecs: a.Milestones,
	}
}

func (d *Driver) toolAnalyzeAndPropose(_ context.Context, argsJSON string) (string, error) {
	var args proposalArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	proposal := args.toProposal()
	n, err := d.engine.CreateNegotiation(d.proposerID(), d.peerUserID, proposal)
	if err != nil {
		return fmt.Sprintf("could not create negotiation: %v", err), nil
	}

	d.mu.Lock()
	d.currentNegotiationID = n.ID
	d.mu.Unlock()

	if d.negBus != nil {
		_ = d.negBus.Send(bus.Message{
			Type:          bus.MessageProposal,
			NegotiationID: n.ID,
			FromAgent:     d.profile.UserID,
			Proposal:      &proposal,
		})
	}

	return fmt.Sprintf("negotiation %s created with initial proposal", n.ID), nil
}

// proposerID returns the UserID that opens a negotiation's rounds[0] —
// always this Driver's own user.
func (d *Driver) proposerID() string { return d.profile.UserID }

type evaluateProposalArgs struct {
	NegotiationID   string        `json:"negotiationId"`
	Decision        string        `json:"decision"`
	Reason          string        `json:"reason,omitempty"`
	CounterProposal *proposalArgs `json:"counterProposal,omitempty"`
}

func (d *Driver) toolEvaluateProposal(_ context.Context, argsJSON string) (string, error) {
	var args evaluateProposalArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	switch args.Decision {
	case "accept":
		n, err := d.engine.Accept(args.NegotiationID, d.profile.UserID)
		if err != nil {
			return fmt.Sprintf("could not accept: %v", err), nil
		}
		if d.negBus != nil {
			_ = d.negBus.Send(bus.Message{Type: bus.MessageAccept, NegotiationID: n.ID, FromAgent: d.profile.UserID})
		}
		return fmt.Sprintf("negotiation %s accepted", n.ID), nil

	case "counter":
		if args.CounterProposal == nil {
			return "counter decision requires counterProposal", nil
		}
		proposal := args.CounterProposal.toProposal()
		n, err := d.engine.Counter(args.NegotiationID, d.profile.UserID, proposal)
		if err != nil {
			return fmt.Sprintf("could not counter: %v", err), nil
		}
		if d.negBus != nil {
			_ = d.negBus.Send(bus.Message{
				Type: bus.MessageCounter, NegotiationID: n.ID, FromAgent: d.profile.UserID, Proposal: &proposal,
			})
		}
		return fmt.Sprintf("negotiation %s countered (status now %s)", n.ID, n.Status), nil

	case "reject":
		n, err := d.engine.Reject(args.NegotiationID, d.profile.UserID, args.Reason)
		if err != nil {
			return fmt.Sprintf("could not reject: %v", err), nil
		}
		if d.negBus != nil {
			_ = d.negBus.Send(bus.Message{
				Type: bus.MessageReject, NegotiationID: n.ID, FromAgent: d.profile.UserID, Reason: args.Reason,
			})
		}
		return fmt.Sprintf("negotiation %s rejected", n.ID), nil

	default:
		return fmt.Sprintf("unknown decision %q: must be accept, counter, or reject", args.Decision), nil
	}
}

type executePaymentArgs struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

func (d *Driver) toolExecutePayment(ctx context.Context, argsJSON string) (string, error) {
	var args executePaymentArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if d.payments == nil {
		return "no payment provider configured", nil
	}
	res, err := d.payments.ExecutePayment(ctx, payment.TransferRequest{
		Amount: args.Amount, Currency: args.Currency, RecipientAccountID: d.peerPayoutAccount, Description: args.Description,
	})
	if err != nil {
		return fmt.Sprintf("payment failed: %v", err), nil
	}
	return fmt.Sprintf("payment intent %s succeeded", res.PaymentIntentID), nil
}

type escrowHoldArgs struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

func (d *Driver) toolCreateEscrowHold(ctx context.Context, argsJSON string) (string, error) {
	var args escrowHoldArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if d.payments == nil {
		return "no payment provider configured", nil
	}
	hold, err := d.payments.CreateEscrowHold(ctx, payment.HoldRequest{
		Amount: args.Amount, Currency: args.Currency, RecipientAccountID: d.peerPayoutAccount, Description: args.Description,
	})
	if err != nil {
		return fmt.Sprintf("escrow hold failed: %v", err), nil
	}
	return fmt.Sprintf("escrow hold %s created for %d %s", hold.HoldID, hold.Amount, hold.Currency), nil
}

type captureEscrowArgs struct {
	HoldID string `json:"holdId"`
	Amount *int64 `json:"amount,omitempty"`
}

func (d *Driver) toolCaptureEscrow(ctx context.Context, argsJSON string) (string, error) {
	var args captureEscrowArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if d.payments == nil {
		return "no payment provider configured", nil
	}
	hold, err := d.payments.CaptureEscrow(ctx, args.HoldID, args.Amount)
	if err != nil {
		return fmt.Sprintf("capture failed: %v", err), nil
	}
	return fmt.Sprintf("escrow hold %s captured %d", hold.HoldID, hold.CapturedAmount), nil
}

type releaseEscrowArgs struct {
	HoldID string `json:"holdId"`
}

func (d *Driver) toolReleaseEscrow(ctx context.Context, argsJSON string) (string, error) {
	var args releaseEscrowArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if d.payments == nil {
		return "no payment provider configured", nil
	}
	hold, err := d.payments.ReleaseEscrow(ctx, args.HoldID)
	if err != nil {
		return fmt.Sprintf("release failed: %v", err), nil
	}
	return fmt.Sprintf("escrow hold %s released", hold.HoldID), nil
}

func (d *Driver) toolCheckBalance(ctx context.Context, _ string) (string, error) {
	if d.payments == nil || d.profile.PayoutAccountID == "" {
		return "no bank account configured", nil
	}
	bal, err := d.payments.Balance(ctx, d.profile.PayoutAccountID)
	if err != nil {
		return fmt.Sprintf("balance check failed: %v", err), nil
	}
	return fmt.Sprintf("available %d, pending %d %s", bal.Available, bal.Pending, bal.Currency), nil
}

type sendMessageArgs struct {
	Text string `json:"text"`
}

func (d *Driver) toolSendMessageToUser(_ context.Context, argsJSON string) (string, error) {
	var args sendMessageArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if d.onPanel != nil {
		d.onPanel("agent", args.Text)
	}
	return "sent", nil
}

func toolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        "analyze_and_propose",
			Description: "Construct a Proposal from the negotiated terms so far and open a Negotiation.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"summary":       map[string]any{"type": "string"},
					"lineItems":     map[string]any{"type": "array"},
					"currency":      map[string]any{"type": "string"},
					"conditions":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"factorSummary": map[string]any{"type": "string"},
					"milestones":    map[string]any{"type": "array"},
				},
				"required": []string{"summary", "lineItems", "currency"},
			},
		},
		{
			Name:        "evaluate_proposal",
			Description: "Accept, counter, or reject a proposal received from the peer agent.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"negotiationId":   map[string]any{"type": "string"},
					"decision":        map[string]any{"type": "string", "enum": []string{"accept", "counter", "reject"}},
					"reason":          map[string]any{"type": "string"},
					"counterProposal": map[string]any{"type": "object"},
				},
				"required": []string{"negotiationId", "decision"},
			},
		},
		{
			Name:        "execute_payment",
			Description: "Execute an immediate, irreversible transfer to the peer.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"amount":      map[string]any{"type": "integer"},
					"currency":    map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
				},
				"required": []string{"amount", "currency", "description"},
			},
		},
		{
			Name:        "create_escrow_hold",
			Description: "Authorize a manual-capture escrow hold for the worst-case amount.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"amount":      map[string]any{"type": "integer"},
					"currency":    map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
				},
				"required": []string{"amount", "currency", "description"},
			},
		},
		{
			Name:        "capture_escrow",
			Description: "Capture funds against a held escrow authorization, in full or in part.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"holdId": map[string]any{"type": "string"},
					"amount": map[string]any{"type": "integer"},
				},
				"required": []string{"holdId"},
			},
		},
		{
			Name:        "release_escrow",
			Description: "Cancel a held escrow authorization without moving funds.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"holdId": map[string]any{"type": "string"},
				},
				"required": []string{"holdId"},
			},
		},
		{
			Name:        "check_balance",
			Description: "Look up the configured bank account's available and pending balance.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        "send_message_to_user",
			Description: "Enqueue a panel message visible to this participant.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string"},
				},
				"required": []string{"text"},
			},
		},
	}
}
