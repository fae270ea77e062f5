// Package agentdriver implements the Agent Driver: the per-participant LLM
// conversation loop that batches transcripts, reacts to the trigger
// handoff, and dispatches a fixed tool set against the Negotiation Engine,
// Inter-agent Bus, and Payment Executor.
package agentdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/handshake/negotiator/internal/bus"
	"github.com/handshake/negotiator/internal/negotiation"
	"github.com/handshake/negotiator/internal/payment"
	"github.com/handshake/negotiator/internal/profile"
	"github.com/handshake/negotiator/internal/toolrunner"
	"github.com/handshake/negotiator/pkg/llm"
)

const (
	batchFlushDelay   = 2 * time.Second
	maxRecursionDepth = 20
)

// PanelFunc pushes a message of the given kind (e.g. "agent", "error") to
// this participant's panel stream.
type PanelFunc func(kind, text string)

// TriggerEvent is the handoff payload the Trigger Detector delivers to a
// Driver, discarding any pending transcript batch in favor of a single
// synthetic message carrying this metadata plus full conversation context.
type TriggerEvent struct {
	Type        string
	SpeakerID   string
	Confidence  float64
	MatchedText string
	Role        string // proposer, responder, or unclear
	Summary     string
}

// Deps wires a Driver to the room's shared components.
type Deps struct {
	Profile            profile.User
	PeerUserID         string
	PeerPayoutAccount  string
	LLM                llm.Provider
	Bus                *bus.Bus
	Engine             *negotiation.Engine
	Payments           *payment.Executor
	OnPanelMessage     PanelFunc
}

// Driver is one participant's agent: a running LLM conversation, a
// transcript batcher, and a bounded tool-calling loop.
type Driver struct {
	profile           profile.User
	role              Role
	peerUserID        string
	peerPayoutAccount string
	llmProvider       llm.Provider
	negBus            *bus.Bus
	engine            *negotiation.Engine
	payments          *payment.Executor
	onPanel           PanelFunc
	registry          *toolrunner.Registry

	mu                   sync.Mutex
	history              []llm.Message
	pendingBatch         []string
	batchTimer           *time.Timer
	triggered            bool
	currentNegotiationID string
	closed               bool
}

// New creates a Driver for deps.Profile, derives its negotiation role from
// the profile's role/trade text, and registers the fixed tool set.
func New(deps Deps) *Driver {
	d := &Driver{
		profile:           deps.Profile,
		role:              deriveRole(deps.Profile.Role, deps.Profile.Trade),
		peerUserID:        deps.PeerUserID,
		peerPayoutAccount: deps.PeerPayoutAccount,
		llmProvider:       deps.LLM,
		negBus:            deps.Bus,
		engine:            deps.Engine,
		payments:          deps.Payments,
		onPanel:           deps.OnPanelMessage,
	}
	d.registry = d.buildRegistry()
	return d
}

// Role reports the participant's derived negotiation stance.
func (d *Driver) Role() Role {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.role
}

// Close stops the pending batch timer. Safe to call multiple times.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.batchTimer != nil {
		d.batchTimer.Stop()
	}
}

// HandleFinalTranscript appends a final transcript entry to the pending
// batch and (re)arms the 2s batch timer. New entries arriving before the
// timer fires reset it, so a flush only happens once speech pauses.
func (d *Driver) HandleFinalTranscript(speaker, text string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pendingBatch = append(d.pendingBatch, fmt.Sprintf("%s: %s", speaker, text))
	if d.batchTimer != nil {
		d.batchTimer.Stop()
	}
	d.batchTimer = time.AfterFunc(batchFlushDelay, d.flush)
	d.mu.Unlock()
}

// flush turns the pending batch into a single user turn and runs it through
// the tool loop.
func (d *Driver) flush() {
	d.mu.Lock()
	if d.closed || len(d.pendingBatch) == 0 {
		d.mu.Unlock()
		return
	}
	combined := strings.Join(d.pendingBatch, "\n")
	d.pendingBatch = nil
	d.mu.Unlock()

	d.runTurn(context.Background(), combined)
}

// HandleTrigger discards any pending batch and injects a single synthetic
// message carrying the trigger metadata and conversationContext, then runs
// the tool loop. A Driver reacts to at most one trigger per lifetime.
func (d *Driver) HandleTrigger(ev TriggerEvent, conversationContext string) {
	d.mu.Lock()
	if d.closed || d.triggered {
		d.mu.Unlock()
		return
	}
	d.triggered = true
	if d.batchTimer != nil {
		d.batchTimer.Stop()
	}
	d.pendingBatch = nil
	d.mu.Unlock()

	msg := fmt.Sprintf(
		"A financial agreement trigger fired (type=%s, confidence=%.2f, role=%s, matched=%q, summary=%q).\n\nFull conversation so far:\n%s",
		ev.Type, ev.Confidence, ev.Role, ev.MatchedText, ev.Summary, conversationContext,
	)
	d.runTurn(context.Background(), msg)
}

// HandleBusMessage reacts to a message from the paired peer's Driver,
// injecting it as a synthetic user turn so the model can call
// evaluate_proposal in response.
func (d *Driver) HandleBusMessage(msg bus.Message) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.currentNegotiationID = msg.NegotiationID
	d.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Message from peer agent (%s): negotiation %s\n", msg.Type, msg.NegotiationID)
	if msg.Proposal != nil {
		raw, _ := json.Marshal(msg.Proposal)
		fmt.Fprintf(&b, "Proposal: %s\n", string(raw))
	}
	if msg.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", msg.Reason)
	}

	d.runTurn(context.Background(), b.String())
}

// runTurn appends userMessage to the running conversation and drives the
// bounded tool-calling loop. Recursion exhaustion aborts the turn and
// reports an error panel message rather than propagating a Go error, per
// the ambient error-handling rule that tool-loop failures never cross the
// LLM boundary as bare errors.
func (d *Driver) runTurn(ctx context.Context, userMessage string) {
	d.mu.Lock()
	history := append(d.history, llm.Message{Role: "user", Content: userMessage})
	systemPrompt := buildSystemPrompt(d.profile, d.role)
	d.mu.Unlock()

	result, err := toolrunner.Run(ctx, d.llmProvider, systemPrompt, history, toolDefinitions(), d.registry, maxRecursionDepth)

	d.mu.Lock()
	d.history = result.Messages
	d.mu.Unlock()

	if err != nil {
		if errors.Is(err, toolrunner.ErrRecursionExceeded) {
			if d.onPanel != nil {
				d.onPanel("error", "agent exceeded the maximum tool recursion depth for this turn")
			}
			return
		}
		if d.onPanel != nil {
			d.onPanel("error", fmt.Sprintf("agent turn failed: %v", err))
		}
	}
}

func buildSystemPrompt(p profile.User, role Role) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s's negotiation agent, acting as the %s.\n", p.DisplayName, role)
	if p.CustomInstructions != "" {
		fmt.Fprintf(&b, "Instructions: %s\n", p.CustomInstructions)
	}
	fmt.Fprintf(&b, "Preferences: max auto-approve %d %s, escrow preference %s (threshold %d), negotiation style %s.\n",
		p.Preferences.MaxAutoApproveAmount, p.Preferences.PreferredCurrency,
		p.Preferences.EscrowPreference, p.Preferences.EscrowThreshold, p.Preferences.NegotiationStyle)
	if p.Trade != "" {
		fmt.Fprintf(&b, "Trade: %s", p.Trade)
		if p.ExperienceYears > 0 {
			fmt.Fprintf(&b, " (%d years experience)", p.ExperienceYears)
		}
		b.WriteString("\n")
	}
	if len(p.Certifications) > 0 {
		fmt.Fprintf(&b, "Certifications: %s\n", strings.Join(p.Certifications, ", "))
	}
	if p.RateRangeMin > 0 || p.RateRangeMax > 0 {
		fmt.Fprintf(&b, "Typical rate range: %d - %d\n", p.RateRangeMin, p.RateRangeMax)
	}
	for _, doc := range p.ContextDocuments {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", doc.Title, doc.Text)
	}
	if role == RoleProposer {
		b.WriteString("\nYou open the negotiation: call analyze_and_propose once you have enough information.")
	} else {
		b.WriteString("\nYou evaluate proposals from the peer agent via evaluate_proposal.")
	}
	return b.String()
}
