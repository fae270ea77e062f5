package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/handshake/negotiator/internal/negotiation"
	"github.com/handshake/negotiator/pkg/llm"
)

// maxConversationChars bounds how much trailing conversation context is fed
// into the generation prompt.
const maxConversationChars = 2000

var (
	// ErrNotFound is returned when a document ID is not known to the Store.
	ErrNotFound = errors.New("document: not found")
	// ErrNotParty is returned by Sign when userID is not one of the
	// document's parties.
	ErrNotParty = errors.New("document: user is not a party to this document")
	// ErrAlreadyFullySigned is returned by Sign once status is
	// StatusFullySigned; no further signatures are accepted.
	ErrAlreadyFullySigned = errors.New("document: already fully signed")
)

// EventType discriminates Store events.
type EventType string

const (
	EventGenerated EventType = "document:generated"
	EventCompleted EventType = "document:completed"
)

// Event is emitted on generation and on reaching the signature quorum.
type Event struct {
	Type     EventType
	Document Document
}

// Store holds one Document per negotiation, generated via an LLM and
// advanced to fully_signed by Sign.
type Store struct {
	llm llm.Provider

	mu        sync.Mutex
	documents map[string]*Document
	events    chan Event
}

// New creates a Store backed by provider for document generation.
func New(provider llm.Provider) *Store {
	return &Store{
		llm:       provider,
		documents: make(map[string]*Document),
		events:    make(chan Event, 16),
	}
}

// Events returns the channel of generation/completion notifications.
func (s *Store) Events() <-chan Event { return s.events }

// Get returns a copy of the stored document with the given ID.
func (s *Store) Get(documentID string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[documentID]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, documentID)
	}
	return d.Clone(), nil
}

// GenerateDocument composes a structured prompt from neg, parties, and the
// tail of conversationContext, asks the LLM for markdown contract text, and
// stores the resulting Document with derived milestones. Emits
// [EventGenerated].
func (s *Store) GenerateDocument(ctx context.Context, neg negotiation.Negotiation, providerID, clientID, conversationContext string) (Document, error) {
	prompt := buildPrompt(neg, providerID, clientID, conversationContext)

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: documentSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		Temperature:  0.2,
	})
	if err != nil {
		return Document{}, fmt.Errorf("document: generate: %w", err)
	}

	now := time.Now()
	d := &Document{
		ID:            uuid.NewString(),
		Title:         fmt.Sprintf("Services Agreement — %s / %s", providerID, clientID),
		Content:       resp.Content,
		NegotiationID: neg.ID,
		Parties:       []string{providerID, clientID},
		Terms:         neg.CurrentProposal,
		Status:        StatusPendingSignatures,
		Milestones:    deriveMilestones(neg.CurrentProposal),
		ProviderID:    providerID,
		ClientID:      clientID,
		CreatedAt:     now,
	}
	for i := range d.Milestones {
		d.Milestones[i].DocumentID = d.ID
	}

	s.mu.Lock()
	s.documents[d.ID] = d
	s.mu.Unlock()

	out := d.Clone()
	s.emit(EventGenerated, out)
	return out, nil
}

// Sign appends userID's signature to documentID if the document exists,
// userID is a party, status is not StatusFullySigned, and userID has not
// already signed, checked in that order. While the document is still
// pending, a repeat signature from an already-signed party is a silent
// no-op (idempotent), not an error; once it is fully signed, any party's
// Sign returns [ErrAlreadyFullySigned]. Once every party has signed,
// status becomes StatusFullySigned and [EventCompleted] is emitted.
func (s *Store) Sign(documentID, userID string) (Document, error) {
	s.mu.Lock()
	d, ok := s.documents[documentID]
	if !ok {
		s.mu.Unlock()
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, documentID)
	}
	if !d.isParty(userID) {
		s.mu.Unlock()
		return Document{}, fmt.Errorf("%w: %s", ErrNotParty, userID)
	}
	if d.Status == StatusFullySigned {
		s.mu.Unlock()
		return Document{}, ErrAlreadyFullySigned
	}
	if d.signedBy(userID) {
		out := d.Clone()
		s.mu.Unlock()
		return out, nil
	}

	d.Signatures = append(d.Signatures, Signature{UserID: userID, SignedAt: time.Now()})
	completed := len(d.Signatures) == len(d.Parties)
	if completed {
		d.Status = StatusFullySigned
	}
	out := d.Clone()
	s.mu.Unlock()

	if completed {
		s.emit(EventCompleted, out)
	}
	return out, nil
}

// UpdateMilestone replaces the stored milestone sharing m.ID within
// documentID, called by the Verification Driver's caller once a verdict has
// been applied. Silently does nothing if either ID is unknown.
func (s *Store) UpdateMilestone(documentID string, m Milestone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[documentID]
	if !ok {
		return
	}
	for i := range d.Milestones {
		if d.Milestones[i].ID == m.ID {
			d.Milestones[i] = m
			return
		}
	}
}

// AttachEscrowHold records holdID against milestoneID within documentID,
// called once the Room Orchestrator has opened the corresponding escrow
// hold for a fully_signed document's escrow/conditional line item.
// Silently does nothing if either ID is unknown.
func (s *Store) AttachEscrowHold(documentID, milestoneID, holdID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[documentID]
	if !ok {
		return
	}
	for i := range d.Milestones {
		if d.Milestones[i].ID == milestoneID {
			d.Milestones[i].EscrowHoldID = holdID
			return
		}
	}
}

func (s *Store) emit(t EventType, d Document) {
	select {
	case s.events <- Event{Type: t, Document: d}:
	default:
	}
}

// deriveMilestones produces one Milestone per escrow/conditional line item
// in proposal, preferring author-supplied detail from MilestoneSpecs and
// falling back to a single completion criterion equal to the line item's
// condition.
func deriveMilestones(proposal negotiation.Proposal) []Milestone {
	specsByIndex := make(map[int]negotiation.MilestoneSpec, len(proposal.MilestoneSpecs))
	for _, spec := range proposal.MilestoneSpecs {
		specsByIndex[spec.LineItemIndex] = spec
	}

	var milestones []Milestone
	for idx, li := range proposal.LineItems {
		if li.Type != negotiation.LineItemEscrow && li.Type != negotiation.LineItemConditional {
			continue
		}
		m := Milestone{
			ID:            uuid.NewString(),
			LineItemIndex: idx,
			Description:   li.Description,
			Amount:        li.Amount,
			Condition:     li.Condition,
			Status:        MilestonePending,
		}
		if spec, ok := specsByIndex[idx]; ok {
			m.Deliverables = append([]string(nil), spec.Deliverables...)
			m.VerificationMethod = spec.VerificationMethod
			m.CompletionCriteria = append([]string(nil), spec.CompletionCriteria...)
		}
		if len(m.CompletionCriteria) == 0 {
			m.CompletionCriteria = []string{li.Condition}
		}
		milestones = append(milestones, m)
	}
	return milestones
}

const documentSystemPrompt = `You draft binding, plain-English services agreements from a negotiated set of terms. Output Markdown only: a title, a parties section, a line-item breakdown of payment terms (noting which line items are immediate, held in escrow, or conditional on a described milestone), any conditions, and a signatures section naming both parties. Do not invent terms not present in the input.`

// buildPrompt composes the structured document-generation prompt: parties,
// line items (with factor detail for ranged items), milestones, conditions,
// and the trailing conversation context.
func buildPrompt(neg negotiation.Negotiation, providerID, clientID, conversationContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Provider: %s\nClient: %s\n\n", providerID, clientID)
	fmt.Fprintf(&b, "Summary: %s\n", neg.CurrentProposal.Summary)
	fmt.Fprintf(&b, "Total: %d %s\n\n", neg.CurrentProposal.TotalAmount, neg.CurrentProposal.Currency)

	b.WriteString("Line items:\n")
	for i, li := range neg.CurrentProposal.LineItems {
		fmt.Fprintf(&b, "%d. %s — %d %s (%s)", i+1, li.Description, li.Amount, neg.CurrentProposal.Currency, li.Type)
		if li.Ranged() {
			fmt.Fprintf(&b, " [range %d-%d]", *li.MinAmount, *li.MaxAmount)
		}
		if li.Condition != "" {
			fmt.Fprintf(&b, " condition: %s", li.Condition)
		}
		b.WriteString("\n")
		for _, f := range li.Factors {
			fmt.Fprintf(&b, "   factor: %s (%s) — %s\n", f.Name, f.Impact, f.Description)
		}
	}

	if len(neg.CurrentProposal.Conditions) > 0 {
		b.WriteString("\nConditions:\n")
		for _, c := range neg.CurrentProposal.Conditions {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	if neg.CurrentProposal.FactorSummary != "" {
		fmt.Fprintf(&b, "\nFactor summary: %s\n", neg.CurrentProposal.FactorSummary)
	}

	tail := conversationContext
	if len(tail) > maxConversationChars {
		tail = tail[len(tail)-maxConversationChars:]
	}
	if tail != "" {
		fmt.Fprintf(&b, "\nConversation context:\n%s\n", tail)
	}

	return b.String()
}
