// Package document implements the Document Store: generates a markdown
// contract from an agreed negotiation, derives per-line-item milestones,
// and tracks the signature quorum to fully_signed.
package document

import (
	"time"

	"github.com/handshake/negotiator/internal/negotiation"
)

// Status is the lifecycle state of a [Document].
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPendingSignatures Status = "pending_signatures"
	StatusFullySigned       Status = "fully_signed"
)

// MilestoneStatus is the lifecycle state of a [Milestone]. Only the
// Verification Driver transitions a milestone out of MilestonePending.
type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "pending"
	MilestoneCompleted MilestoneStatus = "completed"
	MilestoneFailed    MilestoneStatus = "failed"
	MilestoneDisputed  MilestoneStatus = "disputed"
)

// Milestone is derived from one escrow/conditional line item at
// document-creation time.
type Milestone struct {
	ID                 string          `json:"id"`
	DocumentID         string          `json:"documentId"`
	LineItemIndex      int             `json:"lineItemIndex"`
	Description        string          `json:"description"`
	Amount             int64           `json:"amount"` // worst-case amount
	Condition          string          `json:"condition,omitempty"`
	Deliverables       []string        `json:"deliverables,omitempty"`
	VerificationMethod string          `json:"verificationMethod,omitempty"`
	CompletionCriteria []string        `json:"completionCriteria"`
	Status             MilestoneStatus `json:"status"`
	EscrowHoldID       string          `json:"escrowHoldId,omitempty"`
	VerificationResult string          `json:"verificationResult,omitempty"`
	CapturedAmount      int64          `json:"capturedAmount,omitempty"`
}

// Signature records that userID has signed a Document.
type Signature struct {
	UserID string    `json:"userId"`
	SignedAt time.Time `json:"signedAt"`
}

// Document is the generated contract for one agreed negotiation.
type Document struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Content       string                `json:"content"`
	NegotiationID string                `json:"negotiationId"`
	Parties       []string              `json:"parties"`
	Terms         negotiation.Proposal  `json:"terms"`
	Signatures    []Signature           `json:"signatures"`
	Status        Status                `json:"status"`
	Milestones    []Milestone           `json:"milestones"`
	ProviderID    string                `json:"providerId"`
	ClientID      string                `json:"clientId"`
	CreatedAt     time.Time             `json:"createdAt"`
}

// signedBy reports whether userID already appears in Signatures.
func (d Document) signedBy(userID string) bool {
	for _, s := range d.Signatures {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

// isParty reports whether userID is one of Parties.
func (d Document) isParty(userID string) bool {
	for _, p := range d.Parties {
		if p == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	cp := d
	cp.Parties = append([]string(nil), d.Parties...)
	cp.Terms.LineItems = append([]negotiation.LineItem(nil), d.Terms.LineItems...)
	cp.Terms.Conditions = append([]string(nil), d.Terms.Conditions...)
	cp.Signatures = append([]Signature(nil), d.Signatures...)
	cp.Milestones = append([]Milestone(nil), d.Milestones...)
	return cp
}
