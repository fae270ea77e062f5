// Package negotiation implements the per-room negotiation state machine: a
// bounded multi-round propose/counter/accept/reject protocol with a
// per-round timeout and a total timeout.
package negotiation

import "time"

// Status is the lifecycle state of a [Negotiation]. Accepted, rejected, and
// expired are terminal and sticky — no further transition changes them.
type Status string

const (
	StatusProposed   Status = "proposed"
	StatusCountering Status = "countering"
	StatusAccepted   Status = "accepted"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
)

// Terminal reports whether s is one of the sticky terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// FactorImpact describes how an observable factor affects a ranged line
// item's final price.
type FactorImpact string

const (
	ImpactIncreases FactorImpact = "increases"
	ImpactDecreases FactorImpact = "decreases"
	ImpactDetermines FactorImpact = "determines"
)

// Factor is an observable condition that determines where in a price range
// the final capture amount lands.
type Factor struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Impact      FactorImpact `json:"impact"`
}

// LineItemType classifies how a line item's amount is paid out.
type LineItemType string

const (
	LineItemImmediate   LineItemType = "immediate"
	LineItemEscrow      LineItemType = "escrow"
	LineItemConditional LineItemType = "conditional"
)

// LineItem is a single priced entry in a [Proposal].
type LineItem struct {
	Description string       `json:"description"`
	Amount      int64        `json:"amount"` // worst-case (maximum) amount
	Type        LineItemType `json:"type"`
	Condition   string       `json:"condition,omitempty"`
	MinAmount   *int64       `json:"minAmount,omitempty"`
	MaxAmount   *int64       `json:"maxAmount,omitempty"`
	Factors     []Factor     `json:"factors,omitempty"`
}

// Ranged reports whether the line item carries a min/max price range.
func (li LineItem) Ranged() bool {
	return li.MinAmount != nil && li.MaxAmount != nil
}

// MilestoneSpec is author-supplied milestone detail a proposal may attach to
// an escrow/conditional line item, consumed by the Document Store when
// deriving milestones.
type MilestoneSpec struct {
	LineItemIndex       int      `json:"lineItemIndex"`
	Deliverables        []string `json:"deliverables,omitempty"`
	VerificationMethod  string   `json:"verificationMethod,omitempty"`
	CompletionCriteria  []string `json:"completionCriteria,omitempty"`
}

// Proposal is a complete set of negotiated terms.
type Proposal struct {
	Summary        string          `json:"summary"`
	LineItems      []LineItem      `json:"lineItems"`
	TotalAmount    int64           `json:"totalAmount"`
	Currency       string          `json:"currency"`
	Conditions     []string        `json:"conditions,omitempty"`
	ExpiresAt      time.Time       `json:"expiresAt,omitempty"`
	FactorSummary  string          `json:"factorSummary,omitempty"`
	MilestoneSpecs []MilestoneSpec `json:"milestoneSpecs,omitempty"`
}

// RoundAction is the action a participant took in one negotiation round.
type RoundAction string

const (
	ActionPropose RoundAction = "propose"
	ActionCounter RoundAction = "counter"
	ActionAccept  RoundAction = "accept"
	ActionReject  RoundAction = "reject"
)

// Round is one entry in a negotiation's ordered history.
type Round struct {
	Action    RoundAction `json:"action"`
	FromAgent string      `json:"fromAgent"`
	Proposal  *Proposal   `json:"proposal,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	At        time.Time   `json:"at"`
}

// ExpireReason records why a negotiation transitioned to expired.
type ExpireReason string

const (
	ExpireRoundLimit   ExpireReason = "round_limit"
	ExpireRoundTimeout ExpireReason = "round_timeout"
	ExpireTotalTimeout ExpireReason = "total_timeout"
	ExpirePeerLeft     ExpireReason = "peer_left"
)

// Negotiation is the full state of one room's bargaining session.
type Negotiation struct {
	ID              string       `json:"id"`
	RoomID          string       `json:"roomId"`
	Status          Status       `json:"status"`
	Initiator       string       `json:"initiator"`
	Responder       string       `json:"responder"`
	CurrentProposal Proposal     `json:"currentProposal"`
	Rounds          []Round      `json:"rounds"`
	MaxRounds       int          `json:"maxRounds"`
	RoundTimeout    time.Duration `json:"roundTimeoutMs"`
	TotalTimeout    time.Duration `json:"totalTimeoutMs"`
	RejectReason    string       `json:"rejectReason,omitempty"`
	ExpireReason    ExpireReason `json:"expireReason,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy of n, safe to hand to a consumer that might
// retain or mutate it.
func (n Negotiation) Clone() Negotiation {
	cp := n
	cp.CurrentProposal.LineItems = append([]LineItem(nil), n.CurrentProposal.LineItems...)
	cp.CurrentProposal.Conditions = append([]string(nil), n.CurrentProposal.Conditions...)
	cp.Rounds = append([]Round(nil), n.Rounds...)
	return cp
}

// Default tuning values for negotiation rounds and timeouts.
const (
	DefaultMaxRounds    = 5
	DefaultRoundTimeout = 90 * time.Second
	DefaultTotalTimeout = 300 * time.Second
)
