// Package profile validates and stores per-user agent configuration: the
// negotiation preferences and background detail an Agent Driver uses to
// build its system prompt and auto-approval thresholds.
package profile

// EscrowPreference controls when a user's agent should prefer an escrow hold
// over an immediate transfer.
type EscrowPreference string

const (
	EscrowAlways         EscrowPreference = "always"
	EscrowAboveThreshold EscrowPreference = "above_threshold"
	EscrowNever          EscrowPreference = "never"
)

func (p EscrowPreference) valid() bool {
	switch p {
	case EscrowAlways, EscrowAboveThreshold, EscrowNever:
		return true
	}
	return false
}

// NegotiationStyle biases the proposer/responder's bargaining behavior.
type NegotiationStyle string

const (
	StyleAggressive  NegotiationStyle = "aggressive"
	StyleBalanced    NegotiationStyle = "balanced"
	StyleConservative NegotiationStyle = "conservative"
)

func (s NegotiationStyle) valid() bool {
	switch s {
	case StyleAggressive, StyleBalanced, StyleConservative:
		return true
	}
	return false
}

// Preferences holds a user's monetary and bargaining preferences.
type Preferences struct {
	MaxAutoApproveAmount int64            `json:"maxAutoApproveAmount"`
	PreferredCurrency    string           `json:"preferredCurrency"`
	EscrowPreference     EscrowPreference `json:"escrowPreference"`
	EscrowThreshold      int64            `json:"escrowThreshold"`
	NegotiationStyle     NegotiationStyle `json:"negotiationStyle"`
}

// ContextDocument is a short piece of background text (≤5 KiB) a user
// attaches to inform their agent's negotiation context, e.g. a rate card.
type ContextDocument struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// MaxContextDocuments bounds the number of context documents a user may attach.
const MaxContextDocuments = 5

// MaxContextDocumentBytes bounds the size of a single context document.
const MaxContextDocumentBytes = 5 * 1024

// User is a participant's profile, copied into the room at join time so that
// later profile-store edits do not affect an in-progress negotiation.
type User struct {
	UserID             string            `json:"userId"`
	DisplayName        string            `json:"displayName"`
	Role               string            `json:"role"`
	CustomInstructions string            `json:"customInstructions"`
	Preferences        Preferences       `json:"preferences"`
	PayoutAccountID    string            `json:"payoutAccountId,omitempty"`
	BankToken          string            `json:"bankToken,omitempty"`
	Trade              string            `json:"trade,omitempty"`
	ExperienceYears    int               `json:"experienceYears,omitempty"`
	Certifications     []string          `json:"certifications,omitempty"`
	RateRangeMin       int64             `json:"rateRangeMin,omitempty"`
	RateRangeMax       int64             `json:"rateRangeMax,omitempty"`
	ServiceArea        string            `json:"serviceArea,omitempty"`
	ContextDocuments   []ContextDocument `json:"contextDocuments,omitempty"`
}
