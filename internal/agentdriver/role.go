package agentdriver

import "strings"

// Role is the negotiation stance an [Driver] takes once triggered: the
// proposer opens with terms, the responder evaluates them.
type Role string

const (
	RoleProposer  Role = "proposer"
	RoleResponder Role = "responder"
)

// proposerKeywords and responderKeywords are substring-matched,
// case-insensitively, against a profile's free-text role/trade fields to
// derive which side of the table a participant sits on. Proposer keywords
// are checked first, so text matching both lists yields proposer; no match
// defaults to responder, the more conservative stance (waits for a proposal
// rather than opening with one).
var proposerKeywords = []string{
	"freelance", "contractor", "provider", "seller", "vendor", "consultant", "agency",
}

var responderKeywords = []string{
	"client", "customer", "buyer", "hiring", "employer", "company",
}

// deriveRole inspects role and trade free-text fields for keywords
// identifying a participant as the one who would naturally open with a
// price (proposer) versus the one evaluating it (responder).
func deriveRole(roleText, tradeText string) Role {
	haystack := strings.ToLower(roleText + " " + tradeText)

	for _, kw := range proposerKeywords {
		if strings.Contains(haystack, kw) {
			return RoleProposer
		}
	}
	for _, kw := range responderKeywords {
		if strings.Contains(haystack, kw) {
			return RoleResponder
		}
	}
	return RoleResponder
}
