package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/handshake/negotiator/internal/document"
	"github.com/handshake/negotiator/internal/negotiation"
	"github.com/handshake/negotiator/internal/payment"
	"github.com/handshake/negotiator/internal/toolrunner"
	"github.com/handshake/negotiator/pkg/callprovider"
	"github.com/handshake/negotiator/pkg/llm"
)

const (
	hardDeadline      = 120 * time.Second
	phoneCallDeadline = 180 * time.Second
	phonePollInterval = 2 * time.Second
	maxRecursionDepth = 15
	defaultHistoryDays = 30
)

// ErrInvalidRecommendedAmount is the text returned to the model (not a Go
// error) when submit_verdict's recommendedAmount falls outside the line
// item's [minAmount, maxAmount] range.
var ErrInvalidRecommendedAmount = errors.New("recommendedAmount must be within the line item's price range")

// TransactionSearch looks up bank transactions matching searchTerms within
// the last days days, used by the check_payment_history tool. Implementors
// external to this package own the actual ledger/bank integration.
type TransactionSearch func(ctx context.Context, searchTerms []string, days int) ([]string, error)

// UpdateFunc receives progress messages pushed by send_verification_update,
// for forwarding to the Panel Emitter.
type UpdateFunc func(step, message string)

// Driver runs one milestone's verification session: a bounded LLM
// tool-calling loop that ends in a [Verdict], after which the Driver applies
// the corresponding escrow action.
type Driver struct {
	llmProvider llm.Provider
	payments    *payment.Executor
	calls       callprovider.Provider
	txSearch    TransactionSearch
}

// New creates a Driver. calls and txSearch may be nil; phone_verify and
// check_payment_history degrade to simulated/empty results in that case.
func New(llmProvider llm.Provider, payments *payment.Executor, calls callprovider.Provider, txSearch TransactionSearch) *Driver {
	return &Driver{llmProvider: llmProvider, payments: payments, calls: calls, txSearch: txSearch}
}

// session carries the mutable state of one Verify call.
type session struct {
	milestone   document.Milestone
	lineItem    negotiation.LineItem
	phoneNumber string
	onUpdate    UpdateFunc

	mu       sync.Mutex
	evidence []Evidence
	verdict  *Verdict
}

func (s *session) record(t EvidenceType, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evidence = append(s.evidence, Evidence{Type: t, Data: data, At: time.Now()})
}

// Verify runs the verification session for milestone/lineItem and returns
// the updated milestone (status, capturedAmount, verificationResult) and
// the verdict reached. phoneNumber may be empty. onUpdate may be nil.
func (d *Driver) Verify(ctx context.Context, milestone document.Milestone, lineItem negotiation.LineItem, phoneNumber string, onUpdate UpdateFunc) (document.Milestone, Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, hardDeadline)
	defer cancel()

	sess := &session{milestone: milestone, lineItem: lineItem, phoneNumber: phoneNumber, onUpdate: onUpdate}

	verdict, err := d.runLoop(ctx, sess)
	if err != nil {
		return milestone, Verdict{}, fmt.Errorf("verification: %w", err)
	}

	updated := d.applyVerdict(ctx, milestone, verdict)
	return updated, verdict, nil
}

// runLoop drives the tool-calling conversation, via the shared toolrunner
// loop, until submit_verdict is called, the hard deadline elapses, or the
// recursion bound is reached.
func (d *Driver) runLoop(ctx context.Context, sess *session) (Verdict, error) {
	reg := d.buildRegistry(sess)
	history := []llm.Message{{Role: "user", Content: "Begin milestone verification."}}
	stop := func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.verdict != nil
	}

	_, err := toolrunner.RunUntil(ctx, d.llmProvider, systemPrompt(sess.milestone, sess.lineItem), history, toolDefinitions(), reg, maxRecursionDepth, stop)

	sess.mu.Lock()
	v := sess.verdict
	sess.mu.Unlock()
	if v != nil {
		return *v, nil
	}

	switch {
	case errors.Is(err, toolrunner.ErrRecursionExceeded):
		return Verdict{Status: VerdictDisputed, Reasoning: timedOutReasoning}, nil
	case errors.Is(err, context.DeadlineExceeded):
		return Verdict{Status: VerdictDisputed, Reasoning: timedOutReasoning}, nil
	case err != nil:
		return Verdict{}, fmt.Errorf("complete: %w", err)
	default:
		return Verdict{Status: VerdictDisputed, Reasoning: timedOutReasoning}, nil
	}
}

// buildRegistry binds the fixed verification tool set to sess, so each call
// gets its own isolated evidence log and verdict slot.
func (d *Driver) buildRegistry(sess *session) *toolrunner.Registry {
	reg := toolrunner.NewRegistry()
	reg.Register("assess_condition", func(_ context.Context, argsJSON string) (string, error) {
		return d.toolAssessCondition(sess, argsJSON), nil
	})
	reg.Register("phone_verify", func(ctx context.Context, argsJSON string) (string, error) {
		return d.toolPhoneVerify(ctx, sess, argsJSON), nil
	})
	reg.Register("record_self_attestation", func(_ context.Context, argsJSON string) (string, error) {
		return d.toolRecordSelfAttestation(sess, argsJSON), nil
	})
	reg.Register("check_payment_history", func(ctx context.Context, argsJSON string) (string, error) {
		return d.toolCheckPaymentHistory(ctx, sess, argsJSON), nil
	})
	reg.Register("send_verification_update", func(_ context.Context, argsJSON string) (string, error) {
		return d.toolSendUpdate(sess, argsJSON), nil
	})
	reg.Register("submit_verdict", func(_ context.Context, argsJSON string) (string, error) {
		return d.toolSubmitVerdict(sess, argsJSON), nil
	})
	return reg
}

type assessConditionArgs struct {
	ConditionName  string  `json:"conditionName"`
	Assessment     string  `json:"assessment"`
	Details        string  `json:"details"`
	ImpactOnPrice  *string `json:"impactOnPrice,omitempty"`
}

func (d *Driver) toolAssessCondition(sess *session, argsJSON string) string {
	var args assessConditionArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return fmt.Sprintf("invalid arguments: %v", err)
	}
	data := map[string]any{
		"conditionName": args.ConditionName,
		"assessment":    args.Assessment,
		"details":       args.Details,
	}
	if args.ImpactOnPrice != nil {
		data["impactOnPrice"] = *args.ImpactOnPrice
	}
	sess.record(EvidenceFactorAssessment, data)
	return "recorded"
}

type phoneVerifyArgs struct {
	Questions []string `json:"questions"`
}

func (d *Driver) toolPhoneVerify(ctx context.Context, sess *session, argsJSON string) string {
	var args phoneVerifyArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return fmt.Sprintf("invalid arguments: %v", err)
	}

	if sess.phoneNumber == "" || d.calls == nil {
		result := "simulated: no phone number bound to this session; treating as unable to verify by phone"
		sess.record(EvidencePhoneCall, map[string]any{"simulated": true, "questions": args.Questions})
		return result
	}

	handle, err := d.calls.PlaceCall(ctx, callprovider.CallRequest{PhoneNumber: sess.phoneNumber, Questions: args.Questions})
	if err != nil {
		return fmt.Sprintf("failed to place call: %v", err)
	}

	deadline := time.Now().Add(phoneCallDeadline)
	for {
		res, err := handle.Poll(ctx)
		if err != nil {
			return fmt.Sprintf("failed to poll call: %v", err)
		}
		if res.Status == callprovider.CallDone || res.Status == callprovider.CallFailed {
			sess.record(EvidencePhoneCall, map[string]any{
				"status":     string(res.Status),
				"transcript": res.Transcript,
				"answers":    res.Answers,
			})
			return fmt.Sprintf("call %s: %s", res.Status, res.Transcript)
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			sess.record(EvidencePhoneCall, map[string]any{"status": "timeout"})
			return "phone verification timed out"
		}
		select {
		case <-ctx.Done():
			return "phone verification timed out"
		case <-time.After(phonePollInterval):
		}
	}
}

type selfAttestationArgs struct {
	Attestation string `json:"attestation"`
	Confidence  string `json:"confidence"`
}

func (d *Driver) toolRecordSelfAttestation(sess *session, argsJSON string) string {
	var args selfAttestationArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return fmt.Sprintf("invalid arguments: %v", err)
	}
	sess.record(EvidenceSelfAttestation, map[string]any{
		"attestation": args.Attestation,
		"confidence":  args.Confidence,
	})
	return "recorded"
}

type paymentHistoryArgs struct {
	SearchTerms []string `json:"searchTerms"`
	Days        int      `json:"days"`
}

func (d *Driver) toolCheckPaymentHistory(ctx context.Context, sess *session, argsJSON string) string {
	var args paymentHistoryArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return fmt.Sprintf("invalid arguments: %v", err)
	}
	if args.Days <= 0 {
		args.Days = defaultHistoryDays
	}
	if d.txSearch == nil {
		sess.record(EvidencePaymentHistory, map[string]any{"searchTerms": args.SearchTerms, "days": args.Days, "matches": []string{}})
		return "no transaction search configured; no matches"
	}
	matches, err := d.txSearch(ctx, args.SearchTerms, args.Days)
	if err != nil {
		return fmt.Sprintf("payment history search failed: %v", err)
	}
	sess.record(EvidencePaymentHistory, map[string]any{"searchTerms": args.SearchTerms, "days": args.Days, "matches": matches})
	return fmt.Sprintf("found %d matching transactions: %s", len(matches), strings.Join(matches, "; "))
}

type sendUpdateArgs struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

func (d *Driver) toolSendUpdate(sess *session, argsJSON string) string {
	var args sendUpdateArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return fmt.Sprintf("invalid arguments: %v", err)
	}
	if sess.onUpdate != nil {
		sess.onUpdate(args.Step, args.Message)
	}
	return "sent"
}

type submitVerdictArgs struct {
	Status            string `json:"status"`
	Reasoning         string `json:"reasoning"`
	RecommendedAmount *int64 `json:"recommendedAmount,omitempty"`
}

func (d *Driver) toolSubmitVerdict(sess *session, argsJSON string) string {
	var args submitVerdictArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return fmt.Sprintf("invalid arguments: %v", err)
	}

	status := VerdictStatus(args.Status)
	switch status {
	case VerdictPassed, VerdictFailed, VerdictDisputed:
	default:
		return fmt.Sprintf("invalid status %q: must be passed, failed, or disputed", args.Status)
	}

	if args.RecommendedAmount != nil && sess.lineItem.Ranged() {
		amt := *args.RecommendedAmount
		if amt < *sess.lineItem.MinAmount || amt > *sess.lineItem.MaxAmount {
			return ErrInvalidRecommendedAmount.Error()
		}
	}

	v := Verdict{Status: status, Reasoning: args.Reasoning, RecommendedAmount: args.RecommendedAmount}
	sess.mu.Lock()
	sess.verdict = &v
	sess.mu.Unlock()
	return "verdict recorded"
}

// applyVerdict maps verdict to the corresponding escrow action and returns
// the updated milestone.
func (d *Driver) applyVerdict(ctx context.Context, milestone document.Milestone, verdict Verdict) document.Milestone {
	milestone.VerificationResult = verdict.Reasoning

	switch verdict.Status {
	case VerdictPassed:
		milestone.Status = document.MilestoneCompleted
		if milestone.EscrowHoldID != "" && d.payments != nil {
			hold, err := d.payments.CaptureEscrow(ctx, milestone.EscrowHoldID, verdict.RecommendedAmount)
			if err != nil {
				milestone.Status = document.MilestoneDisputed
				milestone.VerificationResult = fmt.Sprintf("%s (capture failed: %v)", verdict.Reasoning, err)
				return milestone
			}
			milestone.CapturedAmount = hold.CapturedAmount
		}
	case VerdictFailed:
		milestone.Status = document.MilestoneFailed
		if milestone.EscrowHoldID != "" && d.payments != nil {
			if _, err := d.payments.ReleaseEscrow(ctx, milestone.EscrowHoldID); err != nil {
				milestone.VerificationResult = fmt.Sprintf("%s (release failed: %v)", verdict.Reasoning, err)
			}
		}
	case VerdictDisputed:
		milestone.Status = document.MilestoneDisputed
	}

	return milestone
}

func systemPrompt(milestone document.Milestone, lineItem negotiation.LineItem) string {
	var b strings.Builder
	b.WriteString("You are verifying whether a contracted milestone has been met. ")
	fmt.Fprintf(&b, "Milestone: %s. Worst-case amount: %d.\n", milestone.Description, milestone.Amount)
	if len(milestone.Deliverables) > 0 {
		fmt.Fprintf(&b, "Deliverables: %s\n", strings.Join(milestone.Deliverables, "; "))
	}
	if milestone.VerificationMethod != "" {
		fmt.Fprintf(&b, "Verification method: %s\n", milestone.VerificationMethod)
	}
	if len(milestone.CompletionCriteria) > 0 {
		fmt.Fprintf(&b, "Completion criteria: %s\n", strings.Join(milestone.CompletionCriteria, "; "))
	}
	if lineItem.Ranged() {
		fmt.Fprintf(&b, "Price range: %d - %d\n", *lineItem.MinAmount, *lineItem.MaxAmount)
		for _, f := range lineItem.Factors {
			fmt.Fprintf(&b, "Factor: %s (%s) — %s\n", f.Name, f.Impact, f.Description)
		}
	}
	b.WriteString("Gather evidence using the available tools, then call submit_verdict exactly once with your final status, reasoning, and (if the price is ranged) a recommended capture amount within range.")
	return b.String()
}

func toolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        "assess_condition",
			Description: "Record an assessment of a named completion condition.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"conditionName": map[string]any{"type": "string"},
					"assessment":    map[string]any{"type": "string", "enum": []string{"met", "partially_met", "not_met", "unable_to_assess"}},
					"details":       map[string]any{"type": "string"},
					"impactOnPrice": map[string]any{"type": "string"},
				},
				"required": []string{"conditionName", "assessment", "details"},
			},
		},
		{
			Name:        "phone_verify",
			Description: "Place an outbound verification call asking the given questions, if a phone number is bound to this session.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"questions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"questions"},
			},
		},
		{
			Name:        "record_self_attestation",
			Description: "Record a self-reported attestation with a confidence level.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"attestation": map[string]any{"type": "string"},
					"confidence":  map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
				},
				"required": []string{"attestation", "confidence"},
			},
		},
		{
			Name:        "check_payment_history",
			Description: "Search bank transactions for terms relevant to this milestone.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"searchTerms": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"days":        map[string]any{"type": "integer"},
				},
				"required": []string{"searchTerms"},
			},
		},
		{
			Name:        "send_verification_update",
			Description: "Push a progress update to the user's panel.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"step":    map[string]any{"type": "string"},
					"message": map[string]any{"type": "string"},
				},
				"required": []string{"step", "message"},
			},
		},
		{
			Name:        "submit_verdict",
			Description: "Submit the final verification verdict. Terminal: call exactly once.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"status":            map[string]any{"type": "string", "enum": []string{"passed", "failed", "disputed"}},
					"reasoning":         map[string]any{"type": "string"},
					"recommendedAmount": map[string]any{"type": "integer"},
				},
				"required": []string{"status", "reasoning"},
			},
		},
	}
}
