// Package trigger implements the Trigger Detector: a keyword trip wire plus
// a periodic LLM-driven semantic classifier over a room's recent final
// transcripts, both feeding a single latch that fires at most once per room
// lifetime.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/handshake/negotiator/pkg/llm"
)

// Role classifies which side of the negotiation a trigger appears to put a
// speaker on, per the semantic classifier's judgment. Keyword-path events
// always report RoleUnclear.
type Role string

const (
	RoleProposer  Role = "proposer"
	RoleResponder Role = "responder"
	RoleUnclear   Role = "unclear"
)

// Type discriminates which detection path produced an Event.
type Type string

const (
	TypeKeyword  Type = "keyword"
	TypeSemantic Type = "smart"
)

// Event is the fixed payload emitted the first (and only) time a room's
// detector fires.
type Event struct {
	Type        Type
	SpeakerID   string
	Confidence  float64
	MatchedText string
	Role        Role
	Summary     string
}

const (
	semanticCheckInterval = 10 * time.Second
	semanticConfidenceMin = 0.7
	windowCap             = 100
)

type utterance struct {
	speakerID string
	text      string
}

// classification is the strict-JSON shape the semantic classifier prompt
// asks the model to return.
type classification struct {
	Triggered  bool     `json:"triggered"`
	Confidence float64  `json:"confidence"`
	Role       Role     `json:"role"`
	Summary    string   `json:"summary"`
	Terms      []string `json:"terms"`
}

// Detector watches one room's final transcripts for a financial-agreement
// handoff signal. Safe for concurrent use.
type Detector struct {
	llmProvider llm.Provider
	keyword     string

	mu               sync.Mutex
	window           []utterance
	latched          bool
	lastCheckedIndex int
	semanticInFlight bool
	ticker           *time.Ticker
	stopCh           chan struct{}
}

// New creates a Detector using defaultKeyword until SetKeyword overrides it.
func New(llmProvider llm.Provider, defaultKeyword string) *Detector {
	return &Detector{
		llmProvider: llmProvider,
		keyword:     defaultKeyword,
		stopCh:      make(chan struct{}),
	}
}

// SetKeyword overrides the keyword-path match string. This does not reset
// an already-fired latch — only Reset does.
func (d *Detector) SetKeyword(keyword string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keyword = keyword
}

// Reset clears the trigger latch and transcript window, allowing the
// detector to fire again. Called on room teardown / peer-leave, not on
// keyword changes.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latched = false
	d.window = nil
	d.lastCheckedIndex = 0
}

// Start launches the periodic semantic-classifier ticker. onFire is called
// at most once, when the semantic path trips the latch; a keyword-path fire
// is reported only through HandleFinalTranscript's return value and does
// not call onFire. Start is a no-op if called more than once without an
// intervening Stop.
func (d *Detector) Start(ctx context.Context, onFire func(Event)) {
	d.mu.Lock()
	if d.ticker != nil {
		d.mu.Unlock()
		return
	}
	d.ticker = time.NewTicker(semanticCheckInterval)
	ticker := d.ticker
	d.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-ticker.C:
				d.runSemanticCheck(ctx, onFire)
			}
		}
	}()
}

// Stop halts the semantic-classifier ticker.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ticker != nil {
		d.ticker.Stop()
		d.ticker = nil
	}
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
}

// HandleFinalTranscript feeds one final transcript entry into the detector.
// Partial transcripts must never be passed here. Returns the fired Event and
// true if this call caused the keyword path to trip.
func (d *Detector) HandleFinalTranscript(speakerID, text string) (Event, bool) {
	d.mu.Lock()
	if d.latched {
		d.mu.Unlock()
		return Event{}, false
	}

	d.window = append(d.window, utterance{speakerID: speakerID, text: text})
	if overflow := len(d.window) - windowCap; overflow > 0 {
		d.window = d.window[overflow:]
		d.lastCheckedIndex -= overflow
		if d.lastCheckedIndex < 0 {
			d.lastCheckedIndex = 0
		}
	}

	keyword := d.keyword
	d.mu.Unlock()

	if keyword != "" && strings.Contains(strings.ToLower(text), strings.ToLower(keyword)) {
		ev := Event{Type: TypeKeyword, SpeakerID: speakerID, Confidence: 1.0, MatchedText: text, Role: RoleUnclear}
		if d.latch() {
			return ev, true
		}
	}
	return Event{}, false
}

// latch sets the fired flag if not already set, returning true if this call
// won the race to fire.
func (d *Detector) latch() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.latched {
		return false
	}
	d.latched = true
	return true
}

// runSemanticCheck sends the last 20 utterances (if any are new since the
// last check) to the LLM classifier. Skips the tick entirely if another
// check is already in flight or the detector has already latched.
func (d *Detector) runSemanticCheck(ctx context.Context, onFire func(Event)) {
	d.mu.Lock()
	if d.latched || d.semanticInFlight {
		d.mu.Unlock()
		return
	}
	if d.lastCheckedIndex >= len(d.window) {
		d.mu.Unlock()
		return
	}
	d.semanticInFlight = true
	recent := d.recentWindowLocked(20)
	d.lastCheckedIndex = len(d.window)
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.semanticInFlight = false
		d.mu.Unlock()
	}()

	result, err := d.classify(ctx, recent)
	if err != nil {
		return
	}
	if !(result.Triggered && result.Confidence >= semanticConfidenceMin) {
		return
	}

	if !d.latch() {
		return
	}
	onFire(Event{
		Type:       TypeSemantic,
		Confidence: result.Confidence,
		Role:       result.Role,
		Summary:    result.Summary,
	})
}

// recentWindowLocked returns up to n of the most recent utterances. Must be
// called with d.mu held.
func (d *Detector) recentWindowLocked(n int) []utterance {
	if len(d.window) <= n {
		return append([]utterance(nil), d.window...)
	}
	return append([]utterance(nil), d.window[len(d.window)-n:]...)
}

func (d *Detector) classify(ctx context.Context, recent []utterance) (classification, error) {
	var b strings.Builder
	for _, u := range recent {
		fmt.Fprintf(&b, "%s: %s\n", u.speakerID, u.text)
	}

	resp, err := d.llmProvider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt:       semanticSystemPrompt,
		Messages:           []llm.Message{{Role: "user", Content: b.String()}},
		ResponseFormatJSON: true,
	})
	if err != nil {
		return classification{}, fmt.Errorf("trigger: classify: %w", err)
	}

	var result classification
	if err := json.Unmarshal([]byte(resp.Content), &result); err != nil {
		return classification{}, fmt.Errorf("trigger: decode classifier response: %w", err)
	}
	return result, nil
}

const semanticSystemPrompt = `You are monitoring a two-person voice conversation for the moment the speakers commit to negotiating a financial agreement (a job, a sale, a service).

Respond with strict JSON only, matching this shape:
{"triggered": bool, "confidence": number between 0 and 1, "role": "proposer"|"responder"|"unclear", "summary": string, "terms": [string]}

Set triggered=true only once the speakers have moved from general conversation to actually committing to negotiate concrete terms.`
