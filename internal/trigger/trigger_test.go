package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handshake/negotiator/pkg/llm"
	llmmock "github.com/handshake/negotiator/pkg/llm/mock"
)

func TestDetector_KeywordPathFires(t *testing.T) {
	d := New(llmmock.New(), "handshake")

	ev, fired := d.HandleFinalTranscript("alice", "let's do a handshake on this")
	require.True(t, fired)
	assert.Equal(t, TypeKeyword, ev.Type)
	assert.Equal(t, 1.0, ev.Confidence)
	assert.Equal(t, RoleUnclear, ev.Role)
}

func TestDetector_KeywordPathCaseInsensitive(t *testing.T) {
	d := New(llmmock.New(), "handshake")
	_, fired := d.HandleFinalTranscript("alice", "HANDSHAKE time")
	assert.True(t, fired)
}

func TestDetector_LatchPreventsSecondFire(t *testing.T) {
	d := New(llmmock.New(), "handshake")
	_, first := d.HandleFinalTranscript("alice", "handshake please")
	_, second := d.HandleFinalTranscript("bob", "handshake again")
	assert.True(t, first)
	assert.False(t, second)
}

func TestDetector_SetKeywordDoesNotResetLatch(t *testing.T) {
	d := New(llmmock.New(), "handshake")
	_, fired := d.HandleFinalTranscript("alice", "handshake")
	require.True(t, fired)

	d.SetKeyword("newkeyword")
	_, second := d.HandleFinalTranscript("bob", "newkeyword")
	assert.False(t, second, "latch must stay set across a keyword change")
}

func TestDetector_ResetClearsLatch(t *testing.T) {
	d := New(llmmock.New(), "handshake")
	_, fired := d.HandleFinalTranscript("alice", "handshake")
	require.True(t, fired)

	d.Reset()
	_, second := d.HandleFinalTranscript("bob", "handshake again")
	assert.True(t, second)
}

func TestDetector_SemanticCheck_FiresAboveThreshold(t *testing.T) {
	provider := llmmock.New(llm.CompletionResponse{
		Content: `{"triggered":true,"confidence":0.9,"role":"proposer","summary":"agreeing on a price","terms":["500 gbp"]}`,
	})
	d := New(provider, "")
	d.HandleFinalTranscript("alice", "I can do this job for 500")
	d.HandleFinalTranscript("bob", "deal")

	var fired *Event
	d.runSemanticCheck(context.Background(), func(ev Event) { fired = &ev })

	require.NotNil(t, fired)
	assert.Equal(t, TypeSemantic, fired.Type)
	assert.Equal(t, RoleProposer, fired.Role)
}

func TestDetector_SemanticCheck_BelowThresholdDoesNotFire(t *testing.T) {
	provider := llmmock.New(llm.CompletionResponse{
		Content: `{"triggered":true,"confidence":0.4,"role":"unclear","summary":"","terms":[]}`,
	})
	d := New(provider, "")
	d.HandleFinalTranscript("alice", "just chatting")

	var fired bool
	d.runSemanticCheck(context.Background(), func(Event) { fired = true })
	assert.False(t, fired)
}

func TestDetector_SemanticCheck_SkipsWhenNoNewTranscripts(t *testing.T) {
	// Below-threshold so the first check does not latch; the second check
	// must still be skipped because no new utterances arrived in between.
	provider := llmmock.New(llm.CompletionResponse{
		Content: `{"triggered":false,"confidence":0.1,"role":"unclear","summary":"","terms":[]}`,
	})
	d := New(provider, "")
	d.HandleFinalTranscript("alice", "hello")
	d.runSemanticCheck(context.Background(), func(Event) {})
	assert.Equal(t, 1, provider.CallCount())

	d.runSemanticCheck(context.Background(), func(Event) {
		t.Fatal("must not re-check without new transcripts")
	})
	assert.Equal(t, 1, provider.CallCount(), "second check should have been skipped entirely")
}

func TestDetector_WindowCapEvictsOldest(t *testing.T) {
	d := New(llmmock.New(), "")
	for i := 0; i < windowCap+10; i++ {
		d.HandleFinalTranscript("alice", "filler")
	}
	d.mu.Lock()
	n := len(d.window)
	d.mu.Unlock()
	assert.Equal(t, windowCap, n)
}
