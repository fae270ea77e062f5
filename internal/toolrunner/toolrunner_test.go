package toolrunner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handshake/negotiator/pkg/llm"
	llmmock "github.com/handshake/negotiator/pkg/llm/mock"
)

func TestRun_EndsImmediatelyWithoutToolCalls(t *testing.T) {
	provider := llmmock.New(llm.CompletionResponse{Content: "hello", StopReason: llm.StopEndTurn})
	reg := NewRegistry()

	res, err := Run(context.Background(), provider, "sys", nil, nil, reg, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.FinalText)
}

func TestRun_DispatchesToolCallThenFinishes(t *testing.T) {
	provider := llmmock.New(
		llm.CompletionResponse{
			StopReason: llm.StopToolUse,
			ToolCalls:  []llm.ToolCall{{ID: "call-1", Name: "echo", Arguments: `{"x":1}`}},
		},
		llm.CompletionResponse{Content: "done", StopReason: llm.StopEndTurn},
	)
	reg := NewRegistry()
	var gotArgs string
	reg.Register("echo", func(_ context.Context, args string) (string, error) {
		gotArgs = args
		return "ok", nil
	})

	res, err := Run(context.Background(), provider, "sys", nil, nil, reg, 5)
	require.NoError(t, err)
	assert.Equal(t, "done", res.FinalText)
	assert.Equal(t, `{"x":1}`, gotArgs)

	// The tool result made it into history as a tool-role message.
	var found bool
	for _, m := range res.Messages {
		if m.Role == "tool" && m.Content == "ok" && m.ToolCallID == "call-1" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRun_ToolHandlerErrorBecomesToolText(t *testing.T) {
	provider := llmmock.New(
		llm.CompletionResponse{
			StopReason: llm.StopToolUse,
			ToolCalls:  []llm.ToolCall{{ID: "call-1", Name: "boom"}},
		},
		llm.CompletionResponse{Content: "recovered", StopReason: llm.StopEndTurn},
	)
	reg := NewRegistry()
	reg.Register("boom", func(_ context.Context, _ string) (string, error) {
		return "", assertErr{}
	})

	res, err := Run(context.Background(), provider, "sys", nil, nil, reg, 5)
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.FinalText)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom failed" }

func TestRun_UnknownToolReturnsErrorText(t *testing.T) {
	provider := llmmock.New(
		llm.CompletionResponse{
			StopReason: llm.StopToolUse,
			ToolCalls:  []llm.ToolCall{{ID: "call-1", Name: "missing"}},
		},
		llm.CompletionResponse{Content: "ok", StopReason: llm.StopEndTurn},
	)
	reg := NewRegistry()

	res, err := Run(context.Background(), provider, "sys", nil, nil, reg, 5)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.FinalText)
}

func TestRun_RecursionExceeded(t *testing.T) {
	responses := make([]llm.CompletionResponse, 0, 10)
	for i := 0; i < 10; i++ {
		responses = append(responses, llm.CompletionResponse{
			StopReason: llm.StopToolUse,
			ToolCalls:  []llm.ToolCall{{ID: "call", Name: "loop"}},
		})
	}
	provider := llmmock.New(responses...)
	reg := NewRegistry()
	reg.Register("loop", func(_ context.Context, _ string) (string, error) { return "again", nil })

	_, err := Run(context.Background(), provider, "sys", nil, nil, reg, 3)
	assert.ErrorIs(t, err, ErrRecursionExceeded)
}
