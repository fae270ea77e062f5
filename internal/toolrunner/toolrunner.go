// Package toolrunner implements the bounded tool-calling loop shared by the
// Agent Driver and Verification Driver: repeatedly complete against an LLM
// provider, dispatch any requested tool calls against an in-process
// registry, and feed results back as tool messages until the model stops
// requesting tools or a recursion bound is hit.
//
// Tool handler errors never escape the loop as Go errors — they become the
// tool's own error-flagged text result rather than failing the whole call.
package toolrunner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/handshake/negotiator/pkg/llm"
)

// Handler executes one tool call and returns its JSON (or plain text)
// result. A returned error is converted to the tool's text result by the
// loop; it never aborts the run.
type Handler func(ctx context.Context, argsJSON string) (string, error)

// Registry is a thread-safe, in-process table of named tool handlers. The
// tool set is fixed and contractual per call site, not externally
// discoverable.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// ErrToolNotFound is returned (as a tool-result error text, never a Go
// error from Run) when the model names a tool absent from the registry.
var ErrToolNotFound = errors.New("toolrunner: tool not found")

func (r *Registry) dispatch(ctx context.Context, name, argsJSON string) string {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name).Error()
	}
	out, err := h(ctx, argsJSON)
	if err != nil {
		return err.Error()
	}
	return out
}

// ErrRecursionExceeded is returned by Run when the model keeps requesting
// tools past maxDepth without reaching a final end_turn reply.
var ErrRecursionExceeded = errors.New("toolrunner: recursion depth exceeded")

// Result is the outcome of a completed Run.
type Result struct {
	// FinalText is the assistant's last end_turn reply, empty if the loop
	// exited by recursion exhaustion.
	FinalText string
	// Messages is the full conversation, including every tool round trip,
	// suitable for continuing in a later Run call.
	Messages []llm.Message
}

// StopCheck reports whether the loop should end early. It is evaluated after
// a round's tool results have been appended to history but before completing
// again, for callers where a tool call itself marks completion (e.g. a
// verdict tool) rather than the model's own end_turn.
type StopCheck func() bool

// Run drives the tool-calling loop: it sends messages (with systemPrompt and
// tools attached) to provider, and for every StopToolUse response, dispatches
// each requested call through reg and appends a "tool" role message with the
// result before completing again. The loop ends when the model returns
// StopEndTurn, or after maxDepth round trips, whichever comes first.
func Run(ctx context.Context, provider llm.Provider, systemPrompt string, messages []llm.Message, tools []llm.ToolDefinition, reg *Registry, maxDepth int) (Result, error) {
	return RunUntil(ctx, provider, systemPrompt, messages, tools, reg, maxDepth, nil)
}

// RunUntil behaves like Run but also ends the loop, with no error, as soon as
// stop reports true. stop is checked once per round, after that round's tool
// results are appended to history. A nil stop makes RunUntil behave exactly
// like Run.
func RunUntil(ctx context.Context, provider llm.Provider, systemPrompt string, messages []llm.Message, tools []llm.ToolDefinition, reg *Registry, maxDepth int, stop StopCheck) (Result, error) {
	history := append([]llm.Message(nil), messages...)

	for depth := 0; depth < maxDepth; depth++ {
		resp, err := provider.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: systemPrompt,
			Messages:     history,
			Tools:        tools,
		})
		if err != nil {
			return Result{Messages: history}, fmt.Errorf("toolrunner: complete: %w", err)
		}

		history = append(history, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if resp.StopReason == llm.StopEndTurn || len(resp.ToolCalls) == 0 {
			return Result{FinalText: resp.Content, Messages: history}, nil
		}

		for _, tc := range resp.ToolCalls {
			result := reg.dispatch(ctx, tc.Name, tc.Arguments)
			history = append(history, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
		}

		if stop != nil && stop() {
			return Result{Messages: history}, nil
		}
	}

	return Result{Messages: history}, ErrRecursionExceeded
}
