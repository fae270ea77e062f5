package llm

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts), used
	// to label which room member an utterance came from.
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this
	// message's content is a result for.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool name, one of the fixed contractual tool names offered
	// by the Agent Driver or Verification Driver.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// CompletionRequest carries everything the LLM needs to produce a response.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages as the model's system instruction.
	SystemPrompt string

	// Messages is the ordered conversation history.
	Messages []Message

	// Tools is the set of tool definitions offered to the model for this call.
	// Nil or empty means tool calling is disabled for this request.
	Tools []ToolDefinition

	// Temperature controls output randomness in [0.0, 2.0].
	Temperature float64

	// MaxTokens caps completion tokens. Zero means provider default.
	MaxTokens int

	// ResponseFormatJSON requests that the provider constrain output to a
	// single JSON object, used by the Trigger Detector's semantic classifier.
	ResponseFormatJSON bool
}

// StopReason is set on every CompletionResponse of a call.
type StopReason string

const (
	// StopEndTurn means the model produced a final text reply with no
	// outstanding tool calls — the Agent Driver / Verification Driver loop
	// exits.
	StopEndTurn StopReason = "end_turn"

	// StopToolUse means the model's response contains one or more ToolCalls
	// that must be dispatched before the loop continues.
	StopToolUse StopReason = "tool_use"
)

// CompletionResponse is returned by Provider.Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. May be empty when
	// StopReason is StopToolUse.
	Content string

	// ToolCalls lists all tool invocations requested by the model.
	ToolCalls []ToolCall

	// StopReason indicates why generation stopped.
	StopReason StopReason
}
