package provider

import "context"

// Message represents one entry in the LLM conversation.
// It is the neutral shape shared by all providers; each adapter converts it
// to its own wire format when building a request.
type Message struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`   // assistant turns that invoked tools
	ToolResults []ToolResult `json:"tool_results,omitempty"` // tool feedback carried in a user turn (Anthropic shape)
	ToolCallID  string       `json:"tool_call_id,omitempty"` // set on role "tool" messages (OpenAI shape)
}

// ToolCall is a finalized, parsed model request to invoke a named tool.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// ToolResult is a serialized tool outcome fed back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolDefinition describes a callable tool in provider-neutral form.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage carries token accounting for one provider call.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
}

// Add accumulates counts from another Usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheCreationTokens += other.CacheCreationTokens
}

// Request is one chat call to a provider.
type Request struct {
	Messages    []Message
	Tools       []ToolDefinition
	System      string
	Model       string
	MaxTokens   int
	Temperature *float64
	Stream      bool
}

// ModelInfo describes a model offered by a provider.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextWindow int    `json:"context_window"`
	MaxOutput     int    `json:"max_output"`
	Deprecated    bool   `json:"deprecated,omitempty"`
}

// Provider is the uniform streaming interface over an LLM vendor.
//
// Chat returns a channel of events and never a Go error: transport failures
// are delivered in-band as a single error event, after which the channel is
// closed. The returned channel is always closed when the call is over or the
// context is canceled.
type Provider interface {
	Name() string
	DefaultModel() string
	Models() []ModelInfo
	Chat(ctx context.Context, req Request) <-chan Event
}

// Stop reasons in the uniform vocabulary. Adapters normalize vendor-specific
// finish reasons to these values where a mapping exists.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)
