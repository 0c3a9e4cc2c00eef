package provider

// EventType tags one unit of the uniform stream vocabulary.
type EventType string

const (
	EventMessageStart  EventType = "message_start"
	EventContent       EventType = "content"
	EventToolCallStart EventType = "tool_call_start"
	EventToolCallDelta EventType = "tool_call_delta"
	EventToolCall      EventType = "tool_call"
	EventBlockStop     EventType = "block_stop" // internal boundary signal, not relayed to callers
	EventToolResult    EventType = "tool_result"
	EventStop          EventType = "stop"
	EventUsage         EventType = "usage"
	EventError         EventType = "error"
	EventDone          EventType = "done"
)

// Event is one unit of the stream emitted by adapters and relayed by the
// conversation loop. Only the fields relevant to Type are populated; the
// struct marshals directly to the SSE payload.
type Event struct {
	Type EventType `json:"type"`

	// message_start
	Model string `json:"model,omitempty"`
	Role  string `json:"role,omitempty"`

	// content / tool_call_delta / block boundaries
	Text        string `json:"text,omitempty"`
	Index       int    `json:"index,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`

	// tool_call_start / tool_call
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolCallID string `json:"tool_call_id,omitempty"`
	Result     string `json:"result,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`

	// stop
	StopReason string `json:"stop_reason,omitempty"`

	// usage
	Usage *Usage `json:"usage,omitempty"`

	// error
	Err      string `json:"error,omitempty"`
	Provider string `json:"provider,omitempty"`

	// done
	Status          string `json:"status,omitempty"`
	Turns           int    `json:"turns,omitempty"`
	MaxTurnsReached bool   `json:"max_turns_reached,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
}

// ErrorEvent builds the single in-band error event adapters emit on any
// transport failure. The message must already be sanitized for end users.
func ErrorEvent(providerName, message string) Event {
	return Event{Type: EventError, Err: message, Provider: providerName}
}
