package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// collect drains a Chat event channel into a slice.
func collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

// eventsOfType filters collected events by type.
func eventsOfType(events []Event, t EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// sseBody joins Anthropic-style SSE events into one response body.
func sseBody(events ...string) string {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString(ev)
		b.WriteString("\n\n")
	}
	return b.String()
}

func newTestAnthropic(baseURL string) *Anthropic {
	return &Anthropic{
		apiURL: baseURL,
		apiKey: "test-key",
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func newTestOpenAI(baseURL string) *OpenAI {
	return &OpenAI{
		apiURL: baseURL,
		apiKey: "test-key",
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// --- Anthropic streaming ----------------------------------------------------

func TestAnthropicStream_TextAndToolCall(t *testing.T) {
	body := sseBody(
		`event: message_start
data: {"type":"message_start","message":{"model":"claude-test","role":"assistant","usage":{"input_tokens":12}}}`,
		`event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Checking"}}`,
		`event: content_block_stop
data: {"type":"content_block_stop","index":0}`,
		`event: content_block_start
data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}`,
		`event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`,
		`event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"Oslo\"}"}}`,
		`event: content_block_stop
data: {"type":"content_block_stop","index":1}`,
		`event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":34}}`,
		`event: message_stop
data: {"type":"message_stop"}`,
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	p := newTestAnthropic(srv.URL)
	events := collect(p.Chat(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "weather in oslo?"}},
		Stream:   true,
	}))

	if errs := eventsOfType(events, EventError); len(errs) != 0 {
		t.Fatalf("unexpected error events: %+v", errs)
	}

	starts := eventsOfType(events, EventMessageStart)
	if len(starts) != 1 || starts[0].Model != "claude-test" {
		t.Fatalf("message_start = %+v", starts)
	}

	content := eventsOfType(events, EventContent)
	if len(content) != 1 || content[0].Text != "Checking" {
		t.Errorf("content events = %+v", content)
	}

	tcStarts := eventsOfType(events, EventToolCallStart)
	if len(tcStarts) != 1 || tcStarts[0].ID != "toolu_1" || tcStarts[0].Name != "get_weather" || tcStarts[0].Index != 1 {
		t.Fatalf("tool_call_start = %+v", tcStarts)
	}

	var gotJSON string
	for _, ev := range eventsOfType(events, EventToolCallDelta) {
		if ev.Index != 1 {
			t.Errorf("delta index = %d, want 1", ev.Index)
		}
		gotJSON += ev.PartialJSON
	}
	if gotJSON != `{"city":"Oslo"}` {
		t.Errorf("accumulated json = %q", gotJSON)
	}

	stops := eventsOfType(events, EventBlockStop)
	if len(stops) != 2 {
		t.Errorf("block_stop count = %d, want 2", len(stops))
	}

	stop := eventsOfType(events, EventStop)
	if len(stop) != 1 || stop[0].StopReason != StopToolUse {
		t.Errorf("stop = %+v", stop)
	}

	usage := eventsOfType(events, EventUsage)
	if len(usage) != 1 || usage[0].Usage.InputTokens != 12 || usage[0].Usage.OutputTokens != 34 {
		t.Errorf("usage = %+v", usage)
	}

	if events[len(events)-1].Type != EventDone {
		t.Errorf("last event = %+v, want done", events[len(events)-1])
	}
}

func TestAnthropicStream_HTTPErrorBecomesErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"rate limited"}}`))
	}))
	defer srv.Close()

	p := newTestAnthropic(srv.URL)
	events := collect(p.Chat(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Stream:   true,
	}))

	if len(events) != 1 {
		t.Fatalf("events = %+v, want single error", events)
	}
	ev := events[0]
	if ev.Type != EventError || ev.Provider != "anthropic" {
		t.Fatalf("event = %+v", ev)
	}
	if !strings.Contains(ev.Err, "rate limited") {
		t.Errorf("error message = %q", ev.Err)
	}
}

func TestAnthropicNonStream_CompleteToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"claude-test","role":"assistant",
			"content":[
				{"type":"text","text":"One moment."},
				{"type":"tool_use","id":"toolu_9","name":"search_vault","input":{"query":"gardening"}}
			],
			"stop_reason":"tool_use",
			"usage":{"input_tokens":5,"output_tokens":7}
		}`))
	}))
	defer srv.Close()

	p := newTestAnthropic(srv.URL)
	events := collect(p.Chat(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "gardening notes"}},
	}))

	calls := eventsOfType(events, EventToolCall)
	if len(calls) != 1 {
		t.Fatalf("tool_call events = %+v", calls)
	}
	if calls[0].ID != "toolu_9" || calls[0].Name != "search_vault" {
		t.Errorf("tool_call = %+v", calls[0])
	}
	if calls[0].Input["query"] != "gardening" {
		t.Errorf("input = %+v", calls[0].Input)
	}
}

// --- OpenAI streaming -------------------------------------------------------

func TestOpenAIStream_ToolCallFragments(t *testing.T) {
	chunks := []string{
		`{"model":"gpt-test","choices":[{"index":0,"delta":{"role":"assistant","content":"Let me check."}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"list_notes","arguments":""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"folder\":"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"inbox\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":20,"completion_tokens":9}}`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", c)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := newTestOpenAI(srv.URL)
	events := collect(p.Chat(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "list my inbox"}},
		Stream:   true,
	}))

	if errs := eventsOfType(events, EventError); len(errs) != 0 {
		t.Fatalf("unexpected error events: %+v", errs)
	}

	tcStarts := eventsOfType(events, EventToolCallStart)
	if len(tcStarts) != 1 || tcStarts[0].ID != "call_1" || tcStarts[0].Name != "list_notes" {
		t.Fatalf("tool_call_start = %+v", tcStarts)
	}

	var gotJSON string
	for _, ev := range eventsOfType(events, EventToolCallDelta) {
		gotJSON += ev.PartialJSON
	}
	if gotJSON != `{"folder":"inbox"}` {
		t.Errorf("accumulated json = %q", gotJSON)
	}

	stops := eventsOfType(events, EventBlockStop)
	if len(stops) != 1 || stops[0].Index != 0 {
		t.Errorf("block_stop = %+v", stops)
	}

	stop := eventsOfType(events, EventStop)
	if len(stop) != 1 || stop[0].StopReason != StopToolUse {
		t.Errorf("stop = %+v, want normalized tool_use", stop)
	}

	usage := eventsOfType(events, EventUsage)
	if len(usage) != 1 || usage[0].Usage.InputTokens != 20 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestOpenAIStream_FinishReasonNormalization(t *testing.T) {
	cases := []struct {
		finish string
		want   string
	}{
		{"stop", StopEndTurn},
		{"tool_calls", StopToolUse},
		{"length", StopMaxTokens},
		{"content_filter", "content_filter"},
	}
	for _, tc := range cases {
		if got := normalizeFinishReason(tc.finish); got != tc.want {
			t.Errorf("normalizeFinishReason(%q) = %q, want %q", tc.finish, got, tc.want)
		}
	}
}

func TestOpenAIStream_AuthErrorBecomesErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	p := newTestOpenAI(srv.URL)
	events := collect(p.Chat(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Stream:   true,
	}))

	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v, want single error", events)
	}
	if events[0].Provider != "openai" {
		t.Errorf("provider = %q", events[0].Provider)
	}
}

// --- error parsing ----------------------------------------------------------

func TestParseProviderError(t *testing.T) {
	pe := parseProviderError(429, []byte(`{"error":{"message":"quota exceeded"}}`))
	if pe.Message != "quota exceeded" || !pe.IsRateLimit() || !pe.IsTransient() {
		t.Errorf("openai-format parse = %+v", pe)
	}

	pe = parseProviderError(401, []byte(`{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`))
	if pe.Message != "bad key" || !pe.IsAuth() {
		t.Errorf("anthropic-format parse = %+v", pe)
	}

	pe = parseProviderError(400, []byte(`{"error":{"message":"prompt is too long: 250000 tokens"}}`))
	if !pe.IsContextLength() {
		t.Errorf("context-length detection failed: %+v", pe)
	}

	pe = parseProviderError(502, []byte("bad gateway\nmore detail"))
	if pe.Message != "bad gateway" || !pe.IsServerError() {
		t.Errorf("fallback parse = %+v", pe)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("30"); got != 30*time.Second {
		t.Errorf("parseRetryAfter(30) = %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter(empty) = %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("parseRetryAfter(garbage) = %v", got)
	}
	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 0 || got > 90*time.Second {
		t.Errorf("parseRetryAfter(http date) = %v", got)
	}
}

func TestRateLimitErrorCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"rate limited"}}`))
	}))
	defer srv.Close()

	p := newTestAnthropic(srv.URL)
	out := make(chan Event, 16)
	err := p.chat(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, out)

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ProviderError", err)
	}
	if !pe.IsRateLimit() {
		t.Errorf("IsRateLimit() = false for %+v", pe)
	}
	if pe.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", pe.RetryAfter)
	}
}

// --- message conversion -----------------------------------------------------

func TestAnthropicBuildMessages_ToolShapes(t *testing.T) {
	a := newTestAnthropic("http://unused")
	msgs := a.buildMessages([]Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "checking", ToolCalls: []ToolCall{{ID: "t1", Name: "read_vault_file", Input: map[string]any{"path": "a.md"}}}},
		{Role: "user", ToolResults: []ToolResult{{ToolCallID: "t1", Content: "# A", IsError: false}}},
	})

	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}

	blocks, ok := msgs[1]["content"].([]map[string]any)
	if !ok || len(blocks) != 2 {
		t.Fatalf("assistant blocks = %+v", msgs[1]["content"])
	}
	if blocks[0]["type"] != "text" || blocks[1]["type"] != "tool_use" {
		t.Errorf("block types = %v %v", blocks[0]["type"], blocks[1]["type"])
	}

	results, ok := msgs[2]["content"].([]map[string]any)
	if !ok || len(results) != 1 || results[0]["tool_use_id"] != "t1" {
		t.Fatalf("tool_result blocks = %+v", msgs[2]["content"])
	}
	if _, present := results[0]["is_error"]; present {
		t.Errorf("is_error should be omitted for success results")
	}
}

func TestOpenAIBuildMessages_ToolShapes(t *testing.T) {
	o := newTestOpenAI("http://unused")
	msgs := o.buildMessages("be brief", []Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "c1", Name: "list_notes", Input: map[string]any{"folder": "inbox"}}}},
		{Role: "user", ToolResults: []ToolResult{
			{ToolCallID: "c1", Content: "a.md, b.md"},
			{ToolCallID: "c2", Content: "boom", IsError: true},
		}},
	})

	if msgs[0]["role"] != "system" {
		t.Fatalf("first message = %+v, want system", msgs[0])
	}
	// system + user + assistant + two tool messages
	if len(msgs) != 5 {
		t.Fatalf("messages = %d, want 5", len(msgs))
	}
	if msgs[3]["role"] != "tool" || msgs[3]["tool_call_id"] != "c1" {
		t.Errorf("tool message = %+v", msgs[3])
	}
	if msgs[4]["tool_call_id"] != "c2" {
		t.Errorf("second tool message = %+v", msgs[4])
	}
}
