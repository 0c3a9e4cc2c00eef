package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const anthropicVersion = "2023-06-01"

// Anthropic is a Messages API provider with SSE streaming.
type Anthropic struct {
	apiURL string
	apiKey string
	client *http.Client
}

// NewAnthropic creates an Anthropic provider. baseURL defaults to the public
// API when empty.
func NewAnthropic(apiKey, baseURL string) *Anthropic {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &Anthropic{
		apiURL: baseURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: 300 * time.Second},
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) DefaultModel() string { return "claude-sonnet-4-5-20250929" }

func (a *Anthropic) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "claude-opus-4-5-20251101", Name: "Claude Opus 4.5", ContextWindow: 200000, MaxOutput: 64000},
		{ID: "claude-sonnet-4-5-20250929", Name: "Claude Sonnet 4.5", ContextWindow: 200000, MaxOutput: 64000},
		{ID: "claude-haiku-4-5-20251001", Name: "Claude Haiku 4.5", ContextWindow: 200000, MaxOutput: 64000},
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextWindow: 200000, MaxOutput: 16384, Deprecated: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextWindow: 200000, MaxOutput: 8192},
	}
}

// Chat sends a Messages API request and relays the response as uniform
// events. Any failure is reported as a single in-band error event.
func (a *Anthropic) Chat(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		if err := a.chat(ctx, req, out); err != nil {
			slog.Error("anthropic chat failed", slog.String("error", err.Error()))
			emit(ctx, out, ErrorEvent("anthropic", err.Error()))
		}
	}()
	return out
}

func (a *Anthropic) chat(ctx context.Context, req Request, out chan<- Event) error {
	model := req.Model
	if model == "" {
		model = a.DefaultModel()
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	body := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   a.buildMessages(req.Messages),
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if len(req.Tools) > 0 {
		tools, err := FormatTools(FormatAnthropic, req.Tools)
		if err != nil {
			return err
		}
		body["tools"] = tools
	}
	if req.Stream {
		body["stream"] = true
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		pe := parseProviderError(resp.StatusCode, data)
		pe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return pe
	}

	if req.Stream {
		return a.consumeStream(ctx, resp.Body, out)
	}
	return a.consumeResponse(ctx, resp.Body, out)
}

// Anthropic SSE payload shapes.
type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message struct {
		Model string `json:"model"`
		Role  string `json:"role"`
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			OutputTokens             int `json:"output_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Anthropic) consumeStream(ctx context.Context, r io.Reader, out chan<- Event) error {
	var usage Usage
	err := consumeSSE(ctx, r, func(_, data string) error {
		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}
		switch ev.Type {
		case "message_start":
			usage.InputTokens = ev.Message.Usage.InputTokens
			usage.CacheReadTokens = ev.Message.Usage.CacheReadInputTokens
			usage.CacheCreationTokens = ev.Message.Usage.CacheCreationInputTokens
			emit(ctx, out, Event{Type: EventMessageStart, Model: ev.Message.Model, Role: ev.Message.Role})
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				emit(ctx, out, Event{Type: EventToolCallStart, ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name, Index: ev.Index})
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				emit(ctx, out, Event{Type: EventContent, Text: ev.Delta.Text, Index: ev.Index})
			case "input_json_delta":
				emit(ctx, out, Event{Type: EventToolCallDelta, PartialJSON: ev.Delta.PartialJSON, Index: ev.Index})
			}
		case "content_block_stop":
			emit(ctx, out, Event{Type: EventBlockStop, Index: ev.Index})
		case "message_delta":
			usage.OutputTokens = ev.Usage.OutputTokens
			if ev.Delta.StopReason != "" {
				emit(ctx, out, Event{Type: EventStop, StopReason: ev.Delta.StopReason})
			}
		case "message_stop":
			emit(ctx, out, Event{Type: EventUsage, Usage: &usage})
			emit(ctx, out, Event{Type: EventDone, Provider: "anthropic"})
		case "error":
			return &ProviderError{StatusCode: 0, Message: ev.Error.Message, Raw: data}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	return nil
}

// Anthropic non-streaming response shape.
type anthropicResponse struct {
	Model   string `json:"model"`
	Role    string `json:"role"`
	Content []struct {
		Type  string         `json:"type"`
		Text  string         `json:"text"`
		ID    string         `json:"id"`
		Name  string         `json:"name"`
		Input map[string]any `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	} `json:"usage"`
}

func (a *Anthropic) consumeResponse(ctx context.Context, r io.Reader, out chan<- Event) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var resp anthropicResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	emit(ctx, out, Event{Type: EventMessageStart, Model: resp.Model, Role: resp.Role})
	for idx, block := range resp.Content {
		switch block.Type {
		case "text":
			emit(ctx, out, Event{Type: EventContent, Text: block.Text, Index: idx})
		case "tool_use":
			emit(ctx, out, Event{Type: EventToolCall, ID: block.ID, Name: block.Name, Input: block.Input, Index: idx})
		}
	}
	if resp.StopReason != "" {
		emit(ctx, out, Event{Type: EventStop, StopReason: resp.StopReason})
	}
	emit(ctx, out, Event{Type: EventUsage, Usage: &Usage{
		InputTokens:         resp.Usage.InputTokens,
		OutputTokens:        resp.Usage.OutputTokens,
		CacheReadTokens:     resp.Usage.CacheReadInputTokens,
		CacheCreationTokens: resp.Usage.CacheCreationInputTokens,
	}})
	emit(ctx, out, Event{Type: EventDone, Provider: "anthropic"})
	return nil
}

// buildMessages converts neutral messages into Messages API content blocks.
// Assistant tool calls become tool_use blocks; tool feedback becomes a user
// message of tool_result blocks.
func (a *Anthropic) buildMessages(messages []Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		switch {
		case len(m.ToolResults) > 0:
			blocks := make([]map[string]any, 0, len(m.ToolResults))
			for _, tr := range m.ToolResults {
				block := map[string]any{
					"type":        "tool_result",
					"tool_use_id": tr.ToolCallID,
					"content":     tr.Content,
				}
				if tr.IsError {
					block["is_error"] = true
				}
				blocks = append(blocks, block)
			}
			out = append(out, map[string]any{"role": "user", "content": blocks})
		case len(m.ToolCalls) > 0:
			blocks := make([]map[string]any, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Input
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": input,
				})
			}
			out = append(out, map[string]any{"role": "assistant", "content": blocks})
		default:
			out = append(out, map[string]any{"role": m.Role, "content": m.Content})
		}
	}
	return out
}

// emit sends an event unless the context is already canceled.
func emit(ctx context.Context, out chan<- Event, ev Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
