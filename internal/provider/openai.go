package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// OpenAI is a Chat Completions provider with SSE streaming. It also serves
// OpenAI-compatible gateways via a custom base URL.
type OpenAI struct {
	apiURL string
	apiKey string
	client *http.Client
}

// NewOpenAI creates an OpenAI provider. baseURL defaults to the public API
// when empty.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		apiURL: baseURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: 300 * time.Second},
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) DefaultModel() string { return "gpt-4o" }

func (o *OpenAI) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "gpt-4o", Name: "GPT-4o", ContextWindow: 128000, MaxOutput: 16384},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextWindow: 128000, MaxOutput: 16384},
		{ID: "gpt-4.1", Name: "GPT-4.1", ContextWindow: 1000000, MaxOutput: 32768},
		{ID: "o3-mini", Name: "o3-mini", ContextWindow: 200000, MaxOutput: 100000},
	}
}

// Chat sends a chat completion request and relays the response as uniform
// events. Any failure is reported as a single in-band error event.
func (o *OpenAI) Chat(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		if err := o.chat(ctx, req, out); err != nil {
			slog.Error("openai chat failed", slog.String("error", err.Error()))
			emit(ctx, out, ErrorEvent("openai", err.Error()))
		}
	}()
	return out
}

func (o *OpenAI) chat(ctx context.Context, req Request, out chan<- Event) error {
	model := req.Model
	if model == "" {
		model = o.DefaultModel()
	}

	body := map[string]any{
		"model":    model,
		"messages": o.buildMessages(req.System, req.Messages),
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if len(req.Tools) > 0 {
		tools, err := FormatTools(FormatOpenAI, req.Tools)
		if err != nil {
			return err
		}
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}
	if req.Stream {
		body["stream"] = true
		body["stream_options"] = map[string]any{"include_usage": true}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(httpReq)
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
		return o.consumeStream(ctx, resp.Body, out)
	}
	return o.consumeResponse(ctx, resp.Body, out)
}

// OpenAI streaming chunk shape.
type openaiStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) consumeStream(ctx context.Context, r io.Reader, out chan<- Event) error {
	messageStarted := false
	openBlocks := map[int]bool{}
	var usage *Usage

	err := consumeSSE(ctx, r, func(_, data string) error {
		if data == "[DONE]" {
			return nil
		}
		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Usage != nil {
			usage = &Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		choice := chunk.Choices[0]

		if !messageStarted {
			emit(ctx, out, Event{Type: EventMessageStart, Model: chunk.Model, Role: "assistant"})
			messageStarted = true
		}
		if choice.Delta.Content != "" {
			emit(ctx, out, Event{Type: EventContent, Text: choice.Delta.Content, Index: choice.Index})
		}
		for _, tc := range choice.Delta.ToolCalls {
			if !openBlocks[tc.Index] {
				openBlocks[tc.Index] = true
				emit(ctx, out, Event{Type: EventToolCallStart, ID: tc.ID, Name: tc.Function.Name, Index: tc.Index})
			}
			if tc.Function.Arguments != "" {
				emit(ctx, out, Event{Type: EventToolCallDelta, PartialJSON: tc.Function.Arguments, Index: tc.Index})
			}
		}
		if choice.FinishReason != "" {
			// Close every open tool block so the consumer can assemble
			// and parse accumulated argument fragments.
			indexes := make([]int, 0, len(openBlocks))
			for idx := range openBlocks {
				indexes = append(indexes, idx)
			}
			sort.Ints(indexes)
			for _, idx := range indexes {
				emit(ctx, out, Event{Type: EventBlockStop, Index: idx})
			}
			emit(ctx, out, Event{Type: EventStop, StopReason: normalizeFinishReason(choice.FinishReason)})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}

	if usage != nil {
		emit(ctx, out, Event{Type: EventUsage, Usage: usage})
	}
	emit(ctx, out, Event{Type: EventDone, Provider: "openai"})
	return nil
}

// OpenAI non-streaming response shape.
type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) consumeResponse(ctx context.Context, r io.Reader, out chan<- Event) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var resp openaiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("empty choices in LLM response")
	}
	choice := resp.Choices[0]

	emit(ctx, out, Event{Type: EventMessageStart, Model: resp.Model, Role: choice.Message.Role})
	if choice.Message.Content != "" {
		emit(ctx, out, Event{Type: EventContent, Text: choice.Message.Content, Index: 0})
	}
	for idx, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			args = map[string]any{}
		}
		emit(ctx, out, Event{Type: EventToolCall, ID: tc.ID, Name: tc.Function.Name, Input: args, Index: idx})
	}
	if choice.FinishReason != "" {
		emit(ctx, out, Event{Type: EventStop, StopReason: normalizeFinishReason(choice.FinishReason)})
	}
	if resp.Usage != nil {
		emit(ctx, out, Event{Type: EventUsage, Usage: &Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}})
	}
	emit(ctx, out, Event{Type: EventDone, Provider: "openai"})
	return nil
}

// normalizeFinishReason maps Chat Completions finish reasons to the uniform
// stop vocabulary. Unknown reasons pass through unchanged.
func normalizeFinishReason(reason string) string {
	switch reason {
	case "stop":
		return StopEndTurn
	case "tool_calls":
		return StopToolUse
	case "length":
		return StopMaxTokens
	}
	return reason
}

// buildMessages converts neutral messages into Chat Completions messages.
// Tool feedback becomes one role "tool" message per result.
func (o *OpenAI) buildMessages(system string, messages []Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages)+1)
	if system != "" {
		out = append(out, map[string]any{"role": "system", "content": system})
	}
	for _, m := range messages {
		switch {
		case len(m.ToolResults) > 0:
			for _, tr := range m.ToolResults {
				out = append(out, map[string]any{
					"role":         "tool",
					"tool_call_id": tr.ToolCallID,
					"content":      tr.Content,
				})
			}
		case m.ToolCallID != "":
			out = append(out, map[string]any{
				"role":         "tool",
				"tool_call_id": m.ToolCallID,
				"content":      m.Content,
			})
		case len(m.ToolCalls) > 0:
			calls := make([]map[string]any, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Input)
				if err != nil || tc.Input == nil {
					args = []byte("{}")
				}
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(args),
					},
				})
			}
			msg := map[string]any{"role": "assistant", "tool_calls": calls}
			if m.Content != "" {
				msg["content"] = m.Content
			}
			out = append(out, msg)
		default:
			out = append(out, map[string]any{"role": m.Role, "content": m.Content})
		}
	}
	return out
}
