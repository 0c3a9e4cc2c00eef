// Package chat drives the multi-turn conversation loop between a provider
// and the tool executor.
package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/vaultbrain/vaultbrain/internal/executor"
	"github.com/vaultbrain/vaultbrain/internal/metrics"
	"github.com/vaultbrain/vaultbrain/internal/provider"
	"github.com/vaultbrain/vaultbrain/internal/session"
)

// DefaultMaxTurns bounds provider round-trips per request. The limit is a
// safety valve against tool-call loops and must stay enforced even when the
// model keeps requesting tools.
const DefaultMaxTurns = 5

const defaultMaxTokens = 8192

// Done statuses carried on the final event.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// MessageStore is the slice of the session store the loop needs. The loop
// makes no assumption about the storage engine behind it.
type MessageStore interface {
	SaveMessage(ctx context.Context, m session.Message) (string, error)
}

// Request is one chat request driven through the loop.
type Request struct {
	SessionID string
	Messages  []provider.Message
	System    string
	Model     string
	MaxTurns  int  // 0 means DefaultMaxTurns
	NoTools   bool // quick mode: plain completion, no tool loop
}

// Loop runs chat requests against a provider with tool execution between
// turns. Tools come from the executor's registry; a nil store disables
// persistence.
type Loop struct {
	provider provider.Provider
	exec     *executor.Executor
	tools    []provider.ToolDefinition
	store    MessageStore
}

// NewLoop creates a conversation loop.
func NewLoop(p provider.Provider, exec *executor.Executor, tools []provider.ToolDefinition, store MessageStore) *Loop {
	return &Loop{provider: p, exec: exec, tools: tools, store: store}
}

// Run drives the request to completion, streaming uniform events. The
// channel is closed after the final done event, or without one when the
// context is canceled mid-request.
func (l *Loop) Run(ctx context.Context, req Request) <-chan provider.Event {
	em := newEmitter(ctx, 32)
	go func() {
		defer em.close()
		l.run(ctx, req, em)
	}()
	return em.ch
}

// turnOutcome is what one provider round-trip produced.
type turnOutcome struct {
	text        strings.Builder
	calls       []executor.Call   // parsed, executable
	failed      []executor.Result // parse failures, pre-failed
	failedCalls []executor.Call   // their calls, for feedback correlation
	providerErr bool
}

func (l *Loop) run(ctx context.Context, req Request, em *emitter) {
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	tools := l.tools
	if req.NoTools {
		tools = nil
	}

	msgs := make([]provider.Message, 0, len(req.Messages))
	msgs = append(msgs, req.Messages...)

	var allText strings.Builder
	var allCalls []provider.ToolCall
	var allResults []provider.ToolResult
	var totalUsage provider.Usage

	turn := 0
	completed := false

	for turn < maxTurns {
		turn++
		slog.Info("turn start",
			slog.String("session_id", req.SessionID),
			slog.String("provider", l.provider.Name()),
			slog.Int("turn", turn),
			slog.Int("max_turns", maxTurns))
		metrics.ProviderCalls.WithLabelValues(l.provider.Name()).Inc()

		outcome := l.streamTurn(ctx, provider.Request{
			Messages:  msgs,
			Tools:     tools,
			System:    req.System,
			Model:     req.Model,
			MaxTokens: defaultMaxTokens,
			Stream:    true,
		}, em, &allText, &allCalls, &totalUsage)

		if ctx.Err() != nil {
			// Canceled: stop consuming, skip the save.
			slog.Info("request canceled", slog.String("session_id", req.SessionID), slog.Int("turn", turn))
			return
		}
		if outcome.providerErr {
			// Transport failure is fatal for this request. Nothing from the
			// in-flight message is persisted.
			metrics.TurnsPerRequest.Observe(float64(turn))
			em.send(provider.Event{
				Type:      provider.EventDone,
				Status:    StatusFailed,
				Provider:  l.provider.Name(),
				Turns:     turn,
				SessionID: req.SessionID,
			})
			return
		}

		if len(outcome.calls) == 0 && len(outcome.failed) == 0 {
			completed = true
			break
		}

		// EXECUTING_TOOLS: run the whole batch concurrently, relaying each
		// result as it lands.
		results := l.exec.ExecuteAll(ctx, outcome.calls, func(r executor.Result) {
			em.send(provider.Event{
				Type:       provider.EventToolResult,
				ToolCallID: r.ToolCallID,
				Name:       r.ToolName,
				Result:     r.Content(),
				IsError:    !r.Success,
			})
		})
		for _, r := range outcome.failed {
			em.send(provider.Event{
				Type:       provider.EventToolResult,
				ToolCallID: r.ToolCallID,
				Name:       r.ToolName,
				Result:     r.Content(),
				IsError:    true,
			})
		}
		turnResults := append(results, outcome.failed...)
		for _, r := range turnResults {
			allResults = append(allResults, provider.ToolResult{
				ToolCallID: r.ToolCallID,
				Content:    r.Content(),
				IsError:    !r.Success,
			})
		}

		// Reinject: assistant turn first, then the results. Parse-failed
		// calls appear with empty input so every tool_result id matches a
		// tool call the model can see.
		assistant := provider.Message{Role: "assistant", Content: outcome.text.String()}
		for _, c := range outcome.calls {
			assistant.ToolCalls = append(assistant.ToolCalls, provider.ToolCall{ID: c.ID, Name: c.Name, Input: c.Input})
		}
		for _, c := range outcome.failedCalls {
			assistant.ToolCalls = append(assistant.ToolCalls, provider.ToolCall{ID: c.ID, Name: c.Name, Input: map[string]any{}})
		}
		msgs = append(msgs, assistant)

		feedback, err := executor.FormatFor(l.provider.Name(), turnResults)
		if err != nil {
			em.send(provider.ErrorEvent(l.provider.Name(), err.Error()))
			em.send(provider.Event{
				Type:      provider.EventDone,
				Status:    StatusFailed,
				Provider:  l.provider.Name(),
				Turns:     turn,
				SessionID: req.SessionID,
			})
			return
		}
		msgs = append(msgs, feedback...)
	}

	metrics.TurnsPerRequest.Observe(float64(turn))
	if ctx.Err() != nil {
		return
	}

	l.saveAssistantMessage(ctx, req.SessionID, allText.String(), allCalls, allResults, totalUsage)

	done := provider.Event{
		Type:      provider.EventDone,
		Status:    StatusCompleted,
		Provider:  l.provider.Name(),
		Turns:     turn,
		SessionID: req.SessionID,
	}
	if !completed {
		done.MaxTurnsReached = true
		slog.Warn("max turns reached", slog.String("session_id", req.SessionID), slog.Int("turns", turn))
	}
	em.send(done)
}

// streamTurn consumes one provider round-trip, relaying events and
// assembling tool calls. Adapter-level done events are swallowed; the loop
// owns the final done.
func (l *Loop) streamTurn(ctx context.Context, preq provider.Request, em *emitter, allText *strings.Builder, allCalls *[]provider.ToolCall, totalUsage *provider.Usage) turnOutcome {
	var outcome turnOutcome
	asm := newAssembler()

	for ev := range l.provider.Chat(ctx, preq) {
		if ctx.Err() != nil {
			return outcome
		}
		switch ev.Type {
		case provider.EventMessageStart, provider.EventToolCallStart, provider.EventToolCallDelta:
			if ev.Type == provider.EventToolCallStart {
				asm.start(ev.Index, ev.ID, ev.Name)
			}
			if ev.Type == provider.EventToolCallDelta {
				asm.delta(ev.Index, ev.PartialJSON)
			}
			em.send(ev)

		case provider.EventContent:
			if ev.Text != "" {
				outcome.text.WriteString(ev.Text)
				allText.WriteString(ev.Text)
				em.send(ev)
			}

		case provider.EventBlockStop:
			call, ok, err := asm.finish(ev.Index)
			if err != nil {
				// Malformed argument JSON is a failed tool call, not a
				// request abort. The model sees the parse error and adapts.
				if call.ID == "" {
					call.ID = uuid.NewString()
				}
				slog.Warn("tool call parse failed",
					slog.String("tool", call.Name),
					slog.String("tool_call_id", call.ID),
					slog.String("error", err.Error()))
				em.send(provider.ErrorEvent(l.provider.Name(), err.Error()))
				outcome.failedCalls = append(outcome.failedCalls, call)
				outcome.failed = append(outcome.failed, executor.Result{
					ToolCallID: call.ID,
					ToolName:   call.Name,
					Error:      err.Error(),
				})
				*allCalls = append(*allCalls, provider.ToolCall{ID: call.ID, Name: call.Name, Input: map[string]any{}})
				continue
			}
			if !ok {
				continue
			}
			outcome.calls = append(outcome.calls, call)
			*allCalls = append(*allCalls, provider.ToolCall{ID: call.ID, Name: call.Name, Input: call.Input})
			em.send(provider.Event{Type: provider.EventToolCall, ID: call.ID, Name: call.Name, Input: call.Input, Index: ev.Index})

		case provider.EventToolCall:
			// Complete call from a non-streaming path.
			call := executor.Call{ID: ev.ID, Name: ev.Name, Input: ev.Input}
			if call.ID == "" {
				call.ID = uuid.NewString()
			}
			outcome.calls = append(outcome.calls, call)
			*allCalls = append(*allCalls, provider.ToolCall{ID: call.ID, Name: call.Name, Input: call.Input})
			em.send(provider.Event{Type: provider.EventToolCall, ID: call.ID, Name: call.Name, Input: call.Input, Index: ev.Index})

		case provider.EventStop:
			if ev.StopReason == provider.StopMaxTokens {
				slog.Warn("response truncated at max_tokens")
			}
			em.send(ev)

		case provider.EventUsage:
			if ev.Usage != nil {
				totalUsage.Add(*ev.Usage)
				metrics.TokensUsed.WithLabelValues(l.provider.Name(), "input").Add(float64(ev.Usage.InputTokens))
				metrics.TokensUsed.WithLabelValues(l.provider.Name(), "output").Add(float64(ev.Usage.OutputTokens))
			}
			em.send(ev)

		case provider.EventError:
			metrics.ProviderErrors.WithLabelValues(l.provider.Name()).Inc()
			outcome.providerErr = true
			em.send(ev)

		case provider.EventDone:
			// Adapter-level boundary; the loop emits the request-level done.
		}
	}
	return outcome
}

// saveAssistantMessage persists the all-turns accumulation as one assistant
// message. A request that produced nothing saves nothing.
func (l *Loop) saveAssistantMessage(ctx context.Context, sessionID, text string, calls []provider.ToolCall, results []provider.ToolResult, usage provider.Usage) {
	if l.store == nil || sessionID == "" {
		return
	}
	if text == "" && len(calls) == 0 {
		return
	}
	var usagePtr *provider.Usage
	if usage != (provider.Usage{}) {
		u := usage
		usagePtr = &u
	}
	if _, err := l.store.SaveMessage(ctx, session.Message{
		SessionID:   sessionID,
		Role:        "assistant",
		Content:     text,
		ToolCalls:   calls,
		ToolResults: results,
		Usage:       usagePtr,
	}); err != nil {
		slog.Error("save assistant message failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
}
