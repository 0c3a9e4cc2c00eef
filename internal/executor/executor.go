// Package executor runs tool calls on behalf of the conversation loop and
// shapes their results for provider feedback.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/timeout"

	"github.com/vaultbrain/vaultbrain/internal/metrics"
	"github.com/vaultbrain/vaultbrain/internal/provider"
	"github.com/vaultbrain/vaultbrain/internal/toolreg"
)

// Call is one tool invocation requested by the model.
type Call struct {
	ID    string
	Name  string
	Input map[string]any
}

// Result is the outcome of one tool call. A failed call is still a Result;
// the executor never surfaces failures as Go errors.
type Result struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Success    bool   `json:"success"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Content returns the text fed back to the model for this result.
func (r Result) Content() string {
	if r.Success {
		return r.Result
	}
	return "Error: " + r.Error
}

// Executor runs registry tools with a per-call timeout.
type Executor struct {
	registry *toolreg.Registry
	timeout  time.Duration
}

// New creates an executor. A non-positive timeout disables the deadline.
func New(registry *toolreg.Registry, callTimeout time.Duration) *Executor {
	return &Executor{registry: registry, timeout: callTimeout}
}

// ExecuteOne runs a single tool call. Every failure mode, unknown tool, tool
// error, panic, timeout, becomes a failed Result.
func (e *Executor) ExecuteOne(ctx context.Context, call Call) Result {
	res := Result{ToolCallID: call.ID, ToolName: call.Name}

	value, err := e.run(ctx, call)
	if err != nil {
		res.Error = err.Error()
		metrics.ToolExecutions.WithLabelValues(call.Name, "error").Inc()
		slog.Warn("tool call failed",
			slog.String("tool", call.Name),
			slog.String("tool_call_id", call.ID),
			slog.String("error", res.Error))
		return res
	}

	text, err := serializeResult(value)
	if err != nil {
		res.Error = fmt.Sprintf("serialize result: %v", err)
		metrics.ToolExecutions.WithLabelValues(call.Name, "error").Inc()
		return res
	}

	res.Success = true
	res.Result = text
	metrics.ToolExecutions.WithLabelValues(call.Name, "ok").Inc()
	return res
}

// run executes the tool under the timeout policy, converting panics to errors.
func (e *Executor) run(ctx context.Context, call Call) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()

	fn := func() (any, error) {
		return e.registry.Execute(ctx, call.Name, call.Input)
	}
	if e.timeout <= 0 {
		return fn()
	}
	to := timeout.New[any](e.timeout)
	return failsafe.With[any](to).WithContext(ctx).Get(fn)
}

// ExecuteAll runs all calls of one turn concurrently. The returned slice
// preserves the order of calls; onResult, when non-nil, fires once per call
// as its result lands, in completion order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []Call, onResult func(Result)) []Result {
	results := make([]Result, len(calls))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			res := e.ExecuteOne(ctx, call)
			results[i] = res
			if onResult != nil {
				mu.Lock()
				onResult(res)
				mu.Unlock()
			}
		}(i, call)
	}
	wg.Wait()
	return results
}

// serializeResult converts a tool return value into feedback text. Strings
// pass through; everything else is marshaled to indented JSON.
func serializeResult(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// FormatFor shapes results into provider feedback messages. Anthropic gets a
// single user message of tool_result blocks; OpenAI gets one role "tool"
// message per result. The conversion is pure, formatting the same results
// twice yields the same messages.
func FormatFor(format string, results []Result) ([]provider.Message, error) {
	switch format {
	case provider.FormatAnthropic:
		trs := make([]provider.ToolResult, 0, len(results))
		for _, r := range results {
			trs = append(trs, provider.ToolResult{
				ToolCallID: r.ToolCallID,
				Content:    r.Content(),
				IsError:    !r.Success,
			})
		}
		return []provider.Message{{Role: "user", ToolResults: trs}}, nil
	case provider.FormatOpenAI:
		msgs := make([]provider.Message, 0, len(results))
		for _, r := range results {
			msgs = append(msgs, provider.Message{
				Role:       "tool",
				ToolCallID: r.ToolCallID,
				Content:    r.Content(),
			})
		}
		return msgs, nil
	}
	return nil, fmt.Errorf("unknown tool result format: %s", format)
}
