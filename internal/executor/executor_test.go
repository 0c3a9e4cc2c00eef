package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vaultbrain/vaultbrain/internal/provider"
	"github.com/vaultbrain/vaultbrain/internal/toolreg"
)

func newTestRegistry(t *testing.T) *toolreg.Registry {
	t.Helper()
	r := toolreg.NewRegistry()
	r.MustRegister(&toolreg.FuncTool{
		ToolName:        "echo",
		ToolDescription: "returns its input",
		ToolParameters:  map[string]any{"type": "object"},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	})
	r.MustRegister(&toolreg.FuncTool{
		ToolName:        "fail",
		ToolDescription: "always errors",
		ToolParameters:  map[string]any{"type": "object"},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("database unreachable")
		},
	})
	r.MustRegister(&toolreg.FuncTool{
		ToolName:        "panics",
		ToolDescription: "always panics",
		ToolParameters:  map[string]any{"type": "object"},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			panic("nil map write")
		},
	})
	r.MustRegister(&toolreg.FuncTool{
		ToolName:        "slow",
		ToolDescription: "sleeps past the timeout",
		ToolParameters:  map[string]any{"type": "object"},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			select {
			case <-time.After(5 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	r.MustRegister(&toolreg.FuncTool{
		ToolName:        "structured",
		ToolDescription: "returns a map",
		ToolParameters:  map[string]any{"type": "object"},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"count": 3}, nil
		},
	})
	return r
}

func TestExecuteOne_Success(t *testing.T) {
	e := New(newTestRegistry(t), time.Second)
	res := e.ExecuteOne(context.Background(), Call{ID: "c1", Name: "echo", Input: map[string]any{"text": "hi"}})
	if !res.Success || res.Result != "hi" || res.ToolCallID != "c1" {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecuteOne_NeverErrors(t *testing.T) {
	e := New(newTestRegistry(t), 100*time.Millisecond)
	cases := []struct {
		name string
		call Call
		want string
	}{
		{"unknown tool", Call{ID: "c1", Name: "nope"}, "tool not found"},
		{"tool error", Call{ID: "c2", Name: "fail"}, "database unreachable"},
		{"tool panic", Call{ID: "c3", Name: "panics"}, "panicked"},
		{"timeout", Call{ID: "c4", Name: "slow"}, "timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := e.ExecuteOne(context.Background(), tc.call)
			if res.Success {
				t.Fatalf("result = %+v, want failure", res)
			}
			if !strings.Contains(strings.ToLower(res.Error), tc.want) {
				t.Errorf("error = %q, want substring %q", res.Error, tc.want)
			}
			if res.ToolCallID != tc.call.ID {
				t.Errorf("id = %q, want %q", res.ToolCallID, tc.call.ID)
			}
		})
	}
}

func TestExecuteOne_SerializesStructuredResults(t *testing.T) {
	e := New(newTestRegistry(t), time.Second)
	res := e.ExecuteOne(context.Background(), Call{ID: "c1", Name: "structured"})
	if !res.Success || !strings.Contains(res.Result, `"count": 3`) {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecuteAll_OrderAndCallbacks(t *testing.T) {
	e := New(newTestRegistry(t), time.Second)
	calls := []Call{
		{ID: "c1", Name: "echo", Input: map[string]any{"text": "one"}},
		{ID: "c2", Name: "fail"},
		{ID: "c3", Name: "echo", Input: map[string]any{"text": "three"}},
	}

	var mu sync.Mutex
	var seen []string
	results := e.ExecuteAll(context.Background(), calls, func(r Result) {
		mu.Lock()
		seen = append(seen, r.ToolCallID)
		mu.Unlock()
	})

	// Returned slice preserves input order regardless of completion order.
	for i, want := range []string{"c1", "c2", "c3"} {
		if results[i].ToolCallID != want {
			t.Fatalf("results[%d].ToolCallID = %q, want %q", i, results[i].ToolCallID, want)
		}
	}
	if results[0].Result != "one" || results[1].Success || results[2].Result != "three" {
		t.Errorf("results = %+v", results)
	}
	if len(seen) != 3 {
		t.Errorf("callback fired %d times, want 3", len(seen))
	}
}

func TestFormatFor_Anthropic(t *testing.T) {
	results := []Result{
		{ToolCallID: "c1", ToolName: "echo", Success: true, Result: "ok"},
		{ToolCallID: "c2", ToolName: "fail", Error: "boom"},
	}
	msgs, err := FormatFor(provider.FormatAnthropic, results)
	if err != nil {
		t.Fatalf("FormatFor: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != "user" || len(msgs[0].ToolResults) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].ToolResults[0].IsError || !msgs[0].ToolResults[1].IsError {
		t.Errorf("is_error flags wrong: %+v", msgs[0].ToolResults)
	}
	if msgs[0].ToolResults[1].Content != "Error: boom" {
		t.Errorf("error content = %q", msgs[0].ToolResults[1].Content)
	}

	// Idempotent: same input, same output.
	again, _ := FormatFor(provider.FormatAnthropic, results)
	if len(again) != 1 || len(again[0].ToolResults) != 2 || again[0].ToolResults[0] != msgs[0].ToolResults[0] {
		t.Errorf("second format differs: %+v", again)
	}
}

func TestFormatFor_OpenAI(t *testing.T) {
	results := []Result{
		{ToolCallID: "c1", ToolName: "echo", Success: true, Result: "ok"},
		{ToolCallID: "c2", ToolName: "fail", Error: "boom"},
	}
	msgs, err := FormatFor(provider.FormatOpenAI, results)
	if err != nil {
		t.Fatalf("FormatFor: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	for i, m := range msgs {
		if m.Role != "tool" || m.ToolCallID != results[i].ToolCallID {
			t.Errorf("message[%d] = %+v", i, m)
		}
	}

	if _, err := FormatFor("gemini", results); err == nil {
		t.Errorf("unknown format should fail")
	}
}
