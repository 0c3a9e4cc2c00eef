package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vaultbrain/vaultbrain/internal/executor"
)

// ErrToolParse marks tool-call argument JSON that failed to parse after
// fragment concatenation. Never fatal for the request.
var ErrToolParse = errors.New("tool arguments parse failed")

// pendingCall is a tool call whose argument JSON is still streaming in.
type pendingCall struct {
	id   string
	name string
	buf  strings.Builder
}

// assembler accumulates tool-call argument fragments. Streams key deltas by
// block index, not call id, so the map is index-keyed; the id arrives once on
// the start event and is carried until the block closes.
type assembler struct {
	pending map[int]*pendingCall
}

func newAssembler() *assembler {
	return &assembler{pending: make(map[int]*pendingCall)}
}

func (a *assembler) start(index int, id, name string) {
	a.pending[index] = &pendingCall{id: id, name: name}
}

func (a *assembler) delta(index int, fragment string) {
	if p, ok := a.pending[index]; ok {
		p.buf.WriteString(fragment)
	}
}

// finish closes the block at index. It returns (call, true, nil) when a tool
// call was assembled, (zero, false, nil) when the index held no pending call
// (a text block), and (call, false, err) when the accumulated JSON does not
// parse; the returned call still carries the id and name for correlation.
func (a *assembler) finish(index int) (executor.Call, bool, error) {
	p, ok := a.pending[index]
	if !ok {
		return executor.Call{}, false, nil
	}
	delete(a.pending, index)
	if p.name == "" {
		return executor.Call{}, false, nil
	}

	// Tools with no parameters stream no fragments at all.
	raw := p.buf.String()
	if raw == "" {
		raw = "{}"
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return executor.Call{ID: p.id, Name: p.name},
			false,
			fmt.Errorf("%w: %s: %v", ErrToolParse, p.name, err)
	}
	return executor.Call{ID: p.id, Name: p.name, Input: input}, true, nil
}
