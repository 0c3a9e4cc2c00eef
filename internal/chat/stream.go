package chat

import (
	"context"

	"github.com/vaultbrain/vaultbrain/internal/provider"
)

// emitter relays loop events to the caller. Sends give up when the request
// context is canceled so a disconnected consumer never wedges the loop.
type emitter struct {
	ctx context.Context
	ch  chan provider.Event
}

func newEmitter(ctx context.Context, buffer int) *emitter {
	return &emitter{ctx: ctx, ch: make(chan provider.Event, buffer)}
}

// send delivers an event; reports false when the context was canceled.
func (e *emitter) send(ev provider.Event) bool {
	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *emitter) close() {
	close(e.ch)
}
