package events

import (
	"sync"

	"vchain/core/types"
)

// Event represents a structured state change emitted by the chain.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Typed wraps a wire event so it satisfies Event. Engines build *types.Event
// payloads and hand them to their emitter through Wrap.
type Typed struct {
	Evt *types.Event
}

// EventType satisfies the Event interface.
func (t Typed) EventType() string {
	if t.Evt == nil {
		return ""
	}
	return t.Evt.Type
}

// Event returns the wire payload.
func (t Typed) Event() *types.Event { return t.Evt }

// Wrap converts a wire payload into an Event.
func Wrap(evt *types.Event) Event { return Typed{Evt: evt} }

// Payload extracts the wire representation of evt when it carries one.
func Payload(evt Event) *types.Event {
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		return carrier.Event()
	}
	return nil
}

// Buffer holds events emitted while an operation is in flight. The chain host
// flushes it into the downstream emitter only after the operation commits, so
// a failed operation never leaks events.
type Buffer struct {
	mu      sync.Mutex
	pending []Event
}

// Emit queues the event.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, evt)
	b.mu.Unlock()
}

// Flush forwards every queued event to dst in emission order and clears the
// buffer.
func (b *Buffer) Flush(dst Emitter) int {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	if dst == nil {
		return 0
	}
	for _, evt := range pending {
		dst.Emit(evt)
	}
	return len(pending)
}

// Reset drops every queued event.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}

// Len reports the number of queued events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Fanout delivers each event to every member emitter.
type Fanout []Emitter

// Emit implements Emitter.
func (f Fanout) Emit(evt Event) {
	for _, dst := range f {
		if dst != nil {
			dst.Emit(evt)
		}
	}
}

// Recorder keeps every event it receives. Tests use it to assert on emitted
// payloads.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.EventType()
	}
	return out
}
