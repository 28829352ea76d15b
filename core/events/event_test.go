package events

import (
	"testing"

	"vchain/core/types"
)

func TestBufferFlushesInOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(Wrap(&types.Event{Type: "a"}))
	buf.Emit(Wrap(&types.Event{Type: "b"}))
	buf.Emit(nil)
	if buf.Len() != 2 {
		t.Fatalf("expected 2 queued events, got %d", buf.Len())
	}
	rec := &Recorder{}
	if n := buf.Flush(rec); n != 2 {
		t.Fatalf("expected 2 flushed events, got %d", n)
	}
	got := rec.Types()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected flush order %v", got)
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer not cleared after flush")
	}
}

func TestBufferResetDropsEvents(t *testing.T) {
	var buf Buffer
	buf.Emit(Wrap(&types.Event{Type: "a"}))
	buf.Reset()
	rec := &Recorder{}
	buf.Flush(rec)
	if len(rec.Events()) != 0 {
		t.Fatalf("expected no events after reset")
	}
}

func TestFanoutAndPayload(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	fan := Fanout{first, nil, second}
	fan.Emit(Wrap(&types.Event{Type: "x", Attributes: map[string]string{"k": "v"}}))
	if len(first.Events()) != 1 || len(second.Events()) != 1 {
		t.Fatalf("fanout did not reach every emitter")
	}
	payload := Payload(first.Events()[0])
	if payload == nil || payload.Attributes["k"] != "v" {
		t.Fatalf("payload not preserved: %+v", payload)
	}
	if HexAttr([]byte{0xab}) != "0xab" || HexAttr(nil) != "" {
		t.Fatalf("unexpected hex attr rendering")
	}
}
