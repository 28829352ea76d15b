package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestIsSensitive(t *testing.T) {
	for _, key := range []string{"handle", "Amount", "fee_amount", "input.proof", "operator-passphrase"} {
		if !IsSensitive(key) {
			t.Fatalf("expected %q to be sensitive", key)
		}
	}
	for _, key := range []string{"module", "method", "seq", "kind", "handles_total"} {
		if IsSensitive(key) {
			t.Fatalf("expected %q to pass through", key)
		}
	}
}

func TestHandlerRedactsRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, Options{Level: "debug"}))
	logger.Debug("pay",
		slog.String("module", "ledger"),
		slog.String("handle", "0xabc"),
		slog.Group("req", slog.Uint64("amount", 5), slog.String("to", "vc1xyz")))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["message"] != "pay" || line["severity"] != "DEBUG" {
		t.Fatalf("unexpected envelope %v", line)
	}
	if line["module"] != "ledger" || line["handle"] != RedactedValue {
		t.Fatalf("unexpected attributes %v", line)
	}
	req := line["req"].(map[string]any)
	if req["amount"] != RedactedValue || req["to"] != "vc1xyz" {
		t.Fatalf("group not redacted: %v", req)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug {
		t.Fatalf("expected debug level")
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("expected info fallback")
	}
	if Discard().Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("discard logger should not be enabled")
	}
}
