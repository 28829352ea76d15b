package otel

import (
	"context"
	"strings"
	"testing"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "vchaind"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
	_, span := Tracer().Start(context.Background(), "sampled")
	span.End()
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("a=1, b = 2,broken,=x")
	if len(headers) != 2 || headers["a"] != "1" || headers["b"] != "2" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestSamplerRatio(t *testing.T) {
	if got := (Config{SampleRatio: 2}).Sampler().Description(); !strings.Contains(got, "root:AlwaysOnSampler") {
		t.Fatalf("unexpected default sampler %q", got)
	}
	if got := (Config{SampleRatio: 0.25}).Sampler().Description(); !strings.Contains(got, "TraceIDRatioBased{0.25}") {
		t.Fatalf("unexpected ratio sampler %q", got)
	}
}
