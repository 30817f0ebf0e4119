package metrics

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestIncRateLimitDrop(t *testing.T) {
	reset()

	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{name: "increment with prefix", prefix: "/api/v1/webhooks", want: "/api/v1/webhooks"},
		{name: "empty prefix defaults to global", prefix: "", want: "global"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := RateLimitSnapshot()
			IncRateLimitDrop(tt.prefix)
			after, by := RateLimitSnapshot()
			if after != before+1 {
				t.Errorf("total = %d, want %d", after, before+1)
			}
			if by[tt.want] == 0 {
				t.Errorf("prefix %s not incremented", tt.want)
			}
		})
	}
}

func TestIncRateLimitDrop_Concurrent(t *testing.T) {
	reset()

	const goroutines = 50
	const perGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				IncRateLimitDrop("concurrent")
				IncInboundMessage()
			}
		}()
	}
	wg.Wait()

	total, by := RateLimitSnapshot()
	if total != goroutines*perGoroutine {
		t.Errorf("total = %d, want %d", total, goroutines*perGoroutine)
	}
	if by["concurrent"] != goroutines*perGoroutine {
		t.Errorf("concurrent = %d", by["concurrent"])
	}
	if got := Current().InboundMessages; got != goroutines*perGoroutine {
		t.Errorf("inbound = %d", got)
	}
}

func TestRateLimitSnapshot_Isolation(t *testing.T) {
	reset()
	IncRateLimitDrop("test")
	_, by := RateLimitSnapshot()
	by["test"] = 100

	_, again := RateLimitSnapshot()
	if again["test"] != 1 {
		t.Errorf("snapshot leaked mutation: %d", again["test"])
	}
}

func TestWritePrometheus(t *testing.T) {
	reset()
	IncOutboundSent()
	IncOutboundSent()
	IncHandoff()
	IncRateLimitDrop("/api/v1/campaigns")

	var buf bytes.Buffer
	if err := WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"msgcore_outbound_sent_total 2",
		"msgcore_handoffs_total 1",
		"msgcore_rate_limit_dropped_total 1",
		`msgcore_rate_limit_dropped_by_prefix_total{prefix="/api/v1/campaigns"} 1`,
		"# TYPE msgcore_routing_failures_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}
