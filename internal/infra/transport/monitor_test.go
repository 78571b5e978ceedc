package transport

import (
	"testing"
	"time"
)

func TestMonitor_Accumulates(t *testing.T) {
	m := NewMonitor()

	m.RecordRequest(100 * time.Millisecond)
	for i := 0; i < 100; i++ {
		m.RecordRequest(50 * time.Millisecond)
	}
	m.RecordFailure()

	stats := m.Stats()
	if stats.Requests != 102 {
		t.Errorf("Expected 102 requests, got %d", stats.Requests)
	}
	if stats.Failures != 1 {
		t.Errorf("Expected 1 failure, got %d", stats.Failures)
	}
	// window keeps the last 100 latencies
	if stats.AverageLatency != 50*time.Millisecond {
		t.Errorf("Expected 50ms average, got %v", stats.AverageLatency)
	}
	if stats.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", stats.Status)
	}
}

func TestMonitor_Throttle(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < 6; i++ {
		m.RecordThrottle(429, "120")
	}
	if m.Status() != StatusThrottled {
		t.Errorf("Expected throttled, got %s", m.Status())
	}
	if ra := m.RetryAfter(); ra <= time.Minute || ra > 2*time.Minute {
		t.Errorf("Expected retry after close to 2m, got %v", ra)
	}
}

func TestMonitor_DetectThrottlePattern(t *testing.T) {
	m := NewMonitor()
	if !m.DetectThrottlePattern(`{"error":"Too Many Requests"}`) {
		t.Error("Expected throttle pattern to match")
	}
	if m.DetectThrottlePattern("ok") {
		t.Error("Expected no match")
	}
}
