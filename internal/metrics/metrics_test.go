package metrics

import (
	"testing"
	"time"
)

func TestNewTwiceReusesCollectors(t *testing.T) {
	first := New()
	second := New()
	if first == nil || second == nil {
		t.Fatal("nil metrics")
	}

	// Re-registration must not panic; both handles record fine.
	first.RecordRequest("GET", "/healthz", 200, time.Millisecond)
	second.RecordRequest("GET", "/healthz", 200, time.Millisecond)
	first.RecordCheckout()
	second.RecordRefund()
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("GET", "/", 200, 0)
	m.RecordCheckout()
	m.RecordCheckoutFailed()
	m.RecordRefund()
	m.RecordCartConflict()
}
