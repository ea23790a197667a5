package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecordersExposeCounters(t *testing.T) {
	m := New()

	m.RecordFlowSubmitted()
	m.RecordFlowDecided("forward")
	m.RecordFlowDecided("forward")
	m.RecordFlowDecided("drop")
	m.RecordFlowExpired()
	m.RecordInjectionAttempted()
	m.RecordInjectionSucceeded()
	m.RecordCallbackHit()
	m.ObserveUpstreamDuration(250 * time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()

	for _, want := range []string{
		"sentinel_flows_submitted_total 1",
		`sentinel_flows_decided_total{kind="forward"} 2`,
		`sentinel_flows_decided_total{kind="drop"} 1`,
		"sentinel_flows_expired_total 1",
		"sentinel_injections_attempted_total 1",
		"sentinel_injections_succeeded_total 1",
		"sentinel_callback_hits_total 1",
		"sentinel_upstream_request_duration_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}
