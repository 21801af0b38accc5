package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveRequest("search", "success", 120*time.Millisecond)
	m.AddRemoved(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `backend_requests_total{operation="search",outcome="success"} 1`) {
		t.Fatalf("missing request counter in:\n%s", body)
	}
	if !strings.Contains(body, "records_removed_total 3") {
		t.Fatalf("missing removed counter in:\n%s", body)
	}
}

func TestNilMetricsAreInert(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("search", "success", time.Millisecond)
	m.AddRemoved(1)
	if m.Handler() == nil {
		t.Fatalf("expected fallback handler")
	}
}
