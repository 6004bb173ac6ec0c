package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveTurn("answered", 2)
	m.ObserveTurn("answered", 1)
	m.ObserveTool("search_rag", true)
	m.ObserveTool("search_rag", false)
	m.ObserveReflection(true)
	m.ObserveHTTP("/api/chat", 200)

	if v := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("answered")); v != 2 {
		t.Errorf("turns = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("search_rag", "false")); v != 1 {
		t.Errorf("failed tool calls = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.MemorySavesTotal.WithLabelValues("true")); v != 1 {
		t.Errorf("memory saves = %v, want 1", v)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTurn("error", 1)
	m.ObserveTool("x", true)
	m.ObserveReflection(false)
	m.ObserveHTTP("/", 500)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveTurn("answered", 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `cinechat_turns_total{outcome="answered"} 1`) {
		t.Errorf("metrics output missing turn counter:\n%s", body)
	}
}
