package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.FetchesTotal.WithLabelValues("cache-first", SourceCache).Inc()
	m.FetchesTotal.WithLabelValues("cache-first", SourceCache).Inc()
	m.StoresDeleted.Inc()

	if v := testutil.ToFloat64(m.FetchesTotal.WithLabelValues("cache-first", SourceCache)); v != 2 {
		t.Fatalf("Fetches are %v", v)
	}
	if v := testutil.ToFloat64(m.StoresDeleted); v != 1 {
		t.Fatalf("Deleted stores are %v", v)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.InstallsTotal.WithLabelValues("v1", "ok").Inc()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rr.Body.String(), `resource_interceptor_installs_total{result="ok",version="v1"} 1`) {
		t.Fatalf("Body is %s", rr.Body.String())
	}
}
