package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHTTPMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.Observe("/api/v1/orders/{orderID}", http.MethodGet, http.StatusOK, 20*time.Millisecond)
	m.Observe("/api/v1/orders/{orderID}", http.MethodGet, http.StatusNotFound, 5*time.Millisecond)
	m.Observe("", http.MethodGet, http.StatusNotFound, time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	requests := findMetricFamily(mfs, "http_requests_total")
	if got := sumWhere(requests, map[string]string{"route": "/api/v1/orders/{orderID}"}); got != 2 {
		t.Fatalf("expected 2 requests on the order route, got %f", got)
	}
	if got := sumWhere(requests, map[string]string{"route": "unmatched", "code": "404"}); got != 1 {
		t.Fatalf("expected unmatched 404, got %f", got)
	}

	var nilMetrics *HTTPMetrics
	nilMetrics.Observe("/x", http.MethodGet, http.StatusOK, time.Second)
}
