package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveNotification("leaves", "sent")
	m.ObserveNotification("leaves", "sent")
	m.ObserveNotification("complaints", "no_devices")
	m.ObserveProvisioning("committed")
	m.ObserveJob("changefeed.leaves", "done")

	if got := testutil.ToFloat64(m.notifications.WithLabelValues("leaves", "sent")); got != 2 {
		t.Fatalf("leaves/sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("complaints", "no_devices")); got != 1 {
		t.Fatalf("complaints/no_devices = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.accounts.WithLabelValues("committed")); got != 1 {
		t.Fatalf("committed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.jobs.WithLabelValues("changefeed.leaves", "done")); got != 1 {
		t.Fatalf("jobs = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodGet, "/health", http.StatusOK, 5*time.Millisecond)
	m.ObserveProvisioning("rolled_back")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`hostel_http_requests_total{code="200",method="GET",route="/health"} 1`,
		`hostel_accounts_provisioned_total{outcome="rolled_back"} 1`,
		"hostel_http_request_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
