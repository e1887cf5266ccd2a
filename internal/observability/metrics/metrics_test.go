package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestObserveIntentCounts(t *testing.T) {
	ObserveIntent("rejected", "CONSTRAINT_VIOLATION", 10*time.Millisecond)
	ObserveIntent("confirmed", "", 0)

	text := scrape(t)
	for _, want := range []string{
		`intentlayer_router_intents_total{code="CONSTRAINT_VIOLATION",status="rejected"}`,
		`intentlayer_router_intents_total{code="none",status="confirmed"}`,
		`intentlayer_router_processing_seconds_count{status="rejected"}`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveHTTPRequest("/api/v1/intents", http.MethodPost, http.StatusAccepted, 20*time.Millisecond)
	ObserveMandate("registered")

	text := scrape(t)
	for _, want := range []string{
		`intentlayer_http_requests_total{code="202",handler="/api/v1/intents",method="POST"}`,
		`intentlayer_http_request_duration_seconds_bucket`,
		`intentlayer_mandate_events_total{event="registered"}`,
		`go_goroutines`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
