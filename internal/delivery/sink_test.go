package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/utterance-service/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewHTTPSink(t *testing.T) {
	if _, err := NewHTTPSink(testLogger(), Config{}, nil); err == nil {
		t.Error("Expected error for empty URL")
	}

	sink, err := NewHTTPSink(testLogger(), Config{URL: "http://192.168.1.100:80/receive-text"}, nil)
	if err != nil {
		t.Fatalf("NewHTTPSink failed: %v", err)
	}

	if sink.httpClient.Timeout != 10*time.Second {
		t.Errorf("Expected default timeout 10s, got %v", sink.httpClient.Timeout)
	}
}

func TestDeliverPostsJSON(t *testing.T) {
	var received Payload
	var contentType, method, path string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	sink, err := NewHTTPSink(testLogger(), Config{URL: server.URL + "/receive-text"}, m)
	if err != nil {
		t.Fatalf("NewHTTPSink failed: %v", err)
	}

	if err := sink.Deliver(context.Background(), "buy milk"); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	if method != http.MethodPost {
		t.Errorf("Expected POST, got %s", method)
	}

	if path != "/receive-text" {
		t.Errorf("Expected path /receive-text, got %s", path)
	}

	if contentType != "application/json" {
		t.Errorf("Expected application/json, got %s", contentType)
	}

	if received.Text != "buy milk" {
		t.Errorf("Expected text 'buy milk', got %q", received.Text)
	}

	stats := sink.GetStats()
	if stats.Successes != 1 || stats.Failures != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	if got := testutil.ToFloat64(m.Deliveries.WithLabelValues(ResultSuccess)); got != 1 {
		t.Errorf("Expected 1 successful delivery metric, got %f", got)
	}
}

func TestDeliverNon2xxIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "busy", http.StatusInternalServerError)
	}))
	defer server.Close()

	sink, _ := NewHTTPSink(testLogger(), Config{URL: server.URL}, nil)

	err := sink.Deliver(context.Background(), "call mom")
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("Expected ErrStatus, got %v", err)
	}

	if hits.Load() != 1 {
		t.Errorf("Expected exactly 1 request, got %d", hits.Load())
	}

	if sink.GetStats().Failures != 1 {
		t.Errorf("Expected 1 failure, got %d", sink.GetStats().Failures)
	}
}

func TestDeliverTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	sink, _ := NewHTTPSink(testLogger(), Config{URL: server.URL, Timeout: 50 * time.Millisecond}, nil)

	if err := sink.Deliver(context.Background(), "slow device"); err == nil {
		t.Error("Expected timeout error")
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	sink, _ := NewHTTPSink(testLogger(), Config{
		URL:             server.URL,
		BreakerFailures: 3,
		BreakerReset:    time.Minute,
	}, m)

	for i := 0; i < 3; i++ {
		if err := sink.Deliver(context.Background(), "todo"); !errors.Is(err, ErrStatus) {
			t.Fatalf("Attempt %d: expected ErrStatus, got %v", i, err)
		}
	}

	err := sink.Deliver(context.Background(), "todo")
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("Expected ErrBreakerOpen, got %v", err)
	}

	if hits.Load() != 3 {
		t.Errorf("Expected breaker to stop requests after 3, got %d", hits.Load())
	}

	stats := sink.GetStats()
	if stats.BreakerState != "open" {
		t.Errorf("Expected breaker state open, got %s", stats.BreakerState)
	}

	if stats.Rejected != 1 {
		t.Errorf("Expected 1 rejected delivery, got %d", stats.Rejected)
	}

	if got := testutil.ToFloat64(m.BreakerState); got != 2 {
		t.Errorf("Expected breaker gauge 2 (open), got %f", got)
	}
}

func TestBreakerRecovers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	sink, _ := NewHTTPSink(testLogger(), Config{
		URL:             server.URL,
		BreakerFailures: 1,
		BreakerReset:    50 * time.Millisecond,
	}, nil)

	sink.Deliver(context.Background(), "first")
	if err := sink.Deliver(context.Background(), "second"); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("Expected ErrBreakerOpen, got %v", err)
	}

	fail.Store(false)
	time.Sleep(80 * time.Millisecond)

	if err := sink.Deliver(context.Background(), "third"); err != nil {
		t.Fatalf("Expected half-open probe to succeed, got %v", err)
	}

	if state := sink.GetStats().BreakerState; state != "closed" {
		t.Errorf("Expected breaker closed after recovery, got %s", state)
	}
}
