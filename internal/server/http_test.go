package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/utterance-service/internal/config"
	"github.com/skypro1111/utterance-service/internal/metrics"
	"github.com/skypro1111/utterance-service/internal/segment"
)

type nopHandler struct{}

func (nopHandler) HandleSegment(ctx context.Context, seg *segment.Segment) {}

func newTestHTTPServer(t *testing.T) (*HTTPServer, *segment.Controller, *prometheus.Registry) {
	t.Helper()

	cfg := config.Default()
	cfg.Transcription.APIKey = "secret-key"

	controller, err := segment.NewController(testLogger(), segment.ControllerConfig{
		SampleRate:     16000,
		AudioTimeout:   2 * time.Second,
		MaxBufferBytes: 960000,
		RetainBytes:    640000,
	}, nopHandler{}, nil)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	h := NewHTTPServer(cfg.HTTP, testLogger(), cfg, Components{Controller: controller}, m, reg)
	return h, controller, reg
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h, _, _ := newTestHTTPServer(t)

	rec := get(t, h.Handler(), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", body["status"])
	}

	components := body["components"].(map[string]interface{})
	seg := components["segmentation"].(map[string]interface{})
	if seg["state"] != "idle" {
		t.Errorf("Expected idle state, got %v", seg["state"])
	}
}

func TestStatusEndpointShowsRecording(t *testing.T) {
	h, controller, _ := newTestHTTPServer(t)

	controller.Ingest(make([]byte, 320), "esp32", time.Now())

	rec := get(t, h.Handler(), "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body struct {
		Session segment.Snapshot `json:"session"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body.Session.State != "recording" {
		t.Errorf("Expected recording, got %s", body.Session.State)
	}
	if body.Session.BufferBytes != 320 {
		t.Errorf("Expected 320 buffered bytes, got %d", body.Session.BufferBytes)
	}
}

func TestConfigEndpointHidesAPIKey(t *testing.T) {
	h, _, _ := newTestHTTPServer(t)

	rec := get(t, h.Handler(), "/config")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	if strings.Contains(rec.Body.String(), "secret-key") {
		t.Error("API key leaked in /config")
	}
	if !strings.Contains(rec.Body.String(), `"api_key_set":true`) {
		t.Error("Expected api_key_set flag")
	}
	if !strings.Contains(rec.Body.String(), "/receive-text") {
		t.Error("Expected delivery URL in /config")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _, _ := newTestHTTPServer(t)

	for _, path := range []string{"/health", "/status", "/stats", "/config", "/"} {
		rec := httptest.NewRecorder()
		h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", path, rec.Code)
		}
	}
}

func TestUnknownPath(t *testing.T) {
	h, _, _ := newTestHTTPServer(t)

	if rec := get(t, h.Handler(), "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := newTestHTTPServer(t)

	// generate a request metric first
	get(t, h.Handler(), "/stats")

	rec := get(t, h.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "utterance_http_requests_total") {
		t.Errorf("Expected HTTP request metrics in output")
	}
}

func TestHTTPServerStartStop(t *testing.T) {
	h, _, _ := newTestHTTPServer(t)
	h.server.Addr = "127.0.0.1:0"

	if err := h.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get("http://" + h.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
