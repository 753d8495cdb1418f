package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/utterance-service/internal/config"
	"github.com/skypro1111/utterance-service/internal/delivery"
	"github.com/skypro1111/utterance-service/internal/metrics"
	"github.com/skypro1111/utterance-service/internal/segment"
	"github.com/skypro1111/utterance-service/internal/transcription"
)

const (
	serviceName    = "utterance-service"
	serviceVersion = "1.0.0"
)

// Components are the parts of the service the status API reports on. Any
// of them may be nil.
type Components struct {
	UDP        *UDPServer
	Controller *segment.Controller
	Pipeline   *segment.Pipeline
	Dispatcher *transcription.Dispatcher
	Client     *transcription.Client
	Delivery   *delivery.HTTPSink
}

// HTTPServer provides read-only monitoring endpoints
type HTTPServer struct {
	server     *http.Server
	listener   net.Listener
	logger     *slog.Logger
	config     *config.Config
	components Components
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. gatherer serves /metrics; a
// nil gatherer falls back to the default registry.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	components Components, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		components: components,
		metrics:    m,
		gatherer:   gatherer,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// no request metrics for the scrape endpoint itself
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the route multiplexer
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listener and serves in the background. A bind failure is
// returned.
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = listener

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", slog.String("error", err.Error()))
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := "healthy"
	components := map[string]interface{}{}

	if udp := h.components.UDP; udp != nil {
		stats := udp.GetStatistics()
		components["udp_server"] = map[string]interface{}{
			"status":           "running",
			"packets_received": stats.PacketsReceived,
			"packets_dropped":  stats.PacketsDropped,
			"queue_size":       stats.QueueSize,
		}
	}

	if c := h.components.Controller; c != nil {
		components["segmentation"] = map[string]interface{}{
			"status": "running",
			"state":  c.State().String(),
		}
	}

	if sink := h.components.Delivery; sink != nil {
		stats := sink.GetStats()
		deliveryStatus := "running"
		if stats.BreakerState == "open" {
			deliveryStatus = "circuit_open"
			status = "degraded"
		}
		components["delivery"] = map[string]interface{}{
			"status":        deliveryStatus,
			"breaker_state": stats.BreakerState,
			"failures":      stats.Failures,
		}
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	}

	h.writeJSON(w, health)
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"timestamp": time.Now().UTC(),
	}

	if c := h.components.Controller; c != nil {
		response["session"] = c.Snapshot()
	}
	if p := h.components.Pipeline; p != nil {
		stats := p.GetStats()
		response["last_segment"] = map[string]interface{}{
			"id":      stats.LastSegmentID,
			"status":  stats.LastStatus,
			"quality": stats.LastQuality,
		}
	}
	if d := h.components.Dispatcher; d != nil {
		stats := d.GetStats()
		response["last_text"] = stats.LastText
		response["last_accepted_at"] = stats.LastAcceptedAt
	}

	h.writeJSON(w, response)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}

	if udp := h.components.UDP; udp != nil {
		stats["udp"] = udp.GetStatistics()
	}
	if c := h.components.Controller; c != nil {
		stats["segmentation"] = c.Stats()
	}
	if p := h.components.Pipeline; p != nil {
		stats["pipeline"] = p.GetStats()
	}
	if d := h.components.Dispatcher; d != nil {
		stats["dispatcher"] = d.GetStats()
	}
	if c := h.components.Client; c != nil {
		stats["transcription"] = c.GetStats()
	}
	if sink := h.components.Delivery; sink != nil {
		stats["delivery"] = sink.GetStats()
	}

	h.writeJSON(w, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.config == nil {
		http.Error(w, "Configuration unavailable", http.StatusServiceUnavailable)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"udp_port":     h.config.Server.UDPPort,
			"bind_address": h.config.Server.BindAddress,
			"buffer_size":  h.config.Server.BufferSize,
			"queue_size":   h.config.Server.QueueSize,
		},
		"audio": map[string]interface{}{
			"sample_rate":         h.config.Audio.SampleRate,
			"channels":            h.config.Audio.Channels,
			"bits_per_sample":     h.config.Audio.BitsPerSample,
			"audio_timeout":       h.config.Audio.AudioTimeout,
			"poll_interval":       h.config.Audio.PollInterval,
			"max_buffer_seconds":  h.config.Audio.MaxBufferSeconds,
			"retain_seconds":      h.config.Audio.RetainSeconds,
			"min_segment_seconds": h.config.Audio.MinSegmentSeconds,
			"pipeline_queue":      h.config.Audio.PipelineQueue,
		},
		"enhancement": h.config.Enhancement,
		"transcription": map[string]interface{}{
			"endpoint":        h.config.Transcription.Endpoint,
			"health_endpoint": h.config.Transcription.HealthEndpoint,
			"model":           h.config.Transcription.Model,
			"language":        h.config.Transcription.Language,
			"task":            h.config.Transcription.Task,
			"timeout":         h.config.Transcription.Timeout,
			"api_key_set":     h.config.Transcription.APIKey != "",
		},
		"delivery": map[string]interface{}{
			"url":              h.config.Delivery.URL(),
			"timeout":          h.config.Delivery.Timeout,
			"breaker_failures": h.config.Delivery.BreakerFailures,
			"breaker_reset":    h.config.Delivery.BreakerReset,
		},
		"debug": map[string]interface{}{
			"dump_dir":          h.config.Debug.DumpDir,
			"dump_on_rejection": h.config.Debug.DumpOnRejection,
			"dump_on_error":     h.config.Debug.DumpOnError,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	h.writeJSON(w, sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Utterance Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":        "API documentation",
			"GET /health":  "Service health check",
			"GET /status":  "Current recording and last result",
			"GET /stats":   "Component statistics",
			"GET /config":  "Service configuration without secrets",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, apiDoc)
}
