package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/skypro1111/utterance-service/internal/metrics"
)

// ErrStatus is returned when the device answers with a non-2xx status
var ErrStatus = errors.New("unexpected delivery status")

// ErrBreakerOpen is returned while the circuit breaker rejects deliveries
var ErrBreakerOpen = errors.New("delivery circuit open")

// Delivery results, used as metric labels
const (
	ResultSuccess     = "success"
	ResultFailed      = "failed"
	ResultBreakerOpen = "breaker_open"
)

// Config contains delivery settings
type Config struct {
	URL             string
	Timeout         time.Duration
	BreakerFailures uint32        // consecutive failures that open the breaker
	BreakerReset    time.Duration // how long the breaker stays open
}

// Payload is the JSON body sent to the device
type Payload struct {
	Text string `json:"text"`
}

// SinkStats represents delivery statistics
type SinkStats struct {
	Attempts     uint64    `json:"attempts"`
	Successes    uint64    `json:"successes"`
	Failures     uint64    `json:"failures"`
	Rejected     uint64    `json:"rejected_by_breaker"`
	BreakerState string    `json:"breaker_state"`
	LastError    string    `json:"last_error,omitempty"`
	LastSuccess  time.Time `json:"last_success,omitempty"`
}

// HTTPSink posts accepted text to the downstream device. Each text is sent
// once; failures are logged and returned but never retried.
type HTTPSink struct {
	logger     *slog.Logger
	config     Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[struct{}]
	metrics    *metrics.Metrics

	stats SinkStats
	mu    sync.Mutex
}

// NewHTTPSink creates a sink for the configured device URL
func NewHTTPSink(logger *slog.Logger, config Config, m *metrics.Metrics) (*HTTPSink, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("delivery URL cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = 5
	}
	if config.BreakerReset <= 0 {
		config.BreakerReset = 30 * time.Second
	}

	s := &HTTPSink{
		logger:  logger,
		config:  config,
		metrics: m,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}

	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "delivery",
		MaxRequests: 1,
		Timeout:     config.BreakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Delivery circuit breaker changed state",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			m.SetBreakerState(int(to))
		},
	})

	return s, nil
}

// Deliver sends one text to the device
func (s *HTTPSink) Deliver(ctx context.Context, text string) error {
	start := time.Now()

	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.post(ctx, text)
	})

	elapsed := time.Since(start)

	switch {
	case err == nil:
		s.recordSuccess()
		s.metrics.RecordDelivery(ResultSuccess, elapsed.Seconds())
		s.logger.Info("Delivered text",
			slog.String("url", s.config.URL),
			slog.String("text", text),
			slog.Duration("duration", elapsed))
		return nil

	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		s.recordRejected(err)
		s.metrics.RecordDelivery(ResultBreakerOpen, elapsed.Seconds())
		s.logger.Warn("Dropped text, delivery circuit open",
			slog.String("url", s.config.URL),
			slog.String("text", text))
		return fmt.Errorf("%w: %v", ErrBreakerOpen, err)

	default:
		s.recordFailure(err)
		s.metrics.RecordDelivery(ResultFailed, elapsed.Seconds())
		s.logger.Error("Failed to deliver text",
			slog.String("url", s.config.URL),
			slog.String("text", text),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()))
		return err
	}
}

func (s *HTTPSink) post(ctx context.Context, text string) error {
	body, err := json.Marshal(Payload{Text: text})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d: %s", ErrStatus, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	return nil
}

func (s *HTTPSink) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Attempts++
	s.stats.Successes++
	s.stats.LastSuccess = time.Now()
}

func (s *HTTPSink) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Attempts++
	s.stats.Failures++
	s.stats.LastError = err.Error()
}

func (s *HTTPSink) recordRejected(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Rejected++
	s.stats.LastError = err.Error()
}

// GetStats returns current delivery statistics
func (s *HTTPSink) GetStats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.BreakerState = s.breaker.State().String()
	return stats
}
