package transcription

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/skypro1111/utterance-service/internal/audio"
	"github.com/skypro1111/utterance-service/internal/metrics"
)

// Outcome statuses
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// Dump reasons, used as file name prefixes
const (
	DumpReasonRejected = "rejected"
	DumpReasonError    = "error"
)

// minAcceptedRunes is the length a trimmed transcript must exceed to be delivered
const minAcceptedRunes = 2

// Sink receives accepted text
type Sink interface {
	Deliver(ctx context.Context, text string) error
}

// Dumper persists a raw segment for offline inspection
type Dumper interface {
	Dump(samples []int16, reason string) (string, error)
}

// DispatcherConfig contains transcription request and dump settings
type DispatcherConfig struct {
	SampleRate      int
	Language        string
	Task            string
	Timeout         time.Duration // per transcription request
	DumpOnRejection bool
	DumpOnError     bool
}

// Outcome describes what happened to one segment
type Outcome struct {
	Status        string
	Text          string
	Confidence    float64 // avg_logprob of the first segment
	HasConfidence bool
	Delivered     bool
	DeliveryErr   error
	DumpPath      string
	Err           error
	Duration      time.Duration
}

// DispatcherStats represents dispatcher statistics
type DispatcherStats struct {
	Accepted         uint64    `json:"accepted"`
	Rejected         uint64    `json:"rejected"`
	Failed           uint64    `json:"failed"`
	Delivered        uint64    `json:"delivered"`
	DeliveryFailures uint64    `json:"delivery_failures"`
	LastText         string    `json:"last_text,omitempty"`
	LastAcceptedAt   time.Time `json:"last_accepted_at,omitempty"`
}

// Dispatcher submits conditioned segments to a Transcriber, applies the
// acceptance policy and forwards accepted text to the Sink. At most one
// transcription is in flight at a time.
type Dispatcher struct {
	logger      *slog.Logger
	transcriber Transcriber
	sink        Sink
	dumper      Dumper
	metrics     *metrics.Metrics
	config      DispatcherConfig

	inflight chan struct{}

	stats DispatcherStats
	mu    sync.RWMutex
}

// NewDispatcher creates a dispatcher. dumper may be nil to disable dumps.
func NewDispatcher(logger *slog.Logger, transcriber Transcriber, sink Sink, dumper Dumper, m *metrics.Metrics, config DispatcherConfig) (*Dispatcher, error) {
	if transcriber == nil {
		return nil, errors.New("transcriber cannot be nil")
	}
	if sink == nil {
		return nil, errors.New("sink cannot be nil")
	}
	if config.SampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if config.Language == "" {
		config.Language = "en"
	}
	if config.Task == "" {
		config.Task = "transcribe"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	return &Dispatcher{
		logger:      logger,
		transcriber: transcriber,
		sink:        sink,
		dumper:      dumper,
		metrics:     m,
		config:      config,
		inflight:    make(chan struct{}, 1),
	}, nil
}

// Dispatch transcribes conditioned and delivers the text if accepted. raw is
// the unconditioned segment and is what gets dumped on rejection or error.
func (d *Dispatcher) Dispatch(ctx context.Context, segmentID string, raw, conditioned []int16) Outcome {
	start := time.Now()
	logger := d.logger.With(slog.String("segment_id", segmentID))

	select {
	case d.inflight <- struct{}{}:
		defer func() { <-d.inflight }()
	case <-ctx.Done():
		return d.fail(logger, raw, ctx.Err(), start)
	}

	d.metrics.RecordTranscriptionRequest()

	reqCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	resp, err := d.transcriber.Transcribe(reqCtx, Request{
		Samples:    audio.Normalize(conditioned),
		SampleRate: d.config.SampleRate,
		Language:   d.config.Language,
		Task:       d.config.Task,
	})
	cancel()
	if err != nil {
		return d.fail(logger, raw, err, start)
	}
	if resp == nil {
		return d.fail(logger, raw, errors.New("empty transcription response"), start)
	}

	outcome := Outcome{Text: strings.TrimSpace(resp.Text)}
	outcome.Confidence, outcome.HasConfidence = resp.Confidence()

	if !Accept(outcome.Text) {
		outcome.Status = StatusRejected
		outcome.Duration = time.Since(start)
		d.metrics.RecordTranscriptionOutcome(StatusRejected, outcome.Duration.Seconds())
		d.record(outcome)

		logger.Info("Transcription rejected",
			slog.String("text", outcome.Text),
			slog.Int("runes", utf8.RuneCountInString(outcome.Text)),
			slog.Duration("duration", outcome.Duration))

		if d.config.DumpOnRejection {
			outcome.DumpPath = d.dump(logger, raw, DumpReasonRejected)
		}
		return outcome
	}

	outcome.Status = StatusAccepted
	outcome.Duration = time.Since(start)
	d.metrics.RecordTranscriptionOutcome(StatusAccepted, outcome.Duration.Seconds())
	if outcome.HasConfidence {
		d.metrics.RecordTranscriptionConfidence(outcome.Confidence)
	}

	attrs := []any{
		slog.String("text", outcome.Text),
		slog.Duration("duration", outcome.Duration),
	}
	if outcome.HasConfidence {
		attrs = append(attrs, slog.Float64("avg_logprob", outcome.Confidence))
	}
	logger.Info("Transcription accepted", attrs...)

	if err := d.sink.Deliver(ctx, outcome.Text); err != nil {
		outcome.DeliveryErr = err
		logger.Warn("Failed to deliver text",
			slog.String("text", outcome.Text),
			slog.String("error", err.Error()))
	} else {
		outcome.Delivered = true
	}

	d.record(outcome)
	return outcome
}

func (d *Dispatcher) fail(logger *slog.Logger, raw []int16, err error, start time.Time) Outcome {
	outcome := Outcome{
		Status:   StatusFailed,
		Err:      err,
		Duration: time.Since(start),
	}
	d.metrics.RecordTranscriptionOutcome(StatusFailed, outcome.Duration.Seconds())
	d.record(outcome)

	logger.Error("Transcription failed",
		slog.Int("samples", len(raw)),
		slog.Duration("audio_duration", audio.Duration(len(raw), d.config.SampleRate)),
		slog.String("language", d.config.Language),
		slog.Duration("elapsed", outcome.Duration),
		slog.String("error", err.Error()))

	if d.config.DumpOnError {
		outcome.DumpPath = d.dump(logger, raw, DumpReasonError)
	}
	return outcome
}

func (d *Dispatcher) dump(logger *slog.Logger, raw []int16, reason string) string {
	if d.dumper == nil || len(raw) == 0 {
		return ""
	}

	path, err := d.dumper.Dump(raw, reason)
	if err != nil {
		logger.Warn("Failed to write debug dump",
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		return ""
	}

	logger.Info("Wrote debug dump", slog.String("reason", reason), slog.String("path", path))
	return path
}

func (d *Dispatcher) record(outcome Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch outcome.Status {
	case StatusAccepted:
		d.stats.Accepted++
		d.stats.LastText = outcome.Text
		d.stats.LastAcceptedAt = time.Now()
		if outcome.Delivered {
			d.stats.Delivered++
		} else {
			d.stats.DeliveryFailures++
		}
	case StatusRejected:
		d.stats.Rejected++
	case StatusFailed:
		d.stats.Failed++
	}
}

// GetStats returns current dispatcher statistics
func (d *Dispatcher) GetStats() DispatcherStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// Accept reports whether a trimmed transcript is worth delivering
func Accept(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) > minAcceptedRunes
}
