package segment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/utterance-service/internal/audio"
	"github.com/skypro1111/utterance-service/internal/enhance"
	"github.com/skypro1111/utterance-service/internal/metrics"
	"github.com/skypro1111/utterance-service/internal/quality"
	"github.com/skypro1111/utterance-service/internal/transcription"
)

// DiscardTooShort is the discard reason for segments under the minimum length
const DiscardTooShort = "too_short"

// Dispatcher transcribes and delivers a conditioned segment
type Dispatcher interface {
	Dispatch(ctx context.Context, segmentID string, raw, conditioned []int16) transcription.Outcome
}

// PipelineConfig contains pipeline parameters
type PipelineConfig struct {
	SampleRate        int
	MinSegmentSamples int
	BandLowHz         float64 // speech band used by the quality report
	BandHighHz        float64
}

// Result is what the pipeline did with one segment
type Result struct {
	SegmentID   string
	Discarded   bool
	Reason      string
	Quality     quality.Report
	Enhancement *enhance.Result // nil when conditioning is disabled or the segment was discarded
	Outcome     transcription.Outcome
	Duration    time.Duration
}

// PipelineStats represents pipeline statistics
type PipelineStats struct {
	Processed      uint64          `json:"processed"`
	DiscardedShort uint64          `json:"discarded_short"`
	Degraded       uint64          `json:"degraded"`
	LastQuality    *quality.Report `json:"last_quality,omitempty"`
	LastSegmentID  string          `json:"last_segment_id,omitempty"`
	LastStatus     string          `json:"last_status,omitempty"`
}

// Pipeline runs a closed segment through the length check, the quality
// report, the conditioner and the dispatcher, in that order.
type Pipeline struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	config      PipelineConfig
	analyzer    *quality.Analyzer
	conditioner *enhance.Conditioner
	dispatcher  Dispatcher

	stats PipelineStats
	mu    sync.RWMutex
}

// NewPipeline creates a pipeline. conditioner may be nil, in which case the
// raw segment is sent for transcription unchanged.
func NewPipeline(logger *slog.Logger, config PipelineConfig, conditioner *enhance.Conditioner, dispatcher Dispatcher, m *metrics.Metrics) (*Pipeline, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	if config.SampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if config.MinSegmentSamples < 0 {
		config.MinSegmentSamples = 0
	}
	if config.BandLowHz <= 0 {
		config.BandLowHz = 300
	}
	if config.BandHighHz <= config.BandLowHz {
		config.BandHighHz = 3400
	}

	return &Pipeline{
		logger:      logger,
		metrics:     m,
		config:      config,
		analyzer:    quality.NewAnalyzer(config.SampleRate, config.BandLowHz, config.BandHighHz),
		conditioner: conditioner,
		dispatcher:  dispatcher,
	}, nil
}

// HandleSegment implements SegmentHandler
func (p *Pipeline) HandleSegment(ctx context.Context, seg *Segment) {
	p.Process(ctx, seg)
}

// Process runs one segment through the pipeline
func (p *Pipeline) Process(ctx context.Context, seg *Segment) Result {
	start := time.Now()
	logger := p.logger.With(slog.String("segment_id", seg.ID))
	result := Result{SegmentID: seg.ID}

	duration := audio.Duration(len(seg.Samples), p.config.SampleRate)
	if len(seg.Samples) < p.config.MinSegmentSamples {
		result.Discarded = true
		result.Reason = DiscardTooShort
		result.Duration = time.Since(start)
		p.metrics.RecordSegmentDiscarded(DiscardTooShort)

		p.mu.Lock()
		p.stats.DiscardedShort++
		p.stats.LastSegmentID = seg.ID
		p.stats.LastStatus = "discarded"
		p.mu.Unlock()

		logger.Info("Segment too short, discarded",
			slog.Duration("duration", duration),
			slog.Duration("minimum", audio.Duration(p.config.MinSegmentSamples, p.config.SampleRate)))
		return result
	}

	report := p.analyzer.Analyze(seg.Samples)
	result.Quality = report
	p.metrics.RecordQuality(report.Peak, report.SNR, report.SpeechBandRatio, string(report.Level))

	logger.Info("Segment quality",
		slog.Duration("duration", duration),
		slog.Int("peak", report.Peak),
		slog.Float64("rms", report.RMS),
		slog.Float64("snr_db", report.SNR),
		slog.Float64("speech_band_ratio", report.SpeechBandRatio),
		slog.Float64("dominant_hz", report.DominantHz),
		slog.String("level", string(report.Level)),
		slog.String("speech_content", string(report.SpeechContent)),
		slog.String("noise", string(report.NoiseRating)))

	conditioned := seg.Samples
	if p.conditioner != nil {
		enh := p.conditioner.Process(seg.Samples)
		result.Enhancement = &enh
		conditioned = enh.Samples
		p.metrics.RecordEnhancement(enh.Status.String(), enh.Duration.Seconds())

		if enh.Status != enhance.StatusOk {
			p.mu.Lock()
			p.stats.Degraded++
			p.mu.Unlock()
		} else {
			logger.Debug("Segment conditioned", slog.Duration("took", enh.Duration))
		}
	}

	result.Outcome = p.dispatcher.Dispatch(ctx, seg.ID, seg.Samples, conditioned)
	result.Duration = time.Since(start)

	p.mu.Lock()
	p.stats.Processed++
	p.stats.LastQuality = &report
	p.stats.LastSegmentID = seg.ID
	p.stats.LastStatus = result.Outcome.Status
	p.mu.Unlock()

	return result
}

// GetStats returns pipeline statistics
func (p *Pipeline) GetStats() PipelineStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := p.stats
	if p.stats.LastQuality != nil {
		q := *p.stats.LastQuality
		stats.LastQuality = &q
	}
	return stats
}
