package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the utterance service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// UDP ingress metrics
	PacketsReceived prometheus.Counter
	BytesReceived   prometheus.Counter
	PacketsDropped  *prometheus.CounterVec
	ReceiveErrors   prometheus.Counter
	QueueSize       prometheus.Gauge

	// Session metrics
	Recording         prometheus.Gauge
	RecordingsStarted prometheus.Counter
	RecordingsClosed  prometheus.Counter
	BufferBytes       prometheus.Gauge
	Truncations       prometheus.Counter
	DiscardedBytes    prometheus.Counter
	SegmentDuration   prometheus.Histogram
	SegmentsDiscarded *prometheus.CounterVec
	PipelineQueue     prometheus.Gauge

	// Quality metrics
	SegmentPeak     prometheus.Histogram
	SegmentSNR      prometheus.Histogram
	SpeechBandRatio prometheus.Histogram
	SegmentLevels   *prometheus.CounterVec

	// Enhancement metrics
	EnhancementRuns     *prometheus.CounterVec
	EnhancementDuration prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests   prometheus.Counter
	TranscriptionOutcomes   *prometheus.CounterVec
	TranscriptionDuration   prometheus.Histogram
	TranscriptionConfidence prometheus.Histogram

	// Delivery metrics
	Deliveries       *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram
	BreakerState     prometheus.Gauge

	// Debug dump metrics
	DumpsWritten *prometheus.CounterVec
	DumpErrors   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// UDP ingress metrics
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "utterance_packets_received_total",
			Help: "Total number of UDP audio packets received",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "utterance_bytes_received_total",
			Help: "Total number of PCM bytes received",
		}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "utterance_packets_dropped_total",
			Help: "Total number of UDP packets dropped before reaching the session",
		}, []string{"reason"}),
		ReceiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "utterance_receive_errors_total",
			Help: "Total number of UDP receive errors",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "utterance_packet_queue_size",
			Help: "Current number of packets waiting for the session",
		}),

		// Session metrics
		Recording: factory.NewGauge(prometheus.GaugeOpts{
			Name: "utterance_recording",
			Help: "1 while a recording is in progress, 0 when idle",
		}),
		RecordingsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "utterance_recordings_started_total",
			Help: "Total number of recordings started",
		}),
		RecordingsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "utterance_recordings_closed_total",
			Help: "Total number of recordings closed by the silence timeout",
		}),
		BufferBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "utterance_buffer_bytes",
			Help: "Current size of the recording buffer in bytes",
		}),
		Truncations: factory.NewCounter(prometheus.CounterOpts{
			Name: "utterance_buffer_truncations_total",
			Help: "Total number of overflow truncations of the recording buffer",
		}),
		DiscardedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "utterance_buffer_discarded_bytes_total",
			Help: "Total number of audio bytes discarded by overflow truncation",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "utterance_segment_duration_seconds",
			Help:    "Duration of closed segments",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s to 32s
		}),
		SegmentsDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "utterance_segments_discarded_total",
			Help: "Total number of closed segments not sent for transcription",
		}, []string{"reason"}),
		PipelineQueue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "utterance_pipeline_queue_size",
			Help: "Current number of closed segments waiting for processing",
		}),

		// Quality metrics
		SegmentPeak: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "utterance_segment_peak_amplitude",
			Help:    "Peak absolute sample value of closed segments",
			Buckets: []float64{500, 1000, 2500, 5000, 10000, 20000, 30000, 32768},
		}),
		SegmentSNR: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "utterance_segment_snr_db",
			Help:    "Estimated signal-to-noise ratio of closed segments",
			Buckets: prometheus.LinearBuckets(0, 10, 9), // 0 to 80 dB
		}),
		SpeechBandRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "utterance_segment_speech_band_ratio",
			Help:    "Share of spectral power inside the speech band",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),
		SegmentLevels: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "utterance_segment_levels_total",
			Help: "Closed segments by signal level verdict",
		}, []string{"level"}),

		// Enhancement metrics
		EnhancementRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "utterance_enhancement_runs_total",
			Help: "Total number of enhancement runs by result status",
		}, []string{"status"}),
		EnhancementDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "utterance_enhancement_duration_seconds",
			Help:    "Time spent conditioning a segment",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "utterance_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "utterance_transcription_outcomes_total",
			Help: "Transcription results by outcome",
		}, []string{"outcome"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "utterance_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		TranscriptionConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "utterance_transcription_avg_logprob",
			Help:    "Average log probability of the first transcribed segment",
			Buckets: prometheus.LinearBuckets(-2, 0.25, 9), // -2.0 to 0.0
		}),

		// Delivery metrics
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "utterance_deliveries_total",
			Help: "Text deliveries to the downstream device by result",
		}, []string{"result"}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "utterance_delivery_duration_seconds",
			Help:    "Duration of delivery requests",
			Buckets: prometheus.DefBuckets,
		}),
		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "utterance_delivery_breaker_state",
			Help: "Delivery circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),

		// Debug dump metrics
		DumpsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "utterance_debug_dumps_total",
			Help: "Total number of debug WAV files written",
		}, []string{"reason"}),
		DumpErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "utterance_debug_dump_errors_total",
			Help: "Total number of debug WAV files that could not be written",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "utterance_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "utterance_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "utterance_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived counts an accepted datagram and its payload size
func (m *Metrics) RecordPacketReceived(sizeBytes int) {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
	m.BytesReceived.Add(float64(sizeBytes))
}

// RecordPacketDropped counts a datagram that never reached the session
func (m *Metrics) RecordPacketDropped(reason string) {
	if m == nil {
		return
	}
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

// RecordReceiveError increments the receive errors counter
func (m *Metrics) RecordReceiveError() {
	if m == nil {
		return
	}
	m.ReceiveErrors.Inc()
}

// SetQueueSize sets the current packet queue size
func (m *Metrics) SetQueueSize(size int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(size))
}

// RecordRecordingStarted marks the session as recording
func (m *Metrics) RecordRecordingStarted() {
	if m == nil {
		return
	}
	m.RecordingsStarted.Inc()
	m.Recording.Set(1)
}

// RecordRecordingClosed marks the session idle and records the segment length
func (m *Metrics) RecordRecordingClosed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.RecordingsClosed.Inc()
	m.Recording.Set(0)
	m.BufferBytes.Set(0)
	m.SegmentDuration.Observe(durationSeconds)
}

// SetBufferBytes sets the current recording buffer size
func (m *Metrics) SetBufferBytes(size int) {
	if m == nil {
		return
	}
	m.BufferBytes.Set(float64(size))
}

// RecordTruncation records an overflow truncation
func (m *Metrics) RecordTruncation(droppedBytes int) {
	if m == nil {
		return
	}
	m.Truncations.Inc()
	m.DiscardedBytes.Add(float64(droppedBytes))
}

// RecordSegmentDiscarded counts a segment dropped before transcription
func (m *Metrics) RecordSegmentDiscarded(reason string) {
	if m == nil {
		return
	}
	m.SegmentsDiscarded.WithLabelValues(reason).Inc()
}

// SetPipelineQueue sets the number of segments waiting for processing
func (m *Metrics) SetPipelineQueue(size int) {
	if m == nil {
		return
	}
	m.PipelineQueue.Set(float64(size))
}

// RecordQuality records the quality analysis of a segment
func (m *Metrics) RecordQuality(peak int, snrDB, speechRatio float64, level string) {
	if m == nil {
		return
	}
	m.SegmentPeak.Observe(float64(peak))
	m.SegmentSNR.Observe(snrDB)
	m.SpeechBandRatio.Observe(speechRatio)
	m.SegmentLevels.WithLabelValues(level).Inc()
}

// RecordEnhancement records one conditioner run
func (m *Metrics) RecordEnhancement(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.EnhancementRuns.WithLabelValues(status).Inc()
	m.EnhancementDuration.Observe(durationSeconds)
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionOutcome records how a transcription ended
func (m *Metrics) RecordTranscriptionOutcome(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionOutcomes.WithLabelValues(outcome).Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionConfidence observes the avg_logprob of an accepted text
func (m *Metrics) RecordTranscriptionConfidence(avgLogprob float64) {
	if m == nil {
		return
	}
	m.TranscriptionConfidence.Observe(avgLogprob)
}

// RecordDelivery records one delivery attempt
func (m *Metrics) RecordDelivery(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(result).Inc()
	m.DeliveryDuration.Observe(durationSeconds)
}

// SetBreakerState sets the delivery circuit breaker state
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
}

// RecordDump records a debug dump attempt
func (m *Metrics) RecordDump(reason string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.DumpErrors.Inc()
		return
	}
	m.DumpsWritten.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
