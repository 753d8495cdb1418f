package segment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/utterance-service/internal/audio"
	"github.com/skypro1111/utterance-service/internal/metrics"
)

// SegmentHandler processes closed segments. Calls are made from a single
// goroutine, one segment at a time.
type SegmentHandler interface {
	HandleSegment(ctx context.Context, seg *Segment)
}

// ControllerConfig contains segmentation parameters
type ControllerConfig struct {
	SampleRate     int
	AudioTimeout   time.Duration // silence that ends a recording
	PollInterval   time.Duration
	MaxBufferBytes int
	RetainBytes    int
	PipelineQueue  int // closed segments waiting for the handler
}

// ControllerStats represents segmentation statistics
type ControllerStats struct {
	PacketsIngested   uint64 `json:"packets_ingested"`
	BytesIngested     uint64 `json:"bytes_ingested"`
	PacketsRejected   uint64 `json:"packets_rejected"`
	RecordingsStarted uint64 `json:"recordings_started"`
	SegmentsClosed    uint64 `json:"segments_closed"`
	EmptyCloses       uint64 `json:"empty_closes"`
	Truncations       uint64 `json:"truncations"`
	DiscardedBytes    uint64 `json:"discarded_bytes"`
	SegmentsDropped   uint64 `json:"segments_dropped"` // queued when shutting down
	QueuedSegments    int    `json:"queued_segments"`
}

// Controller owns the recording session. It starts a recording on the first
// packet, appends while recording, and closes the recording once no packet
// has arrived for longer than the audio timeout. Closed segments are passed
// to the handler by a single worker.
type Controller struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	config  ControllerConfig
	handler SegmentHandler

	session  session
	stats    ControllerStats
	segments chan *Segment

	mu sync.Mutex
}

// NewController creates a controller in the idle state
func NewController(logger *slog.Logger, config ControllerConfig, handler SegmentHandler, m *metrics.Metrics) (*Controller, error) {
	if handler == nil {
		return nil, fmt.Errorf("segment handler cannot be nil")
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.AudioTimeout <= 0 {
		return nil, fmt.Errorf("audio timeout must be positive, got %v", config.AudioTimeout)
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	if config.PipelineQueue < 1 {
		config.PipelineQueue = 1
	}

	buffer, err := audio.NewBuffer(config.MaxBufferBytes, config.RetainBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording buffer: %w", err)
	}

	return &Controller{
		logger:   logger,
		metrics:  m,
		config:   config,
		handler:  handler,
		session:  session{state: StateIdle, buffer: buffer},
		segments: make(chan *Segment, config.PipelineQueue),
	}, nil
}

// Ingest appends one packet of PCM-16 audio received from source at the
// given time. The first packet while idle starts a new recording. Empty
// payloads are ignored.
func (c *Controller) Ingest(payload []byte, source string, at time.Time) error {
	if len(payload) == 0 {
		return nil
	}
	if len(payload)%2 != 0 {
		c.mu.Lock()
		c.stats.PacketsRejected++
		c.mu.Unlock()
		return fmt.Errorf("audio data length must be even (got %d bytes)", len(payload))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.session
	if s.state == StateIdle {
		s.buffer.Reset()
		s.state = StateRecording
		s.source = source
		s.startedAt = at
		s.packets = 0
		c.stats.RecordingsStarted++
		c.metrics.RecordRecordingStarted()

		c.logger.Info("Recording started",
			slog.String("source", source),
			slog.Int("first_packet_bytes", len(payload)))
	} else if source != s.source {
		c.logger.Debug("Packet from a different source appended to current recording",
			slog.String("source", source),
			slog.String("recording_source", s.source))
	}

	result, err := s.buffer.Append(payload)
	if err != nil {
		c.stats.PacketsRejected++
		return fmt.Errorf("failed to append audio: %w", err)
	}

	s.lastPacket = at
	s.packets++
	c.stats.PacketsIngested++
	c.stats.BytesIngested += uint64(len(payload))
	c.metrics.SetBufferBytes(result.Size)

	if result.Truncated {
		c.stats.Truncations++
		c.stats.DiscardedBytes += uint64(result.Dropped)
		c.metrics.RecordTruncation(result.Dropped)

		c.logger.Warn("Recording buffer full, discarded oldest audio",
			slog.Int("dropped_bytes", result.Dropped),
			slog.Duration("dropped", audio.Duration(result.Dropped/2, c.config.SampleRate)),
			slog.Int("buffer_bytes", result.Size))
	}

	return nil
}

// CheckTimeout closes the recording if more than the audio timeout has passed
// since its last packet. It returns the closed segment, or nil when nothing
// was closed or the recording held no audio. The session is idle again
// before this returns, whatever happens to the segment afterwards.
func (c *Controller) CheckTimeout(now time.Time) *Segment {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.session
	if s.state != StateRecording || s.lastPacket.IsZero() {
		return nil
	}
	if now.Sub(s.lastPacket) <= c.config.AudioTimeout {
		return nil
	}

	bufStats := s.buffer.GetStats()
	data := s.buffer.Detach()

	seg := &Segment{
		ID:             uuid.NewString(),
		Source:         s.source,
		StartedAt:      s.startedAt,
		ClosedAt:       now,
		Packets:        s.packets,
		Truncations:    bufStats.Truncations,
		DiscardedBytes: bufStats.DiscardedBytes,
		Samples:        audio.BytesToSamples(data),
	}

	s.state = StateIdle
	s.source = ""
	s.startedAt = time.Time{}
	s.lastPacket = time.Time{}
	s.packets = 0

	duration := seg.Duration(c.config.SampleRate)
	c.metrics.RecordRecordingClosed(duration.Seconds())

	if len(seg.Samples) == 0 {
		c.stats.EmptyCloses++
		c.logger.Debug("Recording closed with no audio")
		return nil
	}

	c.stats.SegmentsClosed++
	c.logger.Info("Recording closed after silence",
		slog.String("segment_id", seg.ID),
		slog.String("source", seg.Source),
		slog.Duration("duration", duration),
		slog.Uint64("packets", seg.Packets),
		slog.Uint64("truncations", seg.Truncations))

	return seg
}

// Run polls for the silence timeout and feeds closed segments to the handler
// until ctx is cancelled. A recording in progress at shutdown is dropped.
func (c *Controller) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.worker(ctx)
	}()

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	c.logger.Info("Segmentation controller started",
		slog.Duration("audio_timeout", c.config.AudioTimeout),
		slog.Duration("poll_interval", c.config.PollInterval),
		slog.Int("max_buffer_bytes", c.config.MaxBufferBytes))

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			c.dropInProgress()
			c.logger.Info("Segmentation controller stopped")
			return nil

		case now := <-ticker.C:
			seg := c.CheckTimeout(now)
			if seg == nil {
				continue
			}
			// Blocks while the worker is busy and the queue is full; packets
			// keep arriving into the next recording meanwhile.
			select {
			case c.segments <- seg:
				c.metrics.SetPipelineQueue(len(c.segments))
			case <-ctx.Done():
				c.dropSegment(seg)
			}
		}
	}
}

// worker hands queued segments to the handler one at a time
func (c *Controller) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case seg := <-c.segments:
					c.dropSegment(seg)
				default:
					return
				}
			}
		case seg := <-c.segments:
			c.metrics.SetPipelineQueue(len(c.segments))
			c.handler.HandleSegment(ctx, seg)
		}
	}
}

func (c *Controller) dropSegment(seg *Segment) {
	c.mu.Lock()
	c.stats.SegmentsDropped++
	c.mu.Unlock()

	c.logger.Warn("Dropping closed segment on shutdown",
		slog.String("segment_id", seg.ID),
		slog.Duration("duration", seg.Duration(c.config.SampleRate)))
}

func (c *Controller) dropInProgress() {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.session
	if s.state != StateRecording {
		return
	}

	c.logger.Info("Dropping recording in progress on shutdown",
		slog.String("source", s.source),
		slog.Int("buffer_bytes", s.buffer.Len()))

	s.buffer.Reset()
	s.state = StateIdle
	s.lastPacket = time.Time{}
}

// Snapshot returns the current session state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.session
	bufStats := s.buffer.GetStats()
	snap := Snapshot{
		State:          s.state.String(),
		Source:         s.source,
		StartedAt:      s.startedAt,
		LastPacketAt:   s.lastPacket,
		Packets:        s.packets,
		BufferBytes:    bufStats.SizeBytes,
		BufferSeconds:  audio.Duration(bufStats.SizeBytes/2, c.config.SampleRate).Seconds(),
		Truncations:    bufStats.Truncations,
		DiscardedBytes: bufStats.DiscardedBytes,
	}
	if !s.lastPacket.IsZero() {
		snap.IdleSeconds = time.Since(s.lastPacket).Seconds()
	}
	return snap
}

// State returns the current session state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.state
}

// Stats returns segmentation statistics
func (c *Controller) Stats() ControllerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.QueuedSegments = len(c.segments)
	return stats
}
