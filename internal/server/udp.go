package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skypro1111/utterance-service/internal/config"
	"github.com/skypro1111/utterance-service/internal/metrics"
)

// Drop reasons reported in metrics
const (
	DropQueueFull = "queue_full"
	DropOddLength = "odd_length"
	DropEmpty     = "empty"
	DropRejected  = "rejected"
)

// PacketSink consumes raw PCM-16 payloads in arrival order
type PacketSink interface {
	Ingest(payload []byte, source string, at time.Time) error
}

// UDPServer receives raw PCM-16 datagrams from the microphone and hands them
// to a single consumer in arrival order.
type UDPServer struct {
	conn    *net.UDPConn
	config  config.ServerConfig
	logger  *slog.Logger
	sink    PacketSink
	metrics *metrics.Metrics

	// Concurrency management
	ctx       context.Context
	cancel    context.CancelFunc
	receiveWG sync.WaitGroup
	workerWG  sync.WaitGroup

	packetChan chan *incomingPacket

	// Error logs are rate limited so a flood of bad datagrams cannot flood the log
	errLimiter  *rate.Limiter
	dropLimiter *rate.Limiter

	stats ServerStatistics
	mu    sync.RWMutex
}

// incomingPacket represents a received UDP datagram with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// ServerStatistics represents UDP ingress metrics
type ServerStatistics struct {
	PacketsReceived uint64    `json:"packets_received"`
	BytesReceived   uint64    `json:"bytes_received"`
	PacketsIngested uint64    `json:"packets_ingested"`
	PacketsDropped  uint64    `json:"packets_dropped"`
	ReceiveErrors   uint64    `json:"receive_errors"`
	LastPacketAt    time.Time `json:"last_packet_at,omitempty"`
	LastSource      string    `json:"last_source,omitempty"`
	QueueSize       int       `json:"queue_size"`
	QueueCapacity   int       `json:"queue_capacity"`
}

// NewUDPServer creates a new UDP server instance
func NewUDPServer(cfg config.ServerConfig, logger *slog.Logger, sink PacketSink, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	return &UDPServer{
		config:      cfg,
		logger:      logger,
		sink:        sink,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
		packetChan:  make(chan *incomingPacket, cfg.QueueSize),
		errLimiter:  rate.NewLimiter(rate.Every(time.Second), 5),
		dropLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Start binds the socket and begins receiving. A bind failure is returned
// and nothing is started.
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if s.config.ReadBuffer > 0 {
		if err := s.conn.SetReadBuffer(s.config.ReadBuffer); err != nil {
			s.logger.Warn("Failed to set UDP read buffer size",
				slog.Int("read_buffer", s.config.ReadBuffer),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("UDP server started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("max_datagram", s.config.BufferSize),
		slog.Int("queue_size", s.config.QueueSize),
	)

	// One consumer keeps packets in arrival order
	s.workerWG.Add(1)
	go s.packetProcessor()

	s.receiveWG.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound address, or nil before Start
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP server. Packets still queued are handed to
// the sink before Stop returns.
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// The receive loop is the only sender, so the channel can be closed once it exits
	s.receiveWG.Wait()
	close(s.packetChan)
	s.workerWG.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_ingested", stats.PacketsIngested),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
		slog.Uint64("receive_errors", stats.ReceiveErrors),
	)

	return nil
}

// receiveLoop is the main datagram receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.receiveWG.Done()

	// One spare byte detects datagrams larger than the configured maximum
	buffer := make([]byte, s.config.BufferSize+1)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Periodic deadline so cancellation is noticed without traffic
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
			}

			s.mu.Lock()
			s.stats.ReceiveErrors++
			s.mu.Unlock()
			s.metrics.RecordReceiveError()

			if s.errLimiter.Allow() {
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
			}
			continue
		}

		now := time.Now()
		s.mu.Lock()
		s.stats.PacketsReceived++
		s.stats.BytesReceived += uint64(n)
		s.stats.LastPacketAt = now
		s.stats.LastSource = remoteAddr.String()
		s.mu.Unlock()
		s.metrics.RecordPacketReceived(n)

		if n > s.config.BufferSize {
			s.drop(DropRejected, remoteAddr, n)
			continue
		}
		if n == 0 {
			s.drop(DropEmpty, remoteAddr, n)
			continue
		}
		if n%2 != 0 {
			s.drop(DropOddLength, remoteAddr, n)
			continue
		}

		// The read buffer is reused, so the payload is copied
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  now,
		}

		select {
		case s.packetChan <- packet:
			s.metrics.SetQueueSize(len(s.packetChan))
		default:
			s.drop(DropQueueFull, remoteAddr, n)
		}
	}
}

func (s *UDPServer) drop(reason string, remoteAddr *net.UDPAddr, size int) {
	s.mu.Lock()
	s.stats.PacketsDropped++
	s.mu.Unlock()
	s.metrics.RecordPacketDropped(reason)

	if s.dropLimiter.Allow() {
		s.logger.Warn("Dropping UDP packet",
			slog.String("reason", reason),
			slog.String("remote_addr", remoteAddr.String()),
			slog.Int("packet_size", size),
		)
	}
}

// packetProcessor hands queued packets to the sink
func (s *UDPServer) packetProcessor() {
	defer s.workerWG.Done()

	for packet := range s.packetChan {
		s.handlePacket(packet)
	}
}

func (s *UDPServer) handlePacket(packet *incomingPacket) {
	if err := s.sink.Ingest(packet.data, packet.remoteAddr.String(), packet.timestamp); err != nil {
		s.drop(DropRejected, packet.remoteAddr, len(packet.data))
		s.logger.Debug("Packet rejected by controller",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.stats.PacketsIngested++
	s.mu.Unlock()
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.QueueSize = len(s.packetChan)
	stats.QueueCapacity = cap(s.packetChan)
	return stats
}
