package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/utterance-service/internal/audio"
	"github.com/skypro1111/utterance-service/internal/config"
	"github.com/skypro1111/utterance-service/internal/debugdump"
	"github.com/skypro1111/utterance-service/internal/delivery"
	"github.com/skypro1111/utterance-service/internal/enhance"
	"github.com/skypro1111/utterance-service/internal/metrics"
	"github.com/skypro1111/utterance-service/internal/segment"
	"github.com/skypro1111/utterance-service/internal/server"
	"github.com/skypro1111/utterance-service/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "utterance-service"
	serviceVersion    = "1.0.0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, fromFile, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)
	if !fromFile {
		logger.Warn("Config file not found, using defaults", slog.String("config_path", *configPath))
	}

	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("audio_timeout", cfg.Audio.AudioTimeout),
		slog.Float64("max_buffer_seconds", cfg.Audio.MaxBufferSeconds),
		slog.Bool("enhancement", cfg.Enhancement.Enabled),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("delivery_url", cfg.Delivery.URL()),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	format := audio.Format{
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		BitsPerSample: cfg.Audio.BitsPerSample,
	}

	client, err := transcription.NewClient(transcription.Config{
		Endpoint:       cfg.Transcription.Endpoint,
		HealthEndpoint: cfg.Transcription.HealthEndpoint,
		APIKey:         cfg.Transcription.APIKey,
		Model:          cfg.Transcription.Model,
		Timeout:        cfg.Transcription.GetTimeoutDuration(),
	})
	if err != nil {
		return fmt.Errorf("failed to create transcription client: %w", err)
	}
	defer client.Close()

	probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
	err = client.HealthCheck(probeCtx)
	probeCancel()
	if err != nil {
		logger.Error("Transcription service readiness probe failed",
			slog.String("health_endpoint", cfg.Transcription.HealthEndpoint),
			slog.String("error", err.Error()))
		return fmt.Errorf("transcription service not ready: %w", err)
	}

	sink, err := delivery.NewHTTPSink(logger, delivery.Config{
		URL:             cfg.Delivery.URL(),
		Timeout:         cfg.Delivery.GetTimeoutDuration(),
		BreakerFailures: uint32(cfg.Delivery.BreakerFailures),
		BreakerReset:    cfg.Delivery.GetBreakerResetDuration(),
	}, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create delivery sink: %w", err)
	}

	var dumper transcription.Dumper
	if cfg.Debug.DumpOnRejection || cfg.Debug.DumpOnError {
		d, err := debugdump.NewDumper(cfg.Debug.DumpDir, format, appMetrics)
		if err != nil {
			return fmt.Errorf("failed to create debug dumper: %w", err)
		}
		dumper = d
	}

	dispatcher, err := transcription.NewDispatcher(logger, client, sink, dumper, appMetrics, transcription.DispatcherConfig{
		SampleRate:      cfg.Audio.SampleRate,
		Language:        cfg.Transcription.Language,
		Task:            cfg.Transcription.Task,
		Timeout:         cfg.Transcription.GetTimeoutDuration(),
		DumpOnRejection: cfg.Debug.DumpOnRejection,
		DumpOnError:     cfg.Debug.DumpOnError,
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	var conditioner *enhance.Conditioner
	if cfg.Enhancement.Enabled {
		conditioner, err = enhance.NewConditioner(logger, enhance.Config{
			SampleRate:       cfg.Audio.SampleRate,
			NoiseLeadSeconds: cfg.Enhancement.NoiseLeadSeconds,
			NoiseFactor:      cfg.Enhancement.NoiseFactor,
			NoiseAttenuation: cfg.Enhancement.NoiseAttenuation,
			LowCutHz:         cfg.Enhancement.LowCutHz,
			HighCutHz:        cfg.Enhancement.HighCutHz,
			FilterOrder:      cfg.Enhancement.FilterOrder,
			CompressorKnee:   cfg.Enhancement.CompressorKnee,
			CompressorRatio:  cfg.Enhancement.CompressorRatio,
			TargetRMS:        cfg.Enhancement.TargetRMS,
			MaxGain:          cfg.Enhancement.MaxGain,
			WienerWindow:     cfg.Enhancement.WienerWindow,
		})
		if err != nil {
			return fmt.Errorf("failed to create conditioner: %w", err)
		}
	}

	pipeline, err := segment.NewPipeline(logger, segment.PipelineConfig{
		SampleRate:        cfg.Audio.SampleRate,
		MinSegmentSamples: cfg.Audio.MinSegmentSamples(),
		BandLowHz:         cfg.Enhancement.LowCutHz,
		BandHighHz:        cfg.Enhancement.HighCutHz,
	}, conditioner, dispatcher, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	controller, err := segment.NewController(logger, segment.ControllerConfig{
		SampleRate:     cfg.Audio.SampleRate,
		AudioTimeout:   cfg.Audio.GetAudioTimeout(),
		PollInterval:   cfg.Audio.GetPollInterval(),
		MaxBufferBytes: cfg.Audio.MaxBufferBytes(),
		RetainBytes:    cfg.Audio.RetainBytes(),
		PipelineQueue:  cfg.Audio.PipelineQueue,
	}, pipeline, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create segmentation controller: %w", err)
	}

	udpServer := server.NewUDPServer(cfg.Server, logger, controller, appMetrics)
	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		return err
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, server.Components{
			UDP:        udpServer,
			Controller: controller,
			Pipeline:   pipeline,
			Dispatcher: dispatcher,
			Client:     client,
			Delivery:   sink,
		}, appMetrics, registry)

		if err := httpServer.Start(); err != nil {
			udpServer.Stop()
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			return err
		}
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", udpServer.Addr().String()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return controller.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Starting graceful shutdown...")

		if httpServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
			}
		}

		return udpServer.Stop()
	})

	if err := g.Wait(); err != nil {
		return err
	}

	udpStats := udpServer.GetStatistics()
	dispatchStats := dispatcher.GetStats()
	logger.Info("Final service statistics",
		slog.Uint64("packets_received", udpStats.PacketsReceived),
		slog.Uint64("packets_dropped", udpStats.PacketsDropped),
		slog.Uint64("accepted", dispatchStats.Accepted),
		slog.Uint64("rejected", dispatchStats.Rejected),
		slog.Uint64("failed", dispatchStats.Failed),
		slog.Uint64("delivered", dispatchStats.Delivered),
	)

	logger.Info("Service stopped")
	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Anything else is a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
