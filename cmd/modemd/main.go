package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/acoustic-modem/internal/config"
	"github.com/skypro1111/acoustic-modem/internal/metrics"
	"github.com/skypro1111/acoustic-modem/internal/recorder"
	"github.com/skypro1111/acoustic-modem/internal/server"
	"github.com/skypro1111/acoustic-modem/internal/sink"
	"github.com/skypro1111/acoustic-modem/internal/stream"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "modemd"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (.yaml or .toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog := initLogger(cfg.Logging)
	defer closeLog()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_concurrent_streams", cfg.Server.MaxConcurrentStreams),
		slog.Int("sample_rate", cfg.Modem.SampleRate),
		slog.Int("max_packet_gap", cfg.Modem.MaxPacketGap),
		slog.Bool("webhook_enabled", cfg.Sink.Webhook.Enabled),
		slog.Bool("mqtt_enabled", cfg.Sink.MQTT.Enabled),
		slog.Bool("recorder_enabled", cfg.Recorder.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		closeLog()
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		r, err := recorder.NewRecorder(cfg.Recorder.Path, cfg.Recorder.Retention)
		if err != nil {
			return fmt.Errorf("failed to open recorder: %w", err)
		}
		defer r.Close()
		rec = r
		logger.Info("Recorder initialized",
			slog.String("path", cfg.Recorder.Path),
			slog.Int("retention", cfg.Recorder.Retention),
		)
	}

	sinks, err := buildSinks(cfg.Sink, appMetrics, logger)
	if err != nil {
		return err
	}

	var dispatcher *sink.Dispatcher
	if len(sinks) > 0 {
		dispatcher = sink.NewDispatcher(sink.DispatcherConfig{
			QueueSize:   cfg.Sink.QueueSize,
			Workers:     cfg.Sink.Workers,
			DedupWindow: cfg.Sink.GetDedupWindowDuration(),
		}, sinks, logger, appMetrics)
		dispatcher.Start()
	}

	// Typed nils must not leak into the manager's interfaces
	var (
		managerDispatcher stream.Dispatcher
		managerArchive    stream.Archive
	)
	if dispatcher != nil {
		managerDispatcher = dispatcher
	}
	if rec != nil {
		managerArchive = rec
	}

	streamMgr, err := stream.NewManager(logger, stream.ManagerConfig{
		DefaultSampleRate: cfg.Modem.SampleRate,
		MaxPacketGap:      cfg.Modem.MaxPacketGap,
		MaxSequenceGap:    uint32(cfg.Modem.MaxSequenceGap),
		MaxStreams:        cfg.Server.MaxConcurrentStreams,
		Timeout:           cfg.Modem.GetStreamTimeoutDuration(),
		CarrierThreshold:  cfg.Carrier.Threshold,
		CarrierWindow:     cfg.Carrier.WindowSize,
	}, managerDispatcher, managerArchive, appMetrics)
	if err != nil {
		if dispatcher != nil {
			dispatcher.Stop(context.Background())
		}
		return fmt.Errorf("failed to create stream manager: %w", err)
	}
	logger.Info("Stream manager initialized",
		slog.Duration("stream_timeout", cfg.Modem.GetStreamTimeoutDuration()),
		slog.Int("default_sample_rate", cfg.Modem.SampleRate),
	)

	udpServer := server.NewUDPServer(&cfg.Server, logger, streamMgr, appMetrics)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(logger, cfg, streamMgr, udpServer, dispatcher, rec, appMetrics)
	}

	if err := udpServer.Start(); err != nil {
		streamMgr.Stop()
		return fmt.Errorf("failed to start UDP server: %w", err)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", udpServer.Addr().String()),
	)

	<-ctx.Done()
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	// Stop HTTP first, then ingest, then flush sessions into the sinks
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	streamMgr.Stop()

	if dispatcher != nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := dispatcher.Stop(drainCtx); err != nil {
			logger.Error("Error draining sinks", slog.String("error", err.Error()))
		}
		drainCancel()
	}

	stats := udpServer.GetStatistics()
	managerStats := streamMgr.Stats()
	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("payloads_decoded", managerStats.PayloadsDecoded),
		slog.Uint64("messages_decoded", managerStats.MessagesDecoded),
	)

	return nil
}

// buildSinks creates every enabled delivery target
func buildSinks(cfg config.SinkConfig, m *metrics.Metrics, logger *slog.Logger) ([]sink.Sink, error) {
	var sinks []sink.Sink

	if cfg.Webhook.Enabled {
		webhook, err := sink.NewWebhook(sink.WebhookConfig{
			Endpoint:      cfg.Webhook.Endpoint,
			APIKey:        cfg.Webhook.APIKey,
			Timeout:       cfg.Webhook.GetTimeoutDuration(),
			MaxRetries:    cfg.Webhook.MaxRetries,
			MaxConcurrent: cfg.Webhook.MaxConcurrent,
			OnRetry:       func() { m.RecordSinkRetry("webhook") },
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook sink: %w", err)
		}
		sinks = append(sinks, webhook)
		logger.Info("Webhook sink initialized", slog.String("endpoint", cfg.Webhook.Endpoint))
	}

	if cfg.MQTT.Enabled {
		client, err := sink.NewMQTT(sink.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Port:     cfg.MQTT.Port,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
		}, logger)
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return nil, fmt.Errorf("failed to create MQTT sink: %w", err)
		}
		sinks = append(sinks, client)
		logger.Info("MQTT sink initialized",
			slog.String("broker", cfg.MQTT.Broker),
			slog.String("topic", cfg.MQTT.Topic),
		)
	}

	return sinks, nil
}

// initLogger creates the structured logger described by the configuration.
// The returned func closes the log file, if any.
func initLogger(cfg config.LoggingConfig) (*slog.Logger, func()) {
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

	var output io.Writer = os.Stdout
	closeFn := func() {}
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
		} else {
			output = file
			closeFn = func() { file.Close() }
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler), closeFn
}
