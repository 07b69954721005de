package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/skypro1111/acoustic-modem/internal/modem"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server" json:"server"`
	HTTP     HTTPConfig     `yaml:"http" toml:"http" json:"http"`
	Modem    ModemConfig    `yaml:"modem" toml:"modem" json:"modem"`
	Carrier  CarrierConfig  `yaml:"carrier" toml:"carrier" json:"carrier"`
	Sink     SinkConfig     `yaml:"sink" toml:"sink" json:"sink"`
	Recorder RecorderConfig `yaml:"recorder" toml:"recorder" json:"recorder"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging" json:"logging"`
}

// ServerConfig contains UDP server configuration
type ServerConfig struct {
	UDPPort              int    `yaml:"udp_port" toml:"udp_port" json:"udp_port"`
	BindAddress          string `yaml:"bind_address" toml:"bind_address" json:"bind_address"`
	BufferSize           int    `yaml:"buffer_size" toml:"buffer_size" json:"buffer_size"`
	MaxConcurrentStreams int    `yaml:"max_concurrent_streams" toml:"max_concurrent_streams" json:"max_concurrent_streams"`
	Workers              int    `yaml:"workers" toml:"workers" json:"workers"`
	QueueSize            int    `yaml:"queue_size" toml:"queue_size" json:"queue_size"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" toml:"port" json:"port"`
	Address string `yaml:"address" toml:"address" json:"address"`
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
}

// ModemConfig contains demodulation parameters
type ModemConfig struct {
	SampleRate     int `yaml:"sample_rate" toml:"sample_rate" json:"sample_rate"`                // default for streams that do not announce one
	MaxPacketGap   int `yaml:"max_packet_gap" toml:"max_packet_gap" json:"max_packet_gap"`       // measurements
	StreamTimeout  int `yaml:"stream_timeout" toml:"stream_timeout" json:"stream_timeout"`       // seconds
	MaxSequenceGap int `yaml:"max_sequence_gap" toml:"max_sequence_gap" json:"max_sequence_gap"` // frames
}

// CarrierConfig contains carrier detection configuration
type CarrierConfig struct {
	Threshold  float32 `yaml:"threshold" toml:"threshold" json:"threshold"`
	WindowSize int     `yaml:"window_size" toml:"window_size" json:"window_size"` // samples
}

// SinkConfig contains delivery configuration for decoded messages
type SinkConfig struct {
	Webhook     WebhookConfig `yaml:"webhook" toml:"webhook" json:"webhook"`
	MQTT        MQTTConfig    `yaml:"mqtt" toml:"mqtt" json:"mqtt"`
	DedupWindow int           `yaml:"dedup_window" toml:"dedup_window" json:"dedup_window"` // seconds, 0 disables
	QueueSize   int           `yaml:"queue_size" toml:"queue_size" json:"queue_size"`
	Workers     int           `yaml:"workers" toml:"workers" json:"workers"`
}

// WebhookConfig contains HTTP delivery configuration
type WebhookConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Endpoint      string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	APIKey        string `yaml:"api_key" toml:"api_key" json:"api_key"`
	Timeout       int    `yaml:"timeout" toml:"timeout" json:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries" toml:"max_retries" json:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent" toml:"max_concurrent" json:"max_concurrent"`
}

// MQTTConfig contains MQTT delivery configuration
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Broker   string `yaml:"broker" toml:"broker" json:"broker"`
	Port     int    `yaml:"port" toml:"port" json:"port"`
	Topic    string `yaml:"topic" toml:"topic" json:"topic"`
	ClientID string `yaml:"client_id" toml:"client_id" json:"client_id"`
	Username string `yaml:"username" toml:"username" json:"username"`
	Password string `yaml:"password" toml:"password" json:"password"`
	QoS      int    `yaml:"qos" toml:"qos" json:"qos"`
}

// RecorderConfig contains the message archive configuration
type RecorderConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Path      string `yaml:"path" toml:"path" json:"path"`
	Retention int    `yaml:"retention" toml:"retention" json:"retention"` // rows, 0 keeps everything
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
	Output string `yaml:"output" toml:"output" json:"output"`
}

// Default returns a configuration that passes validation with every
// optional integration disabled.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			UDPPort:              4444,
			BindAddress:          "0.0.0.0",
			BufferSize:           65536,
			MaxConcurrentStreams: 64,
			Workers:              4,
			QueueSize:            1000,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Modem: ModemConfig{
			SampleRate:     44100,
			MaxPacketGap:   modem.PacketLen * modem.MeasurementsPerSymbol,
			StreamTimeout:  60,
			MaxSequenceGap: 20,
		},
		Carrier: CarrierConfig{
			Threshold:  0.05,
			WindowSize: 2048,
		},
		Sink: SinkConfig{
			Webhook: WebhookConfig{
				Timeout:       10,
				MaxRetries:    3,
				MaxConcurrent: 4,
			},
			MQTT: MQTTConfig{
				Port:     1883,
				Topic:    "modem/messages",
				ClientID: "modemd",
			},
			DedupWindow: 5,
			QueueSize:   256,
			Workers:     2,
		},
		Recorder: RecorderConfig{
			Path:      "./modemd.db",
			Retention: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(string(data), &config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown keys in config file %s: %s", path, strings.Join(keys, ", "))
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Modem.Validate(); err != nil {
		return fmt.Errorf("modem config: %w", err)
	}

	if err := c.Carrier.Validate(); err != nil {
		return fmt.Errorf("carrier config: %w", err)
	}

	if err := c.Sink.Validate(); err != nil {
		return fmt.Errorf("sink config: %w", err)
	}

	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.MaxConcurrentStreams < 1 {
		return fmt.Errorf("max_concurrent_streams must be at least 1, got %d", s.MaxConcurrentStreams)
	}

	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates modem configuration
func (m *ModemConfig) Validate() error {
	if minRate := modem.MinSampleRate(); m.SampleRate < minRate {
		return fmt.Errorf("sample_rate must be at least %d Hz, got %d", minRate, m.SampleRate)
	}
	if m.SampleRate > modem.MaxSampleRate {
		return fmt.Errorf("sample_rate must be at most %d Hz, got %d", modem.MaxSampleRate, m.SampleRate)
	}

	if m.MaxPacketGap < 0 {
		return fmt.Errorf("max_packet_gap cannot be negative, got %d", m.MaxPacketGap)
	}

	if m.StreamTimeout < 1 {
		return fmt.Errorf("stream_timeout must be at least 1 second, got %d", m.StreamTimeout)
	}

	if m.MaxSequenceGap < 1 {
		return fmt.Errorf("max_sequence_gap must be at least 1, got %d", m.MaxSequenceGap)
	}

	return nil
}

// Validate validates carrier configuration
func (c *CarrierConfig) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", c.Threshold)
	}

	if c.WindowSize < 256 || c.WindowSize > 65536 {
		return fmt.Errorf("window_size must be between 256 and 65536 samples, got %d", c.WindowSize)
	}

	return nil
}

// Validate validates sink configuration
func (s *SinkConfig) Validate() error {
	if err := s.Webhook.Validate(); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}

	if err := s.MQTT.Validate(); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if s.DedupWindow < 0 {
		return fmt.Errorf("dedup_window cannot be negative, got %d", s.DedupWindow)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}

	return nil
}

// Validate validates webhook configuration
func (w *WebhookConfig) Validate() error {
	if !w.Enabled {
		return nil
	}

	if w.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if w.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", w.Timeout)
	}

	if w.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", w.MaxRetries)
	}

	if w.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", w.MaxConcurrent)
	}

	return nil
}

// Validate validates MQTT configuration
func (m *MQTTConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	if m.Broker == "" {
		return fmt.Errorf("broker cannot be empty")
	}

	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", m.Port)
	}

	if m.Topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}

	if m.QoS < 0 || m.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", m.QoS)
	}

	return nil
}

// Validate validates recorder configuration
func (r *RecorderConfig) Validate() error {
	if r.Enabled && r.Path == "" {
		return fmt.Errorf("path cannot be empty when the recorder is enabled")
	}

	if r.Retention < 0 {
		return fmt.Errorf("retention cannot be negative, got %d", r.Retention)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// Redacted returns a copy with credentials masked, suitable for display
func (c *Config) Redacted() Config {
	out := *c
	if out.Sink.Webhook.APIKey != "" {
		out.Sink.Webhook.APIKey = "***"
	}
	if out.Sink.MQTT.Password != "" {
		out.Sink.MQTT.Password = "***"
	}
	return out
}

// GetStreamTimeoutDuration returns the stream timeout as a time.Duration
func (m *ModemConfig) GetStreamTimeoutDuration() time.Duration {
	return time.Duration(m.StreamTimeout) * time.Second
}

// GetTimeoutDuration returns the webhook timeout as a time.Duration
func (w *WebhookConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(w.Timeout) * time.Second
}

// GetDedupWindowDuration returns the duplicate suppression window as a time.Duration
func (s *SinkConfig) GetDedupWindowDuration() time.Duration {
	return time.Duration(s.DedupWindow) * time.Second
}
