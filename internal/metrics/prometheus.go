package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the modem service
type Metrics struct {
	registry *prometheus.Registry

	// UDP packet metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter
	QueueSize        prometheus.Gauge

	// Stream metrics
	ActiveStreams    prometheus.Gauge
	StreamsCreated   prometheus.Counter
	StreamsDestroyed prometheus.Counter
	StreamDuration   prometheus.Histogram
	FramesLost       prometheus.Counter
	FramesLate       prometheus.Counter

	// Demodulator metrics
	SamplesPushed       prometheus.Counter
	Measurements        prometheus.Counter
	CandidatesCompleted prometheus.Counter
	CandidatesRejected  prometheus.Counter
	SyncMismatches      prometheus.Counter
	PayloadsDecoded     prometheus.Counter
	PacketQuality       prometheus.Histogram
	MessagesDecoded     prometheus.Counter
	MessagesAbandoned   prometheus.Counter
	MessageSize         prometheus.Histogram

	// Carrier metrics
	CarrierWindows  prometheus.Counter
	CarrierPresence prometheus.Counter

	// Sink metrics
	SinkDeliveries       *prometheus.CounterVec
	SinkFailures         *prometheus.CounterVec
	SinkRetries          *prometheus.CounterVec
	SinkDuration         *prometheus.HistogramVec
	DuplicatesSuppressed prometheus.Counter
	SinkDropped          prometheus.Counter

	// Recorder metrics
	RecorderWrites prometheus.Counter
	RecorderErrors prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics on a private registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// UDP packet metrics
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_packets_received_total",
			Help: "Total number of UDP packets received",
		}),
		PacketsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_packets_processed_total",
			Help: "Total number of UDP packets successfully processed",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "modem_packet_queue_size",
			Help: "Current number of packets in processing queue",
		}),

		// Stream metrics
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "modem_active_streams",
			Help: "Current number of active audio streams",
		}),
		StreamsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_streams_created_total",
			Help: "Total number of streams created",
		}),
		StreamsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_streams_destroyed_total",
			Help: "Total number of streams destroyed",
		}),
		StreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "modem_stream_duration_seconds",
			Help:    "Duration of audio streams in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		FramesLost: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_frames_lost_total",
			Help: "Total number of audio frames concealed with silence",
		}),
		FramesLate: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_frames_late_total",
			Help: "Total number of late or duplicate audio frames dropped",
		}),

		// Demodulator metrics
		SamplesPushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_samples_pushed_total",
			Help: "Total number of audio samples fed to demodulators",
		}),
		Measurements: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_measurements_total",
			Help: "Total number of detector bank measurements",
		}),
		CandidatesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_candidates_completed_total",
			Help: "Total number of phase candidates that collected a full packet",
		}),
		CandidatesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_candidates_rejected_total",
			Help: "Total number of candidates the error corrector could not repair",
		}),
		SyncMismatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_sync_mismatches_total",
			Help: "Total number of corrected candidates with wrong sync symbols",
		}),
		PayloadsDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_payloads_decoded_total",
			Help: "Total number of payloads decoded",
		}),
		PacketQuality: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "modem_packet_unmodified_symbols",
			Help:    "Number of symbols the error corrector left untouched per decoded packet",
			Buckets: prometheus.LinearBuckets(12, 1, 9), // 12 to 20
		}),
		MessagesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_messages_decoded_total",
			Help: "Total number of messages reassembled",
		}),
		MessagesAbandoned: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_messages_abandoned_total",
			Help: "Total number of partial messages dropped after a timeout or restart",
		}),
		MessageSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "modem_message_size_bytes",
			Help:    "Size of reassembled messages in bytes",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9), // 1 to 256 bytes
		}),

		// Carrier metrics
		CarrierWindows: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_carrier_windows_total",
			Help: "Total number of carrier detection windows processed",
		}),
		CarrierPresence: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_carrier_present_windows_total",
			Help: "Total number of carrier detection windows with signal present",
		}),

		// Sink metrics
		SinkDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modem_sink_deliveries_total",
			Help: "Total number of messages delivered",
		}, []string{"sink"}),
		SinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modem_sink_failures_total",
			Help: "Total number of failed deliveries",
		}, []string{"sink"}),
		SinkRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modem_sink_retries_total",
			Help: "Total number of delivery retries",
		}, []string{"sink"}),
		SinkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modem_sink_duration_seconds",
			Help:    "Duration of delivery attempts",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}, []string{"sink"}),
		DuplicatesSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_duplicates_suppressed_total",
			Help: "Total number of duplicate messages not delivered",
		}),
		SinkDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_sink_dropped_total",
			Help: "Total number of messages dropped because the delivery queue was full",
		}),

		// Recorder metrics
		RecorderWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_recorder_writes_total",
			Help: "Total number of messages archived",
		}),
		RecorderErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_recorder_errors_total",
			Help: "Total number of archive write failures",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modem_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modem_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modem_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler returns the HTTP handler exposing this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	m.PacketsProcessed.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// SetActiveStreams sets the current number of active streams
func (m *Metrics) SetActiveStreams(count int) {
	m.ActiveStreams.Set(float64(count))
}

// RecordStreamCreated increments the streams created counter
func (m *Metrics) RecordStreamCreated() {
	m.StreamsCreated.Inc()
}

// RecordStreamDestroyed increments the streams destroyed counter and records duration
func (m *Metrics) RecordStreamDestroyed(durationSeconds float64) {
	m.StreamsDestroyed.Inc()
	m.StreamDuration.Observe(durationSeconds)
}

// RecordFrames adds lost and late frame counts
func (m *Metrics) RecordFrames(lost, late uint64) {
	m.FramesLost.Add(float64(lost))
	m.FramesLate.Add(float64(late))
}

// DecoderDelta carries demodulator counter increments since the last report
type DecoderDelta struct {
	Samples             uint64
	Measurements        uint64
	CandidatesCompleted uint64
	CandidatesRejected  uint64
	SyncMismatches      uint64
	MessagesAbandoned   uint64
}

// RecordDecoder adds demodulator counter increments
func (m *Metrics) RecordDecoder(d DecoderDelta) {
	m.SamplesPushed.Add(float64(d.Samples))
	m.Measurements.Add(float64(d.Measurements))
	m.CandidatesCompleted.Add(float64(d.CandidatesCompleted))
	m.CandidatesRejected.Add(float64(d.CandidatesRejected))
	m.SyncMismatches.Add(float64(d.SyncMismatches))
	m.MessagesAbandoned.Add(float64(d.MessagesAbandoned))
}

// RecordPayload records a decoded payload and the number of untouched symbols
func (m *Metrics) RecordPayload(unmodified int) {
	m.PayloadsDecoded.Inc()
	m.PacketQuality.Observe(float64(unmodified))
}

// RecordMessage records a reassembled message
func (m *Metrics) RecordMessage(sizeBytes int) {
	m.MessagesDecoded.Inc()
	m.MessageSize.Observe(float64(sizeBytes))
}

// RecordCarrierWindow increments carrier windows processed and optionally present
func (m *Metrics) RecordCarrierWindow(present bool) {
	m.CarrierWindows.Inc()
	if present {
		m.CarrierPresence.Inc()
	}
}

// RecordSinkSuccess records a successful delivery
func (m *Metrics) RecordSinkSuccess(sink string, durationSeconds float64) {
	m.SinkDeliveries.WithLabelValues(sink).Inc()
	m.SinkDuration.WithLabelValues(sink).Observe(durationSeconds)
}

// RecordSinkFailure records a failed delivery
func (m *Metrics) RecordSinkFailure(sink string, durationSeconds float64) {
	m.SinkFailures.WithLabelValues(sink).Inc()
	m.SinkDuration.WithLabelValues(sink).Observe(durationSeconds)
}

// RecordSinkRetry increments the retry counter
func (m *Metrics) RecordSinkRetry(sink string) {
	m.SinkRetries.WithLabelValues(sink).Inc()
}

// RecordDuplicate increments the duplicates suppressed counter
func (m *Metrics) RecordDuplicate() {
	m.DuplicatesSuppressed.Inc()
}

// RecordSinkDropped increments the dropped deliveries counter
func (m *Metrics) RecordSinkDropped() {
	m.SinkDropped.Inc()
}

// RecordRecorderWrite records the outcome of an archive write
func (m *Metrics) RecordRecorderWrite(err error) {
	if err != nil {
		m.RecorderErrors.Inc()
		return
	}
	m.RecorderWrites.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
