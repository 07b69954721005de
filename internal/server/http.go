package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/skypro1111/acoustic-modem/internal/audio"
	"github.com/skypro1111/acoustic-modem/internal/config"
	"github.com/skypro1111/acoustic-modem/internal/message"
	"github.com/skypro1111/acoustic-modem/internal/metrics"
	"github.com/skypro1111/acoustic-modem/internal/modem"
	"github.com/skypro1111/acoustic-modem/internal/recorder"
	"github.com/skypro1111/acoustic-modem/internal/sink"
	"github.com/skypro1111/acoustic-modem/internal/stream"
)

const (
	defaultMessagesLimit = 50
	maxMessagesLimit     = 1000
	maxEncodeBody        = 4096
	defaultEncodeGap     = 0.5
)

// HTTPServer provides HTTP API endpoints for monitoring, history and encoding
type HTTPServer struct {
	server     *http.Server
	handler    http.Handler
	logger     *slog.Logger
	config     *config.Config
	streamMgr  *stream.Manager
	udpServer  *UDPServer
	dispatcher *sink.Dispatcher
	recorder   *recorder.Recorder
	metrics    *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. dispatcher and rec may be nil
// when no sinks or archive are configured.
func NewHTTPServer(logger *slog.Logger, appConfig *config.Config, streamMgr *stream.Manager,
	udpServer *UDPServer, dispatcher *sink.Dispatcher, rec *recorder.Recorder, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		streamMgr:  streamMgr,
		udpServer:  udpServer,
		dispatcher: dispatcher,
		recorder:   rec,
		metrics:    m,
		startTime:  time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Streams monitoring endpoints
	mux.HandleFunc("/streams", h.withMetrics("/streams", h.handleStreams))
	mux.HandleFunc("/streams/", h.withMetrics("/streams/{id}", h.handleStreamDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Decoded history and modulation
	mux.HandleFunc("/messages", h.withMetrics("/messages", h.handleMessages))
	mux.HandleFunc("/encode", h.withMetrics("/encode", h.handleEncode))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.Handler())
	}

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", slog.String("error", err.Error()))
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	managerStats := h.streamMgr.Stats()
	components := map[string]interface{}{
		"stream_manager": map[string]interface{}{
			"status":           "running",
			"active_streams":   managerStats.ActiveSessions,
			"payloads_decoded": managerStats.PayloadsDecoded,
			"messages_decoded": managerStats.MessagesDecoded,
		},
	}

	if h.udpServer != nil {
		udpStats := h.udpServer.GetStatistics()
		components["udp_server"] = map[string]interface{}{
			"status":            "running",
			"packets_received":  udpStats.PacketsReceived,
			"packets_processed": udpStats.PacketsProcessed,
			"parse_errors":      udpStats.ParseErrors,
			"queue_size":        udpStats.QueueSize,
		}
	}

	if h.dispatcher != nil {
		dispatcherStats := h.dispatcher.Stats()
		components["sinks"] = map[string]interface{}{
			"status":    "running",
			"sinks":     dispatcherStats.Sinks,
			"delivered": dispatcherStats.Delivered,
			"failed":    dispatcherStats.Failed,
		}
	}

	if h.recorder != nil {
		recorderStats := h.recorder.Stats()
		components["recorder"] = map[string]interface{}{
			"status": "running",
			"writes": recorderStats.Writes,
			"errors": recorderStats.Errors,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "acoustic-modem",
			"version": "1.0.0",
		},
		"components": components,
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleStreams implements the /streams endpoint
func (h *HTTPServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.streamMgr.GetAllSessions()
	sessionInfos := make([]stream.SessionInfo, 0, len(sessions))

	for _, session := range sessions {
		sessionInfos = append(sessionInfos, session.Info())
	}

	response := map[string]interface{}{
		"total_streams": len(sessionInfos),
		"timestamp":     time.Now().UTC(),
		"streams":       sessionInfos,
	}

	h.writeJSON(w, http.StatusOK, response)
}

// handleStreamDetail implements the /streams/{stream_id} endpoint
func (h *HTTPServer) handleStreamDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	streamIDStr := strings.TrimPrefix(r.URL.Path, "/streams/")
	if streamIDStr == "" {
		http.Error(w, "Stream ID required", http.StatusBadRequest)
		return
	}

	streamID, err := strconv.ParseUint(streamIDStr, 10, 32)
	if err != nil {
		http.Error(w, "Invalid stream ID", http.StatusBadRequest)
		return
	}

	session, exists := h.streamMgr.GetSession(uint32(streamID))
	if !exists {
		http.Error(w, "Stream not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, session.Info())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, h.config.Redacted())
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"streams":   h.streamMgr.Stats(),
	}
	if h.udpServer != nil {
		stats["udp"] = h.udpServer.GetStatistics()
	}
	if h.dispatcher != nil {
		stats["sinks"] = h.dispatcher.Stats()
	}
	if h.recorder != nil {
		rs := h.recorder.Stats()
		recorderStats := map[string]interface{}{
			"writes":    rs.Writes,
			"errors":    rs.Errors,
			"retention": rs.Retention,
		}
		if n, err := h.recorder.Count(r.Context()); err == nil {
			recorderStats["rows"] = n
		}
		stats["recorder"] = recorderStats
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleMessages implements the /messages endpoint backed by the recorder
func (h *HTTPServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.recorder == nil {
		http.Error(w, "Recorder disabled", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	limit := defaultMessagesLimit
	if s := query.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxMessagesLimit)
	}

	kind := query.Get("kind")
	if kind != "" && kind != sink.KindPayload && kind != sink.KindMessage {
		http.Error(w, "Invalid kind", http.StatusBadRequest)
		return
	}

	entries, err := h.recorder.Recent(r.Context(), limit, kind)
	if err != nil {
		h.logger.Error("Failed to query recorder", slog.String("error", err.Error()))
		http.Error(w, "Failed to query archive", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []recorder.Entry{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(entries),
		"timestamp": time.Now().UTC(),
		"messages":  entries,
	})
}

// handleEncode implements POST /encode. The body is the message; the
// response is the modulated audio as a WAV file. With ?payload=<mnemonics>
// a single raw payload is modulated instead.
func (h *HTTPServer) handleEncode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()

	sampleRate := h.config.Modem.SampleRate
	if s := query.Get("sample_rate"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, "Invalid sample_rate", http.StatusBadRequest)
			return
		}
		sampleRate = n
	}

	gap := defaultEncodeGap
	if s := query.Get("gap"); s != "" {
		g, err := strconv.ParseFloat(s, 64)
		if err != nil || !(g >= 0 && g <= message.MaxGap) {
			http.Error(w, fmt.Sprintf("Invalid gap: must be between 0 and %g seconds", message.MaxGap), http.StatusBadRequest)
			return
		}
		gap = g
	}

	tx, err := message.New(sampleRate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var transmissions []message.Transmission
	if mnemonics := query.Get("payload"); mnemonics != "" {
		payload, err := modem.ParsePayload(mnemonics)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		t, err := tx.Send(payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		transmissions = []message.Transmission{t}
	} else {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxEncodeBody))
		if err != nil {
			http.Error(w, "Failed to read body", http.StatusBadRequest)
			return
		}
		transmissions, err = tx.SendMessage(body)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, message.ErrMessageTooLong) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
	}

	samples := tx.Modulate(transmissions, gap)
	wav, err := audio.EncodeWAV(audio.FloatToPCM16(samples), sampleRate)
	if err != nil {
		h.logger.Error("Failed to encode WAV", slog.String("error", err.Error()))
		http.Error(w, "Failed to encode audio", http.StatusInternalServerError)
		return
	}

	h.logger.Debug("Encoded transmission",
		slog.Int("packets", len(transmissions)),
		slog.Int("samples", len(samples)),
		slog.Int("sample_rate", sampleRate),
	)

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.Header().Set("X-Modem-Packets", strconv.Itoa(len(transmissions)))
	w.WriteHeader(http.StatusOK)
	w.Write(wav)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Acoustic Modem Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                    "API documentation",
			"GET /health":              "Service health check",
			"GET /streams":             "List all active streams",
			"GET /streams/{stream_id}": "Get detailed stream information",
			"GET /config":              "Get service configuration",
			"GET /stats":               "Get service statistics",
			"GET /messages":            "Recently decoded payloads and messages (?limit=&kind=payload|message)",
			"POST /encode":             "Modulate the request body into a WAV file (?payload=&gap=&sample_rate=)",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}
