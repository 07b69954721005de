package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/acoustic-modem/internal/metrics"
	"github.com/skypro1111/acoustic-modem/internal/modem"
	"github.com/skypro1111/acoustic-modem/internal/protocol"
	"github.com/skypro1111/acoustic-modem/internal/sink"
)

// ErrTooManyStreams is returned when a new stream would exceed the session limit
var ErrTooManyStreams = errors.New("stream: too many concurrent streams")

// Dispatcher accepts decoded deliveries without blocking
type Dispatcher interface {
	Submit(d *sink.Delivery) bool
}

// Archive stores decoded deliveries
type Archive interface {
	Record(ctx context.Context, d *sink.Delivery) error
}

// ManagerConfig contains configuration for the stream manager
type ManagerConfig struct {
	DefaultSampleRate int           // used for audio that arrives without a start frame
	MaxPacketGap      int           // measurements, see message.WithMaxPacketGap
	MaxSequenceGap    uint32        // frames to wait for before concealing
	MaxStreams        int           // 0 means unlimited
	Timeout           time.Duration // idle time before a session expires
	CleanupInterval   time.Duration
	CarrierThreshold  float32
	CarrierWindow     int
	ArchiveTimeout    time.Duration
}

// ManagerStats represents manager-wide counters
type ManagerStats struct {
	ActiveSessions  int    `json:"active_sessions"`
	SessionsCreated uint64 `json:"sessions_created"`
	SessionsRemoved uint64 `json:"sessions_removed"`
	SessionsExpired uint64 `json:"sessions_expired"`
	PayloadsDecoded uint64 `json:"payloads_decoded"`
	MessagesDecoded uint64 `json:"messages_decoded"`
	LateFrames      uint64 `json:"late_frames"`
}

// Manager owns one demodulating session per stream ID
type Manager struct {
	sessions map[uint32]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	config   ManagerConfig

	dispatcher Dispatcher
	archive    Archive
	metrics    *metrics.Metrics

	// Counters
	statsMu         sync.Mutex
	sessionsCreated uint64
	sessionsRemoved uint64
	sessionsExpired uint64
	payloadsDecoded uint64
	messagesDecoded uint64
	lateFrames      uint64

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a stream manager and starts its cleanup routine.
// dispatcher, archive and m may be nil.
func NewManager(logger *slog.Logger, config ManagerConfig, dispatcher Dispatcher, archive Archive, m *metrics.Metrics) (*Manager, error) {
	if err := modem.ValidateSampleRate(config.DefaultSampleRate); err != nil {
		return nil, fmt.Errorf("invalid default sample rate: %w", err)
	}
	if config.MaxPacketGap < 0 {
		return nil, fmt.Errorf("max packet gap cannot be negative, got %d", config.MaxPacketGap)
	}
	if config.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", config.Timeout)
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 30 * time.Second
	}
	if config.ArchiveTimeout <= 0 {
		config.ArchiveTimeout = 5 * time.Second
	}

	// Fail early on carrier settings rather than on the first stream
	if _, err := newSession(0, "", config.DefaultSampleRate, config); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		sessions:   make(map[uint32]*Session),
		logger:     logger,
		config:     config,
		dispatcher: dispatcher,
		archive:    archive,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		cleanup:    make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// HandleStart creates or refreshes the session announced by a start frame.
// A start frame with a different sample rate replaces the session.
func (m *Manager) HandleStart(streamID uint32, start *protocol.StartPayload) (*Session, error) {
	sampleRate := int(start.SampleRate)
	if sampleRate == 0 {
		sampleRate = m.config.DefaultSampleRate
	}
	label := start.GetLabel()

	// Checked before an existing session is replaced
	if err := modem.ValidateSampleRate(sampleRate); err != nil {
		return nil, fmt.Errorf("stream %d: %w", streamID, err)
	}

	m.mu.Lock()
	if existing, ok := m.sessions[streamID]; ok {
		if existing.SampleRate == sampleRate {
			existing.touch(label)
			m.mu.Unlock()

			m.logger.Info("Stream restarted, keeping session",
				slog.Uint64("stream_id", uint64(streamID)),
				slog.String("label", label),
			)
			return existing, nil
		}
		delete(m.sessions, streamID)
		m.mu.Unlock()

		m.finalize(existing, "sample rate changed")
		m.mu.Lock()
	}

	session, err := m.createLocked(streamID, label, sampleRate)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.logger.Info("Created stream session",
		slog.Uint64("stream_id", uint64(streamID)),
		slog.String("label", label),
		slog.Int("sample_rate", sampleRate),
	)
	return session, nil
}

// createLocked builds and registers a session; m.mu must be held
func (m *Manager) createLocked(streamID uint32, label string, sampleRate int) (*Session, error) {
	if m.config.MaxStreams > 0 && len(m.sessions) >= m.config.MaxStreams {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManyStreams, m.config.MaxStreams)
	}

	session, err := newSession(streamID, label, sampleRate, m.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create session %d: %w", streamID, err)
	}
	m.sessions[streamID] = session

	m.statsMu.Lock()
	m.sessionsCreated++
	m.statsMu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordStreamCreated()
		m.metrics.SetActiveStreams(len(m.sessions))
	}
	return session, nil
}

// HandleAudio feeds one audio frame to its session, creating the session with
// the default sample rate when no start frame was seen.
func (m *Manager) HandleAudio(streamID uint32, payload *protocol.AudioPayload) error {
	session, err := m.getOrCreate(streamID)
	if err != nil {
		return err
	}

	out, err := session.process(payload.Sequence, payload.AudioData)
	m.publish(session, out)
	if err != nil {
		if errors.Is(err, ErrLateFrame) {
			m.statsMu.Lock()
			m.lateFrames++
			m.statsMu.Unlock()
		}
		return fmt.Errorf("stream %d: %w", streamID, err)
	}
	return nil
}

func (m *Manager) getOrCreate(streamID uint32) (*Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[streamID]
	m.mu.RUnlock()
	if ok {
		return session, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[streamID]; ok {
		return session, nil
	}
	session, err := m.createLocked(streamID, "", m.config.DefaultSampleRate)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Created stream session from audio without start frame",
		slog.Uint64("stream_id", uint64(streamID)),
		slog.Int("sample_rate", m.config.DefaultSampleRate),
	)
	return session, nil
}

// HandleEnd flushes and removes a session. It reports whether the stream existed.
func (m *Manager) HandleEnd(streamID uint32) bool {
	m.mu.Lock()
	session, ok := m.sessions[streamID]
	if ok {
		delete(m.sessions, streamID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.finalize(session, "end of stream")
	return true
}

// finalize drains a session that is no longer registered
func (m *Manager) finalize(session *Session, reason string) {
	m.publish(session, session.flush())

	m.statsMu.Lock()
	m.sessionsRemoved++
	m.statsMu.Unlock()

	info := session.Info()
	if m.metrics != nil {
		m.metrics.RecordStreamDestroyed(info.Duration.Seconds())
		m.metrics.SetActiveStreams(m.GetActiveSessionCount())
	}

	m.logger.Info("Stream session removed",
		slog.Uint64("stream_id", uint64(session.ID)),
		slog.String("label", info.Label),
		slog.String("reason", reason),
		slog.Duration("duration", info.Duration),
		slog.Uint64("payloads", info.PayloadsDecoded),
		slog.Uint64("messages", info.MessagesDecoded),
		slog.Uint64("lost_frames", uint64(info.Buffer.LostPackets)),
	)
}

// publish forwards decoded deliveries and metric increments
func (m *Manager) publish(session *Session, out processed) {
	if m.metrics != nil {
		m.metrics.RecordDecoder(out.delta)
		m.metrics.RecordFrames(out.lost, out.late)
		for _, present := range out.carrier {
			m.metrics.RecordCarrierWindow(present)
		}
	}

	for _, d := range out.deliveries {
		m.statsMu.Lock()
		m.payloadsDecoded++
		if d.Kind == sink.KindMessage {
			m.messagesDecoded++
		}
		m.statsMu.Unlock()

		if m.metrics != nil {
			m.metrics.RecordPayload(d.Unmodified)
			if d.Kind == sink.KindMessage {
				m.metrics.RecordMessage(len(d.Message))
			}
		}

		if d.Kind == sink.KindMessage {
			m.logger.Info("Message decoded",
				slog.Uint64("stream_id", uint64(session.ID)),
				slog.String("label", d.Label),
				slog.Int("length", len(d.Message)),
				slog.String("text", d.Text),
				slog.Int("unmodified", d.Unmodified),
			)
		} else {
			m.logger.Debug("Payload decoded",
				slog.Uint64("stream_id", uint64(session.ID)),
				slog.String("payload", d.Payload),
				slog.Int("unmodified", d.Unmodified),
			)
		}

		if m.archive != nil {
			ctx, cancel := context.WithTimeout(m.ctx, m.config.ArchiveTimeout)
			err := m.archive.Record(ctx, d)
			cancel()
			if m.metrics != nil {
				m.metrics.RecordRecorderWrite(err)
			}
			if err != nil {
				m.logger.Error("Failed to archive delivery",
					slog.Uint64("stream_id", uint64(session.ID)),
					slog.String("error", err.Error()),
				)
			}
		}

		if m.dispatcher != nil {
			m.dispatcher.Submit(d)
		}
	}
}

// GetSession retrieves an existing stream session
func (m *Manager) GetSession(streamID uint32) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[streamID]
	return session, exists
}

// GetActiveSessionCount returns the number of currently active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions (for monitoring)
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}

	return sessions
}

// Stats returns manager-wide counters
func (m *Manager) Stats() ManagerStats {
	active := m.GetActiveSessionCount()

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return ManagerStats{
		ActiveSessions:  active,
		SessionsCreated: m.sessionsCreated,
		SessionsRemoved: m.sessionsRemoved,
		SessionsExpired: m.sessionsExpired,
		PayloadsDecoded: m.payloadsDecoded,
		MessagesDecoded: m.messagesDecoded,
		LateFrames:      m.lateFrames,
	}
}

// Stop finalizes every session and stops the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping stream manager...")

	m.cancel()
	<-m.cleanup

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[uint32]*Session)
	m.mu.Unlock()

	for _, session := range sessions {
		m.finalize(session, "shutdown")
	}

	stats := m.Stats()
	m.logger.Info("Stream manager stopped",
		slog.Uint64("sessions_created", stats.SessionsCreated),
		slog.Uint64("payloads_decoded", stats.PayloadsDecoded),
		slog.Uint64("messages_decoded", stats.MessagesDecoded),
	)
}

// startCleanupRoutine runs in a separate goroutine to clean up expired sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Stream cleanup routine started",
		slog.Duration("timeout", m.config.Timeout),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Stream cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions(time.Now())
		}
	}
}

// cleanupExpiredSessions removes sessions that have been inactive for too long
func (m *Manager) cleanupExpiredSessions(now time.Time) int {
	m.mu.Lock()
	var expired []*Session
	for streamID, session := range m.sessions {
		if now.Sub(session.lastActivity()) > m.config.Timeout {
			expired = append(expired, session)
			delete(m.sessions, streamID)
		}
	}
	m.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}

	m.logger.Info("Cleaning up expired sessions",
		slog.Int("expired_count", len(expired)),
	)

	m.statsMu.Lock()
	m.sessionsExpired += uint64(len(expired))
	m.statsMu.Unlock()

	for _, session := range expired {
		m.finalize(session, "idle timeout")
	}
	return len(expired)
}
