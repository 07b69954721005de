package stream

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skypro1111/acoustic-modem/internal/audio"
	"github.com/skypro1111/acoustic-modem/internal/carrier"
	"github.com/skypro1111/acoustic-modem/internal/message"
	"github.com/skypro1111/acoustic-modem/internal/metrics"
	"github.com/skypro1111/acoustic-modem/internal/sink"
)

// ErrLateFrame is returned for audio frames that arrive after their slot
var ErrLateFrame = audio.ErrLatePacket

// Session is one demodulated audio stream
type Session struct {
	ID         uint32
	SampleRate int
	StartTime  time.Time

	label        string
	lastSeen     time.Time
	buffer       *audio.Buffer
	receiver     *message.Transceiver
	carrier      *carrier.Detector
	lastStats    message.Stats
	lastBuffer   audio.BufferStats
	lastPayload  string
	lastMessage  string
	lastDecodeAt time.Time

	mu sync.Mutex
}

// processed is what one batch of audio produced
type processed struct {
	deliveries []*sink.Delivery
	delta      metrics.DecoderDelta
	carrier    []bool
	lost       uint64
	late       uint64
}

func newSession(streamID uint32, label string, sampleRate int, config ManagerConfig) (*Session, error) {
	receiver, err := message.New(sampleRate, message.WithMaxPacketGap(config.MaxPacketGap))
	if err != nil {
		return nil, fmt.Errorf("failed to create receiver: %w", err)
	}

	detector, err := carrier.NewDetector(config.CarrierThreshold, config.CarrierWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to create carrier detector: %w", err)
	}

	now := time.Now()
	return &Session{
		ID:         streamID,
		SampleRate: sampleRate,
		StartTime:  now,
		label:      label,
		lastSeen:   now,
		buffer:     audio.NewBuffer(streamID, sampleRate, config.MaxSequenceGap),
		receiver:   receiver,
		carrier:    detector,
	}, nil
}

func (s *Session) touch(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
	if label != "" {
		s.label = label
	}
}

func (s *Session) lastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Label returns the stream label from the start frame
func (s *Session) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label
}

// process reorders one frame and demodulates every sample that became
// contiguous. Late frames are counted and reported as ErrLateFrame.
func (s *Session) process(sequence uint32, data []byte) (processed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeen = time.Now()
	err := s.buffer.AddAudioData(sequence, data)
	out := s.demodulate(false)
	if err != nil && !errors.Is(err, ErrLateFrame) {
		return out, fmt.Errorf("failed to buffer audio: %w", err)
	}
	return out, err
}

// flush releases frames still waiting for a gap to fill and the packet the
// receiver holds back for arbitration
func (s *Session) flush() processed {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer.Flush()
	return s.demodulate(true)
}

// demodulate drains the buffer through the carrier detector and receiver.
// With tail set the receiver is flushed afterwards. s.mu must be held.
func (s *Session) demodulate(tail bool) processed {
	var out processed

	samples := s.buffer.Drain()
	for _, r := range s.carrier.Write(samples) {
		out.carrier = append(out.carrier, r.Present)
	}

	for _, sample := range samples {
		s.deliver(&out, s.receiver.PushSample(sample))
	}
	if tail {
		s.deliver(&out, s.receiver.Flush())
	}

	stats := s.receiver.Stats()
	out.delta = metrics.DecoderDelta{
		Samples:             stats.Samples - s.lastStats.Samples,
		Measurements:        stats.Measurements - s.lastStats.Measurements,
		CandidatesCompleted: stats.CandidatesCompleted - s.lastStats.CandidatesCompleted,
		CandidatesRejected:  stats.CandidatesRejected - s.lastStats.CandidatesRejected,
		SyncMismatches:      stats.SyncMismatches - s.lastStats.SyncMismatches,
		MessagesAbandoned:   stats.MessagesAbandoned - s.lastStats.MessagesAbandoned,
	}
	s.lastStats = stats

	buf := s.buffer.GetStats()
	out.lost = uint64(buf.LostPackets - s.lastBuffer.LostPackets)
	out.late = uint64(buf.LatePackets - s.lastBuffer.LatePackets)
	s.lastBuffer = buf

	return out
}

// deliver turns a receiver event into a delivery; s.mu must be held
func (s *Session) deliver(out *processed, ev message.Event) {
	if ev.Kind == message.EventNone {
		return
	}
	d := sink.NewDelivery(s.ID, s.label, ev, time.Now())
	out.deliveries = append(out.deliveries, d)

	s.lastPayload = d.Payload
	s.lastDecodeAt = d.DecodedAt
	if d.Kind == sink.KindMessage {
		s.lastMessage = d.Text
		if d.Text == "" {
			s.lastMessage = fmt.Sprintf("%x", d.Message)
		}
	}
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	StreamID     uint32        `json:"stream_id"`
	Label        string        `json:"label"`
	SampleRate   int           `json:"sample_rate"`
	StartTime    time.Time     `json:"start_time"`
	LastActivity time.Time     `json:"last_activity"`
	Duration     time.Duration `json:"duration"`

	Buffer  audio.BufferStats `json:"buffer"`
	Carrier carrier.Stats     `json:"carrier"`

	// Receiver statistics
	Samples             uint64  `json:"samples"`
	Measurements        uint64  `json:"measurements"`
	CandidatesCompleted uint64  `json:"candidates_completed"`
	CandidatesRejected  uint64  `json:"candidates_rejected"`
	SyncMismatches      uint64  `json:"sync_mismatches"`
	WinnersReplaced     uint64  `json:"winners_replaced"`
	PayloadsDecoded     uint64  `json:"payloads_decoded"`
	MessagesDecoded     uint64  `json:"messages_decoded"`
	MessagesAbandoned   uint64  `json:"messages_abandoned"`
	PaddingViolations   uint64  `json:"padding_violations"`
	LastSNR             float64 `json:"last_snr"`
	LastUnmodified      int     `json:"last_unmodified"`

	LastPayload  string    `json:"last_payload,omitempty"`
	LastMessage  string    `json:"last_message,omitempty"`
	LastDecodeAt time.Time `json:"last_decode_at,omitempty"`
}

// Info returns a snapshot of the session
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.receiver.Stats()
	return SessionInfo{
		StreamID:     s.ID,
		Label:        s.label,
		SampleRate:   s.SampleRate,
		StartTime:    s.StartTime,
		LastActivity: s.lastSeen,
		Duration:     time.Since(s.StartTime),

		Buffer:  s.buffer.GetStats(),
		Carrier: s.carrier.GetStats(),

		Samples:             stats.Samples,
		Measurements:        stats.Measurements,
		CandidatesCompleted: stats.CandidatesCompleted,
		CandidatesRejected:  stats.CandidatesRejected,
		SyncMismatches:      stats.SyncMismatches,
		WinnersReplaced:     stats.WinnersReplaced,
		PayloadsDecoded:     stats.PayloadsDecoded,
		MessagesDecoded:     stats.MessagesDecoded,
		MessagesAbandoned:   stats.MessagesAbandoned,
		PaddingViolations:   stats.PaddingViolations,
		LastSNR:             sink.Finite(stats.LastSNR),
		LastUnmodified:      stats.LastQuality.Unmodified,

		LastPayload:  s.lastPayload,
		LastMessage:  s.lastMessage,
		LastDecodeAt: s.lastDecodeAt,
	}
}
