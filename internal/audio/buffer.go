package audio

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/skypro1111/acoustic-modem/internal/modem"
)

// ErrLatePacket is returned for frames that arrive after their slot was
// already played out or concealed.
var ErrLatePacket = errors.New("audio: late or duplicate packet")

// DefaultMaxGap is the number of missing frames to wait for before they are
// declared lost.
const DefaultMaxGap = 20

// MaxConcealment is the longest silence, in seconds, substituted for one run
// of lost frames. One packet is enough to close the receiver's arbitration
// window; longer runs only resync the sequence.
const MaxConcealment = modem.PacketLen * modem.BeepTime

// Buffer reorders the PCM frames of one stream and hands out contiguous
// samples. Frames that never arrive are replaced by silence of the previous
// frame's length, up to MaxConcealment per run, so the receiver downstream
// keeps its sample timing.
type Buffer struct {
	streamID     uint32
	sampleRate   int
	concealLimit uint64

	// Samples ready for the receiver
	ready []int16

	// Sequence tracking
	started     bool
	lastSeq     uint32
	expectedSeq uint32
	seqBuffer   map[uint32][]int16
	maxGap      uint32
	frameLen    int
	lateRun     uint32

	// Statistics
	lastUpdate       time.Time
	totalPackets     uint32
	lostCount        uint64
	lateCount        uint32
	resyncs          uint32
	concealedSamples uint64

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	StreamID         uint32  `json:"stream_id"`
	TotalPackets     uint32  `json:"total_packets"`
	LostPackets      uint64  `json:"lost_packets"`
	LatePackets      uint32  `json:"late_packets"`
	Resyncs          uint32  `json:"resyncs"`
	LossRate         float64 `json:"loss_rate"`
	ConcealedSamples uint64  `json:"concealed_samples"`
	ReadySamples     int     `json:"ready_samples"`
	PendingSeqs      int     `json:"pending_sequences"`
	LastSequence     uint32  `json:"last_sequence"`
}

// NewBuffer creates a reordering buffer. A maxGap of zero selects DefaultMaxGap.
func NewBuffer(streamID uint32, sampleRate int, maxGap uint32) *Buffer {
	if maxGap == 0 {
		maxGap = DefaultMaxGap
	}
	return &Buffer{
		streamID:     streamID,
		sampleRate:   sampleRate,
		concealLimit: uint64(math.Ceil(MaxConcealment * float64(sampleRate))),
		ready:        make([]int16, 0, sampleRate), // one second
		seqBuffer:    make(map[uint32][]int16),
		maxGap:       maxGap,
		lastUpdate:   time.Now(),
	}
}

// AddAudioData adds one little-endian PCM16 frame
func (b *Buffer) AddAudioData(sequence uint32, rawData []byte) error {
	samples, err := BytesToPCM16(rawData)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastUpdate = time.Now()
	b.totalPackets++

	// A sender that keeps writing below the expected sequence has restarted
	// or the expected sequence came from a stray frame: follow the sender.
	if b.started && sequence < b.expectedSeq && b.lateRun >= b.maxGap {
		b.resync()
	}

	if !b.started {
		b.started = true
		b.expectedSeq = sequence
		b.lastSeq = sequence - 1
	}

	switch {
	case sequence == b.expectedSeq:
		b.lateRun = 0
		b.emit(sequence, samples)
		b.processBuffered()

	case sequence > b.expectedSeq:
		if _, dup := b.seqBuffer[sequence]; dup {
			b.lateCount++
			return fmt.Errorf("%w: seq=%d already buffered", ErrLatePacket, sequence)
		}
		b.lateRun = 0
		b.seqBuffer[sequence] = samples

		// Give up on the missing frames once the gap grows too large
		if sequence-b.expectedSeq > b.maxGap {
			b.releaseUntil(sequence)
		}

	default:
		b.lateCount++
		b.lateRun++
		return fmt.Errorf("%w: seq=%d, lastSeq=%d", ErrLatePacket, sequence, b.lastSeq)
	}

	return nil
}

// resync plays out what is buffered and re-anchors on the next frame
func (b *Buffer) resync() {
	if len(b.seqBuffer) > 0 {
		b.releaseUntil(b.highestBuffered() + 1)
	}
	b.started = false
	b.lateRun = 0
	b.resyncs++
}

// emit appends a frame in order
func (b *Buffer) emit(sequence uint32, samples []int16) {
	b.ready = append(b.ready, samples...)
	if len(samples) > 0 {
		b.frameLen = len(samples)
	}
	b.lastSeq = sequence
	b.expectedSeq = sequence + 1
}

// conceal declares every frame from the expected sequence up to end lost and
// substitutes at most concealLimit samples of silence for the run
func (b *Buffer) conceal(end uint32) {
	if end <= b.expectedSeq {
		return
	}
	missing := end - b.expectedSeq
	silence := min(uint64(missing)*uint64(b.frameLen), b.concealLimit)

	b.lostCount += uint64(missing)
	b.concealedSamples += silence
	b.ready = append(b.ready, make([]int16, silence)...)
	b.lastSeq = end - 1
	b.expectedSeq = end
}

// processBuffered drains consecutive buffered frames
func (b *Buffer) processBuffered() {
	for {
		samples, ok := b.seqBuffer[b.expectedSeq]
		if !ok {
			return
		}
		delete(b.seqBuffer, b.expectedSeq)
		b.emit(b.expectedSeq, samples)
	}
}

// releaseUntil plays out every slot below end, concealing holes. It walks
// the buffered sequences rather than every number in between.
func (b *Buffer) releaseUntil(end uint32) {
	seqs := make([]uint32, 0, len(b.seqBuffer))
	for seq := range b.seqBuffer {
		if seq < end {
			seqs = append(seqs, seq)
		}
	}
	slices.Sort(seqs)

	for _, seq := range seqs {
		b.conceal(seq)
		samples := b.seqBuffer[seq]
		delete(b.seqBuffer, seq)
		b.emit(seq, samples)
	}
	b.conceal(end)
	b.processBuffered()
}

func (b *Buffer) highestBuffered() uint32 {
	highest := b.expectedSeq
	for seq := range b.seqBuffer {
		if seq > highest {
			highest = seq
		}
	}
	return highest
}

// Flush releases every buffered frame, concealing holes between them.
// It is used when the stream ends.
func (b *Buffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.seqBuffer) == 0 {
		return
	}
	b.releaseUntil(b.highestBuffered() + 1)
}

// Drain returns the in-order samples accumulated so far, normalized to [-1, 1]
func (b *Buffer) Drain() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.ready) == 0 {
		return nil
	}
	out := PCM16ToFloat(b.ready)
	b.ready = b.ready[:0]
	return out
}

// GetStats returns current buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lossRate := float64(0)
	if b.totalPackets > 0 {
		lossRate = float64(b.lostCount) / (float64(b.totalPackets) + float64(b.lostCount)) * 100
	}

	return BufferStats{
		StreamID:         b.streamID,
		TotalPackets:     b.totalPackets,
		LostPackets:      b.lostCount,
		LatePackets:      b.lateCount,
		Resyncs:          b.resyncs,
		LossRate:         lossRate,
		ConcealedSamples: b.concealedSamples,
		ReadySamples:     len(b.ready),
		PendingSeqs:      len(b.seqBuffer),
		LastSequence:     b.lastSeq,
	}
}

// GetStreamID returns the stream ID for this buffer
func (b *Buffer) GetStreamID() uint32 {
	return b.streamID
}

// SampleRate returns the stream's sample rate
func (b *Buffer) SampleRate() int {
	return b.sampleRate
}

// GetLastUpdate returns the time of the last buffer update
func (b *Buffer) GetLastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}
