package message

import (
	"github.com/skypro1111/acoustic-modem/internal/modem"
)

// DefaultMaxPacketGap is the default silence allowed between two packets of a
// message, in measurement ticks: one packet duration.
const DefaultMaxPacketGap = modem.PacketLen * modem.MeasurementsPerSymbol

// ReassemblerStats counts reassembly outcomes
type ReassemblerStats struct {
	MessagesDecoded    uint64 `json:"messages_decoded"`
	MessagesAbandoned  uint64 `json:"messages_abandoned"`
	PaddingViolations  uint64 `json:"padding_violations"`
	StrayContinuations uint64 `json:"stray_continuations"`
	Restarts           uint64 `json:"restarts"`
}

// Reassembler rebuilds messages from decoded payloads.
//
// Time is measured in caller-supplied ticks; the modem's measurement count is
// the natural clock since it advances at a fixed rate with the audio.
type Reassembler struct {
	timeout uint64

	bits     []bool
	scratch  []bool
	lastSeen uint64

	stats ReassemblerStats
}

// NewReassembler creates a reassembler that abandons a partial message when
// more than maxPacketGap ticks of silence follow a packet.
func NewReassembler(maxPacketGap int) *Reassembler {
	if maxPacketGap < 0 {
		maxPacketGap = 0
	}
	maxBits := (MaxMessageLen+1)*8 + BitsPerPayload
	return &Reassembler{
		timeout: uint64(modem.PacketLen*modem.MeasurementsPerSymbol + maxPacketGap),
		bits:    make([]bool, 0, maxBits),
		scratch: make([]bool, 0, modem.PayloadLen*modem.SymbolBits),
	}
}

// Timeout returns the tick count after which a partial message goes stale
func (r *Reassembler) Timeout() uint64 {
	return r.timeout
}

// Active reports whether a message is partially assembled
func (r *Reassembler) Active() bool {
	return len(r.bits) > 0
}

// Push adds a payload received at tick now. It returns the message when the
// payload completes one.
func (r *Reassembler) Push(p modem.Payload, now uint64) ([]byte, bool) {
	bits := payloadBits(p, r.scratch[:0])

	switch {
	case bits[0]:
		if r.Active() {
			r.stats.Restarts++
		}
		r.bits = r.bits[:0]
	case !r.Active():
		r.stats.StrayContinuations++
		return nil, false
	case now-r.lastSeen > r.timeout:
		r.stats.MessagesAbandoned++
		r.bits = r.bits[:0]
		return nil, false
	}

	r.lastSeen = now
	r.bits = append(r.bits, bits[1:]...)

	// Bytes at and beyond the declared length must be zero padding
	var msg []byte
	declared := -1
	for i := 0; i+8 <= len(r.bits); i += 8 {
		var b byte
		for j := 0; j < 8; j++ {
			if r.bits[i+j] {
				b |= 1 << (7 - j)
			}
		}
		switch {
		case i == 0:
			declared = int(b)
			msg = make([]byte, 0, declared)
		case len(msg) >= declared:
			if b != 0 {
				r.stats.PaddingViolations++
				r.bits = r.bits[:0]
				return nil, false
			}
		default:
			msg = append(msg, b)
		}
	}

	if declared < 0 || len(msg) < declared {
		return nil, false
	}

	r.bits = r.bits[:0]
	r.stats.MessagesDecoded++
	return msg, true
}

// Reset drops any partial message
func (r *Reassembler) Reset() {
	r.bits = r.bits[:0]
}

// Stats returns a snapshot of the counters
func (r *Reassembler) Stats() ReassemblerStats {
	return r.stats
}
