package modem

import (
	"github.com/skypro1111/acoustic-modem/internal/fec"
)

// Quality ranks decoded candidates. Fewer corrections win first,
// then the stronger signal.
type Quality struct {
	Unmodified int     // symbols left untouched by error correction
	SNRSum     float64 // sum of per-symbol SNR across the packet
}

// Better reports whether q strictly outranks other
func (q Quality) Better(other Quality) bool {
	if q.Unmodified != other.Unmodified {
		return q.Unmodified > other.Unmodified
	}
	return q.SNRSum > other.SNRSum
}

// Decoded is a packet emitted by the synchronizer
type Decoded struct {
	Payload Payload
	Quality Quality
}

// SyncStats counts synchronizer outcomes
type SyncStats struct {
	CandidatesCompleted uint64 `json:"candidates_completed"`
	CandidatesRejected  uint64 `json:"candidates_rejected"`
	SyncMismatches      uint64 `json:"sync_mismatches"`
	WinnersReplaced     uint64 `json:"winners_replaced"`
	PacketsEmitted      uint64 `json:"packets_emitted"`
}

// candidate is one phase hypothesis
type candidate struct {
	symbols [PacketLen]Symbol
	filled  int
	active  bool
	snrSum  float64
}

// Synchronizer runs a packet decode at every measurement offset and
// arbitrates among candidates that survive error correction.
type Synchronizer struct {
	codec  *fec.Codec
	slots  [RingSize]candidate
	cursor int

	hasWinner bool
	winner    Decoded
	winnerAge int

	stats SyncStats
}

// NewSynchronizer creates a synchronizer using codec for packet correction
func NewSynchronizer(codec *fec.Codec) *Synchronizer {
	return &Synchronizer{codec: codec}
}

// wrap maps any index into [0, n)
func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// Push feeds one detected symbol. It returns a packet once the arbitration
// window of the first valid candidate has closed.
func (s *Synchronizer) Push(symbol Symbol, snr float64) (Decoded, bool) {
	// Open a hypothesis starting at this measurement
	s.slots[s.cursor] = candidate{active: true}

	// Every hypothesis whose phase matches this measurement takes the symbol
	for k := 0; k < PacketLen; k++ {
		c := &s.slots[wrap(s.cursor+k*MeasurementsPerSymbol, RingSize)]
		if !c.active || c.filled >= PacketLen {
			continue
		}
		c.symbols[c.filled] = symbol
		c.filled++
		c.snrSum += snr
	}

	completedPos := wrap(s.cursor+MeasurementsPerSymbol, RingSize)
	s.cursor = wrap(s.cursor+1, RingSize)

	if c := &s.slots[completedPos]; c.active && c.filled == PacketLen {
		c.active = false
		s.evaluate(completedPos, c)
	}

	// Hold the winner until every overlapping hypothesis has completed
	if s.hasWinner {
		s.winnerAge++
		if s.winnerAge == MeasurementsPerSymbol {
			s.hasWinner = false
			s.stats.PacketsEmitted++
			return s.winner, true
		}
	}
	return Decoded{}, false
}

func (s *Synchronizer) evaluate(pos int, c *candidate) {
	s.stats.CandidatesCompleted++

	var received [PacketLen]byte
	for i, sym := range c.symbols {
		received[i] = byte(sym)
	}

	corrected, err := s.codec.Correct(received[:])
	if err != nil {
		s.stats.CandidatesRejected++
		return
	}
	for i, sync := range SyncSymbols {
		if Symbol(corrected[i]) != sync {
			s.stats.SyncMismatches++
			return
		}
	}

	quality := Quality{SNRSum: c.snrSum}
	for i := range received {
		if corrected[i] == received[i] {
			quality.Unmodified++
		}
	}

	if !s.hasWinner || quality.Better(s.winner.Quality) {
		if s.hasWinner {
			s.stats.WinnersReplaced++
		}
		for i := range s.winner.Payload {
			s.winner.Payload[i] = Symbol(corrected[SyncLen+i])
		}
		s.winner.Quality = quality
	}

	if !s.hasWinner {
		s.hasWinner = true
		s.winnerAge = 0
		// Only the hypotheses one measurement behind this one can still
		// capture the same packet; everything else overlaps it and is dropped.
		for i := MeasurementsPerSymbol; i < RingSize; i++ {
			s.slots[wrap(pos+i, RingSize)].active = false
		}
	}
}

// Pending reports whether a winner is waiting for its window to close
func (s *Synchronizer) Pending() bool {
	return s.hasWinner
}

// Stats returns a snapshot of the counters
func (s *Synchronizer) Stats() SyncStats {
	return s.stats
}

// Reset drops every hypothesis and any pending winner
func (s *Synchronizer) Reset() {
	*s = Synchronizer{codec: s.codec, stats: s.stats}
}
