package message

import (
	"fmt"
	"math"

	"github.com/skypro1111/acoustic-modem/internal/modem"
)

// EventKind tells what a call to PushSample produced
type EventKind int

const (
	EventNone EventKind = iota
	EventPayload
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventPayload:
		return "payload"
	case EventMessage:
		return "message"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is the outcome of one pushed sample. A message event also carries
// the payload that completed it.
type Event struct {
	Kind    EventKind
	Payload modem.Payload
	Message []byte
	Quality modem.Quality
}

// Transmission is one packet ready to be played
type Transmission struct {
	Payload     modem.Payload
	Frequencies [modem.PacketLen]float64
}

// Stats combines receiver and reassembly counters
type Stats struct {
	modem.Stats
	ReassemblerStats
	PayloadsDecoded uint64 `json:"payloads_decoded"`
}

// Option configures a Transceiver
type Option func(*options)

type options struct {
	maxPacketGap int
}

// WithMaxPacketGap sets the silence tolerated between packets of one
// message, in measurement ticks.
func WithMaxPacketGap(measurements int) Option {
	return func(o *options) {
		o.maxPacketGap = measurements
	}
}

// Transceiver sends and receives whole messages through a modem.Transceiver
type Transceiver struct {
	modem       *modem.Transceiver
	reassembler *Reassembler
	payloads    uint64
}

// New creates a message transceiver for the given sample rate
func New(sampleRate int, opts ...Option) (*Transceiver, error) {
	o := options{maxPacketGap: DefaultMaxPacketGap}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxPacketGap < 0 {
		return nil, fmt.Errorf("max packet gap must be non-negative, got %d", o.maxPacketGap)
	}

	m, err := modem.New(sampleRate)
	if err != nil {
		return nil, err
	}

	return &Transceiver{
		modem:       m,
		reassembler: NewReassembler(o.maxPacketGap),
	}, nil
}

// SampleRate returns the configured sample rate in Hz
func (t *Transceiver) SampleRate() int {
	return t.modem.SampleRate()
}

// Send prepares a single raw payload
func (t *Transceiver) Send(p modem.Payload) (Transmission, error) {
	freqs, err := t.modem.Send(p)
	if err != nil {
		return Transmission{}, err
	}
	return Transmission{Payload: p, Frequencies: freqs}, nil
}

// SendMessage prepares every packet of msg. Nothing is returned when msg is
// too long.
func (t *Transceiver) SendMessage(msg []byte) ([]Transmission, error) {
	payloads, err := EncodeMessage(msg)
	if err != nil {
		return nil, err
	}

	out := make([]Transmission, 0, len(payloads))
	for _, p := range payloads {
		tx, err := t.Send(p)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare packet %d: %w", len(out), err)
		}
		out = append(out, tx)
	}
	return out, nil
}

// MaxGap is the longest silence, in seconds, Modulate inserts after a packet
const MaxGap = 10.0

// Modulate renders transmissions as audio, inserting gap seconds of silence
// after each packet. The gap is clamped to [0, MaxGap].
func (t *Transceiver) Modulate(txs []Transmission, gap float64) []float32 {
	sampleRate := t.modem.SampleRate()
	beepLen := int(math.Round(modem.BeepTime * float64(sampleRate)))
	gapLen := 0
	if gap > 0 {
		gapLen = int(math.Round(math.Min(gap, MaxGap) * float64(sampleRate)))
	}

	samples := make([]float32, 0, len(txs)*(modem.PacketLen*beepLen+gapLen))
	for _, tx := range txs {
		for _, f := range tx.Frequencies {
			samples = append(samples, modem.GenerateBeep(f, sampleRate)...)
		}
		samples = append(samples, make([]float32, gapLen)...)
	}
	return samples
}

// PushSample feeds one audio sample and reports at most one event
func (t *Transceiver) PushSample(sample float32) Event {
	p, ok := t.modem.PushSample(sample)
	if !ok {
		return Event{}
	}
	t.payloads++

	ev := Event{
		Kind:    EventPayload,
		Payload: p,
		Quality: t.modem.Stats().LastQuality,
	}
	if msg, ok := t.reassembler.Push(p, t.modem.Measurements()); ok {
		ev.Kind = EventMessage
		ev.Message = msg
	}
	return ev
}

// Flush feeds silence until a packet held back for arbitration is released.
// Call it at the end of input; it returns an empty event when nothing was
// pending.
func (t *Transceiver) Flush() Event {
	limit := 2 * t.modem.WindowLen()
	for i := 0; t.modem.Pending() && i < limit; i++ {
		if ev := t.PushSample(0); ev.Kind != EventNone {
			return ev
		}
	}
	return Event{}
}

// Stats returns a snapshot of every counter
func (t *Transceiver) Stats() Stats {
	return Stats{
		Stats:            t.modem.Stats(),
		ReassemblerStats: t.reassembler.Stats(),
		PayloadsDecoded:  t.payloads,
	}
}
