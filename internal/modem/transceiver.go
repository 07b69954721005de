package modem

import (
	"errors"
	"fmt"
	"math"

	"github.com/skypro1111/acoustic-modem/internal/fec"
)

// ErrSampleRateTooLow is returned when the highest tone cannot be represented
var ErrSampleRateTooLow = errors.New("modem: sample rate too low")

// ErrSampleRateTooHigh is returned above MaxSampleRate
var ErrSampleRateTooHigh = errors.New("modem: sample rate too high")

// Stats represents receiver counters for monitoring
type Stats struct {
	Samples      uint64  `json:"samples"`
	Measurements uint64  `json:"measurements"`
	LastSNR      float64 `json:"last_snr"`
	LastQuality  Quality `json:"last_quality"`
	SyncStats
}

// Transceiver converts payloads to tone frequencies and audio samples back
// to payloads.
type Transceiver struct {
	sampleRate int

	// Receive window ring buffer
	samples   []float32
	samplePos int

	// Measurement cadence
	samplesPerMeasurement float64
	remainingSamples      float64
	measurements          uint64
	totalSamples          uint64
	lastSNR               float64
	lastQuality           Quality

	bank  *detectorBank
	codec *fec.Codec
	sync  *Synchronizer
}

// New creates a transceiver for the given sample rate
func New(sampleRate int) (*Transceiver, error) {
	if err := ValidateSampleRate(sampleRate); err != nil {
		return nil, err
	}

	windowLen := int(math.Round(float64(sampleRate) * BeepTime))

	codec, err := fec.NewCodec(ECCLen)
	if err != nil {
		return nil, fmt.Errorf("failed to create packet codec: %w", err)
	}

	perMeasurement := float64(sampleRate) * BeepTime / MeasurementsPerSymbol

	return &Transceiver{
		sampleRate:            sampleRate,
		samples:               make([]float32, windowLen),
		samplesPerMeasurement: perMeasurement,
		remainingSamples:      perMeasurement,
		bank:                  newDetectorBank(sampleRate, windowLen),
		codec:                 codec,
		sync:                  NewSynchronizer(codec),
	}, nil
}

// SampleRate returns the configured sample rate in Hz
func (t *Transceiver) SampleRate() int {
	return t.sampleRate
}

// WindowLen returns the detector window length in samples
func (t *Transceiver) WindowLen() int {
	return len(t.samples)
}

// Measurements returns the number of detector passes so far
func (t *Transceiver) Measurements() uint64 {
	return t.measurements
}

// Encode returns the full packet symbols for payload
func (t *Transceiver) Encode(payload Payload) ([PacketLen]Symbol, error) {
	var packet [PacketLen]Symbol
	if err := payload.Validate(); err != nil {
		return packet, err
	}

	data := make([]byte, 0, SyncLen+PayloadLen)
	for _, s := range SyncSymbols {
		data = append(data, byte(s))
	}
	for _, s := range payload {
		data = append(data, byte(s))
	}

	codeword, err := t.codec.Encode(data)
	if err != nil {
		return packet, fmt.Errorf("failed to encode packet: %w", err)
	}
	for i, v := range codeword {
		packet[i] = Symbol(v)
	}
	return packet, nil
}

// Send returns the beep frequencies for the packet containing payload.
// Each beep should be rendered with GenerateBeep.
func (t *Transceiver) Send(payload Payload) ([PacketLen]float64, error) {
	var frequencies [PacketLen]float64
	packet, err := t.Encode(payload)
	if err != nil {
		return frequencies, err
	}
	for i, s := range packet {
		frequencies[i] = Frequency(s)
	}
	return frequencies, nil
}

// GenerateBeep renders one tone at the transceiver's sample rate
func (t *Transceiver) GenerateBeep(frequency float64) []float32 {
	return GenerateBeep(frequency, t.sampleRate)
}

// Pending reports whether a decoded packet waits for more measurements
// before it is released.
func (t *Transceiver) Pending() bool {
	return t.sync.Pending()
}

// PushSample commits one audio sample to the receiver. It returns a payload
// on the call that closes an arbitration window.
func (t *Transceiver) PushSample(sample float32) (Payload, bool) {
	t.samples[t.samplePos] = sample
	t.samplePos++
	if t.samplePos == len(t.samples) {
		t.samplePos = 0
	}
	t.totalSamples++

	t.remainingSamples--
	if t.remainingSamples > 0 {
		return Payload{}, false
	}
	t.remainingSamples += t.samplesPerMeasurement
	t.measurements++

	m := t.bank.measure(t.samples, t.samplePos)
	t.lastSNR = m.SNR()

	decoded, ok := t.sync.Push(m.Symbol, t.lastSNR)
	if !ok {
		return Payload{}, false
	}
	t.lastQuality = decoded.Quality
	return decoded.Payload, true
}

// Stats returns a snapshot of the receiver counters
func (t *Transceiver) Stats() Stats {
	return Stats{
		Samples:      t.totalSamples,
		Measurements: t.measurements,
		LastSNR:      t.lastSNR,
		LastQuality:  t.lastQuality,
		SyncStats:    t.sync.Stats(),
	}
}
