package modem

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/skypro1111/acoustic-modem/internal/fec"
)

func randomPayload(rng *rand.Rand) Payload {
	var p Payload
	for i := range p {
		p[i] = Symbol(rng.Intn(SymbolCount))
	}
	return p
}

// render converts payloads into one continuous signal
func render(t *testing.T, tr *Transceiver, payloads []Payload) []float32 {
	t.Helper()
	var signal []float32
	for _, p := range payloads {
		freqs, err := tr.Send(p)
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		for _, f := range freqs {
			signal = append(signal, tr.GenerateBeep(f)...)
		}
	}
	return signal
}

func receive(tr *Transceiver, signal []float32) []Payload {
	var got []Payload
	for _, s := range signal {
		if p, ok := tr.PushSample(s); ok {
			got = append(got, p)
		}
	}
	return got
}

func TestNewTransceiver(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		wantErr    error
		windowLen  int
	}{
		{name: "cd quality", sampleRate: 44100, windowLen: 3846},
		{name: "48k", sampleRate: 48000, windowLen: 4186},
		{name: "minimum", sampleRate: MinSampleRate(), windowLen: int(math.Round(float64(MinSampleRate()) * BeepTime))},
		{name: "maximum", sampleRate: MaxSampleRate, windowLen: int(math.Round(MaxSampleRate * BeepTime))},
		{name: "too low", sampleRate: MinSampleRate() - 1, wantErr: ErrSampleRateTooLow},
		{name: "telephone", sampleRate: 8000, wantErr: ErrSampleRateTooLow},
		{name: "too high", sampleRate: MaxSampleRate + 1, wantErr: ErrSampleRateTooHigh},
		{name: "max int32", sampleRate: math.MaxInt32, wantErr: ErrSampleRateTooHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.sampleRate)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if tr.WindowLen() != tt.windowLen {
				t.Errorf("Expected window %d, got %d", tt.windowLen, tr.WindowLen())
			}
			if tr.SampleRate() != tt.sampleRate {
				t.Errorf("Expected sample rate %d, got %d", tt.sampleRate, tr.SampleRate())
			}
		})
	}
}

func TestMinSampleRate(t *testing.T) {
	want := int(math.Round(2 * 1760 * math.Pow(1.05946311, 31)))
	if got := MinSampleRate(); got != want {
		t.Errorf("Expected %d, got %d", want, got)
	}
}

func TestEncodePacketLayout(t *testing.T) {
	tr, err := New(44100)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	payload := Payload{0, 1, 2, 3, 4, 5, 6, 7, 8, 31}
	packet, err := tr.Encode(payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if packet[0] != 17 || packet[1] != 19 {
		t.Errorf("Expected sync 17 19, got %d %d", packet[0], packet[1])
	}
	for i, s := range payload {
		if packet[SyncLen+i] != s {
			t.Errorf("Payload symbol %d: expected %d, got %d", i, s, packet[SyncLen+i])
		}
	}

	freqs, err := tr.Send(payload)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	for i, f := range freqs {
		if f != Frequency(packet[i]) {
			t.Errorf("Frequency %d: expected %f, got %f", i, Frequency(packet[i]), f)
		}
		if f < BaseFrequency || f > Frequency(SymbolCount-1) {
			t.Errorf("Frequency %d out of band: %f", i, f)
		}
	}
}

func TestSendSymbolOutOfRange(t *testing.T) {
	tr, _ := New(44100)

	payload := Payload{0, 0, 0, 32}
	if _, err := tr.Send(payload); !errors.Is(err, ErrSymbolOutOfRange) {
		t.Errorf("Expected ErrSymbolOutOfRange, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	tr, err := New(44100)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	payloads := make([]Payload, 5)
	for i := range payloads {
		payloads[i] = randomPayload(rng)
	}

	signal := render(t, tr, payloads)
	signal = append(signal, make([]float32, 2*tr.WindowLen())...)

	got := receive(tr, signal)
	if len(got) != len(payloads) {
		t.Fatalf("Expected %d payloads, got %d: %v", len(payloads), len(got), got)
	}
	for i := range payloads {
		if got[i] != payloads[i] {
			t.Errorf("Payload %d: expected %s, got %s", i, payloads[i], got[i])
		}
	}

	stats := tr.Stats()
	if stats.PacketsEmitted != uint64(len(payloads)) {
		t.Errorf("Expected %d packets emitted, got %d", len(payloads), stats.PacketsEmitted)
	}
	if stats.LastQuality.Unmodified != PacketLen {
		t.Errorf("Expected clean packet quality, got %+v", stats.LastQuality)
	}
	if stats.Samples != uint64(len(signal)) {
		t.Errorf("Expected %d samples, got %d", len(signal), stats.Samples)
	}
}

func TestRoundTripPhaseOffset(t *testing.T) {
	rng := rand.New(rand.NewSource(2))

	for _, offset := range []int{1, 37, 191, 2000} {
		tr, _ := New(48000)
		payload := randomPayload(rng)

		signal := make([]float32, offset)
		signal = append(signal, render(t, tr, []Payload{payload})...)
		signal = append(signal, make([]float32, 2*tr.WindowLen())...)

		got := receive(tr, signal)
		if len(got) != 1 || got[0] != payload {
			t.Errorf("offset %d: expected [%s], got %v", offset, payload, got)
		}
	}
}

func TestRoundTripWithNoise(t *testing.T) {
	tr, _ := New(44100)
	rng := rand.New(rand.NewSource(3))
	payload := randomPayload(rng)

	signal := render(t, tr, []Payload{payload})
	for i := range signal {
		signal[i] = signal[i]*0.5 + float32(rng.NormFloat64()*0.05)
	}
	signal = append(signal, make([]float32, 2*tr.WindowLen())...)

	got := receive(tr, signal)
	if len(got) != 1 || got[0] != payload {
		t.Errorf("Expected [%s], got %v", payload, got)
	}
}

func TestSilenceNeverDecodes(t *testing.T) {
	tr, _ := New(44100)

	got := receive(tr, make([]float32, 5*44100))
	if len(got) != 0 {
		t.Errorf("Expected no payloads from silence, got %v", got)
	}
	if tr.Measurements() == 0 {
		t.Error("Expected measurements to be taken")
	}
	if tr.Stats().LastSNR != 0 {
		t.Errorf("Expected zero SNR for silence, got %f", tr.Stats().LastSNR)
	}
}

func TestMeasurementCadence(t *testing.T) {
	tr, _ := New(44100)
	perMeasurement := 44100 * BeepTime / MeasurementsPerSymbol

	n := 100000
	receive(tr, make([]float32, n))

	want := uint64(math.Floor(float64(n) / perMeasurement))
	got := tr.Measurements()
	if got < want-1 || got > want+1 {
		t.Errorf("Expected about %d measurements, got %d", want, got)
	}
}

func TestDetectorPicksTone(t *testing.T) {
	const sampleRate = 44100
	windowLen := int(math.Round(sampleRate * BeepTime))
	bank := newDetectorBank(sampleRate, windowLen)

	for s := Symbol(0); s < SymbolCount; s++ {
		beep := GenerateBeep(Frequency(s), sampleRate)
		m := bank.measure(beep[:windowLen], 0)
		if m.Symbol != s {
			t.Errorf("Expected symbol %d, detected %d", s, m.Symbol)
		}
		if m.SNR() <= 1 {
			t.Errorf("Symbol %d: expected SNR above 1, got %f", s, m.SNR())
		}
	}
}

func TestDetectorSilence(t *testing.T) {
	const sampleRate = 44100
	windowLen := int(math.Round(sampleRate * BeepTime))
	bank := newDetectorBank(sampleRate, windowLen)

	m := bank.measure(make([]float32, windowLen), 17)
	if m.Symbol != 0 || m.Magnitude != 0 || m.RunnerUp != 0 {
		t.Errorf("Expected an all-zero measurement on silence, got %+v", m)
	}
	if m.SNR() != 0 {
		t.Errorf("Expected SNR 0 on silence, got %f", m.SNR())
	}
}

func TestMeasurementSNR(t *testing.T) {
	tests := []struct {
		name string
		m    Measurement
		want float64
	}{
		{"silence", Measurement{}, 0},
		{"lone tone", Measurement{Magnitude: 5}, math.Inf(1)},
		{"ratio", Measurement{Magnitude: 6, RunnerUp: 2}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.SNR(); got != tt.want {
				t.Errorf("Expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestGenerateBeepEnvelope(t *testing.T) {
	beep := GenerateBeep(2000, 44100)
	if len(beep) != 3846 {
		t.Fatalf("Expected 3846 samples, got %d", len(beep))
	}
	if beep[0] != 0 {
		t.Errorf("Expected silent first sample, got %f", beep[0])
	}
	for i, v := range beep {
		if v > 1 || v < -1 {
			t.Fatalf("Sample %d out of range: %f", i, v)
		}
	}
	if math.Abs(float64(beep[len(beep)-1])) > 0.01 {
		t.Errorf("Expected faded last sample, got %f", beep[len(beep)-1])
	}
}

func TestPayloadMnemonics(t *testing.T) {
	p := Payload{0, 9, 10, 31, 17, 19, 1, 2, 3, 4}
	text := p.String()
	if text != "09avhj1234" {
		t.Errorf("Expected 09avhj1234, got %s", text)
	}

	parsed, err := ParsePayload(" 09AVHJ1234 ")
	if err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if parsed != p {
		t.Errorf("Expected %v, got %v", p, parsed)
	}

	if _, err := ParsePayload("09avhj123w"); !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("Expected ErrInvalidMnemonic, got %v", err)
	}
	if _, err := ParsePayload("short"); err == nil {
		t.Error("Expected error for short payload")
	}
	if got := Symbol(40).String(); got != "Symbol(40)" {
		t.Errorf("Expected Symbol(40), got %s", got)
	}
}

// feedPacket pushes each packet symbol MeasurementsPerSymbol times.
// mutate may alter the symbol or SNR of an individual measurement.
func feedPacket(s *Synchronizer, packet [PacketLen]Symbol, mutate func(push int, sym Symbol) (Symbol, float64)) []Decoded {
	var out []Decoded
	push := 0
	for _, sym := range packet {
		for j := 0; j < MeasurementsPerSymbol; j++ {
			sent, snr := sym, 1.0
			if mutate != nil {
				sent, snr = mutate(push, sym)
			}
			if d, ok := s.Push(sent, snr); ok {
				out = append(out, d)
			}
			push++
		}
	}
	return out
}

func testPacket(t *testing.T, payload Payload) [PacketLen]Symbol {
	t.Helper()
	tr, _ := New(44100)
	packet, err := tr.Encode(payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return packet
}

func TestSynchronizerArbitration(t *testing.T) {
	payload := Payload{3, 1, 4, 1, 5, 9, 2, 6, 5, 3}
	packet := testPacket(t, payload)
	codec, _ := fec.NewCodec(ECCLen)

	tests := []struct {
		name         string
		mutate       func(push int, sym Symbol) (Symbol, float64)
		wantQuality  Quality
		wantReplaced uint64
	}{
		{
			name:        "clean",
			wantQuality: Quality{Unmodified: PacketLen, SNRSum: PacketLen},
		},
		{
			name: "first phase corrupted",
			mutate: func(push int, sym Symbol) (Symbol, float64) {
				if push == 50 {
					return sym ^ 1, 1
				}
				return sym, 1
			},
			wantQuality:  Quality{Unmodified: PacketLen, SNRSum: PacketLen},
			wantReplaced: 1,
		},
		{
			name: "stronger later phase",
			mutate: func(push int, sym Symbol) (Symbol, float64) {
				if push%MeasurementsPerSymbol == 3 {
					return sym, 2
				}
				return sym, 1
			},
			wantQuality:  Quality{Unmodified: PacketLen, SNRSum: 2 * PacketLen},
			wantReplaced: 1,
		},
		{
			name: "all phases corrupted once",
			mutate: func(push int, sym Symbol) (Symbol, float64) {
				if push >= 70 && push < 80 {
					return sym ^ 4, 1
				}
				return sym, 1
			},
			wantQuality: Quality{Unmodified: PacketLen - 1, SNRSum: PacketLen},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSynchronizer(codec)
			got := feedPacket(s, packet, tt.mutate)
			if len(got) != 1 {
				t.Fatalf("Expected 1 packet, got %d", len(got))
			}
			if got[0].Payload != payload {
				t.Errorf("Expected %s, got %s", payload, got[0].Payload)
			}
			if got[0].Quality != tt.wantQuality {
				t.Errorf("Expected quality %+v, got %+v", tt.wantQuality, got[0].Quality)
			}
			if r := s.Stats().WinnersReplaced; r != tt.wantReplaced {
				t.Errorf("Expected %d replacements, got %d", tt.wantReplaced, r)
			}
			if s.Pending() {
				t.Error("Expected no pending winner after emission")
			}
		})
	}
}

func TestSynchronizerRejectsWrongSync(t *testing.T) {
	codec, _ := fec.NewCodec(ECCLen)

	data := []byte{1, 2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	codeword, err := codec.Encode(data)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var packet [PacketLen]Symbol
	for i, v := range codeword {
		packet[i] = Symbol(v)
	}

	s := NewSynchronizer(codec)
	if got := feedPacket(s, packet, nil); len(got) != 0 {
		t.Errorf("Expected no packets, got %v", got)
	}
	if s.Stats().SyncMismatches == 0 {
		t.Error("Expected sync mismatches to be counted")
	}
}

func TestSynchronizerReset(t *testing.T) {
	packet := testPacket(t, Payload{})
	codec, _ := fec.NewCodec(ECCLen)
	s := NewSynchronizer(codec)

	// Stop before the arbitration window closes
	for push := 0; push < RingSize-5; push++ {
		if _, ok := s.Push(packet[push/MeasurementsPerSymbol], 1); ok {
			t.Fatal("Expected no packet before the window closes")
		}
	}
	if !s.Pending() {
		t.Fatal("Expected a pending winner")
	}
	s.Reset()
	if s.Pending() {
		t.Fatal("Expected no pending winner after reset")
	}
	for i := 0; i < RingSize; i++ {
		if _, ok := s.Push(0, 0); ok {
			t.Fatal("Expected nothing emitted after reset")
		}
	}
}

func TestQualityBetter(t *testing.T) {
	tests := []struct {
		a, b Quality
		want bool
	}{
		{Quality{20, 1}, Quality{19, 100}, true},
		{Quality{19, 100}, Quality{20, 1}, false},
		{Quality{20, 5}, Quality{20, 4}, true},
		{Quality{20, 5}, Quality{20, 5}, false},
	}
	for _, tt := range tests {
		if got := tt.a.Better(tt.b); got != tt.want {
			t.Errorf("%+v.Better(%+v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestWrap(t *testing.T) {
	tests := []struct{ i, n, want int }{
		{0, 200, 0},
		{199, 200, 199},
		{200, 200, 0},
		{390, 200, 190},
		{-1, 200, 199},
	}
	for _, tt := range tests {
		if got := wrap(tt.i, tt.n); got != tt.want {
			t.Errorf("wrap(%d, %d) = %d, want %d", tt.i, tt.n, got, tt.want)
		}
	}
}
