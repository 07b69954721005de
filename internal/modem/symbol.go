package modem

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrSymbolOutOfRange is returned when a symbol is not below SymbolCount
	ErrSymbolOutOfRange = errors.New("modem: symbol out of range")
	// ErrInvalidMnemonic is returned when parsing an unknown symbol character
	ErrInvalidMnemonic = errors.New("modem: invalid symbol mnemonic")
)

// Symbol is one transmissible 5-bit value
type Symbol uint8

// Valid reports whether s fits the alphabet
func (s Symbol) Valid() bool {
	return int(s) < SymbolCount
}

// Frequency returns the tone frequency for s in Hz
func (s Symbol) Frequency() float64 {
	return Frequency(s)
}

// String returns the single-character mnemonic, or a number for invalid symbols
func (s Symbol) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Symbol(%d)", uint8(s))
	}
	return SymbolMnemonics[s : s+1]
}

// Frequency maps a symbol to its tone using semitone spacing above BaseFrequency
func Frequency(s Symbol) float64 {
	return BaseFrequency * math.Pow(Semitone, float64(s))
}

// MinSampleRate is the lowest sample rate that can represent the highest tone
func MinSampleRate() int {
	return int(math.Round(Frequency(SymbolCount-1) * 2))
}

// MaxSampleRate bounds the detector window and weight tables
const MaxSampleRate = 192000

// ValidateSampleRate checks that sampleRate lies within
// [MinSampleRate(), MaxSampleRate].
func ValidateSampleRate(sampleRate int) error {
	if minRate := MinSampleRate(); sampleRate < minRate {
		return fmt.Errorf("%w: must be at least %d but is %d", ErrSampleRateTooLow, minRate, sampleRate)
	}
	if sampleRate > MaxSampleRate {
		return fmt.Errorf("%w: must be at most %d but is %d", ErrSampleRateTooHigh, MaxSampleRate, sampleRate)
	}
	return nil
}

// Payload is the application content of one packet
type Payload [PayloadLen]Symbol

// Validate checks every symbol of the payload
func (p Payload) Validate() error {
	for i, s := range p {
		if !s.Valid() {
			return fmt.Errorf("%w: must be smaller than %d but is %d (index %d)",
				ErrSymbolOutOfRange, SymbolCount, uint8(s), i)
		}
	}
	return nil
}

// String renders the payload as mnemonics
func (p Payload) String() string {
	var b strings.Builder
	b.Grow(PayloadLen)
	for _, s := range p {
		b.WriteString(s.String())
	}
	return b.String()
}

// ParsePayload reads exactly PayloadLen mnemonics
func ParsePayload(text string) (Payload, error) {
	var p Payload
	text = strings.ToLower(strings.TrimSpace(text))
	if len(text) != PayloadLen {
		return p, fmt.Errorf("payload must have %d symbols, got %d", PayloadLen, len(text))
	}
	for i := 0; i < len(text); i++ {
		idx := strings.IndexByte(SymbolMnemonics, text[i])
		if idx < 0 {
			return p, fmt.Errorf("%w: %q at index %d", ErrInvalidMnemonic, text[i], i)
		}
		p[i] = Symbol(idx)
	}
	return p, nil
}

// GenerateBeep renders BeepTime seconds of a tone at frequency with a
// trapezoidal attack/release envelope.
func GenerateBeep(frequency float64, sampleRate int) []float32 {
	n := int(math.Round(BeepTime * float64(sampleRate)))
	samples := make([]float32, n)
	for i := range samples {
		t := BeepTime / float64(n) * float64(i)
		envelope := math.Min(t/AttackTime, 1) * math.Min((BeepTime-t)/ReleaseTime, 1)
		samples[i] = float32(math.Sin(2*math.Pi*frequency*t) * envelope)
	}
	return samples
}
