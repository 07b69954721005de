package modem

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Measurement is the outcome of one pass of the detector bank
type Measurement struct {
	Symbol    Symbol
	Magnitude float64 // ranking score of the strongest filter
	RunnerUp  float64 // ranking score of the second strongest filter
}

// SNR is the ratio of the winning magnitude to the runner-up.
// A silent runner-up counts as maximal quality.
func (m Measurement) SNR() float64 {
	if m.RunnerUp == 0 {
		if m.Magnitude == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return m.Magnitude / m.RunnerUp
}

// detectorBank holds one Goertzel filter per symbol frequency over a
// Hamming-weighted window of fixed length.
type detectorBank struct {
	weights []float64
	coeffs  [SymbolCount]float64 // 2cos(ω) per symbol
}

func newDetectorBank(sampleRate, windowLen int) *detectorBank {
	bank := &detectorBank{
		weights: hammingWindow(windowLen),
	}
	for s := range bank.coeffs {
		omega := 2 * math.Pi * Frequency(Symbol(s)) / float64(sampleRate)
		bank.coeffs[s] = 2 * math.Cos(omega)
	}
	return bank
}

func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// measure runs every filter over ring, starting at its oldest sample.
// len(ring) must equal the window length.
func (d *detectorBank) measure(ring []float32, oldest int) Measurement {
	var prev, prev2 [SymbolCount]float64

	n := len(ring)
	for i, w := range d.weights {
		j := oldest + i
		if j >= n {
			j -= n
		}
		x := float64(ring[j]) * w
		for s := range prev {
			cur := d.coeffs[s]*prev[s] - prev2[s] + x
			prev2[s] = prev[s]
			prev[s] = cur
		}
	}

	var mags [SymbolCount]float64
	for s := range prev {
		// Relative power without the final trigonometric step
		mags[s] = max(prev[s]*prev[s]+prev2[s]*prev2[s]-prev[s]*prev2[s]*d.coeffs[s], 0)
	}

	// Ties go to the lower symbol
	best := floats.MaxIdx(mags[:])
	m := Measurement{Symbol: Symbol(best), Magnitude: mags[best]}
	mags[best] = math.Inf(-1)
	m.RunnerUp = floats.Max(mags[:])
	return m
}
