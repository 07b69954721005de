package carrier

import (
	"fmt"
	"math"
	"sync"
)

// Detector tracks signal presence over fixed, non-overlapping windows
type Detector struct {
	threshold  float32
	windowSize int
	smoothing  float32 // weight of the newest window

	// Current window accumulation
	energy float64
	filled int

	lastLevel float32
	present   bool

	// Statistics
	totalWindows   uint64
	carrierWindows uint64
	transitions    uint64

	mu sync.RWMutex
}

// Result represents the outcome of one completed window
type Result struct {
	Level       float32 `json:"level"`   // smoothed level (0.0 - 1.0)
	Present     bool    `json:"present"` // level at or above threshold
	Changed     bool    `json:"changed"` // presence differs from the previous window
	WindowIndex uint64  `json:"window_index"`
}

// Stats represents detector statistics
type Stats struct {
	TotalWindows      uint64  `json:"total_windows"`
	CarrierWindows    uint64  `json:"carrier_windows"`
	CarrierPercentage float64 `json:"carrier_percentage"`
	Transitions       uint64  `json:"transitions"`
	LastLevel         float32 `json:"last_level"`
	Present           bool    `json:"present"`
	Threshold         float32 `json:"threshold"`
}

// NewDetector creates a carrier detector
func NewDetector(threshold float32, windowSize int) (*Detector, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	return &Detector{
		threshold:  threshold,
		windowSize: windowSize,
		smoothing:  0.3,
	}, nil
}

// Write feeds samples in [-1, 1] and returns a result for every window they complete
func (d *Detector) Write(samples []float32) []Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	var results []Result
	for _, s := range samples {
		d.energy += float64(s) * float64(s)
		d.filled++
		if d.filled < d.windowSize {
			continue
		}
		results = append(results, d.finishWindow())
	}
	return results
}

func (d *Detector) finishWindow() Result {
	// A full-scale sine has RMS 1/√2; scale it to 1
	level := float32(math.Min(math.Sqrt(d.energy/float64(d.filled))*math.Sqrt2, 1))
	d.energy = 0
	d.filled = 0

	if d.totalWindows > 0 {
		level = d.smoothing*level + (1-d.smoothing)*d.lastLevel
	}
	d.lastLevel = level

	present := level >= d.threshold
	changed := present != d.present
	if changed {
		d.transitions++
	}
	d.present = present

	d.totalWindows++
	if present {
		d.carrierWindows++
	}

	return Result{
		Level:       level,
		Present:     present,
		Changed:     changed,
		WindowIndex: d.totalWindows - 1,
	}
}

// Present reports whether the last completed window carried a signal
func (d *Detector) Present() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.present
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	percentage := float64(0)
	if d.totalWindows > 0 {
		percentage = float64(d.carrierWindows) / float64(d.totalWindows) * 100
	}

	return Stats{
		TotalWindows:      d.totalWindows,
		CarrierWindows:    d.carrierWindows,
		CarrierPercentage: percentage,
		Transitions:       d.transitions,
		LastLevel:         d.lastLevel,
		Present:           d.present,
		Threshold:         d.threshold,
	}
}

// UpdateThreshold updates the presence threshold
func (d *Detector) UpdateThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.threshold = threshold
	return nil
}

// Reset clears state and statistics
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.energy = 0
	d.filled = 0
	d.lastLevel = 0
	d.present = false
	d.totalWindows = 0
	d.carrierWindows = 0
	d.transitions = 0
}
