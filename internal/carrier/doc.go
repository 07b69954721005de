// Package carrier reports whether a stream currently carries a signal.
// It measures windowed RMS energy with exponential smoothing against a
// threshold; it observes the audio and never alters what the demodulator sees.
package carrier
