// Package audio handles PCM stream buffering and WAV/PCM format conversion.
// It reorders sequenced PCM16 frames, conceals lost frames with silence so the
// demodulator keeps its timing, and reads and writes WAV files.
package audio
