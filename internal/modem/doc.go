// Package modem implements the acoustic transceiver: tone generation on the
// transmit side and, on the receive side, a Goertzel detector bank feeding a
// phase-agnostic packet synchronizer backed by a Reed-Solomon packet code.
//
// A Transceiver is not safe for concurrent use. Callers that share one
// between goroutines must serialize access.
package modem
