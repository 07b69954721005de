// Package server implements the UDP ingest server for TLV audio frames and
// the HTTP API. UDP frames are routed by type to the stream manager; the HTTP
// side exposes health, stream and archive views, a modulation endpoint that
// returns WAV audio, and Prometheus metrics.
package server
