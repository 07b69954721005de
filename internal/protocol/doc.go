// Package protocol implements the TLV framing used to stream audio into the
// modem service over UDP: an 8-byte header followed by a start, audio or end
// payload. It parses and validates incoming frames and builds outgoing ones.
package protocol
