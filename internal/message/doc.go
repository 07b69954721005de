// Package message layers variable-length messages on top of modem payloads.
// It splits a message into marked, length-prefixed packets on the transmit
// side and reassembles them on the receive side, abandoning partial messages
// on padding violations or when the next packet arrives too late.
package message
