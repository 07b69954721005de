package message

import (
	"errors"
	"fmt"

	"github.com/skypro1111/acoustic-modem/internal/modem"
)

// MaxMessageLen is the longest message expressible by the length prefix
const MaxMessageLen = 255

// BitsPerPayload is the number of message bits a packet carries after its marker bit
const BitsPerPayload = modem.PayloadLen*modem.SymbolBits - 1

// ErrMessageTooLong is returned when a message does not fit the length prefix
var ErrMessageTooLong = errors.New("message: message too long")

// EncodeMessage splits msg into the payloads that carry it. The first payload
// is marked as the start of a message, every following one as a continuation.
func EncodeMessage(msg []byte) ([]modem.Payload, error) {
	if len(msg) > MaxMessageLen {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrMessageTooLong, len(msg), MaxMessageLen)
	}

	framed := make([]byte, 0, len(msg)+1)
	framed = append(framed, byte(len(msg)))
	framed = append(framed, msg...)

	totalBits := len(framed) * 8
	bits := make([]bool, 0, totalBits+totalBits/BitsPerPayload+1)
	for i, b := range framed {
		for j := 0; j < 8; j++ {
			if (i*8+j)%BitsPerPayload == 0 {
				bits = append(bits, i == 0)
			}
			bits = append(bits, b>>(7-j)&1 == 1)
		}
	}

	symbolsPerPacket := modem.PayloadLen * modem.SymbolBits
	payloads := make([]modem.Payload, 0, (len(bits)+symbolsPerPacket-1)/symbolsPerPacket)
	for start := 0; start < len(bits); start += symbolsPerPacket {
		var p modem.Payload
		for i := range p {
			var sym modem.Symbol
			for j := 0; j < modem.SymbolBits; j++ {
				idx := start + i*modem.SymbolBits + j
				if idx < len(bits) && bits[idx] {
					sym |= 1 << (modem.SymbolBits - 1 - j)
				}
			}
			p[i] = sym
		}
		payloads = append(payloads, p)
	}

	return payloads, nil
}

// payloadBits expands a payload into its bits, MSB first per symbol
func payloadBits(p modem.Payload, dst []bool) []bool {
	for _, sym := range p {
		for j := modem.SymbolBits - 1; j >= 0; j-- {
			dst = append(dst, sym>>j&1 == 1)
		}
	}
	return dst
}
