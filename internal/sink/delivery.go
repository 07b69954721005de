package sink

import (
	"context"
	"math"
	"time"
	"unicode/utf8"

	"github.com/skypro1111/acoustic-modem/internal/message"
)

// Delivery kinds
const (
	KindPayload = "payload"
	KindMessage = "message"
)

// Delivery is one decoded payload or message on its way out
type Delivery struct {
	StreamID   uint32    `json:"stream_id"`
	Label      string    `json:"label,omitempty"`
	Kind       string    `json:"kind"`
	Payload    string    `json:"payload"`
	Message    []byte    `json:"message,omitempty"`
	Text       string    `json:"text,omitempty"`
	Unmodified int       `json:"unmodified"`
	SNRSum     float64   `json:"snr_sum"`
	DecodedAt  time.Time `json:"decoded_at"`
}

// Sink receives deliveries
type Sink interface {
	Name() string
	Deliver(ctx context.Context, d *Delivery) error
	Close() error
}

// NewDelivery converts a receiver event. It returns nil for EventNone.
func NewDelivery(streamID uint32, label string, ev message.Event, at time.Time) *Delivery {
	if ev.Kind == message.EventNone {
		return nil
	}

	d := &Delivery{
		StreamID:   streamID,
		Label:      label,
		Kind:       KindPayload,
		Payload:    ev.Payload.String(),
		Unmodified: ev.Quality.Unmodified,
		SNRSum:     Finite(ev.Quality.SNRSum),
		DecodedAt:  at,
	}
	if ev.Kind == message.EventMessage {
		d.Kind = KindMessage
		d.Message = append([]byte(nil), ev.Message...)
		if utf8.Valid(ev.Message) {
			d.Text = string(ev.Message)
		}
	}
	return d
}

// Finite clamps infinities to the largest float64 so values survive JSON
// encoding. NaN becomes zero.
func Finite(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case math.IsInf(x, 1):
		return math.MaxFloat64
	case math.IsInf(x, -1):
		return -math.MaxFloat64
	}
	return x
}

// content is the byte string duplicate suppression keys on
func (d *Delivery) content() []byte {
	if d.Kind == KindMessage {
		out := make([]byte, 0, len(d.Message)+1)
		out = append(out, 'm')
		return append(out, d.Message...)
	}
	return append([]byte{'p'}, d.Payload...)
}
